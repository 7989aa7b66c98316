package config

import (
	"time"

	"github.com/spf13/viper"
)

type Config struct {
	Running struct {
		Port int `mapstructure:"port"`
	} `mapstructure:"running"`
	Redis struct {
		Addr         string        `mapstructure:"addr"`
		Password     string        `mapstructure:"password"`
		DialTimeout  time.Duration `mapstructure:"dialTimeout"`
		ReadTimeout  time.Duration `mapstructure:"readTimeout"`
		WriteTimeout time.Duration `mapstructure:"writeTimeout"`
	} `mapstructure:"redis"`
	Mysql struct {
		DSN string `mapstructure:"dsn"`
	} `mapstructure:"mysql"`
	Kafka struct {
		Brokers []string `mapstructure:"brokers"`
		Topic   string   `mapstructure:"topic"`
		Group   string   `mapstructure:"group"`
	} `mapstructure:"kafka"`
	Cors struct {
		AllowedOrigins []string `mapstructure:"allowedOrigins"`
	} `mapstructure:"cors"`
	Generation struct {
		SpaceURL     string `mapstructure:"spaceUrl"`
		UploadURL    string `mapstructure:"uploadUrl"`
		UploadPreset string `mapstructure:"uploadPreset"`
		// 副本是否参与消费生成订单（可以只让部分副本当厨房）
		RunWorker bool `mapstructure:"runWorker"`
	} `mapstructure:"generation"`
	Presence struct {
		// 后端不可达时按在线投递（attempt_delivery），默认按离线跳过
		AttemptDeliveryOnError bool `mapstructure:"attemptDeliveryOnError"`
	} `mapstructure:"presence"`
}

// Load 读取 StudioConfig.yaml，兼容从项目根目录或 backend 目录启动。
func Load() (*Config, error) {
	cfg := &Config{}
	v := viper.New()
	v.SetConfigName("StudioConfig")
	v.SetConfigType("yaml")
	v.AddConfigPath("./backend/config")
	v.AddConfigPath("./config")
	v.AddConfigPath(".")
	if err := v.ReadInConfig(); err != nil {
		return nil, err
	}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}
