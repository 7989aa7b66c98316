package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/IBM/sarama"
	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
	"gorm.io/driver/mysql"
	"gorm.io/gorm"

	"github.com/lucasmd12/Criaii/backend/config"
	"github.com/lucasmd12/Criaii/backend/internal/cache"
	"github.com/lucasmd12/Criaii/backend/internal/generation"
	"github.com/lucasmd12/Criaii/backend/internal/httpapi/handlers"
	"github.com/lucasmd12/Criaii/backend/internal/httpapi/middleware"
	"github.com/lucasmd12/Criaii/backend/internal/relay"
	"github.com/lucasmd12/Criaii/backend/internal/store"
	"github.com/lucasmd12/Criaii/backend/internal/ws"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("init config failed: %v", err)
	}
	// 配置里有 DSN 和密码，日志只报非敏感项
	log.Printf("config loaded: port=%d redis=%s kafka=%v topic=%s runWorker=%v",
		cfg.Running.Port, cfg.Redis.Addr, cfg.Kafka.Brokers, cfg.Kafka.Topic, cfg.Generation.RunWorker)

	rootCtx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// === MySQL ===
	db, err := gorm.Open(mysql.Open(cfg.Mysql.DSN), &gorm.Config{TranslateError: true})
	if err != nil {
		log.Fatalf("Failed to connect to database: %v", err)
	}
	if err := db.AutoMigrate(&store.User{}, &store.Music{}, &store.Notification{}, &store.ProcessHistory{}); err != nil {
		log.Fatalf("auto migrate failed: %v", err)
	}

	// === Redis ===
	rdb := redis.NewClient(&redis.Options{
		Addr:         cfg.Redis.Addr,
		Password:     cfg.Redis.Password,
		DialTimeout:  cfg.Redis.DialTimeout,
		ReadTimeout:  cfg.Redis.ReadTimeout,
		WriteTimeout: cfg.Redis.WriteTimeout,
	})
	pingCtx, cancelPing := context.WithTimeout(rootCtx, 5*time.Second)
	if err := rdb.Ping(pingCtx).Err(); err != nil {
		cancelPing()
		log.Fatalf("Failed to connect to redis: %v", err)
	}
	cancelPing()
	defer rdb.Close()

	// === Kafka Producer ===
	kafkaCfg := sarama.NewConfig()
	// SyncProducer 必须开启 Return.Successes
	kafkaCfg.Producer.Return.Successes = true
	kafkaCfg.Producer.RequiredAcks = sarama.WaitForLocal
	producer, err := sarama.NewSyncProducer(cfg.Kafka.Brokers, kafkaCfg)
	if err != nil {
		log.Fatalf("Failed to connect kafka: %v", err)
	}
	defer producer.Close()

	// === 实时核心 ===
	channel := cache.NewRedisChannel(rdb)
	policy := cache.AssumeOffline
	if cfg.Presence.AttemptDeliveryOnError {
		policy = cache.AttemptDelivery
	}
	presence := cache.NewPresenceTracker(channel, policy)
	readCache := cache.NewReadThroughCache(channel)
	registry := ws.NewRegistry(presence)
	eventRelay := relay.NewRelay(channel, presence, registry)

	// === 存储与生成 ===
	users := store.NewUserStore(db)
	musics := store.NewMusicStore(db)
	notifications := store.NewNotificationStore(db)

	kafkaSem := generation.NewSemaphoreControl(100)
	spaceSem := generation.NewSemaphoreControl(4)
	dispatcher := generation.NewDispatcher(producer, cfg.Kafka.Topic, kafkaSem, generation.DispatcherOptions{
		QueueSize:   10_000,
		Workers:     4,
		MaxRetry:    3,
		BaseBackoff: 50 * time.Millisecond,
		MaxBackoff:  1 * time.Second,
	})

	space := generation.NewSpaceClient(cfg.Generation.SpaceURL, spaceSem)
	uploader := generation.NewHTTPUploader(cfg.Generation.UploadURL, cfg.Generation.UploadPreset)
	pipeline := generation.NewPipeline(eventRelay, musics, notifications, readCache, space, uploader)

	// === 后台循环 ===
	loopCtx, cancelLoops := context.WithCancel(context.Background())

	go func() {
		if err := eventRelay.Listen(loopCtx); err != nil {
			log.Printf("relay listen stopped: %v", err)
		}
	}()

	var worker *generation.Worker
	if cfg.Generation.RunWorker {
		worker, err = generation.NewWorker(cfg.Kafka.Brokers, cfg.Kafka.Group, cfg.Kafka.Topic, pipeline)
		if err != nil {
			log.Fatalf("Failed to start generation worker: %v", err)
		}
		go func() {
			if err := worker.Run(loopCtx); err != nil {
				log.Printf("generation worker stopped: %v", err)
			}
		}()
		go generation.NewKeepAlive(space, channel).Run(loopCtx)
	}

	// === HTTP ===
	userHandler := handlers.NewUserHandler(users, readCache)
	musicHandler := handlers.NewMusicHandler(musics, readCache, eventRelay, dispatcher, uploader)
	notificationHandler := handlers.NewNotificationHandler(notifications, eventRelay)
	wsManager := ws.NewManager(registry, cfg.Cors.AllowedOrigins)

	r := gin.New()
	r.Use(gin.Logger())
	r.Use(gin.Recovery())
	r.Use(cors.New(cors.Config{
		AllowOrigins:     cfg.Cors.AllowedOrigins,
		AllowMethods:     []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowHeaders:     []string{"Origin", "Content-Type", "Authorization"},
		AllowCredentials: true,
	}))

	r.GET("/healthz", func(c *gin.Context) {
		c.JSON(200, gin.H{"message": "ok"})
	})

	api := r.Group("/api")
	api.POST("/register", userHandler.Register)
	api.POST("/login", userHandler.Login)

	authed := api.Group("")
	authed.Use(middleware.AuthMiddleware())
	authed.GET("/profile", userHandler.Profile)
	authed.POST("/music/generate", musicHandler.Generate)
	authed.GET("/music/musics", musicHandler.List)
	authed.DELETE("/music/musics/:id", musicHandler.Delete)
	authed.GET("/notifications", notificationHandler.List)
	authed.POST("/notifications/read", notificationHandler.MarkRead)
	authed.GET("/notifications/history", notificationHandler.History)

	// WebSocket 握手（token 走 ?token= 查询参数）
	wsGroup := r.Group("/ws")
	wsGroup.Use(middleware.AuthMiddleware())
	wsGroup.GET("", wsManager.Connect)

	srv := &http.Server{
		Addr:    fmt.Sprintf(":%d", cfg.Running.Port),
		Handler: r,
	}

	go func() {
		log.Printf("studio server listening on :%d", cfg.Running.Port)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatalf("http server failed: %v", err)
		}
	}()

	<-rootCtx.Done()
	log.Printf("shutting down")

	// 关停顺序：先停 HTTP 入口，再停中继/消费循环，最后断外部连接
	shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancelShutdown()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Printf("http shutdown: %v", err)
	}

	cancelLoops()
	if worker != nil {
		if err := worker.Close(); err != nil {
			log.Printf("worker close: %v", err)
		}
	}
	log.Printf("bye")
}
