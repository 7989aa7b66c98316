package cache

import "time"

// TTL 档位（秒数沿用线上值）。列表比用户资料变化频繁，
// 所以 TTL 更短：即使某条写路径漏掉了 invalidate，最坏的陈旧窗口也更小。
const (
	TTLShort  = 5 * time.Minute
	TTLMedium = 30 * time.Minute // list:{id}
	TTLLong   = time.Hour        // user:{id}
)

// EntityTTL 返回某个实体类型的缓存 TTL。未知类型给最短档，宁可多回源。
func EntityTTL(entityType string) time.Duration {
	switch entityType {
	case "user":
		return TTLLong
	case "list":
		return TTLMedium
	default:
		return TTLShort
	}
}

// PresencePolicy 决定后端不可达时 IsOnline 的回答。
// 这是一个显式的、可测试的配置项，不是漏判出来的偶然行为。
type PresencePolicy int

const (
	// AssumeOffline：查不到就当离线，跳过投递，靠持久化的通知日志兜底。
	// 漏一条实时提示可以恢复，中继循环崩掉不能恢复，所以这是默认值。
	AssumeOffline PresencePolicy = iota
	// AttemptDelivery：查不到也尝试投递，让发送本身去失败。
	AttemptDelivery
)
