package relay

import (
	"encoding/json"
	"fmt"
)

// SyncEventsChannel 是所有进程共享的唯一事件频道。
// 频道名是独立于键前缀的命名空间：名字里直接带上应用名做隔离，
// 不经过 cache 包的键前缀函数。
const SyncEventsChannel = "criaii:sync_events"

// 已知的事件类型。枚举是开放的：消费端对未知 event_type 原样透传，
// 新增事件类型因此是向后兼容的。
const (
	EventMusicProgress   = "music_progress"
	EventMusicCompleted  = "music_completed"
	EventMusicError      = "music_error"
	EventNewNotification = "new_notification"
	EventDataChanged     = "data_changed"
)

// Envelope 是事件在共享频道上的线上格式。
// 它只活在 publish 和投递（或丢弃）之间，本层从不持久化它；
// 错过投递由持久化的通知记录兜底。
type Envelope struct {
	EventType string          `json:"event_type"`
	UserID    string          `json:"user_id"`
	Payload   json.RawMessage `json:"payload"`
}

// ProgressPayload 对应 music_progress。
type ProgressPayload struct {
	ProcessID     string `json:"process_id"`
	Step          string `json:"step"`
	Progress      int    `json:"progress"`
	Message       string `json:"message"`
	EstimatedTime int    `json:"estimated_time,omitempty"` // 秒
}

// CompletionPayload 对应 music_completed。
type CompletionPayload struct {
	ProcessID string `json:"process_id"`
	MusicName string `json:"music_name"`
	MusicURL  string `json:"music_url"`
}

// ErrorPayload 对应 music_error。
type ErrorPayload struct {
	ProcessID string `json:"process_id"`
	Error     string `json:"error"`
}

// NotificationPayload 对应 new_notification：把整条持久化通知推给前端。
type NotificationPayload struct {
	ID        uint64 `json:"id"`
	Title     string `json:"title"`
	Message   string `json:"message"`
	Type      string `json:"type"`
	Read      bool   `json:"read"`
	CreatedAt int64  `json:"created_at"`
}

// DataChangedPayload 对应 data_changed：提示前端某类列表需要刷新。
type DataChangedPayload struct {
	Resource string `json:"resource"`
}

// DecodePayload 按 event_type 把 payload 解成具体类型。
// 未知类型返回原始的 json.RawMessage ——“unknown”兜底分支，
// 投递链路对任意字符串类型的事件都照常转发。
func DecodePayload(env Envelope) (interface{}, error) {
	var target interface{}
	switch env.EventType {
	case EventMusicProgress:
		target = &ProgressPayload{}
	case EventMusicCompleted:
		target = &CompletionPayload{}
	case EventMusicError:
		target = &ErrorPayload{}
	case EventNewNotification:
		target = &NotificationPayload{}
	case EventDataChanged:
		target = &DataChangedPayload{}
	default:
		return env.Payload, nil
	}
	if err := json.Unmarshal(env.Payload, target); err != nil {
		return nil, fmt.Errorf("decode %s payload: %w", env.EventType, err)
	}
	return target, nil
}
