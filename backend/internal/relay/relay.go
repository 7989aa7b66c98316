package relay

import (
	"context"
	"encoding/json"
	"log"

	"github.com/lucasmd12/Criaii/backend/internal/cache"
)

// Deliverer 是本进程内持有活跃连接的那一方（ws.Registry 实现它）。
// 返回 false 表示本进程没有这个用户的连接 —— 断连竞态下这是正常的未命中，
// 不是错误：别的进程可能持有连接，或者用户刚好下线。
type Deliverer interface {
	Deliver(userID, eventType string, payload json.RawMessage) bool
}

// Relay 把领域事件从任意生产者（写接口、后台任务）送到持有目标用户
// 连接的那个进程。publish 和 consume 是分开的：生产者不需要知道哪个
// 进程（如果有）持有目标 socket，presence 才是路由键，而不是进程身份。
type Relay struct {
	ch        cache.Channel
	presence  cache.PresenceTracker
	deliverer Deliverer
}

func NewRelay(ch cache.Channel, presence cache.PresenceTracker, deliverer Deliverer) *Relay {
	return &Relay{ch: ch, presence: presence, deliverer: deliverer}
}

// Publish 发布一个领域事件。fire-and-forget：把消息交给频道就返回，
// 不等任何订阅方行动。发布失败只记日志不上抛 —— 事件是对事实的通知，
// 不是事实本身，触发它的那次写操作照样成功。
func (r *Relay) Publish(ctx context.Context, eventType, userID string, payload interface{}) {
	raw, err := json.Marshal(payload)
	if err != nil {
		log.Printf("relay publish: marshal payload failed (type=%s user=%s): %v", eventType, userID, err)
		return
	}
	env := Envelope{EventType: eventType, UserID: userID, Payload: raw}
	data, err := json.Marshal(env)
	if err != nil {
		log.Printf("relay publish: marshal envelope failed (type=%s user=%s): %v", eventType, userID, err)
		return
	}
	if err := r.ch.Publish(ctx, SyncEventsChannel, string(data)); err != nil {
		log.Printf("relay publish: channel unavailable, event dropped (type=%s user=%s): %v", eventType, userID, err)
	}
}

// Listen 是每个服务进程唯一的中继循环：进程启动时订阅共享频道，
// 对每条消息查 presence，在线就交给本进程的 Deliverer 投递。
// 单条消息内的任何错误都被就地吸收 —— 一条坏消息绝不能终止整个循环。
// 只有 ctx 取消或订阅流关闭才会返回。
func (r *Relay) Listen(ctx context.Context) error {
	sub, err := r.ch.Subscribe(ctx, SyncEventsChannel)
	if err != nil {
		return err
	}
	defer sub.Close()
	log.Printf("relay listening on channel %s", SyncEventsChannel)

	for {
		select {
		case <-ctx.Done():
			return nil
		case msg, ok := <-sub.Messages():
			if !ok {
				return nil
			}
			r.handleMessage(ctx, msg)
		}
	}
}

func (r *Relay) handleMessage(ctx context.Context, msg string) {
	var env Envelope
	if err := json.Unmarshal([]byte(msg), &env); err != nil {
		log.Printf("relay: malformed envelope dropped: %v", err)
		return
	}
	if env.UserID == "" {
		log.Printf("relay: envelope without user_id dropped (type=%s)", env.EventType)
		return
	}
	// 已知类型的 payload 先按具体形状校验，坏 payload 和坏信封同等对待；
	// 未知类型原样放行（见 DecodePayload 的兜底分支）。
	if _, err := DecodePayload(env); err != nil {
		log.Printf("relay: malformed payload dropped (type=%s user=%s): %v", env.EventType, env.UserID, err)
		return
	}

	online, err := r.presence.IsOnline(ctx, env.UserID)
	if err != nil {
		// 后端不可达时 IsOnline 已按策略降级，这里只记录
		log.Printf("relay: presence check degraded (user=%s): %v", env.UserID, err)
	}
	if !online {
		return
	}

	// 只有真正持有该用户连接的进程会投递成功，其余进程静默 no-op。
	// presence 查完之后用户也可能刚好断开，所以 false 只是无害的未命中。
	r.deliverer.Deliver(env.UserID, env.EventType, env.Payload)
}
