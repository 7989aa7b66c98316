package cache

import "context"

// PresenceTracker 跟踪哪些用户当前持有活跃连接。
// 采用“每用户连接集合”模型：一个用户可以开多个标签页/设备，
// 只有最后一个连接断开时才算离线。只用一个 online/offline 布尔位的话，
// 关掉一个标签页就会把整个用户误判为离线。
type PresenceTracker interface {
	SetOnline(ctx context.Context, userID string) error
	SetOffline(ctx context.Context, userID string) error
	// IsOnline 在后端不可达时按 PresencePolicy 回答，并把传输错误一并返回，
	// 由调用方决定是否记日志。
	IsOnline(ctx context.Context, userID string) (bool, error)

	AddConnection(ctx context.Context, userID, connID string) error
	// RemoveConnection 返回该用户剩余的连接数。对从未上线过的用户调用是 no-op。
	RemoveConnection(ctx context.Context, userID, connID string) (int, error)
	ConnectionsFor(ctx context.Context, userID string) ([]string, error)
}

type channelPresence struct {
	ch     Channel
	policy PresencePolicy
}

var _ PresenceTracker = (*channelPresence)(nil)

func NewPresenceTracker(ch Channel, policy PresencePolicy) PresenceTracker {
	return &channelPresence{ch: ch, policy: policy}
}

func (p *channelPresence) SetOnline(ctx context.Context, userID string) error {
	_, err := p.ch.AddToSet(ctx, keyOnlineUsers, userID)
	return err
}

// SetOffline 幂等：重复调用、或对从未上线的用户调用都不是错误。
// 网络抖动下重复的断连事件是常态。
func (p *channelPresence) SetOffline(ctx context.Context, userID string) error {
	if _, err := p.ch.RemoveFromSet(ctx, keyOnlineUsers, userID); err != nil {
		return err
	}
	_, err := p.ch.Delete(ctx, userConnsKey(userID))
	return err
}

func (p *channelPresence) IsOnline(ctx context.Context, userID string) (bool, error) {
	online, err := p.ch.IsMember(ctx, keyOnlineUsers, userID)
	if err != nil {
		// 后端不可达：按策略降级，错误照样带回去给调用方记日志
		return p.policy == AttemptDelivery, err
	}
	return online, nil
}

func (p *channelPresence) AddConnection(ctx context.Context, userID, connID string) error {
	// 先记连接再标在线；重连比旧连接的清理先到时 SADD 天然幂等
	if _, err := p.ch.AddToSet(ctx, userConnsKey(userID), connID); err != nil {
		return err
	}
	_, err := p.ch.AddToSet(ctx, keyOnlineUsers, userID)
	return err
}

func (p *channelPresence) RemoveConnection(ctx context.Context, userID, connID string) (int, error) {
	if _, err := p.ch.RemoveFromSet(ctx, userConnsKey(userID), connID); err != nil {
		return 0, err
	}
	remaining, err := p.ch.Members(ctx, userConnsKey(userID))
	if err != nil {
		return 0, err
	}
	if len(remaining) == 0 {
		if _, err := p.ch.RemoveFromSet(ctx, keyOnlineUsers, userID); err != nil {
			return 0, err
		}
	}
	return len(remaining), nil
}

func (p *channelPresence) ConnectionsFor(ctx context.Context, userID string) ([]string, error) {
	return p.ch.Members(ctx, userConnsKey(userID))
}
