package cache

import (
	"context"
	"sync"
	"time"
)

// MemoryChannel 是 Channel 的纯内存实现。
// 单元测试用它替换 Redis；语义与 redisChannel 对齐（包括键前缀和 TTL 过期）。
type MemoryChannel struct {
	mu      sync.Mutex
	values  map[string]memoryEntry
	sets    map[string]map[string]struct{}
	subs    map[string][]chan string
	failing bool
}

type memoryEntry struct {
	value     string
	expiresAt time.Time // 零值表示不过期
}

var _ Channel = (*MemoryChannel)(nil)

func NewMemoryChannel() *MemoryChannel {
	return &MemoryChannel{
		values: make(map[string]memoryEntry),
		sets:   make(map[string]map[string]struct{}),
		subs:   make(map[string][]chan string),
	}
}

// SetFailing 模拟后端不可达：之后所有操作返回 errBackendDown。
// 用于验证“presence 降级为离线 / 缓存降级为未命中 / publish 吞掉错误”的策略。
func (c *MemoryChannel) SetFailing(failing bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.failing = failing
}

type backendDownError struct{}

func (backendDownError) Error() string   { return "cache: backend unreachable" }
func (backendDownError) Timeout() bool   { return true }
func (backendDownError) Temporary() bool { return true }

var errBackendDown = backendDownError{}

func (c *MemoryChannel) Get(ctx context.Context, key string) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.failing {
		return "", errBackendDown
	}
	e, ok := c.values[prefixKey(key)]
	if !ok {
		return "", ErrKeyNotFound
	}
	if !e.expiresAt.IsZero() && time.Now().After(e.expiresAt) {
		delete(c.values, prefixKey(key))
		return "", ErrKeyNotFound
	}
	return e.value, nil
}

func (c *MemoryChannel) Set(ctx context.Context, key, value string, ttl time.Duration) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.failing {
		return errBackendDown
	}
	e := memoryEntry{value: value}
	if ttl > 0 {
		e.expiresAt = time.Now().Add(ttl)
	}
	c.values[prefixKey(key)] = e
	return nil
}

func (c *MemoryChannel) Delete(ctx context.Context, keys ...string) (int64, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.failing {
		return 0, errBackendDown
	}
	var n int64
	for _, k := range keys {
		pk := prefixKey(k)
		if _, ok := c.values[pk]; ok {
			delete(c.values, pk)
			n++
		}
		if _, ok := c.sets[pk]; ok {
			delete(c.sets, pk)
			n++
		}
	}
	return n, nil
}

func (c *MemoryChannel) AddToSet(ctx context.Context, key string, members ...string) (int64, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.failing {
		return 0, errBackendDown
	}
	pk := prefixKey(key)
	if c.sets[pk] == nil {
		c.sets[pk] = make(map[string]struct{})
	}
	var added int64
	for _, m := range members {
		if _, ok := c.sets[pk][m]; !ok {
			c.sets[pk][m] = struct{}{}
			added++
		}
	}
	return added, nil
}

func (c *MemoryChannel) RemoveFromSet(ctx context.Context, key string, members ...string) (int64, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.failing {
		return 0, errBackendDown
	}
	pk := prefixKey(key)
	var removed int64
	for _, m := range members {
		if _, ok := c.sets[pk][m]; ok {
			delete(c.sets[pk], m)
			removed++
		}
	}
	if len(c.sets[pk]) == 0 {
		delete(c.sets, pk)
	}
	return removed, nil
}

func (c *MemoryChannel) IsMember(ctx context.Context, key, member string) (bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.failing {
		return false, errBackendDown
	}
	_, ok := c.sets[prefixKey(key)][member]
	return ok, nil
}

func (c *MemoryChannel) Members(ctx context.Context, key string) ([]string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.failing {
		return nil, errBackendDown
	}
	set := c.sets[prefixKey(key)]
	members := make([]string, 0, len(set))
	for m := range set {
		members = append(members, m)
	}
	return members, nil
}

func (c *MemoryChannel) Publish(ctx context.Context, channel, message string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.failing {
		return errBackendDown
	}
	for _, sub := range c.subs[channel] {
		// 订阅者跟不上就丢，与 Redis pub/sub 的“不保存、不重发”一致
		select {
		case sub <- message:
		default:
		}
	}
	return nil
}

func (c *MemoryChannel) Subscribe(ctx context.Context, channel string) (Subscription, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.failing {
		return nil, errBackendDown
	}
	ch := make(chan string, 64)
	c.subs[channel] = append(c.subs[channel], ch)
	return &memorySubscription{parent: c, channel: channel, ch: ch}, nil
}

type memorySubscription struct {
	parent  *MemoryChannel
	channel string
	ch      chan string
	closed  bool
}

func (s *memorySubscription) Messages() <-chan string { return s.ch }

func (s *memorySubscription) Close() error {
	s.parent.mu.Lock()
	defer s.parent.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	subs := s.parent.subs[s.channel]
	for i, sub := range subs {
		if sub == s.ch {
			s.parent.subs[s.channel] = append(subs[:i], subs[i+1:]...)
			break
		}
	}
	close(s.ch)
	return nil
}
