package cache

import (
	"context"
	"errors"
	"time"

	redis "github.com/redis/go-redis/v9"
)

// ErrKeyNotFound 表示键不存在（不是传输错误）。
var ErrKeyNotFound = errors.New("cache: key not found")

// Subscription 是一次 Subscribe 的订阅流。Messages 返回的通道在
// Close 或者底层连接断开后会被关闭。
type Subscription interface {
	Messages() <-chan string
	Close() error
}

// Channel 是对共享 KV / Pub-Sub 后端（Redis）的薄封装。
// Presence、读穿缓存、事件中继都建立在它之上。
// 所有操作都是一次远程往返；超时由客户端的 dial/read/write timeout 兜底，
// 超时会以错误返回给调用方，而不是无限阻塞。
type Channel interface {
	Get(ctx context.Context, key string) (string, error)
	Set(ctx context.Context, key, value string, ttl time.Duration) error
	Delete(ctx context.Context, keys ...string) (int64, error)

	AddToSet(ctx context.Context, key string, members ...string) (int64, error)
	RemoveFromSet(ctx context.Context, key string, members ...string) (int64, error)
	IsMember(ctx context.Context, key, member string) (bool, error)
	Members(ctx context.Context, key string) ([]string, error)

	// 频道名不走键前缀：它们是另一个独立、更小的命名空间。
	Publish(ctx context.Context, channel, message string) error
	Subscribe(ctx context.Context, channel string) (Subscription, error)
}

// 具体实现：基于 go-redis 的 Channel
type redisChannel struct {
	rdb *redis.Client
}

var _ Channel = (*redisChannel)(nil)

func NewRedisChannel(rdb *redis.Client) Channel {
	return &redisChannel{rdb: rdb}
}

func (c *redisChannel) Get(ctx context.Context, key string) (string, error) {
	v, err := c.rdb.Get(ctx, prefixKey(key)).Result()
	if errors.Is(err, redis.Nil) {
		return "", ErrKeyNotFound
	}
	return v, err
}

func (c *redisChannel) Set(ctx context.Context, key, value string, ttl time.Duration) error {
	return c.rdb.Set(ctx, prefixKey(key), value, ttl).Err()
}

func (c *redisChannel) Delete(ctx context.Context, keys ...string) (int64, error) {
	prefixed := make([]string, len(keys))
	for i, k := range keys {
		prefixed[i] = prefixKey(k)
	}
	return c.rdb.Del(ctx, prefixed...).Result()
}

func (c *redisChannel) AddToSet(ctx context.Context, key string, members ...string) (int64, error) {
	args := make([]interface{}, len(members))
	for i, m := range members {
		args[i] = m
	}
	return c.rdb.SAdd(ctx, prefixKey(key), args...).Result()
}

func (c *redisChannel) RemoveFromSet(ctx context.Context, key string, members ...string) (int64, error) {
	args := make([]interface{}, len(members))
	for i, m := range members {
		args[i] = m
	}
	return c.rdb.SRem(ctx, prefixKey(key), args...).Result()
}

func (c *redisChannel) IsMember(ctx context.Context, key, member string) (bool, error) {
	return c.rdb.SIsMember(ctx, prefixKey(key), member).Result()
}

func (c *redisChannel) Members(ctx context.Context, key string) ([]string, error) {
	return c.rdb.SMembers(ctx, prefixKey(key)).Result()
}

func (c *redisChannel) Publish(ctx context.Context, channel, message string) error {
	return c.rdb.Publish(ctx, channel, message).Err()
}

func (c *redisChannel) Subscribe(ctx context.Context, channel string) (Subscription, error) {
	ps := c.rdb.Subscribe(ctx, channel)
	// Receive 等到订阅确认，保证返回之后发布的消息不会丢
	if _, err := ps.Receive(ctx); err != nil {
		_ = ps.Close()
		return nil, err
	}
	return &redisSubscription{ps: ps, msgs: ps.Channel()}, nil
}

type redisSubscription struct {
	ps   *redis.PubSub
	msgs <-chan *redis.Message
	out  chan string
	once bool
}

func (s *redisSubscription) Messages() <-chan string {
	if !s.once {
		s.once = true
		s.out = make(chan string, 64)
		go func() {
			defer close(s.out)
			for m := range s.msgs {
				s.out <- m.Payload
			}
		}()
	}
	return s.out
}

func (s *redisSubscription) Close() error { return s.ps.Close() }
