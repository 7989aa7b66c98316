package cache

import (
	"context"
	"errors"
	"log"
)

// ReadThroughCache 缓存派生的读结果（用户资料投影、用户的作品列表）。
// 它自己从不碰持久化存储：未命中时由调用方回源再 Set，保持其为纯派生层。
// 写路径的约定是硬性的：任何写操作必须在向自己的调用方返回成功之前，
// 对所有可能因此过期的条目调用 Invalidate —— 删除/创建之后还端出旧列表
// 是正确性 bug，不只是性能问题。
type ReadThroughCache struct {
	ch Channel
}

func NewReadThroughCache(ch Channel) *ReadThroughCache {
	return &ReadThroughCache{ch: ch}
}

// Get 返回 (value, ok)。未命中和后端不可达都按未命中处理（降级回源），
// 后者会记一条日志。
func (c *ReadThroughCache) Get(ctx context.Context, entityType, id string) ([]byte, bool) {
	v, err := c.ch.Get(ctx, entityKey(entityType, id))
	if err != nil {
		if !errors.Is(err, ErrKeyNotFound) {
			log.Printf("cache get degraded to miss (type=%s id=%s): %v", entityType, id, err)
		}
		return nil, false
	}
	return []byte(v), true
}

// Set 按实体类型的 TTL 档位写入。
func (c *ReadThroughCache) Set(ctx context.Context, entityType, id string, value []byte) error {
	return c.ch.Set(ctx, entityKey(entityType, id), string(value), EntityTTL(entityType))
}

func (c *ReadThroughCache) Invalidate(ctx context.Context, entityType, id string) error {
	_, err := c.ch.Delete(ctx, entityKey(entityType, id))
	return err
}
