package generation

import (
	"context"
	"log"
	"time"

	"github.com/lucasmd12/Criaii/backend/internal/cache"
)

// Pinger 是可以被保活探测的远端（SpaceClient 实现它）。
type Pinger interface {
	Ping(ctx context.Context) error
}

// KeepAlive 定期戳生成空间，防止它因空闲而休眠（冷启动要好几分钟，
// 用户等不起）。每次成功都把时间戳记进共享后端，方便运维确认探测
// 还活着。失败后用更短的间隔重试。
type KeepAlive struct {
	pinger   Pinger
	ch       cache.Channel
	interval time.Duration // 正常探测间隔
	backoff  time.Duration // 失败后的重试间隔
}

func NewKeepAlive(pinger Pinger, ch cache.Channel) *KeepAlive {
	return &KeepAlive{
		pinger:   pinger,
		ch:       ch,
		interval: 5 * time.Minute,
		backoff:  time.Minute,
	}
}

// Run 阻塞运行直到 ctx 取消。
func (k *KeepAlive) Run(ctx context.Context) {
	timer := time.NewTimer(0)
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-timer.C:
		}

		next := k.interval
		if err := k.pinger.Ping(ctx); err != nil {
			log.Printf("keepalive: space ping failed: %v", err)
			next = k.backoff
		} else {
			stamp := time.Now().UTC().Format(time.RFC3339)
			if err := k.ch.Set(ctx, "system:last_keep_alive_ping", stamp, 0); err != nil {
				log.Printf("keepalive: record ping timestamp failed: %v", err)
			}
		}
		timer.Reset(next)
	}
}
