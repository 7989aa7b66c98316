package generation

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/lucasmd12/Criaii/backend/internal/cache"
)

type fakePinger struct {
	calls atomic.Int64
	err   error
}

func (p *fakePinger) Ping(ctx context.Context) error {
	p.calls.Add(1)
	return p.err
}

func TestKeepAlive_RecordsTimestampOnSuccess(t *testing.T) {
	ch := cache.NewMemoryChannel()
	pinger := &fakePinger{}
	k := &KeepAlive{pinger: pinger, ch: ch, interval: 5 * time.Millisecond, backoff: time.Millisecond}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() { k.Run(ctx); close(done) }()

	deadline := time.Now().Add(2 * time.Second)
	for pinger.calls.Load() < 2 {
		if time.Now().After(deadline) {
			t.Fatalf("pinger not called repeatedly")
		}
		time.Sleep(time.Millisecond)
	}
	cancel()
	<-done

	stamp, err := ch.Get(context.Background(), "system:last_keep_alive_ping")
	if err != nil {
		t.Fatalf("timestamp not recorded: %v", err)
	}
	if _, err := time.Parse(time.RFC3339, stamp); err != nil {
		t.Fatalf("timestamp %q not RFC3339: %v", stamp, err)
	}
}

func TestKeepAlive_KeepsRetryingOnFailure(t *testing.T) {
	ch := cache.NewMemoryChannel()
	pinger := &fakePinger{err: errors.New("space down")}
	k := &KeepAlive{pinger: pinger, ch: ch, interval: time.Hour, backoff: time.Millisecond}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() { k.Run(ctx); close(done) }()

	// 失败后走短退避，而不是一小时后才重试
	deadline := time.Now().Add(2 * time.Second)
	for pinger.calls.Load() < 3 {
		if time.Now().After(deadline) {
			t.Fatalf("pinger stopped retrying after failure")
		}
		time.Sleep(time.Millisecond)
	}
	cancel()
	<-done

	if _, err := ch.Get(context.Background(), "system:last_keep_alive_ping"); !errors.Is(err, cache.ErrKeyNotFound) {
		t.Fatalf("timestamp recorded despite ping failures (err=%v)", err)
	}
}
