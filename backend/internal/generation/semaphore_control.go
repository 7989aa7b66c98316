package generation

import (
	"context"
	"errors"
)

// SemaphoreControl 限制并发外呼数量（Kafka 发送、生成空间 HTTP 调用）。
type SemaphoreControl struct {
	ch chan struct{}
}

func NewSemaphoreControl(max int) *SemaphoreControl {
	if max <= 0 {
		max = 100
	}
	return &SemaphoreControl{ch: make(chan struct{}, max)}
}

func (s *SemaphoreControl) Acquire(ctx context.Context) error {
	select {
	case s.ch <- struct{}{}:
		return nil
	case <-ctx.Done():
		return errors.New("Acquire Reach time limit")
	}
}

func (s *SemaphoreControl) Release() error {
	select {
	case <-s.ch:
		return nil
	default:
		return errors.New("Release Failed, semaphore is not acquired")
	}
}
