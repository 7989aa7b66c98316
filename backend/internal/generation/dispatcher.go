package generation

import (
	"context"
	"encoding/json"
	"log"
	"strconv"
	"time"

	"github.com/IBM/sarama"
)

// Dispatcher：本地有界队列 + worker 异步发送 + 有限重试。
// 目标：
// - 不阻塞点单接口（Enqueue 只负责入队，接口立刻 202）
// - Kafka 短暂阻塞时靠队列吸收，后台慢慢补发
// - 队列满时允许降级（等待到 ctx 超时后丢弃），避免内存无限增长
//
// 消息 key 用 userID：同一用户的订单落到同一分区，进度事件的相对
// 顺序对单个用户可预期。
type Dispatcher struct {
	producer sarama.SyncProducer
	topic    string

	queue chan Job

	// sem 限制并发的 SendMessage 数量。
	kafkaSem *SemaphoreControl

	workers     int
	maxRetry    int
	baseBackoff time.Duration
	maxBackoff  time.Duration
}

type DispatcherOptions struct {
	QueueSize   int
	Workers     int
	MaxRetry    int
	BaseBackoff time.Duration
	MaxBackoff  time.Duration
}

func NewDispatcher(producer sarama.SyncProducer, topic string, kafkaSem *SemaphoreControl, opt DispatcherOptions) *Dispatcher {
	d := &Dispatcher{
		producer:    producer,
		topic:       topic,
		queue:       make(chan Job, opt.QueueSize),
		kafkaSem:    kafkaSem,
		workers:     opt.Workers,
		maxRetry:    opt.MaxRetry,
		baseBackoff: opt.BaseBackoff,
		maxBackoff:  opt.MaxBackoff,
	}

	d.Start()
	return d
}

// Enqueue：把订单放入本地队列。
// - 队列满时，等待直到 ctx 超时
// - ctx 超时返回错误，调用方把失败如实告诉用户（订单不能悄悄蒸发）
func (d *Dispatcher) Enqueue(ctx context.Context, job Job) error {
	select {
	case d.queue <- job:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (d *Dispatcher) Start() {
	for i := 0; i < d.workers; i++ {
		go d.workerLoop(i)
	}
}

func (d *Dispatcher) workerLoop(workerID int) {
	for job := range d.queue {
		d.sendWithRetry(workerID, job)
	}
}

func (d *Dispatcher) sendWithRetry(workerID int, job Job) {
	for attempt := 0; attempt <= d.maxRetry; attempt++ {
		if d.kafkaSem != nil {
			// worker 允许一直等待（不会影响主链路）
			_ = d.kafkaSem.Acquire(context.Background())
		}

		err := d.sendOnce(job)

		if d.kafkaSem != nil {
			_ = d.kafkaSem.Release()
		}

		if err == nil {
			return
		}

		if attempt == d.maxRetry {
			log.Printf("kafka send failed, drop job process=%s user=%d worker=%d err=%v",
				job.ProcessID, job.UserID, workerID, err)
			return
		}

		// 退避，每次退避时间X2
		backoff := d.baseBackoff * time.Duration(1<<attempt)
		if backoff > d.maxBackoff {
			backoff = d.maxBackoff
		}
		time.Sleep(backoff)
	}
}

func (d *Dispatcher) sendOnce(job Job) error {
	if d.producer == nil || d.topic == "" {
		return nil
	}
	b, err := json.Marshal(job)
	if err != nil {
		return err
	}
	msg := &sarama.ProducerMessage{
		Topic: d.topic,
		Key:   sarama.StringEncoder(strconv.FormatUint(job.UserID, 10)),
		Value: sarama.ByteEncoder(b),
	}
	_, _, err = d.producer.SendMessage(msg)
	return err
}
