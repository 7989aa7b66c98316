package generation

import (
	"context"
	"encoding/json"
	"log"
	"time"

	"github.com/IBM/sarama"
)

// Worker 消费生成订单：每个副本加入同一个 consumer group，
// 同一用户的订单（按 userID 分区）只会被一个副本处理。
type Worker struct {
	group    sarama.ConsumerGroup
	topic    string
	pipeline *Pipeline
}

func NewWorker(brokers []string, groupID, topic string, p *Pipeline) (*Worker, error) {
	cfg := sarama.NewConfig()
	cfg.Consumer.Offsets.Initial = sarama.OffsetNewest
	cfg.Consumer.Return.Errors = true

	group, err := sarama.NewConsumerGroup(brokers, groupID, cfg)
	if err != nil {
		return nil, err
	}
	return &Worker{group: group, topic: topic, pipeline: p}, nil
}

// Run 阻塞消费直到 ctx 取消。Consume 在 rebalance 后会返回，
// 所以要套在循环里。
func (w *Worker) Run(ctx context.Context) error {
	for {
		if err := w.group.Consume(ctx, []string{w.topic}, w); err != nil {
			log.Printf("generation worker: consume error: %v", err)
		}
		if ctx.Err() != nil {
			return nil
		}
		time.Sleep(time.Second)
	}
}

func (w *Worker) Close() error { return w.group.Close() }

var _ sarama.ConsumerGroupHandler = (*Worker)(nil)

func (w *Worker) Setup(sarama.ConsumerGroupSession) error   { return nil }
func (w *Worker) Cleanup(sarama.ConsumerGroupSession) error { return nil }

func (w *Worker) ConsumeClaim(session sarama.ConsumerGroupSession, claim sarama.ConsumerGroupClaim) error {
	for msg := range claim.Messages() {
		var job Job
		if err := json.Unmarshal(msg.Value, &job); err != nil {
			// 坏消息直接跳过，绝不能卡住整个分区
			log.Printf("generation worker: malformed job dropped (offset=%d): %v", msg.Offset, err)
			session.MarkMessage(msg, "")
			continue
		}

		// 一份订单失败只影响它自己；错误已经在 pipeline 里通知到用户
		if err := w.pipeline.Run(session.Context(), job); err != nil {
			log.Printf("generation worker: job failed (process=%s user=%d): %v", job.ProcessID, job.UserID, err)
		}
		session.MarkMessage(msg, "")
	}
	return nil
}
