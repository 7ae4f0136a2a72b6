// Package kafka 提供了与 Kafka 消息队列交互的功能。
package kafka

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"resumecast-search/internal/config"
	"resumecast-search/pkg/log"
	"resumecast-search/pkg/tasks"

	"github.com/segmentio/kafka-go"
	"golang.org/x/sync/errgroup"
)

// TaskHandler defines the interface for any service that can handle an embedding task.
// This decouples the Kafka consumer from the concrete queue implementation.
// A non-nil error means the task state could not be persisted and the message must not be committed.
type TaskHandler interface {
	Handle(ctx context.Context, task tasks.EmbeddingTask) error
}

// Producer 发送 embedding 任务到 Kafka。
type Producer struct {
	writer *kafka.Writer
}

// NewProducer 初始化 Kafka 生产者。
func NewProducer(cfg config.KafkaConfig) *Producer {
	w := &kafka.Writer{
		Addr:                   kafka.TCP(cfg.BrokerList()...),
		Topic:                  cfg.Topic,
		Balancer:               &kafka.Hash{},
		RequiredAcks:           kafka.RequireAll,
		AllowAutoTopicCreation: true,
	}
	log.Info("Kafka 生产者初始化成功")
	return &Producer{writer: w}
}

// Publish 发送一个任务，以简历 ID 作为消息 key，同一简历的任务落在同一分区。
func (p *Producer) Publish(ctx context.Context, task tasks.EmbeddingTask) error {
	taskBytes, err := json.Marshal(task)
	if err != nil {
		return err
	}
	return p.writer.WriteMessages(ctx, kafka.Message{
		Key:   []byte(task.ResumeID),
		Value: taskBytes,
	})
}

// Close 刷新并关闭生产者。
func (p *Producer) Close() error {
	return p.writer.Close()
}

type messageReader interface {
	FetchMessage(ctx context.Context) (kafka.Message, error)
	CommitMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// Consumer 从一个消费组读取任务并交给 TaskHandler 处理。
type Consumer struct {
	reader     messageReader
	handler    TaskHandler
	topic      string
	retryDelay time.Duration
}

// NewConsumer 创建一个加入 cfg.GroupID 消费组的消费者。
func NewConsumer(cfg config.KafkaConfig, handler TaskHandler) *Consumer {
	r := kafka.NewReader(kafka.ReaderConfig{
		Brokers:  cfg.BrokerList(),
		Topic:    cfg.Topic,
		GroupID:  cfg.GroupID,
		MinBytes: 1,
		MaxBytes: 10e6, // 10MB
	})
	return &Consumer{reader: r, handler: handler, topic: cfg.Topic, retryDelay: time.Second}
}

// Run 循环消费直到 ctx 被取消。
// 任务状态写入成功后才提交 offset；格式错误的消息直接提交，避免阻塞分区。
func (c *Consumer) Run(ctx context.Context) error {
	log.Infof("Kafka 消费者已启动，正在监听主题 '%s'", c.topic)
	defer func() {
		if err := c.reader.Close(); err != nil {
			log.Errorf("关闭 Kafka 消费者失败: %v", err)
		}
	}()

	for {
		m, err := c.reader.FetchMessage(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			log.Error("从 Kafka 读取消息失败", err)
			return err
		}

		log.Debugf("收到 Kafka 消息: partition %d, offset %d", m.Partition, m.Offset)

		var task tasks.EmbeddingTask
		if err := json.Unmarshal(m.Value, &task); err != nil {
			log.Errorf("无法解析 Kafka 消息: %v, value: %s", err, string(m.Value))
			c.commit(ctx, m)
			continue
		}
		if err := task.Validate(); err != nil {
			log.Errorf("丢弃无效的任务消息: %v, value: %s", err, string(m.Value))
			c.commit(ctx, m)
			continue
		}

		if err := c.handle(ctx, task); err != nil {
			// 只有 ctx 取消才会走到这里，不提交 offset，重启后重新投递
			return nil
		}
		c.commit(ctx, m)
	}
}

// handle 在状态存储不可用时按递增间隔重试同一条消息。
func (c *Consumer) handle(ctx context.Context, task tasks.EmbeddingTask) error {
	delay := c.retryDelay
	for {
		err := c.handler.Handle(ctx, task)
		if err == nil {
			return nil
		}
		log.Errorf("处理任务失败, 将重试: JobID=%s, ResumeID=%s, Error: %v", task.JobID, task.ResumeID, err)
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(delay):
		}
		if delay < 30*time.Second {
			delay *= 2
		}
	}
}

func (c *Consumer) commit(ctx context.Context, m kafka.Message) {
	if err := c.reader.CommitMessages(ctx, m); err != nil && !errors.Is(err, context.Canceled) {
		log.Errorf("提交 Kafka 消息 offset 失败: %v", err)
	}
}

// StartConsumers 在同一消费组内启动 n 个消费者并阻塞到全部退出。
func StartConsumers(ctx context.Context, cfg config.KafkaConfig, n int, handler TaskHandler) error {
	if n < 1 {
		n = 1
	}
	g, ctx := errgroup.WithContext(ctx)
	for i := 0; i < n; i++ {
		c := NewConsumer(cfg, handler)
		g.Go(func() error { return c.Run(ctx) })
	}
	return g.Wait()
}
