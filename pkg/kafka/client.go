// Package kafka 提供了与 Kafka 消息队列交互的功能。
package kafka

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"toad-architect-go/internal/config"
	"toad-architect-go/pkg/events"

	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"
)

// EventProcessor defines the interface for any service that can process a session event.
// This decouples the Kafka consumer from the concrete stats implementation.
type EventProcessor interface {
	Process(ctx context.Context, event events.SessionEvent) error
}

// maxAttempts 是单条消息处理失败后的最大尝试次数，超过后提交 offset 放弃该消息。
const maxAttempts = 3

func brokerList(brokers string) []string {
	var out []string
	for _, b := range strings.Split(brokers, ",") {
		if b = strings.TrimSpace(b); b != "" {
			out = append(out, b)
		}
	}
	return out
}

// Producer 将会话事件写入 Kafka。
type Producer struct {
	writer *kafka.Writer
	logger *zap.Logger
}

// NewProducer 初始化 Kafka 生产者。
func NewProducer(cfg config.KafkaConfig, logger *zap.Logger) *Producer {
	writer := &kafka.Writer{
		Addr:                   kafka.TCP(brokerList(cfg.Brokers)...),
		Topic:                  cfg.Topic,
		Balancer:               &kafka.Hash{},
		AllowAutoTopicCreation: true,
		BatchTimeout:           50 * time.Millisecond,
	}
	logger.Info("Kafka 生产者初始化成功", zap.String("topic", cfg.Topic))
	return &Producer{writer: writer, logger: logger}
}

// Publish 发送一个会话事件，以会话 ID 作为 key 保证同一会话的事件有序。
func (p *Producer) Publish(ctx context.Context, event events.SessionEvent) error {
	payload, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to marshal session event: %w", err)
	}
	return p.writer.WriteMessages(ctx, kafka.Message{
		Key:   []byte(event.SessionID),
		Value: payload,
	})
}

// Close 刷新并关闭生产者。
func (p *Producer) Close() error {
	return p.writer.Close()
}

// Consumer 读取会话事件并交给 EventProcessor 处理。
type Consumer struct {
	reader *kafka.Reader
	logger *zap.Logger
	retry  time.Duration
}

// NewConsumer 创建一个加入消费组的 Kafka 消费者。
func NewConsumer(cfg config.KafkaConfig, logger *zap.Logger) *Consumer {
	r := kafka.NewReader(kafka.ReaderConfig{
		Brokers:  brokerList(cfg.Brokers),
		Topic:    cfg.Topic,
		GroupID:  cfg.GroupID,
		MinBytes: 1,
		MaxBytes: 10e6, // 10MB
		MaxWait:  time.Second,
	})
	return &Consumer{reader: r, logger: logger, retry: 500 * time.Millisecond}
}

// Run 阻塞消费消息，直到 ctx 被取消或读取失败。
func (c *Consumer) Run(ctx context.Context, processor EventProcessor) error {
	c.logger.Info("Kafka 消费者已启动", zap.String("topic", c.reader.Config().Topic))
	defer func() {
		if err := c.reader.Close(); err != nil {
			c.logger.Error("关闭 Kafka 消费者失败", zap.Error(err))
		}
	}()

	for {
		m, err := c.reader.FetchMessage(ctx)
		if err != nil {
			if errors.Is(err, context.Canceled) || ctx.Err() != nil {
				return nil
			}
			return fmt.Errorf("failed to fetch kafka message: %w", err)
		}

		var event events.SessionEvent
		if err := json.Unmarshal(m.Value, &event); err != nil {
			// 消息格式错误，直接提交，避免阻塞队列
			c.logger.Error("无法解析 Kafka 消息", zap.Error(err), zap.Int64("offset", m.Offset))
			c.commit(ctx, m)
			continue
		}

		if err := c.process(ctx, processor, event); err != nil {
			c.logger.Error("会话事件多次处理失败，提交 offset 终止重试",
				zap.String("type", string(event.Type)),
				zap.String("sessionId", event.SessionID),
				zap.Error(err),
			)
		}
		c.commit(ctx, m)
	}
}

func (c *Consumer) process(ctx context.Context, processor EventProcessor, event events.SessionEvent) error {
	var err error
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		if err = processor.Process(ctx, event); err == nil {
			return nil
		}
		c.logger.Warn("处理会话事件失败", zap.Int("attempt", attempt), zap.Error(err))
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(c.retry * time.Duration(attempt)):
		}
	}
	return err
}

func (c *Consumer) commit(ctx context.Context, m kafka.Message) {
	if err := c.reader.CommitMessages(ctx, m); err != nil && ctx.Err() == nil {
		c.logger.Error("提交 Kafka 消息 offset 失败", zap.Error(err), zap.Int64("offset", m.Offset))
	}
}
