// Package publish 将账户事件投递到 Kafka，供下游系统消费。
package publish

import (
	"context"
	"fmt"
	"time"

	json "github.com/goccy/go-json"
	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"

	"trades-exec/internal/account"
	"trades-exec/internal/config"
)

// Publisher 投递账户事件。
type Publisher interface {
	Publish(ctx context.Context, events ...account.Event) error
	Close() error
}

// Nop 丢弃全部事件，在未启用投递时使用。
type Nop struct{}

func (Nop) Publish(context.Context, ...account.Event) error { return nil }
func (Nop) Close() error                                    { return nil }

type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// Kafka 以交易所为 key 写入，保证同一交易所的事件在单个分区内有序。
type Kafka struct {
	writer messageWriter
	topic  string
	logger *zap.Logger
}

// New 根据配置创建 Publisher，未启用时返回 Nop。
func New(cfg config.PublisherConfig, logger *zap.Logger) Publisher {
	if !cfg.Enabled {
		return Nop{}
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	batchTimeout := cfg.BatchTimeout
	if batchTimeout <= 0 {
		batchTimeout = 50 * time.Millisecond
	}

	w := &kafka.Writer{
		Addr:                   kafka.TCP(cfg.Brokers...),
		Topic:                  cfg.Topic,
		Balancer:               &kafka.Hash{},
		AllowAutoTopicCreation: true,
		RequiredAcks:           kafka.RequireOne,
		BatchTimeout:           batchTimeout,
		Transport:              &kafka.Transport{DialTimeout: 10 * time.Second, ClientID: "trades-exec"},
	}

	logger.Info("已启用 Kafka 事件投递",
		zap.Strings("brokers", cfg.Brokers),
		zap.String("topic", cfg.Topic),
	)
	return newKafka(w, cfg.Topic, logger)
}

func newKafka(w messageWriter, topic string, logger *zap.Logger) *Kafka {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Kafka{writer: w, topic: topic, logger: logger.Named("publish")}
}

// Publish 编码并写入事件，全部成功或返回首个错误。
func (k *Kafka) Publish(ctx context.Context, events ...account.Event) error {
	if len(events) == 0 {
		return nil
	}

	msgs := make([]kafka.Message, 0, len(events))
	for _, event := range events {
		msg, err := encode(event)
		if err != nil {
			return err
		}
		msgs = append(msgs, msg)
	}

	if err := k.writer.WriteMessages(ctx, msgs...); err != nil {
		k.logger.Warn("投递账户事件失败", zap.String("topic", k.topic), zap.Int("count", len(msgs)), zap.Error(err))
		return fmt.Errorf("publish: 写入 Kafka 失败: %w", err)
	}
	return nil
}

// Close 刷新缓冲并关闭连接。
func (k *Kafka) Close() error {
	return k.writer.Close()
}

func encode(event account.Event) (kafka.Message, error) {
	value, err := json.Marshal(event)
	if err != nil {
		return kafka.Message{}, fmt.Errorf("publish: 序列化事件失败: %w", err)
	}
	return kafka.Message{
		Key:   []byte(event.Exchange),
		Value: value,
		Time:  event.Time,
		Headers: []kafka.Header{
			{Key: "type", Value: []byte(event.Type())},
		},
	}, nil
}
