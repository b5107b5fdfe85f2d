package kafka

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"ms-booking/internal/logger"

	"github.com/segmentio/kafka-go"
)

// Producer writes keyed messages to any topic. Messages with the same key
// land on the same partition, so events of one booking stay ordered.
type Producer struct {
	Writer *kafka.Writer
	logger *logger.Logger
}

func NewProducer(brokers []string, log *logger.Logger) *Producer {
	if log == nil {
		log = logger.NewNopLogger()
	}
	writer := &kafka.Writer{
		Addr:                   kafka.TCP(brokers...),
		Balancer:               &kafka.Hash{},
		RequiredAcks:           kafka.RequireAll,
		BatchTimeout:           10 * time.Millisecond,
		AllowAutoTopicCreation: true,
	}
	return &Producer{Writer: writer, logger: log}
}

// Publish sends one message to topic
func (p *Producer) Publish(ctx context.Context, topic, key string, value []byte) error {
	err := p.Writer.WriteMessages(ctx, kafka.Message{
		Topic: topic,
		Key:   []byte(key),
		Value: value,
	})
	if err != nil {
		p.logger.LogKafka("PUBLISH_FAILED", topic, fmt.Sprintf("key=%s: %v", key, err))
		return err
	}
	p.logger.LogKafka("PUBLISH", topic, fmt.Sprintf("key=%s bytes=%d", key, len(value)))
	return nil
}

// PublishJSON marshals v and publishes it under key.
func (p *Producer) PublishJSON(ctx context.Context, topic, key string, v interface{}) error {
	value, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("failed to marshal message for %s: %w", topic, err)
	}
	return p.Publish(ctx, topic, key, value)
}

func (p *Producer) Close() error {
	return p.Writer.Close()
}
