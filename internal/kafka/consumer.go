package kafka

import (
	"context"
	"errors"
	"fmt"
	"time"

	"ms-booking/internal/logger"

	"github.com/segmentio/kafka-go"
)

type Consumer struct {
	reader *kafka.Reader
	logger *logger.Logger
}

// NewConsumer creates a new Kafka consumer for the given topic and group
func NewConsumer(brokers []string, topic, groupID string, log *logger.Logger) *Consumer {
	if log == nil {
		log = logger.NewNopLogger()
	}
	reader := kafka.NewReader(kafka.ReaderConfig{
		Brokers:     brokers,
		Topic:       topic,
		GroupID:     groupID,
		MinBytes:    1,
		MaxBytes:    10e6, // 10MB
		MaxWait:     500 * time.Millisecond,
		StartOffset: kafka.LastOffset,
	})
	return &Consumer{reader: reader, logger: log}
}

// Start feeds every message to handler until ctx is cancelled. Handler errors
// are logged and the message is skipped.
func (c *Consumer) Start(ctx context.Context, handler func(ctx context.Context, msg kafka.Message) error) {
	topic := c.reader.Config().Topic
	c.logger.LogKafka("CONSUME", topic, "consumer started")

	for {
		msg, err := c.reader.ReadMessage(ctx)
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, context.Canceled) {
				c.logger.LogKafka("CONSUME", topic, "consumer stopped")
				return
			}
			c.logger.Error("KAFKA", fmt.Sprintf("Error reading from %s: %v", topic, err))
			time.Sleep(time.Second)
			continue
		}

		if err := handler(ctx, msg); err != nil {
			c.logger.Warn("KAFKA", fmt.Sprintf("Skipping message %s/%d@%d: %v", topic, msg.Partition, msg.Offset, err))
		}
	}
}

// Close gracefully shuts down the Kafka reader
func (c *Consumer) Close() error {
	return c.reader.Close()
}
