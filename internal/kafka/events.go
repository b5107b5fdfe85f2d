package kafka

import (
	"context"
	"encoding/json"
	"fmt"

	"ms-booking/internal/models"

	"github.com/segmentio/kafka-go"
)

// JSONPublisher is the part of Producer the event publishers need.
type JSONPublisher interface {
	PublishJSON(ctx context.Context, topic, key string, v interface{}) error
}

// StatusPublisher publishes booking status changes keyed by booking id.
type StatusPublisher struct {
	Producer JSONPublisher
	Topic    string
}

func (p *StatusPublisher) PublishBookingStatus(ctx context.Context, event models.BookingStatusEvent) error {
	return p.Producer.PublishJSON(ctx, p.Topic, event.BookingID, event)
}

// DecodeBookingStatus reads a status event produced by StatusPublisher.
func DecodeBookingStatus(msg kafka.Message) (models.BookingStatusEvent, error) {
	var event models.BookingStatusEvent
	if err := json.Unmarshal(msg.Value, &event); err != nil {
		return event, fmt.Errorf("failed to unmarshal booking status event: %w", err)
	}
	if event.BookingID == "" {
		return event, fmt.Errorf("booking status event without booking id (key %q)", string(msg.Key))
	}
	return event, nil
}
