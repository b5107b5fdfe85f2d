package notification

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"ms-booking/internal/logger"
	"ms-booking/internal/models"
)

var (
	ErrQueueFull = errors.New("notification queue is full")
	ErrClosed    = errors.New("notification dispatcher is closed")
)

const (
	publishAttempts = 3
	publishTimeout  = 5 * time.Second
)

type Publisher interface {
	PublishJSON(ctx context.Context, topic, key string, v interface{}) error
}

// Dispatcher decouples the payment path from notification delivery: requests
// are queued in memory and published to Kafka by a background worker.
// RequestNotification never blocks; a full queue is reported to the caller.
type Dispatcher struct {
	publisher Publisher
	topic     string
	queue     chan models.NotificationRequest
	logger    *logger.Logger
	backoff   time.Duration
	onDrop    func(models.NotificationRequest)

	mu     sync.RWMutex
	closed bool
	done   chan struct{}
}

func NewDispatcher(publisher Publisher, topic string, size int, log *logger.Logger) *Dispatcher {
	if log == nil {
		log = logger.NewNopLogger()
	}
	if size <= 0 {
		size = 256
	}
	return &Dispatcher{
		publisher: publisher,
		topic:     topic,
		queue:     make(chan models.NotificationRequest, size),
		logger:    log,
		backoff:   500 * time.Millisecond,
		done:      make(chan struct{}),
	}
}

// OnDrop registers fn to run for each request given up after the last
// publish attempt. Set it before Run.
func (d *Dispatcher) OnDrop(fn func(models.NotificationRequest)) {
	d.onDrop = fn
}

func (d *Dispatcher) RequestNotification(_ context.Context, req models.NotificationRequest) error {
	d.mu.RLock()
	defer d.mu.RUnlock()
	if d.closed {
		return ErrClosed
	}

	select {
	case d.queue <- req:
		return nil
	default:
		return fmt.Errorf("%w (%d pending)", ErrQueueFull, len(d.queue))
	}
}

// Run publishes queued requests until Close is called and the queue drains.
func (d *Dispatcher) Run(ctx context.Context) {
	defer close(d.done)
	for req := range d.queue {
		d.publish(ctx, req)
	}
}

func (d *Dispatcher) publish(ctx context.Context, req models.NotificationRequest) {
	var err error
	for attempt := 1; attempt <= publishAttempts; attempt++ {
		pubCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), publishTimeout)
		err = d.publisher.PublishJSON(pubCtx, d.topic, req.BookingID, req)
		cancel()
		if err == nil {
			d.logger.Info("NOTIFY", fmt.Sprintf("Queued %s notification for booking %s", req.Kind, req.BookingID))
			return
		}
		if attempt < publishAttempts {
			time.Sleep(d.backoff * time.Duration(attempt))
		}
	}
	d.logger.Error("NOTIFY", fmt.Sprintf("Dropped %s notification for booking %s after %d attempts: %v",
		req.Kind, req.BookingID, publishAttempts, err))
	if d.onDrop != nil {
		d.onDrop(req)
	}
}

// Close stops accepting requests and waits for queued ones to be published.
func (d *Dispatcher) Close(ctx context.Context) error {
	d.mu.Lock()
	if !d.closed {
		d.closed = true
		close(d.queue)
	}
	d.mu.Unlock()

	select {
	case <-d.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (d *Dispatcher) Pending() int {
	return len(d.queue)
}

// LogPublisher stands in for Kafka in local runs: it writes each request to
// the log instead of a topic.
type LogPublisher struct {
	Logger *logger.Logger
}

func (p LogPublisher) PublishJSON(_ context.Context, topic, key string, v interface{}) error {
	p.Logger.Info("NOTIFY", fmt.Sprintf("[%s] %s: %+v", topic, key, v))
	return nil
}
