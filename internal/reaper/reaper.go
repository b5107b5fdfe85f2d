package reaper

import (
	"context"
	"fmt"
	"time"

	"ms-booking/internal/logger"
	"ms-booking/internal/models"
)

const defaultBatch = 100

type Store interface {
	DeleteExpired(ctx context.Context, now time.Time) (int64, error)
	DeleteExpiredByID(ctx context.Context, bookingID string, now time.Time) (bool, error)
	ListUnsettled(ctx context.Context, olderThan time.Time, limit int) ([]models.Booking, error)
}

// Settler finishes the side effects a paid booking still owes.
type Settler interface {
	ResumeSideEffects(ctx context.Context, booking *models.Booking)
}

type ExpiryEvents interface {
	ExpiredHolds(ctx context.Context) <-chan string
}

type SweepResult struct {
	Expired int64
	Resumed int
}

// Reaper deletes pre-bookings whose hold ran out and retries the side
// effects of paid bookings that a crash or full queue left behind. Deletion
// is a conditional DELETE, so a booking confirmed a moment earlier is never
// touched and needs no lock.
type Reaper struct {
	store    Store
	settler  Settler
	interval time.Duration
	grace    time.Duration
	batch    int
	logger   *logger.Logger
	now      func() time.Time
}

func New(store Store, settler Settler, interval, grace time.Duration, log *logger.Logger) *Reaper {
	if log == nil {
		log = logger.NewNopLogger()
	}
	if interval <= 0 {
		interval = 30 * time.Second
	}
	if grace < 0 {
		grace = 0
	}
	return &Reaper{
		store:    store,
		settler:  settler,
		interval: interval,
		grace:    grace,
		batch:    defaultBatch,
		logger:   log,
		now:      func() time.Time { return time.Now().UTC() },
	}
}

func (r *Reaper) SetClock(now func() time.Time) {
	r.now = now
}

// SweepOnce runs one expiry pass followed by one settlement pass.
func (r *Reaper) SweepOnce(ctx context.Context) (SweepResult, error) {
	var result SweepResult
	now := r.now()

	expired, err := r.store.DeleteExpired(ctx, now)
	if err != nil {
		return result, fmt.Errorf("failed to delete expired bookings: %w", err)
	}
	result.Expired = expired
	if expired > 0 {
		r.logger.Info("REAPER", fmt.Sprintf("Deleted %d expired pre-bookings", expired))
	}

	if r.settler == nil {
		return result, nil
	}

	unsettled, err := r.store.ListUnsettled(ctx, now.Add(-r.grace), r.batch)
	if err != nil {
		return result, fmt.Errorf("failed to list unsettled bookings: %w", err)
	}
	for i := range unsettled {
		b := &unsettled[i]
		r.logger.LogBooking("RESUME", b.ID, fmt.Sprintf("capacity_applied=%t notification_sent=%t", b.CapacityApplied, b.NotificationSent))
		r.settler.ResumeSideEffects(ctx, b)
		if !b.PendingSideEffects() {
			result.Resumed++
		}
	}
	return result, nil
}

// Run sweeps immediately and then on every tick until ctx is done.
func (r *Reaper) Run(ctx context.Context) error {
	r.logger.Info("REAPER", fmt.Sprintf("Expiry reaper running every %s", r.interval))
	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	for {
		if _, err := r.SweepOnce(ctx); err != nil && ctx.Err() == nil {
			r.logger.Error("REAPER", err.Error())
		}
		select {
		case <-ctx.Done():
			r.logger.Info("REAPER", "Expiry reaper stopped")
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

// SubscribeExpiredHolds deletes a booking as soon as its hold key expires.
// It blocks until the event stream ends.
func (r *Reaper) SubscribeExpiredHolds(ctx context.Context, events ExpiryEvents) {
	for bookingID := range events.ExpiredHolds(ctx) {
		deleted, err := r.store.DeleteExpiredByID(ctx, bookingID, r.now())
		switch {
		case err != nil:
			r.logger.Error("REAPER", fmt.Sprintf("Failed to delete expired booking %s: %v", bookingID, err))
		case deleted:
			r.logger.LogBooking("EXPIRED", bookingID, "hold expired, pre-booking deleted")
		default:
			r.logger.Debug("REAPER", fmt.Sprintf("Hold for %s expired with nothing to delete", bookingID))
		}
	}
}
