package capacity

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"ms-booking/internal/logger"
	"ms-booking/internal/models"

	"github.com/google/uuid"
	"github.com/uptrace/bun"
)

var ErrTourNotFound = errors.New("tour not found")

// Capacity is a tour's occupancy after an adjustment.
type Capacity struct {
	TourID  string
	Current int
	Max     int
	Status  models.TourStatus
	SoldOut bool
	// Applied is false when the reference had already been applied.
	Applied bool
}

// Ledger adjusts the confirmed headcount of tours.
type Ledger struct {
	db     bun.IDB
	logger *logger.Logger
}

func NewLedger(db bun.IDB, log *logger.Logger) *Ledger {
	if log == nil {
		log = logger.NewNopLogger()
	}
	return &Ledger{db: db, logger: log}
}

// Adjust adds delta to the tour's current occupancy and derives its status:
// soldout once current reaches max, active again when seats are freed.
// An adjustment with a non-empty reference is applied at most once; repeating
// it returns the current capacity unchanged.
func (l *Ledger) Adjust(ctx context.Context, tourID string, delta int, reason, reference string) (*Capacity, error) {
	var result *Capacity

	err := l.db.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		if reference != "" {
			adj := &models.CapacityAdjustment{
				ID:        uuid.NewString(),
				TourID:    tourID,
				Delta:     delta,
				Reason:    reason,
				Reference: reference,
				CreatedAt: time.Now().UTC(),
			}
			res, err := tx.NewInsert().
				Model(adj).
				On("CONFLICT (reference) DO NOTHING").
				Exec(ctx)
			if err != nil {
				return fmt.Errorf("failed to record capacity adjustment: %w", err)
			}
			if n, _ := res.RowsAffected(); n == 0 {
				l.logger.Info("CAPACITY", fmt.Sprintf("Adjustment %s for tour %s already applied", reference, tourID))
				c, err := getCapacity(ctx, tx, tourID)
				if err != nil {
					return err
				}
				result = c
				return nil
			}
		}

		res, err := tx.NewUpdate().
			Model((*models.Tour)(nil)).
			Set("capacity_current = capacity_current + ?", delta).
			Set("status = CASE WHEN status = ? THEN status WHEN capacity_current + ? >= capacity_max THEN ? ELSE ? END",
				models.TourInactive, delta, models.TourSoldOut, models.TourActive).
			Set("updated_at = ?", time.Now().UTC()).
			Where("id = ?", tourID).
			Exec(ctx)
		if err != nil {
			return fmt.Errorf("failed to adjust capacity: %w", err)
		}
		if n, _ := res.RowsAffected(); n == 0 {
			return ErrTourNotFound
		}

		c, err := getCapacity(ctx, tx, tourID)
		if err != nil {
			return err
		}
		c.Applied = true
		result = c
		return nil
	})
	if err != nil {
		return nil, err
	}

	l.logger.Info("CAPACITY", fmt.Sprintf("Tour %s %+d (%s): %d/%d %s", tourID, delta, reason, result.Current, result.Max, result.Status))
	return result, nil
}

// Get returns the tour's current capacity.
func (l *Ledger) Get(ctx context.Context, tourID string) (*Capacity, error) {
	return getCapacity(ctx, l.db, tourID)
}

func getCapacity(ctx context.Context, db bun.IDB, tourID string) (*Capacity, error) {
	var tour models.Tour
	err := db.NewSelect().
		Model(&tour).
		Where("id = ?", tourID).
		Limit(1).
		Scan(ctx)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrTourNotFound
	}
	if err != nil {
		return nil, err
	}
	return &Capacity{
		TourID:  tour.ID,
		Current: tour.CapacityCurrent,
		Max:     tour.CapacityMax,
		Status:  tour.Status,
		SoldOut: tour.Status == models.TourSoldOut,
	}, nil
}
