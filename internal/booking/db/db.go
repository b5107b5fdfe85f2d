package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sort"
	"time"

	"ms-booking/internal/logger"
	"ms-booking/internal/models"

	"github.com/uptrace/bun"
)

var ErrNotFound = errors.New("record not found")

// ConfirmResult describes what a payment confirmation actually changed.
type ConfirmResult struct {
	Transitioned   bool
	LedgerInserted bool
	CouponRedeemed bool
}

type DB struct {
	Bun    *bun.DB
	Logger *logger.Logger
}

func New(bunDB *bun.DB, log *logger.Logger) *DB {
	if log == nil {
		log = logger.NewNopLogger()
	}
	return &DB{Bun: bunDB, Logger: log}
}

// CreateSchema creates every table the booking service uses from the bun
// models. Migrations own the production schema; this serves tests and dev.
func CreateSchema(ctx context.Context, db bun.IDB) error {
	tables := []interface{}{
		(*models.Tour)(nil),
		(*models.Coupon)(nil),
		(*models.Booking)(nil),
		(*models.PaymentEntry)(nil),
		(*models.CapacityAdjustment)(nil),
	}
	for _, model := range tables {
		if _, err := db.NewCreateTable().Model(model).IfNotExists().Exec(ctx); err != nil {
			return fmt.Errorf("failed to create table for %T: %w", model, err)
		}
	}
	return nil
}

func notFound(err error) error {
	if errors.Is(err, sql.ErrNoRows) {
		return ErrNotFound
	}
	return err
}

// ---------------- TOURS & COUPONS ----------------

func (d *DB) GetTour(ctx context.Context, id string) (*models.Tour, error) {
	var tour models.Tour
	err := d.Bun.NewSelect().
		Model(&tour).
		Where("id = ?", id).
		Limit(1).
		Scan(ctx)
	if err != nil {
		return nil, notFound(err)
	}
	return &tour, nil
}

// FindCouponByCode returns nil, nil when no coupon has that code.
func (d *DB) FindCouponByCode(ctx context.Context, code string) (*models.Coupon, error) {
	var coupon models.Coupon
	err := d.Bun.NewSelect().
		Model(&coupon).
		Where("code = ?", code).
		Limit(1).
		Scan(ctx)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &coupon, nil
}

// ---------------- BOOKINGS ----------------

func (d *DB) CreateBooking(ctx context.Context, booking *models.Booking) error {
	_, err := d.Bun.NewInsert().Model(booking).Exec(ctx)
	if err != nil {
		return err
	}
	d.Logger.LogDatabase("INSERT", "bookings", booking.ID)
	return nil
}

func (d *DB) GetBookingByID(ctx context.Context, id string) (*models.Booking, error) {
	var booking models.Booking
	err := d.Bun.NewSelect().
		Model(&booking).
		Where("id = ?", id).
		Limit(1).
		Scan(ctx)
	if err != nil {
		return nil, notFound(err)
	}
	return &booking, nil
}

func (d *DB) GetBookingByCode(ctx context.Context, code string) (*models.Booking, error) {
	var booking models.Booking
	err := d.Bun.NewSelect().
		Model(&booking).
		Where("booking_code = ?", code).
		Limit(1).
		Scan(ctx)
	if err != nil {
		return nil, notFound(err)
	}
	return &booking, nil
}

// ConfirmPayment applies a successful payment in one transaction: the
// conditional status flip (clearing expires_at in the same statement), the
// ledger entry and, on the first transition only, the coupon redemption.
// A booking that is already paid or no longer payable is left untouched.
func (d *DB) ConfirmPayment(ctx context.Context, bookingID string, target models.BookingStatus, entry *models.PaymentEntry, now time.Time) (*ConfirmResult, error) {
	result := &ConfirmResult{}

	err := d.Bun.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		res, err := tx.NewUpdate().
			Model((*models.Booking)(nil)).
			Set("booking_status = ?", target).
			Set("payment_status = ?", models.PaymentPaid).
			Set("expires_at = NULL").
			Set("confirmed_at = ?", now).
			Set("updated_at = ?", now).
			Where("id = ?", bookingID).
			Where("payment_status <> ?", models.PaymentPaid).
			Where("booking_status IN (?)", bun.In([]models.BookingStatus{models.BookingPreBooking, models.BookingPending})).
			Exec(ctx)
		if err != nil {
			return fmt.Errorf("failed to confirm booking: %w", err)
		}
		if n, _ := res.RowsAffected(); n == 1 {
			result.Transitioned = true
		}

		inserted, err := insertLedgerEntry(ctx, tx, entry)
		if err != nil {
			return err
		}
		result.LedgerInserted = inserted

		if !result.Transitioned {
			return nil
		}

		redeemed, err := d.redeemCoupon(ctx, tx, bookingID)
		if err != nil {
			return err
		}
		result.CouponRedeemed = redeemed
		return nil
	})
	if err != nil {
		return nil, err
	}

	d.Logger.LogDatabase("CONFIRM", "bookings", fmt.Sprintf("%s transitioned=%t ledger=%t coupon=%t",
		bookingID, result.Transitioned, result.LedgerInserted, result.CouponRedeemed))
	return result, nil
}

// redeemCoupon counts one use of the booking's coupon unless the limit has
// been reached by other bookings in the meantime.
func (d *DB) redeemCoupon(ctx context.Context, tx bun.Tx, bookingID string) (bool, error) {
	var nullable sql.NullString
	err := tx.NewSelect().
		Model((*models.Booking)(nil)).
		Column("coupon_id").
		Where("id = ?", bookingID).
		Where("coupon_redeemed = ?", false).
		Scan(ctx, &nullable)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("failed to load booking coupon: %w", err)
	}
	couponID := nullable.String
	if couponID == "" {
		return false, nil
	}

	res, err := tx.NewUpdate().
		Model((*models.Coupon)(nil)).
		Set("usage_count = usage_count + 1").
		Where("id = ?", couponID).
		Where("(usage_limit = 0 OR usage_count < usage_limit)").
		Exec(ctx)
	if err != nil {
		return false, fmt.Errorf("failed to redeem coupon: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		d.Logger.Warn("COUPON", fmt.Sprintf("Coupon %s reached its usage limit before booking %s was paid", couponID, bookingID))
		return false, nil
	}

	_, err = tx.NewUpdate().
		Model((*models.Booking)(nil)).
		Set("coupon_redeemed = ?", true).
		Where("id = ?", bookingID).
		Exec(ctx)
	if err != nil {
		return false, fmt.Errorf("failed to mark coupon redeemed: %w", err)
	}
	return true, nil
}

// RecordPaymentEntry appends to the ledger; a repeated transaction id is a no-op.
func (d *DB) RecordPaymentEntry(ctx context.Context, entry *models.PaymentEntry) (bool, error) {
	return insertLedgerEntry(ctx, d.Bun, entry)
}

func insertLedgerEntry(ctx context.Context, db bun.IDB, entry *models.PaymentEntry) (bool, error) {
	res, err := db.NewInsert().
		Model(entry).
		On("CONFLICT (transaction_id) DO NOTHING").
		Exec(ctx)
	if err != nil {
		return false, fmt.Errorf("failed to append payment ledger entry: %w", err)
	}
	n, _ := res.RowsAffected()
	return n == 1, nil
}

func (d *DB) ListPayments(ctx context.Context, bookingID string) ([]models.PaymentEntry, error) {
	var entries []models.PaymentEntry
	err := d.Bun.NewSelect().
		Model(&entries).
		Where("booking_id = ?", bookingID).
		Order("created_at ASC").
		Scan(ctx)
	if err != nil {
		return nil, err
	}
	return entries, nil
}

func (d *DB) MarkCapacityApplied(ctx context.Context, bookingID string) error {
	return d.setFlag(ctx, bookingID, "capacity_applied", true)
}

// ClaimNotification sets notification_sent only if it was still false. The
// caller that gets true owns the payment notification; everyone else skips it.
func (d *DB) ClaimNotification(ctx context.Context, bookingID string) (bool, error) {
	res, err := d.Bun.NewUpdate().
		Model((*models.Booking)(nil)).
		Set("notification_sent = ?", true).
		Set("updated_at = ?", time.Now().UTC()).
		Where("id = ?", bookingID).
		Where("payment_status = ?", models.PaymentPaid).
		Where("notification_sent = ?", false).
		Exec(ctx)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n == 1, nil
}

// ReleaseNotification hands a claimed notification back to the settlement
// sweep after it could not be queued or published.
func (d *DB) ReleaseNotification(ctx context.Context, bookingID string) error {
	return d.setFlag(ctx, bookingID, "notification_sent", false)
}

func (d *DB) setFlag(ctx context.Context, bookingID, column string, value bool) error {
	_, err := d.Bun.NewUpdate().
		Model((*models.Booking)(nil)).
		Set("? = ?", bun.Ident(column), value).
		Set("updated_at = ?", time.Now().UTC()).
		Where("id = ?", bookingID).
		Exec(ctx)
	return err
}

// ---------------- STAFF TRANSITIONS ----------------

// Transition moves a booking from one of the expected states to `to` in a
// single conditional UPDATE, setting any extra columns alongside. It reports
// false when the booking was not in any expected state.
func (d *DB) Transition(ctx context.Context, bookingID string, from []models.BookingStatus, to models.BookingStatus, fields map[string]interface{}) (bool, error) {
	q := d.Bun.NewUpdate().
		Model((*models.Booking)(nil)).
		Set("booking_status = ?", to).
		Set("updated_at = ?", time.Now().UTC()).
		Where("id = ?", bookingID).
		Where("booking_status IN (?)", bun.In(from))
	if to != models.BookingPreBooking {
		q = q.Set("expires_at = NULL")
	}

	columns := make([]string, 0, len(fields))
	for column := range fields {
		columns = append(columns, column)
	}
	sort.Strings(columns)
	for _, column := range columns {
		q = q.Set("? = ?", bun.Ident(column), fields[column])
	}

	res, err := q.Exec(ctx)
	if err != nil {
		return false, fmt.Errorf("failed to move booking %s to %s: %w", bookingID, to, err)
	}
	n, _ := res.RowsAffected()
	if n == 1 {
		d.Logger.LogDatabase("TRANSITION", "bookings", fmt.Sprintf("%s -> %s", bookingID, to))
	}
	return n == 1, nil
}

// ---------------- EXPIRY ----------------

// DeleteExpired removes every pre-booking whose hold ran out before now. The
// predicate is what keeps confirmed bookings safe: they no longer match it.
func (d *DB) DeleteExpired(ctx context.Context, now time.Time) (int64, error) {
	res, err := d.Bun.NewDelete().
		Model((*models.Booking)(nil)).
		Where("booking_status = ?", models.BookingPreBooking).
		Where("expires_at < ?", now).
		Exec(ctx)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

// DeleteExpiredByID is DeleteExpired for a single booking.
func (d *DB) DeleteExpiredByID(ctx context.Context, bookingID string, now time.Time) (bool, error) {
	res, err := d.Bun.NewDelete().
		Model((*models.Booking)(nil)).
		Where("id = ?", bookingID).
		Where("booking_status = ?", models.BookingPreBooking).
		Where("expires_at < ?", now).
		Exec(ctx)
	if err != nil {
		return false, err
	}
	n, _ := res.RowsAffected()
	return n == 1, nil
}

// ListUnsettled returns paid bookings confirmed before olderThan whose capacity
// adjustment or notification has not been recorded yet.
func (d *DB) ListUnsettled(ctx context.Context, olderThan time.Time, limit int) ([]models.Booking, error) {
	var bookings []models.Booking
	err := d.Bun.NewSelect().
		Model(&bookings).
		Where("payment_status = ?", models.PaymentPaid).
		WhereGroup(" AND ", func(q *bun.SelectQuery) *bun.SelectQuery {
			return q.Where("capacity_applied = ?", false).WhereOr("notification_sent = ?", false)
		}).
		Where("confirmed_at < ?", olderThan).
		Order("confirmed_at ASC").
		Limit(limit).
		Scan(ctx)
	if err != nil {
		return nil, err
	}
	return bookings, nil
}
