package db_test

import (
	"context"
	"database/sql"
	"testing"
	"time"

	"ms-booking/internal/booking/db"
	"ms-booking/internal/models"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/uptrace/bun"
	"github.com/uptrace/bun/dialect/sqlitedialect"
	_ "github.com/uptrace/bun/driver/sqliteshim"
)

func setupTestDB(t *testing.T) (*db.DB, *bun.DB) {
	// In-memory SQLite; one connection so every query sees the same database.
	sqldb, err := sql.Open("sqlite", ":memory:")
	if err != nil {
		t.Fatalf("Failed to connect to in-memory database: %v", err)
	}
	sqldb.SetMaxOpenConns(1)

	bunDB := bun.NewDB(sqldb, sqlitedialect.New())
	if err := db.CreateSchema(context.Background(), bunDB); err != nil {
		t.Fatalf("Failed to create schema: %v", err)
	}
	t.Cleanup(func() { bunDB.Close() })

	return db.New(bunDB, nil), bunDB
}

func newPreBooking(now time.Time) *models.Booking {
	expires := now.Add(5 * time.Minute)
	return &models.Booking{
		ID:             uuid.NewString(),
		BookingCode:    "TB261019" + uuid.NewString()[:6],
		TourID:         "tour-1",
		Contact:        models.Contact{Name: "Nguyen Van A", Email: "a@example.com", Phone: "0901234567"},
		PartySize:      2,
		DepartureDate:  time.Date(2026, 12, 1, 0, 0, 0, 0, time.UTC),
		UnitPrice:      2000000,
		SubtotalAmount: 4000000,
		TotalAmount:    4000000,
		BookingStatus:  models.BookingPreBooking,
		PaymentStatus:  models.PaymentPending,
		ExpiresAt:      &expires,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
}

func ledgerEntry(bookingID, transID string, status models.LedgerStatus) *models.PaymentEntry {
	return &models.PaymentEntry{
		ID:            uuid.NewString(),
		BookingID:     bookingID,
		TransactionID: transID,
		RequestID:     "req-1",
		OrderID:       "order-1",
		Amount:        4000000,
		Method:        "qr",
		Status:        status,
		CreatedAt:     time.Now().UTC(),
	}
}

func TestCreateAndGetBooking(t *testing.T) {
	bookingDB, _ := setupTestDB(t)
	ctx := context.Background()
	now := time.Now().UTC()

	b := newPreBooking(now)
	require.NoError(t, bookingDB.CreateBooking(ctx, b))

	got, err := bookingDB.GetBookingByID(ctx, b.ID)
	require.NoError(t, err)
	assert.Equal(t, b.BookingCode, got.BookingCode)
	assert.Equal(t, models.BookingPreBooking, got.BookingStatus)
	assert.Equal(t, "a@example.com", got.Contact.Email)
	require.NotNil(t, got.ExpiresAt)
	assert.Empty(t, got.UserID)

	got, err = bookingDB.GetBookingByCode(ctx, b.BookingCode)
	require.NoError(t, err)
	assert.Equal(t, b.ID, got.ID)

	_, err = bookingDB.GetBookingByID(ctx, uuid.NewString())
	assert.ErrorIs(t, err, db.ErrNotFound)
}

func TestConfirmPayment_Idempotent(t *testing.T) {
	bookingDB, _ := setupTestDB(t)
	ctx := context.Background()
	now := time.Now().UTC()

	b := newPreBooking(now)
	require.NoError(t, bookingDB.CreateBooking(ctx, b))

	res, err := bookingDB.ConfirmPayment(ctx, b.ID, models.BookingConfirmed, ledgerEntry(b.ID, "TX1", models.LedgerSuccess), now)
	require.NoError(t, err)
	assert.True(t, res.Transitioned)
	assert.True(t, res.LedgerInserted)

	res, err = bookingDB.ConfirmPayment(ctx, b.ID, models.BookingConfirmed, ledgerEntry(b.ID, "TX1", models.LedgerSuccess), now)
	require.NoError(t, err)
	assert.False(t, res.Transitioned)
	assert.False(t, res.LedgerInserted)

	got, err := bookingDB.GetBookingByID(ctx, b.ID)
	require.NoError(t, err)
	assert.Equal(t, models.BookingConfirmed, got.BookingStatus)
	assert.Equal(t, models.PaymentPaid, got.PaymentStatus)
	assert.Nil(t, got.ExpiresAt)
	assert.NotNil(t, got.ConfirmedAt)
	assert.NoError(t, got.CheckInvariants())

	entries, err := bookingDB.ListPayments(ctx, b.ID)
	require.NoError(t, err)
	assert.Len(t, entries, 1)
}

func TestConfirmPayment_RedeemsCouponOnce(t *testing.T) {
	bookingDB, bunDB := setupTestDB(t)
	ctx := context.Background()
	now := time.Now().UTC()

	coupon := &models.Coupon{
		ID: uuid.NewString(), Code: "SUMMER10", DiscountType: models.DiscountPercentage, Value: 10,
		StartDate: now.Add(-time.Hour), EndDate: now.Add(time.Hour), UsageLimit: 2, UsageCount: 1,
		Status: models.CouponActive,
	}
	_, err := bunDB.NewInsert().Model(coupon).Exec(ctx)
	require.NoError(t, err)

	first := newPreBooking(now)
	first.CouponID = coupon.ID
	first.CouponCode = coupon.Code
	second := newPreBooking(now)
	second.CouponID = coupon.ID
	second.CouponCode = coupon.Code
	require.NoError(t, bookingDB.CreateBooking(ctx, first))
	require.NoError(t, bookingDB.CreateBooking(ctx, second))

	res, err := bookingDB.ConfirmPayment(ctx, first.ID, models.BookingConfirmed, ledgerEntry(first.ID, "TX1", models.LedgerSuccess), now)
	require.NoError(t, err)
	assert.True(t, res.CouponRedeemed)

	// Replay does not count the coupon again.
	res, err = bookingDB.ConfirmPayment(ctx, first.ID, models.BookingConfirmed, ledgerEntry(first.ID, "TX1", models.LedgerSuccess), now)
	require.NoError(t, err)
	assert.False(t, res.CouponRedeemed)

	// The limit is now reached: the second booking still confirms but the
	// counter stays at the limit.
	res, err = bookingDB.ConfirmPayment(ctx, second.ID, models.BookingConfirmed, ledgerEntry(second.ID, "TX2", models.LedgerSuccess), now)
	require.NoError(t, err)
	assert.True(t, res.Transitioned)
	assert.False(t, res.CouponRedeemed)

	var stored models.Coupon
	require.NoError(t, bunDB.NewSelect().Model(&stored).Where("id = ?", coupon.ID).Scan(ctx))
	assert.Equal(t, 2, stored.UsageCount)
}

func TestConfirmPayment_PendingTarget(t *testing.T) {
	bookingDB, _ := setupTestDB(t)
	ctx := context.Background()
	now := time.Now().UTC()

	b := newPreBooking(now)
	require.NoError(t, bookingDB.CreateBooking(ctx, b))

	res, err := bookingDB.ConfirmPayment(ctx, b.ID, models.BookingPending, ledgerEntry(b.ID, "TX1", models.LedgerSuccess), now)
	require.NoError(t, err)
	assert.True(t, res.Transitioned)

	got, err := bookingDB.GetBookingByID(ctx, b.ID)
	require.NoError(t, err)
	assert.Equal(t, models.BookingPending, got.BookingStatus)
	assert.Equal(t, models.PaymentPaid, got.PaymentStatus)
	assert.Nil(t, got.ExpiresAt)
}

func TestRecordPaymentEntry_FailedDeduplicated(t *testing.T) {
	bookingDB, _ := setupTestDB(t)
	ctx := context.Background()
	now := time.Now().UTC()

	b := newPreBooking(now)
	require.NoError(t, bookingDB.CreateBooking(ctx, b))

	inserted, err := bookingDB.RecordPaymentEntry(ctx, ledgerEntry(b.ID, "failed:req-1", models.LedgerFailed))
	require.NoError(t, err)
	assert.True(t, inserted)

	inserted, err = bookingDB.RecordPaymentEntry(ctx, ledgerEntry(b.ID, "failed:req-1", models.LedgerFailed))
	require.NoError(t, err)
	assert.False(t, inserted)

	got, err := bookingDB.GetBookingByID(ctx, b.ID)
	require.NoError(t, err)
	assert.Equal(t, models.BookingPreBooking, got.BookingStatus)
	require.NotNil(t, got.ExpiresAt)
}

func TestDeleteExpired_OnlyUnpaidPreBookings(t *testing.T) {
	bookingDB, _ := setupTestDB(t)
	ctx := context.Background()
	now := time.Now().UTC()

	expired := newPreBooking(now.Add(-10 * time.Minute))
	live := newPreBooking(now)
	paid := newPreBooking(now.Add(-10 * time.Minute))
	for _, b := range []*models.Booking{expired, live, paid} {
		require.NoError(t, bookingDB.CreateBooking(ctx, b))
	}
	_, err := bookingDB.ConfirmPayment(ctx, paid.ID, models.BookingConfirmed, ledgerEntry(paid.ID, "TX1", models.LedgerSuccess), now)
	require.NoError(t, err)

	n, err := bookingDB.DeleteExpired(ctx, now)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	_, err = bookingDB.GetBookingByID(ctx, expired.ID)
	assert.ErrorIs(t, err, db.ErrNotFound)
	_, err = bookingDB.GetBookingByID(ctx, live.ID)
	assert.NoError(t, err)
	_, err = bookingDB.GetBookingByID(ctx, paid.ID)
	assert.NoError(t, err)

	// Ledger rows outlive reaped bookings.
	_, err = bookingDB.RecordPaymentEntry(ctx, ledgerEntry(expired.ID, "failed:req-x", models.LedgerFailed))
	require.NoError(t, err)
	entries, err := bookingDB.ListPayments(ctx, expired.ID)
	require.NoError(t, err)
	assert.Len(t, entries, 1)
}

func TestDeleteExpiredByID(t *testing.T) {
	bookingDB, _ := setupTestDB(t)
	ctx := context.Background()
	now := time.Now().UTC()

	b := newPreBooking(now.Add(-10 * time.Minute))
	require.NoError(t, bookingDB.CreateBooking(ctx, b))

	deleted, err := bookingDB.DeleteExpiredByID(ctx, b.ID, now.Add(-time.Hour))
	require.NoError(t, err)
	assert.False(t, deleted, "hold still running at that instant")

	deleted, err = bookingDB.DeleteExpiredByID(ctx, b.ID, now)
	require.NoError(t, err)
	assert.True(t, deleted)
}

func TestTransition_Conditional(t *testing.T) {
	bookingDB, _ := setupTestDB(t)
	ctx := context.Background()
	now := time.Now().UTC()

	b := newPreBooking(now)
	require.NoError(t, bookingDB.CreateBooking(ctx, b))
	_, err := bookingDB.ConfirmPayment(ctx, b.ID, models.BookingConfirmed, ledgerEntry(b.ID, "TX1", models.LedgerSuccess), now)
	require.NoError(t, err)

	ok, err := bookingDB.Transition(ctx, b.ID, []models.BookingStatus{models.BookingConfirmed}, models.BookingRefundRequested,
		map[string]interface{}{"refund_reason": "weather", "refund_requested_by": "user-1"})
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = bookingDB.Transition(ctx, b.ID, []models.BookingStatus{models.BookingConfirmed}, models.BookingCompleted, nil)
	require.NoError(t, err)
	assert.False(t, ok, "booking is no longer confirmed")

	got, err := bookingDB.GetBookingByID(ctx, b.ID)
	require.NoError(t, err)
	assert.Equal(t, models.BookingRefundRequested, got.BookingStatus)
	assert.Equal(t, "weather", got.RefundReason)
}

func TestListUnsettledAndMarkers(t *testing.T) {
	bookingDB, _ := setupTestDB(t)
	ctx := context.Background()
	now := time.Now().UTC()

	b := newPreBooking(now)
	require.NoError(t, bookingDB.CreateBooking(ctx, b))
	_, err := bookingDB.ConfirmPayment(ctx, b.ID, models.BookingConfirmed, ledgerEntry(b.ID, "TX1", models.LedgerSuccess), now.Add(-time.Hour))
	require.NoError(t, err)

	unsettled, err := bookingDB.ListUnsettled(ctx, now, 10)
	require.NoError(t, err)
	require.Len(t, unsettled, 1)
	assert.Equal(t, b.ID, unsettled[0].ID)

	require.NoError(t, bookingDB.MarkCapacityApplied(ctx, b.ID))
	unsettled, err = bookingDB.ListUnsettled(ctx, now, 10)
	require.NoError(t, err)
	assert.Len(t, unsettled, 1, "notification still owed")

	claimed, err := bookingDB.ClaimNotification(ctx, b.ID)
	require.NoError(t, err)
	assert.True(t, claimed)
	unsettled, err = bookingDB.ListUnsettled(ctx, now, 10)
	require.NoError(t, err)
	assert.Empty(t, unsettled)

	claimed, err = bookingDB.ClaimNotification(ctx, b.ID)
	require.NoError(t, err)
	assert.False(t, claimed, "only one caller owns the notification")

	require.NoError(t, bookingDB.ReleaseNotification(ctx, b.ID))
	unsettled, err = bookingDB.ListUnsettled(ctx, now, 10)
	require.NoError(t, err)
	assert.Len(t, unsettled, 1, "released claim is owed again")
}

func TestClaimNotification_UnpaidBooking(t *testing.T) {
	bookingDB, _ := setupTestDB(t)
	ctx := context.Background()

	b := newPreBooking(time.Now().UTC())
	require.NoError(t, bookingDB.CreateBooking(ctx, b))

	claimed, err := bookingDB.ClaimNotification(ctx, b.ID)
	require.NoError(t, err)
	assert.False(t, claimed)
}

func TestFindCouponByCode(t *testing.T) {
	bookingDB, bunDB := setupTestDB(t)
	ctx := context.Background()
	now := time.Now().UTC()

	max := int64(300000)
	coupon := &models.Coupon{
		ID: uuid.NewString(), Code: "SUMMER10", DiscountType: models.DiscountPercentage, Value: 10,
		MaxDiscount: &max, StartDate: now, EndDate: now.Add(time.Hour), Status: models.CouponActive,
		EligibleTourIDs: []string{"tour-1"},
	}
	_, err := bunDB.NewInsert().Model(coupon).Exec(ctx)
	require.NoError(t, err)

	got, err := bookingDB.FindCouponByCode(ctx, "SUMMER10")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, []string{"tour-1"}, got.EligibleTourIDs)
	require.NotNil(t, got.MaxDiscount)
	assert.Equal(t, int64(300000), *got.MaxDiscount)

	got, err = bookingDB.FindCouponByCode(ctx, "NOPE")
	require.NoError(t, err)
	assert.Nil(t, got)
}
