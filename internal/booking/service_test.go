package booking_test

import (
	"context"
	"errors"
	"net/http"
	"testing"
	"time"

	"ms-booking/internal/booking"
	"ms-booking/internal/booking/bookingtest"
	"ms-booking/internal/booking/discount"
	bookingredis "ms-booking/internal/booking/redis"
	"ms-booking/internal/gateway"
	"ms-booking/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func int64Ptr(v int64) *int64 { return &v }

func TestCreate_PreBookingWithHold(t *testing.T) {
	h := bookingtest.New(t, booking.Options{})
	h.AddTour(bookingtest.TourID, 2000000, 0, 20)
	ctx := context.Background()

	b, err := h.Service.Create(ctx, "", h.Request(bookingtest.TourID, 2, ""))
	require.NoError(t, err)

	assert.Equal(t, int64(4000000), b.TotalAmount)
	assert.Equal(t, int64(4000000), b.SubtotalAmount)
	assert.Zero(t, b.DiscountAmount)
	assert.Equal(t, models.BookingPreBooking, b.BookingStatus)
	assert.Equal(t, models.PaymentPending, b.PaymentStatus)
	require.NotNil(t, b.ExpiresAt)
	assert.Equal(t, h.Now().Add(5*time.Minute), *b.ExpiresAt)
	assert.Regexp(t, `^TB\d{6}[2-9A-HJ-NP-Z]{6}$`, b.BookingCode)
	assert.NoError(t, b.CheckInvariants())

	held, err := h.Holds.HasHold(ctx, b.ID)
	require.NoError(t, err)
	assert.True(t, held)

	payments, err := h.Service.ListPayments(ctx, b.ID)
	require.NoError(t, err)
	assert.Empty(t, payments)

	// Creating does not touch capacity.
	assert.Equal(t, 0, h.Tour(bookingtest.TourID).CapacityCurrent)
}

func TestCreate_WithPercentageCoupon(t *testing.T) {
	h := bookingtest.New(t, booking.Options{})
	h.AddTour(bookingtest.TourID, 2000000, 0, 20)
	coupon := h.AddCoupon(&models.Coupon{
		Code:         "SUMMER10",
		DiscountType: models.DiscountPercentage,
		Value:        10,
		MaxDiscount:  int64Ptr(300000),
		UsageLimit:   100,
	})

	b, err := h.Service.Create(context.Background(), "user-1", h.Request(bookingtest.TourID, 2, "summer10"))
	require.NoError(t, err)

	assert.Equal(t, int64(300000), b.DiscountAmount)
	assert.Equal(t, int64(3700000), b.TotalAmount)
	assert.Equal(t, "SUMMER10", b.CouponCode)
	assert.Equal(t, coupon.ID, b.CouponID)
	assert.Equal(t, "user-1", b.UserID)

	// Usage is only counted once the booking is paid.
	assert.Equal(t, 0, h.Coupon(coupon.ID).UsageCount)
}

func TestCreate_CouponRejections(t *testing.T) {
	h := bookingtest.New(t, booking.Options{})
	h.AddTour(bookingtest.TourID, 2000000, 0, 20)
	h.AddCoupon(&models.Coupon{Code: "USEDUP", DiscountType: models.DiscountFixedAmount, Value: 100000, UsageLimit: 1, UsageCount: 1})
	h.AddCoupon(&models.Coupon{Code: "OTHERTOUR", DiscountType: models.DiscountFixedAmount, Value: 100000, EligibleTourIDs: []string{"tour-sapa"}})

	tests := []struct {
		code   string
		reason discount.RejectReason
	}{
		{"NOPE", discount.ReasonNotFound},
		{"USEDUP", discount.ReasonUsageLimitExceeded},
		{"OTHERTOUR", discount.ReasonTourNotEligible},
	}
	for _, tt := range tests {
		t.Run(tt.code, func(t *testing.T) {
			_, err := h.Service.Create(context.Background(), "", h.Request(bookingtest.TourID, 2, tt.code))
			var couponErr *discount.CouponError
			require.True(t, errors.As(err, &couponErr), "got %v", err)
			assert.Equal(t, tt.reason, couponErr.Reason)
			assert.Equal(t, http.StatusUnprocessableEntity, booking.ToAPIError(err).StatusCode)
		})
	}
}

func TestCreate_ValidationErrors(t *testing.T) {
	h := bookingtest.New(t, booking.Options{})
	h.AddTour(bookingtest.TourID, 2000000, 18, 20)
	h.AddTour("tour-cheap", 500, 0, 20)
	ctx := context.Background()

	tests := []struct {
		name   string
		mutate func(r *models.CreateBookingRequest)
		want   error
	}{
		{"unknown tour", func(r *models.CreateBookingRequest) { r.TourID = "tour-missing" }, booking.ErrTourNotFound},
		{"bad email", func(r *models.CreateBookingRequest) { r.Contact.Email = "not-an-email" }, booking.ErrInvalidContact},
		{"missing name", func(r *models.CreateBookingRequest) { r.Contact.Name = " " }, booking.ErrInvalidContact},
		{"bad phone", func(r *models.CreateBookingRequest) { r.Contact.Phone = "09-abc" }, booking.ErrInvalidContact},
		{"zero party", func(r *models.CreateBookingRequest) { r.PartySize = 0 }, booking.ErrInvalidPartySize},
		{"huge party", func(r *models.CreateBookingRequest) { r.PartySize = booking.MaxPartySize + 1 }, booking.ErrInvalidPartySize},
		{"bad date", func(r *models.CreateBookingRequest) { r.DepartureDate = "12/01/2026" }, booking.ErrInvalidDate},
		{"past date", func(r *models.CreateBookingRequest) { r.DepartureDate = h.Now().Format("2006-01-02") }, booking.ErrInvalidDate},
		{"over capacity", func(r *models.CreateBookingRequest) { r.PartySize = 3 }, booking.ErrInsufficientCapacity},
		{"below gateway minimum", func(r *models.CreateBookingRequest) { r.TourID = "tour-cheap"; r.PartySize = 1 }, booking.ErrInvalidAmount},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := h.Request(bookingtest.TourID, 2, "")
			tt.mutate(&req)
			_, err := h.Service.Create(ctx, "", req)
			assert.ErrorIs(t, err, tt.want)
		})
	}

	count, err := h.Bun.NewSelect().Model((*models.Booking)(nil)).Count(ctx)
	require.NoError(t, err)
	assert.Zero(t, count)
}

func TestCreate_InactiveTour(t *testing.T) {
	h := bookingtest.New(t, booking.Options{})
	h.AddTour(bookingtest.TourID, 2000000, 0, 20)
	_, err := h.Bun.NewUpdate().Model((*models.Tour)(nil)).
		Set("status = ?", models.TourInactive).
		Where("id = ?", bookingtest.TourID).
		Exec(context.Background())
	require.NoError(t, err)

	_, err = h.Service.Create(context.Background(), "", h.Request(bookingtest.TourID, 2, ""))
	assert.ErrorIs(t, err, booking.ErrTourUnavailable)
}

func TestPreviewPrice(t *testing.T) {
	h := bookingtest.New(t, booking.Options{})
	h.AddTour(bookingtest.TourID, 2000000, 0, 20)
	coupon := h.AddCoupon(&models.Coupon{Code: "FLAT500K", DiscountType: models.DiscountFixedAmount, Value: 500000, MinPurchase: 1000000})

	quote, err := h.Service.PreviewPrice(context.Background(), models.PriceQuoteRequest{
		TourID: bookingtest.TourID, PartySize: 2, CouponCode: "FLAT500K",
	})
	require.NoError(t, err)
	assert.Equal(t, int64(4000000), quote.SubtotalAmount)
	assert.Equal(t, int64(500000), quote.DiscountAmount)
	assert.Equal(t, int64(3500000), quote.TotalAmount)
	assert.Equal(t, 0, h.Coupon(coupon.ID).UsageCount)

	_, err = h.Service.PreviewPrice(context.Background(), models.PriceQuoteRequest{
		TourID: bookingtest.TourID, PartySize: 0,
	})
	assert.ErrorIs(t, err, booking.ErrInvalidPartySize)
}

func TestStartPayment(t *testing.T) {
	h := bookingtest.New(t, booking.Options{})
	h.AddTour(bookingtest.TourID, 2000000, 0, 20)
	ctx := context.Background()

	b, err := h.Service.Create(ctx, "", h.Request(bookingtest.TourID, 2, ""))
	require.NoError(t, err)

	resp, err := h.Service.StartPayment(ctx, b.ID)
	require.NoError(t, err)
	assert.Equal(t, b.ID, resp.BookingID)
	assert.Contains(t, resp.PayURL, b.BookingCode)
	assert.NotEmpty(t, resp.RequestID)
	assert.Equal(t, int64(4000000), resp.Amount)
	assert.WithinDuration(t, *b.ExpiresAt, resp.ExpiresAt, time.Millisecond)

	// The lock is released afterwards so the customer can retry.
	_, err = h.Service.StartPayment(ctx, b.ID)
	assert.NoError(t, err)
}

func TestStartPayment_LockedByConcurrentStart(t *testing.T) {
	h := bookingtest.New(t, booking.Options{})
	h.AddTour(bookingtest.TourID, 2000000, 0, 20)
	ctx := context.Background()

	b, err := h.Service.Create(ctx, "", h.Request(bookingtest.TourID, 2, ""))
	require.NoError(t, err)

	ok, err := h.Holds.AcquirePaymentLock(ctx, b.ID, "other-request", time.Minute)
	require.NoError(t, err)
	require.True(t, ok)

	_, err = h.Service.StartPayment(ctx, b.ID)
	assert.ErrorIs(t, err, booking.ErrPaymentInProgress)
}

func TestStartPayment_TimeoutLeavesNoTrace(t *testing.T) {
	h := bookingtest.New(t, booking.Options{})
	h.AddTour(bookingtest.TourID, 2000000, 0, 20)
	ctx := context.Background()
	h.SetGatewayHandler(func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(300 * time.Millisecond)
	})

	b, err := h.Service.Create(ctx, "", h.Request(bookingtest.TourID, 2, ""))
	require.NoError(t, err)

	timeoutCtx, cancel := context.WithTimeout(ctx, 50*time.Millisecond)
	defer cancel()
	_, err = h.Service.StartPayment(timeoutCtx, b.ID)
	assert.ErrorIs(t, err, gateway.ErrGatewayTimeout)
	assert.Equal(t, http.StatusGatewayTimeout, booking.ToAPIError(err).StatusCode)

	payments, err := h.Service.ListPayments(ctx, b.ID)
	require.NoError(t, err)
	assert.Empty(t, payments)

	got, err := h.Service.GetBooking(ctx, b.ID)
	require.NoError(t, err)
	assert.Equal(t, models.BookingPreBooking, got.BookingStatus)

	locked, err := h.Redis.Exists(ctx, "payment_lock:"+b.ID).Result()
	require.NoError(t, err)
	assert.Zero(t, locked)
}

func TestStartPayment_RejectsExpiredAndPaid(t *testing.T) {
	h := bookingtest.New(t, booking.Options{})
	h.AddTour(bookingtest.TourID, 2000000, 0, 20)
	ctx := context.Background()

	expired, err := h.Service.Create(ctx, "", h.Request(bookingtest.TourID, 2, ""))
	require.NoError(t, err)
	paid, err := h.Service.Create(ctx, "", h.Request(bookingtest.TourID, 2, ""))
	require.NoError(t, err)

	_, err = h.Service.ApplyGatewayOutcome(ctx, paid.ID, models.GatewayOutcome{Success: true, TransactionID: "TX-PAID", Amount: paid.TotalAmount})
	require.NoError(t, err)
	_, err = h.Service.StartPayment(ctx, paid.ID)
	assert.ErrorIs(t, err, booking.ErrAlreadyPaid)

	h.Advance(6 * time.Minute)
	_, err = h.Service.StartPayment(ctx, expired.ID)
	assert.ErrorIs(t, err, booking.ErrBookingExpired)

	_, err = h.Service.StartPayment(ctx, "4f1c2d1e-0000-4000-8000-000000000000")
	assert.ErrorIs(t, err, booking.ErrBookingNotFound)
}

func TestApplyGatewayOutcome_SuccessAppliesEverything(t *testing.T) {
	h := bookingtest.New(t, booking.Options{})
	h.AddTour(bookingtest.TourID, 2000000, 5, 20)
	coupon := h.AddCoupon(&models.Coupon{Code: "SUMMER10", DiscountType: models.DiscountPercentage, Value: 10, MaxDiscount: int64Ptr(300000), UsageLimit: 10})
	ctx := context.Background()

	b, err := h.Service.Create(ctx, "user-1", h.Request(bookingtest.TourID, 2, "SUMMER10"))
	require.NoError(t, err)

	got, err := h.Service.ApplyGatewayOutcome(ctx, b.ID, models.GatewayOutcome{
		Success: true, TransactionID: "TX1", RequestID: "req-1", OrderID: "order-1", Amount: 3700000, PayType: "qr",
	})
	require.NoError(t, err)

	assert.Equal(t, models.BookingConfirmed, got.BookingStatus)
	assert.Equal(t, models.PaymentPaid, got.PaymentStatus)
	assert.Nil(t, got.ExpiresAt)
	assert.NotNil(t, got.ConfirmedAt)
	assert.True(t, got.CapacityApplied)
	assert.True(t, got.NotificationSent)
	assert.True(t, got.CouponRedeemed)
	assert.NoError(t, got.CheckInvariants())

	assert.Equal(t, 7, h.Tour(bookingtest.TourID).CapacityCurrent)
	assert.Equal(t, 1, h.Coupon(coupon.ID).UsageCount)

	held, err := h.Holds.HasHold(ctx, b.ID)
	require.NoError(t, err)
	assert.False(t, held)

	notifications := h.Notifier.Requests()
	require.Len(t, notifications, 1)
	assert.Equal(t, models.NotifyPayment, notifications[0].Kind)
	assert.Equal(t, "user-1", notifications[0].UserID)
	assert.Equal(t, int64(3700000), notifications[0].Amount)

	events := h.Events.Events()
	require.NotEmpty(t, events)
	assert.Equal(t, "booking.paid", events[len(events)-1].Type)
	assert.Equal(t, models.BookingConfirmed, events[len(events)-1].BookingStatus)
}

func TestApplyGatewayOutcome_PendingTarget(t *testing.T) {
	h := bookingtest.New(t, booking.Options{SuccessStatus: models.BookingPending})
	h.AddTour(bookingtest.TourID, 2000000, 0, 20)
	ctx := context.Background()

	b, err := h.Service.Create(ctx, "", h.Request(bookingtest.TourID, 1, ""))
	require.NoError(t, err)

	got, err := h.Service.ApplyGatewayOutcome(ctx, b.ID, models.GatewayOutcome{Success: true, TransactionID: "TX1", Amount: 2000000})
	require.NoError(t, err)
	assert.Equal(t, models.BookingPending, got.BookingStatus)
	assert.Equal(t, models.PaymentPaid, got.PaymentStatus)
	assert.Nil(t, got.ExpiresAt)
}

func TestApplyGatewayOutcome_ReplayIsNoOp(t *testing.T) {
	h := bookingtest.New(t, booking.Options{})
	h.AddTour(bookingtest.TourID, 2000000, 0, 20)
	coupon := h.AddCoupon(&models.Coupon{Code: "FLAT", DiscountType: models.DiscountFixedAmount, Value: 100000})
	ctx := context.Background()

	b, err := h.Service.Create(ctx, "", h.Request(bookingtest.TourID, 2, "FLAT"))
	require.NoError(t, err)
	outcome := models.GatewayOutcome{Success: true, TransactionID: "TX1", Amount: b.TotalAmount}

	first, err := h.Service.ApplyGatewayOutcome(ctx, b.ID, outcome)
	require.NoError(t, err)
	for i := 0; i < 3; i++ {
		h.Advance(time.Second)
		again, err := h.Service.ApplyGatewayOutcome(ctx, b.ID, outcome)
		require.NoError(t, err)
		assert.Equal(t, first.BookingStatus, again.BookingStatus)
		assert.Equal(t, first.ConfirmedAt, again.ConfirmedAt)
	}

	payments, err := h.Service.ListPayments(ctx, b.ID)
	require.NoError(t, err)
	assert.Len(t, payments, 1)
	assert.Equal(t, 2, h.Tour(bookingtest.TourID).CapacityCurrent)
	assert.Equal(t, 1, h.Coupon(coupon.ID).UsageCount)
	assert.Len(t, h.Notifier.Requests(), 1)
}

func TestApplyGatewayOutcome_ReplayResumesMissingSideEffects(t *testing.T) {
	h := bookingtest.New(t, booking.Options{})
	h.AddTour(bookingtest.TourID, 2000000, 0, 20)
	ctx := context.Background()

	b, err := h.Service.Create(ctx, "", h.Request(bookingtest.TourID, 2, ""))
	require.NoError(t, err)
	outcome := models.GatewayOutcome{Success: true, TransactionID: "TX1", Amount: b.TotalAmount}

	h.Notifier.SetErr(errors.New("queue full"))
	got, err := h.Service.ApplyGatewayOutcome(ctx, b.ID, outcome)
	require.NoError(t, err)
	assert.True(t, got.CapacityApplied)
	assert.False(t, got.NotificationSent)
	stored, err := h.Service.GetBooking(ctx, b.ID)
	require.NoError(t, err)
	assert.False(t, stored.NotificationSent, "failed enqueue gives the claim back")

	h.Notifier.SetErr(nil)
	got, err = h.Service.ApplyGatewayOutcome(ctx, b.ID, outcome)
	require.NoError(t, err)
	assert.True(t, got.NotificationSent)

	stored, err = h.Service.GetBooking(ctx, b.ID)
	require.NoError(t, err)
	assert.True(t, stored.NotificationSent)
	assert.False(t, stored.PendingSideEffects())
	assert.Equal(t, 2, h.Tour(bookingtest.TourID).CapacityCurrent)
	assert.Len(t, h.Notifier.Requests(), 1)
}

func TestApplyGatewayOutcome_IllegalTransitionRejected(t *testing.T) {
	h := bookingtest.New(t, booking.Options{})
	h.AddTour(bookingtest.TourID, 2000000, 0, 20)
	ctx := context.Background()

	b, err := h.Service.Create(ctx, "", h.Request(bookingtest.TourID, 2, ""))
	require.NoError(t, err)
	ok, err := h.DB.Transition(ctx, b.ID, []models.BookingStatus{models.BookingPreBooking}, models.BookingCancelled, nil)
	require.NoError(t, err)
	require.True(t, ok)

	_, err = h.Service.ApplyGatewayOutcome(ctx, b.ID, models.GatewayOutcome{Success: true, TransactionID: "TX1", Amount: b.TotalAmount})
	assert.ErrorIs(t, err, booking.ErrAlreadyTerminal)
	assert.Equal(t, 0, h.Tour(bookingtest.TourID).CapacityCurrent)
	assert.Empty(t, h.Notifier.Requests())
}

func TestApplyGatewayOutcome_SecondTransactionOnPaidBooking(t *testing.T) {
	h := bookingtest.New(t, booking.Options{})
	h.AddTour(bookingtest.TourID, 2000000, 0, 20)
	ctx := context.Background()

	b, err := h.Service.Create(ctx, "", h.Request(bookingtest.TourID, 2, ""))
	require.NoError(t, err)

	_, err = h.Service.ApplyGatewayOutcome(ctx, b.ID, models.GatewayOutcome{Success: true, TransactionID: "TX1", Amount: b.TotalAmount})
	require.NoError(t, err)
	_, err = h.Service.ApplyGatewayOutcome(ctx, b.ID, models.GatewayOutcome{Success: true, TransactionID: "TX2", Amount: b.TotalAmount})
	require.NoError(t, err)

	payments, err := h.Service.ListPayments(ctx, b.ID)
	require.NoError(t, err)
	assert.Len(t, payments, 2)
	assert.Equal(t, 2, h.Tour(bookingtest.TourID).CapacityCurrent)
}

func TestApplyGatewayOutcome_FailureRecordsLedgerOnly(t *testing.T) {
	h := bookingtest.New(t, booking.Options{})
	h.AddTour(bookingtest.TourID, 2000000, 0, 20)
	ctx := context.Background()

	b, err := h.Service.Create(ctx, "", h.Request(bookingtest.TourID, 2, ""))
	require.NoError(t, err)
	failure := models.GatewayOutcome{Success: false, RequestID: "req-1", ResultCode: 1006, Amount: b.TotalAmount, Message: "Transaction denied by user."}

	for i := 0; i < 2; i++ {
		got, err := h.Service.ApplyGatewayOutcome(ctx, b.ID, failure)
		require.NoError(t, err)
		assert.Equal(t, models.BookingPreBooking, got.BookingStatus)
		assert.Equal(t, models.PaymentPending, got.PaymentStatus)
		require.NotNil(t, got.ExpiresAt)
		assert.WithinDuration(t, *b.ExpiresAt, *got.ExpiresAt, time.Millisecond)
	}

	payments, err := h.Service.ListPayments(ctx, b.ID)
	require.NoError(t, err)
	require.Len(t, payments, 1)
	assert.Equal(t, models.LedgerFailed, payments[0].Status)
	assert.Equal(t, 1006, payments[0].ResultCode)
	assert.Empty(t, h.Notifier.Requests())
	assert.Equal(t, 0, h.Tour(bookingtest.TourID).CapacityCurrent)
}

func TestApplyGatewayOutcome_AmountMismatch(t *testing.T) {
	h := bookingtest.New(t, booking.Options{})
	h.AddTour(bookingtest.TourID, 2000000, 0, 20)
	ctx := context.Background()

	b, err := h.Service.Create(ctx, "", h.Request(bookingtest.TourID, 2, ""))
	require.NoError(t, err)

	_, err = h.Service.ApplyGatewayOutcome(ctx, b.ID, models.GatewayOutcome{Success: true, TransactionID: "TX1", Amount: 1000})
	assert.ErrorIs(t, err, booking.ErrPaymentAmountMismatch)

	got, err := h.Service.GetBooking(ctx, b.ID)
	require.NoError(t, err)
	assert.Equal(t, models.BookingPreBooking, got.BookingStatus)

	payments, err := h.Service.ListPayments(ctx, b.ID)
	require.NoError(t, err)
	require.Len(t, payments, 1)
	assert.Equal(t, models.LedgerFailed, payments[0].Status)
	assert.Equal(t, "TX1", payments[0].TransactionID)
}

func TestApplyGatewayOutcome_MissingTransactionID(t *testing.T) {
	h := bookingtest.New(t, booking.Options{})
	h.AddTour(bookingtest.TourID, 2000000, 0, 20)
	ctx := context.Background()

	b, err := h.Service.Create(ctx, "", h.Request(bookingtest.TourID, 2, ""))
	require.NoError(t, err)

	_, err = h.Service.ApplyGatewayOutcome(ctx, b.ID, models.GatewayOutcome{Success: true, Amount: b.TotalAmount})
	assert.ErrorIs(t, err, booking.ErrMissingTransactionID)
}

func TestApplyGatewayOutcome_LateSuccessBeforeReaping(t *testing.T) {
	h := bookingtest.New(t, booking.Options{})
	h.AddTour(bookingtest.TourID, 2000000, 0, 20)
	ctx := context.Background()

	b, err := h.Service.Create(ctx, "", h.Request(bookingtest.TourID, 2, ""))
	require.NoError(t, err)

	h.Advance(6 * time.Minute)
	got, err := h.Service.ApplyGatewayOutcome(ctx, b.ID, models.GatewayOutcome{Success: true, TransactionID: "TX1", Amount: b.TotalAmount})
	require.NoError(t, err)
	assert.Equal(t, models.BookingConfirmed, got.BookingStatus)

	// Confirmed bookings no longer match the expiry predicate.
	deleted, err := h.DB.DeleteExpired(ctx, h.Now())
	require.NoError(t, err)
	assert.Zero(t, deleted)
}

func TestExpiryAndConfirmationAreExclusive(t *testing.T) {
	h := bookingtest.New(t, booking.Options{})
	h.AddTour(bookingtest.TourID, 2000000, 0, 20)
	ctx := context.Background()

	b, err := h.Service.Create(ctx, "", h.Request(bookingtest.TourID, 2, ""))
	require.NoError(t, err)

	h.Advance(6 * time.Minute)
	deleted, err := h.DB.DeleteExpired(ctx, h.Now())
	require.NoError(t, err)
	assert.Equal(t, int64(1), deleted)

	_, err = h.Service.ApplyGatewayOutcome(ctx, b.ID, models.GatewayOutcome{Success: true, TransactionID: "TX1", Amount: b.TotalAmount})
	assert.ErrorIs(t, err, booking.ErrBookingNotFound)
	assert.Equal(t, 0, h.Tour(bookingtest.TourID).CapacityCurrent)
	assert.Empty(t, h.Notifier.Requests())
}

func TestCouponUsageLimitAcrossBookings(t *testing.T) {
	h := bookingtest.New(t, booking.Options{})
	h.AddTour(bookingtest.TourID, 2000000, 0, 20)
	coupon := h.AddCoupon(&models.Coupon{Code: "ONCE", DiscountType: models.DiscountFixedAmount, Value: 200000, UsageLimit: 1})
	ctx := context.Background()

	// Both bookings pass validation while usage is still zero.
	first, err := h.Service.Create(ctx, "", h.Request(bookingtest.TourID, 1, "ONCE"))
	require.NoError(t, err)
	second, err := h.Service.Create(ctx, "", h.Request(bookingtest.TourID, 1, "ONCE"))
	require.NoError(t, err)

	got, err := h.Service.ApplyGatewayOutcome(ctx, first.ID, models.GatewayOutcome{Success: true, TransactionID: "TX1", Amount: first.TotalAmount})
	require.NoError(t, err)
	assert.True(t, got.CouponRedeemed)

	got, err = h.Service.ApplyGatewayOutcome(ctx, second.ID, models.GatewayOutcome{Success: true, TransactionID: "TX2", Amount: second.TotalAmount})
	require.NoError(t, err)
	assert.Equal(t, models.BookingConfirmed, got.BookingStatus)
	assert.False(t, got.CouponRedeemed)

	assert.Equal(t, 1, h.Coupon(coupon.ID).UsageCount)

	_, err = h.Service.Create(ctx, "", h.Request(bookingtest.TourID, 1, "ONCE"))
	var couponErr *discount.CouponError
	require.True(t, errors.As(err, &couponErr))
	assert.Equal(t, discount.ReasonUsageLimitExceeded, couponErr.Reason)
}

func TestHoldKeyExpiresWithBooking(t *testing.T) {
	h := bookingtest.New(t, booking.Options{HoldDuration: time.Minute})
	h.AddTour(bookingtest.TourID, 2000000, 0, 20)
	ctx := context.Background()

	b, err := h.Service.Create(ctx, "", h.Request(bookingtest.TourID, 2, ""))
	require.NoError(t, err)

	h.Advance(2 * time.Minute)
	held, err := h.Holds.HasHold(ctx, b.ID)
	require.NoError(t, err)
	assert.False(t, held)
	assert.Equal(t, "booking_hold:"+b.ID, bookingredis.HoldKey(b.ID))
}
