package booking_test

import (
	"context"
	"testing"

	"ms-booking/internal/booking"
	"ms-booking/internal/booking/bookingtest"
	"ms-booking/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func confirmedBooking(t *testing.T, h *bookingtest.Harness) *models.Booking {
	t.Helper()
	ctx := context.Background()
	b, err := h.Service.Create(ctx, "user-1", h.Request(bookingtest.TourID, 2, ""))
	require.NoError(t, err)
	b, err = h.Service.ApplyGatewayOutcome(ctx, b.ID, models.GatewayOutcome{Success: true, TransactionID: "TX-" + b.ID[:8], Amount: b.TotalAmount})
	require.NoError(t, err)
	require.Equal(t, models.BookingConfirmed, b.BookingStatus)
	return b
}

func TestComplete(t *testing.T) {
	h := bookingtest.New(t, booking.Options{})
	h.AddTour(bookingtest.TourID, 2000000, 0, 20)
	b := confirmedBooking(t, h)
	ctx := context.Background()

	got, err := h.Service.Complete(ctx, b.ID)
	require.NoError(t, err)
	assert.Equal(t, models.BookingCompleted, got.BookingStatus)
	assert.NoError(t, got.CheckInvariants())

	_, err = h.Service.Complete(ctx, b.ID)
	assert.ErrorIs(t, err, booking.ErrAlreadyTerminal)
}

func TestComplete_RequiresConfirmed(t *testing.T) {
	h := bookingtest.New(t, booking.Options{})
	h.AddTour(bookingtest.TourID, 2000000, 0, 20)
	ctx := context.Background()

	b, err := h.Service.Create(ctx, "", h.Request(bookingtest.TourID, 2, ""))
	require.NoError(t, err)

	_, err = h.Service.Complete(ctx, b.ID)
	assert.ErrorIs(t, err, booking.ErrInvalidTransition)
}

func TestCancel_ReleasesSeatsOnce(t *testing.T) {
	h := bookingtest.New(t, booking.Options{})
	h.AddTour(bookingtest.TourID, 2000000, 0, 20)
	b := confirmedBooking(t, h)
	ctx := context.Background()
	require.Equal(t, 2, h.Tour(bookingtest.TourID).CapacityCurrent)

	_, err := h.Service.Cancel(ctx, b.ID, "  ", "staff-1")
	assert.ErrorIs(t, err, booking.ErrReasonRequired)

	got, err := h.Service.Cancel(ctx, b.ID, "Typhoon warning", "staff-1")
	require.NoError(t, err)
	assert.Equal(t, models.BookingCancelled, got.BookingStatus)
	assert.Equal(t, "Typhoon warning", got.CancelReason)
	assert.Equal(t, "staff-1", got.CancelledBy)
	assert.NotNil(t, got.CancelledAt)
	assert.Equal(t, 0, h.Tour(bookingtest.TourID).CapacityCurrent)

	_, err = h.Service.Cancel(ctx, b.ID, "again", "staff-1")
	assert.ErrorIs(t, err, booking.ErrAlreadyTerminal)
	assert.Equal(t, 0, h.Tour(bookingtest.TourID).CapacityCurrent)

	notifications := h.Notifier.Requests()
	require.Len(t, notifications, 2)
	assert.Equal(t, models.NotifyCancellation, notifications[1].Kind)
}

func TestCancel_PreBookingNotAllowed(t *testing.T) {
	h := bookingtest.New(t, booking.Options{})
	h.AddTour(bookingtest.TourID, 2000000, 0, 20)
	ctx := context.Background()

	b, err := h.Service.Create(ctx, "", h.Request(bookingtest.TourID, 2, ""))
	require.NoError(t, err)

	_, err = h.Service.Cancel(ctx, b.ID, "changed plans", "staff-1")
	assert.ErrorIs(t, err, booking.ErrInvalidTransition)
}

func TestRefundFlow_Approve(t *testing.T) {
	h := bookingtest.New(t, booking.Options{})
	h.AddTour(bookingtest.TourID, 2000000, 0, 20)
	b := confirmedBooking(t, h)
	ctx := context.Background()

	_, err := h.Service.ApproveRefund(ctx, b.ID, "manager-1", 50)
	assert.ErrorIs(t, err, booking.ErrInvalidTransition)

	got, err := h.Service.RequestRefund(ctx, b.ID, "Sick", "user-1")
	require.NoError(t, err)
	assert.Equal(t, models.BookingRefundRequested, got.BookingStatus)
	assert.Equal(t, "Sick", got.RefundReason)

	_, err = h.Service.ApproveRefund(ctx, b.ID, "manager-1", 120)
	assert.ErrorIs(t, err, booking.ErrInvalidRefund)

	got, err = h.Service.ApproveRefund(ctx, b.ID, "manager-1", 75)
	require.NoError(t, err)
	assert.Equal(t, models.BookingRefunded, got.BookingStatus)
	assert.Equal(t, models.PaymentRefunded, got.PaymentStatus)
	assert.Equal(t, 75, got.RefundPercentage)
	assert.Equal(t, int64(3000000), got.RefundAmount)
	assert.Equal(t, "manager-1", got.RefundApprovedBy)
	assert.Equal(t, 0, h.Tour(bookingtest.TourID).CapacityCurrent)

	notifications := h.Notifier.Requests()
	require.Len(t, notifications, 2)
	assert.Equal(t, models.NotifyRefund, notifications[1].Kind)
	assert.Equal(t, int64(3000000), notifications[1].Amount)
}

func TestRefundFlow_Reject(t *testing.T) {
	h := bookingtest.New(t, booking.Options{})
	h.AddTour(bookingtest.TourID, 2000000, 0, 20)
	b := confirmedBooking(t, h)
	ctx := context.Background()

	_, err := h.Service.RequestRefund(ctx, b.ID, "Sick", "user-1")
	require.NoError(t, err)

	got, err := h.Service.RejectRefund(ctx, b.ID, "manager-1")
	require.NoError(t, err)
	assert.Equal(t, models.BookingConfirmed, got.BookingStatus)
	assert.Equal(t, models.PaymentPaid, got.PaymentStatus)
	assert.Equal(t, "Sick", got.RefundReason)
	assert.Equal(t, 2, h.Tour(bookingtest.TourID).CapacityCurrent)

	_, err = h.Service.RejectRefund(ctx, b.ID, "manager-1")
	assert.ErrorIs(t, err, booking.ErrInvalidTransition)
}

func TestStaffTransitions_UnknownBooking(t *testing.T) {
	h := bookingtest.New(t, booking.Options{})
	_, err := h.Service.Complete(context.Background(), "8e4f0c3a-0000-4000-8000-000000000000")
	assert.ErrorIs(t, err, booking.ErrBookingNotFound)
}
