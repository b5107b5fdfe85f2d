package booking

import (
	"context"
	"fmt"
	"strings"

	"ms-booking/internal/models"
)

// transition runs one conditional status change and reloads the booking.
// When nothing matched, the current state decides between not-found,
// terminal and invalid-transition errors.
func (s *BookingService) transition(
	ctx context.Context,
	bookingID string,
	from []models.BookingStatus,
	to models.BookingStatus,
	fields map[string]interface{},
) (*models.Booking, error) {
	for _, f := range from {
		if !models.CanTransition(f, to) {
			return nil, fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, f, to)
		}
	}

	ok, err := s.DB.Transition(ctx, bookingID, from, to, fields)
	if err != nil {
		return nil, err
	}

	booking, err := s.GetBooking(ctx, bookingID)
	if err != nil {
		return nil, err
	}
	if !ok {
		if booking.BookingStatus.IsTerminal() {
			return nil, fmt.Errorf("%w: booking is %s", ErrAlreadyTerminal, booking.BookingStatus)
		}
		return nil, fmt.Errorf("%w: booking is %s", ErrInvalidTransition, booking.BookingStatus)
	}

	s.logger.LogBooking(strings.ToUpper(string(to)), booking.ID, fmt.Sprintf("now %s", to))
	return booking, nil
}

// releaseSeats gives back the seats a paid booking took, at most once per reference.
func (s *BookingService) releaseSeats(ctx context.Context, booking *models.Booking, reason, reference string) {
	if !booking.CapacityApplied {
		return
	}
	if _, err := s.Capacity.Adjust(ctx, booking.TourID, -booking.PartySize, reason, reference); err != nil {
		s.logger.Error("CAPACITY", fmt.Sprintf("Failed to release %d seats for booking %s: %v", booking.PartySize, booking.ID, err))
	}
}

func (s *BookingService) notify(ctx context.Context, booking *models.Booking, kind models.NotificationKind, amount int64) {
	if err := s.Notifier.RequestNotification(ctx, notificationFor(booking, kind, amount, s.now())); err != nil {
		s.logger.Warn("NOTIFY", fmt.Sprintf("%s notification for %s not queued: %v", kind, booking.ID, err))
	}
}

// Complete marks a confirmed booking as travelled.
func (s *BookingService) Complete(ctx context.Context, bookingID string) (*models.Booking, error) {
	booking, err := s.transition(ctx, bookingID,
		[]models.BookingStatus{models.BookingConfirmed}, models.BookingCompleted, nil)
	if err != nil {
		return nil, err
	}
	s.publish(ctx, booking, "booking.completed")
	return booking, nil
}

// Cancel stops a pending or confirmed booking. Seats taken by a paid booking
// are returned to the tour.
func (s *BookingService) Cancel(ctx context.Context, bookingID, reason, actor string) (*models.Booking, error) {
	reason = strings.TrimSpace(reason)
	if reason == "" {
		return nil, ErrReasonRequired
	}
	now := s.now()

	booking, err := s.transition(ctx, bookingID,
		[]models.BookingStatus{models.BookingPending, models.BookingConfirmed}, models.BookingCancelled,
		map[string]interface{}{
			"cancel_reason": reason,
			"cancelled_by":  actor,
			"cancelled_at":  now,
		})
	if err != nil {
		return nil, err
	}

	s.releaseSeats(ctx, booking, "booking_cancelled", "cancel:"+booking.ID)
	s.notify(ctx, booking, models.NotifyCancellation, 0)
	s.publish(ctx, booking, "booking.cancelled")
	return booking, nil
}

func (s *BookingService) RequestRefund(ctx context.Context, bookingID, reason, requester string) (*models.Booking, error) {
	reason = strings.TrimSpace(reason)
	if reason == "" {
		return nil, ErrReasonRequired
	}

	booking, err := s.transition(ctx, bookingID,
		[]models.BookingStatus{models.BookingConfirmed}, models.BookingRefundRequested,
		map[string]interface{}{
			"refund_reason":       reason,
			"refund_requested_by": requester,
			"refund_requested_at": s.now(),
		})
	if err != nil {
		return nil, err
	}
	s.publish(ctx, booking, "booking.refund_requested")
	return booking, nil
}

// ApproveRefund refunds percentage of the paid total, rounded down.
func (s *BookingService) ApproveRefund(ctx context.Context, bookingID, approver string, percentage int) (*models.Booking, error) {
	if percentage < 0 || percentage > 100 {
		return nil, fmt.Errorf("%w: %d", ErrInvalidRefund, percentage)
	}

	current, err := s.GetBooking(ctx, bookingID)
	if err != nil {
		return nil, err
	}
	refundAmount := current.TotalAmount * int64(percentage) / 100

	booking, err := s.transition(ctx, bookingID,
		[]models.BookingStatus{models.BookingRefundRequested}, models.BookingRefunded,
		map[string]interface{}{
			"payment_status":     string(models.PaymentRefunded),
			"refund_approved_by": approver,
			"refund_percentage":  percentage,
			"refund_amount":      refundAmount,
			"refunded_at":        s.now(),
		})
	if err != nil {
		return nil, err
	}

	s.logger.LogPayment("REFUND", booking.ID, fmt.Sprintf("%d%% = %d approved by %s", percentage, refundAmount, approver))
	s.releaseSeats(ctx, booking, "booking_refunded", "refund:"+booking.ID)
	s.notify(ctx, booking, models.NotifyRefund, refundAmount)
	s.publish(ctx, booking, "booking.refunded")
	return booking, nil
}

// RejectRefund puts the booking back to confirmed and keeps the request trail.
func (s *BookingService) RejectRefund(ctx context.Context, bookingID, approver string) (*models.Booking, error) {
	booking, err := s.transition(ctx, bookingID,
		[]models.BookingStatus{models.BookingRefundRequested}, models.BookingConfirmed,
		map[string]interface{}{
			"refund_approved_by": approver,
		})
	if err != nil {
		return nil, err
	}
	s.publish(ctx, booking, "booking.refund_rejected")
	return booking, nil
}
