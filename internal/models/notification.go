package models

import "time"

type NotificationKind string

const (
	NotifyPayment      NotificationKind = "payment"
	NotifyRefund       NotificationKind = "refund"
	NotifyCancellation NotificationKind = "cancellation"
)

type NotificationRequest struct {
	Kind        NotificationKind `json:"kind"`
	UserID      string           `json:"user_id,omitempty"`
	Email       string           `json:"email"`
	BookingID   string           `json:"booking_id"`
	BookingCode string           `json:"booking_code"`
	TourName    string           `json:"tour_name"`
	Amount      int64            `json:"amount"`
	RequestedAt time.Time        `json:"requested_at"`
}
