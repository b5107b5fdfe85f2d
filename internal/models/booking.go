package models

import (
	"fmt"
	"time"

	"github.com/uptrace/bun"
)

type BookingStatus string

const (
	BookingPreBooking      BookingStatus = "pre_booking"
	BookingPending         BookingStatus = "pending"
	BookingConfirmed       BookingStatus = "confirmed"
	BookingCompleted       BookingStatus = "completed"
	BookingCancelled       BookingStatus = "cancelled"
	BookingRefundRequested BookingStatus = "refund_requested"
	BookingRefunded        BookingStatus = "refunded"
)

type PaymentStatus string

const (
	PaymentPending  PaymentStatus = "pending"
	PaymentPartial  PaymentStatus = "partial"
	PaymentPaid     PaymentStatus = "paid"
	PaymentRefunded PaymentStatus = "refunded"
)

// bookingTransitions lists every legal lifecycle edge. pre_booking has no
// incoming edge: it is only ever the initial state.
var bookingTransitions = map[BookingStatus][]BookingStatus{
	BookingPreBooking:      {BookingPending, BookingConfirmed},
	BookingPending:         {BookingConfirmed, BookingCancelled},
	BookingConfirmed:       {BookingCompleted, BookingCancelled, BookingRefundRequested},
	BookingRefundRequested: {BookingRefunded, BookingConfirmed},
}

func (s BookingStatus) IsTerminal() bool {
	return s == BookingCompleted || s == BookingCancelled || s == BookingRefunded
}

func (s BookingStatus) Valid() bool {
	switch s {
	case BookingPreBooking, BookingPending, BookingConfirmed, BookingCompleted,
		BookingCancelled, BookingRefundRequested, BookingRefunded:
		return true
	}
	return false
}

// CanTransition reports whether from -> to is a legal lifecycle edge.
func CanTransition(from, to BookingStatus) bool {
	for _, next := range bookingTransitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// Contact is the customer contact captured when the booking is made. It is a
// copy and is never refreshed from the user record.
type Contact struct {
	Name  string `bun:"contact_name,notnull" json:"name"`
	Email string `bun:"contact_email,notnull" json:"email"`
	Phone string `bun:"contact_phone,notnull" json:"phone"`
}

type Booking struct {
	bun.BaseModel `bun:"table:bookings"`

	ID          string `bun:"id,pk" json:"id"`
	BookingCode string `bun:"booking_code,unique,notnull" json:"booking_code"`
	TourID      string `bun:"tour_id,notnull" json:"tour_id"`
	TourName    string `bun:"tour_name" json:"tour_name"`
	UserID      string `bun:"user_id,nullzero" json:"user_id,omitempty"`
	CouponID    string `bun:"coupon_id,nullzero" json:"coupon_id,omitempty"`
	CouponCode  string `bun:"coupon_code,nullzero" json:"coupon_code,omitempty"`

	Contact Contact `bun:"embed:" json:"contact"`

	PartySize      int       `bun:"party_size,notnull" json:"party_size"`
	DepartureDate  time.Time `bun:"departure_date,notnull" json:"departure_date"`
	UnitPrice      int64     `bun:"unit_price,notnull" json:"unit_price"`
	SubtotalAmount int64     `bun:"subtotal_amount,notnull" json:"subtotal_amount"`
	DiscountAmount int64     `bun:"discount_amount,notnull" json:"discount_amount"`
	TotalAmount    int64     `bun:"total_amount,notnull" json:"total_amount"`

	BookingStatus BookingStatus `bun:"booking_status,notnull" json:"booking_status"`
	PaymentStatus PaymentStatus `bun:"payment_status,notnull" json:"payment_status"`
	ExpiresAt     *time.Time    `bun:"expires_at" json:"expires_at,omitempty"`

	CancelReason      string     `bun:"cancel_reason,nullzero" json:"cancel_reason,omitempty"`
	CancelledBy       string     `bun:"cancelled_by,nullzero" json:"cancelled_by,omitempty"`
	CancelledAt       *time.Time `bun:"cancelled_at" json:"cancelled_at,omitempty"`
	RefundReason      string     `bun:"refund_reason,nullzero" json:"refund_reason,omitempty"`
	RefundRequestedBy string     `bun:"refund_requested_by,nullzero" json:"refund_requested_by,omitempty"`
	RefundRequestedAt *time.Time `bun:"refund_requested_at" json:"refund_requested_at,omitempty"`
	RefundApprovedBy  string     `bun:"refund_approved_by,nullzero" json:"refund_approved_by,omitempty"`
	RefundPercentage  int        `bun:"refund_percentage,notnull,default:0" json:"refund_percentage,omitempty"`
	RefundAmount      int64      `bun:"refund_amount,notnull,default:0" json:"refund_amount,omitempty"`
	RefundedAt        *time.Time `bun:"refunded_at" json:"refunded_at,omitempty"`

	// Side-effect markers of payment confirmation; see the reconciler.
	CapacityApplied  bool `bun:"capacity_applied,notnull,default:false" json:"-"`
	NotificationSent bool `bun:"notification_sent,notnull,default:false" json:"-"`
	CouponRedeemed   bool `bun:"coupon_redeemed,notnull,default:false" json:"-"`

	CreatedAt   time.Time  `bun:"created_at,notnull" json:"created_at"`
	UpdatedAt   time.Time  `bun:"updated_at,notnull" json:"updated_at"`
	ConfirmedAt *time.Time `bun:"confirmed_at" json:"confirmed_at,omitempty"`
}

// CanTransitionTo reports whether the booking may move to the given status.
func (b *Booking) CanTransitionTo(to BookingStatus) bool {
	return CanTransition(b.BookingStatus, to)
}

// IsExpired is true for a pre-booking whose hold deadline has passed.
func (b *Booking) IsExpired(now time.Time) bool {
	return b.BookingStatus == BookingPreBooking && b.ExpiresAt != nil && !now.Before(*b.ExpiresAt)
}

// CheckInvariants verifies the status pair and the hold deadline agree.
func (b *Booking) CheckInvariants() error {
	if !b.BookingStatus.Valid() {
		return fmt.Errorf("unknown booking status %q", b.BookingStatus)
	}
	if b.BookingStatus == BookingPreBooking && b.ExpiresAt == nil {
		return fmt.Errorf("booking %s is pre_booking without expires_at", b.ID)
	}
	if b.BookingStatus != BookingPreBooking && b.ExpiresAt != nil {
		return fmt.Errorf("booking %s is %s but still has expires_at", b.ID, b.BookingStatus)
	}
	if (b.BookingStatus == BookingConfirmed || b.BookingStatus == BookingCompleted) && b.PaymentStatus != PaymentPaid {
		return fmt.Errorf("booking %s is %s but payment is %s", b.ID, b.BookingStatus, b.PaymentStatus)
	}
	if b.TotalAmount != b.SubtotalAmount-b.DiscountAmount {
		return fmt.Errorf("booking %s total %d does not match subtotal %d - discount %d",
			b.ID, b.TotalAmount, b.SubtotalAmount, b.DiscountAmount)
	}
	return nil
}

// PendingSideEffects is true when a paid booking still owes a capacity
// adjustment or a payment notification.
func (b *Booking) PendingSideEffects() bool {
	return b.PaymentStatus == PaymentPaid && (!b.CapacityApplied || !b.NotificationSent)
}

type CreateBookingRequest struct {
	TourID        string  `json:"tour_id"`
	Contact       Contact `json:"contact"`
	PartySize     int     `json:"party_size"`
	DepartureDate string  `json:"departure_date"` // YYYY-MM-DD
	CouponCode    string  `json:"coupon_code,omitempty"`
}

type PriceQuoteRequest struct {
	TourID     string `json:"tour_id"`
	PartySize  int    `json:"party_size"`
	CouponCode string `json:"coupon_code,omitempty"`
}

type PriceQuote struct {
	TourID         string `json:"tour_id"`
	PartySize      int    `json:"party_size"`
	UnitPrice      int64  `json:"unit_price"`
	SubtotalAmount int64  `json:"subtotal_amount"`
	DiscountAmount int64  `json:"discount_amount"`
	TotalAmount    int64  `json:"total_amount"`
	CouponCode     string `json:"coupon_code,omitempty"`
}

type BookingResponse struct {
	ID            string        `json:"id"`
	BookingCode   string        `json:"booking_code"`
	TourID        string        `json:"tour_id"`
	TourName      string        `json:"tour_name,omitempty"`
	PartySize     int           `json:"party_size"`
	DepartureDate string        `json:"departure_date"`
	TotalAmount   int64         `json:"total_amount"`
	BookingStatus BookingStatus `json:"booking_status"`
	PaymentStatus PaymentStatus `json:"payment_status"`
	ExpiresAt     *time.Time    `json:"expires_at,omitempty"`
}

func (b *Booking) ToResponse() BookingResponse {
	return BookingResponse{
		ID:            b.ID,
		BookingCode:   b.BookingCode,
		TourID:        b.TourID,
		TourName:      b.TourName,
		PartySize:     b.PartySize,
		DepartureDate: b.DepartureDate.Format("2006-01-02"),
		TotalAmount:   b.TotalAmount,
		BookingStatus: b.BookingStatus,
		PaymentStatus: b.PaymentStatus,
		ExpiresAt:     b.ExpiresAt,
	}
}
