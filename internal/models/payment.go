package models

import (
	"time"

	"github.com/uptrace/bun"
)

type LedgerStatus string

const (
	LedgerSuccess LedgerStatus = "success"
	LedgerFailed  LedgerStatus = "failed"
)

// PaymentEntry is one row of the append-only payment ledger. Rows are never
// updated or deleted, so they outlive bookings removed by the reaper.
type PaymentEntry struct {
	bun.BaseModel `bun:"table:booking_payments"`

	ID            string       `bun:"id,pk" json:"id"`
	BookingID     string       `bun:"booking_id,notnull" json:"booking_id"`
	TransactionID string       `bun:"transaction_id,unique,notnull" json:"transaction_id"`
	RequestID     string       `bun:"request_id" json:"request_id"`
	OrderID       string       `bun:"order_id" json:"order_id"`
	Amount        int64        `bun:"amount,notnull" json:"amount"`
	Method        string       `bun:"method,notnull" json:"method"`
	Status        LedgerStatus `bun:"status,notnull" json:"status"`
	ResultCode    int          `bun:"result_code" json:"result_code"`
	Message       string       `bun:"message" json:"message,omitempty"`
	CreatedAt     time.Time    `bun:"created_at,notnull" json:"created_at"`
}

// GatewayOutcome is the verified, decoded result of a gateway callback.
type GatewayOutcome struct {
	Success       bool
	TransactionID string
	RequestID     string
	OrderID       string
	Amount        int64
	ResultCode    int
	Message       string
	PayType       string
}

type PaymentStartResponse struct {
	BookingID  string    `json:"booking_id"`
	PayURL     string    `json:"pay_url"`
	Deeplink   string    `json:"deeplink,omitempty"`
	QRCodeURL  string    `json:"qr_code_url,omitempty"`
	OrderID    string    `json:"order_id"`
	RequestID  string    `json:"request_id"`
	Amount     int64     `json:"amount"`
	ExpiresAt  time.Time `json:"expires_at"`
	ResultCode int       `json:"result_code"`
}

type CancelRequest struct {
	Reason string `json:"reason"`
}

type RefundRequest struct {
	Reason string `json:"reason"`
}

type RefundApproval struct {
	Percentage int `json:"percentage"`
}

// BookingStatusEvent is published whenever a booking changes state.
type BookingStatusEvent struct {
	Type          string        `json:"type"`
	BookingID     string        `json:"booking_id"`
	BookingCode   string        `json:"booking_code"`
	BookingStatus BookingStatus `json:"booking_status"`
	PaymentStatus PaymentStatus `json:"payment_status"`
	Timestamp     time.Time     `json:"timestamp"`
}
