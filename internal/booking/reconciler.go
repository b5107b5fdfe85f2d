package booking

import (
	"context"
	"errors"
	"fmt"

	"ms-booking/internal/gateway"
	"ms-booking/internal/logger"
)

type AckStatus string

const (
	AckOK       AckStatus = "ok"
	AckIgnored  AckStatus = "ignored"
	AckRejected AckStatus = "rejected"
)

// Ack is the answer given to the gateway for one callback. Only a rejected
// ack is reported back as a failure; everything else stops redelivery.
type Ack struct {
	Status    AckStatus `json:"status"`
	BookingID string    `json:"booking_id,omitempty"`
	Message   string    `json:"message"`
}

// Reconciler turns gateway callbacks (IPN and browser return) into booking
// state. Both entry points share it, so they can race and replay freely.
type Reconciler struct {
	service *BookingService
	logger  *logger.Logger
}

func NewReconciler(service *BookingService, log *logger.Logger) *Reconciler {
	if log == nil {
		log = logger.NewNopLogger()
	}
	return &Reconciler{service: service, logger: log}
}

// Reconcile verifies and applies one callback. A non-nil error means the
// state could not be persisted and the gateway should retry.
func (r *Reconciler) Reconcile(ctx context.Context, payload *gateway.CallbackPayload) (Ack, error) {
	if err := r.service.Gateway.VerifyCallback(payload); err != nil {
		r.logger.LogSecurity("INVALID_SIGNATURE", fmt.Sprintf("orderId=%s requestId=%s", payload.OrderID, payload.RequestID))
		return Ack{Status: AckRejected, Message: "invalid signature"}, nil
	}

	bookingID, err := gateway.DecodeCorrelation(payload.ExtraData)
	if err != nil {
		r.logger.Warn("PAYMENT", fmt.Sprintf("Callback for order %s has unusable extraData: %v", payload.OrderID, err))
		return Ack{Status: AckIgnored, Message: "unknown order"}, nil
	}

	outcome, err := payload.Outcome()
	if err != nil {
		r.logger.Warn("PAYMENT", fmt.Sprintf("Callback for booking %s is malformed: %v", bookingID, err))
		return Ack{Status: AckIgnored, BookingID: bookingID, Message: "malformed callback"}, nil
	}

	r.logger.LogPayment("CALLBACK", bookingID, fmt.Sprintf("resultCode=%d transId=%s amount=%d",
		outcome.ResultCode, outcome.TransactionID, outcome.Amount))

	_, err = r.service.ApplyGatewayOutcome(ctx, bookingID, outcome)
	switch {
	case err == nil:
		return Ack{Status: AckOK, BookingID: bookingID, Message: "success"}, nil

	case errors.Is(err, ErrBookingNotFound):
		// Expired and reaped before the gateway reported back.
		r.logger.Warn("PAYMENT", fmt.Sprintf("Callback for unknown booking %s (transId %s)", bookingID, outcome.TransactionID))
		return Ack{Status: AckIgnored, BookingID: bookingID, Message: "booking not found"}, nil

	case errors.Is(err, ErrAlreadyTerminal),
		errors.Is(err, ErrMissingTransactionID),
		errors.Is(err, ErrPaymentAmountMismatch):
		r.logger.Warn("PAYMENT", fmt.Sprintf("Callback for booking %s not applied: %v", bookingID, err))
		return Ack{Status: AckIgnored, BookingID: bookingID, Message: publicMessageOr(err, "not applied")}, nil

	default:
		r.logger.Error("PAYMENT", fmt.Sprintf("Failed to apply callback for booking %s: %v", bookingID, err))
		return Ack{}, err
	}
}

func publicMessageOr(err error, fallback string) string {
	for _, sentinel := range []error{ErrAlreadyTerminal, ErrMissingTransactionID, ErrPaymentAmountMismatch} {
		if errors.Is(err, sentinel) {
			return sentinel.Error()
		}
	}
	return fallback
}
