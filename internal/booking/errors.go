package booking

import (
	"errors"
	"net/http"

	"ms-booking/internal/booking/discount"
	"ms-booking/internal/gateway"
)

// Validation errors: rejected before anything is written.
var (
	ErrTourNotFound          = errors.New("tour not found")
	ErrTourUnavailable       = errors.New("tour is not open for booking")
	ErrInsufficientCapacity  = errors.New("not enough seats left on this tour")
	ErrInvalidAmount         = errors.New("booking amount is outside the accepted range")
	ErrInvalidDate           = errors.New("invalid departure date")
	ErrInvalidContact        = errors.New("invalid contact details")
	ErrInvalidPartySize      = errors.New("invalid party size")
	ErrInvalidRefund         = errors.New("refund percentage must be between 0 and 100")
	ErrReasonRequired        = errors.New("a reason is required")
	ErrMissingTransactionID  = errors.New("successful payment without transaction id")
	ErrPaymentAmountMismatch = errors.New("paid amount does not match booking total")
)

// State errors: the booking exists but cannot take the requested step.
var (
	ErrBookingNotFound   = errors.New("booking not found")
	ErrAlreadyTerminal   = errors.New("booking is already in a terminal state")
	ErrInvalidTransition = errors.New("booking cannot make this transition")
	ErrAlreadyPaid       = errors.New("booking is already paid")
	ErrBookingExpired    = errors.New("booking hold has expired")
	ErrPaymentInProgress = errors.New("a payment is already being started for this booking")
)

// APIError pairs an error with what is safe to tell the client.
type APIError struct {
	Category      string // "validation", "state", "gateway", "internal"
	StatusCode    int
	PublicError   string
	InternalError string
	OriginalErr   error
}

func (e *APIError) Error() string {
	return e.InternalError
}

func (e *APIError) Unwrap() error {
	return e.OriginalErr
}

// ToAPIError classifies any error returned by the booking service.
func ToAPIError(err error) *APIError {
	apiErr := &APIError{InternalError: err.Error(), OriginalErr: err}

	var couponErr *discount.CouponError
	var gatewayErr *gateway.GatewayError

	switch {
	case errors.As(err, &couponErr):
		apiErr.Category = "validation"
		apiErr.StatusCode = http.StatusUnprocessableEntity
		apiErr.PublicError = couponErr.Message()

	case errors.Is(err, ErrTourNotFound), errors.Is(err, ErrBookingNotFound):
		apiErr.Category = "validation"
		apiErr.StatusCode = http.StatusNotFound
		apiErr.PublicError = publicMessage(err)

	case errors.Is(err, ErrTourUnavailable), errors.Is(err, ErrInsufficientCapacity),
		errors.Is(err, ErrInvalidAmount), errors.Is(err, ErrInvalidDate),
		errors.Is(err, ErrInvalidContact), errors.Is(err, ErrInvalidPartySize),
		errors.Is(err, ErrInvalidRefund), errors.Is(err, ErrReasonRequired):
		apiErr.Category = "validation"
		apiErr.StatusCode = http.StatusBadRequest
		apiErr.PublicError = publicMessage(err)

	case errors.Is(err, ErrAlreadyTerminal), errors.Is(err, ErrInvalidTransition),
		errors.Is(err, ErrAlreadyPaid), errors.Is(err, ErrBookingExpired),
		errors.Is(err, ErrPaymentInProgress):
		apiErr.Category = "state"
		apiErr.StatusCode = http.StatusConflict
		apiErr.PublicError = publicMessage(err)

	case gateway.IsTransient(err):
		apiErr.Category = "gateway"
		apiErr.StatusCode = http.StatusServiceUnavailable
		if errors.Is(err, gateway.ErrGatewayTimeout) {
			apiErr.StatusCode = http.StatusGatewayTimeout
		}
		apiErr.PublicError = "Payment provider did not respond, please try again"

	case errors.As(err, &gatewayErr):
		apiErr.Category = "gateway"
		apiErr.StatusCode = http.StatusBadGateway
		apiErr.PublicError = "Payment provider rejected the request"

	default:
		apiErr.Category = "internal"
		apiErr.StatusCode = http.StatusInternalServerError
		apiErr.PublicError = "Internal server error"
	}
	return apiErr
}

// publicMessage returns the sentinel's own text, never wrapped detail.
func publicMessage(err error) string {
	for _, sentinel := range []error{
		ErrTourNotFound, ErrTourUnavailable, ErrInsufficientCapacity, ErrInvalidAmount,
		ErrInvalidDate, ErrInvalidContact, ErrInvalidPartySize, ErrInvalidRefund,
		ErrReasonRequired, ErrBookingNotFound, ErrAlreadyTerminal, ErrInvalidTransition,
		ErrAlreadyPaid, ErrBookingExpired, ErrPaymentInProgress,
	} {
		if errors.Is(err, sentinel) {
			return sentinel.Error()
		}
	}
	return "Request failed"
}
