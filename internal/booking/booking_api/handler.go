package booking_api

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"ms-booking/internal/auth"
	"ms-booking/internal/booking"
	"ms-booking/internal/logger"
	"ms-booking/internal/models"
	"ms-booking/internal/sse"
	"ms-booking/internal/utils"
	"ms-booking/internal/voucher"

	"github.com/go-chi/chi/v5"
)

// VoucherIssuer renders the QR voucher for a booking.
type VoucherIssuer interface {
	QRCode(b *models.Booking) ([]byte, error)
}

type Handler struct {
	Service     *booking.BookingService
	Reconciler  *booking.Reconciler
	Emitter     *sse.BookingEventEmitter
	Vouchers    VoucherIssuer
	FrontendURL string
	Logger      *logger.Logger
}

func NewHandler(
	service *booking.BookingService,
	reconciler *booking.Reconciler,
	emitter *sse.BookingEventEmitter,
	vouchers VoucherIssuer,
	frontendURL string,
	log *logger.Logger,
) *Handler {
	if log == nil {
		log = logger.NewNopLogger()
	}
	return &Handler{
		Service:     service,
		Reconciler:  reconciler,
		Emitter:     emitter,
		Vouchers:    vouchers,
		FrontendURL: frontendURL,
		Logger:      log,
	}
}

func (h *Handler) writeError(w http.ResponseWriter, op string, err error) {
	apiErr := booking.ToAPIError(err)
	if apiErr.StatusCode >= http.StatusInternalServerError {
		h.Logger.Error("API", fmt.Sprintf("%s: %v", op, err))
	} else {
		h.Logger.Warn("API", fmt.Sprintf("%s: %s: %v", op, apiErr.Category, err))
	}
	_ = utils.WriteJSON(w, apiErr.StatusCode, utils.ErrorResponse(apiErr.PublicError, apiErr.Category))
}

func (h *Handler) writeOK(w http.ResponseWriter, status int, message string, data interface{}) {
	if err := utils.WriteJSON(w, status, utils.SuccessResponse(message, data)); err != nil {
		h.Logger.Error("API", fmt.Sprintf("failed to encode response: %v", err))
	}
}

func decodeBody(r *http.Request, v interface{}) error {
	decoder := json.NewDecoder(r.Body)
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(v); err != nil {
		return fmt.Errorf("invalid request body: %w", err)
	}
	return nil
}

func (h *Handler) badRequest(w http.ResponseWriter, op string, err error) {
	h.Logger.Warn("API", fmt.Sprintf("%s: %v", op, err))
	_ = utils.WriteJSON(w, http.StatusBadRequest, utils.ErrorResponse("Invalid request body", "validation"))
}

// CreateBooking handles POST /api/bookings. A bearer token is optional; when
// present its subject is recorded as the booking owner.
func (h *Handler) CreateBooking(w http.ResponseWriter, r *http.Request) {
	var req models.CreateBookingRequest
	if err := decodeBody(r, &req); err != nil {
		h.badRequest(w, "CreateBooking", err)
		return
	}

	userID := auth.OptionalUserID(r)
	created, err := h.Service.Create(r.Context(), userID, req)
	if err != nil {
		h.writeError(w, "CreateBooking", err)
		return
	}

	h.Logger.Info("API", fmt.Sprintf("CreateBooking: created %s (%s)", created.BookingCode, created.ID))
	h.writeOK(w, http.StatusCreated, "Booking created", created.ToResponse())
}

func (h *Handler) QuotePrice(w http.ResponseWriter, r *http.Request) {
	var req models.PriceQuoteRequest
	if err := decodeBody(r, &req); err != nil {
		h.badRequest(w, "QuotePrice", err)
		return
	}

	quote, err := h.Service.PreviewPrice(r.Context(), req)
	if err != nil {
		h.writeError(w, "QuotePrice", err)
		return
	}
	h.writeOK(w, http.StatusOK, "Price calculated", quote)
}

func (h *Handler) GetBooking(w http.ResponseWriter, r *http.Request) {
	code := chi.URLParam(r, "code")

	found, err := h.Service.GetBookingByCode(r.Context(), code)
	if err != nil {
		h.writeError(w, "GetBooking", err)
		return
	}
	h.writeOK(w, http.StatusOK, "Booking found", found.ToResponse())
}

// Voucher serves the QR code PNG guides scan at departure.
func (h *Handler) Voucher(w http.ResponseWriter, r *http.Request) {
	code := chi.URLParam(r, "code")

	found, err := h.Service.GetBookingByCode(r.Context(), code)
	if err != nil {
		h.writeError(w, "Voucher", err)
		return
	}

	png, err := h.Vouchers.QRCode(found)
	if errors.Is(err, voucher.ErrNotIssuable) {
		_ = utils.WriteJSON(w, http.StatusConflict, utils.ErrorResponse(err.Error(), "state"))
		return
	}
	if err != nil {
		h.writeError(w, "Voucher", err)
		return
	}

	w.Header().Set("Content-Type", "image/png")
	w.Header().Set("Cache-Control", "no-store")
	w.WriteHeader(http.StatusOK)
	if _, err := w.Write(png); err != nil {
		h.Logger.Error("API", fmt.Sprintf("Voucher: failed to write image: %v", err))
	}
}

// StartPayment handles POST /api/bookings/{id}/payment.
func (h *Handler) StartPayment(w http.ResponseWriter, r *http.Request) {
	bookingID := chi.URLParam(r, "id")

	session, err := h.Service.StartPayment(r.Context(), bookingID)
	if err != nil {
		h.writeError(w, "StartPayment", err)
		return
	}
	h.Logger.LogPayment("START", bookingID, fmt.Sprintf("order %s", session.OrderID))
	h.writeOK(w, http.StatusOK, "Payment started", session)
}
