package booking_api

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"ms-booking/internal/booking"
	"ms-booking/internal/gateway"
	"ms-booking/internal/utils"
)

const maxCallbackBody = 64 << 10

// MomoIPN handles the server-to-server notification. The gateway only needs
// a 2xx to stop retrying, so every verified callback is acknowledged, including
// ones the booking side chose to ignore.
func (h *Handler) MomoIPN(w http.ResponseWriter, r *http.Request) {
	var payload gateway.CallbackPayload
	decoder := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxCallbackBody))
	decoder.UseNumber()
	if err := decoder.Decode(&payload); err != nil {
		h.Logger.LogSecurity("MALFORMED_IPN", err.Error())
		_ = utils.WriteJSON(w, http.StatusBadRequest, booking.Ack{Status: booking.AckRejected, Message: "malformed callback"})
		return
	}

	ack, err := h.Reconciler.Reconcile(r.Context(), &payload)
	if err != nil {
		h.Logger.Error("API", fmt.Sprintf("MomoIPN: order %s: %v", payload.OrderID, err))
		_ = utils.WriteJSON(w, http.StatusInternalServerError, booking.Ack{Status: booking.AckRejected, Message: "temporary failure"})
		return
	}

	status := http.StatusOK
	if ack.Status == booking.AckRejected {
		status = http.StatusBadRequest
	}
	_ = utils.WriteJSON(w, status, ack)
}

// MomoReturn handles the browser redirect after checkout. It runs the same
// reconciliation as the IPN, then sends the customer to the frontend result page.
func (h *Handler) MomoReturn(w http.ResponseWriter, r *http.Request) {
	payload := gateway.ParseCallbackForm(r.URL.Query())

	result := "pending"
	ack, err := h.Reconciler.Reconcile(r.Context(), payload)
	switch {
	case err != nil:
		// The IPN will settle it; the page polls the booking.
		h.Logger.Error("API", fmt.Sprintf("MomoReturn: order %s: %v", payload.OrderID, err))
	case ack.Status == booking.AckRejected:
		result = "invalid"
	case ack.Status == booking.AckIgnored:
	case payload.ResultCode.String() == strconv.Itoa(gateway.ResultSuccess):
		result = "success"
	default:
		result = "failed"
	}

	http.Redirect(w, r, h.resultURL(ack.BookingID, payload.OrderID, result), http.StatusFound)
}

func (h *Handler) resultURL(bookingID, orderID, result string) string {
	q := url.Values{}
	q.Set("result", result)
	if bookingID != "" {
		q.Set("bookingId", bookingID)
	}
	if orderID != "" {
		q.Set("orderId", orderID)
	}
	return strings.TrimRight(h.FrontendURL, "/") + "/booking/result?" + q.Encode()
}
