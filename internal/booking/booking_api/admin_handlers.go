package booking_api

import (
	"fmt"
	"net/http"

	"ms-booking/internal/auth"
	"ms-booking/internal/models"

	"github.com/go-chi/chi/v5"
)

// Staff endpoints. Every route here sits behind auth.Middleware, so the
// actor is always known.

func (h *Handler) CompleteBooking(w http.ResponseWriter, r *http.Request) {
	bookingID := chi.URLParam(r, "id")

	updated, err := h.Service.Complete(r.Context(), bookingID)
	if err != nil {
		h.writeError(w, "CompleteBooking", err)
		return
	}
	h.Logger.LogBooking("COMPLETE", bookingID, "by "+auth.Actor(r.Context()))
	h.writeOK(w, http.StatusOK, "Booking completed", updated.ToResponse())
}

func (h *Handler) CancelBooking(w http.ResponseWriter, r *http.Request) {
	bookingID := chi.URLParam(r, "id")
	var req models.CancelRequest
	if err := decodeBody(r, &req); err != nil {
		h.badRequest(w, "CancelBooking", err)
		return
	}

	updated, err := h.Service.Cancel(r.Context(), bookingID, req.Reason, auth.Actor(r.Context()))
	if err != nil {
		h.writeError(w, "CancelBooking", err)
		return
	}
	h.writeOK(w, http.StatusOK, "Booking cancelled", updated.ToResponse())
}

func (h *Handler) RequestRefund(w http.ResponseWriter, r *http.Request) {
	bookingID := chi.URLParam(r, "id")
	var req models.RefundRequest
	if err := decodeBody(r, &req); err != nil {
		h.badRequest(w, "RequestRefund", err)
		return
	}

	updated, err := h.Service.RequestRefund(r.Context(), bookingID, req.Reason, auth.Actor(r.Context()))
	if err != nil {
		h.writeError(w, "RequestRefund", err)
		return
	}
	h.writeOK(w, http.StatusOK, "Refund requested", updated.ToResponse())
}

func (h *Handler) ApproveRefund(w http.ResponseWriter, r *http.Request) {
	bookingID := chi.URLParam(r, "id")
	var req models.RefundApproval
	if err := decodeBody(r, &req); err != nil {
		h.badRequest(w, "ApproveRefund", err)
		return
	}

	updated, err := h.Service.ApproveRefund(r.Context(), bookingID, auth.Actor(r.Context()), req.Percentage)
	if err != nil {
		h.writeError(w, "ApproveRefund", err)
		return
	}
	h.Logger.LogBooking("REFUND_APPROVED", bookingID, fmt.Sprintf("%d%% by %s", req.Percentage, auth.Actor(r.Context())))
	h.writeOK(w, http.StatusOK, "Refund approved", updated.ToResponse())
}

func (h *Handler) RejectRefund(w http.ResponseWriter, r *http.Request) {
	bookingID := chi.URLParam(r, "id")

	updated, err := h.Service.RejectRefund(r.Context(), bookingID, auth.Actor(r.Context()))
	if err != nil {
		h.writeError(w, "RejectRefund", err)
		return
	}
	h.writeOK(w, http.StatusOK, "Refund rejected", updated.ToResponse())
}

// ListPayments returns every ledger entry, including failed attempts.
func (h *Handler) ListPayments(w http.ResponseWriter, r *http.Request) {
	bookingID := chi.URLParam(r, "id")

	entries, err := h.Service.ListPayments(r.Context(), bookingID)
	if err != nil {
		h.writeError(w, "ListPayments", err)
		return
	}
	h.writeOK(w, http.StatusOK, "Payments found", entries)
}
