package booking_api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
)

// Mount registers the booking routes on r. Staff routes are wrapped with
// staffAuth.
func (h *Handler) Mount(r chi.Router, staffAuth func(http.Handler) http.Handler) {
	r.Route("/api/bookings", func(r chi.Router) {
		r.Post("/", h.CreateBooking)
		r.Post("/quote", h.QuotePrice)
		r.Get("/{code}", h.GetBooking)
		r.Get("/{code}/events", h.BookingEvents)
		r.Get("/{code}/voucher.png", h.Voucher)
		r.Post("/{id}/payment", h.StartPayment)
	})

	r.Route("/api/payments/momo", func(r chi.Router) {
		r.Post("/ipn", h.MomoIPN)
		r.Get("/return", h.MomoReturn)
	})

	r.Route("/api/admin/bookings/{id}", func(r chi.Router) {
		r.Use(staffAuth)
		r.Post("/complete", h.CompleteBooking)
		r.Post("/cancel", h.CancelBooking)
		r.Post("/refund-request", h.RequestRefund)
		r.Post("/refund-approve", h.ApproveRefund)
		r.Post("/refund-reject", h.RejectRefund)
		r.Get("/payments", h.ListPayments)
	})
}
