package booking_api

import (
	"encoding/json"
	"fmt"
	"net/http"

	"ms-booking/internal/models"

	"github.com/go-chi/chi/v5"
)

// BookingEvents streams status changes of one booking to the payment page.
// The current state is sent first so a client that subscribes after the
// callback landed still sees the result.
func (h *Handler) BookingEvents(w http.ResponseWriter, r *http.Request) {
	code := chi.URLParam(r, "code")

	current, err := h.Service.GetBookingByCode(r.Context(), code)
	if err != nil {
		h.writeError(w, "BookingEvents", err)
		return
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "Streaming unsupported", http.StatusInternalServerError)
		return
	}

	ctx := r.Context()
	events := h.Emitter.Subscribe(ctx, code)

	setupSSEHeaders(w)
	w.WriteHeader(http.StatusOK)

	writeEvent(w, "booking", models.BookingStatusEvent{
		Type:          "booking.snapshot",
		BookingID:     current.ID,
		BookingCode:   current.BookingCode,
		BookingStatus: current.BookingStatus,
		PaymentStatus: current.PaymentStatus,
		Timestamp:     current.UpdatedAt,
	})
	flusher.Flush()
	h.Logger.Debug("SSE", fmt.Sprintf("Client connected to booking %s", code))

	for {
		select {
		case event, ok := <-events:
			if !ok {
				return
			}
			writeEvent(w, "booking", event)
			flusher.Flush()
		case <-ctx.Done():
			h.Logger.Debug("SSE", fmt.Sprintf("Client disconnected from booking %s", code))
			return
		}
	}
}

func writeEvent(w http.ResponseWriter, name string, event models.BookingStatusEvent) {
	data, err := json.Marshal(event)
	if err != nil {
		return
	}
	fmt.Fprintf(w, "event: %s\ndata: %s\n\n", name, data)
}

func setupSSEHeaders(w http.ResponseWriter) {
	w.Header().Set("Content-Type", "text/event-stream;charset=UTF-8")
	w.Header().Set("Cache-Control", "no-cache, no-store, max-age=0, must-revalidate")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")
	w.Header().Set("X-Content-Type-Options", "nosniff")
}
