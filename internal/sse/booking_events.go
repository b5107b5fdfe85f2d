package sse

import (
	"context"
	"sync"

	"ms-booking/internal/models"
)

// BookingEventEmitter fans booking status events out to SSE clients waiting on
// a booking code.
type BookingEventEmitter struct {
	clients     map[string][]chan models.BookingStatusEvent
	clientMutex sync.RWMutex
}

func NewBookingEventEmitter() *BookingEventEmitter {
	return &BookingEventEmitter{
		clients: make(map[string][]chan models.BookingStatusEvent),
	}
}

// Subscribe adds a client for bookingCode. The channel is closed once ctx is done.
func (e *BookingEventEmitter) Subscribe(ctx context.Context, bookingCode string) <-chan models.BookingStatusEvent {
	clientChan := make(chan models.BookingStatusEvent, 10)

	e.clientMutex.Lock()
	e.clients[bookingCode] = append(e.clients[bookingCode], clientChan)
	e.clientMutex.Unlock()

	go func() {
		<-ctx.Done()
		e.removeClient(bookingCode, clientChan)
	}()

	return clientChan
}

// Emit broadcasts event to every subscriber of its booking code.
func (e *BookingEventEmitter) Emit(event models.BookingStatusEvent) {
	e.clientMutex.RLock()
	defer e.clientMutex.RUnlock()

	for _, clientChan := range e.clients[event.BookingCode] {
		// Non-blocking send to avoid slowing down emitter if client is slow
		select {
		case clientChan <- event:
		default:
		}
	}
}

// PublishBookingStatus lets the emitter stand in for the Kafka publisher when
// Kafka is disabled and only this instance serves SSE clients.
func (e *BookingEventEmitter) PublishBookingStatus(_ context.Context, event models.BookingStatusEvent) error {
	e.Emit(event)
	return nil
}

func (e *BookingEventEmitter) removeClient(bookingCode string, clientChan chan models.BookingStatusEvent) {
	e.clientMutex.Lock()
	defer e.clientMutex.Unlock()

	clients := e.clients[bookingCode]
	for i, ch := range clients {
		if ch == clientChan {
			e.clients[bookingCode] = append(clients[:i], clients[i+1:]...)
			close(clientChan)
			break
		}
	}

	// Clean up map entry if no more clients
	if len(e.clients[bookingCode]) == 0 {
		delete(e.clients, bookingCode)
	}
}

func (e *BookingEventEmitter) ClientCount(bookingCode string) int {
	e.clientMutex.RLock()
	defer e.clientMutex.RUnlock()
	return len(e.clients[bookingCode])
}
