// Package bookingtest wires a complete booking service over in-memory SQLite,
// miniredis and a fake gateway for tests in other packages.
package bookingtest

import (
	"context"
	"database/sql"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strconv"
	"sync"
	"testing"
	"time"

	"ms-booking/internal/booking"
	"ms-booking/internal/booking/db"
	bookingredis "ms-booking/internal/booking/redis"
	"ms-booking/internal/capacity"
	"ms-booking/internal/config"
	"ms-booking/internal/gateway"
	"ms-booking/internal/models"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-redis/redis/v8"
	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
	"github.com/uptrace/bun"
	"github.com/uptrace/bun/dialect/sqlitedialect"
	_ "github.com/uptrace/bun/driver/sqliteshim"
)

const TourID = "tour-halong-2d1n"

// RecordingNotifier keeps every request. Set Err to simulate a full queue.
type RecordingNotifier struct {
	mu       sync.Mutex
	Err      error
	before   func(models.NotificationRequest)
	requests []models.NotificationRequest
}

// BeforeRequest installs fn to run, unlocked, at the start of every request.
// Tests use it to hold a caller inside RequestNotification.
func (n *RecordingNotifier) BeforeRequest(fn func(models.NotificationRequest)) {
	n.mu.Lock()
	n.before = fn
	n.mu.Unlock()
}

func (n *RecordingNotifier) RequestNotification(_ context.Context, req models.NotificationRequest) error {
	n.mu.Lock()
	before := n.before
	n.mu.Unlock()
	if before != nil {
		before(req)
	}

	n.mu.Lock()
	defer n.mu.Unlock()
	if n.Err != nil {
		return n.Err
	}
	n.requests = append(n.requests, req)
	return nil
}

func (n *RecordingNotifier) Requests() []models.NotificationRequest {
	n.mu.Lock()
	defer n.mu.Unlock()
	return append([]models.NotificationRequest(nil), n.requests...)
}

func (n *RecordingNotifier) SetErr(err error) {
	n.mu.Lock()
	n.Err = err
	n.mu.Unlock()
}

type RecordingEvents struct {
	mu     sync.Mutex
	events []models.BookingStatusEvent
}

func (e *RecordingEvents) PublishBookingStatus(_ context.Context, event models.BookingStatusEvent) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.events = append(e.events, event)
	return nil
}

func (e *RecordingEvents) Events() []models.BookingStatusEvent {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]models.BookingStatusEvent(nil), e.events...)
}

type Harness struct {
	T          *testing.T
	Bun        *bun.DB
	DB         *db.DB
	Redis      *redis.Client
	Mini       *miniredis.Miniredis
	Holds      *bookingredis.Holds
	Ledger     *capacity.Ledger
	Gateway    *gateway.Client
	GatewayCfg config.GatewayConfig
	Notifier   *RecordingNotifier
	Events     *RecordingEvents
	Service    *booking.BookingService
	Reconciler *booking.Reconciler

	mu             sync.Mutex
	now            time.Time
	gatewayHandler http.HandlerFunc
}

// New builds a harness whose clock starts at the current second and only
// moves through Advance.
func New(t *testing.T, opts booking.Options) *Harness {
	t.Helper()
	h := &Harness{
		T:        t,
		Notifier: &RecordingNotifier{},
		Events:   &RecordingEvents{},
		now:      time.Now().UTC().Truncate(time.Second),
	}

	sqldb, err := sql.Open("sqlite", ":memory:")
	require.NoError(t, err)
	sqldb.SetMaxOpenConns(1)
	h.Bun = bun.NewDB(sqldb, sqlitedialect.New())
	require.NoError(t, db.CreateSchema(context.Background(), h.Bun))
	h.DB = db.New(h.Bun, nil)

	h.Mini, err = miniredis.Run()
	require.NoError(t, err)
	h.Redis = redis.NewClient(&redis.Options{Addr: h.Mini.Addr()})
	h.Holds = bookingredis.NewHolds(h.Redis, nil)

	h.Ledger = capacity.NewLedger(h.Bun, nil)

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		h.mu.Lock()
		handler := h.gatewayHandler
		h.mu.Unlock()
		if handler == nil {
			handler = acceptPayment
		}
		handler(w, r)
	}))
	h.GatewayCfg = config.GatewayConfig{
		Endpoint:    server.URL,
		PartnerCode: "MOMOTEST",
		AccessKey:   "F8BBA842ECF85",
		SecretKey:   "K951B6PE1waDMi640xX08PD3vg6EkVlz",
		RedirectURL: "https://tours.example.com/api/payments/momo/return",
		IPNURL:      "https://tours.example.com/api/payments/momo/ipn",
		RequestType: "captureWallet",
		Lang:        "vi",
		MinAmount:   1000,
		MaxAmount:   50000000,
		Timeout:     2 * time.Second,
	}
	h.Gateway = gateway.NewClient(h.GatewayCfg, server.Client(), nil)

	h.Service = booking.NewBookingService(h.DB, h.Holds, h.Ledger, h.Gateway, h.Notifier, h.Events, opts, nil)
	h.Service.SetClock(h.Now)
	h.Reconciler = booking.NewReconciler(h.Service, nil)

	t.Cleanup(func() {
		server.Close()
		h.Redis.Close()
		h.Mini.Close()
		h.Bun.Close()
	})
	return h
}

func acceptPayment(w http.ResponseWriter, r *http.Request) {
	var req map[string]interface{}
	_ = json.NewDecoder(r.Body).Decode(&req)
	orderID, _ := req["orderId"].(string)
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]interface{}{
		"partnerCode": req["partnerCode"],
		"orderId":     orderID,
		"requestId":   req["requestId"],
		"amount":      req["amount"],
		"resultCode":  0,
		"message":     "Successful.",
		"payUrl":      "https://test-payment.momo.vn/pay/" + orderID,
	})
}

// SetGatewayHandler replaces how the fake gateway answers create requests.
func (h *Harness) SetGatewayHandler(handler http.HandlerFunc) {
	h.mu.Lock()
	h.gatewayHandler = handler
	h.mu.Unlock()
}

func (h *Harness) Now() time.Time {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.now
}

// Advance moves the service clock and the Redis clock together.
func (h *Harness) Advance(d time.Duration) {
	h.mu.Lock()
	h.now = h.now.Add(d)
	h.mu.Unlock()
	h.Mini.FastForward(d)
}

// AddTour inserts an active tour priced per traveller.
func (h *Harness) AddTour(id string, price int64, current, max int) *models.Tour {
	h.T.Helper()
	tour := &models.Tour{
		ID:              id,
		Name:            "Ha Long Bay 2D1N",
		Price:           price,
		CapacityMax:     max,
		CapacityCurrent: current,
		Status:          models.TourActive,
		CreatedAt:       h.Now(),
		UpdatedAt:       h.Now(),
	}
	_, err := h.Bun.NewInsert().Model(tour).Exec(context.Background())
	require.NoError(h.T, err)
	return tour
}

// AddCoupon inserts coupon, filling id, status and a validity window
// around the current clock when they are unset.
func (h *Harness) AddCoupon(coupon *models.Coupon) *models.Coupon {
	h.T.Helper()
	if coupon.ID == "" {
		coupon.ID = uuid.NewString()
	}
	if coupon.Status == "" {
		coupon.Status = models.CouponActive
	}
	if coupon.StartDate.IsZero() {
		coupon.StartDate = h.Now().AddDate(0, -1, 0)
	}
	if coupon.EndDate.IsZero() {
		coupon.EndDate = h.Now().AddDate(0, 1, 0)
	}
	_, err := h.Bun.NewInsert().Model(coupon).Exec(context.Background())
	require.NoError(h.T, err)
	return coupon
}

func (h *Harness) Coupon(id string) *models.Coupon {
	h.T.Helper()
	var coupon models.Coupon
	require.NoError(h.T, h.Bun.NewSelect().Model(&coupon).Where("id = ?", id).Scan(context.Background()))
	return &coupon
}

func (h *Harness) Tour(id string) *models.Tour {
	h.T.Helper()
	var tour models.Tour
	require.NoError(h.T, h.Bun.NewSelect().Model(&tour).Where("id = ?", id).Scan(context.Background()))
	return &tour
}

// Request is a valid create request for partySize travellers departing in a week.
func (h *Harness) Request(tourID string, partySize int, couponCode string) models.CreateBookingRequest {
	return models.CreateBookingRequest{
		TourID:        tourID,
		Contact:       models.Contact{Name: "Nguyen Van A", Email: "a@example.com", Phone: "0901234567"},
		PartySize:     partySize,
		DepartureDate: h.Now().AddDate(0, 0, 7).Format("2006-01-02"),
		CouponCode:    couponCode,
	}
}

// Callback builds a correctly signed gateway callback for a booking.
func (h *Harness) Callback(bookingID string, resultCode int, amount int64, transID string) *gateway.CallbackPayload {
	h.T.Helper()
	extra, err := gateway.EncodeCorrelation(bookingID)
	require.NoError(h.T, err)

	message := "Successful."
	if resultCode != gateway.ResultSuccess {
		message = "Transaction denied by user."
	}
	p := &gateway.CallbackPayload{
		PartnerCode:  h.GatewayCfg.PartnerCode,
		OrderID:      "TB-" + bookingID[:8],
		RequestID:    "req-" + bookingID[:8],
		Amount:       json.Number(strconv.FormatInt(amount, 10)),
		OrderInfo:    "Tour booking",
		OrderType:    "momo_wallet",
		TransID:      json.Number(transID),
		ResultCode:   json.Number(strconv.Itoa(resultCode)),
		Message:      message,
		PayType:      "qr",
		ResponseTime: json.Number(strconv.FormatInt(h.Now().UnixMilli(), 10)),
		ExtraData:    extra,
	}
	h.Gateway.SignCallback(p)
	return p
}
