package booking

import (
	"context"
	"errors"
	"fmt"
	"net/mail"
	"strings"
	"time"

	"ms-booking/internal/booking/db"
	"ms-booking/internal/booking/discount"
	"ms-booking/internal/capacity"
	"ms-booking/internal/gateway"
	"ms-booking/internal/logger"
	"ms-booking/internal/models"
	"ms-booking/internal/utils"

	"github.com/google/uuid"
)

const MaxPartySize = 50

type DBLayer interface {
	GetTour(ctx context.Context, id string) (*models.Tour, error)
	FindCouponByCode(ctx context.Context, code string) (*models.Coupon, error)
	CreateBooking(ctx context.Context, booking *models.Booking) error
	GetBookingByID(ctx context.Context, id string) (*models.Booking, error)
	GetBookingByCode(ctx context.Context, code string) (*models.Booking, error)
	ConfirmPayment(ctx context.Context, bookingID string, target models.BookingStatus, entry *models.PaymentEntry, now time.Time) (*db.ConfirmResult, error)
	RecordPaymentEntry(ctx context.Context, entry *models.PaymentEntry) (bool, error)
	ListPayments(ctx context.Context, bookingID string) ([]models.PaymentEntry, error)
	MarkCapacityApplied(ctx context.Context, bookingID string) error
	ClaimNotification(ctx context.Context, bookingID string) (bool, error)
	ReleaseNotification(ctx context.Context, bookingID string) error
	Transition(ctx context.Context, bookingID string, from []models.BookingStatus, to models.BookingStatus, fields map[string]interface{}) (bool, error)
}

type HoldStore interface {
	PlaceHold(ctx context.Context, bookingID string, expiresAt time.Time) error
	ReleaseHold(ctx context.Context, bookingID string) error
	AcquirePaymentLock(ctx context.Context, bookingID, token string, ttl time.Duration) (bool, error)
	ReleasePaymentLock(ctx context.Context, bookingID, token string) error
}

type CapacityLedger interface {
	Adjust(ctx context.Context, tourID string, delta int, reason, reference string) (*capacity.Capacity, error)
}

type PaymentGateway interface {
	CreatePayment(ctx context.Context, req gateway.PaymentRequest) (*gateway.PaymentSession, error)
	ValidateAmount(amount int64) error
	VerifyCallback(p *gateway.CallbackPayload) error
}

// Notifier hands notification requests to the delivery side. It must not block.
type Notifier interface {
	RequestNotification(ctx context.Context, req models.NotificationRequest) error
}

type EventPublisher interface {
	PublishBookingStatus(ctx context.Context, event models.BookingStatusEvent) error
}

type Options struct {
	HoldDuration   time.Duration
	SuccessStatus  models.BookingStatus
	PaymentLockTTL time.Duration
}

type BookingService struct {
	DB       DBLayer
	Holds    HoldStore
	Capacity CapacityLedger
	Gateway  PaymentGateway
	Notifier Notifier
	Events   EventPublisher
	Discount *discount.DiscountService

	opts   Options
	logger *logger.Logger
	now    func() time.Time
}

func NewBookingService(
	database DBLayer,
	holds HoldStore,
	ledger CapacityLedger,
	gw PaymentGateway,
	notifier Notifier,
	events EventPublisher,
	opts Options,
	log *logger.Logger,
) *BookingService {
	if log == nil {
		log = logger.NewNopLogger()
	}
	if opts.HoldDuration <= 0 {
		opts.HoldDuration = 5 * time.Minute
	}
	if opts.SuccessStatus == "" {
		opts.SuccessStatus = models.BookingConfirmed
	}
	if opts.PaymentLockTTL <= 0 {
		opts.PaymentLockTTL = 15 * time.Second
	}
	return &BookingService{
		DB:       database,
		Holds:    holds,
		Capacity: ledger,
		Gateway:  gw,
		Notifier: notifier,
		Events:   events,
		Discount: discount.NewDiscountService(log),
		opts:     opts,
		logger:   log,
		now:      func() time.Time { return time.Now().UTC() },
	}
}

// SetClock replaces the service clock. Tests and the ops CLI use it.
func (s *BookingService) SetClock(now func() time.Time) {
	s.now = now
}

// ---------------- CREATE & PRICE ----------------

// Create validates the request, prices it and stores a pre-booking holding the
// party's seats until the hold expires. Coupon usage is not counted here.
func (s *BookingService) Create(ctx context.Context, userID string, req models.CreateBookingRequest) (*models.Booking, error) {
	now := s.now()

	contact, err := validateContact(req.Contact)
	if err != nil {
		return nil, err
	}
	if req.PartySize < 1 || req.PartySize > MaxPartySize {
		return nil, fmt.Errorf("%w: %d", ErrInvalidPartySize, req.PartySize)
	}
	departure, err := utils.ParseDate(req.DepartureDate)
	if err != nil {
		return nil, fmt.Errorf("%w: %q", ErrInvalidDate, req.DepartureDate)
	}
	if departure.Before(utils.StartOfDay(now).AddDate(0, 0, 1)) {
		return nil, fmt.Errorf("%w: %s is not in the future", ErrInvalidDate, req.DepartureDate)
	}

	tour, quote, coupon, err := s.price(ctx, req.TourID, req.PartySize, req.CouponCode, now)
	if err != nil {
		return nil, err
	}
	if tour.Status == models.TourInactive {
		return nil, ErrTourUnavailable
	}
	if !tour.Bookable(req.PartySize) {
		return nil, fmt.Errorf("%w: %d of %d booked", ErrInsufficientCapacity, tour.CapacityCurrent, tour.CapacityMax)
	}

	expiresAt := now.Add(s.opts.HoldDuration)
	booking := &models.Booking{
		ID:             uuid.NewString(),
		BookingCode:    utils.GenerateBookingCode(now),
		TourID:         tour.ID,
		TourName:       tour.Name,
		UserID:         userID,
		Contact:        contact,
		PartySize:      req.PartySize,
		DepartureDate:  departure,
		UnitPrice:      quote.UnitPrice,
		SubtotalAmount: quote.SubtotalAmount,
		DiscountAmount: quote.DiscountAmount,
		TotalAmount:    quote.TotalAmount,
		BookingStatus:  models.BookingPreBooking,
		PaymentStatus:  models.PaymentPending,
		ExpiresAt:      &expiresAt,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	if coupon != nil {
		booking.CouponID = coupon.ID
		booking.CouponCode = coupon.Code
	}

	if err := s.DB.CreateBooking(ctx, booking); err != nil {
		s.logger.Error("BOOKING", fmt.Sprintf("Failed to store booking for tour %s: %v", tour.ID, err))
		return nil, fmt.Errorf("failed to create booking: %w", err)
	}

	if err := s.Holds.PlaceHold(ctx, booking.ID, expiresAt); err != nil {
		// The periodic sweep still reaps the booking without the key.
		s.logger.Warn("REDIS", fmt.Sprintf("Failed to place hold for booking %s: %v", booking.ID, err))
	}

	s.logger.LogBooking("CREATE", booking.ID, fmt.Sprintf("code=%s tour=%s party=%d total=%d expires=%s",
		booking.BookingCode, tour.ID, booking.PartySize, booking.TotalAmount, expiresAt.Format(time.RFC3339)))
	s.publish(ctx, booking, "booking.created")
	return booking, nil
}

// PreviewPrice prices a prospective booking without reserving anything.
func (s *BookingService) PreviewPrice(ctx context.Context, req models.PriceQuoteRequest) (*models.PriceQuote, error) {
	if req.PartySize < 1 || req.PartySize > MaxPartySize {
		return nil, fmt.Errorf("%w: %d", ErrInvalidPartySize, req.PartySize)
	}
	_, quote, _, err := s.price(ctx, req.TourID, req.PartySize, req.CouponCode, s.now())
	if err != nil {
		return nil, err
	}
	return quote, nil
}

func (s *BookingService) price(ctx context.Context, tourID string, partySize int, couponCode string, now time.Time) (*models.Tour, *models.PriceQuote, *models.Coupon, error) {
	tour, err := s.DB.GetTour(ctx, tourID)
	if errors.Is(err, db.ErrNotFound) {
		return nil, nil, nil, fmt.Errorf("%w: %s", ErrTourNotFound, tourID)
	}
	if err != nil {
		return nil, nil, nil, fmt.Errorf("failed to load tour: %w", err)
	}
	if tour.Price <= 0 {
		return nil, nil, nil, fmt.Errorf("%w: tour %s has no price", ErrInvalidAmount, tourID)
	}

	subtotal := tour.Price * int64(partySize)

	var coupon *models.Coupon
	var discountAmount int64
	code := strings.ToUpper(strings.TrimSpace(couponCode))
	if code != "" {
		coupon, err = s.DB.FindCouponByCode(ctx, code)
		if err != nil {
			return nil, nil, nil, fmt.Errorf("failed to load coupon: %w", err)
		}
		if coupon == nil {
			return nil, nil, nil, &discount.CouponError{Code: code, Reason: discount.ReasonNotFound}
		}
		discountAmount, err = s.Discount.Price(coupon, subtotal, tour.ID, now)
		if err != nil {
			return nil, nil, nil, err
		}
	}

	total := subtotal - discountAmount
	if err := s.Gateway.ValidateAmount(total); err != nil {
		return nil, nil, nil, fmt.Errorf("%w: %v", ErrInvalidAmount, err)
	}

	return tour, &models.PriceQuote{
		TourID:         tour.ID,
		PartySize:      partySize,
		UnitPrice:      tour.Price,
		SubtotalAmount: subtotal,
		DiscountAmount: discountAmount,
		TotalAmount:    total,
		CouponCode:     code,
	}, coupon, nil
}

func validateContact(c models.Contact) (models.Contact, error) {
	c.Name = strings.TrimSpace(c.Name)
	c.Email = strings.TrimSpace(c.Email)
	c.Phone = strings.TrimSpace(c.Phone)

	if c.Name == "" {
		return c, fmt.Errorf("%w: name is required", ErrInvalidContact)
	}
	addr, err := mail.ParseAddress(c.Email)
	if err != nil || addr.Address != c.Email {
		return c, fmt.Errorf("%w: email %q", ErrInvalidContact, c.Email)
	}

	digits := strings.TrimPrefix(c.Phone, "+")
	if len(digits) < 8 || len(digits) > 15 {
		return c, fmt.Errorf("%w: phone %q", ErrInvalidContact, c.Phone)
	}
	for _, r := range digits {
		if r < '0' || r > '9' {
			return c, fmt.Errorf("%w: phone %q", ErrInvalidContact, c.Phone)
		}
	}
	return c, nil
}

// ---------------- READS ----------------

func (s *BookingService) GetBooking(ctx context.Context, id string) (*models.Booking, error) {
	booking, err := s.DB.GetBookingByID(ctx, id)
	if errors.Is(err, db.ErrNotFound) {
		return nil, ErrBookingNotFound
	}
	return booking, err
}

func (s *BookingService) GetBookingByCode(ctx context.Context, code string) (*models.Booking, error) {
	booking, err := s.DB.GetBookingByCode(ctx, code)
	if errors.Is(err, db.ErrNotFound) {
		return nil, ErrBookingNotFound
	}
	return booking, err
}

// ListPayments returns the ledger of a booking, oldest first.
func (s *BookingService) ListPayments(ctx context.Context, bookingID string) ([]models.PaymentEntry, error) {
	return s.DB.ListPayments(ctx, bookingID)
}

// ---------------- PAYMENT ----------------

// StartPayment opens a gateway session for an unpaid pre-booking. A gateway
// timeout leaves no trace: the booking stays payable until its hold expires.
func (s *BookingService) StartPayment(ctx context.Context, bookingID string) (*models.PaymentStartResponse, error) {
	booking, err := s.GetBooking(ctx, bookingID)
	if err != nil {
		return nil, err
	}

	switch {
	case booking.PaymentStatus == models.PaymentPaid:
		return nil, ErrAlreadyPaid
	case booking.BookingStatus != models.BookingPreBooking:
		return nil, fmt.Errorf("%w: booking is %s", ErrInvalidTransition, booking.BookingStatus)
	case booking.IsExpired(s.now()):
		return nil, ErrBookingExpired
	}

	token := uuid.NewString()
	locked, err := s.Holds.AcquirePaymentLock(ctx, booking.ID, token, s.opts.PaymentLockTTL)
	if err != nil {
		return nil, fmt.Errorf("failed to lock booking for payment: %w", err)
	}
	if !locked {
		return nil, ErrPaymentInProgress
	}
	defer func() {
		if err := s.Holds.ReleasePaymentLock(context.Background(), booking.ID, token); err != nil {
			s.logger.Warn("REDIS", fmt.Sprintf("Failed to release payment lock for %s: %v", booking.ID, err))
		}
	}()

	session, err := s.Gateway.CreatePayment(ctx, gateway.PaymentRequest{
		BookingID:   booking.ID,
		BookingCode: booking.BookingCode,
		Amount:      booking.TotalAmount,
		Description: fmt.Sprintf("Tour booking %s - %s", booking.BookingCode, booking.TourName),
	})
	if err != nil {
		s.logger.Warn("PAYMENT", fmt.Sprintf("Failed to open payment for %s: %v", booking.ID, err))
		return nil, err
	}

	s.logger.LogPayment("START", booking.ID, fmt.Sprintf("orderId=%s requestId=%s", session.OrderID, session.RequestID))
	return &models.PaymentStartResponse{
		BookingID: booking.ID,
		PayURL:    session.PayURL,
		Deeplink:  session.Deeplink,
		QRCodeURL: session.QRCodeURL,
		OrderID:   session.OrderID,
		RequestID: session.RequestID,
		Amount:    session.Amount,
		ExpiresAt: *booking.ExpiresAt,
	}, nil
}

// ApplyGatewayOutcome turns a verified gateway outcome into booking state.
// Success flips the booking to the configured paid status exactly once;
// repeats are no-ops apart from finishing side effects a crash left undone.
// Failure only appends a failed ledger entry.
func (s *BookingService) ApplyGatewayOutcome(ctx context.Context, bookingID string, outcome models.GatewayOutcome) (*models.Booking, error) {
	booking, err := s.GetBooking(ctx, bookingID)
	if errors.Is(err, ErrBookingNotFound) && outcome.Success && outcome.TransactionID != "" {
		return nil, s.recordOrphanPayment(ctx, bookingID, outcome)
	}
	if err != nil {
		return nil, err
	}
	now := s.now()

	if !outcome.Success {
		return booking, s.recordFailure(ctx, booking, outcome, now)
	}

	if outcome.TransactionID == "" {
		return nil, ErrMissingTransactionID
	}
	if outcome.Amount != booking.TotalAmount {
		s.logger.LogSecurity("AMOUNT_MISMATCH", fmt.Sprintf("booking %s total %d paid %d (transId %s)",
			booking.ID, booking.TotalAmount, outcome.Amount, outcome.TransactionID))
		if err := s.recordFailure(ctx, booking, outcome, now); err != nil {
			return nil, err
		}
		return nil, ErrPaymentAmountMismatch
	}
	if booking.PaymentStatus != models.PaymentPaid && !booking.CanTransitionTo(s.opts.SuccessStatus) {
		return nil, fmt.Errorf("%w: booking is %s", ErrAlreadyTerminal, booking.BookingStatus)
	}

	entry := newLedgerEntry(booking.ID, outcome.TransactionID, models.LedgerSuccess, outcome, now)
	result, err := s.DB.ConfirmPayment(ctx, booking.ID, s.opts.SuccessStatus, entry, now)
	if err != nil {
		return nil, err
	}

	booking, err = s.GetBooking(ctx, bookingID)
	if err != nil {
		return nil, err
	}

	if !result.Transitioned {
		if booking.PaymentStatus != models.PaymentPaid {
			return nil, fmt.Errorf("%w: booking is %s", ErrAlreadyTerminal, booking.BookingStatus)
		}
		if result.LedgerInserted {
			s.logger.LogSecurity("DUPLICATE_PAYMENT", fmt.Sprintf("booking %s already paid, recorded extra transaction %s", booking.ID, outcome.TransactionID))
		} else {
			s.logger.LogPayment("REPLAY", booking.ID, fmt.Sprintf("transaction %s already applied", outcome.TransactionID))
		}
		s.ResumeSideEffects(ctx, booking)
		return booking, nil
	}

	s.logger.LogPayment("CONFIRMED", booking.ID, fmt.Sprintf("status=%s transId=%s amount=%d coupon_redeemed=%t",
		booking.BookingStatus, outcome.TransactionID, outcome.Amount, result.CouponRedeemed))

	if err := s.Holds.ReleaseHold(ctx, booking.ID); err != nil {
		s.logger.Warn("REDIS", fmt.Sprintf("Failed to release hold for %s: %v", booking.ID, err))
	}
	s.ResumeSideEffects(ctx, booking)
	s.publish(ctx, booking, "booking.paid")
	return booking, nil
}

func (s *BookingService) recordFailure(ctx context.Context, booking *models.Booking, outcome models.GatewayOutcome, now time.Time) error {
	key := outcome.TransactionID
	if key == "" {
		ref := outcome.RequestID
		if ref == "" {
			ref = outcome.OrderID
		}
		key = fmt.Sprintf("failed:%s:%d", ref, outcome.ResultCode)
	}

	entry := newLedgerEntry(booking.ID, key, models.LedgerFailed, outcome, now)
	inserted, err := s.DB.RecordPaymentEntry(ctx, entry)
	if err != nil {
		return err
	}
	if inserted {
		s.logger.LogPayment("FAILED", booking.ID, fmt.Sprintf("resultCode=%d message=%s", outcome.ResultCode, outcome.Message))
	}
	return nil
}

// recordOrphanPayment keeps money taken for a booking the reaper already
// removed, so staff can refund it. It still reports ErrBookingNotFound.
func (s *BookingService) recordOrphanPayment(ctx context.Context, bookingID string, outcome models.GatewayOutcome) error {
	entry := newLedgerEntry(bookingID, outcome.TransactionID, models.LedgerFailed, outcome, s.now())
	entry.Message = "booking expired before payment: " + outcome.Message
	inserted, err := s.DB.RecordPaymentEntry(ctx, entry)
	if err != nil {
		return err
	}
	if inserted {
		s.logger.LogSecurity("ORPHAN_PAYMENT", fmt.Sprintf("booking %s no longer exists, transId %s amount %d needs a refund",
			bookingID, outcome.TransactionID, outcome.Amount))
	}
	return ErrBookingNotFound
}

func newLedgerEntry(bookingID, transactionID string, status models.LedgerStatus, outcome models.GatewayOutcome, now time.Time) *models.PaymentEntry {
	method := outcome.PayType
	if method == "" {
		method = "momo"
	}
	return &models.PaymentEntry{
		ID:            uuid.NewString(),
		BookingID:     bookingID,
		TransactionID: transactionID,
		RequestID:     outcome.RequestID,
		OrderID:       outcome.OrderID,
		Amount:        outcome.Amount,
		Method:        method,
		Status:        status,
		ResultCode:    outcome.ResultCode,
		Message:       outcome.Message,
		CreatedAt:     now,
	}
}

// ResumeSideEffects performs the capacity adjustment and payment notification
// a paid booking still owes. Each step is recorded on the booking, so running
// this again only repeats what did not complete.
func (s *BookingService) ResumeSideEffects(ctx context.Context, booking *models.Booking) {
	if booking.PaymentStatus != models.PaymentPaid {
		return
	}

	if !booking.CapacityApplied {
		_, err := s.Capacity.Adjust(ctx, booking.TourID, booking.PartySize, "booking_paid", "paid:"+booking.ID)
		if err != nil {
			s.logger.Error("CAPACITY", fmt.Sprintf("Failed to add %d seats for booking %s: %v", booking.PartySize, booking.ID, err))
		} else if err := s.DB.MarkCapacityApplied(ctx, booking.ID); err != nil {
			s.logger.Error("DATABASE", fmt.Sprintf("Failed to mark capacity applied for %s: %v", booking.ID, err))
		} else {
			booking.CapacityApplied = true
		}
	}

	if booking.NotificationSent {
		return
	}
	claimed, err := s.DB.ClaimNotification(ctx, booking.ID)
	if err != nil {
		s.logger.Error("DATABASE", fmt.Sprintf("Failed to claim payment notification for %s: %v", booking.ID, err))
		return
	}
	if !claimed {
		// A concurrent callback or the sweep already owns it.
		booking.NotificationSent = true
		return
	}
	err = s.Notifier.RequestNotification(ctx, notificationFor(booking, models.NotifyPayment, booking.TotalAmount, s.now()))
	if err != nil {
		s.logger.Warn("NOTIFY", fmt.Sprintf("Payment notification for %s not queued: %v", booking.ID, err))
		if err := s.DB.ReleaseNotification(context.WithoutCancel(ctx), booking.ID); err != nil {
			s.logger.Error("DATABASE", fmt.Sprintf("Failed to release notification claim for %s: %v", booking.ID, err))
		}
		return
	}
	booking.NotificationSent = true
}

func notificationFor(b *models.Booking, kind models.NotificationKind, amount int64, now time.Time) models.NotificationRequest {
	return models.NotificationRequest{
		Kind:        kind,
		UserID:      b.UserID,
		Email:       b.Contact.Email,
		BookingID:   b.ID,
		BookingCode: b.BookingCode,
		TourName:    b.TourName,
		Amount:      amount,
		RequestedAt: now,
	}
}

func (s *BookingService) publish(ctx context.Context, b *models.Booking, eventType string) {
	if s.Events == nil {
		return
	}
	event := models.BookingStatusEvent{
		Type:          eventType,
		BookingID:     b.ID,
		BookingCode:   b.BookingCode,
		BookingStatus: b.BookingStatus,
		PaymentStatus: b.PaymentStatus,
		Timestamp:     s.now(),
	}
	if err := s.Events.PublishBookingStatus(ctx, event); err != nil {
		s.logger.Warn("KAFKA", fmt.Sprintf("Failed to publish %s for %s: %v", eventType, b.ID, err))
	}
}
