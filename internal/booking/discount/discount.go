package discount

import (
	"fmt"
	"time"

	"ms-booking/internal/logger"
	"ms-booking/internal/models"
)

// RejectReason enumerates why a coupon could not be applied.
type RejectReason string

const (
	ReasonInactive           RejectReason = "coupon_inactive"
	ReasonNotStarted         RejectReason = "coupon_not_started"
	ReasonExpired            RejectReason = "coupon_expired"
	ReasonMinPurchaseNotMet  RejectReason = "min_purchase_not_met"
	ReasonTourNotEligible    RejectReason = "tour_not_eligible"
	ReasonUsageLimitExceeded RejectReason = "usage_limit_exceeded"
	ReasonNotFound           RejectReason = "coupon_not_found"
)

var reasonMessages = map[RejectReason]string{
	ReasonInactive:           "Coupon is not active",
	ReasonNotStarted:         "Coupon is not yet active",
	ReasonExpired:            "Coupon has expired",
	ReasonMinPurchaseNotMet:  "Purchase amount does not meet the coupon minimum",
	ReasonTourNotEligible:    "Coupon is not applicable to this tour",
	ReasonUsageLimitExceeded: "Coupon usage limit has been reached",
	ReasonNotFound:           "Coupon code does not exist",
}

// CouponError is returned by Price when a coupon fails an eligibility check.
type CouponError struct {
	Code   string
	Reason RejectReason
}

func (e *CouponError) Error() string {
	return fmt.Sprintf("coupon %s rejected: %s", e.Code, e.Reason)
}

// Message is the user-facing text for the rejection.
func (e *CouponError) Message() string {
	if msg, ok := reasonMessages[e.Reason]; ok {
		return msg
	}
	return "Coupon cannot be applied"
}

// DiscountService validates coupons and computes discount amounts. It never
// touches coupon usage counters; redemption happens when a booking is paid.
type DiscountService struct {
	logger *logger.Logger
}

func NewDiscountService(log *logger.Logger) *DiscountService {
	if log == nil {
		log = logger.NewNopLogger()
	}
	return &DiscountService{logger: log}
}

// ApplyDiscountResult represents the result of applying a coupon
type ApplyDiscountResult struct {
	IsValid        bool
	DiscountAmount int64
	Reason         RejectReason
}

// ValidateAndCalculateDiscount runs every eligibility check and, if all pass,
// computes the discount for purchaseAmount. A nil coupon yields a valid zero discount.
func (s *DiscountService) ValidateAndCalculateDiscount(
	coupon *models.Coupon,
	purchaseAmount int64,
	tourID string,
	now time.Time,
) (*ApplyDiscountResult, error) {
	result := &ApplyDiscountResult{}

	if coupon == nil {
		result.IsValid = true
		return result, nil
	}
	if purchaseAmount < 0 {
		return nil, fmt.Errorf("negative purchase amount %d", purchaseAmount)
	}

	if coupon.Status != models.CouponActive {
		result.Reason = ReasonInactive
		return result, nil
	}
	if now.Before(coupon.StartDate) {
		result.Reason = ReasonNotStarted
		return result, nil
	}
	if now.After(coupon.EndDate) {
		result.Reason = ReasonExpired
		return result, nil
	}
	if purchaseAmount < coupon.MinPurchase {
		result.Reason = ReasonMinPurchaseNotMet
		return result, nil
	}
	if !coupon.AppliesToTour(tourID) {
		result.Reason = ReasonTourNotEligible
		return result, nil
	}
	if coupon.UsageLimit > 0 && coupon.UsageCount >= coupon.UsageLimit {
		result.Reason = ReasonUsageLimitExceeded
		return result, nil
	}

	var discountAmount int64
	switch coupon.DiscountType {
	case models.DiscountPercentage:
		if coupon.Value < 0 || coupon.Value > 100 {
			return nil, fmt.Errorf("percentage coupon %s has out of range value %d", coupon.Code, coupon.Value)
		}
		discountAmount = purchaseAmount * coupon.Value / 100
		if coupon.MaxDiscount != nil && discountAmount > *coupon.MaxDiscount {
			discountAmount = *coupon.MaxDiscount
		}

	case models.DiscountFixedAmount:
		if coupon.Value < 0 {
			return nil, fmt.Errorf("fixed coupon %s has negative value %d", coupon.Code, coupon.Value)
		}
		discountAmount = coupon.Value

	case models.DiscountFreeService:
		// Describes a bundled service; no money comes off the price here.
		discountAmount = 0

	default:
		return nil, fmt.Errorf("unsupported discount type: %s", coupon.DiscountType)
	}

	if discountAmount > purchaseAmount {
		discountAmount = purchaseAmount
	}
	if discountAmount < 0 {
		discountAmount = 0
	}

	result.IsValid = true
	result.DiscountAmount = discountAmount

	s.logger.Debug("DISCOUNT", fmt.Sprintf("Coupon %s gives %d off %d", coupon.Code, discountAmount, purchaseAmount))
	return result, nil
}

// Price returns the discount amount or a *CouponError naming the failed check.
func (s *DiscountService) Price(coupon *models.Coupon, purchaseAmount int64, tourID string, now time.Time) (int64, error) {
	result, err := s.ValidateAndCalculateDiscount(coupon, purchaseAmount, tourID, now)
	if err != nil {
		return 0, err
	}
	if !result.IsValid {
		return 0, &CouponError{Code: coupon.Code, Reason: result.Reason}
	}
	return result.DiscountAmount, nil
}
