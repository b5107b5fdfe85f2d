package models

import (
	"time"

	"github.com/uptrace/bun"
)

type DiscountType string

const (
	DiscountPercentage  DiscountType = "percentage"
	DiscountFixedAmount DiscountType = "fixed_amount"
	DiscountFreeService DiscountType = "free_service"
)

type CouponStatus string

const (
	CouponActive   CouponStatus = "active"
	CouponInactive CouponStatus = "inactive"
)

type Coupon struct {
	bun.BaseModel `bun:"table:coupons"`

	ID           string       `bun:"id,pk" json:"id"`
	Code         string       `bun:"code,unique,notnull" json:"code"`
	DiscountType DiscountType `bun:"discount_type,notnull" json:"discount_type"`
	Value        int64        `bun:"value,notnull" json:"value"`
	// MaxDiscount caps percentage discounts; nil means no cap.
	MaxDiscount     *int64       `bun:"max_discount" json:"max_discount,omitempty"`
	MinPurchase     int64        `bun:"min_purchase,notnull,default:0" json:"min_purchase"`
	StartDate       time.Time    `bun:"start_date,notnull" json:"start_date"`
	EndDate         time.Time    `bun:"end_date,notnull" json:"end_date"`
	UsageLimit      int          `bun:"usage_limit,notnull,default:0" json:"usage_limit"`
	UsageCount      int          `bun:"usage_count,notnull,default:0" json:"usage_count"`
	Status          CouponStatus `bun:"status,notnull" json:"status"`
	EligibleTourIDs []string     `bun:"eligible_tour_ids,type:jsonb" json:"eligible_tour_ids,omitempty"`
	Description     string       `bun:"description" json:"description,omitempty"`
}

// AppliesToTour is true when the coupon has no tour restriction or lists tourID.
func (c *Coupon) AppliesToTour(tourID string) bool {
	if len(c.EligibleTourIDs) == 0 {
		return true
	}
	for _, id := range c.EligibleTourIDs {
		if id == tourID {
			return true
		}
	}
	return false
}
