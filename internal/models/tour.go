package models

import (
	"time"

	"github.com/uptrace/bun"
)

type TourStatus string

const (
	TourActive   TourStatus = "active"
	TourSoldOut  TourStatus = "soldout"
	TourInactive TourStatus = "inactive"
)

type Tour struct {
	bun.BaseModel `bun:"table:tours"`

	ID              string     `bun:"id,pk" json:"id"`
	Name            string     `bun:"name,notnull" json:"name"`
	Price           int64      `bun:"price,notnull" json:"price"`
	CapacityMax     int        `bun:"capacity_max,notnull" json:"capacity_max"`
	CapacityCurrent int        `bun:"capacity_current,notnull,default:0" json:"capacity_current"`
	Status          TourStatus `bun:"status,notnull" json:"status"`
	CreatedAt       time.Time  `bun:"created_at,notnull" json:"created_at"`
	UpdatedAt       time.Time  `bun:"updated_at,notnull" json:"updated_at"`
}

// Bookable reports whether new bookings for partySize travellers fit. It is
// advisory only: confirmation does not re-check it.
func (t *Tour) Bookable(partySize int) bool {
	return t.Status == TourActive && t.CapacityCurrent+partySize <= t.CapacityMax
}

// CapacityAdjustment is an applied change to a tour's confirmed headcount.
// A non-empty Reference is unique, which makes adjustments idempotent.
type CapacityAdjustment struct {
	bun.BaseModel `bun:"table:capacity_adjustments"`

	ID        string    `bun:"id,pk"`
	TourID    string    `bun:"tour_id,notnull"`
	Delta     int       `bun:"delta,notnull"`
	Reason    string    `bun:"reason"`
	Reference string    `bun:"reference,nullzero,unique"`
	CreatedAt time.Time `bun:"created_at,notnull"`
}
