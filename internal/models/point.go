package models

import (
	"time"

	"github.com/google/uuid"
)

// Flavor distinguishes first-purchase BV from repurchase BV
type Flavor string

const (
	FlavorFirstPurchase Flavor = "FIRST_PURCHASE"
	FlavorRepurchase    Flavor = "REPURCHASE"
)

// Valid reports whether f is a known flavor
func (f Flavor) Valid() bool {
	return f == FlavorFirstPurchase || f == FlavorRepurchase
}

// PointEvent is the immutable PV/BV/RP record of one settled order.
// (member_id, order_id) is unique, which makes ingestion idempotent.
type PointEvent struct {
	Entry
	MemberID   uuid.UUID `gorm:"type:uuid;not null;uniqueIndex:idx_point_events_member_order;index:idx_point_events_member_time,priority:1" json:"member_id"`
	OrderID    string    `gorm:"type:varchar(64);not null;uniqueIndex:idx_point_events_member_order" json:"order_id"`
	PV         int64     `gorm:"not null" json:"pv"`
	BV         int64     `gorm:"not null" json:"bv"`
	RP         int64     `gorm:"not null" json:"rp"`
	Amount     int64     `gorm:"not null;default:0" json:"amount"` // order value in paise, 0 when unknown
	Flavor     Flavor    `gorm:"type:varchar(20);not null;index" json:"flavor"`
	OccurredAt time.Time `gorm:"not null;index;index:idx_point_events_member_time,priority:2" json:"occurred_at"`
}
