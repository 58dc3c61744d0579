package models

import (
	"time"

	"github.com/google/uuid"
)

// Side is the placement leg under a sponsor
type Side string

const (
	SideLeft  Side = "LEFT"
	SideRight Side = "RIGHT"
)

// Valid reports whether s is LEFT or RIGHT
func (s Side) Valid() bool {
	return s == SideLeft || s == SideRight
}

// MemberStatus is the activation state of a member
type MemberStatus string

const (
	MemberInactive MemberStatus = "INACTIVE"
	MemberActive   MemberStatus = "ACTIVE"
)

// Member is a node of the binary placement tree. A member sits directly under
// its sponsor on one side; (sponsor_id, side) is unique so each sponsor has at
// most one LEFT and one RIGHT child. The root has no sponsor and no side.
type Member struct {
	Base
	SponsorID     *uuid.UUID   `gorm:"type:uuid;uniqueIndex:idx_members_sponsor_side" json:"sponsor_id,omitempty"`
	Side          Side         `gorm:"type:varchar(5);uniqueIndex:idx_members_sponsor_side" json:"side,omitempty"`
	Rank          Rank         `gorm:"not null" json:"rank"`
	Status        MemberStatus `gorm:"type:varchar(10);not null;index" json:"status"`
	KYCApproved   bool         `gorm:"not null;default:false" json:"kyc_approved"`
	KYCApprovedAt *time.Time   `json:"kyc_approved_at,omitempty"`
	ActivatedAt   *time.Time   `json:"activated_at,omitempty"`
	RegisteredAt  time.Time    `gorm:"not null;index" json:"registered_at"`
}

// IsActive reports whether the member has made a qualifying purchase
func (m *Member) IsActive() bool {
	return m.Status == MemberActive
}

// RankChange records one forward rank promotion
type RankChange struct {
	Entry
	MemberID uuid.UUID `gorm:"type:uuid;not null;index" json:"member_id"`
	FromRank Rank      `gorm:"not null" json:"from_rank"`
	ToRank   Rank      `gorm:"not null" json:"to_rank"`
}
