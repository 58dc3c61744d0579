package models

import (
	"time"

	"github.com/google/uuid"
)

// BonusType names a compensation plan component
type BonusType string

const (
	BonusWelcome         BonusType = "WELCOME"
	BonusMatching        BonusType = "MATCHING"
	BonusRepurchase      BonusType = "REPURCHASE"
	BonusRoyalty         BonusType = "ROYALTY"
	BonusMonthlyPurchase BonusType = "MONTHLY_PURCHASE"
)

// PeriodBonusTypes are the bonus types paid by period runs
var PeriodBonusTypes = []BonusType{BonusMatching, BonusRepurchase, BonusRoyalty, BonusMonthlyPurchase}

// Valid reports whether t is a known bonus type
func (t BonusType) Valid() bool {
	switch t {
	case BonusWelcome, BonusMatching, BonusRepurchase, BonusRoyalty, BonusMonthlyPurchase:
		return true
	}
	return false
}

// Weekly reports whether the bonus is keyed by ISO week instead of month
func (t BonusType) Weekly() bool {
	return t == BonusMatching
}

// RunStatus is the BonusRun state machine:
// PENDING -> COMPUTING -> COMPLETED | FAILED, FAILED -> PENDING on retry.
type RunStatus string

const (
	RunPending   RunStatus = "PENDING"
	RunComputing RunStatus = "COMPUTING"
	RunCompleted RunStatus = "COMPLETED"
	RunFailed    RunStatus = "FAILED"
)

// BonusRun marks one payout of a bonus type for one period.
// (bonus_type, period_key) is unique: retries reuse the same row, so there is
// at most one COMPLETED run per period.
type BonusRun struct {
	Base
	BonusType   BonusType  `gorm:"type:varchar(20);not null;uniqueIndex:idx_bonus_runs_type_period" json:"bonus_type"`
	PeriodKey   string     `gorm:"type:varchar(16);not null;uniqueIndex:idx_bonus_runs_type_period" json:"period_key"`
	Status      RunStatus  `gorm:"type:varchar(12);not null;index" json:"status"`
	Attempts    int        `gorm:"not null;default:0" json:"attempts"`
	LastError   string     `gorm:"type:text" json:"last_error,omitempty"`
	PayoutCount int        `gorm:"not null;default:0" json:"payout_count"`
	GrossTotal  int64      `gorm:"not null;default:0" json:"gross_total"`
	NetTotal    int64      `gorm:"not null;default:0" json:"net_total"`
	StartedAt   *time.Time `json:"started_at,omitempty"`
	FinishedAt  *time.Time `json:"finished_at,omitempty"`
}

// BonusPayout is the audit row of one posted bonus credit with its deductions.
// (bonus_type, period_key, member_id, reason_code) is unique. Welcome bonuses use
// the referred member id as period key, so each referral pays once.
type BonusPayout struct {
	Entry
	BonusRunID          *uuid.UUID `gorm:"type:uuid;index" json:"bonus_run_id,omitempty"`
	BonusType           BonusType  `gorm:"type:varchar(20);not null;uniqueIndex:idx_bonus_payouts_unique;index:idx_bonus_payouts_member_type,priority:2" json:"bonus_type"`
	PeriodKey           string     `gorm:"type:varchar(64);not null;uniqueIndex:idx_bonus_payouts_unique" json:"period_key"`
	MemberID            uuid.UUID  `gorm:"type:uuid;not null;uniqueIndex:idx_bonus_payouts_unique;index:idx_bonus_payouts_member_type,priority:1" json:"member_id"`
	ReasonCode          ReasonCode `gorm:"type:varchar(40);not null;uniqueIndex:idx_bonus_payouts_unique" json:"reason_code"`
	SourceMemberID      *uuid.UUID `gorm:"type:uuid" json:"source_member_id,omitempty"`
	Level               int        `gorm:"not null;default:0" json:"level,omitempty"`
	BasisBV             int64      `gorm:"not null;default:0" json:"basis_bv"`
	Gross               int64      `gorm:"not null" json:"gross"`
	TDS                 int64      `gorm:"not null;default:0" json:"tds"`
	AdminFee            int64      `gorm:"not null;default:0" json:"admin_fee"`
	Net                 int64      `gorm:"not null" json:"net"`
	WalletTransactionID uuid.UUID  `gorm:"type:uuid;not null" json:"wallet_transaction_id"`
}

// MatchingCarry holds the unmatched leg BV left at the end of matching week
// PeriodKey, brought into the following week when carry-forward is enabled
type MatchingCarry struct {
	MemberID  uuid.UUID `gorm:"type:uuid;primaryKey" json:"member_id"`
	PeriodKey string    `gorm:"type:varchar(16);primaryKey" json:"period_key"`
	LeftBV    int64     `gorm:"not null;default:0" json:"left_bv"`
	RightBV   int64     `gorm:"not null;default:0" json:"right_bv"`
	UpdatedAt time.Time `json:"updated_at"`
}
