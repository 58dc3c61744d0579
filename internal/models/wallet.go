package models

import (
	"fmt"

	"github.com/google/uuid"
)

// WalletKind identifies one of the five member wallets
type WalletKind string

const (
	WalletPurchase   WalletKind = "PURCHASE"
	WalletEarned     WalletKind = "EARNED"
	WalletReferral   WalletKind = "REFERRAL"
	WalletRepurchase WalletKind = "REPURCHASE"
	WalletCashback   WalletKind = "CASHBACK"
)

// WalletKinds lists every wallet kind in display order
var WalletKinds = []WalletKind{WalletPurchase, WalletEarned, WalletReferral, WalletRepurchase, WalletCashback}

// Valid reports whether k is a known wallet kind
func (k WalletKind) Valid() bool {
	for _, kind := range WalletKinds {
		if kind == k {
			return true
		}
	}
	return false
}

// ReasonCode explains why a wallet transaction exists
type ReasonCode string

const (
	ReasonWelcomeBonus         ReasonCode = "WELCOME_BONUS"
	ReasonMatchingBonus        ReasonCode = "MATCHING_BONUS"
	ReasonRoyaltyBonus         ReasonCode = "ROYALTY_BONUS"
	ReasonMonthlyPurchaseBonus ReasonCode = "MONTHLY_PURCHASE_BONUS"
	ReasonOrderDebit           ReasonCode = "ORDER_DEBIT"
	ReasonAdminAdjustment      ReasonCode = "ADMIN_ADJUSTMENT"
	ReasonTransferOut          ReasonCode = "TRANSFER_OUT"
	ReasonTransferIn           ReasonCode = "TRANSFER_IN"
)

// RepurchaseReason returns the reason code for a repurchase bonus level (1-based)
func RepurchaseReason(level int) ReasonCode {
	return ReasonCode(fmt.Sprintf("REPURCHASE_BONUS_L%d", level))
}

// WalletAccount holds the cached balance of one wallet. The balance is only
// changed together with a WalletTransaction in the same database transaction.
type WalletAccount struct {
	Base
	MemberID uuid.UUID  `gorm:"type:uuid;not null;uniqueIndex:idx_wallet_accounts_member_kind" json:"member_id"`
	Kind     WalletKind `gorm:"type:varchar(20);not null;uniqueIndex:idx_wallet_accounts_member_kind" json:"kind"`
	Balance  int64      `gorm:"not null;default:0" json:"balance"`
}

// WalletTransaction is an append-only signed posting against a wallet account.
// (wallet_account_id, reason_code, related_id) is unique so a retried posting
// cannot land twice.
type WalletTransaction struct {
	Entry
	WalletAccountID uuid.UUID  `gorm:"type:uuid;not null;uniqueIndex:idx_wallet_tx_posting;index" json:"wallet_account_id"`
	MemberID        uuid.UUID  `gorm:"type:uuid;not null;index" json:"member_id"`
	Kind            WalletKind `gorm:"type:varchar(20);not null" json:"kind"`
	Amount          int64      `gorm:"not null" json:"amount"`
	BalanceAfter    int64      `gorm:"not null" json:"balance_after"`
	ReasonCode      ReasonCode `gorm:"type:varchar(40);not null;uniqueIndex:idx_wallet_tx_posting" json:"reason_code"`
	RelatedID       string     `gorm:"type:varchar(100);not null;uniqueIndex:idx_wallet_tx_posting" json:"related_id"`
	Description     string     `gorm:"type:text" json:"description,omitempty"`
}
