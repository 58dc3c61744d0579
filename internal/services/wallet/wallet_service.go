// Package wallet is the Wallet Ledger: five wallets per member whose cached
// balances move only together with an append-only transaction.
package wallet

import (
	"context"
	"errors"
	"fmt"
	"sort"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"github.com/vedagro/backend/internal/database"
	"github.com/vedagro/backend/internal/logger"
	"github.com/vedagro/backend/internal/metrics"
	"github.com/vedagro/backend/internal/models"
	"github.com/vedagro/backend/internal/services/member"
	"github.com/vedagro/backend/internal/utils"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

var (
	ErrInsufficientBalance = errors.New("insufficient balance")
	ErrInvalidAmount       = errors.New("amount must be positive")
	ErrInvalidWalletKind   = errors.New("unknown wallet kind")
	ErrDuplicatePosting    = errors.New("posting already recorded")
	ErrSameWallet          = errors.New("cannot transfer to the same wallet")
	ErrMissingReference    = errors.New("posting needs a related id")
)

// Posting describes one credit or debit
type Posting struct {
	MemberID    uuid.UUID
	Kind        models.WalletKind
	Amount      int64 // paise, always positive; Debit negates it
	Reason      models.ReasonCode
	RelatedID   string
	Description string
}

// WalletRef names one of a member's wallets
type WalletRef struct {
	MemberID uuid.UUID
	Kind     models.WalletKind
}

// WalletService handles wallet operations
type WalletService struct {
	db      *gorm.DB
	metrics *metrics.Metrics
	log     *logrus.Entry
}

// NewWalletService creates a new wallet service
func NewWalletService(db *gorm.DB, m *metrics.Metrics, log logrus.FieldLogger) *WalletService {
	return &WalletService{db: db, metrics: m, log: logger.Component(log, "wallet")}
}

// Credit adds funds to a wallet
func (s *WalletService) Credit(ctx context.Context, p Posting) (*models.WalletTransaction, error) {
	var txn *models.WalletTransaction
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var err error
		txn, err = s.CreditWithTx(tx, p)
		return err
	})
	return txn, err
}

// CreditWithTx adds funds to a wallet using an existing transaction
func (s *WalletService) CreditWithTx(tx *gorm.DB, p Posting) (*models.WalletTransaction, error) {
	return s.post(tx, p, 1)
}

// Debit removes funds from a wallet. It never takes a balance below zero.
func (s *WalletService) Debit(ctx context.Context, p Posting) (*models.WalletTransaction, error) {
	var txn *models.WalletTransaction
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var err error
		txn, err = s.DebitWithTx(tx, p)
		return err
	})
	return txn, err
}

// DebitWithTx removes funds from a wallet using an existing transaction
func (s *WalletService) DebitWithTx(tx *gorm.DB, p Posting) (*models.WalletTransaction, error) {
	return s.post(tx, p, -1)
}

// Transfer moves amount between two wallets atomically: both postings land or neither does.
// An empty relatedID gets a fresh XFER reference, shared by both legs.
func (s *WalletService) Transfer(ctx context.Context, from, to WalletRef, amount int64, relatedID string) (out, in *models.WalletTransaction, err error) {
	if from == to {
		return nil, nil, ErrSameWallet
	}
	if relatedID == "" {
		relatedID = utils.GenerateReference("XFER")
	}

	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		// Lock both accounts in a fixed order so opposing transfers cannot deadlock
		refs := []WalletRef{from, to}
		sort.Slice(refs, func(i, j int) bool {
			if refs[i].MemberID != refs[j].MemberID {
				return refs[i].MemberID.String() < refs[j].MemberID.String()
			}
			return refs[i].Kind < refs[j].Kind
		})
		for _, ref := range refs {
			if _, err := s.lockAccount(tx, ref.MemberID, ref.Kind); err != nil {
				return err
			}
		}

		var err error
		out, err = s.DebitWithTx(tx, Posting{
			MemberID: from.MemberID, Kind: from.Kind, Amount: amount,
			Reason: models.ReasonTransferOut, RelatedID: relatedID,
			Description: fmt.Sprintf("transfer to %s %s", to.MemberID, to.Kind),
		})
		if err != nil {
			return err
		}
		in, err = s.CreditWithTx(tx, Posting{
			MemberID: to.MemberID, Kind: to.Kind, Amount: amount,
			Reason: models.ReasonTransferIn, RelatedID: relatedID,
			Description: fmt.Sprintf("transfer from %s %s", from.MemberID, from.Kind),
		})
		return err
	})
	if err != nil {
		return nil, nil, err
	}
	return out, in, nil
}

func (s *WalletService) post(tx *gorm.DB, p Posting, sign int64) (*models.WalletTransaction, error) {
	if p.Amount <= 0 {
		return nil, ErrInvalidAmount
	}
	if !p.Kind.Valid() {
		return nil, fmt.Errorf("%w: %q", ErrInvalidWalletKind, p.Kind)
	}
	// (account, reason, related id) is the idempotency key
	if p.RelatedID == "" {
		return nil, fmt.Errorf("%w: %s", ErrMissingReference, p.Reason)
	}

	account, err := s.lockAccount(tx, p.MemberID, p.Kind)
	if err != nil {
		return nil, err
	}

	var existing int64
	if err := tx.Model(&models.WalletTransaction{}).
		Where("wallet_account_id = ? AND reason_code = ? AND related_id = ?", account.ID, p.Reason, p.RelatedID).
		Count(&existing).Error; err != nil {
		return nil, fmt.Errorf("error checking posting: %w", err)
	}
	if existing > 0 {
		return nil, fmt.Errorf("%w: %s %s", ErrDuplicatePosting, p.Reason, p.RelatedID)
	}

	if sign < 0 && account.Balance < p.Amount {
		return nil, fmt.Errorf("%w: %s wallet holds %d, needs %d", ErrInsufficientBalance, p.Kind, account.Balance, p.Amount)
	}

	balance := account.Balance + sign*p.Amount
	txn := models.WalletTransaction{
		WalletAccountID: account.ID,
		MemberID:        p.MemberID,
		Kind:            p.Kind,
		Amount:          sign * p.Amount,
		BalanceAfter:    balance,
		ReasonCode:      p.Reason,
		RelatedID:       p.RelatedID,
		Description:     p.Description,
	}
	if err := tx.Create(&txn).Error; err != nil {
		if database.IsUniqueViolation(err) {
			return nil, fmt.Errorf("%w: %s %s", ErrDuplicatePosting, p.Reason, p.RelatedID)
		}
		return nil, fmt.Errorf("error creating transaction record: %w", err)
	}

	if err := tx.Model(&models.WalletAccount{}).Where("id = ?", account.ID).Update("balance", balance).Error; err != nil {
		return nil, fmt.Errorf("error updating wallet balance: %w", err)
	}

	direction := "credit"
	if sign < 0 {
		direction = "debit"
	}
	s.metrics.ObservePosting(direction)
	s.log.WithFields(logrus.Fields{
		"member_id":  p.MemberID,
		"wallet":     p.Kind,
		"amount":     txn.Amount,
		"reason":     p.Reason,
		"related_id": p.RelatedID,
	}).Debug("wallet posting")
	return &txn, nil
}

// lockAccount returns the wallet account row locked for update, creating it on first use
func (s *WalletService) lockAccount(tx *gorm.DB, memberID uuid.UUID, kind models.WalletKind) (*models.WalletAccount, error) {
	created := models.WalletAccount{MemberID: memberID, Kind: kind}
	result := tx.Clauses(clause.OnConflict{DoNothing: true}).Create(&created)
	if result.Error != nil {
		return nil, fmt.Errorf("error creating wallet: %w", result.Error)
	}
	if result.RowsAffected > 0 {
		var count int64
		if err := tx.Model(&models.Member{}).Where("id = ?", memberID).Count(&count).Error; err != nil {
			return nil, fmt.Errorf("error finding member: %w", err)
		}
		if count == 0 {
			return nil, member.ErrMemberNotFound
		}
	}

	var account models.WalletAccount
	if err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
		Where("member_id = ? AND kind = ?", memberID, kind).
		First(&account).Error; err != nil {
		return nil, fmt.Errorf("error finding wallet: %w", err)
	}
	return &account, nil
}

// Balance returns the cached balance of one wallet. A wallet never posted to holds zero.
func (s *WalletService) Balance(ctx context.Context, memberID uuid.UUID, kind models.WalletKind) (int64, error) {
	if !kind.Valid() {
		return 0, fmt.Errorf("%w: %q", ErrInvalidWalletKind, kind)
	}
	var accounts []models.WalletAccount
	if err := s.db.WithContext(ctx).Where("member_id = ? AND kind = ?", memberID, kind).Limit(1).Find(&accounts).Error; err != nil {
		return 0, fmt.Errorf("error finding wallet: %w", err)
	}
	if len(accounts) == 0 {
		return 0, nil
	}
	return accounts[0].Balance, nil
}

// Balances returns the cached balance of all five wallets
func (s *WalletService) Balances(ctx context.Context, memberID uuid.UUID) (map[models.WalletKind]int64, error) {
	var accounts []models.WalletAccount
	if err := s.db.WithContext(ctx).Where("member_id = ?", memberID).Find(&accounts).Error; err != nil {
		return nil, fmt.Errorf("error finding wallets: %w", err)
	}
	balances := make(map[models.WalletKind]int64, len(models.WalletKinds))
	for _, kind := range models.WalletKinds {
		balances[kind] = 0
	}
	for _, account := range accounts {
		balances[account.Kind] = account.Balance
	}
	return balances, nil
}

// History returns a page of a wallet's transactions, newest first, and the total count
func (s *WalletService) History(ctx context.Context, memberID uuid.UUID, kind models.WalletKind, page, pageSize int) ([]models.WalletTransaction, int64, error) {
	if page < 1 {
		page = 1
	}
	if pageSize < 1 || pageSize > 100 {
		pageSize = 20
	}

	var transactions []models.WalletTransaction
	var total int64

	query := s.db.WithContext(ctx).Model(&models.WalletTransaction{}).Where("member_id = ? AND kind = ?", memberID, kind)
	if err := query.Count(&total).Error; err != nil {
		return nil, 0, fmt.Errorf("error counting transactions: %w", err)
	}

	offset := (page - 1) * pageSize
	if err := s.db.WithContext(ctx).
		Where("member_id = ? AND kind = ?", memberID, kind).
		Order("created_at DESC").
		Offset(offset).Limit(pageSize).
		Find(&transactions).Error; err != nil {
		return nil, 0, fmt.Errorf("error finding transactions: %w", err)
	}

	return transactions, total, nil
}
