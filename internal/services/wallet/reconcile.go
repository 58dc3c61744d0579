package wallet

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/vedagro/backend/internal/models"
)

// Reconciliation compares a wallet's cached balance with the sum of its log
type Reconciliation struct {
	MemberID   uuid.UUID         `json:"member_id"`
	Kind       models.WalletKind `json:"kind"`
	Cached     int64             `json:"cached"`
	Ledger     int64             `json:"ledger"`
	Consistent bool              `json:"consistent"`
}

// Reconcile recomputes one wallet's balance from its transactions
func (s *WalletService) Reconcile(ctx context.Context, memberID uuid.UUID, kind models.WalletKind) (*Reconciliation, error) {
	cached, err := s.Balance(ctx, memberID, kind)
	if err != nil {
		return nil, err
	}

	var ledger int64
	if err := s.db.WithContext(ctx).Model(&models.WalletTransaction{}).
		Select("COALESCE(SUM(amount), 0)").
		Where("member_id = ? AND kind = ?", memberID, kind).
		Scan(&ledger).Error; err != nil {
		return nil, fmt.Errorf("error summing transactions: %w", err)
	}

	return &Reconciliation{
		MemberID:   memberID,
		Kind:       kind,
		Cached:     cached,
		Ledger:     ledger,
		Consistent: cached == ledger,
	}, nil
}

type reconcileRow struct {
	MemberID uuid.UUID
	Kind     models.WalletKind
	Balance  int64
	Ledger   int64
}

// Mismatches scans every wallet and returns those whose cached balance drifted from the log
func (s *WalletService) Mismatches(ctx context.Context) ([]Reconciliation, error) {
	var rows []reconcileRow
	err := s.db.WithContext(ctx).Raw(`
		SELECT a.member_id, a.kind, a.balance, COALESCE(SUM(t.amount), 0) AS ledger
		FROM wallet_accounts a
		LEFT JOIN wallet_transactions t ON t.wallet_account_id = a.id
		GROUP BY a.id, a.member_id, a.kind, a.balance
		HAVING a.balance <> COALESCE(SUM(t.amount), 0)
		ORDER BY a.member_id, a.kind
	`).Scan(&rows).Error
	if err != nil {
		return nil, fmt.Errorf("error reconciling wallets: %w", err)
	}

	out := make([]Reconciliation, 0, len(rows))
	for _, row := range rows {
		out = append(out, Reconciliation{
			MemberID: row.MemberID,
			Kind:     row.Kind,
			Cached:   row.Balance,
			Ledger:   row.Ledger,
		})
	}
	return out, nil
}
