package wallet

import (
	"context"
	"fmt"
	"sync"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/vedagro/backend/internal/database/dbtest"
	"github.com/vedagro/backend/internal/logger"
	"github.com/vedagro/backend/internal/models"
	"github.com/vedagro/backend/internal/services/member"
	"gorm.io/gorm"
)

func setup(t *testing.T) (*WalletService, *gorm.DB, uuid.UUID) {
	db := dbtest.New(t)
	members := member.NewMemberService(db, logger.Discard())
	m, err := members.RegisterMember(context.Background(), nil, "")
	require.NoError(t, err)
	return NewWalletService(db, nil, logger.Discard()), db, m.ID
}

func credit(memberID uuid.UUID, kind models.WalletKind, amount int64, related string) Posting {
	return Posting{MemberID: memberID, Kind: kind, Amount: amount, Reason: models.ReasonAdminAdjustment, RelatedID: related}
}

func TestCreditAndDebit(t *testing.T) {
	s, _, memberID := setup(t)
	ctx := context.Background()

	txn, err := s.Credit(ctx, credit(memberID, models.WalletPurchase, 5000, "adj-1"))
	require.NoError(t, err)
	assert.Equal(t, int64(5000), txn.BalanceAfter)

	txn, err = s.Debit(ctx, Posting{MemberID: memberID, Kind: models.WalletPurchase, Amount: 1200, Reason: models.ReasonOrderDebit, RelatedID: "ORD-1"})
	require.NoError(t, err)
	assert.Equal(t, int64(-1200), txn.Amount)
	assert.Equal(t, int64(3800), txn.BalanceAfter)

	balance, err := s.Balance(ctx, memberID, models.WalletPurchase)
	require.NoError(t, err)
	assert.Equal(t, int64(3800), balance)
}

func TestDebitNeverGoesNegative(t *testing.T) {
	s, _, memberID := setup(t)
	ctx := context.Background()

	_, err := s.Credit(ctx, credit(memberID, models.WalletPurchase, 1000, "adj-1"))
	require.NoError(t, err)

	_, err = s.Debit(ctx, Posting{MemberID: memberID, Kind: models.WalletPurchase, Amount: 1001, Reason: models.ReasonOrderDebit, RelatedID: "ORD-1"})
	assert.ErrorIs(t, err, ErrInsufficientBalance)

	balance, err := s.Balance(ctx, memberID, models.WalletPurchase)
	require.NoError(t, err)
	assert.Equal(t, int64(1000), balance)

	// an empty wallet rejects any debit
	_, err = s.Debit(ctx, Posting{MemberID: memberID, Kind: models.WalletCashback, Amount: 1, Reason: models.ReasonOrderDebit, RelatedID: "ORD-2"})
	assert.ErrorIs(t, err, ErrInsufficientBalance)
}

func TestPostingValidation(t *testing.T) {
	s, _, memberID := setup(t)
	ctx := context.Background()

	_, err := s.Credit(ctx, credit(memberID, models.WalletEarned, 0, "x"))
	assert.ErrorIs(t, err, ErrInvalidAmount)
	_, err = s.Credit(ctx, credit(memberID, models.WalletEarned, -5, "x"))
	assert.ErrorIs(t, err, ErrInvalidAmount)
	_, err = s.Credit(ctx, credit(memberID, "GOLD", 5, "x"))
	assert.ErrorIs(t, err, ErrInvalidWalletKind)
	_, err = s.Credit(ctx, credit(uuid.New(), models.WalletEarned, 5, "x"))
	assert.ErrorIs(t, err, member.ErrMemberNotFound)
	_, err = s.Credit(ctx, credit(memberID, models.WalletEarned, 5, ""))
	assert.ErrorIs(t, err, ErrMissingReference)
}

func TestDuplicatePostingRejected(t *testing.T) {
	s, _, memberID := setup(t)
	ctx := context.Background()

	_, err := s.Credit(ctx, credit(memberID, models.WalletEarned, 100, "run-1"))
	require.NoError(t, err)
	_, err = s.Credit(ctx, credit(memberID, models.WalletEarned, 100, "run-1"))
	assert.ErrorIs(t, err, ErrDuplicatePosting)

	balance, err := s.Balance(ctx, memberID, models.WalletEarned)
	require.NoError(t, err)
	assert.Equal(t, int64(100), balance)
}

func TestReplayedDebitIsDuplicate(t *testing.T) {
	s, _, memberID := setup(t)
	ctx := context.Background()

	_, err := s.Credit(ctx, credit(memberID, models.WalletPurchase, 800, "seed"))
	require.NoError(t, err)

	debit := Posting{MemberID: memberID, Kind: models.WalletPurchase, Amount: 500, Reason: models.ReasonOrderDebit, RelatedID: "ORD-7"}
	_, err = s.Debit(ctx, debit)
	require.NoError(t, err)

	// the replay reports the duplicate, not the now-short balance
	_, err = s.Debit(ctx, debit)
	assert.ErrorIs(t, err, ErrDuplicatePosting)
}

func TestTransferIsAtomic(t *testing.T) {
	s, _, memberID := setup(t)
	ctx := context.Background()
	earned := WalletRef{MemberID: memberID, Kind: models.WalletEarned}
	purchase := WalletRef{MemberID: memberID, Kind: models.WalletPurchase}

	_, err := s.Credit(ctx, credit(memberID, models.WalletEarned, 500, "seed"))
	require.NoError(t, err)

	out, in, err := s.Transfer(ctx, earned, purchase, 300, "xfer-1")
	require.NoError(t, err)
	assert.Equal(t, int64(-300), out.Amount)
	assert.Equal(t, int64(300), in.Amount)

	_, _, err = s.Transfer(ctx, earned, purchase, 201, "xfer-2")
	assert.ErrorIs(t, err, ErrInsufficientBalance)

	_, _, err = s.Transfer(ctx, earned, earned, 1, "xfer-3")
	assert.ErrorIs(t, err, ErrSameWallet)

	balances, err := s.Balances(ctx, memberID)
	require.NoError(t, err)
	assert.Equal(t, int64(200), balances[models.WalletEarned])
	assert.Equal(t, int64(300), balances[models.WalletPurchase])
	assert.Equal(t, int64(0), balances[models.WalletCashback])
	assert.Len(t, balances, len(models.WalletKinds))
}

func TestTransferWithoutReference(t *testing.T) {
	s, _, memberID := setup(t)
	ctx := context.Background()
	earned := WalletRef{MemberID: memberID, Kind: models.WalletEarned}
	purchase := WalletRef{MemberID: memberID, Kind: models.WalletPurchase}

	_, err := s.Credit(ctx, credit(memberID, models.WalletEarned, 1000, "seed"))
	require.NoError(t, err)

	out1, in1, err := s.Transfer(ctx, earned, purchase, 100, "")
	require.NoError(t, err)
	out2, _, err := s.Transfer(ctx, earned, purchase, 100, "")
	require.NoError(t, err)

	assert.NotEmpty(t, out1.RelatedID)
	assert.Equal(t, out1.RelatedID, in1.RelatedID)
	assert.NotEqual(t, out1.RelatedID, out2.RelatedID)

	balances, err := s.Balances(ctx, memberID)
	require.NoError(t, err)
	assert.Equal(t, int64(800), balances[models.WalletEarned])
	assert.Equal(t, int64(200), balances[models.WalletPurchase])
}

func TestTransferRollsBackDebitWhenCreditFails(t *testing.T) {
	s, db, memberID := setup(t)
	ctx := context.Background()
	earned := WalletRef{MemberID: memberID, Kind: models.WalletEarned}
	cashback := WalletRef{MemberID: memberID, Kind: models.WalletCashback}

	_, err := s.Credit(ctx, credit(memberID, models.WalletEarned, 500, "seed"))
	require.NoError(t, err)
	// the incoming leg of xfer-9 is already on the cashback wallet, so the credit
	// fails after the debit has been written
	_, err = s.Credit(ctx, Posting{MemberID: memberID, Kind: models.WalletCashback, Amount: 50, Reason: models.ReasonTransferIn, RelatedID: "xfer-9"})
	require.NoError(t, err)

	_, _, err = s.Transfer(ctx, earned, cashback, 200, "xfer-9")
	assert.ErrorIs(t, err, ErrDuplicatePosting)

	balances, err := s.Balances(ctx, memberID)
	require.NoError(t, err)
	assert.Equal(t, int64(500), balances[models.WalletEarned])
	assert.Equal(t, int64(50), balances[models.WalletCashback])

	var outgoing int64
	require.NoError(t, db.Model(&models.WalletTransaction{}).
		Where("member_id = ? AND reason_code = ?", memberID, models.ReasonTransferOut).
		Count(&outgoing).Error)
	assert.Zero(t, outgoing)
}

func TestBalanceReconcilesWithLog(t *testing.T) {
	s, db, memberID := setup(t)
	ctx := context.Background()

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, _ = s.Credit(ctx, credit(memberID, models.WalletReferral, int64(10+i), fmt.Sprintf("c-%d", i)))
			_, _ = s.Debit(ctx, Posting{MemberID: memberID, Kind: models.WalletReferral, Amount: 15, Reason: models.ReasonOrderDebit, RelatedID: fmt.Sprintf("d-%d", i)})
		}(i)
	}
	wg.Wait()

	rec, err := s.Reconcile(ctx, memberID, models.WalletReferral)
	require.NoError(t, err)
	assert.True(t, rec.Consistent)
	assert.GreaterOrEqual(t, rec.Cached, int64(0))

	mismatches, err := s.Mismatches(ctx)
	require.NoError(t, err)
	assert.Empty(t, mismatches)

	// tamper with the cache and the scan finds it
	require.NoError(t, db.Model(&models.WalletAccount{}).Where("member_id = ?", memberID).Update("balance", gorm.Expr("balance + 1")).Error)
	mismatches, err = s.Mismatches(ctx)
	require.NoError(t, err)
	require.Len(t, mismatches, 1)
	assert.Equal(t, mismatches[0].Ledger+1, mismatches[0].Cached)
}

func TestHistory(t *testing.T) {
	s, _, memberID := setup(t)
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		_, err := s.Credit(ctx, credit(memberID, models.WalletCashback, int64(i+1), fmt.Sprintf("h-%d", i)))
		require.NoError(t, err)
	}

	page, total, err := s.History(ctx, memberID, models.WalletCashback, 1, 2)
	require.NoError(t, err)
	assert.Equal(t, int64(5), total)
	assert.Len(t, page, 2)

	page, _, err = s.History(ctx, memberID, models.WalletCashback, 3, 2)
	require.NoError(t, err)
	assert.Len(t, page, 1)
}
