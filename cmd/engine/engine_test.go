package main

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"github.com/vedagro/backend/internal/config"
	"github.com/vedagro/backend/internal/database/dbtest"
	"github.com/vedagro/backend/internal/database/migrations"
	"github.com/vedagro/backend/internal/logger"
	"github.com/vedagro/backend/internal/models"
	"github.com/vedagro/backend/internal/services/member"
	"github.com/vedagro/backend/internal/services/payout"
	"github.com/vedagro/backend/internal/services/wallet"
)

// execute runs the CLI against db with fresh flag values
func execute(t *testing.T, db *gorm.DB, args ...string) (string, error) {
	t.Helper()
	migrateRollback, migrateList = false, false
	runEnqueue = false
	reconcileMember = ""
	planFile = ""
	LogLevel = "error"

	original := openDB
	openDB = func(*config.Config, logrus.FieldLogger) (*gorm.DB, error) {
		if db == nil {
			t.Fatal("command opened a database it should not need")
		}
		return db, nil
	}
	t.Cleanup(func() { openDB = original })

	var out bytes.Buffer
	rootCmd.SetOut(&out)
	rootCmd.SetErr(&out)
	rootCmd.SetArgs(args)
	err := rootCmd.ExecuteContext(context.Background())
	return out.String(), err
}

func TestMigrateList(t *testing.T) {
	out, err := execute(t, nil, "migrate", "--list")
	require.NoError(t, err)
	for _, id := range migrations.IDs() {
		assert.Contains(t, out, id)
	}
}

func TestMigrateReportsLatest(t *testing.T) {
	out, err := execute(t, dbtest.New(t), "migrate")
	require.NoError(t, err)
	assert.Contains(t, out, lastMigration())
}

func TestPlanPrintsDefaults(t *testing.T) {
	out, err := execute(t, nil, "plan")
	require.NoError(t, err)

	plan, err := config.ParsePlan([]byte(out))
	require.NoError(t, err)
	assert.Equal(t, config.DefaultPlan().BVValue, plan.BVValue)
}

func TestPlanRejectsInvalidFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "plan.yaml")
	require.NoError(t, os.WriteFile(path, []byte("bv_value: [not a number"), 0o600))

	_, err := execute(t, nil, "plan", "--file", path)
	assert.Error(t, err)
}

func TestRunPeriod(t *testing.T) {
	db := dbtest.New(t)

	out, err := execute(t, db, "run-period", "matching", "2026-W41")
	require.NoError(t, err)
	assert.Contains(t, out, "MATCHING 2026-W41 COMPLETED")

	out, err = execute(t, db, "run-period", "MATCHING", "2026-W41")
	require.NoError(t, err)
	assert.Contains(t, out, "already paid")

	var runs int64
	require.NoError(t, db.Model(&models.BonusRun{}).Count(&runs).Error)
	assert.Equal(t, int64(1), runs)
}

func TestRunPeriodRejectsBadInput(t *testing.T) {
	db := dbtest.New(t)

	_, err := execute(t, db, "run-period", "WELCOME", "2026-09")
	assert.ErrorIs(t, err, payout.ErrUnknownBonusType)

	_, err = execute(t, db, "run-period", "ROYALTY", "2026-W41")
	assert.Error(t, err)
}

func TestReconcile(t *testing.T) {
	db := dbtest.New(t)
	m, err := member.NewMemberService(db, logger.Discard()).RegisterMember(context.Background(), nil, "")
	require.NoError(t, err)
	_, err = wallet.NewWalletService(db, nil, logger.Discard()).Credit(context.Background(), wallet.Posting{
		MemberID: m.ID, Kind: models.WalletPurchase, Amount: 5000,
		Reason: models.ReasonAdminAdjustment, RelatedID: "seed",
	})
	require.NoError(t, err)

	out, err := execute(t, db, "reconcile")
	require.NoError(t, err)
	assert.Contains(t, out, "all wallets consistent")

	require.NoError(t, db.Model(&models.WalletAccount{}).
		Where("member_id = ? AND kind = ?", m.ID, models.WalletPurchase).
		Update("balance", 7000).Error)

	out, err = execute(t, db, "reconcile", "--member", m.ID.String())
	assert.ErrorIs(t, err, ErrWalletDrift)
	assert.Contains(t, out, "cached=7000 ledger=5000")
}
