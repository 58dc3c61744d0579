// Package app wires the ledger services into the payout orchestrator, shared by
// the HTTP server and the operator CLI.
package app

import (
	"time"

	"github.com/sirupsen/logrus"
	"github.com/vedagro/backend/internal/config"
	"github.com/vedagro/backend/internal/metrics"
	"github.com/vedagro/backend/internal/services/member"
	"github.com/vedagro/backend/internal/services/payout"
	"github.com/vedagro/backend/internal/services/points"
	"github.com/vedagro/backend/internal/services/wallet"
	"gorm.io/gorm"
)

// Services holds the wired domain services
type Services struct {
	Members *member.MemberService
	Points  *points.PointService
	Wallets *wallet.WalletService
	Payouts *payout.Orchestrator
}

// NewServices builds the services over db. The orchestrator subscribes to member
// activation so welcome bonuses post inside the ingestion transaction.
func NewServices(db *gorm.DB, plans config.PlanProvider, m *metrics.Metrics, log logrus.FieldLogger, runBudget time.Duration) *Services {
	members := member.NewMemberService(db, log)
	pointService := points.NewPointService(db, members, plans, m, log)
	wallets := wallet.NewWalletService(db, m, log)
	orch := payout.NewOrchestrator(db, members, pointService, wallets, plans, m, log, payout.Options{
		Budget:            runBudget,
		SnapshotIsolation: db.Dialector.Name() == "postgres",
	})
	members.Subscribe(orch)

	return &Services{
		Members: members,
		Points:  pointService,
		Wallets: wallets,
		Payouts: orch,
	}
}
