// Package payout is the Payout Orchestrator. It claims a BonusRun marker for a
// (bonus type, period), runs the calculator over a consistent snapshot, applies
// deductions and posts every credit in one transaction, so a period is paid
// completely or not at all, and at most once.
package payout

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"github.com/vedagro/backend/internal/config"
	"github.com/vedagro/backend/internal/logger"
	"github.com/vedagro/backend/internal/metrics"
	"github.com/vedagro/backend/internal/models"
	"github.com/vedagro/backend/internal/period"
	"github.com/vedagro/backend/internal/services/bonus"
	"github.com/vedagro/backend/internal/services/member"
	"github.com/vedagro/backend/internal/services/points"
	"github.com/vedagro/backend/internal/services/wallet"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

var (
	ErrRunAlreadyCompleted = errors.New("bonus run already completed")
	ErrRunInProgress       = errors.New("bonus run already in progress")
	ErrRunTimeout          = errors.New("bonus run exceeded its time budget")
	ErrUnknownBonusType    = errors.New("unknown period bonus type")
)

// maxErrorLength bounds the error text stored on a failed run
const maxErrorLength = 1000

// Options tunes the orchestrator
type Options struct {
	// Budget is the wall-clock limit of one run
	Budget time.Duration
	// StaleAfter is how long a COMPUTING run may go without finishing before
	// another worker may reclaim it. Defaults to Budget plus one minute.
	StaleAfter time.Duration
	// SnapshotIsolation reads the run's inputs in a REPEATABLE READ, read-only
	// transaction. Enable on PostgreSQL.
	SnapshotIsolation bool
}

// Orchestrator sequences bonus runs and posts their credits
type Orchestrator struct {
	db      *gorm.DB
	members *member.MemberService
	points  *points.PointService
	wallets *wallet.WalletService
	plans   config.PlanProvider
	metrics *metrics.Metrics
	log     *logrus.Entry
	opts    Options
	now     func() time.Time
}

// NewOrchestrator creates a new payout orchestrator
func NewOrchestrator(
	db *gorm.DB,
	members *member.MemberService,
	pointService *points.PointService,
	wallets *wallet.WalletService,
	plans config.PlanProvider,
	m *metrics.Metrics,
	log logrus.FieldLogger,
	opts Options,
) *Orchestrator {
	if opts.Budget <= 0 {
		opts.Budget = 10 * time.Minute
	}
	if opts.StaleAfter <= 0 {
		opts.StaleAfter = opts.Budget + time.Minute
	}
	return &Orchestrator{
		db:      db,
		members: members,
		points:  pointService,
		wallets: wallets,
		plans:   plans,
		metrics: m,
		log:     logger.Component(log, "payout"),
		opts:    opts,
		now:     func() time.Time { return time.Now().UTC() },
	}
}

// RunPeriod pays one bonus type for one period. Re-running a COMPLETED period
// returns ErrRunAlreadyCompleted together with the existing run and posts nothing.
func (o *Orchestrator) RunPeriod(ctx context.Context, bonusType models.BonusType, periodKey string) (*models.BonusRun, error) {
	if !bonusType.Valid() || bonusType == models.BonusWelcome {
		return nil, fmt.Errorf("%w: %q", ErrUnknownBonusType, bonusType)
	}
	p, err := period.ForBonus(bonusType, periodKey)
	if err != nil {
		return nil, err
	}

	log := o.log.WithFields(logrus.Fields{"bonus_type": bonusType, "period": p.Key})

	run, err := o.claim(ctx, bonusType, p.Key)
	if err != nil {
		if errors.Is(err, ErrRunAlreadyCompleted) || errors.Is(err, ErrRunInProgress) {
			log.WithError(err).Info("bonus run skipped")
		}
		return run, err
	}
	log = log.WithFields(logrus.Fields{"run_id": run.ID, "attempt": run.Attempts})
	log.Info("bonus run started")

	started := time.Now()
	runCtx, cancel := context.WithTimeout(ctx, o.opts.Budget)
	defer cancel()

	err = o.execute(runCtx, run, p)
	if err != nil {
		if errors.Is(runCtx.Err(), context.DeadlineExceeded) && !errors.Is(err, ErrRunTimeout) {
			err = fmt.Errorf("%w: %v", ErrRunTimeout, err)
		}
		o.markFailed(run, err)
		o.metrics.ObserveRun(string(bonusType), string(models.RunFailed), time.Since(started), 0)
		log.WithError(err).Error("bonus run failed")
		return run, err
	}

	o.metrics.ObserveRun(string(bonusType), string(models.RunCompleted), time.Since(started), run.NetTotal)
	log.WithFields(logrus.Fields{
		"status":       run.Status,
		"payout_count": run.PayoutCount,
		"gross_total":  run.GrossTotal,
		"net_total":    run.NetTotal,
	}).Info("bonus run completed")
	return run, nil
}

// claim finds or creates the run marker and moves it to COMPUTING
func (o *Orchestrator) claim(ctx context.Context, bonusType models.BonusType, key string) (*models.BonusRun, error) {
	var run models.BonusRun
	err := o.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		fresh := models.BonusRun{BonusType: bonusType, PeriodKey: key, Status: models.RunPending}
		if err := tx.Clauses(clause.OnConflict{DoNothing: true}).Create(&fresh).Error; err != nil {
			return fmt.Errorf("error creating bonus run: %w", err)
		}
		if err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
			Where("bonus_type = ? AND period_key = ?", bonusType, key).
			First(&run).Error; err != nil {
			return fmt.Errorf("error loading bonus run: %w", err)
		}

		now := o.now()
		switch run.Status {
		case models.RunCompleted:
			return ErrRunAlreadyCompleted
		case models.RunComputing:
			if run.StartedAt != nil && now.Sub(*run.StartedAt) < o.opts.StaleAfter {
				return ErrRunInProgress
			}
			o.log.WithFields(logrus.Fields{"run_id": run.ID, "started_at": run.StartedAt}).Warn("reclaiming stale bonus run")
		case models.RunFailed:
			// a failed run is retried from PENDING
			if err := tx.Model(&models.BonusRun{}).Where("id = ?", run.ID).Update("status", models.RunPending).Error; err != nil {
				return fmt.Errorf("error resetting bonus run: %w", err)
			}
			run.Status = models.RunPending
		}

		result := tx.Model(&models.BonusRun{}).
			Where("id = ? AND status = ? AND attempts = ?", run.ID, run.Status, run.Attempts).
			Updates(map[string]interface{}{
				"status":      models.RunComputing,
				"attempts":    run.Attempts + 1,
				"started_at":  now,
				"finished_at": nil,
				"last_error":  "",
			})
		if result.Error != nil {
			return fmt.Errorf("error claiming bonus run: %w", result.Error)
		}
		if result.RowsAffected == 0 {
			return ErrRunInProgress
		}

		run.Status = models.RunComputing
		run.Attempts++
		run.StartedAt = &now
		run.FinishedAt = nil
		run.LastError = ""
		return nil
	})
	if err != nil {
		if run.ID == uuid.Nil {
			return nil, err
		}
		return &run, err
	}
	return &run, nil
}

// execute computes and posts a claimed run
func (o *Orchestrator) execute(ctx context.Context, run *models.BonusRun, p period.Period) error {
	plan, err := o.plans.Plan(ctx)
	if err != nil {
		return fmt.Errorf("error loading plan: %w", err)
	}

	snap, err := o.snapshot(ctx, plan, run.BonusType, p)
	if err != nil {
		return err
	}

	result, err := calculate(plan, run.BonusType, snap)
	if err != nil {
		return err
	}

	return o.post(ctx, plan, run, result)
}

// calculate runs the pure calculator, turning a panic into an error so the run fails cleanly
func calculate(plan *config.Plan, bonusType models.BonusType, snap bonus.Snapshot) (result bonus.Result, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("calculator panic: %v", r)
		}
	}()
	return bonus.Calculate(plan, bonusType, snap)
}

// snapshot reads every calculator input in one transaction, so a purchase
// recorded mid-run is either fully visible or not at all
func (o *Orchestrator) snapshot(ctx context.Context, plan *config.Plan, bonusType models.BonusType, p period.Period) (bonus.Snapshot, error) {
	var snap bonus.Snapshot
	var opts []*sql.TxOptions
	if o.opts.SnapshotIsolation {
		opts = append(opts, &sql.TxOptions{Isolation: sql.LevelRepeatableRead, ReadOnly: true})
	}

	err := o.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var members []models.Member
		if err := tx.Order("registered_at ASC").Find(&members).Error; err != nil {
			return fmt.Errorf("error loading members: %w", err)
		}
		nodes := make([]bonus.Node, 0, len(members))
		for _, m := range members {
			n := bonus.Node{
				ID:          m.ID,
				Side:        m.Side,
				Rank:        m.Rank,
				Active:      m.IsActive(),
				KYCApproved: m.KYCApproved,
			}
			if m.SponsorID != nil {
				n.SponsorID = *m.SponsorID
			}
			nodes = append(nodes, n)
		}
		tree, err := bonus.NewTree(nodes)
		if err != nil {
			return err
		}
		snap.Tree = tree

		switch bonusType {
		case models.BonusMatching, models.BonusRoyalty:
			if snap.OwnBV, err = o.points.BVByMemberWithTx(tx, p.Start, p.End); err != nil {
				return err
			}
		case models.BonusRepurchase, models.BonusMonthlyPurchase:
			events, err := o.points.EventsWithTx(tx, models.FlavorRepurchase, p.Start, p.End)
			if err != nil {
				return err
			}
			for _, e := range events {
				snap.Repurchases = append(snap.Repurchases, bonus.Purchase{
					MemberID: e.MemberID, OrderID: e.OrderID, BV: e.BV, Amount: e.Amount,
				})
			}
		}

		if bonusType == models.BonusRoyalty {
			if snap.CompanyBV, err = o.points.CompanyBVWithTx(tx, p.Start, p.End); err != nil {
				return err
			}
		}

		if bonusType == models.BonusMatching && plan.Matching.CarryForward {
			var carries []models.MatchingCarry
			if err := tx.Where("period_key = ?", period.PreviousWeek(p.Start).Key).Find(&carries).Error; err != nil {
				return fmt.Errorf("error loading matching carries: %w", err)
			}
			snap.Carry = make(map[uuid.UUID]bonus.Carry, len(carries))
			for _, c := range carries {
				snap.Carry[c.MemberID] = bonus.Carry{Left: c.LeftBV, Right: c.RightBV}
			}
		}
		return nil
	}, opts...)
	if err != nil {
		return bonus.Snapshot{}, fmt.Errorf("error reading snapshot: %w", err)
	}
	return snap, nil
}

// post writes all credits, the carries and the COMPLETED marker in one transaction
func (o *Orchestrator) post(ctx context.Context, plan *config.Plan, run *models.BonusRun, result bonus.Result) error {
	var count int
	var gross, net int64

	err := o.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		for _, credit := range result.Credits {
			if err := ctx.Err(); err != nil {
				return err
			}
			payout, err := o.postCredit(tx, plan, run.BonusType, run.PeriodKey, &run.ID, credit)
			if err != nil {
				return err
			}
			if payout == nil {
				continue
			}
			count++
			gross += payout.Gross
			net += payout.Net
		}

		if result.CarryOut != nil {
			// a reclaimed run rewrites its own week; other weeks' carries stay
			if err := tx.Where("period_key = ?", run.PeriodKey).Delete(&models.MatchingCarry{}).Error; err != nil {
				return fmt.Errorf("error clearing matching carries: %w", err)
			}
			for memberID, c := range result.CarryOut {
				row := models.MatchingCarry{MemberID: memberID, LeftBV: c.Left, RightBV: c.Right, PeriodKey: run.PeriodKey}
				if err := tx.Create(&row).Error; err != nil {
					return fmt.Errorf("error saving matching carry: %w", err)
				}
			}
		}

		finished := o.now()
		// attempts guards against a worker that reclaimed this run as stale
		res := tx.Model(&models.BonusRun{}).
			Where("id = ? AND status = ? AND attempts = ?", run.ID, models.RunComputing, run.Attempts).
			Updates(map[string]interface{}{
				"status":       models.RunCompleted,
				"finished_at":  finished,
				"payout_count": count,
				"gross_total":  gross,
				"net_total":    net,
				"last_error":   "",
			})
		if res.Error != nil {
			return fmt.Errorf("error completing bonus run: %w", res.Error)
		}
		if res.RowsAffected == 0 {
			return ErrRunInProgress
		}

		run.Status = models.RunCompleted
		run.FinishedAt = &finished
		run.PayoutCount = count
		run.GrossTotal = gross
		run.NetTotal = net
		return nil
	})
	return err
}

// postCredit applies deductions and credits the EARNED wallet. Credits whose
// net amount is zero are skipped and return a nil payout.
func (o *Orchestrator) postCredit(tx *gorm.DB, plan *config.Plan, bonusType models.BonusType, key string, runID *uuid.UUID, credit bonus.Credit) (*models.BonusPayout, error) {
	tds, adminFee, net := plan.Deductions(bonusType, credit.Amount)
	if net <= 0 {
		return nil, nil
	}

	txn, err := o.wallets.CreditWithTx(tx, wallet.Posting{
		MemberID:    credit.MemberID,
		Kind:        models.WalletEarned,
		Amount:      net,
		Reason:      credit.Reason,
		RelatedID:   fmt.Sprintf("%s:%s", bonusType, key),
		Description: fmt.Sprintf("%s bonus %s: gross %d, tds %d, admin fee %d", bonusType, key, credit.Amount, tds, adminFee),
	})
	if err != nil {
		return nil, fmt.Errorf("error crediting %s: %w", credit.MemberID, err)
	}

	payout := models.BonusPayout{
		BonusRunID:          runID,
		BonusType:           bonusType,
		PeriodKey:           key,
		MemberID:            credit.MemberID,
		ReasonCode:          credit.Reason,
		SourceMemberID:      credit.SourceMemberID,
		Level:               credit.Level,
		BasisBV:             credit.BasisBV,
		Gross:               credit.Amount,
		TDS:                 tds,
		AdminFee:            adminFee,
		Net:                 net,
		WalletTransactionID: txn.ID,
	}
	if err := tx.Create(&payout).Error; err != nil {
		return nil, fmt.Errorf("error recording payout: %w", err)
	}
	return &payout, nil
}

// markFailed records the failure outside the (possibly cancelled) run context
func (o *Orchestrator) markFailed(run *models.BonusRun, cause error) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	msg := truncateError(cause.Error())
	finished := o.now()
	err := o.db.WithContext(ctx).Model(&models.BonusRun{}).
		Where("id = ? AND status = ? AND attempts = ?", run.ID, models.RunComputing, run.Attempts).
		Updates(map[string]interface{}{
			"status":      models.RunFailed,
			"finished_at": finished,
			"last_error":  msg,
		}).Error
	if err != nil {
		o.log.WithError(err).WithField("run_id", run.ID).Error("error marking bonus run failed")
		return
	}
	run.Status = models.RunFailed
	run.FinishedAt = &finished
	run.LastError = msg
}

// truncateError cuts msg to at most maxErrorLength bytes without splitting a rune
func truncateError(msg string) string {
	if len(msg) <= maxErrorLength {
		return msg
	}
	cut := maxErrorLength
	for cut > 0 && !utf8.RuneStart(msg[cut]) {
		cut--
	}
	return msg[:cut]
}
