package payout

import (
	"context"
	"fmt"

	"github.com/sirupsen/logrus"
	"github.com/vedagro/backend/internal/models"
	"github.com/vedagro/backend/internal/services/bonus"
	"github.com/vedagro/backend/internal/services/member"
	"gorm.io/gorm"
)

// OnActivated posts the sponsor's welcome bonus inside the activating
// transaction. The bonus is keyed by the referred member, so it pays once.
func (o *Orchestrator) OnActivated(tx *gorm.DB, event member.ActivationEvent) error {
	if event.Member.SponsorID == nil {
		return nil
	}

	ctx := context.Background()
	if tx.Statement != nil && tx.Statement.Context != nil {
		ctx = tx.Statement.Context
	}
	plan, err := o.plans.Plan(ctx)
	if err != nil {
		return fmt.Errorf("error loading plan: %w", err)
	}

	credit, ok := bonus.Welcome(plan, *event.Member.SponsorID, event.Member.ID, event.BV)
	if !ok {
		return nil
	}

	sponsor, err := o.members.GetWithTx(tx, *event.Member.SponsorID)
	if err != nil {
		return err
	}
	if plan.RequiresKYC(models.BonusWelcome) && !sponsor.KYCApproved {
		o.log.WithField("sponsor_id", sponsor.ID).Info("welcome bonus withheld pending kyc")
		return nil
	}

	payout, err := o.postCredit(tx, plan, models.BonusWelcome, event.Member.ID.String(), nil, credit)
	if err != nil {
		return err
	}
	if payout != nil {
		o.metrics.ObservePaid(string(models.BonusWelcome), payout.Net)
		o.log.WithFields(logrus.Fields{
			"sponsor_id":  sponsor.ID,
			"referred_id": event.Member.ID,
			"order_id":    event.OrderID,
			"net":         payout.Net,
		}).Info("welcome bonus posted")
	}
	return nil
}
