// Package jobs holds the background job handlers and the cron schedule that
// queues bonus runs when their period closes.
package jobs

import (
	"context"
	"errors"
	"fmt"

	"github.com/sirupsen/logrus"
	"github.com/vedagro/backend/internal/logger"
	"github.com/vedagro/backend/internal/models"
	"github.com/vedagro/backend/internal/period"
	"github.com/vedagro/backend/internal/queue"
	"github.com/vedagro/backend/internal/services/payout"
)

// BonusRunPayload represents the payload for a bonus run job
type BonusRunPayload struct {
	BonusType models.BonusType `json:"bonus_type"`
	PeriodKey string           `json:"period_key"`
}

// PeriodRunner pays one bonus type for one period
type PeriodRunner interface {
	RunPeriod(ctx context.Context, bonusType models.BonusType, periodKey string) (*models.BonusRun, error)
}

// Enqueuer adds a job to a named queue
type Enqueuer interface {
	Enqueue(ctx context.Context, queueName string, payload interface{}, opts ...queue.EnqueueOption) (string, error)
}

// BonusRunJob runs queued bonus periods through the payout orchestrator
type BonusRunJob struct {
	runner PeriodRunner
	log    *logrus.Entry
}

// NewBonusRunJob creates a new bonus run job handler
func NewBonusRunJob(runner PeriodRunner, log logrus.FieldLogger) *BonusRunJob {
	return &BonusRunJob{runner: runner, log: logger.Component(log, "bonus_run_job")}
}

// EnqueueBonusRun queues a run of bonusType for periodKey
func EnqueueBonusRun(ctx context.Context, q Enqueuer, bonusType models.BonusType, periodKey string) (string, error) {
	if _, err := period.ForBonus(bonusType, periodKey); err != nil {
		return "", err
	}
	id, err := q.Enqueue(ctx, queue.QueueBonusRun, BonusRunPayload{BonusType: bonusType, PeriodKey: periodKey})
	if err != nil {
		return "", fmt.Errorf("failed to enqueue bonus run: %w", err)
	}
	return id, nil
}

// Handle processes one bonus run job. An already completed period counts as done;
// a payload that can never succeed is dropped instead of retried.
func (j *BonusRunJob) Handle(ctx context.Context, job queue.Job) error {
	var payload BonusRunPayload
	if err := job.Decode(&payload); err != nil {
		j.log.WithError(err).WithField("job_id", job.ID).Error("dropping bonus run job with unreadable payload")
		return nil
	}

	log := j.log.WithFields(logrus.Fields{
		"job_id":     job.ID,
		"bonus_type": payload.BonusType,
		"period":     payload.PeriodKey,
	})

	run, err := j.runner.RunPeriod(ctx, payload.BonusType, payload.PeriodKey)
	switch {
	case err == nil:
		log.WithField("net_total", run.NetTotal).Info("bonus run job completed")
		return nil
	case errors.Is(err, payout.ErrRunAlreadyCompleted):
		log.Info("bonus period already paid")
		return nil
	case errors.Is(err, payout.ErrUnknownBonusType), errors.Is(err, period.ErrInvalidPeriodKey):
		log.WithError(err).Error("dropping invalid bonus run job")
		return nil
	default:
		return err
	}
}
