package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/vedagro/backend/internal/config"
	"github.com/vedagro/backend/internal/logger"
	"github.com/vedagro/backend/internal/models"
	"github.com/vedagro/backend/internal/queue"
	"github.com/vedagro/backend/internal/services/payout"
)

type fakeRunner struct {
	err   error
	calls []BonusRunPayload
}

func (f *fakeRunner) RunPeriod(ctx context.Context, bonusType models.BonusType, periodKey string) (*models.BonusRun, error) {
	f.calls = append(f.calls, BonusRunPayload{BonusType: bonusType, PeriodKey: periodKey})
	if f.err != nil {
		return nil, f.err
	}
	return &models.BonusRun{BonusType: bonusType, PeriodKey: periodKey, Status: models.RunCompleted}, nil
}

type recordingQueue struct {
	queues   []string
	payloads []BonusRunPayload
	err      error
}

func (r *recordingQueue) Enqueue(ctx context.Context, queueName string, payload interface{}, opts ...queue.EnqueueOption) (string, error) {
	if r.err != nil {
		return "", r.err
	}
	r.queues = append(r.queues, queueName)
	r.payloads = append(r.payloads, payload.(BonusRunPayload))
	return "job-id", nil
}

func jobFor(t *testing.T, payload interface{}) queue.Job {
	t.Helper()
	raw, err := json.Marshal(payload)
	require.NoError(t, err)
	return queue.Job{ID: "job-1", Queue: queue.QueueBonusRun, Payload: raw}
}

func TestBonusRunJobHandle(t *testing.T) {
	tests := []struct {
		name      string
		runnerErr error
		wantErr   bool
	}{
		{name: "completed", runnerErr: nil},
		{name: "already paid counts as done", runnerErr: payout.ErrRunAlreadyCompleted},
		{name: "unknown bonus type is dropped", runnerErr: payout.ErrUnknownBonusType},
		{name: "in progress is retried", runnerErr: payout.ErrRunInProgress, wantErr: true},
		{name: "storage failure is retried", runnerErr: errors.New("connection refused"), wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			runner := &fakeRunner{err: tt.runnerErr}
			job := NewBonusRunJob(runner, logger.Discard())

			err := job.Handle(context.Background(), jobFor(t, BonusRunPayload{BonusType: models.BonusMatching, PeriodKey: "2026-W41"}))
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
			require.Len(t, runner.calls, 1)
			assert.Equal(t, "2026-W41", runner.calls[0].PeriodKey)
		})
	}
}

func TestBonusRunJobDropsUnreadablePayload(t *testing.T) {
	runner := &fakeRunner{}
	job := NewBonusRunJob(runner, logger.Discard())

	err := job.Handle(context.Background(), queue.Job{ID: "bad", Payload: []byte("not json")})
	assert.NoError(t, err)
	assert.Empty(t, runner.calls)
}

func TestEnqueueBonusRunValidatesPeriod(t *testing.T) {
	q := &recordingQueue{}

	_, err := EnqueueBonusRun(context.Background(), q, models.BonusMatching, "2026-10")
	assert.Error(t, err)
	assert.Empty(t, q.payloads)

	_, err = EnqueueBonusRun(context.Background(), q, models.BonusRoyalty, "2026-10")
	require.NoError(t, err)
	assert.Equal(t, []string{queue.QueueBonusRun}, q.queues)
}

func TestSchedulerQueuesClosedPeriods(t *testing.T) {
	q := &recordingQueue{}
	s := NewScheduler(q, config.PayoutConfig{MatchingSchedule: "30 0 * * 1", MonthlySchedule: "30 1 1 * *"}, logger.Discard())
	s.now = func() time.Time { return time.Date(2026, 10, 12, 0, 30, 0, 0, time.UTC) }

	require.NoError(t, s.EnqueueWeekly(context.Background()))
	require.NoError(t, s.EnqueueMonthly(context.Background()))

	assert.Equal(t, []BonusRunPayload{
		{BonusType: models.BonusMatching, PeriodKey: "2026-W41"},
		{BonusType: models.BonusRepurchase, PeriodKey: "2026-09"},
		{BonusType: models.BonusRoyalty, PeriodKey: "2026-09"},
		{BonusType: models.BonusMonthlyPurchase, PeriodKey: "2026-09"},
	}, q.payloads)
}

func TestSchedulerRejectsBadCron(t *testing.T) {
	s := NewScheduler(&recordingQueue{}, config.PayoutConfig{MatchingSchedule: "not a cron", MonthlySchedule: "30 1 1 * *"}, logger.Discard())
	assert.Error(t, s.Start())
}

func TestSchedulerEnqueueError(t *testing.T) {
	q := &recordingQueue{err: errors.New("redis down")}
	s := NewScheduler(q, config.PayoutConfig{}, logger.Discard())
	assert.Error(t, s.EnqueueMonthly(context.Background()))
}
