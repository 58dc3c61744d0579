package queue

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-redis/redis/v8"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/vedagro/backend/internal/logger"
)

type runPayload struct {
	BonusType string `json:"bonus_type"`
	PeriodKey string `json:"period_key"`
}

func newTestQueue(t *testing.T) (*RedisQueue, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	q := NewRedisQueue(client, logger.Discard())
	q.pollTimeout = 50 * time.Millisecond
	return q, mr
}

func TestEnqueueDequeue(t *testing.T) {
	ctx := context.Background()
	q, _ := newTestQueue(t)

	id, err := q.Enqueue(ctx, QueueBonusRun, runPayload{BonusType: "MATCHING", PeriodKey: "2026-W41"})
	require.NoError(t, err)

	job, err := q.Dequeue(ctx, QueueBonusRun)
	require.NoError(t, err)
	require.NotNil(t, job)
	assert.Equal(t, id, job.ID)
	assert.Equal(t, JobStatusProcessing, job.Status)
	assert.Equal(t, DefaultRetryCount, job.MaxRetries)

	var payload runPayload
	require.NoError(t, job.Decode(&payload))
	assert.Equal(t, "2026-W41", payload.PeriodKey)

	stored, err := q.Get(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, JobStatusProcessing, stored.Status)

	require.NoError(t, q.Complete(ctx, id))
	stored, err = q.Get(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, JobStatusCompleted, stored.Status)
}

func TestDequeueEmpty(t *testing.T) {
	q, _ := newTestQueue(t)

	job, err := q.Dequeue(context.Background(), QueueBonusRun)
	require.NoError(t, err)
	assert.Nil(t, job)
}

func TestDelayedJobBecomesReady(t *testing.T) {
	ctx := context.Background()
	q, _ := newTestQueue(t)

	id, err := q.EnqueueIn(ctx, QueueBonusRun, runPayload{BonusType: "ROYALTY", PeriodKey: "2026-09"}, time.Hour)
	require.NoError(t, err)

	job, err := q.Dequeue(ctx, QueueBonusRun)
	require.NoError(t, err)
	assert.Nil(t, job)

	stats, err := q.Stats(ctx, QueueBonusRun)
	require.NoError(t, err)
	assert.Equal(t, int64(1), stats.Delayed)

	later := time.Now().Add(2 * time.Hour)
	q.now = func() time.Time { return later }

	job, err = q.Dequeue(ctx, QueueBonusRun)
	require.NoError(t, err)
	require.NotNil(t, job)
	assert.Equal(t, id, job.ID)
}

func TestScheduleInThePastRunsNow(t *testing.T) {
	ctx := context.Background()
	q, _ := newTestQueue(t)

	_, err := q.Schedule(ctx, QueueBonusRun, runPayload{}, time.Now().Add(-time.Minute))
	require.NoError(t, err)

	stats, err := q.Stats(ctx, QueueBonusRun)
	require.NoError(t, err)
	assert.Equal(t, int64(1), stats.Waiting)
	assert.Equal(t, int64(0), stats.Delayed)
}

func TestFailRetriesThenGivesUp(t *testing.T) {
	ctx := context.Background()
	q, _ := newTestQueue(t)

	id, err := q.Enqueue(ctx, QueueBonusRun, runPayload{}, WithMaxRetries(1))
	require.NoError(t, err)
	_, err = q.Dequeue(ctx, QueueBonusRun)
	require.NoError(t, err)

	retried, err := q.Fail(ctx, id, errors.New("database unavailable"))
	require.NoError(t, err)
	assert.True(t, retried)

	job, err := q.Get(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, JobStatusPending, job.Status)
	assert.Equal(t, 1, job.RetryCount)
	assert.Equal(t, "database unavailable", job.LastError)
	assert.True(t, job.RunAt.After(time.Now()))

	retried, err = q.Fail(ctx, id, errors.New("still unavailable"))
	require.NoError(t, err)
	assert.False(t, retried)

	job, err = q.Get(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, JobStatusFailed, job.Status)

	stats, err := q.Stats(ctx, QueueBonusRun)
	require.NoError(t, err)
	assert.Equal(t, int64(1), stats.Failed)
}

func TestGetUnknownJob(t *testing.T) {
	q, _ := newTestQueue(t)

	_, err := q.Get(context.Background(), "missing")
	assert.ErrorIs(t, err, ErrJobNotFound)
}

func TestWithJobID(t *testing.T) {
	q, _ := newTestQueue(t)

	id, err := q.Enqueue(context.Background(), QueueBonusRun, runPayload{}, WithJobID("MATCHING:2026-W41"))
	require.NoError(t, err)
	assert.Equal(t, "MATCHING:2026-W41", id)
}

func TestCalculateBackoff(t *testing.T) {
	for retry, base := range []time.Duration{5 * time.Second, 10 * time.Second, 20 * time.Second} {
		d := calculateBackoff(retry)
		assert.GreaterOrEqual(t, d, base*8/10)
		assert.LessOrEqual(t, d, base*12/10)
	}
	assert.LessOrEqual(t, calculateBackoff(30), 72*time.Minute)
}
