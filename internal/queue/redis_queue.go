// Package queue is a Redis-backed job queue with delayed retries, used to run
// bonus periods off the request path.
package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"github.com/vedagro/backend/internal/logger"
)

const (
	// QueueBonusRun carries {bonus_type, period_key} payloads for the payout orchestrator
	QueueBonusRun = "bonus_run"

	// Default values
	DefaultRetryCount = 3
	DefaultTTL        = 7 * 24 * time.Hour
)

// Redis key prefixes
const (
	queuePrefix   = "queue:"
	delayedPrefix = "delayed:"
	failedPrefix  = "failed:"
	jobPrefix     = "jobs:"
)

var ErrJobNotFound = errors.New("job not found")

// RedisQueue stores jobs in Redis lists, with a sorted set per queue for delayed jobs
type RedisQueue struct {
	client      *redis.Client
	log         *logrus.Entry
	now         func() time.Time
	pollTimeout time.Duration
}

// NewRedisQueue creates a new Redis queue
func NewRedisQueue(client *redis.Client, log logrus.FieldLogger) *RedisQueue {
	return &RedisQueue{
		client:      client,
		log:         logger.Component(log, "queue"),
		now:         time.Now,
		pollTimeout: time.Second,
	}
}

// Enqueue adds a job to the queue
func (q *RedisQueue) Enqueue(ctx context.Context, queueName string, payload interface{}, opts ...EnqueueOption) (string, error) {
	job, err := q.newJob(queueName, payload, q.now(), opts)
	if err != nil {
		return "", err
	}
	jobBytes, err := q.store(ctx, job)
	if err != nil {
		return "", err
	}
	if err := q.client.LPush(ctx, queuePrefix+queueName, jobBytes).Err(); err != nil {
		return "", fmt.Errorf("failed to push job to queue: %w", err)
	}
	return job.ID, nil
}

// EnqueueIn adds a job to the queue with a delay
func (q *RedisQueue) EnqueueIn(ctx context.Context, queueName string, payload interface{}, delay time.Duration, opts ...EnqueueOption) (string, error) {
	job, err := q.newJob(queueName, payload, q.now().Add(delay), opts)
	if err != nil {
		return "", err
	}
	jobBytes, err := q.store(ctx, job)
	if err != nil {
		return "", err
	}
	if err := q.client.ZAdd(ctx, delayedPrefix+queueName, &redis.Z{
		Score:  float64(job.RunAt.Unix()),
		Member: jobBytes,
	}).Err(); err != nil {
		return "", fmt.Errorf("failed to add job to delayed queue: %w", err)
	}
	return job.ID, nil
}

// Schedule adds a job to the queue to run at a specific time
func (q *RedisQueue) Schedule(ctx context.Context, queueName string, payload interface{}, runAt time.Time, opts ...EnqueueOption) (string, error) {
	now := q.now()
	if !runAt.After(now) {
		return q.Enqueue(ctx, queueName, payload, opts...)
	}
	return q.EnqueueIn(ctx, queueName, payload, runAt.Sub(now), opts...)
}

func (q *RedisQueue) newJob(queueName string, payload interface{}, runAt time.Time, opts []EnqueueOption) (*Job, error) {
	payloadBytes, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal payload: %w", err)
	}
	now := q.now().UTC()
	job := &Job{
		ID:         uuid.New().String(),
		Queue:      queueName,
		Payload:    payloadBytes,
		Status:     JobStatusPending,
		MaxRetries: DefaultRetryCount,
		CreatedAt:  now,
		UpdatedAt:  now,
		RunAt:      runAt.UTC(),
	}
	for _, opt := range opts {
		opt(job)
	}
	return job, nil
}

// store writes the job details hash and returns the serialized job
func (q *RedisQueue) store(ctx context.Context, job *Job) ([]byte, error) {
	jobBytes, err := json.Marshal(job)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal job: %w", err)
	}
	if err := q.client.HSet(ctx, jobPrefix+job.ID, "data", jobBytes).Err(); err != nil {
		return nil, fmt.Errorf("failed to store job details: %w", err)
	}
	if err := q.client.Expire(ctx, jobPrefix+job.ID, DefaultTTL).Err(); err != nil {
		q.log.WithError(err).WithField("job_id", job.ID).Warn("failed to set TTL on job")
	}
	return jobBytes, nil
}

// Get returns the stored details of a job
func (q *RedisQueue) Get(ctx context.Context, jobID string) (*Job, error) {
	jobData, err := q.client.HGet(ctx, jobPrefix+jobID, "data").Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, ErrJobNotFound
		}
		return nil, fmt.Errorf("failed to get job details: %w", err)
	}
	var job Job
	if err := json.Unmarshal([]byte(jobData), &job); err != nil {
		return nil, fmt.Errorf("failed to unmarshal job: %w", err)
	}
	return &job, nil
}

// Dequeue gets a job from the queue. It returns nil, nil when none is ready.
func (q *RedisQueue) Dequeue(ctx context.Context, queueName string) (*Job, error) {
	q.moveReadyDelayedJobs(ctx, queueName)

	result, err := q.client.BRPop(ctx, q.pollTimeout, queuePrefix+queueName).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to pop job from queue: %w", err)
	}
	if len(result) < 2 {
		return nil, fmt.Errorf("unexpected result format from BRPOP")
	}

	var job Job
	if err := json.Unmarshal([]byte(result[1]), &job); err != nil {
		return nil, fmt.Errorf("failed to unmarshal job: %w", err)
	}

	job.Status = JobStatusProcessing
	job.UpdatedAt = q.now().UTC()
	if _, err := q.store(ctx, &job); err != nil {
		q.log.WithError(err).WithField("job_id", job.ID).Warn("failed to update job status")
	}
	return &job, nil
}

// moveReadyDelayedJobs moves delayed jobs that are ready to run to the main queue
func (q *RedisQueue) moveReadyDelayedJobs(ctx context.Context, queueName string) {
	jobs, err := q.client.ZRangeByScore(ctx, delayedPrefix+queueName, &redis.ZRangeBy{
		Min: "-inf",
		Max: strconv.FormatInt(q.now().Unix(), 10),
	}).Result()
	if err != nil {
		q.log.WithError(err).WithField("queue", queueName).Error("error getting ready delayed jobs")
		return
	}

	for _, jobStr := range jobs {
		// Only the worker that removes the entry moves it
		removed, err := q.client.ZRem(ctx, delayedPrefix+queueName, jobStr).Result()
		if err != nil || removed == 0 {
			continue
		}
		if err := q.client.LPush(ctx, queuePrefix+queueName, jobStr).Err(); err != nil {
			q.log.WithError(err).WithField("queue", queueName).Error("error moving delayed job to main queue")
		}
	}
}

// Complete marks a job as completed
func (q *RedisQueue) Complete(ctx context.Context, jobID string) error {
	job, err := q.Get(ctx, jobID)
	if err != nil {
		return err
	}
	job.Status = JobStatusCompleted
	job.LastError = ""
	job.UpdatedAt = q.now().UTC()
	_, err = q.store(ctx, job)
	return err
}

// Fail records the error and retries the job with backoff until MaxRetries is spent.
// It reports whether the job was rescheduled.
func (q *RedisQueue) Fail(ctx context.Context, jobID string, jobErr error) (bool, error) {
	job, err := q.Get(ctx, jobID)
	if err != nil {
		return false, err
	}
	if jobErr != nil {
		job.LastError = jobErr.Error()
	}
	job.UpdatedAt = q.now().UTC()

	if job.RetryCount < job.MaxRetries {
		return true, q.retry(ctx, job, calculateBackoff(job.RetryCount))
	}

	job.Status = JobStatusFailed
	if _, err := q.store(ctx, job); err != nil {
		return false, err
	}
	if err := q.client.LPush(ctx, failedPrefix+job.Queue, job.ID).Err(); err != nil {
		return false, fmt.Errorf("failed to record failed job: %w", err)
	}
	return false, nil
}

// Retry schedules a job to run again after delay
func (q *RedisQueue) Retry(ctx context.Context, jobID string, delay time.Duration) error {
	job, err := q.Get(ctx, jobID)
	if err != nil {
		return err
	}
	return q.retry(ctx, job, delay)
}

func (q *RedisQueue) retry(ctx context.Context, job *Job, delay time.Duration) error {
	job.Status = JobStatusPending
	job.RetryCount++
	job.UpdatedAt = q.now().UTC()
	job.RunAt = q.now().Add(delay).UTC()

	jobBytes, err := q.store(ctx, job)
	if err != nil {
		return err
	}
	if err := q.client.ZAdd(ctx, delayedPrefix+job.Queue, &redis.Z{
		Score:  float64(job.RunAt.Unix()),
		Member: jobBytes,
	}).Err(); err != nil {
		return fmt.Errorf("failed to add job to delayed queue: %w", err)
	}
	return nil
}

// Stats returns the size of a queue's waiting, delayed and failed sets
func (q *RedisQueue) Stats(ctx context.Context, queueName string) (*QueueStats, error) {
	pipe := q.client.Pipeline()
	waiting := pipe.LLen(ctx, queuePrefix+queueName)
	delayed := pipe.ZCard(ctx, delayedPrefix+queueName)
	failed := pipe.LLen(ctx, failedPrefix+queueName)
	if _, err := pipe.Exec(ctx); err != nil && !errors.Is(err, redis.Nil) {
		return nil, fmt.Errorf("failed to read queue stats: %w", err)
	}
	return &QueueStats{
		Queue:   queueName,
		Waiting: waiting.Val(),
		Delayed: delayed.Val(),
		Failed:  failed.Val(),
	}, nil
}
