package queue

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/vedagro/backend/internal/logger"
	"github.com/vedagro/backend/internal/metrics"
)

// JobHandler processes one job's payload
type JobHandler func(ctx context.Context, job Job) error

// JobProcessor processes jobs from queues with a fixed pool of workers
type JobProcessor struct {
	queue          *RedisQueue
	handlers       map[string]JobHandler
	workerCount    int
	metrics        *metrics.Metrics
	log            *logrus.Entry
	wg             sync.WaitGroup
	processingJobs sync.Map
	ctx            context.Context
	cancel         context.CancelFunc
}

// NewJobProcessor creates a new JobProcessor
func NewJobProcessor(queue *RedisQueue, workerCount int, m *metrics.Metrics, log logrus.FieldLogger) *JobProcessor {
	if workerCount < 1 {
		workerCount = 1
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &JobProcessor{
		queue:       queue,
		handlers:    make(map[string]JobHandler),
		workerCount: workerCount,
		metrics:     m,
		log:         logger.Component(log, "job_processor"),
		ctx:         ctx,
		cancel:      cancel,
	}
}

// RegisterHandler registers a handler for a specific queue. Call before Start.
func (p *JobProcessor) RegisterHandler(queueName string, handler JobHandler) {
	p.handlers[queueName] = handler
}

// Start starts the job processor
func (p *JobProcessor) Start() {
	p.log.WithField("workers", p.workerCount).Info("starting job processor")

	queues := make([]string, 0, len(p.handlers))
	for queue := range p.handlers {
		queues = append(queues, queue)
	}
	sort.Strings(queues)

	for i := 0; i < p.workerCount; i++ {
		p.wg.Add(1)
		go p.worker(i, queues)
	}
}

// Stop cancels in-flight handlers and waits for the workers to exit
func (p *JobProcessor) Stop() {
	p.log.Info("stopping job processor")
	p.cancel()
	p.wg.Wait()
	p.log.Info("job processor stopped")
}

func (p *JobProcessor) worker(id int, queues []string) {
	defer p.wg.Done()

	if len(queues) == 0 {
		p.log.WithField("worker", id).Warn("worker exiting: no queues registered")
		return
	}

	for {
		select {
		case <-p.ctx.Done():
			return
		default:
		}

		for _, queueName := range queues {
			job, err := p.queue.Dequeue(p.ctx, queueName)
			if err != nil {
				if p.ctx.Err() != nil {
					return
				}
				p.log.WithError(err).WithFields(logrus.Fields{"worker": id, "queue": queueName}).Error("error getting job from queue")
				continue
			}
			if job == nil {
				continue
			}

			p.processingJobs.Store(job.ID, true)
			if err := p.ProcessJob(job); err != nil {
				p.log.WithError(err).WithFields(logrus.Fields{"worker": id, "job_id": job.ID}).Warn("job failed")
			}
			p.processingJobs.Delete(job.ID)
			// One job per pass so other queues get a turn
			break
		}

		time.Sleep(100 * time.Millisecond)
	}
}

// ProcessJob runs the handler for a single job and records the outcome
func (p *JobProcessor) ProcessJob(job *Job) error {
	if job == nil {
		return fmt.Errorf("nil job")
	}
	// Outcome bookkeeping must land even when the processor is stopping
	bookkeeping := context.Background()

	handler, ok := p.handlers[job.Queue]
	if !ok {
		err := fmt.Errorf("no handler registered for queue: %s", job.Queue)
		if _, ferr := p.queue.Fail(bookkeeping, job.ID, err); ferr != nil {
			p.log.WithError(ferr).WithField("job_id", job.ID).Error("could not record job failure")
		}
		p.metrics.ObserveJob(job.Queue, "failed")
		return err
	}

	if err := handler(p.ctx, *job); err != nil {
		retried, ferr := p.queue.Fail(bookkeeping, job.ID, err)
		if ferr != nil {
			p.log.WithError(ferr).WithField("job_id", job.ID).Error("could not record job failure")
		}
		outcome := "failed"
		if retried {
			outcome = "retried"
		}
		p.metrics.ObserveJob(job.Queue, outcome)
		return fmt.Errorf("job processing failed: %w", err)
	}

	if err := p.queue.Complete(bookkeeping, job.ID); err != nil {
		p.log.WithError(err).WithField("job_id", job.ID).Error("could not mark job completed")
	}
	p.metrics.ObserveJob(job.Queue, "completed")
	return nil
}

// IsProcessing checks if a job is currently being processed
func (p *JobProcessor) IsProcessing(jobID string) bool {
	_, ok := p.processingJobs.Load(jobID)
	return ok
}
