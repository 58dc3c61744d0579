package jobs

import (
	"context"
	"fmt"
	"time"

	"github.com/go-co-op/gocron"
	"github.com/sirupsen/logrus"
	"github.com/vedagro/backend/internal/config"
	"github.com/vedagro/backend/internal/logger"
	"github.com/vedagro/backend/internal/models"
	"github.com/vedagro/backend/internal/period"
)

// monthlyBonusTypes are queued together when a month closes
var monthlyBonusTypes = []models.BonusType{models.BonusRepurchase, models.BonusRoyalty, models.BonusMonthlyPurchase}

// Scheduler queues bonus runs for the period that just closed
type Scheduler struct {
	cron     *gocron.Scheduler
	queue    Enqueuer
	matching string
	monthly  string
	log      *logrus.Entry
	now      func() time.Time
}

// NewScheduler creates a scheduler running on UTC cron expressions
func NewScheduler(q Enqueuer, cfg config.PayoutConfig, log logrus.FieldLogger) *Scheduler {
	return &Scheduler{
		cron:     gocron.NewScheduler(time.UTC),
		queue:    q,
		matching: cfg.MatchingSchedule,
		monthly:  cfg.MonthlySchedule,
		log:      logger.Component(log, "scheduler"),
		now:      func() time.Time { return time.Now().UTC() },
	}
}

// Start registers the weekly and monthly schedules and starts the cron loop
func (s *Scheduler) Start() error {
	if _, err := s.cron.Cron(s.matching).Tag("matching").Do(s.tick, s.EnqueueWeekly); err != nil {
		return fmt.Errorf("invalid matching schedule %q: %w", s.matching, err)
	}
	if _, err := s.cron.Cron(s.monthly).Tag("monthly").Do(s.tick, s.EnqueueMonthly); err != nil {
		return fmt.Errorf("invalid monthly schedule %q: %w", s.monthly, err)
	}
	s.cron.StartAsync()
	s.log.WithFields(logrus.Fields{"matching": s.matching, "monthly": s.monthly}).Info("bonus schedule started")
	return nil
}

// Stop stops the cron loop
func (s *Scheduler) Stop() {
	s.cron.Stop()
}

func (s *Scheduler) tick(enqueue func(context.Context) error) {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := enqueue(ctx); err != nil {
		s.log.WithError(err).Error("could not queue bonus runs")
	}
}

// EnqueueWeekly queues MATCHING for the previous ISO week
func (s *Scheduler) EnqueueWeekly(ctx context.Context) error {
	p := period.PreviousWeek(s.now())
	if _, err := EnqueueBonusRun(ctx, s.queue, models.BonusMatching, p.Key); err != nil {
		return err
	}
	s.log.WithFields(logrus.Fields{"bonus_type": models.BonusMatching, "period": p.Key}).Info("bonus run queued")
	return nil
}

// EnqueueMonthly queues the monthly bonus types for the previous calendar month
func (s *Scheduler) EnqueueMonthly(ctx context.Context) error {
	p := period.PreviousMonth(s.now())
	for _, bonusType := range monthlyBonusTypes {
		if _, err := EnqueueBonusRun(ctx, s.queue, bonusType, p.Key); err != nil {
			return err
		}
		s.log.WithFields(logrus.Fields{"bonus_type": bonusType, "period": p.Key}).Info("bonus run queued")
	}
	return nil
}
