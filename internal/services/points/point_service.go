// Package points is the Point Ledger: idempotent ingestion of settled orders
// and BV aggregation over the placement tree.
package points

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"github.com/vedagro/backend/internal/config"
	"github.com/vedagro/backend/internal/database"
	"github.com/vedagro/backend/internal/logger"
	"github.com/vedagro/backend/internal/metrics"
	"github.com/vedagro/backend/internal/models"
	"github.com/vedagro/backend/internal/services/member"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

var (
	ErrDuplicateOrder = errors.New("order already recorded for member")
	ErrInvalidPoints  = errors.New("invalid point event")
)

// sumBatchSize bounds the IN list of one aggregation query
const sumBatchSize = 500

// RecordPointsInput is one settled order
type RecordPointsInput struct {
	MemberID   uuid.UUID
	OrderID    string
	PV         int64
	BV         int64
	RP         int64
	Amount     int64 // order value in paise, optional
	Flavor     models.Flavor
	OccurredAt time.Time
}

// RecordResult reports what an ingestion changed
type RecordResult struct {
	Event     models.PointEvent
	Activated bool
}

// PointService handles point ledger operations
type PointService struct {
	db      *gorm.DB
	members *member.MemberService
	plans   config.PlanProvider
	metrics *metrics.Metrics
	log     *logrus.Entry
	now     func() time.Time
}

// NewPointService creates a new point service
func NewPointService(db *gorm.DB, members *member.MemberService, plans config.PlanProvider, m *metrics.Metrics, log logrus.FieldLogger) *PointService {
	return &PointService{
		db:      db,
		members: members,
		plans:   plans,
		metrics: m,
		log:     logger.Component(log, "points"),
		now:     func() time.Time { return time.Now().UTC() },
	}
}

func (in *RecordPointsInput) validate() error {
	switch {
	case in.MemberID == uuid.Nil:
		return fmt.Errorf("%w: member id is required", ErrInvalidPoints)
	case in.OrderID == "" || len(in.OrderID) > 64:
		return fmt.Errorf("%w: order id must be 1-64 characters", ErrInvalidPoints)
	case in.PV < 0 || in.BV < 0 || in.RP < 0 || in.Amount < 0:
		return fmt.Errorf("%w: points and amount must not be negative", ErrInvalidPoints)
	case !in.Flavor.Valid():
		return fmt.Errorf("%w: unknown flavor %q", ErrInvalidPoints, in.Flavor)
	}
	return nil
}

// RecordPoints appends a point event for a settled order. A replay of the same
// (member, order) fails with ErrDuplicateOrder and changes nothing. When an
// inactive member's order carries at least the activation threshold of BV, the
// member is activated in the same transaction, which also posts the sponsor's
// welcome bonus.
func (s *PointService) RecordPoints(ctx context.Context, in RecordPointsInput) (*RecordResult, error) {
	if err := in.validate(); err != nil {
		return nil, err
	}
	if in.OccurredAt.IsZero() {
		in.OccurredAt = s.now()
	}
	in.OccurredAt = in.OccurredAt.UTC()

	plan, err := s.plans.Plan(ctx)
	if err != nil {
		return nil, fmt.Errorf("error loading plan: %w", err)
	}

	result := &RecordResult{}
	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		// Lock the member so ingestion and activation for one member are serialized
		var m models.Member
		if err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).First(&m, "id = ?", in.MemberID).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return member.ErrMemberNotFound
			}
			return fmt.Errorf("error finding member: %w", err)
		}

		var existing int64
		if err := tx.Model(&models.PointEvent{}).
			Where("member_id = ? AND order_id = ?", in.MemberID, in.OrderID).
			Count(&existing).Error; err != nil {
			return fmt.Errorf("error checking order: %w", err)
		}
		if existing > 0 {
			return ErrDuplicateOrder
		}

		event := models.PointEvent{
			MemberID:   in.MemberID,
			OrderID:    in.OrderID,
			PV:         in.PV,
			BV:         in.BV,
			RP:         in.RP,
			Amount:     in.Amount,
			Flavor:     in.Flavor,
			OccurredAt: in.OccurredAt,
		}
		if err := tx.Create(&event).Error; err != nil {
			if database.IsUniqueViolation(err) {
				return ErrDuplicateOrder
			}
			return fmt.Errorf("error recording points: %w", err)
		}
		result.Event = event

		if !m.IsActive() && in.BV >= plan.ActivationThresholdBV {
			activated, err := s.members.ActivateWithTx(tx, m.ID, member.Trigger{OrderID: in.OrderID, BV: in.BV})
			if err != nil {
				return err
			}
			result.Activated = activated
		}
		return nil
	})
	if err != nil {
		if errors.Is(err, ErrDuplicateOrder) {
			s.metrics.ObserveDuplicateOrder()
		}
		return nil, err
	}

	s.metrics.ObservePoints(string(in.Flavor))
	s.log.WithFields(logrus.Fields{
		"member_id": in.MemberID,
		"order_id":  in.OrderID,
		"bv":        in.BV,
		"flavor":    in.Flavor,
		"activated": result.Activated,
	}).Info("points recorded")
	return result, nil
}

// SumBV aggregates the BV recorded in [start, end) by every member in one side
// of memberID's subtree
func (s *PointService) SumBV(ctx context.Context, memberID uuid.UUID, side models.Side, start, end time.Time) (int64, error) {
	return s.SumBVWithTx(s.db.WithContext(ctx), memberID, side, start, end)
}

// SumBVWithTx is SumBV inside an existing transaction
func (s *PointService) SumBVWithTx(tx *gorm.DB, memberID uuid.UUID, side models.Side, start, end time.Time) (int64, error) {
	ctx := tx.Statement.Context
	it, err := s.members.SubtreeWithTx(tx, memberID, side)
	if err != nil {
		return 0, err
	}

	var total int64
	batch := make([]uuid.UUID, 0, sumBatchSize)
	flush := func() error {
		if len(batch) == 0 {
			return nil
		}
		var sum int64
		if err := tx.Model(&models.PointEvent{}).
			Select("COALESCE(SUM(bv), 0)").
			Where("member_id IN ? AND occurred_at >= ? AND occurred_at < ?", batch, start.UTC(), end.UTC()).
			Scan(&sum).Error; err != nil {
			return fmt.Errorf("error summing bv: %w", err)
		}
		total += sum
		batch = batch[:0]
		return nil
	}

	for {
		id, ok, err := it.Next(ctx)
		if err != nil {
			return 0, err
		}
		if !ok {
			break
		}
		batch = append(batch, id)
		if len(batch) == sumBatchSize {
			if err := flush(); err != nil {
				return 0, err
			}
		}
	}
	if err := flush(); err != nil {
		return 0, err
	}
	return total, nil
}

// CompanyBV sums all BV recorded in [start, end)
func (s *PointService) CompanyBV(ctx context.Context, start, end time.Time) (int64, error) {
	return s.CompanyBVWithTx(s.db.WithContext(ctx), start, end)
}

// CompanyBVWithTx is CompanyBV inside an existing transaction
func (s *PointService) CompanyBVWithTx(tx *gorm.DB, start, end time.Time) (int64, error) {
	var total int64
	if err := tx.Model(&models.PointEvent{}).
		Select("COALESCE(SUM(bv), 0)").
		Where("occurred_at >= ? AND occurred_at < ?", start.UTC(), end.UTC()).
		Scan(&total).Error; err != nil {
		return 0, fmt.Errorf("error summing company bv: %w", err)
	}
	return total, nil
}

type memberBV struct {
	MemberID uuid.UUID
	BV       int64
}

// BVByMemberWithTx returns each member's own BV in [start, end)
func (s *PointService) BVByMemberWithTx(tx *gorm.DB, start, end time.Time) (map[uuid.UUID]int64, error) {
	var rows []memberBV
	if err := tx.Model(&models.PointEvent{}).
		Select("member_id, SUM(bv) AS bv").
		Where("occurred_at >= ? AND occurred_at < ?", start.UTC(), end.UTC()).
		Group("member_id").
		Scan(&rows).Error; err != nil {
		return nil, fmt.Errorf("error aggregating bv: %w", err)
	}
	out := make(map[uuid.UUID]int64, len(rows))
	for _, row := range rows {
		out[row.MemberID] = row.BV
	}
	return out, nil
}

// EventsWithTx lists events of one flavor in [start, end), oldest first
func (s *PointService) EventsWithTx(tx *gorm.DB, flavor models.Flavor, start, end time.Time) ([]models.PointEvent, error) {
	var events []models.PointEvent
	if err := tx.
		Where("flavor = ? AND occurred_at >= ? AND occurred_at < ?", flavor, start.UTC(), end.UTC()).
		Order("occurred_at ASC, order_id ASC").
		Find(&events).Error; err != nil {
		return nil, fmt.Errorf("error loading point events: %w", err)
	}
	return events, nil
}
