// Package member is the Member/Tree Store: registration into the binary
// placement tree, activation, rank promotion and subtree traversal.
package member

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"github.com/vedagro/backend/internal/database"
	"github.com/vedagro/backend/internal/logger"
	"github.com/vedagro/backend/internal/models"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

var (
	ErrSponsorNotFound       = errors.New("sponsor not found")
	ErrSlotOccupied          = errors.New("placement slot already occupied")
	ErrInvalidRankTransition = errors.New("rank can only move forward")
	ErrMemberNotFound        = errors.New("member not found")
	ErrRootExists            = errors.New("root member already exists")
	ErrInvalidSide           = errors.New("side must be LEFT or RIGHT")
)

// ActivationEvent is emitted inside the activating transaction
type ActivationEvent struct {
	Member      models.Member
	OrderID     string
	BV          int64
	ActivatedAt time.Time
}

// ActivationListener reacts to a member's first activation. It runs in the
// same database transaction; returning an error rolls the activation back.
type ActivationListener interface {
	OnActivated(tx *gorm.DB, event ActivationEvent) error
}

// Trigger describes the order that caused an activation, if any
type Trigger struct {
	OrderID string
	BV      int64
}

// MemberService handles member and placement tree operations
type MemberService struct {
	db        *gorm.DB
	log       *logrus.Entry
	listeners []ActivationListener
	now       func() time.Time
}

// NewMemberService creates a new member service
func NewMemberService(db *gorm.DB, log logrus.FieldLogger) *MemberService {
	return &MemberService{
		db:  db,
		log: logger.Component(log, "member"),
		now: func() time.Time { return time.Now().UTC() },
	}
}

// Subscribe registers a listener for activation events. Not safe to call
// concurrently with activations; wire listeners at startup.
func (s *MemberService) Subscribe(l ActivationListener) {
	s.listeners = append(s.listeners, l)
}

// RegisterMember places a new member under sponsorID on side. A nil sponsor
// registers the root, of which there can be only one.
func (s *MemberService) RegisterMember(ctx context.Context, sponsorID *uuid.UUID, side models.Side) (*models.Member, error) {
	if sponsorID != nil && !side.Valid() {
		return nil, ErrInvalidSide
	}

	member := models.Member{
		Rank:         models.LowestRank,
		Status:       models.MemberInactive,
		RegisteredAt: s.now(),
	}

	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if sponsorID == nil {
			var roots int64
			if err := tx.Model(&models.Member{}).Where("sponsor_id IS NULL").Count(&roots).Error; err != nil {
				return fmt.Errorf("error counting root members: %w", err)
			}
			if roots > 0 {
				return ErrRootExists
			}
			// idx_members_single_root catches a concurrent root registration
			if err := tx.Create(&member).Error; err != nil {
				if database.IsUniqueViolation(err) {
					return ErrRootExists
				}
				return fmt.Errorf("error creating member: %w", err)
			}
			return nil
		}

		// Lock the sponsor so concurrent registrations under it are serialized
		var sponsor models.Member
		if err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).First(&sponsor, "id = ?", *sponsorID).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return ErrSponsorNotFound
			}
			return fmt.Errorf("error finding sponsor: %w", err)
		}

		var taken int64
		if err := tx.Model(&models.Member{}).Where("sponsor_id = ? AND side = ?", sponsor.ID, side).Count(&taken).Error; err != nil {
			return fmt.Errorf("error checking placement slot: %w", err)
		}
		if taken > 0 {
			return ErrSlotOccupied
		}

		member.SponsorID = &sponsor.ID
		member.Side = side
		if err := tx.Create(&member).Error; err != nil {
			if database.IsUniqueViolation(err) {
				return ErrSlotOccupied
			}
			return fmt.Errorf("error creating member: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.log.WithFields(logrus.Fields{
		"member_id": member.ID,
		"sponsor":   sponsorID,
		"side":      side,
	}).Info("member registered")
	return &member, nil
}

// Get loads a member by id
func (s *MemberService) Get(ctx context.Context, id uuid.UUID) (*models.Member, error) {
	return s.GetWithTx(s.db.WithContext(ctx), id)
}

// GetWithTx loads a member using an existing transaction
func (s *MemberService) GetWithTx(tx *gorm.DB, id uuid.UUID) (*models.Member, error) {
	var member models.Member
	if err := tx.First(&member, "id = ?", id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrMemberNotFound
		}
		return nil, fmt.Errorf("error finding member: %w", err)
	}
	return &member, nil
}

// Activate marks a member ACTIVE. Activating an active member is a no-op; the
// returned bool reports whether this call changed the state.
func (s *MemberService) Activate(ctx context.Context, id uuid.UUID) (bool, error) {
	var activated bool
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var err error
		activated, err = s.ActivateWithTx(tx, id, Trigger{})
		return err
	})
	return activated, err
}

// ActivateWithTx activates a member using an existing transaction and notifies
// listeners in that transaction
func (s *MemberService) ActivateWithTx(tx *gorm.DB, id uuid.UUID, trigger Trigger) (bool, error) {
	now := s.now()

	// The status guard makes concurrent activations race-free: only one update matches
	result := tx.Model(&models.Member{}).
		Where("id = ? AND status = ?", id, models.MemberInactive).
		Updates(map[string]interface{}{
			"status":       models.MemberActive,
			"activated_at": now,
		})
	if result.Error != nil {
		return false, fmt.Errorf("error activating member: %w", result.Error)
	}

	if result.RowsAffected == 0 {
		var count int64
		if err := tx.Model(&models.Member{}).Where("id = ?", id).Count(&count).Error; err != nil {
			return false, fmt.Errorf("error finding member: %w", err)
		}
		if count == 0 {
			return false, ErrMemberNotFound
		}
		return false, nil
	}

	member, err := s.GetWithTx(tx, id)
	if err != nil {
		return false, err
	}

	event := ActivationEvent{Member: *member, OrderID: trigger.OrderID, BV: trigger.BV, ActivatedAt: now}
	for _, l := range s.listeners {
		if err := l.OnActivated(tx, event); err != nil {
			return false, fmt.Errorf("error handling activation: %w", err)
		}
	}

	s.log.WithFields(logrus.Fields{"member_id": id, "order_id": trigger.OrderID}).Info("member activated")
	return true, nil
}

// PromoteRank moves a member to a strictly higher rank and records the change
func (s *MemberService) PromoteRank(ctx context.Context, id uuid.UUID, newRank models.Rank) (*models.Member, error) {
	if !newRank.Valid() {
		return nil, fmt.Errorf("%w: unknown rank %d", ErrInvalidRankTransition, int(newRank))
	}

	var member models.Member
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).First(&member, "id = ?", id).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return ErrMemberNotFound
			}
			return fmt.Errorf("error finding member: %w", err)
		}

		if newRank <= member.Rank {
			return fmt.Errorf("%w: %s to %s", ErrInvalidRankTransition, member.Rank, newRank)
		}

		change := models.RankChange{MemberID: member.ID, FromRank: member.Rank, ToRank: newRank}
		if err := tx.Model(&member).Update("rank", newRank).Error; err != nil {
			return fmt.Errorf("error updating rank: %w", err)
		}
		if err := tx.Create(&change).Error; err != nil {
			return fmt.Errorf("error recording rank change: %w", err)
		}
		member.Rank = newRank
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.log.WithFields(logrus.Fields{"member_id": id, "rank": newRank}).Info("rank promoted")
	return &member, nil
}

// RankHistory returns a member's promotions, oldest first
func (s *MemberService) RankHistory(ctx context.Context, id uuid.UUID) ([]models.RankChange, error) {
	var changes []models.RankChange
	if err := s.db.WithContext(ctx).Where("member_id = ?", id).Order("created_at ASC").Find(&changes).Error; err != nil {
		return nil, fmt.Errorf("error loading rank history: %w", err)
	}
	return changes, nil
}

// ApproveKYC records KYC approval. Approving twice keeps the first timestamp.
func (s *MemberService) ApproveKYC(ctx context.Context, id uuid.UUID) (*models.Member, error) {
	now := s.now()
	result := s.db.WithContext(ctx).Model(&models.Member{}).
		Where("id = ? AND kyc_approved = ?", id, false).
		Updates(map[string]interface{}{"kyc_approved": true, "kyc_approved_at": now})
	if result.Error != nil {
		return nil, fmt.Errorf("error approving kyc: %w", result.Error)
	}
	member, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if result.RowsAffected > 0 {
		s.log.WithField("member_id", id).Info("kyc approved")
	}
	return member, nil
}
