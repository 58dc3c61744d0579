package member

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/vedagro/backend/internal/models"
	"gorm.io/gorm"
)

type childRow struct {
	ID   uuid.UUID
	Side models.Side
}

// SubtreeIterator walks one side of a member's subtree depth-first, left leg
// before right. Children are loaded from the store as each node is visited, so
// memory is bounded by the tree height rather than its size.
type SubtreeIterator struct {
	db      *gorm.DB
	root    uuid.UUID
	side    models.Side
	stack   []uuid.UUID
	started bool
}

// Subtree returns a lazy iterator over all descendants of id on side.
// The iterator is finite and can be restarted with Reset.
func (s *MemberService) Subtree(ctx context.Context, id uuid.UUID, side models.Side) (*SubtreeIterator, error) {
	return s.SubtreeWithTx(s.db.WithContext(ctx), id, side)
}

// SubtreeWithTx is Subtree reading through an existing transaction, so the walk
// sees the transaction's snapshot
func (s *MemberService) SubtreeWithTx(tx *gorm.DB, id uuid.UUID, side models.Side) (*SubtreeIterator, error) {
	if !side.Valid() {
		return nil, ErrInvalidSide
	}
	if _, err := s.GetWithTx(tx, id); err != nil {
		return nil, err
	}
	return &SubtreeIterator{db: tx, root: id, side: side}, nil
}

// Next returns the next descendant id. ok is false once the walk is exhausted.
func (it *SubtreeIterator) Next(ctx context.Context) (id uuid.UUID, ok bool, err error) {
	if !it.started {
		it.started = true
		children, err := it.children(ctx, it.root)
		if err != nil {
			return uuid.Nil, false, err
		}
		if child, found := children[it.side]; found {
			it.stack = append(it.stack, child)
		}
	}

	if len(it.stack) == 0 {
		return uuid.Nil, false, nil
	}

	id = it.stack[len(it.stack)-1]
	it.stack = it.stack[:len(it.stack)-1]

	children, err := it.children(ctx, id)
	if err != nil {
		return uuid.Nil, false, err
	}
	// right is pushed first so the left leg is visited first
	if right, found := children[models.SideRight]; found {
		it.stack = append(it.stack, right)
	}
	if left, found := children[models.SideLeft]; found {
		it.stack = append(it.stack, left)
	}
	return id, true, nil
}

// Reset restarts the walk from the root
func (it *SubtreeIterator) Reset() {
	it.stack = it.stack[:0]
	it.started = false
}

// Collect drains the iterator into a slice
func (it *SubtreeIterator) Collect(ctx context.Context) ([]uuid.UUID, error) {
	var ids []uuid.UUID
	for {
		id, ok, err := it.Next(ctx)
		if err != nil {
			return nil, err
		}
		if !ok {
			return ids, nil
		}
		ids = append(ids, id)
	}
}

func (it *SubtreeIterator) children(ctx context.Context, parent uuid.UUID) (map[models.Side]uuid.UUID, error) {
	var rows []childRow
	if err := it.db.WithContext(ctx).Model(&models.Member{}).
		Select("id, side").
		Where("sponsor_id = ?", parent).
		Scan(&rows).Error; err != nil {
		return nil, fmt.Errorf("error loading children: %w", err)
	}
	children := make(map[models.Side]uuid.UUID, len(rows))
	for _, row := range rows {
		children[row.Side] = row.ID
	}
	return children, nil
}

// TeamSummary is the team view shown to a member
type TeamSummary struct {
	Directs    int64 `json:"directs"`
	LeftCount  int64 `json:"leftCount"`
	RightCount int64 `json:"rightCount"`
	TotalTeam  int64 `json:"totalTeam"`
}

// Team counts a member's direct placements and the size of both legs
func (s *MemberService) Team(ctx context.Context, id uuid.UUID) (*TeamSummary, error) {
	var summary TeamSummary
	if err := s.db.WithContext(ctx).Model(&models.Member{}).Where("sponsor_id = ?", id).Count(&summary.Directs).Error; err != nil {
		return nil, fmt.Errorf("error counting directs: %w", err)
	}

	for _, side := range []models.Side{models.SideLeft, models.SideRight} {
		it, err := s.Subtree(ctx, id, side)
		if err != nil {
			return nil, err
		}
		var n int64
		for {
			_, ok, err := it.Next(ctx)
			if err != nil {
				return nil, err
			}
			if !ok {
				break
			}
			n++
		}
		if side == models.SideLeft {
			summary.LeftCount = n
		} else {
			summary.RightCount = n
		}
	}
	summary.TotalTeam = summary.LeftCount + summary.RightCount
	return &summary, nil
}
