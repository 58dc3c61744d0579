package member

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/vedagro/backend/internal/database"
	"github.com/vedagro/backend/internal/database/dbtest"
	"github.com/vedagro/backend/internal/logger"
	"github.com/vedagro/backend/internal/models"
	"gorm.io/gorm"
)

type recordingListener struct {
	events []ActivationEvent
	err    error
}

func (r *recordingListener) OnActivated(tx *gorm.DB, event ActivationEvent) error {
	r.events = append(r.events, event)
	return r.err
}

func newTestService(t *testing.T) (*MemberService, *gorm.DB) {
	db := dbtest.New(t)
	return NewMemberService(db, logger.Discard()), db
}

func register(t *testing.T, s *MemberService, sponsor *models.Member, side models.Side) *models.Member {
	t.Helper()
	var sponsorID *uuid.UUID
	if sponsor != nil {
		sponsorID = &sponsor.ID
	}
	m, err := s.RegisterMember(context.Background(), sponsorID, side)
	require.NoError(t, err)
	return m
}

func TestRegisterMember(t *testing.T) {
	s, _ := newTestService(t)
	ctx := context.Background()

	root := register(t, s, nil, "")
	assert.Nil(t, root.SponsorID)
	assert.Equal(t, models.LowestRank, root.Rank)
	assert.Equal(t, models.MemberInactive, root.Status)

	_, err := s.RegisterMember(ctx, nil, "")
	assert.ErrorIs(t, err, ErrRootExists)

	left := register(t, s, root, models.SideLeft)
	assert.Equal(t, root.ID, *left.SponsorID)
	assert.Equal(t, models.SideLeft, left.Side)

	_, err = s.RegisterMember(ctx, &root.ID, models.SideLeft)
	assert.ErrorIs(t, err, ErrSlotOccupied)

	missing := uuid.New()
	_, err = s.RegisterMember(ctx, &missing, models.SideRight)
	assert.ErrorIs(t, err, ErrSponsorNotFound)

	_, err = s.RegisterMember(ctx, &root.ID, models.Side("MIDDLE"))
	assert.ErrorIs(t, err, ErrInvalidSide)

	right := register(t, s, root, models.SideRight)
	assert.Equal(t, models.SideRight, right.Side)
}

func TestSecondRootRejectedByIndex(t *testing.T) {
	s, db := newTestService(t)
	ctx := context.Background()
	register(t, s, nil, "")

	_, err := s.RegisterMember(ctx, nil, "")
	assert.ErrorIs(t, err, ErrRootExists)

	// a writer that skipped the count still cannot add a second root
	err = db.Create(&models.Member{Rank: models.LowestRank, Status: models.MemberInactive, RegisteredAt: time.Now().UTC()}).Error
	require.Error(t, err)
	assert.True(t, database.IsUniqueViolation(err))

	var roots int64
	require.NoError(t, db.Model(&models.Member{}).Where("sponsor_id IS NULL").Count(&roots).Error)
	assert.Equal(t, int64(1), roots)
}

func TestActivateIsIdempotent(t *testing.T) {
	s, _ := newTestService(t)
	ctx := context.Background()
	listener := &recordingListener{}
	s.Subscribe(listener)

	root := register(t, s, nil, "")

	changed, err := s.Activate(ctx, root.ID)
	require.NoError(t, err)
	assert.True(t, changed)

	changed, err = s.Activate(ctx, root.ID)
	require.NoError(t, err)
	assert.False(t, changed)

	require.Len(t, listener.events, 1)
	assert.Equal(t, root.ID, listener.events[0].Member.ID)
	assert.Equal(t, models.MemberActive, listener.events[0].Member.Status)

	got, err := s.Get(ctx, root.ID)
	require.NoError(t, err)
	assert.True(t, got.IsActive())
	assert.NotNil(t, got.ActivatedAt)

	_, err = s.Activate(ctx, uuid.New())
	assert.ErrorIs(t, err, ErrMemberNotFound)
}

func TestActivateRollsBackWhenListenerFails(t *testing.T) {
	s, _ := newTestService(t)
	ctx := context.Background()
	s.Subscribe(&recordingListener{err: errors.New("wallet down")})

	root := register(t, s, nil, "")
	_, err := s.Activate(ctx, root.ID)
	require.Error(t, err)

	got, err := s.Get(ctx, root.ID)
	require.NoError(t, err)
	assert.False(t, got.IsActive())
}

func TestPromoteRank(t *testing.T) {
	s, _ := newTestService(t)
	ctx := context.Background()
	root := register(t, s, nil, "")

	m, err := s.PromoteRank(ctx, root.ID, models.RankGold)
	require.NoError(t, err)
	assert.Equal(t, models.RankGold, m.Rank)

	_, err = s.PromoteRank(ctx, root.ID, models.RankGold)
	assert.ErrorIs(t, err, ErrInvalidRankTransition)
	_, err = s.PromoteRank(ctx, root.ID, models.RankSilver)
	assert.ErrorIs(t, err, ErrInvalidRankTransition)
	_, err = s.PromoteRank(ctx, root.ID, models.Rank(42))
	assert.ErrorIs(t, err, ErrInvalidRankTransition)
	_, err = s.PromoteRank(ctx, uuid.New(), models.RankDiamond)
	assert.ErrorIs(t, err, ErrMemberNotFound)

	_, err = s.PromoteRank(ctx, root.ID, models.RankDiamond)
	require.NoError(t, err)

	history, err := s.RankHistory(ctx, root.ID)
	require.NoError(t, err)
	require.Len(t, history, 2)
	assert.Equal(t, models.RankStar, history[0].FromRank)
	assert.Equal(t, models.RankGold, history[0].ToRank)
	assert.Equal(t, models.RankDiamond, history[1].ToRank)
}

func TestApproveKYC(t *testing.T) {
	s, _ := newTestService(t)
	ctx := context.Background()
	root := register(t, s, nil, "")

	m, err := s.ApproveKYC(ctx, root.ID)
	require.NoError(t, err)
	assert.True(t, m.KYCApproved)
	first := *m.KYCApprovedAt

	m, err = s.ApproveKYC(ctx, root.ID)
	require.NoError(t, err)
	assert.True(t, first.Equal(*m.KYCApprovedAt))

	_, err = s.ApproveKYC(ctx, uuid.New())
	assert.ErrorIs(t, err, ErrMemberNotFound)
}

// buildTree registers:
//
//	      root
//	     /    \
//	    a      b
//	   / \      \
//	  c   d      e
//	 /
//	f
func buildTree(t *testing.T, s *MemberService) map[string]*models.Member {
	t.Helper()
	m := map[string]*models.Member{}
	m["root"] = register(t, s, nil, "")
	m["a"] = register(t, s, m["root"], models.SideLeft)
	m["b"] = register(t, s, m["root"], models.SideRight)
	m["c"] = register(t, s, m["a"], models.SideLeft)
	m["d"] = register(t, s, m["a"], models.SideRight)
	m["e"] = register(t, s, m["b"], models.SideRight)
	m["f"] = register(t, s, m["c"], models.SideLeft)
	return m
}

func TestSubtreeDepthFirstLeftFirst(t *testing.T) {
	s, _ := newTestService(t)
	ctx := context.Background()
	m := buildTree(t, s)

	it, err := s.Subtree(ctx, m["root"].ID, models.SideLeft)
	require.NoError(t, err)
	ids, err := it.Collect(ctx)
	require.NoError(t, err)
	assert.Equal(t, []uuid.UUID{m["a"].ID, m["c"].ID, m["f"].ID, m["d"].ID}, ids)

	// restartable
	it.Reset()
	again, err := it.Collect(ctx)
	require.NoError(t, err)
	assert.Equal(t, ids, again)

	it, err = s.Subtree(ctx, m["root"].ID, models.SideRight)
	require.NoError(t, err)
	ids, err = it.Collect(ctx)
	require.NoError(t, err)
	assert.Equal(t, []uuid.UUID{m["b"].ID, m["e"].ID}, ids)

	it, err = s.Subtree(ctx, m["b"].ID, models.SideLeft)
	require.NoError(t, err)
	ids, err = it.Collect(ctx)
	require.NoError(t, err)
	assert.Empty(t, ids)

	_, err = s.Subtree(ctx, uuid.New(), models.SideLeft)
	assert.ErrorIs(t, err, ErrMemberNotFound)
}

func TestTeam(t *testing.T) {
	s, _ := newTestService(t)
	m := buildTree(t, s)

	team, err := s.Team(context.Background(), m["root"].ID)
	require.NoError(t, err)
	assert.Equal(t, &TeamSummary{Directs: 2, LeftCount: 4, RightCount: 2, TotalTeam: 6}, team)
}
