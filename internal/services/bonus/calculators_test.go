package bonus

import (
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/vedagro/backend/internal/config"
	"github.com/vedagro/backend/internal/models"
)

// unitPlan prices 1 BV at 1 paisa so amounts read as BV-equivalents
func unitPlan() *config.Plan {
	p := config.DefaultPlan()
	p.BVValue = 1
	p.KYCRequired = map[models.BonusType]bool{}
	return p
}

type treeBuilder struct {
	nodes []Node
	ids   map[string]uuid.UUID
}

func newTreeBuilder() *treeBuilder {
	return &treeBuilder{ids: map[string]uuid.UUID{}}
}

func (b *treeBuilder) add(name, sponsor string, side models.Side, active bool) *treeBuilder {
	id := uuid.New()
	b.ids[name] = id
	n := Node{ID: id, Side: side, Rank: models.RankStar, Active: active}
	if sponsor != "" {
		n.SponsorID = b.ids[sponsor]
	}
	b.nodes = append(b.nodes, n)
	return b
}

func (b *treeBuilder) build(t *testing.T) *Tree {
	t.Helper()
	tree, err := NewTree(b.nodes)
	require.NoError(t, err)
	return tree
}

func TestNewTreeRejectsInvalid(t *testing.T) {
	root := uuid.New()
	_, err := NewTree([]Node{{ID: root}, {ID: uuid.New(), SponsorID: uuid.New(), Side: models.SideLeft}})
	assert.ErrorIs(t, err, ErrInvalidTree)

	_, err = NewTree([]Node{{ID: root}, {ID: uuid.New(), SponsorID: root, Side: models.SideLeft}, {ID: uuid.New(), SponsorID: root, Side: models.SideLeft}})
	assert.ErrorIs(t, err, ErrInvalidTree)

	a, b := uuid.New(), uuid.New()
	_, err = NewTree([]Node{{ID: a, SponsorID: b, Side: models.SideLeft}, {ID: b, SponsorID: a, Side: models.SideLeft}})
	assert.ErrorIs(t, err, ErrInvalidTree)
}

func TestLegTotalsAndUpline(t *testing.T) {
	b := newTreeBuilder().
		add("root", "", "", true).
		add("a", "root", models.SideLeft, true).
		add("b", "root", models.SideRight, true).
		add("c", "a", models.SideLeft, true).
		add("d", "c", models.SideRight, true)
	tree := b.build(t)

	legs := tree.LegTotals(map[uuid.UUID]int64{b.ids["a"]: 10, b.ids["b"]: 7, b.ids["c"]: 5, b.ids["d"]: 1, b.ids["root"]: 1000})
	root, _ := tree.index[b.ids["root"]]
	assert.Equal(t, int64(16), legs.Left[root])
	assert.Equal(t, int64(7), legs.Right[root])
	a := tree.index[b.ids["a"]]
	assert.Equal(t, int64(6), legs.Left[a])
	assert.Equal(t, int64(0), legs.Right[a])

	assert.Equal(t, []uuid.UUID{b.ids["c"], b.ids["a"], b.ids["root"]}, tree.Upline(b.ids["d"], 10))
	assert.Equal(t, []uuid.UUID{b.ids["c"]}, tree.Upline(b.ids["d"], 1))
	assert.Empty(t, tree.Upline(b.ids["root"], 10))
}

func TestWelcome(t *testing.T) {
	plan := config.DefaultPlan()
	sponsor, referred := uuid.New(), uuid.New()

	credit, ok := Welcome(plan, sponsor, referred, 1000)
	require.True(t, ok)
	// 1000 BV is worth ₹4,000; 25% is ₹1,000
	assert.Equal(t, int64(100000), credit.Amount)
	assert.Equal(t, sponsor, credit.MemberID)
	assert.Equal(t, referred, *credit.SourceMemberID)
	assert.Equal(t, models.ReasonWelcomeBonus, credit.Reason)

	_, ok = Welcome(plan, sponsor, referred, 999)
	assert.False(t, ok)
}

func TestMatching(t *testing.T) {
	b := newTreeBuilder().
		add("root", "", "", true).
		add("l", "root", models.SideLeft, true).
		add("r", "root", models.SideRight, true).
		add("rr", "r", models.SideRight, false)
	tree := b.build(t)
	plan := unitPlan()

	credits, carry := Matching(plan, tree, map[uuid.UUID]int64{
		b.ids["l"]:  30000,
		b.ids["r"]:  50000,
		b.ids["rr"]: 30000,
	}, nil)

	require.Len(t, credits, 1)
	assert.Equal(t, b.ids["root"], credits[0].MemberID)
	assert.Equal(t, int64(30000), credits[0].BasisBV)
	assert.Equal(t, int64(3000), credits[0].Amount)
	assert.Nil(t, carry)
}

func TestMatchingCapAndZeroLeg(t *testing.T) {
	b := newTreeBuilder().
		add("root", "", "", true).
		add("l", "root", models.SideLeft, true).
		add("r", "root", models.SideRight, true).
		add("ll", "l", models.SideLeft, true)
	tree := b.build(t)
	plan := unitPlan()

	credits, _ := Matching(plan, tree, map[uuid.UUID]int64{
		b.ids["l"]:  80000,
		b.ids["r"]:  90000,
		b.ids["ll"]: 500,
	}, nil)

	// root matches 80500 but Star caps at 50000; l has nothing on its right leg
	require.Len(t, credits, 1)
	assert.Equal(t, int64(50000), credits[0].BasisBV)
	assert.Equal(t, int64(5000), credits[0].Amount)
}

func TestMatchingKYCGate(t *testing.T) {
	b := newTreeBuilder().
		add("root", "", "", true).
		add("l", "root", models.SideLeft, true).
		add("r", "root", models.SideRight, true)
	tree := b.build(t)
	plan := unitPlan()
	plan.KYCRequired[models.BonusMatching] = true

	credits, _ := Matching(plan, tree, map[uuid.UUID]int64{b.ids["l"]: 100, b.ids["r"]: 100}, nil)
	assert.Empty(t, credits)
}

func TestMatchingCarryForward(t *testing.T) {
	b := newTreeBuilder().
		add("root", "", "", true).
		add("l", "root", models.SideLeft, true).
		add("r", "root", models.SideRight, true)
	tree := b.build(t)
	plan := unitPlan()
	plan.Matching.CarryForward = true

	credits, carry := Matching(plan, tree, map[uuid.UUID]int64{b.ids["l"]: 1000, b.ids["r"]: 400}, nil)
	require.Len(t, credits, 1)
	assert.Equal(t, int64(40), credits[0].Amount)
	assert.Equal(t, Carry{Left: 600}, carry[b.ids["root"]])

	// next week the carried 600 pairs with new right BV
	credits, carry = Matching(plan, tree, map[uuid.UUID]int64{b.ids["r"]: 700}, carry)
	require.Len(t, credits, 1)
	assert.Equal(t, int64(600), credits[0].BasisBV)
	assert.Equal(t, Carry{Right: 100}, carry[b.ids["root"]])
}

func TestMatchingCarryKeptWhileSkipped(t *testing.T) {
	b := newTreeBuilder().
		add("root", "", "", false).
		add("l", "root", models.SideLeft, true).
		add("r", "root", models.SideRight, true)
	tree := b.build(t)
	plan := unitPlan()
	plan.Matching.CarryForward = true

	carryIn := map[uuid.UUID]Carry{b.ids["root"]: {Left: 600}}
	credits, carry := Matching(plan, tree, map[uuid.UUID]int64{b.ids["l"]: 1000, b.ids["r"]: 400}, carryIn)
	assert.Empty(t, credits)
	// the inactive root earns nothing this week and still holds last week's carry
	assert.Equal(t, Carry{Left: 600}, carry[b.ids["root"]])
}

func TestRepurchaseShortUpline(t *testing.T) {
	b := newTreeBuilder().
		add("u4", "", "", true).
		add("u3", "u4", models.SideLeft, true).
		add("u2", "u3", models.SideLeft, false).
		add("u1", "u2", models.SideRight, true).
		add("buyer", "u1", models.SideLeft, true)
	tree := b.build(t)
	plan := unitPlan()

	credits := Repurchase(plan, tree, []Purchase{{MemberID: b.ids["buyer"], OrderID: "o1", BV: 500}})
	require.Len(t, credits, 4)

	var total int64
	levels := map[uuid.UUID]int{}
	for _, c := range credits {
		assert.Equal(t, int64(50), c.Amount)
		assert.Equal(t, b.ids["buyer"], *c.SourceMemberID)
		assert.Equal(t, models.RepurchaseReason(c.Level), c.Reason)
		levels[c.MemberID] = c.Level
		total += c.Amount
	}
	// 200 paid, 300 of the 500 BV left unallocated
	assert.Equal(t, int64(200), total)
	assert.Equal(t, 1, levels[b.ids["u1"]])
	assert.Equal(t, 2, levels[b.ids["u2"]])
	assert.Equal(t, 4, levels[b.ids["u4"]])
}

func TestRepurchaseAggregatesPerLevel(t *testing.T) {
	b := newTreeBuilder().
		add("top", "", "", true).
		add("x", "top", models.SideLeft, true).
		add("y", "top", models.SideRight, true)
	tree := b.build(t)
	plan := unitPlan()

	credits := Repurchase(plan, tree, []Purchase{
		{MemberID: b.ids["x"], OrderID: "1", BV: 15},
		{MemberID: b.ids["y"], OrderID: "2", BV: 15},
		{MemberID: b.ids["x"], OrderID: "3", BV: 0},
	})
	require.Len(t, credits, 1)
	// floor(30 × 10%) on the aggregate, not floor(1.5) twice
	assert.Equal(t, int64(3), credits[0].Amount)
	assert.Nil(t, credits[0].SourceMemberID)
}

func TestRoyalty(t *testing.T) {
	b := newTreeBuilder().
		add("root", "", "", true).
		add("l", "root", models.SideLeft, true).
		add("r", "root", models.SideRight, true).
		add("ll", "l", models.SideLeft, true).
		add("lr", "l", models.SideRight, true)
	tree := b.build(t)
	plan := unitPlan()
	plan.Ranks[models.RankStar] = config.RankParams{MatchingCapBV: 50000, MatchingThresholdBV: 100, RoyaltyShareBps: 1000, RoyaltyCapBV: 1_000_000}

	month := map[uuid.UUID]int64{b.ids["l"]: 100, b.ids["r"]: 300, b.ids["ll"]: 100, b.ids["lr"]: 100}

	// root (300 vs 300) and l (100 vs 100) qualify; pool = 10% of 10000 split in two
	credits := Royalty(plan, tree, month, 10000)
	require.Len(t, credits, 2)
	for _, c := range credits {
		assert.Equal(t, int64(500), c.Amount)
		assert.Equal(t, models.ReasonRoyaltyBonus, c.Reason)
	}

	// each share is capped by the rank ceiling
	plan.Ranks[models.RankStar] = config.RankParams{MatchingThresholdBV: 100, RoyaltyShareBps: 1000, RoyaltyCapBV: 200}
	credits = Royalty(plan, tree, month, 10000)
	require.Len(t, credits, 2)
	assert.Equal(t, int64(200), credits[0].Amount)
}

func TestRoyaltyZeroCompanySales(t *testing.T) {
	b := newTreeBuilder().
		add("root", "", "", true).
		add("l", "root", models.SideLeft, true).
		add("r", "root", models.SideRight, true)
	tree := b.build(t)
	plan := unitPlan()
	plan.Ranks[models.RankStar] = config.RankParams{RoyaltyShareBps: 25, RoyaltyCapBV: 5000}

	credits := Royalty(plan, tree, nil, 0)
	require.Len(t, credits, 3)
	for _, c := range credits {
		assert.Zero(t, c.Amount)
	}
}

func TestMonthlyPurchaseOncePerMember(t *testing.T) {
	b := newTreeBuilder().
		add("m", "", "", true).
		add("n", "m", models.SideLeft, true)
	tree := b.build(t)
	plan := config.DefaultPlan()

	credits := MonthlyPurchase(plan, tree, []Purchase{
		{MemberID: b.ids["m"], OrderID: "1", BV: 10, Amount: 100000},
		{MemberID: b.ids["m"], OrderID: "2", BV: 10, Amount: 150000},
		{MemberID: b.ids["n"], OrderID: "3", BV: 10, Amount: 99999},
	})
	require.Len(t, credits, 1)
	assert.Equal(t, b.ids["m"], credits[0].MemberID)
	// 500 BV at ₹4
	assert.Equal(t, int64(200000), credits[0].Amount)

	// without an order value the BV worth is used: 250 BV × ₹4 = ₹1,000
	credits = MonthlyPurchase(plan, tree, []Purchase{{MemberID: b.ids["n"], OrderID: "4", BV: 250}})
	require.Len(t, credits, 1)
}

func TestCalculateIsDeterministic(t *testing.T) {
	b := newTreeBuilder().add("root", "", "", true)
	for i := 0; i < 6; i++ {
		parent := "root"
		if i > 1 {
			parent = []string{"c0", "c1"}[i%2]
		}
		side := models.SideLeft
		if i%2 == 1 {
			side = models.SideRight
		}
		if i > 3 {
			parent = []string{"c2", "c3"}[i%2]
		}
		b.add([]string{"c0", "c1", "c2", "c3", "c4", "c5"}[i], parent, side, true)
	}
	tree := b.build(t)
	plan := unitPlan()

	own := map[uuid.UUID]int64{}
	var purchases []Purchase
	for name, id := range b.ids {
		own[id] = 100
		purchases = append(purchases, Purchase{MemberID: id, OrderID: name, BV: 100})
	}
	snap := Snapshot{Tree: tree, OwnBV: own, Repurchases: purchases, CompanyBV: 600}

	for _, bt := range models.PeriodBonusTypes {
		first, err := Calculate(plan, bt, snap)
		require.NoError(t, err)
		second, err := Calculate(plan, bt, snap)
		require.NoError(t, err)
		assert.Equal(t, first, second, bt)
	}

	_, err := Calculate(plan, models.BonusWelcome, snap)
	assert.Error(t, err)
}
