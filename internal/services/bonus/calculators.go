package bonus

import (
	"fmt"
	"sort"

	"github.com/google/uuid"
	"github.com/vedagro/backend/internal/config"
	"github.com/vedagro/backend/internal/models"
)

// Credit is one gross amount owed to a member. Deductions are applied when it is posted.
type Credit struct {
	MemberID       uuid.UUID
	SourceMemberID *uuid.UUID
	Reason         models.ReasonCode
	Level          int
	BasisBV        int64
	Amount         int64 // gross paise
}

// Carry is unmatched leg BV brought into or out of a matching week
type Carry struct {
	Left  int64
	Right int64
}

// Purchase is a repurchase order as seen by the monthly calculators
type Purchase struct {
	MemberID uuid.UUID
	OrderID  string
	BV       int64
	Amount   int64 // order value in paise, 0 when unknown
}

// Snapshot is the point-in-time input of a period run
type Snapshot struct {
	Tree *Tree
	// OwnBV is each member's own BV recorded in the period
	OwnBV map[uuid.UUID]int64
	// Carry is matching carry-forward from the previous week
	Carry       map[uuid.UUID]Carry
	Repurchases []Purchase
	CompanyBV   int64
}

// Result is the output of one calculator run
type Result struct {
	Credits []Credit
	// CarryOut is stored as the run week's matching carries when non-nil
	CarryOut map[uuid.UUID]Carry
}

// Calculate dispatches to the calculator of a period bonus type
func Calculate(plan *config.Plan, t models.BonusType, snap Snapshot) (Result, error) {
	switch t {
	case models.BonusMatching:
		credits, carry := Matching(plan, snap.Tree, snap.OwnBV, snap.Carry)
		return Result{Credits: credits, CarryOut: carry}, nil
	case models.BonusRepurchase:
		return Result{Credits: Repurchase(plan, snap.Tree, snap.Repurchases)}, nil
	case models.BonusRoyalty:
		return Result{Credits: Royalty(plan, snap.Tree, snap.OwnBV, snap.CompanyBV)}, nil
	case models.BonusMonthlyPurchase:
		return Result{Credits: MonthlyPurchase(plan, snap.Tree, snap.Repurchases)}, nil
	}
	return Result{}, fmt.Errorf("no period calculator for bonus type %q", t)
}

func eligible(plan *config.Plan, t models.BonusType, n Node) bool {
	return !plan.RequiresKYC(t) || n.KYCApproved
}

// Welcome pays the sponsor a share of the referred member's qualifying first purchase.
// ok is false when the purchase is below the activation threshold.
func Welcome(plan *config.Plan, sponsorID, referredID uuid.UUID, bv int64) (Credit, bool) {
	if bv < plan.ActivationThresholdBV {
		return Credit{}, false
	}
	source := referredID
	return Credit{
		MemberID:       sponsorID,
		SourceMemberID: &source,
		Reason:         models.ReasonWelcomeBonus,
		BasisBV:        bv,
		Amount:         plan.Amount(bv, plan.WelcomeRateBps),
	}, true
}

// Matching pays each active member the plan rate of min(leftBV, rightBV) for the
// week, with matched BV capped by rank. Unmatched BV is flushed unless the plan
// enables carry-forward, in which case it is returned as the next week's carry.
// A member skipped as inactive or ineligible accrues nothing new but keeps the
// carry brought in.
func Matching(plan *config.Plan, tree *Tree, weekBV map[uuid.UUID]int64, carryIn map[uuid.UUID]Carry) ([]Credit, map[uuid.UUID]Carry) {
	legs := tree.LegTotals(weekBV)
	var credits []Credit
	var carryOut map[uuid.UUID]Carry
	if plan.Matching.CarryForward {
		carryOut = make(map[uuid.UUID]Carry)
	}

	for i := 0; i < tree.Len(); i++ {
		n := tree.Node(i)
		if !n.Active || !eligible(plan, models.BonusMatching, n) {
			if in := carryIn[n.ID]; carryOut != nil && (in.Left > 0 || in.Right > 0) {
				carryOut[n.ID] = in
			}
			continue
		}

		left, right := legs.Left[i], legs.Right[i]
		if plan.Matching.CarryForward {
			in := carryIn[n.ID]
			left += in.Left
			right += in.Right
		}

		matched := min(left, right)
		if carryOut != nil && (left-matched > 0 || right-matched > 0) {
			carryOut[n.ID] = Carry{Left: left - matched, Right: right - matched}
		}
		if matched == 0 {
			continue
		}

		paid := min(matched, plan.Rank(n.Rank).MatchingCapBV)
		amount := plan.Amount(paid, plan.Matching.RateBps)
		if amount <= 0 {
			continue
		}
		credits = append(credits, Credit{
			MemberID: n.ID,
			Reason:   models.ReasonMatchingBonus,
			BasisBV:  paid,
			Amount:   amount,
		})
	}

	sortCredits(credits)
	return credits, carryOut
}

type levelKey struct {
	member uuid.UUID
	level  int
}

// Repurchase distributes each repurchase's BV up the sponsor chain, one plan
// rate per level. A short chain leaves the remaining levels unpaid. Credits are
// aggregated per (upline member, level) for the month.
func Repurchase(plan *config.Plan, tree *Tree, purchases []Purchase) []Credit {
	basis := make(map[levelKey]int64)
	sources := make(map[levelKey]map[uuid.UUID]struct{})

	for _, p := range purchases {
		if p.BV <= 0 {
			continue
		}
		for idx, upline := range tree.Upline(p.MemberID, len(plan.RepurchaseLevelBps)) {
			key := levelKey{member: upline, level: idx + 1}
			basis[key] += p.BV
			if sources[key] == nil {
				sources[key] = make(map[uuid.UUID]struct{})
			}
			sources[key][p.MemberID] = struct{}{}
		}
	}

	credits := make([]Credit, 0, len(basis))
	for key, bv := range basis {
		n, _ := tree.Lookup(key.member)
		if !eligible(plan, models.BonusRepurchase, n) {
			continue
		}
		amount := plan.Amount(bv, plan.RepurchaseLevelBps[key.level-1])
		if amount <= 0 {
			continue
		}
		c := Credit{
			MemberID: key.member,
			Reason:   models.RepurchaseReason(key.level),
			Level:    key.level,
			BasisBV:  bv,
			Amount:   amount,
		}
		if len(sources[key]) == 1 {
			for src := range sources[key] {
				src := src
				c.SourceMemberID = &src
			}
		}
		credits = append(credits, c)
	}

	sortCredits(credits)
	return credits
}

// Royalty pools each rank's share of company BV for the month and splits it
// equally among the eligible members of that rank, each capped by the rank's
// royalty ceiling. Eligibility needs the member's matched BV for the month to
// reach the rank threshold. Zero company BV yields zero-amount credits, not none.
func Royalty(plan *config.Plan, tree *Tree, monthBV map[uuid.UUID]int64, companyBV int64) []Credit {
	legs := tree.LegTotals(monthBV)

	byRank := make(map[models.Rank][]uuid.UUID)
	for i := 0; i < tree.Len(); i++ {
		n := tree.Node(i)
		if !n.Active || !eligible(plan, models.BonusRoyalty, n) {
			continue
		}
		params := plan.Rank(n.Rank)
		if params.RoyaltyShareBps == 0 {
			continue
		}
		if min(legs.Left[i], legs.Right[i]) < params.MatchingThresholdBV {
			continue
		}
		byRank[n.Rank] = append(byRank[n.Rank], n.ID)
	}

	var credits []Credit
	for rank, members := range byRank {
		params := plan.Rank(rank)
		pool := plan.Amount(companyBV, params.RoyaltyShareBps)
		share := pool / int64(len(members))
		ceiling := plan.Value(params.RoyaltyCapBV)
		if share > ceiling {
			share = ceiling
		}
		for _, id := range members {
			credits = append(credits, Credit{
				MemberID: id,
				Reason:   models.ReasonRoyaltyBonus,
				BasisBV:  companyBV,
				Amount:   share,
			})
		}
	}

	sortCredits(credits)
	return credits
}

// MonthlyPurchase pays a fixed BV-equivalent once per member per month when
// any of the member's repurchases reaches the qualifying order value
func MonthlyPurchase(plan *config.Plan, tree *Tree, purchases []Purchase) []Credit {
	paid := make(map[uuid.UUID]bool)
	var credits []Credit

	for _, p := range purchases {
		if paid[p.MemberID] {
			continue
		}
		value := p.Amount
		if value == 0 {
			value = plan.Value(p.BV)
		}
		if value < plan.MonthlyPurchase.MinOrderAmount {
			continue
		}
		n, ok := tree.Lookup(p.MemberID)
		if !ok || !eligible(plan, models.BonusMonthlyPurchase, n) {
			continue
		}
		paid[p.MemberID] = true

		amount := plan.Value(plan.MonthlyPurchase.BonusBV)
		if amount <= 0 {
			continue
		}
		credits = append(credits, Credit{
			MemberID: p.MemberID,
			Reason:   models.ReasonMonthlyPurchaseBonus,
			BasisBV:  plan.MonthlyPurchase.BonusBV,
			Amount:   amount,
		})
	}

	sortCredits(credits)
	return credits
}

func sortCredits(credits []Credit) {
	sort.Slice(credits, func(i, j int) bool {
		a, b := credits[i], credits[j]
		if a.MemberID != b.MemberID {
			return a.MemberID.String() < b.MemberID.String()
		}
		return a.Level < b.Level
	})
}
