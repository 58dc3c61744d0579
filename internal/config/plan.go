package config

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sort"
	"strings"

	"github.com/shopspring/decimal"
	"github.com/vedagro/backend/internal/models"
	"gopkg.in/yaml.v3"
)

// BpsScale is 100% in basis points
const BpsScale = 10000

// ErrInvalidPlan is returned when a compensation plan fails validation
var ErrInvalidPlan = errors.New("invalid compensation plan")

// RankParams is the per-rank row of the compensation plan
type RankParams struct {
	// MatchingCapBV caps the matched BV paid per week
	MatchingCapBV int64
	// MatchingThresholdBV is the monthly matched BV required for royalty eligibility
	MatchingThresholdBV int64
	// RoyaltyShareBps is the share of company monthly BV pooled for the rank
	RoyaltyShareBps int64
	// RoyaltyCapBV caps each member's royalty, in BV
	RoyaltyCapBV int64
}

// MatchingPlan configures the binary matching bonus
type MatchingPlan struct {
	RateBps      int64
	CarryForward bool
}

// MonthlyPurchasePlan configures the monthly purchase bonus
type MonthlyPurchasePlan struct {
	// MinOrderAmount is the qualifying repurchase value in paise
	MinOrderAmount int64
	BonusBV        int64
}

// Plan is the compensation plan loaded at the start of every run. All money is
// in paise, all points in BV units and all rates in basis points.
type Plan struct {
	BVValue               int64
	ActivationThresholdBV int64
	WelcomeRateBps        int64
	Matching              MatchingPlan
	RepurchaseLevelBps    []int64
	MonthlyPurchase       MonthlyPurchasePlan
	Ranks                 map[models.Rank]RankParams
	TDSBps                int64
	AdminFeeBps           int64
	DeductionsApplyTo     map[models.BonusType]bool
	KYCRequired           map[models.BonusType]bool
}

// DefaultPlan returns the built-in plan: ₹4 per BV, 1000 BV activation, 25% welcome,
// 10% matching without carry-forward, 10 repurchase levels at 10%, 5% TDS and 10% admin fee.
func DefaultPlan() *Plan {
	levels := make([]int64, 10)
	for i := range levels {
		levels[i] = 1000
	}
	return &Plan{
		BVValue:               400,
		ActivationThresholdBV: 1000,
		WelcomeRateBps:        2500,
		Matching:              MatchingPlan{RateBps: 1000},
		RepurchaseLevelBps:    levels,
		MonthlyPurchase:       MonthlyPurchasePlan{MinOrderAmount: 100000, BonusBV: 500},
		Ranks: map[models.Rank]RankParams{
			models.RankStar:         {MatchingCapBV: 50000, MatchingThresholdBV: 10000, RoyaltyShareBps: 25, RoyaltyCapBV: 5000},
			models.RankSilver:       {MatchingCapBV: 100000, MatchingThresholdBV: 25000, RoyaltyShareBps: 50, RoyaltyCapBV: 10000},
			models.RankGold:         {MatchingCapBV: 200000, MatchingThresholdBV: 50000, RoyaltyShareBps: 100, RoyaltyCapBV: 20000},
			models.RankPlatinum:     {MatchingCapBV: 300000, MatchingThresholdBV: 100000, RoyaltyShareBps: 150, RoyaltyCapBV: 30000},
			models.RankRuby:         {MatchingCapBV: 500000, MatchingThresholdBV: 200000, RoyaltyShareBps: 200, RoyaltyCapBV: 50000},
			models.RankEmerald:      {MatchingCapBV: 750000, MatchingThresholdBV: 400000, RoyaltyShareBps: 300, RoyaltyCapBV: 75000},
			models.RankDiamond:      {MatchingCapBV: 1000000, MatchingThresholdBV: 800000, RoyaltyShareBps: 400, RoyaltyCapBV: 100000},
			models.RankBlueDiamond:  {MatchingCapBV: 1500000, MatchingThresholdBV: 1500000, RoyaltyShareBps: 500, RoyaltyCapBV: 150000},
			models.RankBlackDiamond: {MatchingCapBV: 2500000, MatchingThresholdBV: 3000000, RoyaltyShareBps: 1000, RoyaltyCapBV: 250000},
			models.RankCrownDiamond: {MatchingCapBV: 5000000, MatchingThresholdBV: 6000000, RoyaltyShareBps: 1500, RoyaltyCapBV: 500000},
		},
		TDSBps:      500,
		AdminFeeBps: 1000,
		DeductionsApplyTo: map[models.BonusType]bool{
			models.BonusMatching:        true,
			models.BonusRepurchase:      true,
			models.BonusRoyalty:         true,
			models.BonusMonthlyPurchase: true,
		},
		KYCRequired: map[models.BonusType]bool{
			models.BonusMatching: true,
			models.BonusRoyalty:  true,
		},
	}
}

// Value converts BV to paise
func (p *Plan) Value(bv int64) int64 {
	return bv * p.BVValue
}

// Amount returns floor(bv × bv_value × bps / 10000)
func (p *Plan) Amount(bv, bps int64) int64 {
	return p.Value(bv) * bps / BpsScale
}

// Rank returns the parameters of r, falling back to the lowest rank's row
func (p *Plan) Rank(r models.Rank) RankParams {
	if params, ok := p.Ranks[r]; ok {
		return params
	}
	return p.Ranks[models.LowestRank]
}

// RequiresKYC reports whether payouts of t are withheld until KYC approval
func (p *Plan) RequiresKYC(t models.BonusType) bool {
	return p.KYCRequired[t]
}

// Deductions splits a gross amount into TDS, admin fee and net for bonus type t
func (p *Plan) Deductions(t models.BonusType, gross int64) (tds, adminFee, net int64) {
	if !p.DeductionsApplyTo[t] || gross <= 0 {
		return 0, 0, gross
	}
	tds = gross * p.TDSBps / BpsScale
	adminFee = gross * p.AdminFeeBps / BpsScale
	return tds, adminFee, gross - tds - adminFee
}

// Validate checks the plan for values the calculators cannot work with
func (p *Plan) Validate() error {
	if p.BVValue <= 0 {
		return fmt.Errorf("%w: bv_value must be positive", ErrInvalidPlan)
	}
	if p.ActivationThresholdBV <= 0 {
		return fmt.Errorf("%w: activation_threshold_bv must be positive", ErrInvalidPlan)
	}
	rates := map[string]int64{
		"welcome_rate":  p.WelcomeRateBps,
		"matching.rate": p.Matching.RateBps,
		"tds":           p.TDSBps,
		"admin_fee":     p.AdminFeeBps,
	}
	for name, bps := range rates {
		if bps < 0 || bps > BpsScale {
			return fmt.Errorf("%w: %s out of range", ErrInvalidPlan, name)
		}
	}
	if p.TDSBps+p.AdminFeeBps > BpsScale {
		return fmt.Errorf("%w: deductions exceed 100%%", ErrInvalidPlan)
	}
	if len(p.RepurchaseLevelBps) > 10 {
		return fmt.Errorf("%w: at most 10 repurchase levels", ErrInvalidPlan)
	}
	var total int64
	for i, bps := range p.RepurchaseLevelBps {
		if bps < 0 {
			return fmt.Errorf("%w: repurchase level %d is negative", ErrInvalidPlan, i+1)
		}
		total += bps
	}
	if total > BpsScale {
		return fmt.Errorf("%w: repurchase levels distribute more than 100%%", ErrInvalidPlan)
	}
	if p.MonthlyPurchase.MinOrderAmount < 0 || p.MonthlyPurchase.BonusBV < 0 {
		return fmt.Errorf("%w: monthly_purchase values must not be negative", ErrInvalidPlan)
	}
	if _, ok := p.Ranks[models.LowestRank]; !ok {
		return fmt.Errorf("%w: rank %s missing", ErrInvalidPlan, models.LowestRank)
	}
	for rank, params := range p.Ranks {
		if !rank.Valid() {
			return fmt.Errorf("%w: unknown rank %d", ErrInvalidPlan, int(rank))
		}
		if params.MatchingCapBV < 0 || params.MatchingThresholdBV < 0 || params.RoyaltyCapBV < 0 ||
			params.RoyaltyShareBps < 0 || params.RoyaltyShareBps > BpsScale {
			return fmt.Errorf("%w: rank %s has out of range values", ErrInvalidPlan, rank)
		}
	}
	return nil
}

// PlanProvider supplies the plan for a run. Runs call it once at start, so a
// file-backed provider picks up edits without a restart.
type PlanProvider interface {
	Plan(ctx context.Context) (*Plan, error)
}

// StaticPlan always returns the same plan
type StaticPlan struct {
	P *Plan
}

func (s StaticPlan) Plan(ctx context.Context) (*Plan, error) {
	return s.P, nil
}

// FilePlan reads the plan from a YAML file on every call
type FilePlan struct {
	Path string
}

func (f FilePlan) Plan(ctx context.Context) (*Plan, error) {
	return LoadPlan(f.Path)
}

// NewPlanProvider returns a FilePlan for a non-empty path and the default plan otherwise
func NewPlanProvider(path string) PlanProvider {
	if path == "" {
		return StaticPlan{P: DefaultPlan()}
	}
	return FilePlan{Path: path}
}

// LoadPlan reads a YAML plan. Keys missing from the file keep their default values;
// a rank row given in the file replaces the default row as a whole.
func LoadPlan(path string) (*Plan, error) {
	if path == "" {
		return DefaultPlan(), nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("error reading plan file: %w", err)
	}
	return ParsePlan(data)
}

// ParsePlan decodes a YAML plan document over the default plan
func ParsePlan(data []byte) (*Plan, error) {
	file := planToFile(DefaultPlan())
	// rank rows are merged after parsing so "gold" and "GOLD" name the same row
	file.Ranks = nil
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("error parsing plan: %w", err)
	}
	plan, err := file.toPlan()
	if err != nil {
		return nil, err
	}
	if err := plan.Validate(); err != nil {
		return nil, err
	}
	return plan, nil
}

// YAML encodes the plan in the file format accepted by ParsePlan
func (p *Plan) YAML() ([]byte, error) {
	return yaml.Marshal(planToFile(p))
}

// Percent is a rate written as "12.5%" in plan files
type Percent string

// ParsePercent converts "12.5%" (or "12.5") to basis points. More precision than
// a basis point is rejected rather than rounded.
func ParsePercent(s string) (int64, error) {
	trimmed := strings.TrimSpace(strings.TrimSuffix(strings.TrimSpace(s), "%"))
	d, err := decimal.NewFromString(trimmed)
	if err != nil {
		return 0, fmt.Errorf("%w: bad percentage %q", ErrInvalidPlan, s)
	}
	bps := d.Shift(2)
	if !bps.Equal(bps.Truncate(0)) {
		return 0, fmt.Errorf("%w: percentage %q is finer than a basis point", ErrInvalidPlan, s)
	}
	return bps.IntPart(), nil
}

// FormatPercent renders basis points as a percentage string
func FormatPercent(bps int64) Percent {
	return Percent(decimal.New(bps, -2).String() + "%")
}

type rankFile struct {
	MatchingCapBV       int64   `yaml:"matching_cap_bv"`
	MatchingThresholdBV int64   `yaml:"matching_threshold_bv"`
	RoyaltyShare        Percent `yaml:"royalty_share"`
	RoyaltyCapBV        int64   `yaml:"royalty_cap_bv"`
}

type planFile struct {
	BVValue               int64   `yaml:"bv_value"`
	ActivationThresholdBV int64   `yaml:"activation_threshold_bv"`
	WelcomeRate           Percent `yaml:"welcome_rate"`
	Matching              struct {
		Rate         Percent `yaml:"rate"`
		CarryForward bool    `yaml:"carry_forward"`
	} `yaml:"matching"`
	RepurchaseLevels []Percent `yaml:"repurchase_levels"`
	MonthlyPurchase  struct {
		MinOrderAmount int64 `yaml:"min_order_amount"`
		BonusBV        int64 `yaml:"bonus_bv"`
	} `yaml:"monthly_purchase"`
	Ranks      map[string]rankFile `yaml:"ranks"`
	Deductions struct {
		TDS      Percent            `yaml:"tds"`
		AdminFee Percent            `yaml:"admin_fee"`
		ApplyTo  []models.BonusType `yaml:"apply_to"`
	} `yaml:"deductions"`
	KYCRequired []models.BonusType `yaml:"kyc_required"`
}

func planToFile(p *Plan) planFile {
	var f planFile
	f.BVValue = p.BVValue
	f.ActivationThresholdBV = p.ActivationThresholdBV
	f.WelcomeRate = FormatPercent(p.WelcomeRateBps)
	f.Matching.Rate = FormatPercent(p.Matching.RateBps)
	f.Matching.CarryForward = p.Matching.CarryForward
	for _, bps := range p.RepurchaseLevelBps {
		f.RepurchaseLevels = append(f.RepurchaseLevels, FormatPercent(bps))
	}
	f.MonthlyPurchase.MinOrderAmount = p.MonthlyPurchase.MinOrderAmount
	f.MonthlyPurchase.BonusBV = p.MonthlyPurchase.BonusBV
	f.Ranks = make(map[string]rankFile, len(p.Ranks))
	for rank, params := range p.Ranks {
		f.Ranks[rank.String()] = rankFile{
			MatchingCapBV:       params.MatchingCapBV,
			MatchingThresholdBV: params.MatchingThresholdBV,
			RoyaltyShare:        FormatPercent(params.RoyaltyShareBps),
			RoyaltyCapBV:        params.RoyaltyCapBV,
		}
	}
	f.Deductions.TDS = FormatPercent(p.TDSBps)
	f.Deductions.AdminFee = FormatPercent(p.AdminFeeBps)
	f.Deductions.ApplyTo = sortedTypes(p.DeductionsApplyTo)
	f.KYCRequired = sortedTypes(p.KYCRequired)
	return f
}

func (f planFile) toPlan() (*Plan, error) {
	p := &Plan{
		BVValue:               f.BVValue,
		ActivationThresholdBV: f.ActivationThresholdBV,
		Matching:              MatchingPlan{CarryForward: f.Matching.CarryForward},
		MonthlyPurchase: MonthlyPurchasePlan{
			MinOrderAmount: f.MonthlyPurchase.MinOrderAmount,
			BonusBV:        f.MonthlyPurchase.BonusBV,
		},
		Ranks:             DefaultPlan().Ranks,
		DeductionsApplyTo: make(map[models.BonusType]bool),
		KYCRequired:       make(map[models.BonusType]bool),
	}

	var err error
	if p.WelcomeRateBps, err = ParsePercent(string(f.WelcomeRate)); err != nil {
		return nil, err
	}
	if p.Matching.RateBps, err = ParsePercent(string(f.Matching.Rate)); err != nil {
		return nil, err
	}
	if p.TDSBps, err = ParsePercent(string(f.Deductions.TDS)); err != nil {
		return nil, err
	}
	if p.AdminFeeBps, err = ParsePercent(string(f.Deductions.AdminFee)); err != nil {
		return nil, err
	}
	for _, level := range f.RepurchaseLevels {
		bps, err := ParsePercent(string(level))
		if err != nil {
			return nil, err
		}
		p.RepurchaseLevelBps = append(p.RepurchaseLevelBps, bps)
	}
	for name, row := range f.Ranks {
		rank, err := models.ParseRank(name)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrInvalidPlan, err)
		}
		share, err := ParsePercent(string(row.RoyaltyShare))
		if err != nil {
			return nil, err
		}
		p.Ranks[rank] = RankParams{
			MatchingCapBV:       row.MatchingCapBV,
			MatchingThresholdBV: row.MatchingThresholdBV,
			RoyaltyShareBps:     share,
			RoyaltyCapBV:        row.RoyaltyCapBV,
		}
	}
	for _, t := range f.Deductions.ApplyTo {
		if !t.Valid() {
			return nil, fmt.Errorf("%w: unknown bonus type %q in deductions.apply_to", ErrInvalidPlan, t)
		}
		p.DeductionsApplyTo[t] = true
	}
	for _, t := range f.KYCRequired {
		if !t.Valid() {
			return nil, fmt.Errorf("%w: unknown bonus type %q in kyc_required", ErrInvalidPlan, t)
		}
		p.KYCRequired[t] = true
	}
	return p, nil
}

func sortedTypes(set map[models.BonusType]bool) []models.BonusType {
	out := make([]models.BonusType, 0, len(set))
	for t, on := range set {
		if on {
			out = append(out, t)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}
