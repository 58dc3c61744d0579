package payout

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/vedagro/backend/internal/models"
	"gorm.io/gorm"
)

// ErrRunNotFound is returned when no run exists for a (bonus type, period)
var ErrRunNotFound = errors.New("bonus run not found")

// BonusSummary is a member's net bonus income by type
type BonusSummary struct {
	ByType map[models.BonusType]int64
	Total  int64
}

type typeTotal struct {
	BonusType models.BonusType
	Net       int64
}

// Summary sums a member's net bonus payouts by bonus type
func (o *Orchestrator) Summary(ctx context.Context, memberID uuid.UUID) (*BonusSummary, error) {
	var rows []typeTotal
	if err := o.db.WithContext(ctx).Model(&models.BonusPayout{}).
		Select("bonus_type, SUM(net) AS net").
		Where("member_id = ?", memberID).
		Group("bonus_type").
		Scan(&rows).Error; err != nil {
		return nil, fmt.Errorf("error summing payouts: %w", err)
	}

	summary := &BonusSummary{ByType: make(map[models.BonusType]int64)}
	for _, t := range append([]models.BonusType{models.BonusWelcome}, models.PeriodBonusTypes...) {
		summary.ByType[t] = 0
	}
	for _, row := range rows {
		summary.ByType[row.BonusType] = row.Net
		summary.Total += row.Net
	}
	return summary, nil
}

// Payouts lists a member's most recent payouts
func (o *Orchestrator) Payouts(ctx context.Context, memberID uuid.UUID, limit int) ([]models.BonusPayout, error) {
	if limit <= 0 || limit > 200 {
		limit = 50
	}
	var payouts []models.BonusPayout
	if err := o.db.WithContext(ctx).
		Where("member_id = ?", memberID).
		Order("created_at DESC").
		Limit(limit).
		Find(&payouts).Error; err != nil {
		return nil, fmt.Errorf("error loading payouts: %w", err)
	}
	return payouts, nil
}

// GetRun loads the run marker of one period
func (o *Orchestrator) GetRun(ctx context.Context, bonusType models.BonusType, periodKey string) (*models.BonusRun, error) {
	var run models.BonusRun
	if err := o.db.WithContext(ctx).
		Where("bonus_type = ? AND period_key = ?", bonusType, periodKey).
		First(&run).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrRunNotFound
		}
		return nil, fmt.Errorf("error loading bonus run: %w", err)
	}
	return &run, nil
}

// ListRuns returns recent runs, optionally of one bonus type
func (o *Orchestrator) ListRuns(ctx context.Context, bonusType models.BonusType, limit int) ([]models.BonusRun, error) {
	if limit <= 0 || limit > 200 {
		limit = 50
	}
	query := o.db.WithContext(ctx).Order("created_at DESC").Limit(limit)
	if bonusType != "" {
		query = query.Where("bonus_type = ?", bonusType)
	}
	var runs []models.BonusRun
	if err := query.Find(&runs).Error; err != nil {
		return nil, fmt.Errorf("error listing bonus runs: %w", err)
	}
	return runs, nil
}
