package handlers

import (
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"github.com/vedagro/backend/internal/logger"
	"github.com/vedagro/backend/internal/models"
	"github.com/vedagro/backend/internal/period"
	"github.com/vedagro/backend/internal/services/member"
	"github.com/vedagro/backend/internal/services/payout"
	"github.com/vedagro/backend/internal/services/points"
	"github.com/vedagro/backend/internal/services/wallet"
	"github.com/vedagro/backend/internal/utils"
)

// MemberHandler serves the member panel read APIs
type MemberHandler struct {
	members *member.MemberService
	points  *points.PointService
	wallets *wallet.WalletService
	payouts *payout.Orchestrator
	log     *logrus.Entry
}

// NewMemberHandler creates a new member handler
func NewMemberHandler(members *member.MemberService, pointService *points.PointService, wallets *wallet.WalletService, payouts *payout.Orchestrator, log logrus.FieldLogger) *MemberHandler {
	return &MemberHandler{
		members: members,
		points:  pointService,
		wallets: wallets,
		payouts: payouts,
		log:     logger.Component(log, "member_api"),
	}
}

// member resolves the :id path parameter to an existing member
func (h *MemberHandler) member(c *gin.Context) (*models.Member, bool) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid member ID"})
		return nil, false
	}
	m, err := h.members.Get(c.Request.Context(), id)
	if err != nil {
		respondError(c, h.log, err)
		return nil, false
	}
	return m, true
}

// GetMember returns the member record
func (h *MemberHandler) GetMember(c *gin.Context) {
	m, ok := h.member(c)
	if !ok {
		return
	}
	c.JSON(http.StatusOK, m)
}

// GetWallets returns the five wallet balances
func (h *MemberHandler) GetWallets(c *gin.Context) {
	m, ok := h.member(c)
	if !ok {
		return
	}
	balances, err := h.wallets.Balances(c.Request.Context(), m.ID)
	if err != nil {
		respondError(c, h.log, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"memberId":         m.ID,
		"purchaseWallet":   utils.FormatMinor(balances[models.WalletPurchase]),
		"earnedWallet":     utils.FormatMinor(balances[models.WalletEarned]),
		"referralWallet":   utils.FormatMinor(balances[models.WalletReferral]),
		"repurchaseWallet": utils.FormatMinor(balances[models.WalletRepurchase]),
		"cashbackWallet":   utils.FormatMinor(balances[models.WalletCashback]),
		"minorUnits":       balances,
	})
}

// teamWindow resolves the optional ?period= query to a time range. Without it the
// whole history up to now is summed.
func teamWindow(c *gin.Context) (start, end time.Time, key string, err error) {
	key = c.Query("period")
	if key == "" {
		return time.Unix(0, 0).UTC(), time.Now().UTC().Add(time.Second), "", nil
	}
	var p period.Period
	if strings.Contains(key, "-W") {
		p, err = period.ParseWeek(key)
	} else {
		p, err = period.ParseMonth(key)
	}
	if err != nil {
		return time.Time{}, time.Time{}, "", err
	}
	return p.Start, p.End, p.Key, nil
}

// GetTeam returns team size and the BV of both legs
func (h *MemberHandler) GetTeam(c *gin.Context) {
	m, ok := h.member(c)
	if !ok {
		return
	}
	start, end, key, err := teamWindow(c)
	if err != nil {
		respondError(c, h.log, err)
		return
	}

	ctx := c.Request.Context()
	team, err := h.members.Team(ctx, m.ID)
	if err != nil {
		respondError(c, h.log, err)
		return
	}
	leftBV, err := h.points.SumBV(ctx, m.ID, models.SideLeft, start, end)
	if err != nil {
		respondError(c, h.log, err)
		return
	}
	rightBV, err := h.points.SumBV(ctx, m.ID, models.SideRight, start, end)
	if err != nil {
		respondError(c, h.log, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"directs":    team.Directs,
		"leftCount":  team.LeftCount,
		"rightCount": team.RightCount,
		"totalTeam":  team.TotalTeam,
		"leftBV":     leftBV,
		"rightBV":    rightBV,
		"period":     key,
	})
}

// GetBonuses returns net bonus income per bonus type
func (h *MemberHandler) GetBonuses(c *gin.Context) {
	m, ok := h.member(c)
	if !ok {
		return
	}
	summary, err := h.payouts.Summary(c.Request.Context(), m.ID)
	if err != nil {
		respondError(c, h.log, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"welcomeBonus":         utils.FormatMinor(summary.ByType[models.BonusWelcome]),
		"matchingBonus":        utils.FormatMinor(summary.ByType[models.BonusMatching]),
		"repurchaseBonus":      utils.FormatMinor(summary.ByType[models.BonusRepurchase]),
		"royaltyBonus":         utils.FormatMinor(summary.ByType[models.BonusRoyalty]),
		"monthlyPurchaseBonus": utils.FormatMinor(summary.ByType[models.BonusMonthlyPurchase]),
		"totalIncome":          utils.FormatMinor(summary.Total),
	})
}

// GetRankSummary returns the current rank, its promotions and the rank royalty earned
func (h *MemberHandler) GetRankSummary(c *gin.Context) {
	m, ok := h.member(c)
	if !ok {
		return
	}
	ctx := c.Request.Context()
	history, err := h.members.RankHistory(ctx, m.ID)
	if err != nil {
		respondError(c, h.log, err)
		return
	}
	summary, err := h.payouts.Summary(ctx, m.ID)
	if err != nil {
		respondError(c, h.log, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"currentRank":      m.Rank,
		"rankHistory":      history,
		"totalRankBonuses": utils.FormatMinor(summary.ByType[models.BonusRoyalty]),
	})
}

// GetPayouts returns the member's most recent bonus payouts
func (h *MemberHandler) GetPayouts(c *gin.Context) {
	m, ok := h.member(c)
	if !ok {
		return
	}
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "50"))
	payouts, err := h.payouts.Payouts(c.Request.Context(), m.ID, limit)
	if err != nil {
		respondError(c, h.log, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"payouts": payouts})
}

// GetWalletTransactions returns a page of one wallet's history
func (h *MemberHandler) GetWalletTransactions(c *gin.Context) {
	m, ok := h.member(c)
	if !ok {
		return
	}
	kind := models.WalletKind(strings.ToUpper(c.Param("kind")))
	if !kind.Valid() {
		respondError(c, h.log, fmt.Errorf("%w: %q", wallet.ErrInvalidWalletKind, c.Param("kind")))
		return
	}
	page, _ := strconv.Atoi(c.DefaultQuery("page", "1"))
	pageSize, _ := strconv.Atoi(c.DefaultQuery("page_size", "20"))

	transactions, total, err := h.wallets.History(c.Request.Context(), m.ID, kind, page, pageSize)
	if err != nil {
		respondError(c, h.log, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"transactions": transactions,
		"total":        total,
		"page":         page,
		"page_size":    pageSize,
	})
}
