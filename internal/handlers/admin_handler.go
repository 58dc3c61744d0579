package handlers

import (
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"github.com/vedagro/backend/internal/jobs"
	"github.com/vedagro/backend/internal/logger"
	"github.com/vedagro/backend/internal/models"
	"github.com/vedagro/backend/internal/services/member"
	"github.com/vedagro/backend/internal/services/payout"
	"github.com/vedagro/backend/internal/services/wallet"
	"github.com/vedagro/backend/internal/utils"
)

// AdminHandler handles operator requests: bonus runs, rank promotion and wallet adjustments
type AdminHandler struct {
	payouts *payout.Orchestrator
	queue   jobs.Enqueuer
	members *member.MemberService
	wallets *wallet.WalletService
	log     *logrus.Entry
}

// NewAdminHandler creates a new admin handler. queue may be nil, in which case
// runs are always executed inline.
func NewAdminHandler(payouts *payout.Orchestrator, q jobs.Enqueuer, members *member.MemberService, wallets *wallet.WalletService, log logrus.FieldLogger) *AdminHandler {
	return &AdminHandler{
		payouts: payouts,
		queue:   q,
		members: members,
		wallets: wallets,
		log:     logger.Component(log, "admin_api"),
	}
}

type triggerRunRequest struct {
	BonusType models.BonusType `json:"bonusType" binding:"required"`
	PeriodKey string           `json:"periodKey" binding:"required"`
	Async     bool             `json:"async"`
}

// TriggerRun runs, or queues, one bonus period
func (h *AdminHandler) TriggerRun(c *gin.Context) {
	var input triggerRunRequest
	if err := c.ShouldBindJSON(&input); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	input.BonusType = models.BonusType(strings.ToUpper(string(input.BonusType)))

	if input.Async && h.queue != nil {
		jobID, err := jobs.EnqueueBonusRun(c.Request.Context(), h.queue, input.BonusType, input.PeriodKey)
		if err != nil {
			respondError(c, h.log, err)
			return
		}
		c.JSON(http.StatusAccepted, gin.H{"jobId": jobID})
		return
	}

	run, err := h.payouts.RunPeriod(c.Request.Context(), input.BonusType, input.PeriodKey)
	if err != nil {
		if errors.Is(err, payout.ErrRunAlreadyCompleted) {
			c.JSON(http.StatusConflict, gin.H{"error": err.Error(), "run": run})
			return
		}
		respondError(c, h.log, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"run": run})
}

// GetRun returns the run marker of one period
func (h *AdminHandler) GetRun(c *gin.Context) {
	bonusType := models.BonusType(strings.ToUpper(c.Param("type")))
	run, err := h.payouts.GetRun(c.Request.Context(), bonusType, c.Param("period"))
	if err != nil {
		respondError(c, h.log, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"run": run})
}

// ListRuns returns recent runs, optionally filtered by ?type=
func (h *AdminHandler) ListRuns(c *gin.Context) {
	bonusType := models.BonusType(strings.ToUpper(c.Query("type")))
	if bonusType != "" && !bonusType.Valid() {
		respondError(c, h.log, fmt.Errorf("%w: %q", payout.ErrUnknownBonusType, bonusType))
		return
	}
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "50"))
	runs, err := h.payouts.ListRuns(c.Request.Context(), bonusType, limit)
	if err != nil {
		respondError(c, h.log, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"runs": runs})
}

type promoteRankRequest struct {
	Rank models.Rank `json:"rank" binding:"required"`
}

// PromoteRank moves a member up the rank ladder
func (h *AdminHandler) PromoteRank(c *gin.Context) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid member ID"})
		return
	}
	var input promoteRankRequest
	if err := c.ShouldBindJSON(&input); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	m, err := h.members.PromoteRank(c.Request.Context(), id, input.Rank)
	if err != nil {
		respondError(c, h.log, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"member": m})
}

type adjustWalletRequest struct {
	Amount       int64  `json:"amount"`       // paise
	AmountRupees string `json:"amountRupees"` // e.g. "1250.50"; replaces amount
	Direction    string `json:"direction" binding:"required,oneof=credit debit"`
	Description  string `json:"description"`
	Reference    string `json:"reference"`
}

// AdjustWallet posts a manual credit or debit, e.g. a goodwill credit or a clawback
func (h *AdminHandler) AdjustWallet(c *gin.Context) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid member ID"})
		return
	}
	var input adjustWalletRequest
	if err := c.ShouldBindJSON(&input); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	amount := input.Amount
	if input.AmountRupees != "" {
		if input.Amount != 0 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "send amount or amountRupees, not both"})
			return
		}
		parsed, ok := utils.ParseMinor(input.AmountRupees)
		if !ok {
			c.JSON(http.StatusBadRequest, gin.H{"error": "amountRupees must be a rupee amount with at most two decimals"})
			return
		}
		amount = parsed
	}
	if input.Reference == "" {
		input.Reference = utils.GenerateReference("ADJ")
	}

	posting := wallet.Posting{
		MemberID:    id,
		Kind:        models.WalletKind(strings.ToUpper(c.Param("kind"))),
		Amount:      amount,
		Reason:      models.ReasonAdminAdjustment,
		RelatedID:   input.Reference,
		Description: input.Description,
	}

	var txn *models.WalletTransaction
	if input.Direction == "debit" {
		txn, err = h.wallets.Debit(c.Request.Context(), posting)
	} else {
		txn, err = h.wallets.Credit(c.Request.Context(), posting)
	}
	if err != nil {
		respondError(c, h.log, err)
		return
	}

	h.log.WithFields(logrus.Fields{
		"member_id": id,
		"wallet":    posting.Kind,
		"amount":    txn.Amount,
		"reference": input.Reference,
	}).Warn("manual wallet adjustment")
	c.JSON(http.StatusOK, gin.H{"transaction": txn})
}

// ReconcileMember compares every cached wallet balance of a member with its transaction log
func (h *AdminHandler) ReconcileMember(c *gin.Context) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid member ID"})
		return
	}

	results := make([]*wallet.Reconciliation, 0, len(models.WalletKinds))
	for _, kind := range models.WalletKinds {
		r, err := h.wallets.Reconcile(c.Request.Context(), id, kind)
		if err != nil {
			respondError(c, h.log, err)
			return
		}
		results = append(results, r)
	}
	c.JSON(http.StatusOK, gin.H{"wallets": results})
}

// Mismatches lists every wallet whose cached balance disagrees with its transactions
func (h *AdminHandler) Mismatches(c *gin.Context) {
	mismatches, err := h.wallets.Mismatches(c.Request.Context())
	if err != nil {
		respondError(c, h.log, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"mismatches": mismatches})
}
