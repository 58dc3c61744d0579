package handlers

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"github.com/vedagro/backend/internal/logger"
	"github.com/vedagro/backend/internal/models"
	"github.com/vedagro/backend/internal/services/member"
	"github.com/vedagro/backend/internal/services/points"
	"github.com/vedagro/backend/internal/services/wallet"
	"github.com/vedagro/backend/internal/utils"
)

// EventHandler receives events from the checkout and KYC services
type EventHandler struct {
	members *member.MemberService
	points  *points.PointService
	wallets *wallet.WalletService
	log     *logrus.Entry
}

// NewEventHandler creates a new event handler
func NewEventHandler(members *member.MemberService, pointService *points.PointService, wallets *wallet.WalletService, log logrus.FieldLogger) *EventHandler {
	return &EventHandler{
		members: members,
		points:  pointService,
		wallets: wallets,
		log:     logger.Component(log, "events"),
	}
}

type registerRequest struct {
	SponsorID *uuid.UUID  `json:"sponsorId"`
	Side      models.Side `json:"side"`
}

// Register places a new member under a sponsor. Without a sponsor it creates the root.
func (h *EventHandler) Register(c *gin.Context) {
	var input registerRequest
	if err := c.ShouldBindJSON(&input); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	m, err := h.members.RegisterMember(c.Request.Context(), input.SponsorID, input.Side)
	if err != nil {
		respondError(c, h.log, err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{"memberId": m.ID, "member": m})
}

type orderSettledRequest struct {
	MemberID   uuid.UUID     `json:"memberId" binding:"required"`
	OrderID    string        `json:"orderId" binding:"required"`
	PV         int64         `json:"pv"`
	BV         int64         `json:"bv"`
	RP         int64         `json:"rp"`
	Amount     int64         `json:"amount"`
	Flavor     models.Flavor `json:"flavor" binding:"required"`
	OccurredAt *time.Time    `json:"occurredAt"`
}

// OrderSettled records the points of a settled order
func (h *EventHandler) OrderSettled(c *gin.Context) {
	var input orderSettledRequest
	if err := c.ShouldBindJSON(&input); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	in := points.RecordPointsInput{
		MemberID: input.MemberID,
		OrderID:  input.OrderID,
		PV:       input.PV,
		BV:       input.BV,
		RP:       input.RP,
		Amount:   input.Amount,
		Flavor:   input.Flavor,
	}
	if input.OccurredAt != nil {
		in.OccurredAt = *input.OccurredAt
	}

	res, err := h.points.RecordPoints(c.Request.Context(), in)
	if err != nil {
		respondError(c, h.log, err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{"event": res.Event, "activated": res.Activated})
}

type kycApprovedRequest struct {
	MemberID uuid.UUID `json:"memberId" binding:"required"`
}

// KYCApproved marks a member's KYC as approved
func (h *EventHandler) KYCApproved(c *gin.Context) {
	var input kycApprovedRequest
	if err := c.ShouldBindJSON(&input); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	m, err := h.members.ApproveKYC(c.Request.Context(), input.MemberID)
	if err != nil {
		respondError(c, h.log, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"member": m})
}

type orderDebitRequest struct {
	MemberID uuid.UUID `json:"memberId" binding:"required"`
	OrderID  string    `json:"orderId" binding:"required"`
	Amount   int64     `json:"amount" binding:"required"`
}

// OrderDebit pays for an order from the member's PURCHASE wallet.
// A shortfall answers 402 so checkout can fall back to cash on delivery.
func (h *EventHandler) OrderDebit(c *gin.Context) {
	var input orderDebitRequest
	if err := c.ShouldBindJSON(&input); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	txn, err := h.wallets.Debit(c.Request.Context(), wallet.Posting{
		MemberID:    input.MemberID,
		Kind:        models.WalletPurchase,
		Amount:      input.Amount,
		Reason:      models.ReasonOrderDebit,
		RelatedID:   input.OrderID,
		Description: "order " + input.OrderID,
	})
	if err != nil {
		respondError(c, h.log, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"transaction": txn,
		"balance":     utils.FormatMinor(txn.BalanceAfter),
	})
}
