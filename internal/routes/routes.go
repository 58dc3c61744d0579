package routes

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/vedagro/backend/internal/config"
	"github.com/vedagro/backend/internal/handlers"
	"github.com/vedagro/backend/internal/middleware"
)

// Handlers groups the HTTP handlers mounted by RegisterRoutes
type Handlers struct {
	Events  *handlers.EventHandler
	Members *handlers.MemberHandler
	Admin   *handlers.AdminHandler
}

// RegisterRoutes configures all API routes
func RegisterRoutes(router *gin.Engine, cfg *config.Config, h Handlers, rateLimiter *middleware.RateLimiter, gatherer prometheus.Gatherer) {
	router.Use(middleware.SecureHeadersMiddleware(middleware.DefaultSecureHeadersConfig(cfg.Environment)))

	router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	router.GET("/metrics", gin.WrapH(promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})))

	RegisterEventRoutes(router, cfg, h.Events, rateLimiter)
	RegisterMemberRoutes(router, cfg, h.Members)
	RegisterAdminRoutes(router, cfg, h.Admin)
}

// RegisterEventRoutes registers the signed service-to-service event endpoints
func RegisterEventRoutes(router *gin.Engine, cfg *config.Config, events *handlers.EventHandler, rateLimiter *middleware.RateLimiter) {
	eventGroup := router.Group("/api")
	eventGroup.Use(rateLimiter.IPRateLimiterMiddleware(), middleware.ServiceSignature(cfg.Auth.ServiceSecret))
	{
		eventGroup.POST("/events/register", events.Register)
		eventGroup.POST("/events/order-settled", events.OrderSettled)
		eventGroup.POST("/events/kyc-approved", events.KYCApproved)
		eventGroup.POST("/wallets/debit", events.OrderDebit)
	}
}

// RegisterMemberRoutes registers the member panel read endpoints
func RegisterMemberRoutes(router *gin.Engine, cfg *config.Config, members *handlers.MemberHandler) {
	memberGroup := router.Group("/api/members/:id")
	memberGroup.Use(middleware.AuthMiddleware(cfg.Auth.JWTSecret), middleware.SelfOrAdmin())
	{
		memberGroup.GET("", members.GetMember)
		memberGroup.GET("/wallets", members.GetWallets)
		memberGroup.GET("/wallets/:kind/transactions", members.GetWalletTransactions)
		memberGroup.GET("/team", members.GetTeam)
		memberGroup.GET("/bonuses", members.GetBonuses)
		memberGroup.GET("/payouts", members.GetPayouts)
		memberGroup.GET("/rank-summary", members.GetRankSummary)
	}
}

// RegisterAdminRoutes registers operator endpoints
func RegisterAdminRoutes(router *gin.Engine, cfg *config.Config, admin *handlers.AdminHandler) {
	adminGroup := router.Group("/api/admin")
	adminGroup.Use(middleware.AuthMiddleware(cfg.Auth.JWTSecret), middleware.AdminMiddleware())
	{
		adminGroup.POST("/bonus-runs", admin.TriggerRun)
		adminGroup.GET("/bonus-runs", admin.ListRuns)
		adminGroup.GET("/bonus-runs/:type/:period", admin.GetRun)
		adminGroup.POST("/members/:id/rank", admin.PromoteRank)
		adminGroup.POST("/members/:id/wallets/:kind/adjust", admin.AdjustWallet)
		adminGroup.GET("/members/:id/wallets/reconcile", admin.ReconcileMember)
		adminGroup.GET("/wallets/mismatches", admin.Mismatches)
	}
}
