package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/sirupsen/logrus"

	"github.com/vedagro/backend/internal/app"
	"github.com/vedagro/backend/internal/config"
	"github.com/vedagro/backend/internal/database"
	"github.com/vedagro/backend/internal/handlers"
	"github.com/vedagro/backend/internal/jobs"
	"github.com/vedagro/backend/internal/logger"
	"github.com/vedagro/backend/internal/metrics"
	"github.com/vedagro/backend/internal/middleware"
	"github.com/vedagro/backend/internal/queue"
	"github.com/vedagro/backend/internal/routes"
)

func main() {
	cfg := config.LoadConfig()
	log := logger.New(cfg.LogLevel)

	// Fail fast on a broken plan file rather than on the first bonus run
	plans := config.NewPlanProvider(cfg.PlanFile)
	if _, err := plans.Plan(context.Background()); err != nil {
		log.WithError(err).Fatal("Failed to load compensation plan")
	}

	db, err := database.InitDB(cfg.Database, log)
	if err != nil {
		log.WithError(err).Fatal("Failed to initialize database")
	}

	redisClient, err := queue.NewRedisClient(context.Background(), cfg.Redis)
	if err != nil {
		log.WithError(err).Fatal("Failed to connect to Redis")
	}
	defer redisClient.Close()

	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	m := metrics.New(registry)

	svc := app.NewServices(db, plans, m, log, cfg.Payout.RunBudget)

	redisQueue := queue.NewRedisQueue(redisClient, log)
	jobProcessor := queue.NewJobProcessor(redisQueue, cfg.Payout.WorkerCount, m, log)
	jobs.RegisterAllJobHandlers(jobProcessor, svc.Payouts, log)
	jobProcessor.Start()

	scheduler := jobs.NewScheduler(redisQueue, cfg.Payout, log)
	if err := scheduler.Start(); err != nil {
		log.WithError(err).Fatal("Failed to start bonus schedule")
	}

	if cfg.Environment == "production" {
		gin.SetMode(gin.ReleaseMode)
	}
	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(logger.GinMiddleware(log))
	router.Use(cors.New(cors.Config{
		AllowOrigins:     []string{cfg.FrontendURL},
		AllowMethods:     []string{"GET", "POST", "OPTIONS"},
		AllowHeaders:     []string{"Origin", "Content-Type", "Accept", "Authorization"},
		ExposeHeaders:    []string{"Content-Length"},
		AllowCredentials: true,
		MaxAge:           12 * time.Hour,
	}))

	rateLimiter := middleware.NewRateLimiter(cfg.Server.EventRatePerSecond, cfg.Server.EventBurst)
	defer rateLimiter.Stop()

	routes.RegisterRoutes(router, cfg, routes.Handlers{
		Events:  handlers.NewEventHandler(svc.Members, svc.Points, svc.Wallets, log),
		Members: handlers.NewMemberHandler(svc.Members, svc.Points, svc.Wallets, svc.Payouts, log),
		Admin:   handlers.NewAdminHandler(svc.Payouts, redisQueue, svc.Members, svc.Wallets, log),
	}, rateLimiter, registry)

	srv := startServer(router, cfg.Server, log)

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	log.Info("Shutting down server...")

	scheduler.Stop()
	jobProcessor.Stop()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		log.WithError(err).Error("Server forced to shutdown")
	}

	log.Info("Server exiting")
}

// startServer starts the HTTP server
func startServer(router *gin.Engine, cfg config.ServerConfig, log logrus.FieldLogger) *http.Server {
	srv := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      router,
		ReadTimeout:  time.Duration(cfg.ReadTimeout) * time.Second,
		WriteTimeout: time.Duration(cfg.WriteTimeout) * time.Second,
	}

	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.WithError(err).Fatal("Failed to start server")
		}
	}()

	log.WithField("port", cfg.Port).Info("Server started")
	return srv
}
