// 7 Cycles API server.
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/jackc/pgx/v5/pgxpool"
	"golang.org/x/time/rate"

	"github.com/bxt-team/sevencycles/internal/agents"
	"github.com/bxt-team/sevencycles/internal/ai"
	"github.com/bxt-team/sevencycles/internal/analytics"
	"github.com/bxt-team/sevencycles/internal/auth"
	"github.com/bxt-team/sevencycles/internal/billing"
	"github.com/bxt-team/sevencycles/internal/cache"
	"github.com/bxt-team/sevencycles/internal/config"
	"github.com/bxt-team/sevencycles/internal/db"
	"github.com/bxt-team/sevencycles/internal/handlers"
	"github.com/bxt-team/sevencycles/internal/instagram"
	"github.com/bxt-team/sevencycles/internal/ledger"
	"github.com/bxt-team/sevencycles/internal/logging"
	"github.com/bxt-team/sevencycles/internal/metrics"
	"github.com/bxt-team/sevencycles/internal/middleware"
	"github.com/bxt-team/sevencycles/internal/payments"
	"github.com/bxt-team/sevencycles/internal/video"
	"github.com/bxt-team/sevencycles/internal/worker"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "config: %v\n", err)
		os.Exit(1)
	}

	logging.Init()
	defer logging.Sync()
	log := logging.S()
	log.Infow("starting 7 Cycles API", "environment", cfg.Environment, "port", cfg.Port)

	if cfg.IsProduction() {
		gin.SetMode(gin.ReleaseMode)
	}

	// Database
	database, err := db.NewDatabase(cfg.PostgresDSN())
	if err != nil {
		log.Fatalw("database connection failed", "error", err)
	}
	defer database.Close()

	if err := database.Migrate(); err != nil {
		log.Fatalw("migration failed", "error", err)
	}

	// Redis is optional; scheduler locks and cache degrade without it.
	var redisClient *db.RedisClient
	if cfg.RedisURL != "" {
		redisClient, err = db.NewRedisClient(cfg.RedisURL)
		if err != nil {
			log.Warnw("redis unavailable, using in-process fallbacks", "error", err)
		} else {
			defer redisClient.Close()
		}
	}

	var cacheBackend cache.Backend
	var locker agents.Locker = singleNodeLocker{}
	if redisClient != nil {
		cacheBackend = redisClient
		locker = redisClient
	}
	appCache := cache.New(cacheBackend, 30*time.Second)

	// AI providers
	var aiClients []ai.Client
	if cfg.AnthropicAPIKey != "" {
		aiClients = append(aiClients, ai.NewAnthropicClient(cfg.AnthropicAPIKey))
	}
	var openaiClient *ai.OpenAIClient
	if cfg.OpenAIAPIKey != "" {
		openaiClient = ai.NewOpenAIClient(cfg.OpenAIAPIKey)
		aiClients = append(aiClients, openaiClient)
	}
	if cfg.GeminiAPIKey != "" {
		gemini, err := ai.NewGeminiClient(context.Background(), cfg.GeminiAPIKey)
		if err != nil {
			log.Warnw("gemini client failed to initialize", "error", err)
		} else {
			aiClients = append(aiClients, gemini)
		}
	}
	if len(aiClients) == 0 {
		log.Warn("no AI provider configured, content generation will fail")
	}
	aiRouter := ai.NewRouter(ai.DefaultRouterConfig(), aiClients...)
	defer aiRouter.Close()

	// Core services
	creditLedger := ledger.New(database.DB)
	billingSvc := billing.NewService(database.DB)
	authSvc := auth.NewAuthService(cfg.JWTSecret, cfg.TokenExpiry, cfg.RefreshExpiry)
	stripeSvc := payments.NewStripeService(database.DB, creditLedger, cfg.StripeSecretKey, cfg.StripeWebhookSecret)

	var images agents.ImageGenerator
	if openaiClient != nil {
		images = openaiClient
	}
	videoClient := video.NewClient(cfg.KlingAPIKey)

	var igClient *instagram.Client
	if cfg.InstagramAppID != "" {
		igClient = instagram.NewClient(cfg.InstagramAppID, cfg.InstagramAppSecret, cfg.InstagramRedirect)
	}
	publisher := instagram.NewPublisher(database.DB, igClient)

	agentSvc := agents.NewService(database.DB, aiRouter, images, videoClient, creditLedger)
	runner := agents.NewRunner(database.DB, agentSvc)
	scheduler := agents.NewScheduler(database.DB, publisher, locker)

	// Background job queue: river on postgres, inline otherwise.
	var pool *pgxpool.Pool
	if cfg.WorkerEnabled && cfg.DatabaseURL != "" {
		pool, err = pgxpool.New(context.Background(), cfg.DatabaseURL)
		if err != nil {
			log.Warnw("pgx pool unavailable, workflow runs execute inline", "error", err)
			pool = nil
		} else {
			defer pool.Close()
			if err := worker.Migrate(context.Background(), pool); err != nil {
				log.Fatalw("queue migration failed", "error", err)
			}
		}
	}
	queue, err := worker.New(pool, runner, cfg.WorkerCount)
	if err != nil {
		log.Fatalw("queue setup failed", "error", err)
	}
	if err := queue.Start(context.Background()); err != nil {
		log.Fatalw("queue start failed", "error", err)
	}

	go scheduler.Run()

	sqlDB, _ := database.DB.DB()
	poolStats := metrics.NewPoolCollector(sqlDB, 15*time.Second)
	poolStats.Start()

	// HTTP
	h := handlers.NewHandler(database, authSvc, agentSvc, runner, scheduler, queue,
		creditLedger, billingSvc, stripeSvc, igClient, publisher,
		analytics.NewFetcher(), appCache)

	router := gin.New()
	router.Use(
		middleware.RequestID(),
		middleware.Logger(),
		middleware.Recovery(),
		middleware.Security(),
		middleware.CORS(nil),
		middleware.RateLimit(middleware.NewIPRateLimiter(rate.Limit(10), 30)),
		metrics.PrometheusMiddleware(),
	)
	router.GET("/metrics", metrics.PrometheusHandler())
	h.RegisterRoutes(router)

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Port),
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errs := make(chan error, 1)
	go func() {
		log.Infow("listening", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errs <- err
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-errs:
		log.Fatalw("server failed", "error", err)
	case sig := <-quit:
		log.Infow("shutting down", "signal", sig.String())
	}

	scheduler.Stop()
	poolStats.Stop()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := queue.Stop(ctx); err != nil {
		log.Warnw("queue stop", "error", err)
	}
	if err := srv.Shutdown(ctx); err != nil {
		log.Errorw("shutdown failed", "error", err)
	}
	log.Info("stopped")
}

// singleNodeLocker always grants the lock. Used when Redis is not
// configured and only one replica runs.
type singleNodeLocker struct{}

func (singleNodeLocker) SetNX(context.Context, string, interface{}, time.Duration) (bool, error) {
	return true, nil
}
