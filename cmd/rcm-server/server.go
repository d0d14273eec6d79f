package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/labstack/echo/v4"
	echomw "github.com/labstack/echo/v4/middleware"
	"github.com/rs/zerolog"

	"github.com/MohanthTulimilli/skill-palaver-medibot/internal/config"
	"github.com/MohanthTulimilli/skill-palaver-medibot/internal/domain/risk"
	"github.com/MohanthTulimilli/skill-palaver-medibot/internal/platform/auth"
	"github.com/MohanthTulimilli/skill-palaver-medibot/internal/platform/db"
	"github.com/MohanthTulimilli/skill-palaver-medibot/internal/platform/events"
	"github.com/MohanthTulimilli/skill-palaver-medibot/internal/platform/inference"
	"github.com/MohanthTulimilli/skill-palaver-medibot/internal/platform/middleware"
	"github.com/MohanthTulimilli/skill-palaver-medibot/internal/platform/telemetry"
)

// routerDeps is everything newRouter needs beyond the config.
type routerDeps struct {
	logger   zerolog.Logger
	metrics  *telemetry.Metrics
	service  *risk.Service
	tenant   echo.MiddlewareFunc
	dbHealth echo.HandlerFunc
}

func runServer() error {
	// Logger
	logger := newLogger(os.Getenv("ENV"), os.Stdout)

	// Config
	cfg, err := config.Load()
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to load config")
	}
	if err := cfg.Validate(); err != nil {
		logger.Fatal().Err(err).Msg("invalid config")
	}

	// Database
	ctx := context.Background()
	pool, err := db.NewPool(ctx, db.PoolConfig{
		URL:      cfg.DatabaseURL,
		MaxConns: cfg.DBMaxConns,
		MinConns: cfg.DBMinConns,
	})
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to connect to database")
	}
	defer pool.Close()
	logger.Info().Msg("connected to database")

	metrics := telemetry.NewMetrics()
	metrics.RegisterPool(pool)

	publisher := newPublisher(cfg, logger, metrics)
	defer func() {
		if err := publisher.Close(); err != nil {
			logger.Warn().Err(err).Msg("event publisher close failed")
		}
	}()

	client := inference.NewClient(cfg.MLServiceURL, logger, inference.WithMetrics(metrics))
	svc := risk.NewService(risk.NewSnapshotRepoPG(pool), client, publisher, metrics, logger)

	e := newRouter(cfg, routerDeps{
		logger:   logger,
		metrics:  metrics,
		service:  svc,
		tenant:   db.TenantMiddleware(pool, cfg.DefaultTenant),
		dbHealth: db.HealthHandler(pool, cfg.DefaultTenant),
	})

	// Graceful shutdown
	go func() {
		addr := ":" + cfg.Port
		logger.Info().Str("addr", addr).Str("ml_service", cfg.MLServiceURL).Msg("starting server")
		if err := e.Start(addr); err != nil && err != http.ErrServerClosed {
			logger.Fatal().Err(err).Msg("server error")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info().Msg("shutting down server")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := e.Shutdown(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("server shutdown failed")
		return err
	}
	logger.Info().Msg("server stopped")
	return nil
}

func newPublisher(cfg *config.Config, logger zerolog.Logger, metrics *telemetry.Metrics) events.Publisher {
	if !cfg.EventsEnabled() {
		return events.NoopPublisher{}
	}
	logger.Info().Strs("brokers", cfg.KafkaBrokers).Str("topic", cfg.KafkaTopic).Msg("publishing risk.scored events")
	return events.NewKafkaPublisher(cfg.KafkaBrokers, cfg.KafkaTopic, logger, metrics)
}

func newRouter(cfg *config.Config, deps routerDeps) *echo.Echo {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	// Global middleware
	e.Use(middleware.Recovery(deps.logger))
	e.Use(middleware.RequestID())
	e.Use(middleware.Logger(deps.logger))
	e.Use(deps.metrics.MetricsMiddleware())
	e.Use(middleware.SecurityHeaders())
	e.Use(echomw.CORSWithConfig(echomw.CORSConfig{
		AllowOrigins: cfg.CORSOrigins,
		AllowMethods: []string{http.MethodGet, http.MethodPost},
		AllowHeaders: []string{"Authorization", "Content-Type", middleware.RequestIDHeader, "X-Tenant-ID"},
	}))

	// Health and metrics stay outside auth and tenant resolution
	e.GET("/health", func(c echo.Context) error {
		return c.JSON(http.StatusOK, map[string]string{
			"status":  "ok",
			"version": version,
		})
	})
	if deps.dbHealth != nil {
		e.GET("/health/db", deps.dbHealth)
	}
	if deps.metrics != nil {
		e.GET("/metrics", deps.metrics.Handler())
	}

	jwtCfg := auth.JWTConfig{
		Issuer:     cfg.AuthIssuer,
		Audience:   cfg.AuthAudience,
		SigningKey: []byte(cfg.AuthSigningKey),
	}
	authMW := auth.JWTMiddleware(jwtCfg)
	if cfg.IsDev() {
		authMW = auth.DevAuthMiddleware(jwtCfg)
	}

	rateLimitCfg := middleware.RateLimitConfig{
		RequestsPerSecond: cfg.RateLimitRPS,
		BurstSize:         cfg.RateLimitBurst,
	}
	if rateLimitCfg.RequestsPerSecond <= 0 || rateLimitCfg.BurstSize <= 0 {
		rateLimitCfg = middleware.DefaultRateLimitConfig()
	}

	// Rate limiting keys on the authenticated tenant, so it runs after auth
	apiV1 := e.Group("/api/v1", authMW, middleware.RateLimit(rateLimitCfg), middleware.BodyLimit(cfg.BodyLimit))
	if deps.tenant != nil {
		apiV1.Use(deps.tenant)
	}

	risk.NewHandler(deps.service).RegisterRoutes(apiV1)
	return e
}
