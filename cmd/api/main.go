package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/getsentry/sentry-go"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/BradenHooton/gatekeeper/internal/auth"
	"github.com/BradenHooton/gatekeeper/internal/background"
	"github.com/BradenHooton/gatekeeper/internal/config"
	"github.com/BradenHooton/gatekeeper/internal/database"
	"github.com/BradenHooton/gatekeeper/internal/handlers"
	middlewareCustom "github.com/BradenHooton/gatekeeper/internal/middleware"
	"github.com/BradenHooton/gatekeeper/internal/models"
	"github.com/BradenHooton/gatekeeper/internal/notify"
	"github.com/BradenHooton/gatekeeper/internal/repositories"
	"github.com/BradenHooton/gatekeeper/internal/risk"
	"github.com/BradenHooton/gatekeeper/internal/routes"
	"github.com/BradenHooton/gatekeeper/internal/services"
	pkgauth "github.com/BradenHooton/gatekeeper/pkg/auth"
	pkghttp "github.com/BradenHooton/gatekeeper/pkg/http"
	pkglogger "github.com/BradenHooton/gatekeeper/pkg/logger"
)

// attemptRetention is how long login history is kept for scoring
const attemptRetention = 24 * time.Hour

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))
	slog.SetDefault(logger)

	cfg, err := config.Load()
	if err != nil {
		logger.Error("failed to load configuration", slog.Any("error", err))
		os.Exit(1)
	}

	logger = slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: parseLevel(cfg.Server.LogLevel)}))
	slog.SetDefault(logger)
	logger.Info("configuration loaded", slog.String("env", cfg.Server.Env))

	if cfg.Sentry.DSN != "" {
		if err := sentry.Init(sentry.ClientOptions{
			Dsn:              cfg.Sentry.DSN,
			Environment:      cfg.Server.Env,
			AttachStacktrace: true,
		}); err != nil {
			logger.Error("failed to initialize sentry", slog.Any("error", err))
		}
		defer sentry.Flush(2 * time.Second)
	}

	// Initialize database
	db, err := database.NewConnection(&cfg.Database, logger)
	if err != nil {
		logger.Error("failed to connect to database", slog.Any("error", err))
		os.Exit(1)
	}
	defer db.Close()

	if cfg.Database.AutoMigrate {
		migrateCtx, cancel := context.WithTimeout(context.Background(), time.Minute)
		err := db.Migrate(migrateCtx)
		cancel()
		if err != nil {
			logger.Error("failed to run migrations", slog.Any("error", err))
			os.Exit(1)
		}
	}

	// Initialize repositories
	accountRepo := repositories.NewAccountRepository(db)
	attemptRepo := repositories.NewLoginAttemptRepository(db)
	eventRepo := repositories.NewSecurityEventRepository(db)

	// Security event pipeline
	sinks := []pkglogger.Sink{
		pkglogger.NewSlogSink(logger),
		pkglogger.NewStoreSink(eventRepo),
	}
	if cfg.Email.AlertRecipient != "" {
		alertCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		alerts, err := notify.NewSESAlertSink(alertCtx, cfg.Email.AWSRegion, cfg.Email.FromAddress, cfg.Email.AlertRecipient, logger)
		cancel()
		if err != nil {
			logger.Error("failed to initialize security alert mail", slog.Any("error", err))
			os.Exit(1)
		}
		sinks = append(sinks, pkglogger.SeverityFilter{Min: models.SeverityHigh, Next: alerts})
	}
	securityLogger := pkglogger.NewSecurityLogger(pkglogger.SecurityLoggerConfig{DropIfFull: true}, logger, sinks...)
	defer securityLogger.Close()

	// IP risk gate
	blocks, err := risk.NewBlockList(cfg.BlockList)
	if err != nil {
		logger.Error("failed to initialize ip block list", slog.Any("error", err))
		os.Exit(1)
	}
	defer blocks.Close()

	scorer := risk.NewHistoryScorer(attemptRepo, cfg.Auth.RiskLookbackWindow, attemptRetention)
	gate := risk.NewGate(blocks, scorer, securityLogger, logger, risk.GateConfig{
		HighBlockDuration:     cfg.Auth.HighRiskBlockDuration,
		CriticalBlockDuration: cfg.Auth.CriticalBlockDuration,
		ScoreTimeout:          cfg.Auth.RiskTimeout,
	})

	// Credential checks
	hasher := pkgauth.NewHasher(pkgauth.BcryptCost)
	verifier, err := auth.NewSecondFactorVerifier(cfg.Auth.TOTPEncryptionKey, cfg.Auth.TOTPIssuer)
	if err != nil {
		logger.Error("failed to initialize second factor verifier", slog.Any("error", err))
		os.Exit(1)
	}
	timingDelay := auth.NewTimingDelay(auth.TimingConfig{
		BaseDelayMs:   cfg.Auth.TimingDelayBaseMs,
		RandomDelayMs: cfg.Auth.TimingDelayRandomMs,
	})

	// Initialize services
	loginService := services.NewLoginService(accountRepo, gate, verifier, hasher, securityLogger, timingDelay, logger, services.LoginConfig{
		Lockout:      auth.LockoutPolicy{Threshold: cfg.Auth.LockoutThreshold, Duration: cfg.Auth.LockoutDuration},
		StoreTimeout: cfg.Auth.StoreTimeout,
	})
	issuer := auth.NewSessionIssuer(cfg.Auth.SessionSecret, cfg.Auth.SessionExpiry, accountRepo)
	sessionService := services.NewSessionService(loginService, issuer, securityLogger, logger)
	secondFactorService := services.NewSecondFactorService(accountRepo, verifier, securityLogger, logger)

	// Bootstrap first admin user if configured
	bootstrapCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	if _, err := services.NewBootstrapService(accountRepo, hasher, logger).SeedAdmin(bootstrapCtx,
		cfg.Bootstrap.AdminEmail, cfg.Bootstrap.AdminPassword, cfg.Bootstrap.AdminName); err != nil {
		logger.Error("failed to ensure admin account", slog.Any("error", err))
	}
	cancel()

	// Base URL drives cookie attributes, redirect sanitizing and the origin check
	ipConfig := &pkghttp.IPConfig{TrustedProxies: cfg.Server.TrustedProxies}
	resolver := pkghttp.NewBaseURLResolver(cfg.Server.BaseURL, ipConfig, cfg.Server.Port)
	if base, strategy := resolver.Resolve(nil); strategy != "forwarded" {
		policy := auth.ResolveCookiePolicy(base)
		logger.Info("base url resolved",
			slog.String("base_url", base),
			slog.String("strategy", strategy),
			slog.Bool("cookie_secure", policy.Secure),
			slog.String("cookie_domain", policy.Domain),
			slog.String("cookie_name", policy.Name()))
	}
	policies := auth.ResolvedPolicy{Resolver: resolver}

	// Initialize handlers
	authHandler := handlers.NewAuthHandler(sessionService, resolver, handlers.AuthHandlerConfig{
		IPConfig:           ipConfig,
		DefaultLandingPath: cfg.Server.DefaultLandingPath,
	}, logger)
	secondFactorHandler := handlers.NewSecondFactorHandler(secondFactorService, ipConfig, logger)
	healthHandler := handlers.NewHealthHandler(db, securityLogger)

	// Setup router
	router := chi.NewRouter()
	router.Use(middleware.RequestID)
	router.Use(middlewareCustom.SecurityHeaders(middlewareCustom.SecurityHeadersConfig{
		Env: cfg.Server.Env,
		SecureTransport: func(r *http.Request) bool {
			return policies.For(r).Secure
		},
	}))
	router.Use(middlewareCustom.SecureLogger(logger, ipConfig))
	router.Use(middlewareCustom.Recoverer(logger))
	router.Use(middleware.Timeout(60 * time.Second))

	routes.RegisterRoutes(router, routes.Deps{
		Auth:         authHandler,
		SecondFactor: secondFactorHandler,
		Health:       healthHandler,
		Sessions:     issuer,
		Policies:     policies,
		Origins:      resolver,
		LoginLimit: middlewareCustom.RateLimitConfig{
			RequestsPerMinute: cfg.Auth.LoginRequestsPerMinute,
			IPConfig:          ipConfig,
		},
		Logger: logger,
	})

	server := &http.Server{
		Addr:         ":" + cfg.Server.Port,
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	// Start cleanup task
	cleanupManager := background.NewCleanupManager(blocks, attemptRepo, eventRepo, logger, background.CleanupConfig{
		Interval:       cfg.Auth.CleanupInterval,
		EventRetention: cfg.Auth.EventRetention,
	})
	cleanupCtx, cleanupCancel := context.WithCancel(context.Background())
	defer cleanupCancel()

	go cleanupManager.Start(cleanupCtx)

	// Start server
	go func() {
		logger.Info("starting server", slog.String("addr", server.Addr))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("server error", slog.Any("error", err))
			os.Exit(1)
		}
	}()

	// Graceful shutdown
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	<-sigChan

	logger.Info("shutdown signal received")

	cleanupCancel()
	cleanupManager.Stop()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("server shutdown error", slog.Any("error", err))
	}

	logger.Info("server stopped gracefully",
		slog.Uint64("security_events_dropped", securityLogger.Dropped()))
}

func parseLevel(level string) slog.Level {
	switch strings.ToLower(level) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
