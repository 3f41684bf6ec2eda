package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/hht-diary/authcore/internal/auth"
	"github.com/hht-diary/authcore/internal/background"
	"github.com/hht-diary/authcore/internal/config"
	"github.com/hht-diary/authcore/internal/database"
	"github.com/hht-diary/authcore/internal/handlers"
	middlewareCustom "github.com/hht-diary/authcore/internal/middleware"
	"github.com/hht-diary/authcore/internal/notifications"
	"github.com/hht-diary/authcore/internal/observability"
	"github.com/hht-diary/authcore/internal/repositories"
	"github.com/hht-diary/authcore/internal/routes"
	"github.com/hht-diary/authcore/internal/services"
	pkgauth "github.com/hht-diary/authcore/pkg/auth"
	pkghttp "github.com/hht-diary/authcore/pkg/http"
	pkglogger "github.com/hht-diary/authcore/pkg/logger"
)

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))
	slog.SetDefault(logger)

	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		logger.Error("failed to load configuration", slog.Any("error", err))
		os.Exit(1)
	}

	logger = slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: parseLogLevel(cfg.Server.LogLevel)}))
	slog.SetDefault(logger)
	logger.Info("configuration loaded", slog.String("env", cfg.Server.Env))

	reporter, err := observability.NewReporter(cfg.Observability.SentryDSN, cfg.Server.Env)
	if err != nil {
		logger.Error("failed to initialize error reporting", slog.Any("error", err))
		os.Exit(1)
	}
	defer reporter.Flush()

	// Initialize database
	db, err := database.NewConnection(&cfg.Database, logger)
	if err != nil {
		fatal(logger, reporter, "failed to connect to database", err)
	}
	defer db.Close()

	if cfg.Database.AutoMigrate {
		ctx, cancel := context.WithTimeout(context.Background(), 60*time.Second)
		err := db.Migrate(ctx)
		cancel()
		if err != nil {
			fatal(logger, reporter, "failed to run migrations", err)
		}
	}

	// Initialize repositories
	userRepo := repositories.NewUserRepository(db)
	sponsorRepo := repositories.NewSponsorPatternRepository(db)

	// Token signing
	privateKey, publicKey, err := auth.LoadRSAKeys(cfg.Auth.PrivateKeyPath, cfg.Auth.PublicKeyPath)
	if err != nil {
		fatal(logger, reporter, "failed to load token keys", err)
	}
	tokenService, err := auth.NewTokenService(privateKey, publicKey, cfg.Auth.TokenIssuer)
	if err != nil {
		fatal(logger, reporter, "failed to initialize token service", err)
	}

	verifier, err := pkgauth.NewCredentialVerifier(cfg.Auth.Argon2)
	if err != nil {
		fatal(logger, reporter, "failed to initialize credential verifier", err)
	}

	// Initialize security services
	auditLogger := pkglogger.NewAuditLogger(logger)
	rateLimiter := services.NewRateLimiter(services.RateLimitConfig{
		MaxAttempts: cfg.RateLimit.MaxAttempts,
		Window:      cfg.RateLimit.Window,
	})
	timingDelay := auth.NewTimingDelay(auth.TimingConfig{
		MinDuration: cfg.Auth.FailureMinDuration,
		Jitter:      cfg.Auth.FailureJitter,
	})

	ipConfig, err := pkghttp.NewIPConfig(cfg.Server.TrustedProxies)
	if err != nil {
		fatal(logger, reporter, "invalid TRUSTED_PROXIES", err)
	}

	// Initialize services
	sponsorService := services.NewSponsorService(sponsorRepo, logger)
	authService := services.NewAuthService(
		userRepo,
		sponsorService,
		rateLimiter,
		verifier,
		tokenService,
		services.LockoutConfig{
			Threshold:     cfg.Auth.LockoutThreshold,
			Duration:      cfg.Auth.LockoutDuration,
			NotifyTimeout: cfg.Notifications.LockoutAlertTimeout,
		},
		logger,
		auditLogger,
		cfg.Server.Env,
	)

	if cfg.Notifications.Enabled() {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		notifier, err := notifications.NewSESLockoutNotifier(ctx,
			cfg.Notifications.AWSRegion,
			cfg.Notifications.LockoutAlertFrom,
			cfg.Notifications.LockoutAlertTo,
			logger,
		)
		cancel()
		if err != nil {
			fatal(logger, reporter, "failed to initialize lockout notifier", err)
		}
		authService.SetLockoutNotifier(notifier)
	} else {
		logger.Info("lockout notifications disabled")
	}

	// Initialize handlers
	authHandler := handlers.NewAuthHandler(authService, timingDelay, reporter, ipConfig, logger)

	// Setup router
	router := chi.NewRouter()
	router.Use(middleware.RequestID)
	router.Use(middlewareCustom.SecurityHeaders(middlewareCustom.SecurityHeadersConfig{Env: cfg.Server.Env}))
	router.Use(middlewareCustom.SecureLogger(logger, ipConfig))
	router.Use(middleware.Recoverer)
	router.Use(middleware.Timeout(30 * time.Second))

	routes.RegisterRoutes(router, authHandler, tokenService, handlers.Health(db),
		middlewareCustom.RateLimitConfig{
			RequestsPerMinute: cfg.RateLimit.IPPerMinute,
			IPConfig:          ipConfig,
		})

	// Create server
	server := &http.Server{
		Addr:         ":" + cfg.Server.Port,
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	// Start cleanup task
	cleanupManager := background.NewCleanupManager(rateLimiter, logger, cfg.RateLimit.CleanupInterval)
	cleanupCtx, cleanupCancel := context.WithCancel(context.Background())
	defer cleanupCancel()

	go cleanupManager.Start(cleanupCtx)

	// Start server
	serverErr := make(chan error, 1)
	go func() {
		logger.Info("starting server", slog.String("addr", server.Addr))
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			serverErr <- err
		}
	}()

	// Graceful shutdown
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	select {
	case <-sigChan:
		logger.Info("shutdown signal received")
	case err := <-serverErr:
		logger.Error("server error", slog.Any("error", err))
		reporter.CaptureError(context.Background(), err, map[string]string{"phase": "serve"})
	}

	cleanupCancel()
	cleanupManager.Stop()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("server shutdown error", slog.Any("error", err))
		return
	}

	logger.Info("server stopped gracefully")
}

// startupReporter is the part of the error reporter used before the server runs
type startupReporter interface {
	CaptureError(ctx context.Context, err error, tags map[string]string)
	Flush()
}

var osExit = os.Exit

// fatal reports a startup failure and exits. Deferred calls do not run on
// os.Exit, so the reporter is flushed here.
func fatal(logger *slog.Logger, reporter startupReporter, msg string, err error) {
	logger.Error(msg, slog.Any("error", err))
	reporter.CaptureError(context.Background(), fmt.Errorf("%s: %w", msg, err), map[string]string{"phase": "startup"})
	reporter.Flush()
	osExit(1)
}

func parseLogLevel(level string) slog.Level {
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
