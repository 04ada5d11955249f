package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/redis/go-redis/v9"

	_ "github.com/redmonkez12/fintrack-api/docs" // Swagger docs (generated)
	"github.com/redmonkez12/fintrack-api/internal/auth"
	"github.com/redmonkez12/fintrack-api/internal/config"
	"github.com/redmonkez12/fintrack-api/internal/database"
	"github.com/redmonkez12/fintrack-api/internal/email"
	httpServer "github.com/redmonkez12/fintrack-api/internal/http"
	"github.com/redmonkez12/fintrack-api/internal/logging"
	"github.com/redmonkez12/fintrack-api/internal/ratelimit"
	"github.com/redmonkez12/fintrack-api/internal/store"
)

// @title           FinTrack API
// @version         1.0
// @description     Authentication and session service of the FinTrack personal finance API.

// @contact.name   API Support
// @contact.email  support@example.com

// @license.name  MIT
// @license.url   https://opensource.org/licenses/MIT

// @host      localhost:8080
// @BasePath  /api

// @securityDefinitions.apikey BearerAuth
// @in header
// @name Authorization
// @description Type "Bearer" followed by a space and the session token.

func main() {
	if err := run(); err != nil {
		log.Fatalf("Application error: %v", err)
	}
}

func run() error {
	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	// Initialize logger
	logger := logging.NewLogger(cfg.Server.IsDevelopment())
	logger.Info("starting application",
		"env", cfg.Server.Env,
		"port", cfg.Server.Port,
		"store", cfg.Database.Driver,
		"token_format", cfg.Auth.TokenFormat,
	)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Initialize credential store
	st, closeStore, err := initStore(ctx, cfg.Database, logger)
	if err != nil {
		return fmt.Errorf("failed to initialize store: %w", err)
	}
	defer closeStore()

	// Initialize rate limiter
	rateLimiter, closeLimiter, err := initRateLimiter(ctx, cfg.Redis, cfg.RateLimit, logger)
	if err != nil {
		return fmt.Errorf("failed to initialize rate limiter: %w", err)
	}
	defer closeLimiter()

	tokenService, err := initTokenService(cfg.Auth)
	if err != nil {
		return fmt.Errorf("failed to initialize token service: %w", err)
	}

	hasher, err := auth.NewPasswordHasher(cfg.Auth.HashAlgorithm, cfg.Auth.BcryptCost)
	if err != nil {
		return fmt.Errorf("failed to initialize password hasher: %w", err)
	}

	// Initialize email service
	var emailService auth.EmailService
	if cfg.Email.SMTPHost != "" {
		emailService = email.NewSMTPService(email.Config{
			SMTPHost:     cfg.Email.SMTPHost,
			SMTPPort:     cfg.Email.SMTPPort,
			SMTPUser:     cfg.Email.SMTPUser,
			SMTPPassword: cfg.Email.SMTPPassword,
			FromAddress:  cfg.Email.FromAddress,
			FromName:     cfg.Email.FromName,
			FrontendURL:  cfg.Email.FrontendURL,
		}, logger)
	} else {
		logger.Warn("SMTP_HOST not set, emails will be logged instead of sent")
		emailService = email.NewLogService(logger, cfg.Email.FrontendURL)
	}

	// Initialize auth service
	authService := auth.NewService(st, tokenService, hasher, emailService, logger, auth.Policy{
		AutoVerifyEmail:      cfg.Auth.AutoVerifyEmail,
		RequireTwoFactor:     cfg.Auth.RequireTwoFactor,
		MaxCodeAttempts:      cfg.Auth.TwoFactorMaxAttempts,
		EmailVerificationTTL: cfg.Auth.EmailVerificationTTL,
		TwoFactorTTL:         cfg.Auth.TwoFactorTTL,
		PasswordResetTTL:     cfg.Auth.PasswordResetTTL,
		SessionTTL:           cfg.Auth.SessionTTL,
		MinPasswordEntropy:   cfg.Auth.MinPasswordEntropy,
		EmailSendTimeout:     cfg.Email.SendTimeout,
	})

	// Initialize HTTP handlers
	authHandler := auth.NewHandler(authService, rateLimiter, logger)
	authMiddleware := auth.NewMiddleware(authService)

	// Initialize router
	router := httpServer.NewRouter(cfg.Server, authHandler, authMiddleware, logger)

	// Initialize HTTP server
	server := httpServer.NewServer(
		":"+cfg.Server.Port,
		router,
		cfg.Server.ReadTimeout,
		cfg.Server.WriteTimeout,
		logger,
	)

	janitorCtx, stopJanitor := context.WithCancel(context.Background())
	defer stopJanitor()
	go auth.NewJanitor(st, logger, cfg.Auth.JanitorInterval).Run(janitorCtx)

	// Start server in a goroutine
	serverErrors := make(chan error, 1)
	go func() {
		serverErrors <- server.Start()
	}()

	select {
	case err := <-serverErrors:
		return fmt.Errorf("server error: %w", err)
	case <-ctx.Done():
		logger.Info("shutdown signal received")

		// Graceful shutdown with timeout
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
		defer cancel()

		if err := server.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("graceful shutdown failed: %w", err)
		}

		stopJanitor()
		authService.Wait()
	}

	return nil
}

// initStore opens the configured credential store and returns its closer.
func initStore(ctx context.Context, cfg config.DatabaseConfig, logger *logging.Logger) (store.Store, func(), error) {
	if cfg.Driver == config.StoreDriverMemory {
		logger.Warn("using in-memory store, data is lost on restart")
		return store.NewMemoryStore(), func() {}, nil
	}

	sqlDB, err := database.Open(ctx, cfg.ConnectionString(), database.PoolConfig{
		MaxOpenConns:    cfg.MaxOpenConns,
		MaxIdleConns:    cfg.MaxIdleConns,
		ConnMaxLifetime: cfg.ConnMaxLifetime,
	})
	if err != nil {
		return nil, nil, err
	}

	if cfg.AutoMigrate {
		if err := database.Migrate(ctx, sqlDB); err != nil {
			sqlDB.Close()
			return nil, nil, err
		}
		logger.Info("database migrations applied")
	}

	db := database.NewBunDB(sqlDB)
	return store.NewPostgresStore(db), func() { db.Close() }, nil
}

// initRateLimiter uses Redis when configured and an in-process limiter
// otherwise.
func initRateLimiter(ctx context.Context, cfg config.RedisConfig, limits config.RateLimitConfig, logger *logging.Logger) (auth.RateLimiter, func(), error) {
	rlCfg := ratelimit.Config{
		MaxRequests:   limits.MaxRequests,
		Window:        limits.Window,
		EmailCooldown: limits.EmailCooldown,
	}

	if !cfg.Enabled() {
		logger.Info("REDIS_HOST not set, rate limits are kept in memory")
		return ratelimit.NewMemoryLimiter(rlCfg), func() {}, nil
	}

	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Address(),
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	// Verify connection
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, nil, fmt.Errorf("failed to ping Redis: %w", err)
	}

	return ratelimit.NewRedisLimiter(client, rlCfg), func() { client.Close() }, nil
}

func initTokenService(cfg config.AuthConfig) (auth.TokenService, error) {
	switch cfg.TokenFormat {
	case config.TokenFormatJWT:
		return auth.NewJWTService([]byte(cfg.TokenSecret))
	default:
		return auth.NewPasetoService([]byte(cfg.TokenSecret))
	}
}
