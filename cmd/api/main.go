package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"auth-template/internal/config"
	"auth-template/internal/db"
	"auth-template/internal/email"
	apihttp "auth-template/internal/http"
	"auth-template/internal/oauth"
	"auth-template/internal/repository"
	"auth-template/internal/service"

	"github.com/joho/godotenv"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := godotenv.Load(); err != nil {
		log.Printf("warning: loading .env: %v", err)
	}

	cfg, err := config.LoadConfig()
	if err != nil {
		panic(err)
	}

	logger, _ := zap.NewProduction()
	if cfg.IsDevelopment() {
		logger, _ = zap.NewDevelopment()
	}
	defer logger.Sync()

	pool, err := db.NewPool(ctx, cfg)
	if err != nil {
		logger.Fatal("db connect", zap.Error(err))
	}
	defer pool.Close()

	if cfg.AutoMigrate {
		if err := db.Migrate(ctx, pool); err != nil {
			logger.Fatal("db migrate", zap.Error(err))
		}
	}

	var emailSender email.Sender = email.NewDisabledSender("email sender not configured")
	switch {
	case cfg.SMTPHost != "":
		sender, err := email.NewSMTPSender(cfg.SMTPHost, cfg.SMTPPort, cfg.SMTPUser, cfg.SMTPPass, cfg.SMTPFrom, cfg.SMTPFromName, cfg.SMTPUseTLS, cfg.EmailTimeout)
		if err != nil {
			logger.Warn("smtp sender init failed", zap.Error(err))
		} else {
			emailSender = sender
		}
	case cfg.IsDevelopment():
		emailSender = email.NewLogSender(logger)
	}

	var (
		cache       service.SessionCache
		limiter     service.RateLimiter
		redisClient *redis.Client
	)
	if cfg.RedisAddr != "" {
		redisClient = redis.NewClient(&redis.Options{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
			DB:       cfg.RedisDB,
		})
		defer redisClient.Close()
		ctxPing, cancel := context.WithTimeout(ctx, 2*time.Second)
		if err := redisClient.Ping(ctxPing).Err(); err != nil {
			logger.Warn("redis ping failed", zap.Error(err))
		} else {
			cache = service.NewRedisSessionCache(redisClient, cfg.TwoFactorMaxAttempts)
			limiter = service.NewRedisRateLimiter(redisClient, cfg.RateLimitWindow, cfg.RateLimitMax)
		}
		cancel()
	}
	if cache == nil {
		logger.Warn("redis unavailable, using in-memory session cache")
		cache = service.NewMemorySessionCache(cfg.TwoFactorMaxAttempts)
		limiter = service.NewMemoryRateLimiter(cfg.RateLimitWindow, cfg.RateLimitMax)
	}

	userRepo := repository.NewPgUserRepository(pool)
	codec := service.NewTokenCodec(cfg)
	hasher := service.NewPasswordHasher()
	providers := oauth.NewRegistryFromConfig(cfg)
	logger.Info("oauth providers configured", zap.Strings("providers", providers.Names()))

	sessions := service.NewSessionManager(logger, codec, cache)
	twoFactor := service.NewTwoFactorFlow(logger, cache, emailSender, cfg.TwoFactorSecret, cfg.TwoFactorTTL)
	local := service.NewLocalAuthFlow(logger, userRepo, hasher, codec, cache, emailSender, service.LocalAuthOptions{
		FrontendURL:           cfg.FrontendURL,
		RequireConfirmedEmail: cfg.RequireConfirmedEmail,
		EmailTimeout:          cfg.EmailTimeout,
	})
	external := service.NewExternalAuthFlow(logger, userRepo, codec, cache, providers, cfg.ProviderTimeout)
	authSvc := service.NewAuthService(logger, userRepo, codec, local, external, twoFactor, sessions, service.AuthPolicy{
		ExternalLoginTwoFactor: cfg.ExternalLoginTwoFactor,
	})

	checks := map[string]apihttp.HealthCheck{
		"postgres": func(ctx context.Context) error { return db.Ping(ctx, pool) },
	}
	if redisClient != nil {
		checks["redis"] = func(ctx context.Context) error { return redisClient.Ping(ctx).Err() }
	}

	authHandler := apihttp.NewAuthHandler(logger, authSvc, apihttp.CookieConfig{
		Name:   cfg.RefreshCookieName,
		Secure: cfg.RefreshCookieSecure,
		MaxAge: cfg.JWTRefreshTTL,
	})
	userHandler := apihttp.NewUserHandler(logger, authSvc)
	healthHandler := apihttp.NewHealthHandler(logger, checks)
	router := apihttp.NewRouter(logger, authSvc, authHandler, userHandler, healthHandler, limiter)

	server := &http.Server{
		Addr:              ":" + cfg.HTTPPort,
		Handler:           router,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		logger.Info("starting server", zap.String("port", cfg.HTTPPort))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal("server error", zap.Error(err))
		}
	}()

	<-ctx.Done()
	logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("server shutdown", zap.Error(err))
	}
	authSvc.Wait()
}
