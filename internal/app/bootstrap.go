package app

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/cors"

	"auth-service/internal/auth"
	"auth-service/internal/config"
	"auth-service/internal/db"
	"auth-service/internal/maintenance"
	"auth-service/internal/observability"
)

type Options struct {
	LoadDotEnv    bool
	ConfigFile    string
	RunMigrations bool // applies pending migrations even when the configuration does not ask for it
}

type Runtime struct {
	Handler http.Handler
	Config  *config.Config
	Close   func() error
}

func Build(options Options) (*Runtime, error) {
	cfg, err := config.Load(config.LoadOptions{LoadDotEnv: options.LoadDotEnv, File: options.ConfigFile})
	if err != nil {
		return nil, err
	}

	return New(context.Background(), cfg, observability.NewLogger(), options.RunMigrations)
}

// New wires the HTTP runtime from an already loaded configuration.
func New(ctx context.Context, cfg *config.Config, logger *observability.Logger, runMigrations bool) (*Runtime, error) {
	if err := observability.InitSentry(cfg.Sentry.DSN, cfg.Env, cfg.Sentry.Release); err != nil {
		logger.Error("init_sentry_failed", map[string]any{"error": err.Error()})
	}

	database, dialect, err := OpenDatabase(ctx, cfg)
	if err != nil {
		return nil, err
	}

	if runMigrations || cfg.Database.RunMigrationsOnStartup {
		applied, err := db.RunMigrations(ctx, database, dialect)
		if err != nil {
			_ = database.Close()
			return nil, fmt.Errorf("run migrations: %w", err)
		}
		if len(applied) > 0 {
			logger.Info("migrations_applied", map[string]any{"versions": applied})
		}
	}

	authRepo := auth.NewRepository(database, dialect)
	authService, err := NewAuthService(cfg, authRepo)
	if err != nil {
		_ = database.Close()
		return nil, err
	}

	if err := authService.BootstrapUser(ctx, cfg.Auth.BootstrapUsername, cfg.Auth.BootstrapPassword); err != nil {
		_ = database.Close()
		return nil, fmt.Errorf("bootstrap user: %w", err)
	}

	delivery, err := auth.ParseDeliveryMode(cfg.Tokens.Delivery)
	if err != nil {
		_ = database.Close()
		return nil, err
	}
	transport := auth.NewTransport(delivery, auth.CookieOptions{
		Secure:      cfg.Tokens.CookieSecure,
		SameSite:    auth.ParseSameSite(cfg.Tokens.CookieSameSite),
		CSRFProtect: cfg.Tokens.CSRFProtect,
	})
	authHandler := auth.NewHandler(authService, transport, logger)

	var redisClient *redis.Client
	var limiterBackend auth.RateLimitBackend
	if cfg.RateLimit.RedisURL != "" {
		redisClient, err = auth.NewRedisClient(ctx, cfg.RateLimit.RedisURL)
		if err != nil {
			_ = database.Close()
			return nil, fmt.Errorf("connect rate limit redis: %w", err)
		}
		limiterBackend = auth.NewRedisRateLimitBackend(redisClient, cfg.RateLimit.Max, cfg.RateLimit.Window)
	} else {
		limiterBackend = auth.NewMemoryRateLimitBackend(cfg.RateLimit.Max, cfg.RateLimit.Window)
	}
	loginLimiter := auth.NewLoginRateLimiter(limiterBackend, logger, cfg.RateLimit.TrustProxyHeaders)

	cleanupHandler := maintenance.NewCleanupHandler(
		authRepo,
		logger,
		cfg.Maintenance.CronSecret,
		cfg.Auth.LoginMaxAttempts,
		cfg.Auth.LoginLockWindow,
		cfg.Maintenance.BatchSize,
	)

	tokens := authService.Tokens()

	mux := http.NewServeMux()
	mux.HandleFunc("POST /register", authHandler.Register)
	mux.Handle("POST /login", loginLimiter.Middleware(http.HandlerFunc(authHandler.Login)))
	mux.Handle("POST /refresh", auth.RequireToken(transport, tokens, auth.TokenRefresh, http.HandlerFunc(authHandler.Refresh)))
	mux.Handle("GET /protected", auth.RequireToken(transport, tokens, auth.TokenAccess, http.HandlerFunc(authHandler.Protected)))
	mux.HandleFunc("POST /logout", authHandler.Logout)
	mux.HandleFunc("GET /internal/maintenance/cleanup", cleanupHandler.Handle)
	mux.HandleFunc("POST /internal/maintenance/cleanup", cleanupHandler.Handle)
	mux.HandleFunc("GET /health", healthHandler(database, dialect))

	corsHandler := cors.New(cors.Options{
		AllowedOrigins:   cfg.Server.CORSAllowedOrigins,
		AllowedMethods:   []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowedHeaders:   []string{"Content-Type", "Authorization", auth.CSRFHeaderName},
		AllowCredentials: true,
		MaxAge:           600,
	}).Handler(mux)

	handler := observability.RecoverMiddleware(logger, observability.RequestLoggingMiddleware(logger, corsHandler))

	return &Runtime{
		Handler: handler,
		Config:  cfg,
		Close: func() error {
			observability.FlushSentry()
			var errs []error
			if redisClient != nil {
				errs = append(errs, redisClient.Close())
			}
			errs = append(errs, database.Close())
			return errors.Join(errs...)
		},
	}, nil
}

func OpenDatabase(ctx context.Context, cfg *config.Config) (*sql.DB, db.Dialect, error) {
	return db.Open(ctx, cfg.Database.URL, db.PoolConfig{
		MaxOpenConns:    cfg.Database.MaxOpenConns,
		MaxIdleConns:    cfg.Database.MaxIdleConns,
		ConnMaxLifetime: cfg.Database.ConnMaxLifetime,
		ConnMaxIdleTime: cfg.Database.ConnMaxIdleTime,
	})
}

func NewAuthService(cfg *config.Config, store auth.UserStore) (*auth.Service, error) {
	return auth.NewService(store, auth.Config{
		JWTSecret:   cfg.Auth.JWTSecret,
		AccessTTL:   cfg.Auth.AccessTokenTTL,
		RefreshTTL:  cfg.Auth.RefreshTokenTTL,
		MaxAttempts: cfg.Auth.LoginMaxAttempts,
		LockWindow:  cfg.Auth.LoginLockWindow,
		BcryptCost:  cfg.Auth.BcryptCost,
		CSRFProtect: cfg.Tokens.CSRFProtect,
	})
}

func healthHandler(database *sql.DB, dialect db.Dialect) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()

		status := http.StatusOK
		body := map[string]any{
			"status":   "ok",
			"database": dialect.Name,
			"time":     time.Now().UTC().Format(time.RFC3339),
		}
		if err := database.PingContext(ctx); err != nil {
			status = http.StatusServiceUnavailable
			body["status"] = "degraded"
		}

		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		_ = json.NewEncoder(w).Encode(body)
	}
}
