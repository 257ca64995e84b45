package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

type LoadOptions struct {
	LoadDotEnv bool   // read .env from the working directory first
	File       string // overrides AUTH_CONFIG_FILE
}

// Load builds the configuration from defaults, then the optional YAML file, then
// environment variables, and validates the result.
func Load(options LoadOptions) (*Config, error) {
	if options.LoadDotEnv {
		_ = godotenv.Load()
	}

	cfg := Default()

	path := strings.TrimSpace(options.File)
	if path == "" {
		path = strings.TrimSpace(os.Getenv("AUTH_CONFIG_FILE"))
	}
	if path != "" {
		if err := loadFile(path, &cfg); err != nil {
			return nil, err
		}
	}

	applyEnv(&cfg)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return &cfg, nil
}

func loadFile(path string, cfg *Config) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read config file: %w", err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return fmt.Errorf("failed to parse config file: %w", err)
	}

	return nil
}

func applyEnv(cfg *Config) {
	cfg.Env = envOrDefault("APP_ENV", cfg.Env)
	cfg.Server.Port = envOrDefault("PORT", cfg.Server.Port)
	cfg.Server.CORSAllowedOrigins = envListOrDefault("CORS_ALLOWED_ORIGINS", cfg.Server.CORSAllowedOrigins)

	cfg.Database.URL = envOrDefault("DATABASE_URL", cfg.Database.URL)
	cfg.Database.MaxOpenConns = envIntOrDefault("DB_MAX_OPEN_CONNS", cfg.Database.MaxOpenConns)
	cfg.Database.MaxIdleConns = envIntOrDefault("DB_MAX_IDLE_CONNS", cfg.Database.MaxIdleConns)
	cfg.Database.ConnMaxLifetime = envMinutesOrDefault("DB_CONN_MAX_LIFETIME_MINUTES", cfg.Database.ConnMaxLifetime)
	cfg.Database.ConnMaxIdleTime = envMinutesOrDefault("DB_CONN_MAX_IDLE_TIME_MINUTES", cfg.Database.ConnMaxIdleTime)
	cfg.Database.RunMigrationsOnStartup = EnvBoolOrDefault("RUN_MIGRATIONS_ON_STARTUP", cfg.Database.RunMigrationsOnStartup)

	cfg.Auth.JWTSecret = envOrDefault("JWT_SECRET", cfg.Auth.JWTSecret)
	cfg.Auth.AccessTokenTTL = envSecondsOrDefault("ACCESS_TOKEN_TTL_SECONDS", cfg.Auth.AccessTokenTTL)
	cfg.Auth.RefreshTokenTTL = envSecondsOrDefault("REFRESH_TOKEN_TTL_SECONDS", cfg.Auth.RefreshTokenTTL)
	cfg.Auth.LoginMaxAttempts = envIntOrDefault("LOGIN_MAX_ATTEMPTS", cfg.Auth.LoginMaxAttempts)
	cfg.Auth.LoginLockWindow = envMinutesOrDefault("LOGIN_LOCK_MINUTES", cfg.Auth.LoginLockWindow)
	cfg.Auth.BcryptCost = envIntOrDefault("BCRYPT_COST", cfg.Auth.BcryptCost)
	cfg.Auth.BootstrapUsername = envOrDefault("BOOTSTRAP_USERNAME", cfg.Auth.BootstrapUsername)
	cfg.Auth.BootstrapPassword = envOrDefault("BOOTSTRAP_PASSWORD", cfg.Auth.BootstrapPassword)

	cfg.Tokens.Delivery = strings.ToLower(envOrDefault("TOKEN_DELIVERY", cfg.Tokens.Delivery))
	cfg.Tokens.CookieSecure = EnvBoolOrDefault("COOKIE_SECURE", cfg.Tokens.CookieSecure)
	cfg.Tokens.CookieSameSite = strings.ToLower(envOrDefault("COOKIE_SAMESITE", cfg.Tokens.CookieSameSite))
	cfg.Tokens.CSRFProtect = EnvBoolOrDefault("CSRF_PROTECT", cfg.Tokens.CSRFProtect)

	cfg.RateLimit.Max = envIntOrDefault("LOGIN_RATE_LIMIT_MAX", cfg.RateLimit.Max)
	cfg.RateLimit.Window = envSecondsOrDefault("LOGIN_RATE_LIMIT_WINDOW_SECONDS", cfg.RateLimit.Window)
	cfg.RateLimit.RedisURL = envOrDefault("RATE_LIMIT_REDIS_URL", cfg.RateLimit.RedisURL)
	cfg.RateLimit.TrustProxyHeaders = EnvBoolOrDefault("TRUST_PROXY_HEADERS", cfg.RateLimit.TrustProxyHeaders)

	cfg.Sentry.DSN = envOrDefault("SENTRY_DSN", cfg.Sentry.DSN)
	cfg.Sentry.Release = envOrDefault("SENTRY_RELEASE", cfg.Sentry.Release)

	cfg.Maintenance.CronSecret = envOrDefault("CRON_SECRET", cfg.Maintenance.CronSecret)
	cfg.Maintenance.BatchSize = envIntOrDefault("AUTH_CLEANUP_BATCH_SIZE", cfg.Maintenance.BatchSize)
}

func envOrDefault(name, fallback string) string {
	value := strings.TrimSpace(os.Getenv(name))
	if value == "" {
		return fallback
	}
	return value
}

func envIntOrDefault(name string, fallback int) int {
	value := strings.TrimSpace(os.Getenv(name))
	if value == "" {
		return fallback
	}
	parsed, err := strconv.Atoi(value)
	if err != nil || parsed <= 0 {
		return fallback
	}
	return parsed
}

func envSecondsOrDefault(name string, fallback time.Duration) time.Duration {
	seconds := envIntOrDefault(name, 0)
	if seconds == 0 {
		return fallback
	}
	return time.Duration(seconds) * time.Second
}

func envMinutesOrDefault(name string, fallback time.Duration) time.Duration {
	minutes := envIntOrDefault(name, 0)
	if minutes == 0 {
		return fallback
	}
	return time.Duration(minutes) * time.Minute
}

func envListOrDefault(name string, fallback []string) []string {
	value := strings.TrimSpace(os.Getenv(name))
	if value == "" {
		return fallback
	}

	var out []string
	for _, item := range strings.Split(value, ",") {
		item = strings.TrimSpace(item)
		if item != "" {
			out = append(out, item)
		}
	}
	if len(out) == 0 {
		return fallback
	}
	return out
}

func EnvBoolOrDefault(name string, fallback bool) bool {
	value := strings.TrimSpace(strings.ToLower(os.Getenv(name)))
	if value == "" {
		return fallback
	}

	switch value {
	case "1", "true", "yes", "on":
		return true
	case "0", "false", "no", "off":
		return false
	default:
		return fallback
	}
}
