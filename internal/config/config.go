package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"golang.org/x/crypto/bcrypt"
)

// Config holds all configuration for the service. It is built once at startup and
// never mutated afterwards.
type Config struct {
	Env         string            `yaml:"env"`
	Server      ServerConfig      `yaml:"server"`
	Database    DatabaseConfig    `yaml:"database"`
	Auth        AuthConfig        `yaml:"auth"`
	Tokens      TokenConfig       `yaml:"tokens"`
	RateLimit   RateLimitConfig   `yaml:"rate_limit"`
	Sentry      SentryConfig      `yaml:"sentry"`
	Maintenance MaintenanceConfig `yaml:"maintenance"`
}

type ServerConfig struct {
	Port               string   `yaml:"port"`
	CORSAllowedOrigins []string `yaml:"cors_allowed_origins"`
}

type DatabaseConfig struct {
	URL                    string        `yaml:"url"`
	MaxOpenConns           int           `yaml:"max_open_conns"`
	MaxIdleConns           int           `yaml:"max_idle_conns"`
	ConnMaxLifetime        time.Duration `yaml:"conn_max_lifetime"`
	ConnMaxIdleTime        time.Duration `yaml:"conn_max_idle_time"`
	RunMigrationsOnStartup bool          `yaml:"run_migrations_on_startup"`
}

type AuthConfig struct {
	JWTSecret         string        `yaml:"jwt_secret"`
	AccessTokenTTL    time.Duration `yaml:"access_token_ttl"`
	RefreshTokenTTL   time.Duration `yaml:"refresh_token_ttl"`
	LoginMaxAttempts  int           `yaml:"login_max_attempts"`
	LoginLockWindow   time.Duration `yaml:"login_lock_window"`
	BcryptCost        int           `yaml:"bcrypt_cost"`
	BootstrapUsername string        `yaml:"bootstrap_username"`
	BootstrapPassword string        `yaml:"bootstrap_password"`
}

// TokenConfig selects how tokens reach the client: "cookie" or "header".
type TokenConfig struct {
	Delivery       string `yaml:"delivery"`
	CookieSecure   bool   `yaml:"cookie_secure"`
	CookieSameSite string `yaml:"cookie_samesite"`
	CSRFProtect    bool   `yaml:"csrf_protect"`
}

// RateLimitConfig uses Redis when RedisURL is set, process memory otherwise.
// TrustProxyHeaders keys clients by X-Forwarded-For; enable it only behind a proxy
// that overwrites that header.
type RateLimitConfig struct {
	Max               int           `yaml:"max"`
	Window            time.Duration `yaml:"window"`
	RedisURL          string        `yaml:"redis_url"`
	TrustProxyHeaders bool          `yaml:"trust_proxy_headers"`
}

type SentryConfig struct {
	DSN     string `yaml:"dsn"`
	Release string `yaml:"release"`
}

// MaintenanceConfig disables the cleanup endpoint when CronSecret is empty.
type MaintenanceConfig struct {
	CronSecret string `yaml:"cron_secret"`
	BatchSize  int    `yaml:"batch_size"`
}

func Default() Config {
	return Config{
		Env: "development",
		Server: ServerConfig{
			Port:               "8080",
			CORSAllowedOrigins: []string{"https://localhost:5173"},
		},
		Database: DatabaseConfig{
			URL:             "sqlite://auth.db",
			MaxOpenConns:    10,
			MaxIdleConns:    5,
			ConnMaxLifetime: 30 * time.Minute,
			ConnMaxIdleTime: 10 * time.Minute,
		},
		Auth: AuthConfig{
			AccessTokenTTL:   36000 * time.Second,
			RefreshTokenTTL:  360000 * time.Second,
			LoginMaxAttempts: 5,
			LoginLockWindow:  10 * time.Minute,
			BcryptCost:       bcrypt.DefaultCost,
		},
		Tokens: TokenConfig{
			Delivery:       "cookie",
			CookieSecure:   true,
			CookieSameSite: "lax",
		},
		RateLimit: RateLimitConfig{
			Max:    10,
			Window: time.Minute,
		},
		Maintenance: MaintenanceConfig{
			BatchSize: 500,
		},
	}
}

func (c *Config) IsProduction() bool {
	return strings.EqualFold(c.Env, "production")
}

// Validate checks that the configuration is usable.
func (c *Config) Validate() error {
	var errs []error

	if strings.TrimSpace(c.Server.Port) == "" {
		errs = append(errs, errors.New("server.port is required"))
	}

	if strings.TrimSpace(c.Database.URL) == "" {
		errs = append(errs, errors.New("database.url is required"))
	}
	if c.Database.MaxOpenConns <= 0 {
		errs = append(errs, errors.New("database.max_open_conns must be positive"))
	}
	if c.Database.MaxIdleConns < 0 {
		errs = append(errs, errors.New("database.max_idle_conns must not be negative"))
	}

	if strings.TrimSpace(c.Auth.JWTSecret) == "" {
		errs = append(errs, errors.New("auth.jwt_secret is required (JWT_SECRET)"))
	} else if c.IsProduction() && len(c.Auth.JWTSecret) < 32 {
		errs = append(errs, errors.New("auth.jwt_secret must be at least 32 bytes in production"))
	}
	if c.Auth.AccessTokenTTL <= 0 {
		errs = append(errs, errors.New("auth.access_token_ttl must be positive"))
	}
	if c.Auth.RefreshTokenTTL <= 0 {
		errs = append(errs, errors.New("auth.refresh_token_ttl must be positive"))
	}
	if c.Auth.LoginMaxAttempts <= 0 {
		errs = append(errs, errors.New("auth.login_max_attempts must be positive"))
	}
	if c.Auth.LoginLockWindow <= 0 {
		errs = append(errs, errors.New("auth.login_lock_window must be positive"))
	}
	if c.Auth.BcryptCost < bcrypt.MinCost || c.Auth.BcryptCost > bcrypt.MaxCost {
		errs = append(errs, fmt.Errorf("auth.bcrypt_cost must be between %d and %d", bcrypt.MinCost, bcrypt.MaxCost))
	}

	switch strings.ToLower(c.Tokens.Delivery) {
	case "cookie", "header":
	default:
		errs = append(errs, fmt.Errorf("tokens.delivery must be cookie or header, got %q", c.Tokens.Delivery))
	}
	switch strings.ToLower(c.Tokens.CookieSameSite) {
	case "lax", "strict":
	case "none":
		if !c.Tokens.CookieSecure {
			errs = append(errs, errors.New("tokens.cookie_samesite=none requires tokens.cookie_secure"))
		}
	default:
		errs = append(errs, fmt.Errorf("tokens.cookie_samesite must be lax, strict or none, got %q", c.Tokens.CookieSameSite))
	}

	if c.RateLimit.Max <= 0 {
		errs = append(errs, errors.New("rate_limit.max must be positive"))
	}
	if c.RateLimit.Window <= 0 {
		errs = append(errs, errors.New("rate_limit.window must be positive"))
	}

	if c.Maintenance.BatchSize <= 0 {
		errs = append(errs, errors.New("maintenance.batch_size must be positive"))
	}

	return errors.Join(errs...)
}
