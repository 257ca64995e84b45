package auth

import (
	"context"
	"errors"
	"net"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/getsentry/sentry-go"
	"github.com/redis/go-redis/v9"

	"auth-service/internal/observability"
)

const (
	defaultRateLimitMax    = 10
	defaultRateLimitWindow = time.Minute
)

// RateLimitBackend counts hits per key. Allow records the hit when it is allowed.
type RateLimitBackend interface {
	Allow(ctx context.Context, key string, now time.Time) (bool, time.Duration, error)
}

type LoginRateLimiter struct {
	backend    RateLimitBackend
	logger     *observability.Logger
	trustProxy bool
}

// NewLoginRateLimiter keys clients by RemoteAddr, or by the first X-Forwarded-For
// entry when trustProxy is set.
func NewLoginRateLimiter(backend RateLimitBackend, logger *observability.Logger, trustProxy bool) *LoginRateLimiter {
	return &LoginRateLimiter{backend: backend, logger: logger, trustProxy: trustProxy}
}

// Middleware rejects a client IP over its budget with 429. Backend failures let the
// request through; the account lockout still applies.
func (l *LoginRateLimiter) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ip := clientIP(r, l.trustProxy)
		now := time.Now().UTC()

		allowed, retryAfter, err := l.backend.Allow(r.Context(), ip, now)
		if err != nil {
			sentry.CaptureException(err)
			l.logger.Error("login_rate_limit_failed", map[string]any{"error": err.Error()})
			next.ServeHTTP(w, r)
			return
		}
		if !allowed {
			seconds := int((retryAfter + time.Second - 1) / time.Second)
			if seconds < 1 {
				seconds = 1
			}
			w.Header().Set("Retry-After", strconv.Itoa(seconds))
			writeError(w, http.StatusTooManyRequests, "rate_limited", "too many login attempts")
			return
		}

		next.ServeHTTP(w, r)
	})
}

type MemoryRateLimitBackend struct {
	mu        sync.Mutex
	maxHits   int
	window    time.Duration
	hitByIP   map[string][]time.Time
	maxMemory int
}

func NewMemoryRateLimitBackend(maxHits int, window time.Duration) *MemoryRateLimitBackend {
	if maxHits <= 0 {
		maxHits = defaultRateLimitMax
	}
	if window <= 0 {
		window = defaultRateLimitWindow
	}

	return &MemoryRateLimitBackend{
		maxHits:   maxHits,
		window:    window,
		hitByIP:   make(map[string][]time.Time),
		maxMemory: 5000,
	}
}

func (b *MemoryRateLimitBackend) Allow(_ context.Context, ip string, now time.Time) (bool, time.Duration, error) {
	threshold := now.Add(-b.window)

	b.mu.Lock()
	defer b.mu.Unlock()

	hits := b.hitByIP[ip]
	filtered := make([]time.Time, 0, len(hits)+1)
	for _, hit := range hits {
		if hit.After(threshold) {
			filtered = append(filtered, hit)
		}
	}

	if len(filtered) >= b.maxHits {
		retryAfter := filtered[0].Add(b.window).Sub(now)
		if retryAfter < time.Second {
			retryAfter = time.Second
		}
		b.hitByIP[ip] = filtered
		return false, retryAfter, nil
	}

	filtered = append(filtered, now)
	b.hitByIP[ip] = filtered

	if len(b.hitByIP) > b.maxMemory {
		for key, value := range b.hitByIP {
			if len(value) == 0 || value[len(value)-1].Before(threshold) {
				delete(b.hitByIP, key)
			}
		}
	}

	return true, 0, nil
}

// RedisRateLimitBackend keeps one fixed-window counter per IP so every instance
// behind a load balancer shares the budget.
type RedisRateLimitBackend struct {
	client  redis.Scripter
	prefix  string
	maxHits int
	window  time.Duration
}

// KEYS[1] counter; ARGV[1] window in ms. Returns {count, pttl}.
var rateLimitScript = redis.NewScript(`
local count = redis.call('INCR', KEYS[1])
if count == 1 then
  redis.call('PEXPIRE', KEYS[1], ARGV[1])
end
local ttl = redis.call('PTTL', KEYS[1])
if ttl < 0 then
  redis.call('PEXPIRE', KEYS[1], ARGV[1])
  ttl = tonumber(ARGV[1])
end
return {count, ttl}
`)

func NewRedisRateLimitBackend(client redis.Scripter, maxHits int, window time.Duration) *RedisRateLimitBackend {
	if maxHits <= 0 {
		maxHits = defaultRateLimitMax
	}
	if window <= 0 {
		window = defaultRateLimitWindow
	}

	return &RedisRateLimitBackend{
		client:  client,
		prefix:  "auth:login_rate:",
		maxHits: maxHits,
		window:  window,
	}
}

func (b *RedisRateLimitBackend) Allow(ctx context.Context, ip string, _ time.Time) (bool, time.Duration, error) {
	res, err := rateLimitScript.Run(ctx, b.client, []string{b.prefix + ip}, b.window.Milliseconds()).Int64Slice()
	if err != nil {
		return false, 0, err
	}
	if len(res) != 2 {
		return false, 0, errors.New("unexpected rate limit response")
	}

	if res[0] > int64(b.maxHits) {
		return false, time.Duration(res[1]) * time.Millisecond, nil
	}
	return true, 0, nil
}

// NewRedisClient parses redisURL (redis://host:6379/0) and checks the server answers.
func NewRedisClient(ctx context.Context, redisURL string) (*redis.Client, error) {
	if strings.TrimSpace(redisURL) == "" {
		return nil, errors.New("empty redis url")
	}
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, err
	}

	client := redis.NewClient(opts)
	pingCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		_ = client.Close()
		return nil, err
	}

	return client, nil
}

func clientIP(r *http.Request, trustProxy bool) string {
	if trustProxy {
		forwarded, _, _ := strings.Cut(r.Header.Get("X-Forwarded-For"), ",")
		if ip := strings.TrimSpace(forwarded); ip != "" {
			return ip
		}
	}

	if host, _, err := net.SplitHostPort(r.RemoteAddr); err == nil && host != "" {
		return host
	}
	if r.RemoteAddr != "" {
		return r.RemoteAddr
	}

	return "unknown"
}
