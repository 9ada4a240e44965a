package middleware

import (
	"context"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/go-redis/redis/v8"

	"github.com/doorwayhq/doorway/pkg/httputil"
	"github.com/doorwayhq/doorway/pkg/observability"
	"github.com/doorwayhq/doorway/pkg/security"
)

// RateLimitConfig defines one rate limit tier
type RateLimitConfig struct {
	// RequestsPerWindow is the steady rate allowed in the time window
	RequestsPerWindow int
	// WindowDuration is the time window for rate limiting
	WindowDuration time.Duration
	// BurstSize is extra headroom above the steady rate within one window
	BurstSize int
}

// DefaultRateLimitConfig returns default rate limit settings
func DefaultRateLimitConfig() *RateLimitConfig {
	return &RateLimitConfig{
		RequestsPerWindow: 300,
		WindowDuration:    time.Minute,
		BurstSize:         50,
	}
}

// limit is the absolute ceiling within one window.
func (c *RateLimitConfig) limit() int64 {
	return int64(c.RequestsPerWindow + c.BurstSize)
}

// RateLimiter is a fixed-window counter in Redis, so the limit holds across
// all instances of the service.
type RateLimiter struct {
	redis  *redis.Client
	config *RateLimitConfig
	prefix string
}

// NewRateLimiter creates a new Redis-backed rate limiter
func NewRateLimiter(redisClient *redis.Client, config *RateLimitConfig, prefix string) *RateLimiter {
	if config == nil {
		config = DefaultRateLimitConfig()
	}
	if prefix == "" {
		prefix = "doorway:ratelimit"
	}

	return &RateLimiter{
		redis:  redisClient,
		config: config,
		prefix: prefix,
	}
}

// Allow counts the request and reports whether it fits the current window.
// On a Redis error it reports true alongside the error; the caller decides
// whether to fail open.
func (rl *RateLimiter) Allow(ctx context.Context, key string) (bool, error) {
	redisKey := fmt.Sprintf("%s:%s", rl.prefix, key)

	pipe := rl.redis.Pipeline()
	incr := pipe.Incr(ctx, redisKey)
	pipe.Expire(ctx, redisKey, rl.config.WindowDuration)

	if _, err := pipe.Exec(ctx); err != nil {
		return true, fmt.Errorf("redis error: %w", err)
	}

	return incr.Val() <= rl.config.limit(), nil
}

// Remaining returns the number of requests left in the window
func (rl *RateLimiter) Remaining(ctx context.Context, key string) (int64, error) {
	redisKey := fmt.Sprintf("%s:%s", rl.prefix, key)

	count, err := rl.redis.Get(ctx, redisKey).Int64()
	if err == redis.Nil {
		return rl.config.limit(), nil
	}
	if err != nil {
		return 0, err
	}

	remaining := rl.config.limit() - count
	if remaining < 0 {
		remaining = 0
	}
	return remaining, nil
}

// TTL returns the time until the rate limit window resets
func (rl *RateLimiter) TTL(ctx context.Context, key string) (time.Duration, error) {
	redisKey := fmt.Sprintf("%s:%s", rl.prefix, key)
	return rl.redis.TTL(ctx, redisKey).Result()
}

// Reset clears the counter for a key
func (rl *RateLimiter) Reset(ctx context.Context, key string) error {
	redisKey := fmt.Sprintf("%s:%s", rl.prefix, key)
	return rl.redis.Del(ctx, redisKey).Err()
}

// RateLimitMiddleware limits request rates per organization. Requests that
// carry no identity yet (the middleware mounted ahead of identity, or probes
// that bypass it) are limited per client IP instead.
type RateLimitMiddleware struct {
	orgLimiter *RateLimiter
	ipLimiter  *RateLimiter
	logger     *observability.Logger
	metrics    *observability.Metrics
}

// NewRateLimitMiddleware creates a new Redis-backed rate limit middleware
func NewRateLimitMiddleware(redisClient *redis.Client, config *RateLimitConfig, logger *observability.Logger, metrics *observability.Metrics) *RateLimitMiddleware {
	return &RateLimitMiddleware{
		orgLimiter: NewRateLimiter(redisClient, config, "doorway:ratelimit:org"),
		ipLimiter:  NewRateLimiter(redisClient, config, "doorway:ratelimit:ip"),
		logger:     logger,
		metrics:    metrics,
	}
}

// Handler wraps an HTTP handler with rate limiting
func (m *RateLimitMiddleware) Handler(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()

		var scope, key string
		var limiter *RateLimiter

		if sc := security.FromContext(ctx); sc != nil {
			scope = "organization"
			key = fmt.Sprintf("org:%d", sc.OrganizationID)
			limiter = m.orgLimiter
		} else {
			scope = "ip"
			key = "ip:" + clientIP(r)
			limiter = m.ipLimiter
		}

		allowed, err := limiter.Allow(ctx, key)
		if err != nil {
			// Fail open on Redis errors; every record access still has to
			// pass the security check.
			m.logger.WithError(err).Warn("Rate limiter unavailable, request allowed")
			next.ServeHTTP(w, r)
			return
		}

		if !allowed {
			if m.metrics != nil {
				m.metrics.RateLimitedTotal.WithLabelValues(scope).Inc()
			}
			m.tooManyRequests(ctx, w, limiter, key)
			return
		}

		if remaining, err := limiter.Remaining(ctx, key); err == nil {
			w.Header().Set("X-RateLimit-Limit", strconv.FormatInt(limiter.config.limit(), 10))
			w.Header().Set("X-RateLimit-Remaining", strconv.FormatInt(remaining, 10))
		}

		next.ServeHTTP(w, r)
	})
}

func (m *RateLimitMiddleware) tooManyRequests(ctx context.Context, w http.ResponseWriter, limiter *RateLimiter, key string) {
	retryAfter := limiter.config.WindowDuration
	if ttl, err := limiter.TTL(ctx, key); err == nil && ttl > 0 {
		retryAfter = ttl
	}

	w.Header().Set("Retry-After", strconv.Itoa(int(retryAfter.Seconds())))
	w.Header().Set("X-RateLimit-Limit", strconv.FormatInt(limiter.config.limit(), 10))
	w.Header().Set("X-RateLimit-Remaining", "0")
	httputil.WriteTooManyRequests(w, "rate limit exceeded")
}

func clientIP(r *http.Request) string {
	if forwarded := r.Header.Get("X-Forwarded-For"); forwarded != "" {
		return forwarded
	}
	if realIP := r.Header.Get("X-Real-IP"); realIP != "" {
		return realIP
	}
	return r.RemoteAddr
}
