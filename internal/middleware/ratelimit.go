package middleware

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"quill/internal/observability"

	"github.com/gofiber/fiber/v2"
	"github.com/redis/go-redis/v9"
	"golang.org/x/time/rate"
)

// FailPolicy defines the behavior when the rate limit store (Redis) is unavailable.
type FailPolicy int

const (
	// FailOpen falls back to an in-process limiter if Redis is unavailable.
	FailOpen FailPolicy = iota
	// FailClosed blocks the request (503 Service Unavailable) if Redis is unavailable.
	FailClosed
)

// RateLimiter enforces a fixed-window request budget per caller in Redis,
// with a per-process token bucket used when Redis is absent or failing.
type RateLimiter struct {
	rdb    *redis.Client
	limit  int
	window time.Duration
	policy FailPolicy

	mu    sync.Mutex
	local map[string]*rate.Limiter
}

// NewRateLimiter builds a limiter allowing limit requests per window.
func NewRateLimiter(rdb *redis.Client, limit int, window time.Duration, policy FailPolicy) *RateLimiter {
	if limit <= 0 {
		limit = 1
	}
	if window <= 0 {
		window = time.Minute
	}
	return &RateLimiter{
		rdb:    rdb,
		limit:  limit,
		window: window,
		policy: policy,
		local:  make(map[string]*rate.Limiter),
	}
}

// CheckRateLimit checks if a resource has exceeded its rate limit in Redis.
// Returns true if allowed, false if limit exceeded.
func CheckRateLimit(ctx context.Context, rdb *redis.Client, resource, id string, limit int, window time.Duration) (bool, error) {
	if rdb == nil {
		return false, fmt.Errorf("redis client is nil")
	}

	key := fmt.Sprintf("rl:%s:%s", resource, id)

	cnt, err := rdb.Incr(ctx, key).Result()
	if err != nil {
		return false, err
	}
	if cnt == 1 {
		rdb.Expire(ctx, key, window)
	}
	return cnt <= int64(limit), nil
}

// Allow reports whether the caller id may hit resource now.
func (l *RateLimiter) Allow(ctx context.Context, resource, id string) (bool, error) {
	if l.rdb == nil {
		return l.allowLocal(resource, id), nil
	}
	allowed, err := CheckRateLimit(ctx, l.rdb, resource, id, l.limit, l.window)
	if err == nil {
		return allowed, nil
	}
	observability.RedisErrorRate.WithLabelValues("rate_limit").Inc()
	if l.policy == FailClosed {
		return false, err
	}
	return l.allowLocal(resource, id), nil
}

func (l *RateLimiter) allowLocal(resource, id string) bool {
	key := resource + ":" + id
	l.mu.Lock()
	lim, ok := l.local[key]
	if !ok {
		lim = rate.NewLimiter(rate.Every(l.window/time.Duration(l.limit)), l.limit)
		l.local[key] = lim
	}
	l.mu.Unlock()
	return lim.Allow()
}

// Handler returns a Fiber middleware keyed by authenticated user id, else remote IP.
func (l *RateLimiter) Handler(resource string) fiber.Handler {
	return func(c *fiber.Ctx) error {
		var id string
		if uid, ok := c.Locals("userID").(string); ok && uid != "" {
			id = "user:" + uid
		} else {
			id = "ip:" + c.IP()
		}

		allowed, err := l.Allow(c.UserContext(), resource, id)
		if err != nil {
			Logger.WarnContext(c.UserContext(), "rate limit store unavailable, failing closed",
				slog.String("resource", resource),
				slog.String("error", err.Error()),
			)
			return c.Status(fiber.StatusServiceUnavailable).JSON(fiber.Map{
				"error": "rate limit unavailable",
			})
		}
		if !allowed {
			return c.Status(fiber.StatusTooManyRequests).JSON(fiber.Map{
				"error": "rate limit exceeded",
			})
		}
		return c.Next()
	}
}
