package middleware

import (
	"context"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"vision2viral/internal/metrics"

	"github.com/go-redis/redis/v8"
	"github.com/rs/zerolog"
)

// RateLimiter is a Redis fixed-window counter shared by all API instances.
type RateLimiter struct {
	redis  *redis.Client
	limit  int
	window time.Duration
	prefix string
	now    func() time.Time
}

// NewRateLimiter allows limit requests per key in each window.
func NewRateLimiter(client *redis.Client, limit int, window time.Duration, prefix string) *RateLimiter {
	if prefix == "" {
		prefix = "ratelimit"
	}
	return &RateLimiter{redis: client, limit: limit, window: window, prefix: prefix, now: time.Now}
}

// Allow counts one request for key and reports whether it is within the limit
// and how long until the window resets. On Redis errors it allows the request
// and returns the error.
func (rl *RateLimiter) Allow(ctx context.Context, key string) (bool, time.Duration, error) {
	now := rl.now()
	windowStart := now.Truncate(rl.window)
	reset := windowStart.Add(rl.window).Sub(now)
	redisKey := fmt.Sprintf("%s:%s:%d", rl.prefix, key, windowStart.Unix())

	pipe := rl.redis.TxPipeline()
	incr := pipe.Incr(ctx, redisKey)
	pipe.Expire(ctx, redisKey, rl.window)
	if _, err := pipe.Exec(ctx); err != nil {
		return true, reset, fmt.Errorf("redis error: %w", err)
	}
	return incr.Val() <= int64(rl.limit), reset, nil
}

// RateLimitMiddleware limits authenticated callers by user id. Requests
// without an identity pass through. A nil limiter disables limiting.
func RateLimitMiddleware(rl *RateLimiter, m *metrics.Metrics, logger zerolog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		if rl == nil {
			return next
		}
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			userID := UserIDFrom(r.Context())
			if userID == "" {
				next.ServeHTTP(w, r)
				return
			}
			allowed, reset, err := rl.Allow(r.Context(), "user:"+userID)
			if err != nil {
				logger.Warn().Err(err).Str("user_id", userID).Msg("Rate limiter unavailable; allowing request")
				next.ServeHTTP(w, r)
				return
			}
			w.Header().Set("X-RateLimit-Limit", strconv.Itoa(rl.limit))
			if !allowed {
				m.RateLimited()
				retryAfter := int(reset.Round(time.Second).Seconds())
				if retryAfter < 1 {
					retryAfter = 1
				}
				w.Header().Set("Retry-After", strconv.Itoa(retryAfter))
				w.Header().Set("X-RateLimit-Remaining", "0")
				writeError(w, http.StatusTooManyRequests, "rate limit exceeded")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
