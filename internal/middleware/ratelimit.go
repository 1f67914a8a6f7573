package middleware

import (
	"context"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// RateLimitConfig holds rate limiting configuration
type RateLimitConfig struct {
	RequestsPerWindow int
	Window            time.Duration
	KeyPrefix         string
}

// fixedWindow counts a hit and starts the window on the first one.
// It returns the new count and the milliseconds left in the window.
var fixedWindow = redis.NewScript(`
local n = redis.call("INCR", KEYS[1])
if n == 1 then
	redis.call("PEXPIRE", KEYS[1], ARGV[1])
end
return {n, redis.call("PTTL", KEYS[1])}
`)

type rateLimiter struct {
	rdb    redis.Scripter
	cfg    RateLimitConfig
	logger *zap.Logger
}

// hit records one request for client and reports the count so far and the time
// until the window closes
func (l *rateLimiter) hit(ctx context.Context, client string) (int64, time.Duration, error) {
	key := l.cfg.KeyPrefix + ":" + client
	res, err := fixedWindow.Run(ctx, l.rdb, []string{key}, l.cfg.Window.Milliseconds()).Int64Slice()
	if err != nil {
		return 0, 0, err
	}
	ttl := time.Duration(res[1]) * time.Millisecond
	if ttl <= 0 {
		ttl = l.cfg.Window
	}
	return res[0], ttl, nil
}

// RateLimitMiddleware limits each client to RequestsPerWindow requests per fixed
// window kept in Redis. Authenticated requests are counted per user, anonymous ones
// per client IP. When Redis cannot be reached requests are let through.
func RateLimitMiddleware(rdb redis.Scripter, cfg RateLimitConfig, logger *zap.Logger) func(http.Handler) http.Handler {
	l := &rateLimiter{rdb: rdb, cfg: cfg, logger: logger}
	limit := strconv.Itoa(cfg.RequestsPerWindow)

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			client := clientKey(r)

			count, ttl, err := l.hit(r.Context(), client)
			if err != nil {
				l.logger.Warn("Rate limiter unavailable, letting request through",
					zap.String("client", client), zap.Error(err))
				next.ServeHTTP(w, r)
				return
			}

			remaining := int64(cfg.RequestsPerWindow) - count
			if remaining < 0 {
				remaining = 0
			}
			h := w.Header()
			h.Set("X-RateLimit-Limit", limit)
			h.Set("X-RateLimit-Remaining", strconv.FormatInt(remaining, 10))
			h.Set("X-RateLimit-Reset", strconv.FormatInt(time.Now().Add(ttl).Unix(), 10))

			if count > int64(cfg.RequestsPerWindow) {
				l.logger.Warn("Rate limit exceeded", zap.String("client", client), zap.Int64("count", count))
				h.Set("Retry-After", strconv.Itoa(int((ttl+time.Second-1)/time.Second)))
				RespondWithError(w, http.StatusTooManyRequests, "rate limit exceeded")
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

func clientKey(r *http.Request) string {
	if actor, err := ActorFromContext(r.Context()); err == nil {
		return "user:" + actor.ID.String()
	}
	if host, _, err := net.SplitHostPort(r.RemoteAddr); err == nil {
		return "ip:" + host
	}
	return "ip:" + r.RemoteAddr
}
