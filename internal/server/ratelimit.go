package server

import (
	"context"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

const (
	DefaultRateLimitMax    = 10
	DefaultRateLimitWindow = 60 * time.Second

	rateLimitPrefix = "ratelimit:payer:"
)

// RateLimit is a fixed window per payer.
type RateLimit struct {
	MaxRequests int
	Window      time.Duration
}

// Limiter counts paid requests per payer in Redis. The first INCR of a
// window sets its expiry.
type Limiter struct {
	rdb *redis.Client
	cfg RateLimit
	log *zap.Logger
}

func NewLimiter(rdb *redis.Client, cfg RateLimit, log *zap.Logger) *Limiter {
	if cfg.MaxRequests <= 0 {
		cfg.MaxRequests = DefaultRateLimitMax
	}
	if cfg.Window <= 0 {
		cfg.Window = DefaultRateLimitWindow
	}
	return &Limiter{rdb: rdb, cfg: cfg, log: log}
}

// Allow reports whether payer may make another request in the current
// window, and how long until the window resets. Redis failures allow the
// request.
func (l *Limiter) Allow(ctx context.Context, payer string) (bool, time.Duration) {
	key := rateLimitPrefix + strings.ToLower(payer)
	n, err := l.rdb.Incr(ctx, key).Result()
	if err != nil {
		l.log.Warn("ratelimit: incr failed, allowing", zap.String("payer", payer), zap.Error(err))
		return true, 0
	}
	if n == 1 {
		if err := l.rdb.Expire(ctx, key, l.cfg.Window).Err(); err != nil {
			l.log.Warn("ratelimit: expire failed", zap.String("payer", payer), zap.Error(err))
		}
		return true, l.cfg.Window
	}
	ttl, err := l.rdb.TTL(ctx, key).Result()
	if err != nil || ttl < 0 {
		// window key lost its expiry; reset it
		l.rdb.Expire(ctx, key, l.cfg.Window) //nolint:errcheck
		ttl = l.cfg.Window
	}
	return n <= int64(l.cfg.MaxRequests), ttl
}
