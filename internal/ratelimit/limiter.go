// Package ratelimit implements the gateway's fixed-window rate limit:
// counters per (subject, action-kind), where subject is a user id or an
// IP address. Every check increments both counters atomically in Redis
// and denies if either exceeds the configured maximum.
//
// The counters live in Redis rather than a per-process token bucket
// because the limit must hold across every gateway instance a user's
// connections land on.
package ratelimit

import (
	"context"
	"time"

	"github.com/bricerising/tablegate/internal/cache"
	"github.com/bricerising/tablegate/internal/logger"
)

const (
	userKeyPrefix = "ratelimit:ws:user:"
	ipKeyPrefix   = "ratelimit:ws:ip:"
)

// Limiter enforces the gateway's fixed-window rate limit: each counter's
// window starts at its first increment and ends when its TTL expires.
type Limiter struct {
	store  *cache.Cache
	window time.Duration
	max    int64
}

// New constructs a Limiter with the given window and max count per window.
func New(store *cache.Cache, window time.Duration, max int) *Limiter {
	return &Limiter{store: store, window: window, max: int64(max)}
}

// Check increments the counters for (userID, kind) and (ip, kind) and
// reports whether the request is allowed. A store failure fails open
// (the counter is treated as 0, i.e. allowed) and is logged. A rate
// limiter that takes the gateway down when Redis hiccups is worse than
// one that occasionally over-admits.
func (l *Limiter) Check(ctx context.Context, userID, ip, kind string) bool {
	userOK := l.bump(ctx, userKeyPrefix+userID+":"+kind)
	ipOK := l.bump(ctx, ipKeyPrefix+ip+":"+kind)
	return userOK && ipOK
}

func (l *Limiter) bump(ctx context.Context, key string) bool {
	count, err := l.store.Increment(ctx, key)
	if err != nil {
		logger.WebSocket().Warn().Err(err).Str("key", key).Msg("ratelimit: store unavailable, failing open")
		return true
	}
	if count == 1 {
		if err := l.store.Expire(ctx, key, l.window); err != nil {
			logger.WebSocket().Warn().Err(err).Str("key", key).Msg("ratelimit: failed to set window TTL")
		}
	}
	return count <= l.max
}
