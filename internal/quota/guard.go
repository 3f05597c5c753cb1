// Package quota implements a distributed rate limit on how often a
// caller-supplied key (the planner and the dispatch tick both key by tenant
// id) may proceed, shared across every scheduler node via Redis so the
// limit holds cluster-wide rather than per-process. Grounded on the registry package's use of a shared Redis
// instance for cross-node coordination, simplified here to a single
// counter-with-TTL primitive rather than its full replicated-map/Pulse
// stream machinery — the planner only needs "how many calls this window,"
// not cluster membership or health tracking.
package quota

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// ErrQuotaExceeded names the condition of a used-up budget for the current
// window. Allow does not return it: Allow reports a denial as false with a
// nil error.
var ErrQuotaExceeded = fmt.Errorf("quota exceeded for current window")

// redisClient is the narrow slice of *redis.Client this package depends on,
// so tests can supply a fake instead of a live Redis connection.
type redisClient interface {
	Incr(ctx context.Context, key string) *redis.IntCmd
	Expire(ctx context.Context, key string, expiration time.Duration) *redis.BoolCmd
	Get(ctx context.Context, key string) *redis.StringCmd
}

// Guard enforces "at most Limit calls per Window" per key.
type Guard struct {
	client redisClient
	prefix string
	limit  int
	window time.Duration
}

// NewGuard builds a Guard. client is typically a *redis.Client; the
// parameter is typed as the narrower redisClient interface so tests can
// supply an in-memory fake instead of a live connection.
func NewGuard(client redisClient, prefix string, limit int, window time.Duration) *Guard {
	if limit <= 0 {
		limit = 1
	}
	if window <= 0 {
		window = time.Hour
	}
	return &Guard{client: client, prefix: prefix, limit: limit, window: window}
}

// Allow increments the counter for key and reports whether the caller is
// still within budget. The first increment in a window sets the window's
// expiry; subsequent increments within the same window do not extend it, so
// the window is fixed rather than sliding.
func (g *Guard) Allow(ctx context.Context, key string) (bool, error) {
	redisKey := g.prefix + ":" + key

	count, err := g.client.Incr(ctx, redisKey).Result()
	if err != nil {
		return false, fmt.Errorf("quota incr: %w", err)
	}
	if count == 1 {
		if err := g.client.Expire(ctx, redisKey, g.window).Err(); err != nil {
			return false, fmt.Errorf("quota expire: %w", err)
		}
	}
	return count <= int64(g.limit), nil
}

// Remaining reports how many calls are left in the current window without
// consuming one, or g.limit if the window has not started yet.
func (g *Guard) Remaining(ctx context.Context, key string) (int, error) {
	redisKey := g.prefix + ":" + key
	count, err := g.client.Get(ctx, redisKey).Int64()
	if err != nil {
		if err == redis.Nil {
			return g.limit, nil
		}
		return 0, fmt.Errorf("quota get: %w", err)
	}
	remaining := int64(g.limit) - count
	if remaining < 0 {
		remaining = 0
	}
	return int(remaining), nil
}
