package retriever

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisContradictionGuard implements ContradictionGuard with a Redis SETNX,
// the same primitive the teacher's OTP rate limiter builds on
// (internal/service/otp_rate_limiter_redis.go). Across concurrent workers
// handling turns for the same character, this keeps phase-9b's Recommend
// call from firing twice in the same window for an identical
// (collection, entity) pair.
type RedisContradictionGuard struct {
	client *redis.Client
	ttl    time.Duration
	prefix string
}

func NewRedisContradictionGuard(client *redis.Client, ttl time.Duration) *RedisContradictionGuard {
	if ttl <= 0 {
		ttl = 30 * time.Second
	}
	return &RedisContradictionGuard{client: client, ttl: ttl, prefix: "contradiction:guard:"}
}

// Acquire returns true if this call is the first to claim key within the
// guard's TTL. A Redis error fails open (returns true) so a guard outage
// never blocks contradiction detection, only its cross-instance dedup.
func (g *RedisContradictionGuard) Acquire(ctx context.Context, key string) bool {
	if g == nil || g.client == nil {
		return true
	}
	ok, err := g.client.SetNX(ctx, g.prefix+key, 1, g.ttl).Result()
	if err != nil {
		return true
	}
	return ok
}
