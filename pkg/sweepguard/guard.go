package sweepguard

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// Guard prevents two sweeps over the same scope from running concurrently.
// Acquisition is a Redis SetNX with a TTL so a crashed sweeper cannot hold
// the scope forever.
type Guard struct {
	rdb *redis.Client
	ttl time.Duration
}

func NewGuard(rdb *redis.Client, ttl time.Duration) *Guard {
	return &Guard{rdb: rdb, ttl: ttl}
}

// Acquire tries to claim the sweep scope ("all" or a project id).
// Returns true if this caller owns the scope. When Redis is unavailable the
// sweep proceeds anyway; sweeps are idempotent, so a duplicate run is wasted
// work rather than corruption.
func (g *Guard) Acquire(ctx context.Context, scope string) bool {
	key := fmt.Sprintf("sweep:inflight:%s", scope)

	ok, err := g.rdb.SetNX(ctx, key, 1, g.ttl).Result()
	if err != nil {
		return true
	}
	return ok
}

// Release frees the scope so the next trigger may run.
func (g *Guard) Release(ctx context.Context, scope string) {
	key := fmt.Sprintf("sweep:inflight:%s", scope)
	_ = g.rdb.Del(ctx, key).Err()
}
