package quota_test

import (
	"context"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/weskerllc/cronicorn/internal/quota"
)

// fakeRedis is a minimal in-memory stand-in for the subset of *redis.Client
// the Guard depends on, avoiding a live Redis connection in unit tests.
type fakeRedis struct {
	counts map[string]int64
	ttl    map[string]time.Duration
}

func newFakeRedis() *fakeRedis {
	return &fakeRedis{counts: map[string]int64{}, ttl: map[string]time.Duration{}}
}

func (f *fakeRedis) Incr(ctx context.Context, key string) *redis.IntCmd {
	f.counts[key]++
	cmd := redis.NewIntCmd(ctx)
	cmd.SetVal(f.counts[key])
	return cmd
}

func (f *fakeRedis) Expire(ctx context.Context, key string, expiration time.Duration) *redis.BoolCmd {
	f.ttl[key] = expiration
	cmd := redis.NewBoolCmd(ctx)
	cmd.SetVal(true)
	return cmd
}

func (f *fakeRedis) Get(ctx context.Context, key string) *redis.StringCmd {
	cmd := redis.NewStringCmd(ctx)
	count, ok := f.counts[key]
	if !ok {
		cmd.SetErr(redis.Nil)
		return cmd
	}
	cmd.SetVal(itoa(count))
	return cmd
}

func itoa(n int64) string {
	if n == 0 {
		return "0"
	}
	neg := n < 0
	if neg {
		n = -n
	}
	var buf [20]byte
	i := len(buf)
	for n > 0 {
		i--
		buf[i] = byte('0' + n%10)
		n /= 10
	}
	if neg {
		i--
		buf[i] = '-'
	}
	return string(buf[i:])
}

func TestGuard_AllowsUpToLimitThenBlocks(t *testing.T) {
	redisFake := newFakeRedis()
	g := quota.NewGuard(redisFake, "planner", 2, time.Hour)

	ctx := context.Background()
	for i := 0; i < 2; i++ {
		ok, err := g.Allow(ctx, "ep-1")
		if err != nil {
			t.Fatalf("allow: %v", err)
		}
		if !ok {
			t.Fatalf("expected call %d to be allowed", i+1)
		}
	}

	ok, err := g.Allow(ctx, "ep-1")
	if err != nil {
		t.Fatalf("allow: %v", err)
	}
	if ok {
		t.Fatal("expected third call to exceed the limit")
	}
}

func TestGuard_SeparateKeysHaveIndependentBudgets(t *testing.T) {
	redisFake := newFakeRedis()
	g := quota.NewGuard(redisFake, "planner", 1, time.Hour)

	ctx := context.Background()
	ok1, _ := g.Allow(ctx, "ep-1")
	ok2, _ := g.Allow(ctx, "ep-2")
	if !ok1 || !ok2 {
		t.Fatal("expected both endpoints' first calls to be allowed independently")
	}
}

func TestGuard_RemainingReflectsUsage(t *testing.T) {
	redisFake := newFakeRedis()
	g := quota.NewGuard(redisFake, "planner", 3, time.Hour)

	ctx := context.Background()
	if remaining, _ := g.Remaining(ctx, "ep-1"); remaining != 3 {
		t.Fatalf("expected 3 remaining before any call, got %d", remaining)
	}
	_, _ = g.Allow(ctx, "ep-1")
	if remaining, _ := g.Remaining(ctx, "ep-1"); remaining != 2 {
		t.Fatalf("expected 2 remaining after one call, got %d", remaining)
	}
}

func TestGuard_FirstIncrSetsExpiry(t *testing.T) {
	redisFake := newFakeRedis()
	g := quota.NewGuard(redisFake, "planner", 5, 15*time.Minute)

	ctx := context.Background()
	_, _ = g.Allow(ctx, "ep-1")
	if redisFake.ttl["planner:ep-1"] != 15*time.Minute {
		t.Fatalf("expected window ttl to be set on first increment, got %v", redisFake.ttl["planner:ep-1"])
	}
}
