package ratelimit

import (
	"context"
	"log/slog"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	goredis "github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cinemux/cinemux/internal/cache"
)

func newTestLimiter(t *testing.T, limits Limits) (*Limiter, *cache.Tier) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := goredis.NewClient(&goredis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	log := slog.New(slog.DiscardHandler)
	tier := cache.NewTier(cache.NewStoreWithClient(client, "cinemux"), log)
	return New(tier, cache.NewKeyBuilder("1"), limits, log), tier
}

func anon(ip string) Identity {
	return Identity{Key: "anonymous:" + ip}
}

func TestLimiterBurstAdmission(t *testing.T) {
	limits := DefaultLimits()
	limits.AnonymousStandard = Policy{RPS: 5, Burst: 10}
	l, _ := newTestLimiter(t, limits)

	base := time.Unix(1700000000, 0)
	l.now = func() time.Time { return base }

	id := anon("1.2.3.4")
	var allowed, rejected int
	for i := 0; i < 15; i++ {
		// Tight burst: each request lands microseconds apart.
		offset := time.Duration(i) * 10 * time.Millisecond
		l.now = func() time.Time { return base.Add(offset) }

		res := l.Check(context.Background(), id, TierStandard)
		if res.Allowed {
			allowed++
			assert.Equal(t, 10, res.Limit)
		} else {
			rejected++
			assert.Equal(t, 0, res.Remaining)
			assert.GreaterOrEqual(t, res.RetryAfter, 1)
			assert.LessOrEqual(t, res.RetryAfter, 2)
		}
	}

	assert.Equal(t, 10, allowed, "first 10 of 15 admitted")
	assert.Equal(t, 5, rejected, "remaining 5 rejected")
}

func TestLimiterWindowSlides(t *testing.T) {
	limits := DefaultLimits()
	limits.AnonymousStandard = Policy{RPS: 5, Burst: 10}
	l, _ := newTestLimiter(t, limits)

	base := time.Unix(1700000000, 0)
	id := anon("1.2.3.4")

	for i := 0; i < 10; i++ {
		offset := time.Duration(i) * time.Millisecond
		l.now = func() time.Time { return base.Add(offset) }
		res := l.Check(context.Background(), id, TierStandard)
		require.True(t, res.Allowed)
	}

	l.now = func() time.Time { return base.Add(10 * time.Millisecond) }
	res := l.Check(context.Background(), id, TierStandard)
	require.False(t, res.Allowed, "burst exhausted")

	// After 1.1s idle the whole window has drained.
	for i := 0; i < 10; i++ {
		offset := 1100*time.Millisecond + time.Duration(i)*time.Millisecond
		l.now = func() time.Time { return base.Add(offset) }
		res := l.Check(context.Background(), id, TierStandard)
		assert.True(t, res.Allowed, "request %d should be admitted after idle", i)
	}
}

func TestLimiterRemainingCountsDown(t *testing.T) {
	limits := DefaultLimits()
	limits.AnonymousStandard = Policy{RPS: 3, Burst: 3}
	l, _ := newTestLimiter(t, limits)

	base := time.Unix(1700000000, 0)
	id := anon("9.9.9.9")

	want := []int{2, 1, 0}
	for i, expected := range want {
		offset := time.Duration(i) * time.Millisecond
		l.now = func() time.Time { return base.Add(offset) }
		res := l.Check(context.Background(), id, TierStandard)
		require.True(t, res.Allowed)
		assert.Equal(t, expected, res.Remaining)
	}
}

func TestLimiterSeparatesIdentitiesAndTiers(t *testing.T) {
	limits := DefaultLimits()
	limits.AnonymousStandard = Policy{RPS: 1, Burst: 1}
	limits.AnonymousSearch = Policy{RPS: 1, Burst: 1}
	l, _ := newTestLimiter(t, limits)

	base := time.Unix(1700000000, 0)
	l.now = func() time.Time { return base }
	ctx := context.Background()

	require.True(t, l.Check(ctx, anon("1.1.1.1"), TierStandard).Allowed)
	assert.False(t, l.Check(ctx, anon("1.1.1.1"), TierStandard).Allowed, "same identity+tier shares a window")

	assert.True(t, l.Check(ctx, anon("2.2.2.2"), TierStandard).Allowed, "different identity has its own window")
	assert.True(t, l.Check(ctx, anon("1.1.1.1"), TierSearch).Allowed, "different tier has its own window")
	assert.True(t, l.Check(ctx, Identity{Key: "authenticated:u1", Authenticated: true}, TierStandard).Allowed)
}

func TestLimiterFailOpen(t *testing.T) {
	t.Run("store unreachable", func(t *testing.T) {
		mr, err := miniredis.Run()
		require.NoError(t, err)
		client := goredis.NewClient(&goredis.Options{Addr: mr.Addr()})
		t.Cleanup(func() { _ = client.Close() })
		mr.Close()

		log := slog.New(slog.DiscardHandler)
		tier := cache.NewTier(cache.NewStoreWithClient(client, "cinemux"), log)
		l := New(tier, cache.NewKeyBuilder("1"), DefaultLimits(), log)

		res := l.Check(context.Background(), anon("1.2.3.4"), TierStandard)
		assert.True(t, res.Allowed)
		assert.True(t, res.Bypassed)
	})

	t.Run("no store configured", func(t *testing.T) {
		log := slog.New(slog.DiscardHandler)
		tier := cache.NewTier(nil, log)
		l := New(tier, cache.NewKeyBuilder("1"), DefaultLimits(), log)

		res := l.Check(context.Background(), anon("1.2.3.4"), TierStandard)
		assert.True(t, res.Allowed)
		assert.True(t, res.Bypassed)
	})

	t.Run("tier disabled at runtime", func(t *testing.T) {
		limits := DefaultLimits()
		limits.AnonymousStandard = Policy{RPS: 1, Burst: 1}
		l, tier := newTestLimiter(t, limits)
		ctx := context.Background()

		require.True(t, l.Check(ctx, anon("3.3.3.3"), TierStandard).Allowed)
		require.False(t, l.Check(ctx, anon("3.3.3.3"), TierStandard).Allowed)

		tier.SetEnabled(false)
		res := l.Check(ctx, anon("3.3.3.3"), TierStandard)
		assert.True(t, res.Allowed, "disabled tier admits everything")
		assert.True(t, res.Bypassed)
	})
}

func TestLimiterPolicySelection(t *testing.T) {
	limits := Limits{
		AnonymousStandard:     Policy{RPS: 1, Burst: 1},
		AnonymousSearch:       Policy{RPS: 2, Burst: 2},
		AuthenticatedStandard: Policy{RPS: 3, Burst: 3},
		AuthenticatedSearch:   Policy{RPS: 4, Burst: 4},
	}
	l, _ := newTestLimiter(t, limits)

	tests := []struct {
		name      string
		id        Identity
		tier      string
		wantBurst int
	}{
		{"anon standard", anon("1.1.1.1"), TierStandard, 1},
		{"anon search", anon("1.1.1.1"), TierSearch, 2},
		{"auth standard", Identity{Key: "authenticated:u", Authenticated: true}, TierStandard, 3},
		{"auth search", Identity{Key: "authenticated:u", Authenticated: true}, TierSearch, 4},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.wantBurst, l.policy(tt.id, tt.tier).Burst)
		})
	}
}
