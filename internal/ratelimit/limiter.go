// Package ratelimit implements per-identity sliding-window rate limiting
// on the cache store's sorted sets. The limiter fails open: when the store
// is unreachable or the cache tier is disabled, every request is admitted.
package ratelimit

import (
	"context"
	"log/slog"
	"math"
	"time"

	"github.com/google/uuid"

	"github.com/cinemux/cinemux/internal/cache"
)

// Tiers. Search catalogs fan out to expensive upstream queries and get
// stricter budgets.
const (
	TierStandard = "standard"
	TierSearch   = "search"
)

// window is the sliding admission window.
const window = time.Second

// Policy is the admission budget for one identity class and tier.
// Admission is burst-per-window; RPS is the advertised sustained rate.
type Policy struct {
	RPS   int `yaml:"rps"`
	Burst int `yaml:"burst"`
}

// Limits holds the four policies: anonymous/authenticated x standard/search.
type Limits struct {
	AnonymousStandard     Policy `yaml:"anonymous_standard"`
	AnonymousSearch       Policy `yaml:"anonymous_search"`
	AuthenticatedStandard Policy `yaml:"authenticated_standard"`
	AuthenticatedSearch   Policy `yaml:"authenticated_search"`
}

// DefaultLimits returns the shipped budgets.
func DefaultLimits() Limits {
	return Limits{
		AnonymousStandard:     Policy{RPS: 10, Burst: 20},
		AnonymousSearch:       Policy{RPS: 2, Burst: 5},
		AuthenticatedStandard: Policy{RPS: 20, Burst: 40},
		AuthenticatedSearch:   Policy{RPS: 5, Burst: 10},
	}
}

// Result is the outcome of one admission check.
type Result struct {
	Allowed    bool
	Limit      int
	Remaining  int
	RetryAfter int
	ResetAt    time.Time
	Bypassed   bool
}

// Limiter admits requests against per-identity sorted-set windows.
type Limiter struct {
	tier   *cache.Tier
	keys   *cache.KeyBuilder
	limits Limits
	log    *slog.Logger
	now    func() time.Time
}

func New(tier *cache.Tier, keys *cache.KeyBuilder, limits Limits, log *slog.Logger) *Limiter {
	return &Limiter{
		tier:   tier,
		keys:   keys,
		limits: limits,
		log:    log,
		now:    time.Now,
	}
}

func (l *Limiter) policy(id Identity, tier string) Policy {
	switch {
	case id.Authenticated && tier == TierSearch:
		return l.limits.AuthenticatedSearch
	case id.Authenticated:
		return l.limits.AuthenticatedStandard
	case tier == TierSearch:
		return l.limits.AnonymousSearch
	default:
		return l.limits.AnonymousStandard
	}
}

// PolicyFor returns the budget an identity is checked against on a tier.
// Handlers use it to fill rate limit headers without another store round.
func (l *Limiter) PolicyFor(id Identity, tier string) Policy {
	return l.policy(id, tier)
}

// Check runs one admission round: trim the identity's window, count, admit
// iff count < burst, and on admit append a (now, nonce) member and refresh
// the set's expiry to two windows. Any store failure admits the request
// with Bypassed set.
func (l *Limiter) Check(ctx context.Context, id Identity, tier string) Result {
	pol := l.policy(id, tier)
	if pol.Burst <= 0 {
		return l.bypass(pol)
	}
	store := l.tier.Store()
	if store == nil || !l.tier.Enabled() {
		return l.bypass(pol)
	}

	key := l.keys.RateLimit(tier, id.Key)
	now := l.now()
	cutoff := now.Add(-window).UnixMicro()

	count, err := store.ZWindow(ctx, key, float64(cutoff))
	if err != nil {
		l.log.Warn("rate limiter store failure, admitting", "identity", id.Key, "error", err)
		return l.bypass(pol)
	}

	if count >= int64(pol.Burst) {
		return l.reject(ctx, store, key, pol, now)
	}

	member := uuid.NewString()
	if err := store.ZAppend(ctx, key, member, float64(now.UnixMicro()), 2*window); err != nil {
		l.log.Warn("rate limiter store failure, admitting", "identity", id.Key, "error", err)
		return l.bypass(pol)
	}

	return Result{
		Allowed:   true,
		Limit:     pol.Burst,
		Remaining: pol.Burst - int(count) - 1,
		ResetAt:   now.Add(window),
	}
}

// reject builds the 429 guidance: Retry-After is the ceiling of the seconds
// until the oldest in-window member leaves the window, at least 1.
func (l *Limiter) reject(ctx context.Context, store *cache.Store, key string, pol Policy, now time.Time) Result {
	retryAfter := 1
	resetAt := now.Add(window)

	if oldest, ok, err := store.ZOldest(ctx, key); err == nil && ok {
		expiresAt := time.UnixMicro(int64(oldest.Score)).Add(window)
		if secs := expiresAt.Sub(now).Seconds(); secs > 0 {
			retryAfter = int(math.Ceil(secs))
		}
		resetAt = expiresAt
	}

	return Result{
		Allowed:    false,
		Limit:      pol.Burst,
		Remaining:  0,
		RetryAfter: retryAfter,
		ResetAt:    resetAt,
	}
}

func (l *Limiter) bypass(pol Policy) Result {
	return Result{
		Allowed:   true,
		Limit:     pol.Burst,
		Remaining: pol.Burst,
		ResetAt:   l.now().Add(window),
		Bypassed:  true,
	}
}
