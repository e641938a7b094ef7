package cache

import (
	"context"
	"time"

	"golang.org/x/sync/singleflight"
)

// Flight deduplicates concurrent misses on the same key: at most one
// compute runs per key, and every caller that arrived during the
// computation receives the same bytes. The group releases its entry even
// when compute panics or the leader is cancelled, so a key cannot wedge.
type Flight struct {
	tier  *Tier
	group singleflight.Group
}

func NewFlight(tier *Tier) *Flight {
	return &Flight{tier: tier}
}

// Result reports how a Do call was satisfied.
type Result struct {
	FromCache bool
	Coalesced bool
}

type flightValue struct {
	bytes     []byte
	fromCache bool
}

// Do returns the cached value for key, or computes it exactly once across
// concurrent callers. Computed results fill the tier asynchronously with
// the given TTL. The returned slice is the caller's own copy.
func (f *Flight) Do(ctx context.Context, key string, ttl time.Duration, compute func(context.Context) ([]byte, error)) ([]byte, Result, error) {
	if val, ok := f.tier.GetBytes(ctx, key); ok {
		return val, Result{FromCache: true}, nil
	}

	// The closure runs only in the leader's call; waiters never execute it,
	// so a false flag here marks a coalesced caller.
	leader := false
	v, err, _ := f.group.Do(key, func() (any, error) {
		leader = true
		// A peer may have filled the key between our miss and winning the
		// flight.
		if val, ok := f.tier.GetBytes(ctx, key); ok {
			return flightValue{bytes: val, fromCache: true}, nil
		}
		val, err := compute(ctx)
		if err != nil {
			return flightValue{}, err
		}
		f.tier.SetBytesAsync(key, val, ttl)
		return flightValue{bytes: val}, nil
	})
	if err != nil {
		return nil, Result{Coalesced: !leader}, err
	}

	fv := v.(flightValue)
	out := make([]byte, len(fv.bytes))
	copy(out, fv.bytes)
	return out, Result{FromCache: fv.fromCache, Coalesced: !leader}, nil
}

// Forget drops any in-flight record for key so the next caller recomputes.
func (f *Flight) Forget(key string) {
	f.group.Forget(key)
}
