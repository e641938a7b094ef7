package rating

import (
	"context"
	"log/slog"
	"strconv"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
	gocache "github.com/patrickmn/go-cache"

	"github.com/cinemux/cinemux/internal/cache"
	"github.com/cinemux/cinemux/internal/metrics"
	"github.com/cinemux/cinemux/internal/resilience"
)

const (
	// memoryTTL bounds the in-process positive cache. The shared tier
	// holds the durable copy; this layer only skips the network hop.
	memoryTTL = 30 * time.Minute

	// negativeTTL and negativeSize bound the per-source miss memo.
	negativeTTL  = 30 * time.Minute
	negativeSize = 4096
)

// keyer lets a source pick its shared-tier key. Sources that carry a full
// metadata payload use the data kind, optionally region-scoped; plain
// rating sources fall back to the rating kind.
type keyer interface {
	cacheKey(keys *cache.KeyBuilder, itemID string, opts Options) string
}

// Cached decorates a Source with three layers: an in-process positive
// cache, the shared cache tier, and a bounded negative memo for items the
// source does not know. Only a layered miss reaches the wrapped source,
// and a circuit breaker turns a provider blackout into fast rejections.
type Cached struct {
	inner    Source
	tier     *cache.Tier
	keys     *cache.KeyBuilder
	memory   *gocache.Cache
	negative *expirable.LRU[string, struct{}]
	breaker  *resilience.Breaker
	log      *slog.Logger
}

// NewCached wraps a source with the standard cache layering.
func NewCached(inner Source, tier *cache.Tier, keys *cache.KeyBuilder, log *slog.Logger) *Cached {
	c := &Cached{
		inner:    inner,
		tier:     tier,
		keys:     keys,
		memory:   gocache.New(memoryTTL, memoryTTL*2),
		negative: expirable.NewLRU[string, struct{}](negativeSize, nil, negativeTTL),
		breaker:  resilience.NewBreaker(inner.Name(), resilience.DefaultBreakerConfig()),
		log:      log.With("source", inner.Name()),
	}
	c.breaker.OnStateChange(func(name string, from, to resilience.State) {
		c.log.Warn("rating source breaker changed state", "from", from.String(), "to", to.String())
	})
	return c
}

// Name returns the wrapped source's identifier.
func (c *Cached) Name() string { return c.inner.Name() }

// Fetch answers from the first layer that knows the item. A fetched answer
// is written back to the in-process cache and, asynchronously, to the
// shared tier; a fetched miss only feeds the negative memo.
func (c *Cached) Fetch(ctx context.Context, itemID string, opts Options) (*Data, error) {
	key := c.cacheKey(itemID, opts)

	if v, found := c.memory.Get(key); found {
		metrics.RecordProviderFetch(c.Name(), "memory_hit")
		return v.(*Data), nil
	}
	if _, found := c.negative.Get(key); found {
		metrics.RecordProviderFetch(c.Name(), "negative_hit")
		return nil, nil
	}
	var data Data
	if c.tier.GetJSON(ctx, key, &data) {
		metrics.RecordProviderFetch(c.Name(), "tier_hit")
		c.memory.Set(key, &data, gocache.DefaultExpiration)
		return &data, nil
	}

	if !c.breaker.Allow() {
		metrics.RecordProviderFetch(c.Name(), "circuit_open")
		return nil, nil
	}

	start := time.Now()
	d, err := c.inner.Fetch(ctx, itemID, opts)
	metrics.ProviderLatency.WithLabelValues(c.Name()).Observe(time.Since(start).Seconds())
	if err != nil {
		c.breaker.RecordFailure()
		metrics.RecordProviderFetch(c.Name(), "error")
		c.log.Warn("rating source failed", "item", itemID, "error", err)
		return nil, err
	}
	c.breaker.RecordSuccess()
	if d == nil {
		metrics.RecordProviderFetch(c.Name(), "not_found")
		c.negative.Add(key, struct{}{})
		return nil, nil
	}

	metrics.RecordProviderFetch(c.Name(), "fetched")
	c.memory.Set(key, d, gocache.DefaultExpiration)
	c.tier.SetJSONAsync(key, d, cache.TTLSourceData)
	return d, nil
}

// cacheKey delegates to the source when it has an opinion, otherwise keys
// by the rating kind with any episode coordinates appended.
func (c *Cached) cacheKey(itemID string, opts Options) string {
	if k, ok := c.inner.(keyer); ok {
		return k.cacheKey(c.keys, itemID, opts)
	}
	return c.keys.SourceRating(c.inner.Name(), episodeScopedID(itemID, opts))
}

// episodeScopedID appends season and episode to the id for episode-level
// lookups so they never collide with the whole-title entry.
func episodeScopedID(itemID string, opts Options) string {
	if !opts.ForEpisode() {
		return itemID
	}
	return itemID + ":" + strconv.Itoa(opts.Season) + ":" + strconv.Itoa(opts.Episode)
}
