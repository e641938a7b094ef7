package rating

import (
	"context"
	"log/slog"
	"math"
	"sync"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
	"golang.org/x/sync/errgroup"

	"github.com/cinemux/cinemux/internal/cache"
	"github.com/cinemux/cinemux/internal/metrics"
)

// Consolidated is the merged answer for one item: the mean of the
// normalized per-source ratings plus the auxiliary metadata the
// description line draws from. Streaming availability is deliberately
// absent; it is region-scoped and would poison this region-free memo.
type Consolidated struct {
	Score       float64            `json:"score"`
	SourceCount int                `json:"sourceCount"`
	PerSource   map[string]float64 `json:"perSource"`
	Band        string             `json:"band"`
	ComputedAt  time.Time          `json:"computedAt"`

	Votes         int64  `json:"votes,omitempty"`
	Certification string `json:"certification,omitempty"`
	RTScore       *int   `json:"rtScore,omitempty"`
	Metacritic    *int   `json:"metacritic,omitempty"`
	ReleaseDate   string `json:"releaseDate,omitempty"`
}

// BandFor maps a consolidated score to its color band.
func BandFor(score float64) string {
	switch {
	case score >= 9:
		return "excellent"
	case score >= 8:
		return "great"
	case score >= 7:
		return "good"
	case score >= 6:
		return "okay"
	case score >= 5:
		return "mediocre"
	default:
		return "poor"
	}
}

// ConsolidatorConfig tunes the batch scheduler. Zero values select the
// defaults.
type ConsolidatorConfig struct {
	// Concurrency bounds how many items run their source fan-out at once.
	Concurrency int

	// FirstWaveDelay runs after the first wave, WaveDelay between the
	// rest. The first wave is the one a cold viewport waits on, so the
	// longer pause after it smooths the burst the remaining waves cause.
	FirstWaveDelay time.Duration
	WaveDelay      time.Duration
}

const (
	defaultConcurrency    = 10
	defaultFirstWaveDelay = 150 * time.Millisecond
	defaultWaveDelay      = 50 * time.Millisecond

	consolidatedNegativeSize = 8192
	consolidatedNegativeTTL  = 30 * time.Minute
)

// Consolidator merges the configured sources into one score per item and
// memoizes the merge. Items no source knows land in a bounded in-memory
// negative memo so catalogs full of unknown ids stay cheap.
type Consolidator struct {
	sources  []Source
	tier     *cache.Tier
	keys     *cache.KeyBuilder
	negative *expirable.LRU[string, struct{}]
	log      *slog.Logger

	concurrency    int
	firstWaveDelay time.Duration
	waveDelay      time.Duration
}

// NewConsolidator builds a consolidator over an ordered source list. The
// order fixes tie-breaking when auxiliary fields (votes, certification)
// are present in several sources.
func NewConsolidator(sources []Source, tier *cache.Tier, keys *cache.KeyBuilder, cfg ConsolidatorConfig, log *slog.Logger) *Consolidator {
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = defaultConcurrency
	}
	if cfg.FirstWaveDelay <= 0 {
		cfg.FirstWaveDelay = defaultFirstWaveDelay
	}
	if cfg.WaveDelay <= 0 {
		cfg.WaveDelay = defaultWaveDelay
	}
	return &Consolidator{
		sources:        sources,
		tier:           tier,
		keys:           keys,
		negative:       expirable.NewLRU[string, struct{}](consolidatedNegativeSize, nil, consolidatedNegativeTTL),
		log:            log,
		concurrency:    cfg.Concurrency,
		firstWaveDelay: cfg.FirstWaveDelay,
		waveDelay:      cfg.WaveDelay,
	}
}

// Consolidate resolves the merged rating for one item, consulting the
// shared-tier memo first. A nil return means no source knows the item.
func (c *Consolidator) Consolidate(ctx context.Context, itemID string, opts Options) *Consolidated {
	// Single-source mode skips the memo; its key has no room for the
	// source name and mixing modes under one key would corrupt both.
	useMemo := opts.OnlySource == ""
	memoKey := c.keys.Consolidated(episodeScopedID(itemID, opts))

	if useMemo {
		if _, found := c.negative.Get(memoKey); found {
			return nil
		}
		var memo Consolidated
		if c.tier.GetJSON(ctx, memoKey, &memo) {
			return &memo
		}
	}

	cons := c.combine(c.lookup(ctx, itemID, opts))
	if cons == nil {
		if useMemo {
			c.negative.Add(memoKey, struct{}{})
		}
		return nil
	}

	metrics.ConsolidatedBands.WithLabelValues(cons.Band).Inc()
	if useMemo {
		c.tier.SetJSONAsync(memoKey, cons, cache.TTLConsolidated)
	}
	return cons
}

// Item identifies one batch entry, optionally scoped to an episode.
type Item struct {
	ID      string
	Season  int
	Episode int
}

// Key returns the map key the batch result uses for this entry.
func (i Item) Key() string {
	return episodeScopedID(i.ID, Options{Season: i.Season, Episode: i.Episode})
}

// ConsolidateBatch resolves many items in rolling waves of bounded
// concurrency. Each wave fans out its items in parallel; a short pause
// separates waves so a large catalog does not burst every source at once.
// Results are keyed by Item.Key.
func (c *Consolidator) ConsolidateBatch(ctx context.Context, items []Item, opts Options) map[string]*Consolidated {
	out := make(map[string]*Consolidated, len(items))
	var mu sync.Mutex

	for wave := 0; len(items) > 0; wave++ {
		n := min(c.concurrency, len(items))
		batch := items[:n]
		items = items[n:]

		g, gctx := errgroup.WithContext(ctx)
		for _, it := range batch {
			g.Go(func() error {
				iopts := opts
				iopts.Season, iopts.Episode = it.Season, it.Episode
				if cons := c.Consolidate(gctx, it.ID, iopts); cons != nil {
					mu.Lock()
					out[it.Key()] = cons
					mu.Unlock()
				}
				return nil
			})
		}
		g.Wait()

		if len(items) == 0 {
			break
		}
		delay := c.waveDelay
		if wave == 0 {
			delay = c.firstWaveDelay
		}
		select {
		case <-ctx.Done():
			return out
		case <-time.After(delay):
		}
	}
	return out
}

// Streaming answers the region-scoped streaming list for an item. It rides
// the aggregated source's own cache layers and is consulted only when a
// config's description parts ask for streaming availability.
func (c *Consolidator) Streaming(ctx context.Context, itemID, region string) []string {
	for _, src := range c.sources {
		if src.Name() != SourceMDBList {
			continue
		}
		d, err := src.Fetch(ctx, itemID, Options{Region: region})
		if err != nil || d == nil {
			return nil
		}
		return d.Streaming
	}
	return nil
}

// lookup runs the source fan-out for one item. Source failures are logged
// and treated as absent answers so one flaky system never blanks the rest.
func (c *Consolidator) lookup(ctx context.Context, itemID string, opts Options) []*Data {
	selected := c.sources
	if opts.OnlySource != "" {
		selected = nil
		for _, src := range c.sources {
			if src.Name() == opts.OnlySource {
				selected = []Source{src}
				break
			}
		}
	}

	results := make([]*Data, len(selected))
	g, gctx := errgroup.WithContext(ctx)
	for i, src := range selected {
		g.Go(func() error {
			d, err := src.Fetch(gctx, itemID, opts)
			if err != nil {
				c.log.Debug("source lookup failed", "source", src.Name(), "item", itemID, "error", err)
				return nil
			}
			results[i] = d
			return nil
		})
	}
	g.Wait()
	return results
}

// combine folds the per-source answers into one record. Results arrive in
// source order, so first-wins auxiliary fields prefer the primary source.
func (c *Consolidator) combine(results []*Data) *Consolidated {
	cons := &Consolidated{PerSource: make(map[string]float64)}
	var sum float64

	for _, d := range results {
		if d == nil {
			continue
		}
		if v, ok := d.Normalized(); ok {
			cons.PerSource[d.Source] = round1(v)
			sum += v
			cons.SourceCount++
		}
		if cons.Votes == 0 {
			cons.Votes = d.Votes
		}
		if cons.Certification == "" {
			cons.Certification = d.Certification
		}
		if cons.RTScore == nil {
			cons.RTScore = d.RTScore
		}
		if cons.Metacritic == nil {
			cons.Metacritic = d.Metacritic
		}
		if cons.ReleaseDate == "" {
			cons.ReleaseDate = d.ReleaseDate
		}
	}

	if cons.SourceCount == 0 {
		return nil
	}
	cons.Score = round1(sum / float64(cons.SourceCount))
	cons.Band = BandFor(cons.Score)
	cons.ComputedAt = time.Now().UTC()
	return cons
}

// round1 rounds to one decimal place.
func round1(v float64) float64 {
	return math.Round(v*10) / 10
}
