package cache

import (
	"bytes"
	"compress/gzip"
	"context"
	"fmt"
	"io"
	"log/slog"
	"math/rand/v2"
	"sync/atomic"
	"time"

	"github.com/goccy/go-json"

	"github.com/cinemux/cinemux/internal/pool"
)

// compressThreshold is the minimum value size worth gzipping. Values whose
// compressed form is not smaller are stored raw; reads sniff the gzip magic
// bytes, so both forms coexist.
const compressThreshold = 100

// asyncWriteTimeout caps background cache fills detached from the request.
const asyncWriteTimeout = 5 * time.Second

// Tier is the fail-open cache layer the pipeline talks to. Every store
// failure is logged and surfaced as a miss or a no-op, never as an error.
// A disabled tier misses every read and drops every write.
type Tier struct {
	store   *Store
	log     *slog.Logger
	enabled atomic.Bool

	bypasses atomic.Int64
}

// NewTier wraps a store. A nil store produces a permanently disabled tier.
func NewTier(store *Store, log *slog.Logger) *Tier {
	t := &Tier{store: store, log: log}
	t.enabled.Store(store != nil)
	return t
}

// Enabled reports whether reads and writes reach the store.
func (t *Tier) Enabled() bool {
	return t.store != nil && t.enabled.Load()
}

// Store exposes the underlying store for components that need its
// sorted-set primitives. Nil when the tier was built without one.
func (t *Tier) Store() *Store {
	return t.store
}

// SetEnabled flips the tier at runtime. Disabling never errors; enabling a
// tier that has no store is a no-op.
func (t *Tier) SetEnabled(on bool) {
	if t.store == nil {
		return
	}
	t.enabled.Store(on)
}

// GetBytes returns the decompressed value and whether it was found. Any
// failure counts as a miss.
func (t *Tier) GetBytes(ctx context.Context, key string) ([]byte, bool) {
	if !t.Enabled() {
		t.bypasses.Add(1)
		return nil, false
	}
	raw, err := t.store.Get(ctx, key)
	if err != nil {
		t.log.Warn("cache get failed, treating as miss", "key", key, "error", err)
		return nil, false
	}
	if raw == nil {
		return nil, false
	}
	val, err := decompress(raw)
	if err != nil {
		t.log.Warn("cache entry corrupt, treating as miss", "key", key, "error", err)
		return nil, false
	}
	return val, true
}

// SetBytes compresses and stores a value. TTLs get ±10% jitter so batches
// written together do not expire together. Failures are logged and dropped.
func (t *Tier) SetBytes(ctx context.Context, key string, value []byte, ttl time.Duration) {
	if !t.Enabled() || len(value) == 0 {
		return
	}
	if err := t.store.Set(ctx, key, compress(value), jitterTTL(ttl)); err != nil {
		t.log.Warn("cache set failed", "key", key, "error", err)
	}
}

// SetBytesAsync stores the value on a detached context so the caller's
// response is never blocked or cancelled by the write.
func (t *Tier) SetBytesAsync(key string, value []byte, ttl time.Duration) {
	if !t.Enabled() || len(value) == 0 {
		return
	}
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), asyncWriteTimeout)
		defer cancel()
		t.SetBytes(ctx, key, value, ttl)
	}()
}

// GetJSON reads and unmarshals a value into dest, reporting found.
func (t *Tier) GetJSON(ctx context.Context, key string, dest any) bool {
	val, ok := t.GetBytes(ctx, key)
	if !ok {
		return false
	}
	if err := json.Unmarshal(val, dest); err != nil {
		t.log.Warn("cache entry undecodable, treating as miss", "key", key, "error", err)
		return false
	}
	return true
}

// SetJSON marshals and stores a value.
func (t *Tier) SetJSON(ctx context.Context, key string, value any, ttl time.Duration) {
	data, err := json.Marshal(value)
	if err != nil {
		t.log.Warn("cache value not serializable", "key", key, "error", err)
		return
	}
	t.SetBytes(ctx, key, data, ttl)
}

// SetJSONAsync marshals and stores a value on a detached context.
func (t *Tier) SetJSONAsync(key string, value any, ttl time.Duration) {
	data, err := json.Marshal(value)
	if err != nil {
		t.log.Warn("cache value not serializable", "key", key, "error", err)
		return
	}
	t.SetBytesAsync(key, data, ttl)
}

// Delete removes keys, ignoring failures.
func (t *Tier) Delete(ctx context.Context, keys ...string) {
	if !t.Enabled() {
		return
	}
	if err := t.store.Delete(ctx, keys...); err != nil {
		t.log.Warn("cache delete failed", "keys", keys, "error", err)
	}
}

// Exists reports key presence; failures read as absent.
func (t *Tier) Exists(ctx context.Context, key string) bool {
	if !t.Enabled() {
		return false
	}
	ok, err := t.store.Exists(ctx, key)
	if err != nil {
		t.log.Warn("cache exists failed", "key", key, "error", err)
		return false
	}
	return ok
}

// Flush removes every key under the given pattern.
func (t *Tier) Flush(ctx context.Context, pattern string) (int64, error) {
	if !t.Enabled() {
		return 0, nil
	}
	return t.store.DeleteByPattern(ctx, pattern)
}

// Stats returns store counters plus the tier bypass count.
func (t *Tier) Stats() TierStats {
	ts := TierStats{Enabled: t.Enabled(), Bypasses: t.bypasses.Load()}
	if t.store != nil {
		ts.Stats = t.store.Stats()
	}
	return ts
}

// TierStats combines store counters with tier-level state.
type TierStats struct {
	Stats
	Enabled  bool  `json:"enabled"`
	Bypasses int64 `json:"bypasses"`
}

// Ping probes the underlying store.
func (t *Tier) Ping(ctx context.Context) error {
	if t.store == nil {
		return fmt.Errorf("cache tier disabled")
	}
	return t.store.Ping(ctx)
}

// CheckEvictionPolicy warns when the store will refuse writes under memory
// pressure instead of evicting. Called once at startup.
func (t *Tier) CheckEvictionPolicy(ctx context.Context) {
	if !t.Enabled() {
		return
	}
	policy, err := t.store.EvictionPolicy(ctx)
	if err != nil {
		t.log.Debug("could not determine eviction policy", "error", err)
		return
	}
	if policy == "noeviction" {
		t.log.Warn("cache store reports maxmemory-policy=noeviction; writes will fail when memory is full, configure an LRU or LFU policy")
	}
}

// jitterTTL spreads a TTL by ±10%.
func jitterTTL(ttl time.Duration) time.Duration {
	if ttl <= 0 {
		return ttl
	}
	spread := 0.9 + rand.Float64()*0.2
	return time.Duration(float64(ttl) * spread)
}

var gzipMagic = []byte{0x1f, 0x8b}

// compress gzips data when that actually shrinks it. Small or
// incompressible values are stored raw.
func compress(data []byte) []byte {
	if len(data) < compressThreshold {
		return data
	}
	buf := pool.GetBuffer()
	defer pool.PutBuffer(buf)
	w := pool.GetGzipWriter(buf)
	if _, err := w.Write(data); err != nil {
		w.Close()
		pool.PutGzipWriter(w)
		return data
	}
	if err := w.Close(); err != nil {
		pool.PutGzipWriter(w)
		return data
	}
	pool.PutGzipWriter(w)
	if buf.Len() >= len(data) {
		return data
	}
	return append([]byte(nil), buf.Bytes()...)
}

// decompress inflates gzipped values and passes raw ones through.
func decompress(data []byte) ([]byte, error) {
	if !bytes.HasPrefix(data, gzipMagic) {
		return data, nil
	}
	r, err := gzip.NewReader(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("gzip open: %w", err)
	}
	defer r.Close()
	out, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("gzip read: %w", err)
	}
	return out, nil
}
