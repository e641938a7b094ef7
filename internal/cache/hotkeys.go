package cache

import (
	"context"
	"log/slog"
	"sort"
	"time"
)

// hotKeyBucketTTL keeps per-minute buckets around long enough for the
// widest admin window.
const hotKeyBucketTTL = 2 * time.Hour

// trackTimeout bounds the fire-and-forget increment.
const trackTimeout = 2 * time.Second

// HotKeys counts key accesses in per-minute sorted-set buckets and merges
// them into a windowed top-N view. Counting is best-effort: failures are
// logged and dropped, never surfaced to the request path.
type HotKeys struct {
	store *Store
	keys  *KeyBuilder
	log   *slog.Logger
	now   func() time.Time
}

func NewHotKeys(store *Store, keys *KeyBuilder, log *slog.Logger) *HotKeys {
	return &HotKeys{store: store, keys: keys, log: log, now: time.Now}
}

// Track increments the key's counter in the current minute bucket. The
// write happens on a detached goroutine so the caller never waits on it.
func (h *HotKeys) Track(key string) {
	if h.store == nil {
		return
	}
	bucket := h.keys.HotKeyBucket(h.now().Unix() / 60)
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), trackTimeout)
		defer cancel()
		if err := h.store.ZBump(ctx, bucket, key, hotKeyBucketTTL); err != nil {
			h.log.Debug("hot-key track failed", "key", key, "error", err)
		}
	}()
}

// HotKey is one entry of the merged top-N view.
type HotKey struct {
	Key   string `json:"key"`
	Count int64  `json:"count"`
}

// Hot merges the last windowMinutes buckets and returns the top keys by
// summed count.
func (h *HotKeys) Hot(ctx context.Context, windowMinutes, limit int) ([]HotKey, error) {
	if h.store == nil {
		return nil, nil
	}
	if windowMinutes <= 0 {
		windowMinutes = 10
	}
	if limit <= 0 {
		limit = 20
	}

	minute := h.now().Unix() / 60
	counts := make(map[string]int64)
	for i := 0; i < windowMinutes; i++ {
		bucket := h.keys.HotKeyBucket(minute - int64(i))
		members, err := h.store.ZTop(ctx, bucket, 0)
		if err != nil {
			return nil, err
		}
		for _, m := range members {
			counts[m.Member] += int64(m.Score)
		}
	}

	out := make([]HotKey, 0, len(counts))
	for k, c := range counts {
		out = append(out, HotKey{Key: k, Count: c})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Count != out[j].Count {
			return out[i].Count > out[j].Count
		}
		return out[i].Key < out[j].Key
	})
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}
