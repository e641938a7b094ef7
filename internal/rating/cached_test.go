package rating

import (
	"context"
	"log/slog"
	"sync/atomic"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	goredis "github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"

	"github.com/cinemux/cinemux/internal/cache"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.DiscardHandler)
}

func newTestTier(t *testing.T) *cache.Tier {
	t.Helper()
	mr := miniredis.RunT(t)
	client := goredis.NewClient(&goredis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })
	store := cache.NewStoreWithClient(client, "test")
	return cache.NewTier(store, discardLogger())
}

func newTestKeys() *cache.KeyBuilder {
	return cache.NewKeyBuilder("1")
}

// stubSource is a scriptable source with a call counter.
type stubSource struct {
	name  string
	calls atomic.Int32
	data  *Data
	err   error
}

func (s *stubSource) Name() string { return s.name }

func (s *stubSource) Fetch(ctx context.Context, itemID string, opts Options) (*Data, error) {
	s.calls.Add(1)
	if s.err != nil {
		return nil, s.err
	}
	if s.data == nil {
		return nil, nil
	}
	cp := *s.data
	return &cp, nil
}

func ratingData(source string, value float64, scale int) *Data {
	return &Data{Source: source, Rating: &value, Scale: scale}
}

func TestCachedFetchesOnceThenServesFromMemory(t *testing.T) {
	tier := newTestTier(t)
	stub := &stubSource{name: "imdb", data: ratingData("imdb", 8.5, ScaleTen)}
	src := NewCached(stub, tier, newTestKeys(), discardLogger())

	d, err := src.Fetch(context.Background(), "tt1", Options{})
	require.NoError(t, err)
	require.NotNil(t, d)
	require.Equal(t, 8.5, *d.Rating)
	require.Equal(t, int32(1), stub.calls.Load())

	d, err = src.Fetch(context.Background(), "tt1", Options{})
	require.NoError(t, err)
	require.NotNil(t, d)
	require.Equal(t, int32(1), stub.calls.Load())
}

func TestCachedSharedTierServesFreshProcess(t *testing.T) {
	tier := newTestTier(t)
	keys := newTestKeys()

	stub := &stubSource{name: "imdb", data: ratingData("imdb", 7.2, ScaleTen)}
	first := NewCached(stub, tier, keys, discardLogger())

	_, err := first.Fetch(context.Background(), "tt9", Options{})
	require.NoError(t, err)

	// The tier write is asynchronous; wait for it to land.
	require.Eventually(t, func() bool {
		return tier.Exists(context.Background(), keys.SourceRating("imdb", "tt9"))
	}, time.Second, 10*time.Millisecond)

	// A second decorator instance has a cold memory layer and must find
	// the answer in the shared tier without touching the source.
	second := NewCached(stub, tier, keys, discardLogger())
	d, err := second.Fetch(context.Background(), "tt9", Options{})
	require.NoError(t, err)
	require.NotNil(t, d)
	require.Equal(t, 7.2, *d.Rating)
	require.Equal(t, int32(1), stub.calls.Load())
}

func TestCachedMemoizesMisses(t *testing.T) {
	tier := newTestTier(t)
	stub := &stubSource{name: "tmdb"}
	src := NewCached(stub, tier, newTestKeys(), discardLogger())

	d, err := src.Fetch(context.Background(), "tt404", Options{})
	require.NoError(t, err)
	require.Nil(t, d)
	require.Equal(t, int32(1), stub.calls.Load())

	// A known miss must not be re-queried even though no data was cached.
	d, err = src.Fetch(context.Background(), "tt404", Options{})
	require.NoError(t, err)
	require.Nil(t, d)
	require.Equal(t, int32(1), stub.calls.Load())
}

func TestCachedDoesNotMemoizeErrors(t *testing.T) {
	tier := newTestTier(t)
	stub := &stubSource{name: "tmdb", err: context.DeadlineExceeded}
	src := NewCached(stub, tier, newTestKeys(), discardLogger())

	_, err := src.Fetch(context.Background(), "tt5", Options{})
	require.Error(t, err)
	_, err = src.Fetch(context.Background(), "tt5", Options{})
	require.Error(t, err)
	require.Equal(t, int32(2), stub.calls.Load())
}

func TestCachedBreakerShortCircuitsBlackout(t *testing.T) {
	tier := newTestTier(t)
	stub := &stubSource{name: "tmdb", err: context.DeadlineExceeded}
	src := NewCached(stub, tier, newTestKeys(), discardLogger())

	// Five consecutive failures on distinct items open the breaker.
	for i := 0; i < 5; i++ {
		_, err := src.Fetch(context.Background(), "tt"+string(rune('a'+i)), Options{})
		require.Error(t, err)
	}
	require.Equal(t, int32(5), stub.calls.Load())

	// The open breaker answers "no data" without touching the source.
	d, err := src.Fetch(context.Background(), "ttz", Options{})
	require.NoError(t, err)
	require.Nil(t, d)
	require.Equal(t, int32(5), stub.calls.Load())
}

func TestCachedEpisodeLookupsGetOwnEntries(t *testing.T) {
	tier := newTestTier(t)
	stub := &stubSource{name: "imdb", data: ratingData("imdb", 9.0, ScaleTen)}
	src := NewCached(stub, tier, newTestKeys(), discardLogger())

	_, err := src.Fetch(context.Background(), "tt1", Options{})
	require.NoError(t, err)
	_, err = src.Fetch(context.Background(), "tt1", Options{Season: 1, Episode: 2})
	require.NoError(t, err)
	require.Equal(t, int32(2), stub.calls.Load())

	// Repeats of either shape stay cached.
	_, err = src.Fetch(context.Background(), "tt1", Options{Season: 1, Episode: 2})
	require.NoError(t, err)
	require.Equal(t, int32(2), stub.calls.Load())
}

// regionStub exercises the source-chosen key path.
type regionStub struct {
	stubSource
}

func (s *regionStub) cacheKey(keys *cache.KeyBuilder, itemID string, opts Options) string {
	return keys.SourceData(s.name, itemID, opts.Region)
}

func TestCachedRegionScopedKeys(t *testing.T) {
	tier := newTestTier(t)
	stub := &regionStub{stubSource: stubSource{name: "mdblist", data: ratingData("mdblist", 80, ScaleHundred)}}
	src := NewCached(stub, tier, newTestKeys(), discardLogger())

	_, err := src.Fetch(context.Background(), "tt1", Options{Region: "US"})
	require.NoError(t, err)
	_, err = src.Fetch(context.Background(), "tt1", Options{Region: "DE"})
	require.NoError(t, err)
	require.Equal(t, int32(2), stub.calls.Load())

	_, err = src.Fetch(context.Background(), "tt1", Options{Region: "US"})
	require.NoError(t, err)
	require.Equal(t, int32(2), stub.calls.Load())
}
