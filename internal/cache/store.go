package cache

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	goredis "github.com/redis/go-redis/v9"
)

// Store wraps a Redis client with the namespaced operations the proxy
// needs: plain KV for cached documents, sorted sets for the rate limiter
// and hot-key tracker, and scan-based deletion for the admin flush.
type Store struct {
	client    goredis.UniversalClient
	namespace string

	// Statistics
	hits   atomic.Int64
	misses atomic.Int64
	sets   atomic.Int64
	errors atomic.Int64
}

// StoreConfig holds connection settings for the Redis store. URL, when set,
// takes precedence over the discrete fields.
type StoreConfig struct {
	URL      string `yaml:"url"`
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`

	// Cluster configuration
	ClusterAddrs []string `yaml:"cluster_addrs"`

	Namespace    string        `yaml:"namespace"`
	DialTimeout  time.Duration `yaml:"dial_timeout"`
	ReadTimeout  time.Duration `yaml:"read_timeout"`
	WriteTimeout time.Duration `yaml:"write_timeout"`
	PoolSize     int           `yaml:"pool_size"`
	MinIdleConns int           `yaml:"min_idle_conns"`
	MaxRetries   int           `yaml:"max_retries"`
}

// DefaultStoreConfig returns sensible defaults.
func DefaultStoreConfig() StoreConfig {
	return StoreConfig{
		Addr:         "localhost:6379",
		DB:           0,
		Namespace:    "cinemux",
		DialTimeout:  5 * time.Second,
		ReadTimeout:  3 * time.Second,
		WriteTimeout: 3 * time.Second,
		PoolSize:     10,
		MinIdleConns: 2,
		MaxRetries:   3,
	}
}

// NewStore creates a Redis store and verifies connectivity.
func NewStore(cfg StoreConfig) (*Store, error) {
	var client goredis.UniversalClient

	switch {
	case cfg.URL != "":
		opts, err := goredis.ParseURL(cfg.URL)
		if err != nil {
			return nil, fmt.Errorf("redis url: %w", err)
		}
		opts.DialTimeout = cfg.DialTimeout
		opts.ReadTimeout = cfg.ReadTimeout
		opts.WriteTimeout = cfg.WriteTimeout
		if cfg.PoolSize > 0 {
			opts.PoolSize = cfg.PoolSize
		}
		opts.MinIdleConns = cfg.MinIdleConns
		opts.MaxRetries = cfg.MaxRetries
		client = goredis.NewClient(opts)
	case len(cfg.ClusterAddrs) > 0:
		client = goredis.NewClusterClient(&goredis.ClusterOptions{
			Addrs:        cfg.ClusterAddrs,
			Password:     cfg.Password,
			DialTimeout:  cfg.DialTimeout,
			ReadTimeout:  cfg.ReadTimeout,
			WriteTimeout: cfg.WriteTimeout,
			PoolSize:     cfg.PoolSize,
			MinIdleConns: cfg.MinIdleConns,
			MaxRetries:   cfg.MaxRetries,
		})
	default:
		client = goredis.NewClient(&goredis.Options{
			Addr:         cfg.Addr,
			Password:     cfg.Password,
			DB:           cfg.DB,
			DialTimeout:  cfg.DialTimeout,
			ReadTimeout:  cfg.ReadTimeout,
			WriteTimeout: cfg.WriteTimeout,
			PoolSize:     cfg.PoolSize,
			MinIdleConns: cfg.MinIdleConns,
			MaxRetries:   cfg.MaxRetries,
		})
	}

	ctx, cancel := context.WithTimeout(context.Background(), cfg.DialTimeout)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("redis ping failed: %w", err)
	}

	return &Store{
		client:    client,
		namespace: cfg.Namespace,
	}, nil
}

// NewStoreWithClient wraps an existing client. Tests use this with miniredis.
func NewStoreWithClient(client goredis.UniversalClient, namespace string) *Store {
	return &Store{client: client, namespace: namespace}
}

// prefixKey adds the namespace prefix to the key.
func (s *Store) prefixKey(key string) string {
	if s.namespace == "" {
		return key
	}
	return s.namespace + ":" + key
}

// Get retrieves a value. A missing key returns (nil, nil).
func (s *Store) Get(ctx context.Context, key string) ([]byte, error) {
	val, err := s.client.Get(ctx, s.prefixKey(key)).Bytes()
	if err != nil {
		if errors.Is(err, goredis.Nil) {
			s.misses.Add(1)
			return nil, nil
		}
		s.errors.Add(1)
		return nil, fmt.Errorf("redis get: %w", err)
	}

	s.hits.Add(1)
	return val, nil
}

// Set stores a value with a TTL.
func (s *Store) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	if ttl <= 0 {
		ttl = TTLDefault
	}

	if err := s.client.Set(ctx, s.prefixKey(key), value, ttl).Err(); err != nil {
		s.errors.Add(1)
		return fmt.Errorf("redis set: %w", err)
	}

	s.sets.Add(1)
	return nil
}

// Delete removes keys.
func (s *Store) Delete(ctx context.Context, keys ...string) error {
	if len(keys) == 0 {
		return nil
	}
	prefixed := make([]string, len(keys))
	for i, key := range keys {
		prefixed[i] = s.prefixKey(key)
	}
	if err := s.client.Del(ctx, prefixed...).Err(); err != nil {
		s.errors.Add(1)
		return fmt.Errorf("redis del: %w", err)
	}
	return nil
}

// Exists reports whether a key is present.
func (s *Store) Exists(ctx context.Context, key string) (bool, error) {
	n, err := s.client.Exists(ctx, s.prefixKey(key)).Result()
	if err != nil {
		s.errors.Add(1)
		return false, fmt.Errorf("redis exists: %w", err)
	}
	return n > 0, nil
}

// DeleteByPattern removes all keys matching the glob pattern using SCAN,
// batching deletions. Returns the number of keys removed.
func (s *Store) DeleteByPattern(ctx context.Context, pattern string) (int64, error) {
	var (
		cursor  uint64
		removed int64
	)
	match := s.prefixKey(pattern)
	for {
		keys, next, err := s.client.Scan(ctx, cursor, match, 500).Result()
		if err != nil {
			s.errors.Add(1)
			return removed, fmt.Errorf("redis scan: %w", err)
		}
		if len(keys) > 0 {
			n, err := s.client.Del(ctx, keys...).Result()
			if err != nil {
				s.errors.Add(1)
				return removed, fmt.Errorf("redis del: %w", err)
			}
			removed += n
		}
		cursor = next
		if cursor == 0 {
			return removed, nil
		}
	}
}

// ScoredMember is one sorted-set entry with its score.
type ScoredMember struct {
	Member string
	Score  float64
}

// ZWindow trims entries with score <= cutoff from the sorted set and
// returns the remaining cardinality. The two commands run pipelined.
func (s *Store) ZWindow(ctx context.Context, key string, cutoff float64) (int64, error) {
	pk := s.prefixKey(key)
	pipe := s.client.Pipeline()
	pipe.ZRemRangeByScore(ctx, pk, "0", fmt.Sprintf("%f", cutoff))
	card := pipe.ZCard(ctx, pk)
	if _, err := pipe.Exec(ctx); err != nil {
		s.errors.Add(1)
		return 0, fmt.Errorf("redis zwindow: %w", err)
	}
	return card.Val(), nil
}

// ZAppend adds a scored member and refreshes the set's expiration.
func (s *Store) ZAppend(ctx context.Context, key, member string, score float64, expire time.Duration) error {
	pk := s.prefixKey(key)
	pipe := s.client.Pipeline()
	pipe.ZAdd(ctx, pk, goredis.Z{Score: score, Member: member})
	pipe.Expire(ctx, pk, expire)
	if _, err := pipe.Exec(ctx); err != nil {
		s.errors.Add(1)
		return fmt.Errorf("redis zappend: %w", err)
	}
	return nil
}

// ZOldest returns the lowest-scored member of the sorted set.
func (s *Store) ZOldest(ctx context.Context, key string) (ScoredMember, bool, error) {
	res, err := s.client.ZRangeWithScores(ctx, s.prefixKey(key), 0, 0).Result()
	if err != nil {
		s.errors.Add(1)
		return ScoredMember{}, false, fmt.Errorf("redis zrange: %w", err)
	}
	if len(res) == 0 {
		return ScoredMember{}, false, nil
	}
	m, _ := res[0].Member.(string)
	return ScoredMember{Member: m, Score: res[0].Score}, true, nil
}

// ZBump increments a member's score in the sorted set and refreshes the
// set's expiration.
func (s *Store) ZBump(ctx context.Context, key, member string, expire time.Duration) error {
	pk := s.prefixKey(key)
	pipe := s.client.Pipeline()
	pipe.ZIncrBy(ctx, pk, 1, member)
	pipe.Expire(ctx, pk, expire)
	if _, err := pipe.Exec(ctx); err != nil {
		s.errors.Add(1)
		return fmt.Errorf("redis zbump: %w", err)
	}
	return nil
}

// ZTop returns up to limit members by descending score. limit <= 0 returns
// the whole set.
func (s *Store) ZTop(ctx context.Context, key string, limit int64) ([]ScoredMember, error) {
	stop := limit - 1
	if limit <= 0 {
		stop = -1
	}
	res, err := s.client.ZRevRangeWithScores(ctx, s.prefixKey(key), 0, stop).Result()
	if err != nil {
		s.errors.Add(1)
		return nil, fmt.Errorf("redis zrevrange: %w", err)
	}
	out := make([]ScoredMember, 0, len(res))
	for _, z := range res {
		m, _ := z.Member.(string)
		out = append(out, ScoredMember{Member: m, Score: z.Score})
	}
	return out, nil
}

// EvictionPolicy reports the store's maxmemory-policy setting, or "" when
// it cannot be determined.
func (s *Store) EvictionPolicy(ctx context.Context) (string, error) {
	res, err := s.client.ConfigGet(ctx, "maxmemory-policy").Result()
	if err != nil {
		return "", fmt.Errorf("redis config get: %w", err)
	}
	return res["maxmemory-policy"], nil
}

// Ping checks connectivity.
func (s *Store) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}

// Close closes the connection.
func (s *Store) Close() error {
	return s.client.Close()
}

// Stats holds cumulative store counters.
type Stats struct {
	Hits    int64   `json:"hits"`
	Misses  int64   `json:"misses"`
	Sets    int64   `json:"sets"`
	Errors  int64   `json:"errors"`
	HitRate float64 `json:"hit_rate"`
}

// Stats returns cumulative counters since process start.
func (s *Store) Stats() Stats {
	hits := s.hits.Load()
	misses := s.misses.Load()
	total := hits + misses

	var hitRate float64
	if total > 0 {
		hitRate = float64(hits) / float64(total)
	}

	return Stats{
		Hits:    hits,
		Misses:  misses,
		Sets:    s.sets.Load(),
		Errors:  s.errors.Load(),
		HitRate: hitRate,
	}
}
