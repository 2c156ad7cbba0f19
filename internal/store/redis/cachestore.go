package redis

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	goredis "github.com/go-redis/redis/v8"
)

const (
	defaultPrefix    = "indstream:cache:"
	scanBatch        = 200
	defaultTripAfter = 5
	defaultReset     = 10 * time.Second
	defaultTagTTL    = 24 * time.Hour
	tagNamespace     = "tags:"
)

// CacheConfig configures the Redis cache tier.
type CacheConfig struct {
	Addr     string // Redis address, e.g. "localhost:6379"
	Password string
	DB       int
	Prefix   string // key namespace; defaults to "indstream:cache:"

	MaxFailures  int           // consecutive failures before the breaker opens
	ResetTimeout time.Duration // time the breaker stays open

	// TagTTL is refreshed on a tag set every time a key joins it. It must
	// outlive the TTL of any tagged key; defaults to 24h.
	TagTTL time.Duration
}

// CacheStore is the L2 tier of the indicator cache. Values are opaque JSON
// blobs stored under a key prefix. Every call goes through a circuit breaker
// so an unavailable Redis costs one fast rejection instead of a timeout.
type CacheStore struct {
	client  *goredis.Client
	prefix  string
	tagTTL  time.Duration
	breaker *CircuitBreaker
	log     *slog.Logger
}

// NewCacheStore connects to Redis and pings the server.
func NewCacheStore(cfg CacheConfig, log *slog.Logger) (*CacheStore, error) {
	client := goredis.NewClient(&goredis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("redis ping %s: %w", cfg.Addr, err)
	}

	s := NewCacheStoreWithClient(client, cfg, log)
	s.log.Info("connected", "addr", cfg.Addr, "prefix", s.prefix)
	return s, nil
}

// NewCacheStoreWithClient wraps an existing client.
func NewCacheStoreWithClient(client *goredis.Client, cfg CacheConfig, log *slog.Logger) *CacheStore {
	if cfg.Prefix == "" {
		cfg.Prefix = defaultPrefix
	}
	if cfg.MaxFailures <= 0 {
		cfg.MaxFailures = defaultTripAfter
	}
	if cfg.ResetTimeout <= 0 {
		cfg.ResetTimeout = defaultReset
	}
	if cfg.TagTTL <= 0 {
		cfg.TagTTL = defaultTagTTL
	}
	if log == nil {
		log = slog.Default()
	}
	breaker := NewCircuitBreaker(cfg.MaxFailures, cfg.ResetTimeout)
	breaker.IsFailure = func(err error) bool {
		return !errors.Is(err, goredis.Nil) && !errors.Is(err, context.Canceled)
	}
	return &CacheStore{
		client:  client,
		prefix:  cfg.Prefix,
		tagTTL:  cfg.TagTTL,
		breaker: breaker,
		log:     log.With("component", "redis_cache"),
	}
}

// Breaker exposes the circuit breaker so callers can hook state changes.
func (s *CacheStore) Breaker() *CircuitBreaker { return s.breaker }

// Client returns the underlying Redis client for health checks.
func (s *CacheStore) Client() *goredis.Client { return s.client }

func (s *CacheStore) key(k string) string { return s.prefix + k }

func (s *CacheStore) tagKey(tag string) string { return s.prefix + tagNamespace + tag }

// Get returns the blob under key. found is false on a Redis miss.
func (s *CacheStore) Get(ctx context.Context, key string) (value []byte, found bool, err error) {
	err = s.breaker.Execute(func() error {
		b, err := s.client.Get(ctx, s.key(key)).Bytes()
		if err != nil {
			return err
		}
		value, found = b, true
		return nil
	})
	if errors.Is(err, goredis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("redis get %s: %w", key, err)
	}
	return value, found, nil
}

// Set stores value under key and adds key to the set of each tag. A zero
// ttl stores without expiry.
func (s *CacheStore) Set(ctx context.Context, key string, value []byte, ttl time.Duration, tags ...string) error {
	err := s.breaker.Execute(func() error {
		if err := s.client.Set(ctx, s.key(key), string(value), ttl).Err(); err != nil {
			return err
		}
		for _, tag := range tags {
			tk := s.tagKey(tag)
			if err := s.client.SAdd(ctx, tk, key).Err(); err != nil {
				return err
			}
			if err := s.client.Expire(ctx, tk, s.tagTTL).Err(); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("redis set %s: %w", key, err)
	}
	return nil
}

// Delete removes keys.
func (s *CacheStore) Delete(ctx context.Context, keys ...string) error {
	if len(keys) == 0 {
		return nil
	}
	full := make([]string, len(keys))
	for i, k := range keys {
		full[i] = s.key(k)
	}
	err := s.breaker.Execute(func() error {
		return s.client.Del(ctx, full...).Err()
	})
	if err != nil {
		return fmt.Errorf("redis del: %w", err)
	}
	return nil
}

// DeleteTag removes every key recorded under tag, then the tag set itself.
// It returns how many keys were deleted.
func (s *CacheStore) DeleteTag(ctx context.Context, tag string) (int, error) {
	tk := s.tagKey(tag)
	deleted := 0
	err := s.breaker.Execute(func() error {
		members, err := s.client.SMembers(ctx, tk).Result()
		if err != nil {
			return err
		}
		if len(members) > 0 {
			full := make([]string, len(members))
			for i, m := range members {
				full[i] = s.key(m)
			}
			n, err := s.client.Del(ctx, full...).Result()
			if err != nil {
				return err
			}
			deleted = int(n)
		}
		return s.client.Del(ctx, tk).Err()
	})
	if err != nil {
		return deleted, fmt.Errorf("redis delete tag %s: %w", tag, err)
	}
	return deleted, nil
}

// DeletePattern removes every key under the prefix matching the glob
// pattern, using SCAN so Redis is never blocked by KEYS.
func (s *CacheStore) DeletePattern(ctx context.Context, pattern string) (int, error) {
	n, err := s.scanDelete(ctx, s.key(pattern), nil)
	if err != nil {
		return n, fmt.Errorf("redis delete pattern %q: %w", pattern, err)
	}
	return n, nil
}

// DeleteFunc scans every key under the prefix and removes those match
// accepts. match sees keys without the prefix; tag sets are skipped.
func (s *CacheStore) DeleteFunc(ctx context.Context, match func(key string) bool) (int, error) {
	n, err := s.scanDelete(ctx, s.key("*"), func(full string) bool {
		k := strings.TrimPrefix(full, s.prefix)
		return !strings.HasPrefix(k, tagNamespace) && match(k)
	})
	if err != nil {
		return n, fmt.Errorf("redis delete matching: %w", err)
	}
	return n, nil
}

func (s *CacheStore) scanDelete(ctx context.Context, match string, keep func(string) bool) (int, error) {
	deleted := 0
	err := s.breaker.Execute(func() error {
		var cursor uint64
		for {
			keys, next, err := s.client.Scan(ctx, cursor, match, scanBatch).Result()
			if err != nil {
				return err
			}
			if keep != nil {
				kept := keys[:0]
				for _, k := range keys {
					if keep(k) {
						kept = append(kept, k)
					}
				}
				keys = kept
			}
			if len(keys) > 0 {
				n, err := s.client.Del(ctx, keys...).Result()
				if err != nil {
					return err
				}
				deleted += int(n)
			}
			cursor = next
			if cursor == 0 {
				return nil
			}
		}
	})
	return deleted, err
}

// Ping checks connectivity, bypassing the breaker.
func (s *CacheStore) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}

// Close releases the connection pool.
func (s *CacheStore) Close() error {
	return s.client.Close()
}
