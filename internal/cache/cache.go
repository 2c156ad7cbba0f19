// Package cache is an in-process get-or-compute cache with absolute and
// sliding expiration, priority-based eviction under a capacity bound, tag
// invalidation and an optional remote (L2) tier.
//
// Concurrent misses for one key are collapsed with singleflight so the
// factory runs once per collapsed group.
package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"regexp"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/singleflight"
)

// Priority orders entries for eviction. NeverRemove entries are only
// removed by expiration or explicit invalidation.
type Priority int

const (
	Low Priority = iota
	Normal
	High
	NeverRemove
)

func (p Priority) String() string {
	switch p {
	case Low:
		return "low"
	case Normal:
		return "normal"
	case High:
		return "high"
	case NeverRemove:
		return "never_remove"
	}
	return "unknown"
}

// Options control how a value is stored.
type Options struct {
	Expiration time.Duration // absolute lifetime from insertion; 0 = none
	Sliding    time.Duration // lifetime extended on each hit; 0 = none
	Priority   Priority
	Tags       []string
	Size       int64 // caller-estimated size units; 0 counts as 1
}

// EvictReason says why an entry left the cache.
type EvictReason string

const (
	ReasonExpired  EvictReason = "expired"
	ReasonCapacity EvictReason = "capacity"
	ReasonRemoved  EvictReason = "removed"
)

// Remote is an optional second-tier store. Values are JSON encoded. Tags
// are mirrored into the remote tier so invalidation reaches keys this
// process never held or has already evicted.
type Remote interface {
	Get(ctx context.Context, key string) ([]byte, bool, error)
	Set(ctx context.Context, key string, value []byte, ttl time.Duration, tags ...string) error
	Delete(ctx context.Context, keys ...string) error
	DeleteTag(ctx context.Context, tag string) (int, error)
	DeleteFunc(ctx context.Context, match func(key string) bool) (int, error)
	DeletePattern(ctx context.Context, pattern string) (int, error)
}

// Config configures a Cache.
type Config struct {
	MaxEntries      int           // 0 = unbounded
	JanitorInterval time.Duration // 0 disables background purging
	Remote          Remote        // nil disables the L2 tier
	RemoteTimeout   time.Duration // per-call timeout for invalidations
	FlightTimeout   time.Duration // bound on one shared miss; default 30s
	Logger          *slog.Logger
}

// Stats is a point-in-time view of cache counters.
type Stats struct {
	Hits          int64 `json:"hits"`
	Misses        int64 `json:"misses"`
	Entries       int   `json:"entries"`
	EstimatedSize int64 `json:"estimatedSize"`
	Evictions     int64 `json:"evictions"`
	Expirations   int64 `json:"expirations"`
}

type entry struct {
	value      any
	deadline   time.Time // absolute; zero = none
	expiresAt  time.Time // effective; zero = none
	sliding    time.Duration
	priority   Priority
	tags       []string
	size       int64
	lastAccess time.Time
}

func (e *entry) expired(now time.Time) bool {
	return !e.expiresAt.IsZero() && !now.Before(e.expiresAt)
}

// Cache is safe for concurrent use.
type Cache struct {
	mu      sync.Mutex
	entries map[string]*entry
	tags    map[string]map[string]struct{}
	size    int64

	group  singleflight.Group
	cfg    Config
	log    *slog.Logger
	now    func() time.Time
	stop   chan struct{}
	done   chan struct{}
	closed sync.Once

	hits, misses, evictions, expirations atomic.Int64

	// Hooks, set before first use.
	OnHit   func(key string)
	OnMiss  func(key string)
	OnEvict func(key string, reason EvictReason)
}

// New creates a cache and starts its janitor when configured.
func New(cfg Config) *Cache {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.RemoteTimeout <= 0 {
		cfg.RemoteTimeout = 2 * time.Second
	}
	if cfg.FlightTimeout <= 0 {
		cfg.FlightTimeout = 30 * time.Second
	}
	c := &Cache{
		entries: make(map[string]*entry, 256),
		tags:    make(map[string]map[string]struct{}),
		cfg:     cfg,
		log:     cfg.Logger.With("component", "cache"),
		now:     time.Now,
		stop:    make(chan struct{}),
		done:    make(chan struct{}),
	}
	if cfg.JanitorInterval > 0 {
		go c.janitor(cfg.JanitorInterval)
	} else {
		close(c.done)
	}
	return c
}

// Close stops the janitor. The cache stays usable.
func (c *Cache) Close() {
	c.closed.Do(func() { close(c.stop) })
	<-c.done
}

func (c *Cache) janitor(interval time.Duration) {
	defer close(c.done)
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			if n := c.PurgeExpired(); n > 0 {
				c.log.Debug("purged expired entries", "count", n)
			}
		case <-c.stop:
			return
		}
	}
}

// Get returns the value for key if present and unexpired. A hit extends a
// sliding expiration.
func (c *Cache) Get(key string) (any, bool) {
	v, ok := c.lookup(key)
	if ok {
		c.hits.Add(1)
		if c.OnHit != nil {
			c.OnHit(key)
		}
	} else {
		c.misses.Add(1)
		if c.OnMiss != nil {
			c.OnMiss(key)
		}
	}
	return v, ok
}

func (c *Cache) lookup(key string) (any, bool) {
	now := c.now()
	c.mu.Lock()
	e, ok := c.entries[key]
	if !ok {
		c.mu.Unlock()
		return nil, false
	}
	if e.expired(now) {
		c.deleteLocked(key, e)
		c.mu.Unlock()
		c.expirations.Add(1)
		c.notifyEvict(key, ReasonExpired)
		return nil, false
	}
	e.lastAccess = now
	if e.sliding > 0 {
		e.expiresAt = capDeadline(now.Add(e.sliding), e.deadline)
	}
	v := e.value
	c.mu.Unlock()
	return v, true
}

// GetOrSet returns the cached value for key or computes it with factory.
// On a local miss the remote tier is consulted first. Factory errors are
// returned and not cached.
//
// Concurrent misses share one flight. The flight runs detached from the
// caller that started it, bounded by FlightTimeout, so a cancelled caller
// only abandons its own wait.
func GetOrSet[T any](ctx context.Context, c *Cache, key string, factory func(context.Context) (T, error), opts Options) (T, error) {
	var zero T
	if v, ok := c.Get(key); ok {
		if t, ok := v.(T); ok {
			return t, nil
		}
	}

	ch := c.group.DoChan(key, func() (any, error) {
		fctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), c.cfg.FlightTimeout)
		defer cancel()

		// another flight may have filled the key while we queued
		if v, ok := c.lookup(key); ok {
			if t, ok := v.(T); ok {
				return t, nil
			}
		}
		if t, ok := remoteGet[T](fctx, c, key); ok {
			c.set(key, t, opts)
			return t, nil
		}
		t, err := factory(fctx)
		if err != nil {
			return t, err
		}
		c.set(key, t, opts)
		c.remoteSet(fctx, key, t, opts)
		return t, nil
	})

	select {
	case res := <-ch:
		if res.Err != nil {
			return zero, res.Err
		}
		t, ok := res.Val.(T)
		if !ok {
			return zero, fmt.Errorf("cache: key %q holds %T", key, res.Val)
		}
		return t, nil
	case <-ctx.Done():
		return zero, ctx.Err()
	}
}

func remoteGet[T any](ctx context.Context, c *Cache, key string) (T, bool) {
	var t T
	if c.cfg.Remote == nil {
		return t, false
	}
	b, found, err := c.cfg.Remote.Get(ctx, key)
	if err != nil {
		c.log.Warn("remote get failed, treating as miss", "key", key, "err", err)
		return t, false
	}
	if !found {
		return t, false
	}
	if err := json.Unmarshal(b, &t); err != nil {
		c.log.Warn("remote value undecodable, treating as miss", "key", key, "err", err)
		return t, false
	}
	return t, true
}

func (c *Cache) remoteSet(ctx context.Context, key string, value any, opts Options) {
	if c.cfg.Remote == nil {
		return
	}
	ttl := opts.Expiration
	if ttl == 0 {
		ttl = opts.Sliding
	}
	b, err := json.Marshal(value)
	if err != nil {
		c.log.Warn("remote encode failed", "key", key, "err", err)
		return
	}
	if err := c.cfg.Remote.Set(ctx, key, b, ttl, opts.Tags...); err != nil {
		c.log.Warn("remote set failed", "key", key, "err", err)
	}
}

// Set stores value under key, replacing any existing entry.
func (c *Cache) Set(key string, value any, opts Options) {
	c.set(key, value, opts)
}

// WarmUp primes key without a factory call. The remote tier is not written,
// so warmed values stay local to this process.
func (c *Cache) WarmUp(key string, value any, opts Options) {
	c.set(key, value, opts)
}

func (c *Cache) set(key string, value any, opts Options) {
	now := c.now()
	e := &entry{
		value:      value,
		sliding:    opts.Sliding,
		priority:   opts.Priority,
		tags:       append([]string(nil), opts.Tags...),
		size:       opts.Size,
		lastAccess: now,
	}
	if e.size <= 0 {
		e.size = 1
	}
	if opts.Expiration > 0 {
		e.deadline = now.Add(opts.Expiration)
		e.expiresAt = e.deadline
	}
	if opts.Sliding > 0 {
		e.expiresAt = capDeadline(now.Add(opts.Sliding), e.deadline)
	}

	c.mu.Lock()
	if old, ok := c.entries[key]; ok {
		c.deleteLocked(key, old)
	}
	c.entries[key] = e
	c.size += e.size
	for _, tag := range e.tags {
		set, ok := c.tags[tag]
		if !ok {
			set = make(map[string]struct{})
			c.tags[tag] = set
		}
		set[key] = struct{}{}
	}
	evicted := c.enforceCapacityLocked(now)
	c.mu.Unlock()

	for _, k := range evicted {
		c.notifyEvict(k, ReasonCapacity)
	}
}

// enforceCapacityLocked evicts expired entries, then the lowest priority
// least recently used entries, until the count fits MaxEntries.
func (c *Cache) enforceCapacityLocked(now time.Time) []string {
	limit := c.cfg.MaxEntries
	if limit <= 0 || len(c.entries) <= limit {
		return nil
	}
	for k, e := range c.entries {
		if e.expired(now) {
			c.deleteLocked(k, e)
			c.expirations.Add(1)
		}
	}
	var evicted []string
	for len(c.entries) > limit {
		victim := ""
		var ve *entry
		for k, e := range c.entries {
			if e.priority == NeverRemove {
				continue
			}
			if ve == nil || e.priority < ve.priority ||
				(e.priority == ve.priority && e.lastAccess.Before(ve.lastAccess)) {
				victim, ve = k, e
			}
		}
		if ve == nil {
			break
		}
		c.deleteLocked(victim, ve)
		c.evictions.Add(1)
		evicted = append(evicted, victim)
	}
	return evicted
}

func (c *Cache) deleteLocked(key string, e *entry) {
	delete(c.entries, key)
	c.size -= e.size
	for _, tag := range e.tags {
		if set, ok := c.tags[tag]; ok {
			delete(set, key)
			if len(set) == 0 {
				delete(c.tags, tag)
			}
		}
	}
}

func (c *Cache) notifyEvict(key string, reason EvictReason) {
	if c.OnEvict != nil {
		c.OnEvict(key, reason)
	}
}

// Remove deletes key locally and from the remote tier.
func (c *Cache) Remove(ctx context.Context, key string) bool {
	c.mu.Lock()
	e, ok := c.entries[key]
	if ok {
		c.deleteLocked(key, e)
	}
	c.mu.Unlock()
	c.remoteDelete(ctx, key)
	if ok {
		c.notifyEvict(key, ReasonRemoved)
	}
	return ok
}

// RemoveByTag deletes every entry carrying tag and returns the local count.
// The remote tier drops every key it holds under tag as well.
func (c *Cache) RemoveByTag(ctx context.Context, tag string) int {
	c.mu.Lock()
	keys := make([]string, 0, len(c.tags[tag]))
	for k := range c.tags[tag] {
		keys = append(keys, k)
	}
	for _, k := range keys {
		c.deleteLocked(k, c.entries[k])
	}
	c.mu.Unlock()

	if c.cfg.Remote != nil {
		c.remoteDelete(ctx, keys...)
		rctx, cancel := context.WithTimeout(ctx, c.cfg.RemoteTimeout)
		n, err := c.cfg.Remote.DeleteTag(rctx, tag)
		cancel()
		if err != nil {
			c.log.Warn("remote tag delete failed", "tag", tag, "err", err)
		} else {
			c.log.Debug("remote tag deleted", "tag", tag, "keys", n)
		}
	}
	for _, k := range keys {
		c.notifyEvict(k, ReasonRemoved)
	}
	return len(keys)
}

// RemoveByPattern deletes every local entry whose key matches re and returns
// the local count. Remote keys matching re are deleted too, whether or not
// this process holds them.
func (c *Cache) RemoveByPattern(ctx context.Context, re *regexp.Regexp) int {
	c.mu.Lock()
	var keys []string
	for k, e := range c.entries {
		if re.MatchString(k) {
			c.deleteLocked(k, e)
			keys = append(keys, k)
		}
	}
	c.mu.Unlock()

	if c.cfg.Remote != nil {
		rctx, cancel := context.WithTimeout(ctx, c.cfg.RemoteTimeout)
		n, err := c.cfg.Remote.DeleteFunc(rctx, re.MatchString)
		cancel()
		if err != nil {
			c.log.Warn("remote pattern delete failed", "pattern", re.String(), "err", err)
		} else {
			c.log.Debug("remote pattern deleted", "pattern", re.String(), "keys", n)
		}
	}
	for _, k := range keys {
		c.notifyEvict(k, ReasonRemoved)
	}
	return len(keys)
}

// Clear drops every local entry and everything under the remote tier.
func (c *Cache) Clear(ctx context.Context) {
	c.mu.Lock()
	c.entries = make(map[string]*entry, 256)
	c.tags = make(map[string]map[string]struct{})
	c.size = 0
	c.mu.Unlock()
	if c.cfg.Remote == nil {
		return
	}
	ctx, cancel := context.WithTimeout(ctx, c.cfg.RemoteTimeout)
	defer cancel()
	if _, err := c.cfg.Remote.DeletePattern(ctx, "*"); err != nil {
		c.log.Warn("remote clear failed", "err", err)
	}
}

func (c *Cache) remoteDelete(ctx context.Context, keys ...string) {
	if c.cfg.Remote == nil || len(keys) == 0 {
		return
	}
	ctx, cancel := context.WithTimeout(ctx, c.cfg.RemoteTimeout)
	defer cancel()
	if err := c.cfg.Remote.Delete(ctx, keys...); err != nil {
		c.log.Warn("remote delete failed", "keys", len(keys), "err", err)
	}
}

// PurgeExpired drops expired entries and returns how many were removed.
func (c *Cache) PurgeExpired() int {
	now := c.now()
	c.mu.Lock()
	var keys []string
	for k, e := range c.entries {
		if e.expired(now) {
			c.deleteLocked(k, e)
			keys = append(keys, k)
		}
	}
	c.mu.Unlock()
	c.expirations.Add(int64(len(keys)))
	for _, k := range keys {
		c.notifyEvict(k, ReasonExpired)
	}
	return len(keys)
}

// GetStatistics returns hit/miss counters and current size.
func (c *Cache) GetStatistics() Stats {
	c.mu.Lock()
	n, size := len(c.entries), c.size
	c.mu.Unlock()
	return Stats{
		Hits:          c.hits.Load(),
		Misses:        c.misses.Load(),
		Entries:       n,
		EstimatedSize: size,
		Evictions:     c.evictions.Load(),
		Expirations:   c.expirations.Load(),
	}
}

func capDeadline(t, deadline time.Time) time.Time {
	if !deadline.IsZero() && t.After(deadline) {
		return deadline
	}
	return t
}
