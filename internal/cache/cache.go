// Package cache is the request-level response cache: an optional in-process
// tier in front of Redis, failing open to a miss whenever the store misbehaves.
package cache

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/aevon-lab/matchstats/internal/core/metrics"
	"github.com/hashicorp/golang-lru/v2/expirable"
	"github.com/jonboulle/clockwork"
	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/singleflight"
)

var (
	// ErrCacheMiss is returned by Get for absent, expired or unreadable entries.
	ErrCacheMiss = errors.New("cache miss")
	// ErrCacheUnavailable marks a miss or a skipped write caused by the store being down.
	ErrCacheUnavailable = errors.New("cache store unavailable")
)

const defaultOpTimeout = 200 * time.Millisecond

// TTLs are the expiry classes handed to Set.
type TTLs struct {
	Short    time.Duration // lists and searches
	Long     time.Duration // heavy aggregates
	Degraded time.Duration // default payloads served while sources are down
}

// Options configures a RequestCache.
type Options struct {
	KeyPrefix string
	OpTimeout time.Duration
	// LocalSize enables the in-process tier when > 0.
	LocalSize int
	LocalTTL  time.Duration
	Clock     clockwork.Clock
}

func (o Options) normalized() Options {
	n := o
	if n.OpTimeout <= 0 {
		n.OpTimeout = defaultOpTimeout
	}
	if n.LocalSize > 0 && n.LocalTTL <= 0 {
		n.LocalTTL = 30 * time.Second
	}
	if n.Clock == nil {
		n.Clock = clockwork.NewRealClock()
	}
	return n
}

type localEntry struct {
	value     []byte
	expiresAt time.Time
}

// RequestCache stores serialized response payloads by canonical request key.
// A nil client disables the remote tier.
type RequestCache struct {
	client *redis.Client
	health *Health
	local  *expirable.LRU[string, localEntry]
	opts   Options
	flight singleflight.Group
}

// New creates a RequestCache. health may be nil when client is nil.
func New(client *redis.Client, health *Health, opts Options) *RequestCache {
	opts = opts.normalized()
	c := &RequestCache{
		client: client,
		health: health,
		opts:   opts,
	}
	if opts.LocalSize > 0 {
		c.local = expirable.NewLRU[string, localEntry](opts.LocalSize, nil, opts.LocalTTL)
	}
	return c
}

// Get returns the cached payload for key. Every failure is reported as
// ErrCacheMiss so callers fall through to computing the value.
func (c *RequestCache) Get(ctx context.Context, key string) ([]byte, error) {
	if value, ok := c.getLocal(key); ok {
		metrics.CacheHits.WithLabelValues("local").Inc()
		return value, nil
	}

	if !c.remoteUsable() {
		metrics.CacheMisses.Inc()
		slog.Debug("[RequestCache] Store unavailable, skipping lookup", "key", key)
		return nil, fmt.Errorf("%w: %w", ErrCacheMiss, ErrCacheUnavailable)
	}

	opCtx, cancel := context.WithTimeout(ctx, c.opts.OpTimeout)
	defer cancel()

	full := c.fullKey(key)
	var get *redis.StringCmd
	var pttl *redis.DurationCmd
	_, err := c.client.Pipelined(opCtx, func(p redis.Pipeliner) error {
		get = p.Get(opCtx, full)
		pttl = p.PTTL(opCtx, full)
		return nil
	})
	// A failed dial or write leaves the queued commands without an error of
	// their own, so the pipeline error is checked first.
	if err != nil && !errors.Is(err, redis.Nil) {
		c.reportFailure("get", key, err)
		metrics.CacheMisses.Inc()
		return nil, fmt.Errorf("%w: %w", ErrCacheMiss, err)
	}

	value, err := get.Bytes()
	if errors.Is(err, redis.Nil) {
		metrics.CacheMisses.Inc()
		return nil, ErrCacheMiss
	}
	if err != nil {
		c.reportFailure("get", key, err)
		metrics.CacheMisses.Inc()
		return nil, fmt.Errorf("%w: %w", ErrCacheMiss, err)
	}

	metrics.CacheHits.WithLabelValues("redis").Inc()
	if remaining := pttl.Val(); remaining > 0 {
		c.setLocal(key, value, remaining)
	}
	return value, nil
}

// Set stores value under key for ttl. It is best-effort: the returned error is
// informational and callers are expected to carry on.
func (c *RequestCache) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	if ttl <= 0 {
		return fmt.Errorf("cache set %s: ttl must be positive", key)
	}
	c.setLocal(key, value, ttl)

	if !c.remoteUsable() {
		return ErrCacheUnavailable
	}

	opCtx, cancel := context.WithTimeout(ctx, c.opts.OpTimeout)
	defer cancel()

	if err := c.client.Set(opCtx, c.fullKey(key), value, ttl).Err(); err != nil {
		c.reportFailure("set", key, err)
		return fmt.Errorf("cache set %s: %w", key, err)
	}
	return nil
}

// Loader computes a payload on a miss.
type Loader func(ctx context.Context) ([]byte, error)

// GetOrLoad returns the cached payload for key, or runs load once per key
// across concurrent callers and caches its result for ttl. The bool reports a
// cache hit.
func (c *RequestCache) GetOrLoad(ctx context.Context, key string, ttl time.Duration, load Loader) ([]byte, bool, error) {
	if value, err := c.Get(ctx, key); err == nil {
		return value, true, nil
	}

	v, err, _ := c.flight.Do(key, func() (any, error) {
		value, err := load(ctx)
		if err != nil {
			return nil, err
		}
		_ = c.Set(ctx, key, value, ttl)
		return value, nil
	})
	if err != nil {
		return nil, false, err
	}
	return v.([]byte), false, nil
}

// Delete drops key from both tiers.
func (c *RequestCache) Delete(ctx context.Context, key string) error {
	if c.local != nil {
		c.local.Remove(key)
	}
	if !c.remoteUsable() {
		return ErrCacheUnavailable
	}

	opCtx, cancel := context.WithTimeout(ctx, c.opts.OpTimeout)
	defer cancel()

	if err := c.client.Del(opCtx, c.fullKey(key)).Err(); err != nil {
		c.reportFailure("delete", key, err)
		return fmt.Errorf("cache delete %s: %w", key, err)
	}
	return nil
}

// State reports the remote store health.
func (c *RequestCache) State() State {
	if c.client == nil || c.health == nil {
		return StateGivenUp
	}
	return c.health.State()
}

// Enabled reports whether a remote tier is configured.
func (c *RequestCache) Enabled() bool {
	return c.client != nil
}

func (c *RequestCache) remoteUsable() bool {
	if c.client == nil {
		return false
	}
	return c.health == nil || c.health.Available()
}

func (c *RequestCache) reportFailure(op, key string, err error) {
	metrics.CacheErrors.WithLabelValues(op).Inc()
	slog.Debug("[RequestCache] Store call failed, treating as miss",
		"op", op,
		"key", key,
		"error", err)
	if c.health != nil {
		c.health.ReportFailure(err)
	}
}

func (c *RequestCache) fullKey(key string) string {
	return c.opts.KeyPrefix + key
}

func (c *RequestCache) getLocal(key string) ([]byte, bool) {
	if c.local == nil {
		return nil, false
	}
	entry, ok := c.local.Get(key)
	if !ok {
		return nil, false
	}
	if !c.opts.Clock.Now().Before(entry.expiresAt) {
		c.local.Remove(key)
		return nil, false
	}
	return entry.value, true
}

func (c *RequestCache) setLocal(key string, value []byte, ttl time.Duration) {
	if c.local == nil {
		return
	}
	if ttl > c.opts.LocalTTL {
		ttl = c.opts.LocalTTL
	}
	c.local.Add(key, localEntry{value: value, expiresAt: c.opts.Clock.Now().Add(ttl)})
}
