// Package fallback resolves stats reads through cache, materialized snapshot,
// live computation and static defaults, in that order.
package fallback

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	v1 "github.com/aevon-lab/matchstats/internal/api/v1"
	"github.com/aevon-lab/matchstats/internal/cache"
	"github.com/aevon-lab/matchstats/internal/core/aggregation"
	"github.com/aevon-lab/matchstats/internal/core/metrics"
	"github.com/aevon-lab/matchstats/internal/core/storage"
	"github.com/jonboulle/clockwork"
)

// ErrAllStagesFailed is returned when no stage, including defaults, produced a body.
var ErrAllStagesFailed = errors.New("all fallback stages failed")

const (
	defaultSnapshotTimeout = 2 * time.Second
	defaultLiveTimeout     = 10 * time.Second
	defaultSourceCooldown  = 30 * time.Second
)

// SnapshotReader is the part of the aggregate store the chain reads from.
type SnapshotReader interface {
	Read(ctx context.Context, partitionID string) (*aggregation.Snapshot, error)
	Compute(ctx context.Context, partitionID string) (*aggregation.Snapshot, error)
}

// ResponseCache is the request cache contract used for lookups and write-back.
type ResponseCache interface {
	Get(ctx context.Context, key string) ([]byte, error)
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
}

// Options bounds each stage.
type Options struct {
	SnapshotTimeout time.Duration
	LiveTimeout     time.Duration
	// SourceCooldown is how long the live stage is skipped after the raw
	// store reported itself unavailable.
	SourceCooldown time.Duration
	TTLs           cache.TTLs
}

func (o Options) normalized() Options {
	n := o
	if n.SnapshotTimeout <= 0 {
		n.SnapshotTimeout = defaultSnapshotTimeout
	}
	if n.LiveTimeout <= 0 {
		n.LiveTimeout = defaultLiveTimeout
	}
	if n.SourceCooldown <= 0 {
		n.SourceCooldown = defaultSourceCooldown
	}
	if n.TTLs.Short <= 0 {
		n.TTLs.Short = 5 * time.Minute
	}
	if n.TTLs.Long <= 0 {
		n.TTLs.Long = 2 * time.Hour
	}
	if n.TTLs.Degraded <= 0 {
		n.TTLs.Degraded = 30 * time.Second
	}
	return n
}

// Result is a resolved body and where it came from. Body is the exact bytes
// written to and read from the cache.
type Result struct {
	Source   v1.Source
	Degraded bool
	// Origin is the stage that originally produced a cached body.
	Origin v1.Source
	Body   json.RawMessage
}

// cachedResult is the cache value: the body plus the flags it was produced with.
type cachedResult struct {
	Source   v1.Source       `json:"source"`
	Degraded bool            `json:"degraded"`
	Body     json.RawMessage `json:"body"`
}

// Chain resolves reads through its stages. It never turns a source failure
// into an error while a default payload exists for the query kind.
type Chain struct {
	cache    ResponseCache
	store    SnapshotReader
	defaults *Defaults
	clock    clockwork.Clock
	opts     Options

	sourceDownUntil atomic.Int64 // unix nanos
}

// NewChain creates a Chain. cache may be nil to disable stage one.
func NewChain(respCache ResponseCache, store SnapshotReader, defaults *Defaults, clock clockwork.Clock, opts Options) *Chain {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	return &Chain{
		cache:    respCache,
		store:    store,
		defaults: defaults,
		clock:    clock,
		opts:     opts.normalized(),
	}
}

// Resolve returns the body for q from the first stage that can produce it.
func (c *Chain) Resolve(ctx context.Context, q Query) (*Result, error) {
	key := q.CacheKey()

	if res, ok := c.fromCache(ctx, key); ok {
		return res, nil
	}

	skipLive := c.sourceKnownDown()

	body, err := c.fromSnapshot(ctx, q)
	if err == nil {
		return c.finish(ctx, key, v1.SourceSnapshot, false, body, c.opts.TTLs.Short), nil
	}
	if errors.Is(err, ErrEntityNotFound) {
		return nil, err
	}
	lastErr := err
	if errors.Is(err, storage.ErrSourceUnavailable) {
		c.markSourceDown()
		skipLive = true
	}
	slog.Debug("[FallbackChain] Snapshot stage missed",
		"partition", q.Partition,
		"error", err)

	if skipLive {
		slog.Debug("[FallbackChain] Raw store down, skipping live computation", "partition", q.Partition)
	} else {
		body, err = c.fromLive(ctx, q)
		if err == nil {
			return c.finish(ctx, key, v1.SourceLive, false, body, c.opts.TTLs.Long), nil
		}
		if errors.Is(err, ErrEntityNotFound) {
			return nil, err
		}
		if errors.Is(err, storage.ErrSourceUnavailable) {
			c.markSourceDown()
		}
		lastErr = err
	}

	if ctx.Err() != nil {
		return nil, fmt.Errorf("resolve %s: %w", q.Partition, ctx.Err())
	}

	body, version, ok := c.defaults.Lookup(q.Kind, q.Partition)
	if !ok {
		return nil, fmt.Errorf("resolve %s %s: %w: %w", q.Kind, q.Partition, ErrAllStagesFailed, lastErr)
	}
	slog.Warn("[FallbackChain] Serving degraded default",
		"kind", q.Kind,
		"partition", q.Partition,
		"default_version", version,
		"cause", lastErr)
	return c.finish(ctx, key, v1.SourceDefault, true, body, c.opts.TTLs.Degraded), nil
}

func (c *Chain) fromCache(ctx context.Context, key string) (*Result, bool) {
	if c.cache == nil {
		return nil, false
	}
	raw, err := c.cache.Get(ctx, key)
	if err != nil {
		return nil, false
	}

	var cached cachedResult
	if err := json.Unmarshal(raw, &cached); err != nil || len(cached.Body) == 0 {
		slog.Debug("[FallbackChain] Ignoring unreadable cache entry", "key", key, "error", err)
		return nil, false
	}

	metrics.FallbackResolutions.WithLabelValues(string(v1.SourceCache)).Inc()
	return &Result{
		Source:   v1.SourceCache,
		Degraded: cached.Degraded,
		Origin:   cached.Source,
		Body:     cached.Body,
	}, true
}

func (c *Chain) fromSnapshot(ctx context.Context, q Query) ([]byte, error) {
	stageCtx, cancel := context.WithTimeout(ctx, c.opts.SnapshotTimeout)
	defer cancel()

	snap, err := c.store.Read(stageCtx, q.Partition)
	if err != nil {
		return nil, err
	}
	return render(snap, q)
}

func (c *Chain) fromLive(ctx context.Context, q Query) ([]byte, error) {
	stageCtx, cancel := context.WithTimeout(ctx, c.opts.LiveTimeout)
	defer cancel()

	snap, err := c.store.Compute(stageCtx, q.Partition)
	if err != nil {
		return nil, err
	}
	return render(snap, q)
}

// finish records the resolution and writes it back to the cache.
func (c *Chain) finish(ctx context.Context, key string, source v1.Source, degraded bool, body []byte, ttl time.Duration) *Result {
	metrics.FallbackResolutions.WithLabelValues(string(source)).Inc()

	res := &Result{
		Source:   source,
		Degraded: degraded,
		Origin:   source,
		Body:     body,
	}
	if c.cache == nil {
		return res
	}

	value, err := json.Marshal(cachedResult{Source: source, Degraded: degraded, Body: body})
	if err != nil {
		return res
	}
	if err := c.cache.Set(ctx, key, value, ttl); err != nil && !errors.Is(err, cache.ErrCacheUnavailable) {
		slog.Debug("[FallbackChain] Cache write-back failed", "key", key, "error", err)
	}
	return res
}

func (c *Chain) sourceKnownDown() bool {
	return c.clock.Now().UnixNano() < c.sourceDownUntil.Load()
}

func (c *Chain) markSourceDown() {
	c.sourceDownUntil.Store(c.clock.Now().Add(c.opts.SourceCooldown).UnixNano())
}
