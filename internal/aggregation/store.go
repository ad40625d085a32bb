package aggregation

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/aevon-lab/matchstats/internal/core/aggregation"
	"github.com/aevon-lab/matchstats/internal/core/metrics"
	"github.com/aevon-lab/matchstats/internal/core/partition"
	"github.com/aevon-lab/matchstats/internal/core/storage"
	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"golang.org/x/sync/singleflight"
)

// ErrRebuildInFlight is returned when a rebuild of the same partition is already running.
var ErrRebuildInFlight = errors.New("rebuild already in flight for partition")

const defaultRebuildTimeout = 10 * time.Minute

// StoreOptions controls how snapshots are derived and built.
type StoreOptions struct {
	// MinGames excludes entities with fewer games from the snapshot and from
	// the pick-rate denominator.
	MinGames int64

	// RankWindow is how many of the most recent partitions get dense ranks.
	// <= 0 ranks every partition.
	RankWindow int

	// RebuildTimeout bounds one full rebuild, source query included.
	RebuildTimeout time.Duration

	// AllowDiskSpill lets the raw store spill large aggregations to disk.
	AllowDiskSpill bool
}

func (o StoreOptions) normalized() StoreOptions {
	n := o
	if n.MinGames < 0 {
		n.MinGames = 0
	}
	if n.RebuildTimeout <= 0 {
		n.RebuildTimeout = defaultRebuildTimeout
	}
	return n
}

// Store is the materialized aggregate store. Each partition has one current
// snapshot behind an atomic pointer; rebuilds construct a complete replacement
// and swap it in, so readers never observe a partial snapshot.
type Store struct {
	raw       storage.RawStore
	snapshots SnapshotStore
	clock     clockwork.Clock
	opts      StoreOptions

	mu       sync.Mutex
	current  map[string]*atomic.Pointer[aggregation.Snapshot]
	building map[string]struct{}

	loads singleflight.Group
}

// NewStore creates a Store. A nil clock uses the real clock.
func NewStore(raw storage.RawStore, snapshots SnapshotStore, clock clockwork.Clock, opts StoreOptions) *Store {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	return &Store{
		raw:       raw,
		snapshots: snapshots,
		clock:     clock,
		opts:      opts.normalized(),
		current:   make(map[string]*atomic.Pointer[aggregation.Snapshot]),
		building:  make(map[string]struct{}),
	}
}

func (s *Store) pointer(partitionID string) *atomic.Pointer[aggregation.Snapshot] {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.current[partitionID]
	if !ok {
		p = &atomic.Pointer[aggregation.Snapshot]{}
		s.current[partitionID] = p
	}
	return p
}

// Current returns the in-memory snapshot of a partition without touching the
// durable store. Nil if none is loaded.
func (s *Store) Current(partitionID string) *aggregation.Snapshot {
	return s.pointer(partitionID).Load()
}

// Read returns the current snapshot of a partition. On a cold process the
// durable snapshot is loaded once and installed. Returns
// storage.ErrSnapshotNotFound if the partition was never built.
func (s *Store) Read(ctx context.Context, partitionID string) (*aggregation.Snapshot, error) {
	p := s.pointer(partitionID)
	if snap := p.Load(); snap != nil {
		return snap, nil
	}

	v, err, _ := s.loads.Do(partitionID, func() (interface{}, error) {
		snap, err := s.snapshots.LoadSnapshot(ctx, partitionID)
		if err != nil {
			return nil, err
		}
		// A rebuild may have swapped in a newer snapshot while we were loading.
		if !p.CompareAndSwap(nil, snap) {
			return p.Load(), nil
		}
		slog.Debug("[AggregateStore] Loaded durable snapshot",
			"partition", partitionID,
			"snapshot_id", snap.SnapshotID,
			"records", snap.Len())
		return snap, nil
	})
	if err != nil {
		if errors.Is(err, storage.ErrSnapshotNotFound) {
			return nil, err
		}
		return nil, fmt.Errorf("read snapshot %s: %w", partitionID, err)
	}
	return v.(*aggregation.Snapshot), nil
}

// Compute runs the full derivation for a partition without persisting or
// swapping anything. The caller's context deadline bounds the source query.
func (s *Store) Compute(ctx context.Context, partitionID string) (*aggregation.Snapshot, error) {
	opts := storage.AggregationOptions{AllowDiskSpill: s.opts.AllowDiskSpill}
	if deadline, ok := ctx.Deadline(); ok {
		opts.Timeout = time.Until(deadline)
		if opts.Timeout <= 0 {
			return nil, fmt.Errorf("compute %s: %w", partitionID, storage.ErrAggregationTimeout)
		}
	}

	rows, err := s.raw.AggregatePartition(ctx, partitionID, opts)
	if err != nil {
		return nil, fmt.Errorf("compute %s: %w", partitionID, err)
	}

	ranked, err := s.isRanked(ctx, partitionID)
	if err != nil {
		return nil, fmt.Errorf("compute %s: %w", partitionID, err)
	}

	now := s.clock.Now().UTC()
	records := aggregation.Derive(partitionID, rows, aggregation.DeriveOptions{
		MinGames: s.opts.MinGames,
		Ranked:   ranked,
		Now:      now,
	})
	if err := aggregation.ValidateRanks(records); err != nil {
		return nil, fmt.Errorf("compute %s: %w", partitionID, err)
	}

	return &aggregation.Snapshot{
		PartitionID: partitionID,
		BuiltAt:     now,
		Records:     records,
	}, nil
}

// isRanked reports whether partitionID falls inside the ranked window of
// most recent partitions.
func (s *Store) isRanked(ctx context.Context, partitionID string) (bool, error) {
	if s.opts.RankWindow <= 0 {
		return true, nil
	}
	recent, err := s.raw.RecentPartitions(ctx, s.opts.RankWindow)
	if err != nil {
		return false, fmt.Errorf("recent partitions: %w", err)
	}
	for _, p := range recent {
		if p.ID == partitionID {
			return true, nil
		}
	}
	return false, nil
}

// Rebuild recomputes a partition from the raw store, persists the new snapshot
// and swaps it in. On any failure the previous snapshot stays current.
// Returns ErrRebuildInFlight if the partition is already being rebuilt.
func (s *Store) Rebuild(ctx context.Context, partitionID string) (*aggregation.Snapshot, error) {
	if err := partition.Validate(partitionID); err != nil {
		return nil, fmt.Errorf("rebuild: %w", err)
	}
	if !s.acquire(partitionID) {
		return nil, fmt.Errorf("rebuild %s: %w", partitionID, ErrRebuildInFlight)
	}
	defer s.release(partitionID)

	start := s.clock.Now()
	ctx, cancel := context.WithTimeout(ctx, s.opts.RebuildTimeout)
	defer cancel()

	snap, err := s.Compute(ctx, partitionID)
	if err != nil {
		metrics.RebuildsTotal.WithLabelValues("failed").Inc()
		return nil, fmt.Errorf("rebuild: %w", err)
	}

	// Out of budget before writing: discard rather than start a write we may not finish.
	if err := ctx.Err(); err != nil {
		metrics.RebuildsTotal.WithLabelValues("abandoned").Inc()
		return nil, fmt.Errorf("rebuild %s: abandoned before write: %w", partitionID, storage.ErrAggregationTimeout)
	}

	snap.SnapshotID = uuid.NewString()
	if err := s.snapshots.WriteSnapshot(ctx, snap); err != nil {
		metrics.RebuildsTotal.WithLabelValues("failed").Inc()
		return nil, fmt.Errorf("rebuild %s: write snapshot: %w", partitionID, err)
	}

	previous := s.pointer(partitionID).Swap(snap)

	elapsed := s.clock.Since(start)
	metrics.RebuildsTotal.WithLabelValues("succeeded").Inc()
	metrics.RebuildDuration.Observe(elapsed.Seconds())

	attrs := []any{
		"partition", partitionID,
		"snapshot_id", snap.SnapshotID,
		"records", snap.Len(),
		"duration", elapsed,
	}
	if previous != nil {
		attrs = append(attrs, "replaced_snapshot_id", previous.SnapshotID)
	}
	slog.Info("[AggregateStore] Partition rebuilt", attrs...)

	return snap, nil
}

// Snapshots summarizes every loaded partition, newest release first.
func (s *Store) Snapshots() []aggregation.SnapshotInfo {
	s.mu.Lock()
	ids := make([]string, 0, len(s.current))
	for id := range s.current {
		ids = append(ids, id)
	}
	s.mu.Unlock()

	partition.SortNewestFirst(ids)

	infos := make([]aggregation.SnapshotInfo, 0, len(ids))
	for _, id := range ids {
		if snap := s.Current(id); snap != nil {
			infos = append(infos, snap.Info())
		}
	}
	return infos
}

// Warm loads every durable snapshot into memory. Errors for individual
// partitions are logged and skipped.
func (s *Store) Warm(ctx context.Context) error {
	infos, err := s.snapshots.ListSnapshots(ctx)
	if err != nil {
		return fmt.Errorf("warm: list snapshots: %w", err)
	}
	for _, info := range infos {
		if _, err := s.Read(ctx, info.PartitionID); err != nil {
			slog.Warn("[AggregateStore] Failed to warm partition",
				"partition", info.PartitionID,
				"error", err)
		}
	}
	slog.Info("[AggregateStore] Warmed snapshots", "partitions", len(infos))
	return nil
}

func (s *Store) acquire(partitionID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, busy := s.building[partitionID]; busy {
		return false
	}
	s.building[partitionID] = struct{}{}
	return true
}

func (s *Store) release(partitionID string) {
	s.mu.Lock()
	delete(s.building, partitionID)
	s.mu.Unlock()
}
