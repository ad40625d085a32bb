package aggregation

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/aevon-lab/matchstats/internal/core/aggregation"
	"github.com/aevon-lab/matchstats/internal/core/storage"
)

// fakeRawStore serves canned grouped rows per partition.
type fakeRawStore struct {
	mu      sync.Mutex
	rows    map[string][]aggregation.RawRow
	errs    map[string]error
	recent  []storage.PartitionInfo
	calls   map[string]int
	lastOpt storage.AggregationOptions

	// when gate is set, AggregatePartition reports on entered and waits for gate
	gate    chan struct{}
	entered chan string
}

func newFakeRawStore() *fakeRawStore {
	return &fakeRawStore{
		rows:  make(map[string][]aggregation.RawRow),
		errs:  make(map[string]error),
		calls: make(map[string]int),
	}
}

func (f *fakeRawStore) AggregatePartition(ctx context.Context, partitionID string, opts storage.AggregationOptions) ([]aggregation.RawRow, error) {
	f.mu.Lock()
	f.calls[partitionID]++
	f.lastOpt = opts
	gate, entered := f.gate, f.entered
	err := f.errs[partitionID]
	rows := append([]aggregation.RawRow(nil), f.rows[partitionID]...)
	f.mu.Unlock()

	if gate != nil {
		entered <- partitionID
		select {
		case <-gate:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if err != nil {
		return nil, err
	}
	return rows, nil
}

func (f *fakeRawStore) RecentPartitions(_ context.Context, limit int) ([]storage.PartitionInfo, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if limit <= 0 || limit > len(f.recent) {
		limit = len(f.recent)
	}
	return append([]storage.PartitionInfo(nil), f.recent[:limit]...), nil
}

func (f *fakeRawStore) setRows(partitionID string, rows []aggregation.RawRow) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.rows[partitionID] = rows
}

func (f *fakeRawStore) setErr(partitionID string, err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.errs[partitionID] = err
}

func (f *fakeRawStore) callCount(partitionID string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls[partitionID]
}

func (f *fakeRawStore) setRecent(ids ...string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	base := time.Date(2026, 9, 1, 0, 0, 0, 0, time.UTC)
	f.recent = f.recent[:0]
	for i, id := range ids {
		f.recent = append(f.recent, storage.PartitionInfo{ID: id, ReleasedAt: base.AddDate(0, 0, -7*i)})
	}
}

// failingSnapshotStore wraps a MemorySnapshotStore and fails writes on demand.
type failingSnapshotStore struct {
	*MemorySnapshotStore
	mu       sync.Mutex
	writeErr error
}

func (f *failingSnapshotStore) WriteSnapshot(ctx context.Context, snap *aggregation.Snapshot) error {
	f.mu.Lock()
	err := f.writeErr
	f.mu.Unlock()
	if err != nil {
		return err
	}
	return f.MemorySnapshotStore.WriteSnapshot(ctx, snap)
}

var errSourceDown = errors.New("connection refused")

func heroRows() []aggregation.RawRow {
	return []aggregation.RawRow{
		{Entity: "axe", Games: 100, Wins: 55, Kills: 700, Deaths: 650, Assists: 900, DurationSeconds: 240000},
		{Entity: "bane", Games: 300, Wins: 120, Kills: 1500, Deaths: 1800, Assists: 3000, DurationSeconds: 720000},
		{Entity: "luna", Games: 200, Wins: 110, Kills: 2000, Deaths: 1000, Assists: 1000, DurationSeconds: 480000},
		{Entity: "zeus", Games: 200, Wins: 110, Kills: 1800, Deaths: 1100, Assists: 2200, DurationSeconds: 470000},
		{Entity: "chen", Games: 3, Wins: 3, Kills: 10, Deaths: 2, Assists: 30, DurationSeconds: 7000},
	}
}

// hangingLister blocks every listing until the caller gives up.
type hangingLister struct{}

func (hangingLister) RecentPartitions(ctx context.Context, _ int) ([]storage.PartitionInfo, error) {
	<-ctx.Done()
	return nil, ctx.Err()
}

// hangingSnapshotStore blocks durable loads until the caller gives up.
type hangingSnapshotStore struct {
	*MemorySnapshotStore
}

func (hangingSnapshotStore) LoadSnapshot(ctx context.Context, _ string) (*aggregation.Snapshot, error) {
	<-ctx.Done()
	return nil, ctx.Err()
}
