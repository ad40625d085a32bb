package aggregation

import (
	"context"
	"sort"
	"sync"

	"github.com/aevon-lab/matchstats/internal/core/aggregation"
	"github.com/aevon-lab/matchstats/internal/core/storage"
)

// SnapshotStore is the durable home of partition snapshots.
//
// Contract: WriteSnapshot makes the new snapshot visible to LoadSnapshot in a
// single step, only after every record is stored. A failed write leaves the
// previously visible snapshot of that partition untouched, and never touches
// other partitions.
type SnapshotStore interface {
	// WriteSnapshot stores snap under snap.SnapshotID and repoints the
	// partition to it.
	WriteSnapshot(ctx context.Context, snap *aggregation.Snapshot) error

	// LoadSnapshot returns the current snapshot of a partition, or
	// storage.ErrSnapshotNotFound.
	LoadSnapshot(ctx context.Context, partitionID string) (*aggregation.Snapshot, error)

	// ListSnapshots summarizes every partition with a current snapshot.
	ListSnapshots(ctx context.Context) ([]aggregation.SnapshotInfo, error)
}

// MemorySnapshotStore keeps snapshots in process memory. The map entry is
// replaced under a lock, which is the whole repoint. Used when
// aggregation.persist_snapshots is off.
type MemorySnapshotStore struct {
	mu        sync.RWMutex
	snapshots map[string]*aggregation.Snapshot
}

// NewMemorySnapshotStore creates an empty in-memory store.
func NewMemorySnapshotStore() *MemorySnapshotStore {
	return &MemorySnapshotStore{snapshots: make(map[string]*aggregation.Snapshot)}
}

func (m *MemorySnapshotStore) WriteSnapshot(ctx context.Context, snap *aggregation.Snapshot) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.Lock()
	m.snapshots[snap.PartitionID] = snap
	m.mu.Unlock()
	return nil
}

func (m *MemorySnapshotStore) LoadSnapshot(_ context.Context, partitionID string) (*aggregation.Snapshot, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	snap, ok := m.snapshots[partitionID]
	if !ok {
		return nil, storage.ErrSnapshotNotFound
	}
	return snap, nil
}

func (m *MemorySnapshotStore) ListSnapshots(_ context.Context) ([]aggregation.SnapshotInfo, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	infos := make([]aggregation.SnapshotInfo, 0, len(m.snapshots))
	for _, snap := range m.snapshots {
		infos = append(infos, snap.Info())
	}
	sort.Slice(infos, func(i, j int) bool {
		if !infos[i].BuiltAt.Equal(infos[j].BuiltAt) {
			return infos[i].BuiltAt.After(infos[j].BuiltAt)
		}
		return infos[i].PartitionID < infos[j].PartitionID
	})
	return infos, nil
}
