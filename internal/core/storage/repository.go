package storage

import (
	"context"
	"errors"
	"time"

	"github.com/aevon-lab/matchstats/internal/core/aggregation"
)

var (
	// ErrSourceUnavailable is returned when the raw analytical store cannot be reached.
	// Read paths treat it as "skip live computation".
	ErrSourceUnavailable = errors.New("raw analytical store unavailable")

	// ErrAggregationTimeout is returned when a grouped aggregation exceeds its time budget
	// or is cancelled by the database.
	ErrAggregationTimeout = errors.New("aggregation exceeded time budget")

	// ErrSnapshotNotFound is returned when no materialized snapshot exists for a partition.
	ErrSnapshotNotFound = errors.New("snapshot not found")
)

// AggregationOptions bounds one grouped aggregation against the raw store.
type AggregationOptions struct {
	// Timeout is enforced both as a context deadline and as a server-side
	// statement timeout. Zero means no server-side limit.
	Timeout time.Duration

	// AllowDiskSpill permits the database to spill sort/hash work to temp files.
	// When false the query fails instead of spilling.
	AllowDiskSpill bool
}

// PartitionInfo describes one partition (release) of the raw dataset.
type PartitionInfo struct {
	ID         string
	ReleasedAt time.Time
}

// RawStore is the read contract of the raw analytical dataset.
// Implementations must return durations in seconds.
type RawStore interface {
	// AggregatePartition runs the grouped aggregation for one partition.
	// Rows are returned ordered by entity.
	AggregatePartition(ctx context.Context, partitionID string, opts AggregationOptions) ([]aggregation.RawRow, error)

	// RecentPartitions returns up to limit partitions, most recent first.
	// limit <= 0 returns every partition.
	RecentPartitions(ctx context.Context, limit int) ([]PartitionInfo, error)
}
