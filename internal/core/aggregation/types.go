package aggregation

import (
	"time"

	"github.com/shopspring/decimal"
)

// Canonical metric names carried by every AggregateRecord.
// Rates are fractions in [0,1]; averages are per game.
const (
	MetricGames              = "games"
	MetricWins               = "wins"
	MetricWinRate            = "win_rate"
	MetricPickRate           = "pick_rate"
	MetricAvgKills           = "avg_kills"
	MetricAvgDeaths          = "avg_deaths"
	MetricAvgAssists         = "avg_assists"
	MetricAvgDurationSeconds = "avg_duration_seconds"
	MetricKDA                = "kda"
)

// PrimaryMetric orders records inside a snapshot and drives dense ranking.
const PrimaryMetric = MetricWinRate

// DimensionKey identifies one aggregate row: an entity inside a partition.
type DimensionKey struct {
	Partition string
	Entity    string
}

func (k DimensionKey) String() string {
	return k.Partition + "/" + k.Entity
}

// RawRow is one grouped row returned by the raw analytical store.
// All counters are sums over the partition; durations are in seconds.
type RawRow struct {
	Entity          string
	Games           int64
	Wins            int64
	Kills           int64
	Deaths          int64
	Assists         int64
	DurationSeconds int64
}

// AggregateRecord holds the materialized metrics of one dimension.
type AggregateRecord struct {
	Key         DimensionKey
	Metrics     map[string]decimal.Decimal
	Rank        int // 0 when the partition is outside the ranked window
	LastUpdated time.Time
}

// Metric returns the named metric, or zero if it is absent.
func (r AggregateRecord) Metric(name string) decimal.Decimal {
	if v, ok := r.Metrics[name]; ok {
		return v
	}
	return decimal.Zero
}

// Ranked reports whether the record carries a rank.
func (r AggregateRecord) Ranked() bool {
	return r.Rank > 0
}

// Snapshot is the complete record set of one partition at one point in time.
// Snapshots are immutable once built; readers share them without locking.
type Snapshot struct {
	PartitionID string
	SnapshotID  string
	BuiltAt     time.Time
	Records     []AggregateRecord // ordered by PrimaryMetric desc, entity asc
}

// Find returns the record for entity, if present.
func (s *Snapshot) Find(entity string) (AggregateRecord, bool) {
	if s == nil {
		return AggregateRecord{}, false
	}
	for _, rec := range s.Records {
		if rec.Key.Entity == entity {
			return rec, true
		}
	}
	return AggregateRecord{}, false
}

// Len returns the number of records in the snapshot.
func (s *Snapshot) Len() int {
	if s == nil {
		return 0
	}
	return len(s.Records)
}

// SnapshotInfo summarizes a snapshot without its records.
type SnapshotInfo struct {
	PartitionID string
	SnapshotID  string
	BuiltAt     time.Time
	RecordCount int
}

// Info returns the summary of s.
func (s *Snapshot) Info() SnapshotInfo {
	return SnapshotInfo{
		PartitionID: s.PartitionID,
		SnapshotID:  s.SnapshotID,
		BuiltAt:     s.BuiltAt,
		RecordCount: len(s.Records),
	}
}
