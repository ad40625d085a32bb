package v1

import (
	"encoding/json"
	"time"

	"github.com/aevon-lab/matchstats/internal/core/aggregation"
	"github.com/shopspring/decimal"
)

// Source names the stage that produced a response.
type Source string

const (
	SourceCache    Source = "cache"
	SourceSnapshot Source = "snapshot"
	SourceLive     Source = "live"
	SourceDefault  Source = "default"
)

// EntityStats is the presentation form of one AggregateRecord.
// Rates are percentages rounded to two places; averages are rounded to two places.
type EntityStats struct {
	Entity string `json:"entity"`

	// Rank is omitted for partitions outside the ranked window.
	Rank *int `json:"rank,omitempty"`

	Games              int64           `json:"games"`
	Wins               int64           `json:"wins"`
	WinRate            decimal.Decimal `json:"win_rate"`
	PickRate           decimal.Decimal `json:"pick_rate"`
	AvgKills           decimal.Decimal `json:"avg_kills"`
	AvgDeaths          decimal.Decimal `json:"avg_deaths"`
	AvgAssists         decimal.Decimal `json:"avg_assists"`
	AvgDurationSeconds decimal.Decimal `json:"avg_duration_seconds"`
	KDA                decimal.Decimal `json:"kda"`

	LastUpdated time.Time `json:"last_updated"`
}

// StatsList is the body of a stats listing for one partition.
type StatsList struct {
	Partition  string        `json:"partition"`
	SnapshotID string        `json:"snapshot_id,omitempty"`
	BuiltAt    time.Time     `json:"built_at"`
	Sort       string        `json:"sort"`
	Order      string        `json:"order"`
	Total      int           `json:"total"`
	Limit      int           `json:"limit"`
	Offset     int           `json:"offset"`
	Items      []EntityStats `json:"items"`
}

// EntityStatsResponse is the body of a single-entity lookup.
type EntityStatsResponse struct {
	Partition  string      `json:"partition"`
	SnapshotID string      `json:"snapshot_id,omitempty"`
	BuiltAt    time.Time   `json:"built_at"`
	Stats      EntityStats `json:"stats"`
}

// Envelope wraps every stats body with where it came from. Source is the
// stage that answered this request; Origin is the stage that produced the
// body, which differs from Source on a cache hit.
// Degraded is true when the body is a static default rather than real data.
type Envelope struct {
	Source   Source          `json:"source"`
	Origin   Source          `json:"origin"`
	Degraded bool            `json:"degraded"`
	Data     json.RawMessage `json:"data"`
}

// PartitionRefresh is one row of the partition refresh listing.
type PartitionRefresh struct {
	Partition           string     `json:"partition"`
	State               string     `json:"state"`
	LastOutcome         string     `json:"last_outcome,omitempty"`
	LastJobID           string     `json:"last_job_id,omitempty"`
	LastSuccess         *time.Time `json:"last_success,omitempty"`
	LastError           string     `json:"last_error,omitempty"`
	ConsecutiveFailures int        `json:"consecutive_failures"`
	SnapshotID          string     `json:"snapshot_id,omitempty"`
	SnapshotBuiltAt     *time.Time `json:"snapshot_built_at,omitempty"`
	RecordCount         int        `json:"record_count"`
}

// RefreshAccepted is returned when an on-demand rebuild is queued.
type RefreshAccepted struct {
	JobID       string    `json:"job_id"`
	Partition   string    `json:"partition"`
	Status      string    `json:"status"`
	ScheduledAt time.Time `json:"scheduled_at"`
}

// NewEntityStats converts a stored record for presentation. This is the only
// place stored fractions are rounded.
func NewEntityStats(rec aggregation.AggregateRecord) EntityStats {
	out := EntityStats{
		Entity:             rec.Key.Entity,
		Games:              rec.Metric(aggregation.MetricGames).IntPart(),
		Wins:               rec.Metric(aggregation.MetricWins).IntPart(),
		WinRate:            aggregation.Percent(rec.Metric(aggregation.MetricWinRate)),
		PickRate:           aggregation.Percent(rec.Metric(aggregation.MetricPickRate)),
		AvgKills:           aggregation.Display(rec.Metric(aggregation.MetricAvgKills)),
		AvgDeaths:          aggregation.Display(rec.Metric(aggregation.MetricAvgDeaths)),
		AvgAssists:         aggregation.Display(rec.Metric(aggregation.MetricAvgAssists)),
		AvgDurationSeconds: aggregation.Display(rec.Metric(aggregation.MetricAvgDurationSeconds)),
		KDA:                aggregation.Display(rec.Metric(aggregation.MetricKDA)),
		LastUpdated:        rec.LastUpdated,
	}
	if rec.Ranked() {
		rank := rec.Rank
		out.Rank = &rank
	}
	return out
}
