package aggregation

import (
	"time"

	"github.com/shopspring/decimal"
)

// DeriveOptions controls how raw grouped rows become AggregateRecords.
type DeriveOptions struct {
	// MinGames is the games-played floor. Rows below it are dropped before
	// any share-of-partition metric is computed.
	MinGames int64

	// Ranked assigns dense ranks 1..N. Partitions outside the ranked window
	// keep Rank = 0.
	Ranked bool

	// Now stamps LastUpdated on every record.
	Now time.Time
}

// Derive turns grouped raw rows into ordered, ranked records for partition.
// The result is deterministic for identical input regardless of row order.
func Derive(partition string, rows []RawRow, opts DeriveOptions) []AggregateRecord {
	eligible := make([]RawRow, 0, len(rows))
	var totalGames int64
	for _, row := range rows {
		if row.Games <= 0 || row.Games < opts.MinGames {
			continue
		}
		eligible = append(eligible, row)
		totalGames += row.Games
	}

	records := make([]AggregateRecord, 0, len(eligible))
	for _, row := range eligible {
		records = append(records, AggregateRecord{
			Key:         DimensionKey{Partition: partition, Entity: row.Entity},
			Metrics:     deriveMetrics(row, totalGames),
			LastUpdated: opts.Now.UTC(),
		})
	}

	SortRecords(records, PrimaryMetric, true)
	if opts.Ranked {
		AssignDenseRanks(records)
	}
	return records
}

func deriveMetrics(row RawRow, totalGames int64) map[string]decimal.Decimal {
	games := decimal.NewFromInt(row.Games)
	deaths := row.Deaths
	if deaths < 1 {
		deaths = 1
	}

	return map[string]decimal.Decimal{
		MetricGames:              games,
		MetricWins:               decimal.NewFromInt(row.Wins),
		MetricWinRate:            Ratio(row.Wins, row.Games),
		MetricPickRate:           Ratio(row.Games, totalGames),
		MetricAvgKills:           Ratio(row.Kills, row.Games),
		MetricAvgDeaths:          Ratio(row.Deaths, row.Games),
		MetricAvgAssists:         Ratio(row.Assists, row.Games),
		MetricAvgDurationSeconds: Ratio(row.DurationSeconds, row.Games),
		MetricKDA:                Ratio(row.Kills+row.Assists, deaths),
	}
}
