package aggregation

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
)

var derivedAt = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func TestDerive_MinGamesFloorExcludesRowAndDenominator(t *testing.T) {
	rows := []RawRow{
		{Entity: "axe", Games: 100, Wins: 55},
		{Entity: "bane", Games: 300, Wins: 120},
		{Entity: "chen", Games: 3, Wins: 3},
	}

	records := Derive("7.35", rows, DeriveOptions{MinGames: 50, Ranked: true, Now: derivedAt})
	require.Len(t, records, 2)

	for _, rec := range records {
		require.NotEqual(t, "chen", rec.Key.Entity)
	}

	axe, bane := records[0], records[1]
	require.Equal(t, "axe", axe.Key.Entity)
	require.Equal(t, "bane", bane.Key.Entity)

	// Denominator is 400, not 403.
	require.True(t, decimal.RequireFromString("0.25").Equal(axe.Metric(MetricPickRate)))
	require.True(t, decimal.RequireFromString("0.75").Equal(bane.Metric(MetricPickRate)))
	require.True(t, decimal.RequireFromString("0.55").Equal(axe.Metric(MetricWinRate)))
	require.True(t, decimal.RequireFromString("0.4").Equal(bane.Metric(MetricWinRate)))
}

func TestDerive_DeterministicAcrossInputOrder(t *testing.T) {
	rows := []RawRow{
		{Entity: "luna", Games: 200, Wins: 100, Kills: 1400, Deaths: 900, Assists: 1300, DurationSeconds: 480000},
		{Entity: "axe", Games: 400, Wins: 200, Kills: 2000, Deaths: 2400, Assists: 4100, DurationSeconds: 960000},
		{Entity: "zeus", Games: 150, Wins: 90, Kills: 1200, Deaths: 700, Assists: 1500, DurationSeconds: 351000},
	}
	reversed := []RawRow{rows[2], rows[1], rows[0]}

	a := Derive("7.35", rows, DeriveOptions{MinGames: 1, Ranked: true, Now: derivedAt})
	b := Derive("7.35", reversed, DeriveOptions{MinGames: 1, Ranked: true, Now: derivedAt})

	require.Equal(t, len(a), len(b))
	for i := range a {
		require.Equal(t, a[i].Key, b[i].Key)
		require.Equal(t, a[i].Rank, b[i].Rank)
		for name, v := range a[i].Metrics {
			require.Equal(t, v.String(), b[i].Metrics[name].String(), "metric %s of %s", name, a[i].Key)
		}
	}
}

func TestDerive_TiesBrokenByEntityName(t *testing.T) {
	rows := []RawRow{
		{Entity: "zeus", Games: 100, Wins: 50},
		{Entity: "axe", Games: 200, Wins: 100},
		{Entity: "luna", Games: 100, Wins: 70},
	}

	records := Derive("7.35", rows, DeriveOptions{Ranked: true, Now: derivedAt})
	require.Len(t, records, 3)

	require.Equal(t, "luna", records[0].Key.Entity)
	require.Equal(t, 1, records[0].Rank)
	require.Equal(t, "axe", records[1].Key.Entity)
	require.Equal(t, 2, records[1].Rank)
	require.Equal(t, "zeus", records[2].Key.Entity)
	require.Equal(t, 3, records[2].Rank)
	require.NoError(t, ValidateRanks(records))
}

func TestDerive_UnrankedPartitionKeepsOrderWithoutRanks(t *testing.T) {
	rows := []RawRow{
		{Entity: "axe", Games: 100, Wins: 40},
		{Entity: "bane", Games: 100, Wins: 60},
	}

	records := Derive("6.88", rows, DeriveOptions{Ranked: false, Now: derivedAt})
	require.Len(t, records, 2)
	require.Equal(t, "bane", records[0].Key.Entity)
	for _, rec := range records {
		require.False(t, rec.Ranked())
	}
	require.NoError(t, ValidateRanks(records))
}

func TestDerive_AveragesAndKDA(t *testing.T) {
	rows := []RawRow{
		{Entity: "axe", Games: 4, Wins: 1, Kills: 10, Deaths: 0, Assists: 6, DurationSeconds: 9600},
	}

	records := Derive("7.35", rows, DeriveOptions{Now: derivedAt})
	require.Len(t, records, 1)

	rec := records[0]
	require.Equal(t, "2.5", rec.Metric(MetricAvgKills).String())
	require.Equal(t, "0", rec.Metric(MetricAvgDeaths).String())
	require.Equal(t, "2400", rec.Metric(MetricAvgDurationSeconds).String())
	// Zero deaths count as one for KDA.
	require.Equal(t, "16", rec.Metric(MetricKDA).String())
	require.Equal(t, derivedAt, rec.LastUpdated)
}

func TestDerive_EmptyInput(t *testing.T) {
	require.Empty(t, Derive("7.35", nil, DeriveOptions{MinGames: 50, Ranked: true}))
}
