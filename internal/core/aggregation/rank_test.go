package aggregation

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
)

func record(entity string, rate string, rank int) AggregateRecord {
	return AggregateRecord{
		Key:     DimensionKey{Partition: "7.35", Entity: entity},
		Metrics: map[string]decimal.Decimal{MetricWinRate: decimal.RequireFromString(rate)},
		Rank:    rank,
	}
}

func TestSortRecords_Ascending(t *testing.T) {
	records := []AggregateRecord{
		record("b", "0.6", 0),
		record("a", "0.6", 0),
		record("c", "0.4", 0),
	}

	SortRecords(records, MetricWinRate, false)
	require.Equal(t, "c", records[0].Key.Entity)
	require.Equal(t, "a", records[1].Key.Entity)
	require.Equal(t, "b", records[2].Key.Entity)
}

func TestValidateRanks(t *testing.T) {
	tests := []struct {
		name    string
		records []AggregateRecord
		wantErr bool
	}{
		{name: "empty", records: nil},
		{name: "unranked", records: []AggregateRecord{record("a", "0.5", 0), record("b", "0.4", 0)}},
		{name: "contiguous", records: []AggregateRecord{record("a", "0.5", 1), record("b", "0.4", 2)}},
		{name: "gap", records: []AggregateRecord{record("a", "0.5", 1), record("b", "0.4", 3)}, wantErr: true},
		{name: "tie", records: []AggregateRecord{record("a", "0.5", 1), record("b", "0.5", 1)}, wantErr: true},
		{name: "partial", records: []AggregateRecord{record("a", "0.5", 0), record("b", "0.4", 2)}, wantErr: true},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			err := ValidateRanks(tc.records)
			if tc.wantErr {
				require.Error(t, err)
				return
			}
			require.NoError(t, err)
		})
	}
}

func TestSnapshot_Find(t *testing.T) {
	snap := &Snapshot{Records: []AggregateRecord{record("axe", "0.5", 1)}}

	rec, ok := snap.Find("axe")
	require.True(t, ok)
	require.Equal(t, 1, rec.Rank)

	_, ok = snap.Find("bane")
	require.False(t, ok)

	var empty *Snapshot
	_, ok = empty.Find("axe")
	require.False(t, ok)
	require.Equal(t, 0, empty.Len())
}
