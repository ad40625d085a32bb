package aggregation

import (
	"fmt"
	"sort"
)

// SortRecords orders records by metric, breaking ties by entity name ascending
// so the order is total and stable across rebuilds.
func SortRecords(records []AggregateRecord, metric string, desc bool) {
	sort.SliceStable(records, func(i, j int) bool {
		cmp := records[i].Metric(metric).Cmp(records[j].Metric(metric))
		if cmp != 0 {
			if desc {
				return cmp > 0
			}
			return cmp < 0
		}
		return records[i].Key.Entity < records[j].Key.Entity
	})
}

// AssignDenseRanks numbers already-sorted records 1..N with no gaps and no ties.
func AssignDenseRanks(records []AggregateRecord) {
	for i := range records {
		records[i].Rank = i + 1
	}
}

// ValidateRanks checks the snapshot rank invariant: either no record is ranked,
// or ranks form exactly the sequence 1..N in order.
func ValidateRanks(records []AggregateRecord) error {
	if len(records) == 0 || !records[0].Ranked() {
		for _, rec := range records {
			if rec.Ranked() {
				return fmt.Errorf("partially ranked snapshot: %s has rank %d", rec.Key, rec.Rank)
			}
		}
		return nil
	}
	for i, rec := range records {
		if rec.Rank != i+1 {
			return fmt.Errorf("rank sequence broken at %s: got %d, want %d", rec.Key, rec.Rank, i+1)
		}
	}
	return nil
}
