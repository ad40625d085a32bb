package fallback

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"sort"
	"strconv"

	v1 "github.com/aevon-lab/matchstats/internal/api/v1"
	"github.com/aevon-lab/matchstats/internal/cache"
	"github.com/aevon-lab/matchstats/internal/core/aggregation"
)

// ErrEntityNotFound is returned when a partition has data but not for the
// requested entity. It ends resolution; later stages would not find it either.
var ErrEntityNotFound = errors.New("entity not found in partition")

// Kind selects the shape of a resolved body and of its static default.
type Kind string

const (
	KindStatsList   Kind = "stats_list"
	KindStatsEntity Kind = "stats_entity"
)

const (
	SortRank  = "rank"
	OrderAsc  = "asc"
	OrderDesc = "desc"
)

var sortableMetrics = map[string]bool{
	SortRank:                             true,
	aggregation.MetricGames:              true,
	aggregation.MetricWins:               true,
	aggregation.MetricWinRate:            true,
	aggregation.MetricPickRate:           true,
	aggregation.MetricAvgKills:           true,
	aggregation.MetricAvgDeaths:          true,
	aggregation.MetricAvgAssists:         true,
	aggregation.MetricAvgDurationSeconds: true,
	aggregation.MetricKDA:                true,
}

// Sortable reports whether name is an accepted sort key.
func Sortable(name string) bool {
	return sortableMetrics[name]
}

// Query is one normalized read request.
type Query struct {
	Kind      Kind
	Partition string
	Entity    string // KindStatsEntity only
	Sort      string
	Order     string
	Limit     int
	Offset    int
}

// CacheKey is the canonical response-cache key of q.
func (q Query) CacheKey() string {
	path := "/v1/partitions/" + q.Partition + "/stats"
	if q.Kind == KindStatsEntity {
		return cache.Key(path+"/"+q.Entity, nil)
	}
	return cache.Key(path, url.Values{
		"sort":   {q.Sort},
		"order":  {q.Order},
		"limit":  {strconv.Itoa(q.Limit)},
		"offset": {strconv.Itoa(q.Offset)},
	})
}

// render serializes the part of snap that q asks for.
func render(snap *aggregation.Snapshot, q Query) ([]byte, error) {
	switch q.Kind {
	case KindStatsEntity:
		rec, ok := snap.Find(q.Entity)
		if !ok {
			return nil, fmt.Errorf("%s in %s: %w", q.Entity, q.Partition, ErrEntityNotFound)
		}
		return json.Marshal(v1.EntityStatsResponse{
			Partition:  snap.PartitionID,
			SnapshotID: snap.SnapshotID,
			BuiltAt:    snap.BuiltAt,
			Stats:      v1.NewEntityStats(rec),
		})

	case KindStatsList:
		page, total := selectRecords(snap.Records, q)
		items := make([]v1.EntityStats, 0, len(page))
		for _, rec := range page {
			items = append(items, v1.NewEntityStats(rec))
		}
		return json.Marshal(v1.StatsList{
			Partition:  snap.PartitionID,
			SnapshotID: snap.SnapshotID,
			BuiltAt:    snap.BuiltAt,
			Sort:       q.Sort,
			Order:      q.Order,
			Total:      total,
			Limit:      q.Limit,
			Offset:     q.Offset,
			Items:      items,
		})
	}
	return nil, fmt.Errorf("unknown query kind %q", q.Kind)
}

// selectRecords sorts a copy of records per q and returns the requested page
// along with the unpaged total. Ties are broken by entity ascending.
func selectRecords(records []aggregation.AggregateRecord, q Query) ([]aggregation.AggregateRecord, int) {
	sorted := append([]aggregation.AggregateRecord(nil), records...)
	desc := q.Order == OrderDesc

	if q.Sort == SortRank || q.Sort == "" {
		// snapshot order is rank order; unranked partitions keep primary metric order
		if desc {
			for i, j := 0, len(sorted)-1; i < j; i, j = i+1, j-1 {
				sorted[i], sorted[j] = sorted[j], sorted[i]
			}
		}
	} else {
		sort.SliceStable(sorted, func(i, j int) bool {
			c := sorted[i].Metric(q.Sort).Cmp(sorted[j].Metric(q.Sort))
			if c == 0 {
				return sorted[i].Key.Entity < sorted[j].Key.Entity
			}
			if desc {
				return c > 0
			}
			return c < 0
		})
	}

	total := len(sorted)
	if q.Offset >= total {
		return nil, total
	}
	end := total
	if q.Limit > 0 && q.Offset+q.Limit < total {
		end = q.Offset + q.Limit
	}
	return sorted[q.Offset:end], total
}
