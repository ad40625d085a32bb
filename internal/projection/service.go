package projection

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/aevon-lab/matchstats/internal/aggregation"
	v1 "github.com/aevon-lab/matchstats/internal/api/v1"
	"github.com/aevon-lab/matchstats/internal/cache"
	coreagg "github.com/aevon-lab/matchstats/internal/core/aggregation"
	"github.com/aevon-lab/matchstats/internal/core/partition"
	"github.com/aevon-lab/matchstats/internal/fallback"
)

const (
	defaultLimit    = 50
	maxLimit        = 500
	maxEntityLength = 64
)

// ErrInvalidQuery marks request validation errors that should return HTTP 400.
var ErrInvalidQuery = errors.New("invalid stats query")

// StatsResolver produces stats bodies through the fallback stages.
type StatsResolver interface {
	Resolve(ctx context.Context, q fallback.Query) (*fallback.Result, error)
}

// RefreshController exposes the refresh scheduler to the API.
type RefreshController interface {
	Trigger(ctx context.Context, partitionID string) (aggregation.RefreshJob, error)
	Status() []aggregation.PartitionStatus
}

// SnapshotLister lists the snapshots currently loaded in memory.
type SnapshotLister interface {
	Snapshots() []coreagg.SnapshotInfo
}

// Service implements the stats query and refresh API.
type Service struct {
	resolver  StatsResolver
	refresh   RefreshController
	snapshots SnapshotLister

	// respCache decorates the partition listing; nil serves it uncached.
	respCache *cache.RequestCache
	listTTL   time.Duration
}

// NewService creates a new projection service.
func NewService(
	resolver StatsResolver,
	refresh RefreshController,
	snapshots SnapshotLister,
	respCache *cache.RequestCache,
	listTTL time.Duration,
) *Service {
	return &Service{
		resolver:  resolver,
		refresh:   refresh,
		snapshots: snapshots,
		respCache: respCache,
		listTTL:   listTTL,
	}
}

// QueryStats resolves a sorted, paged stats listing for one partition.
func (s *Service) QueryStats(ctx context.Context, req StatsQueryRequest) (*fallback.Result, error) {
	q, err := normalizeStatsQuery(req)
	if err != nil {
		return nil, err
	}
	return s.resolver.Resolve(ctx, q)
}

// QueryEntity resolves the stats of one entity in one partition.
func (s *Service) QueryEntity(ctx context.Context, req EntityQueryRequest) (*fallback.Result, error) {
	if err := partition.Validate(req.Partition); err != nil {
		return nil, invalidQueryf("%v", err)
	}
	if req.Entity == "" || len(req.Entity) > maxEntityLength {
		return nil, invalidQueryf("entity must be 1-%d characters", maxEntityLength)
	}
	return s.resolver.Resolve(ctx, fallback.Query{
		Kind:      fallback.KindStatsEntity,
		Partition: req.Partition,
		Entity:    req.Entity,
	})
}

// PartitionRefreshes merges scheduler state with the loaded snapshots, newest
// release first.
func (s *Service) PartitionRefreshes() []v1.PartitionRefresh {
	rows := make(map[string]*v1.PartitionRefresh)
	var ids []string
	row := func(id string) *v1.PartitionRefresh {
		if r, ok := rows[id]; ok {
			return r
		}
		r := &v1.PartitionRefresh{Partition: id, State: string(aggregation.StateIdle)}
		rows[id] = r
		ids = append(ids, id)
		return r
	}

	for _, st := range s.refresh.Status() {
		r := row(st.PartitionID)
		r.State = string(st.State)
		r.LastOutcome = string(st.LastOutcome)
		r.LastError = st.LastError
		r.ConsecutiveFailures = st.ConsecutiveFailures
		if st.LastJob != nil {
			r.LastJobID = st.LastJob.ID
		}
		if !st.LastSuccess.IsZero() {
			t := st.LastSuccess
			r.LastSuccess = &t
		}
	}

	for _, info := range s.snapshots.Snapshots() {
		r := row(info.PartitionID)
		r.SnapshotID = info.SnapshotID
		r.RecordCount = info.RecordCount
		if !info.BuiltAt.IsZero() {
			t := info.BuiltAt
			r.SnapshotBuiltAt = &t
		}
	}

	partition.SortNewestFirst(ids)
	out := make([]v1.PartitionRefresh, 0, len(ids))
	for _, id := range ids {
		out = append(out, *rows[id])
	}
	return out
}

// TriggerRefresh queues an on-demand rebuild of one partition.
func (s *Service) TriggerRefresh(ctx context.Context, partitionID string) (*v1.RefreshAccepted, error) {
	if err := partition.Validate(partitionID); err != nil {
		return nil, invalidQueryf("%v", err)
	}

	job, err := s.refresh.Trigger(ctx, partitionID)
	if err != nil {
		return nil, err
	}
	return &v1.RefreshAccepted{
		JobID:       job.ID,
		Partition:   job.PartitionID,
		Status:      string(job.Status),
		ScheduledAt: job.ScheduledAt,
	}, nil
}

func normalizeStatsQuery(req StatsQueryRequest) (fallback.Query, error) {
	if err := partition.Validate(req.Partition); err != nil {
		return fallback.Query{}, invalidQueryf("%v", err)
	}

	if req.Sort == "" {
		req.Sort = fallback.SortRank
	}
	if !fallback.Sortable(req.Sort) {
		return fallback.Query{}, invalidQueryf("invalid sort: %s", req.Sort)
	}

	if req.Order == "" {
		req.Order = fallback.OrderDesc
		if req.Sort == fallback.SortRank {
			req.Order = fallback.OrderAsc
		}
	}
	if req.Order != fallback.OrderAsc && req.Order != fallback.OrderDesc {
		return fallback.Query{}, invalidQueryf("invalid order: %s (must be asc or desc)", req.Order)
	}

	if req.Limit == 0 {
		req.Limit = defaultLimit
	}
	if req.Limit < 0 || req.Limit > maxLimit {
		return fallback.Query{}, invalidQueryf("limit must be between 1 and %d", maxLimit)
	}
	if req.Offset < 0 {
		return fallback.Query{}, invalidQueryf("offset must be >= 0")
	}

	return fallback.Query{
		Kind:      fallback.KindStatsList,
		Partition: req.Partition,
		Sort:      req.Sort,
		Order:     req.Order,
		Limit:     req.Limit,
		Offset:    req.Offset,
	}, nil
}

func invalidQueryf(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrInvalidQuery, fmt.Sprintf(format, args...))
}
