package aggregation

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/aevon-lab/matchstats/internal/core/aggregation"
	"github.com/aevon-lab/matchstats/internal/core/partition"
	"github.com/aevon-lab/matchstats/internal/core/storage"
	"github.com/go-co-op/gocron/v2"
	"github.com/jonboulle/clockwork"
	"golang.org/x/sync/errgroup"
)

const (
	defaultRefreshInterval = 2 * time.Hour
	defaultInitialDelay    = 30 * time.Second
	defaultParallelism     = 2
	defaultReadTimeout     = 2 * time.Second

	triggerTick   = "tick"
	triggerManual = "manual"
)

// ErrSchedulerStopped is returned by Trigger once the scheduler has been stopped.
var ErrSchedulerStopped = errors.New("refresh scheduler stopped")

// Rebuilder is the part of Store the scheduler drives.
type Rebuilder interface {
	Read(ctx context.Context, partitionID string) (*aggregation.Snapshot, error)
	Rebuild(ctx context.Context, partitionID string) (*aggregation.Snapshot, error)
}

// PartitionLister enumerates partitions, most recent first.
type PartitionLister interface {
	RecentPartitions(ctx context.Context, limit int) ([]storage.PartitionInfo, error)
}

// SchedulerOptions controls refresh cadence and fan-out.
type SchedulerOptions struct {
	Interval     time.Duration
	InitialDelay time.Duration // first tick after start
	StaleAfter   time.Duration // snapshots younger than this are skipped; 0 rebuilds every tick
	Parallelism  int           // concurrent rebuilds across partitions
	Window       int           // most recent partitions considered per tick; <= 0 means all
	ReadTimeout  time.Duration // bounds partition listing and each staleness read
}

func (o SchedulerOptions) normalized() SchedulerOptions {
	n := o
	if n.Interval <= 0 {
		n.Interval = defaultRefreshInterval
	}
	if n.InitialDelay < 0 {
		n.InitialDelay = defaultInitialDelay
	}
	if n.StaleAfter < 0 {
		n.StaleAfter = 0
	}
	if n.Parallelism <= 0 {
		n.Parallelism = defaultParallelism
	}
	if n.ReadTimeout <= 0 {
		n.ReadTimeout = defaultReadTimeout
	}
	return n
}

// TickResult lists what one tick did with each partition, sorted.
type TickResult struct {
	Considered []string
	Skipped    []string
	Succeeded  []string
	Failed     []string
}

// Scheduler periodically rebuilds partition snapshots. A failed partition is not
// retried until the next tick. At most one rebuild per partition is in flight.
type Scheduler struct {
	store      Rebuilder
	partitions PartitionLister
	clock      clockwork.Clock
	opts       SchedulerOptions

	mu       sync.Mutex
	trackers map[string]*partitionTracker
	stopped  bool // guarded by mu; no trigger is added once set

	ctx      context.Context
	cancel   context.CancelFunc
	triggers sync.WaitGroup
}

// NewScheduler creates a refresh scheduler. A nil clock uses the real clock.
func NewScheduler(store Rebuilder, partitions PartitionLister, clock clockwork.Clock, opts SchedulerOptions) *Scheduler {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Scheduler{
		store:      store,
		partitions: partitions,
		clock:      clock,
		opts:       opts.normalized(),
		trackers:   make(map[string]*partitionTracker),
		ctx:        ctx,
		cancel:     cancel,
	}
}

// Start runs the periodic refresh until ctx is cancelled or Stop is called.
// The first tick fires after InitialDelay, then every Interval.
func (s *Scheduler) Start(ctx context.Context) error {
	cron, err := gocron.NewScheduler(gocron.WithClock(s.clock), gocron.WithLocation(time.UTC))
	if err != nil {
		return fmt.Errorf("create scheduler: %w", err)
	}

	startAt := gocron.WithStartImmediately()
	if s.opts.InitialDelay > 0 {
		startAt = gocron.WithStartDateTime(s.clock.Now().Add(s.opts.InitialDelay))
	}

	_, err = cron.NewJob(
		gocron.DurationJob(s.opts.Interval),
		gocron.NewTask(func() {
			_, _ = s.Tick(s.ctx)
		}),
		gocron.WithName("refresh-tick"),
		gocron.WithSingletonMode(gocron.LimitModeReschedule),
		gocron.WithStartAt(startAt),
	)
	if err != nil {
		_ = cron.Shutdown()
		return fmt.Errorf("register refresh job: %w", err)
	}

	slog.Info("[Scheduler] Starting refresh scheduler",
		"interval", s.opts.Interval,
		"initial_delay", s.opts.InitialDelay,
		"stale_after", s.opts.StaleAfter,
		"parallelism", s.opts.Parallelism,
		"window", s.opts.Window,
	)
	cron.Start()

	select {
	case <-ctx.Done():
		slog.Info("[Scheduler] Stopping (context cancelled)")
		s.Stop()
	case <-s.ctx.Done():
		slog.Info("[Scheduler] Stopping")
	}

	if err := cron.Shutdown(); err != nil {
		slog.Warn("[Scheduler] Shutdown did not complete cleanly", "error", err)
	}
	s.triggers.Wait()
	slog.Info("[Scheduler] Stopped")
	return nil
}

// Stop cancels in-flight rebuilds and makes Start return. Safe to call more than once.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	s.stopped = true
	s.mu.Unlock()
	s.cancel()
}

// Wait blocks until every manually triggered rebuild has finished.
func (s *Scheduler) Wait() {
	s.triggers.Wait()
}

// Tick runs one refresh pass synchronously: enumerate partitions, skip fresh or
// busy ones, rebuild the rest with bounded parallelism. A failing partition
// never stops its siblings. The error is non-nil only if enumeration fails.
func (s *Scheduler) Tick(ctx context.Context) (TickResult, error) {
	var result TickResult

	listCtx, cancel := context.WithTimeout(ctx, s.opts.ReadTimeout)
	infos, err := s.partitions.RecentPartitions(listCtx, s.opts.Window)
	cancel()
	if err != nil {
		slog.Error("[Scheduler] Failed to enumerate partitions", "error", err)
		return result, fmt.Errorf("tick: %w", err)
	}

	var (
		resMu sync.Mutex
		g     errgroup.Group
	)
	g.SetLimit(s.opts.Parallelism)

	for _, info := range infos {
		id := info.ID
		result.Considered = append(result.Considered, id)

		if s.fresh(ctx, id) {
			result.Skipped = append(result.Skipped, id)
			continue
		}
		job, ok := s.schedule(id, triggerTick)
		if !ok {
			slog.Debug("[Scheduler] Partition busy, skipping", "partition", id)
			result.Skipped = append(result.Skipped, id)
			continue
		}

		g.Go(func() error {
			err := s.run(ctx, job)
			resMu.Lock()
			defer resMu.Unlock()
			if err != nil {
				result.Failed = append(result.Failed, id)
			} else {
				result.Succeeded = append(result.Succeeded, id)
			}
			return nil
		})
	}
	_ = g.Wait()

	sort.Strings(result.Considered)
	sort.Strings(result.Skipped)
	sort.Strings(result.Succeeded)
	sort.Strings(result.Failed)

	slog.Info("[Scheduler] Tick complete",
		"considered", len(result.Considered),
		"skipped", len(result.Skipped),
		"succeeded", len(result.Succeeded),
		"failed", len(result.Failed),
	)
	return result, nil
}

// Trigger schedules an immediate rebuild of one partition in the background
// and returns the pending job. Returns ErrRebuildInFlight if the partition is
// already scheduled or running.
func (s *Scheduler) Trigger(ctx context.Context, partitionID string) (RefreshJob, error) {
	if err := partition.Validate(partitionID); err != nil {
		return RefreshJob{}, err
	}

	// The stopped check and triggers.Add share the lock with Stop, so Wait
	// never races a late Add.
	s.mu.Lock()
	if s.stopped {
		s.mu.Unlock()
		return RefreshJob{}, fmt.Errorf("trigger %s: %w", partitionID, ErrSchedulerStopped)
	}
	job, ok := s.scheduleLocked(partitionID, triggerManual)
	if !ok {
		s.mu.Unlock()
		return RefreshJob{}, fmt.Errorf("trigger %s: %w", partitionID, ErrRebuildInFlight)
	}
	pending := *job
	s.triggers.Add(1)
	s.mu.Unlock()

	slog.InfoContext(ctx, "[Scheduler] Manual refresh scheduled",
		"partition", partitionID,
		"job_id", job.ID)

	go func() {
		defer s.triggers.Done()
		_ = s.run(s.ctx, job)
	}()

	return pending, nil
}

// Status returns the state of every partition the scheduler has touched,
// newest release first.
func (s *Scheduler) Status() []PartitionStatus {
	s.mu.Lock()
	defer s.mu.Unlock()

	ids := make([]string, 0, len(s.trackers))
	for id := range s.trackers {
		ids = append(ids, id)
	}
	partition.SortNewestFirst(ids)

	out := make([]PartitionStatus, 0, len(ids))
	for _, id := range ids {
		out = append(out, s.trackers[id].status(id))
	}
	return out
}

// fresh reports whether the partition's snapshot is younger than StaleAfter.
func (s *Scheduler) fresh(ctx context.Context, partitionID string) bool {
	if s.opts.StaleAfter <= 0 {
		return false
	}
	readCtx, cancel := context.WithTimeout(ctx, s.opts.ReadTimeout)
	defer cancel()
	snap, err := s.store.Read(readCtx, partitionID)
	if err != nil {
		if !errors.Is(err, storage.ErrSnapshotNotFound) {
			slog.Warn("[Scheduler] Could not read snapshot for staleness check",
				"partition", partitionID,
				"error", err)
		}
		return false
	}
	return s.clock.Since(snap.BuiltAt) < s.opts.StaleAfter
}

// schedule moves an idle partition to scheduled and creates its job.
func (s *Scheduler) schedule(partitionID, trigger string) (*RefreshJob, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.scheduleLocked(partitionID, trigger)
}

func (s *Scheduler) scheduleLocked(partitionID, trigger string) (*RefreshJob, bool) {
	t, ok := s.trackers[partitionID]
	if !ok {
		t = &partitionTracker{state: StateIdle}
		s.trackers[partitionID] = t
	}
	if t.busy() {
		return nil, false
	}

	job := newRefreshJob(partitionID, trigger, s.clock.Now().UTC(), t.consecutiveFailures+1)
	t.state = StateScheduled
	t.lastJob = job
	return job, true
}

func (s *Scheduler) run(ctx context.Context, job *RefreshJob) error {
	s.mu.Lock()
	job.Status = JobRunning
	job.StartedAt = s.clock.Now().UTC()
	s.trackers[job.PartitionID].state = StateRunning
	s.mu.Unlock()

	_, err := s.store.Rebuild(ctx, job.PartitionID)

	s.mu.Lock()
	defer s.mu.Unlock()

	t := s.trackers[job.PartitionID]
	job.FinishedAt = s.clock.Now().UTC()
	if err != nil {
		job.Status = JobFailed
		job.Error = err.Error()
		t.lastOutcome = StateFailed
		t.lastError = err.Error()
		t.consecutiveFailures++

		slog.Error("[Scheduler] Partition refresh failed, waiting for next tick",
			"partition", job.PartitionID,
			"job_id", job.ID,
			"attempt", job.Attempt,
			"trigger", job.Trigger,
			"error", err)
	} else {
		job.Status = JobSucceeded
		t.lastOutcome = StateSucceeded
		t.lastError = ""
		t.lastSuccess = job.FinishedAt
		t.consecutiveFailures = 0

		slog.Info("[Scheduler] Partition refreshed",
			"partition", job.PartitionID,
			"job_id", job.ID,
			"trigger", job.Trigger,
			"duration", job.FinishedAt.Sub(job.StartedAt))
	}
	t.state = StateIdle
	return err
}
