package aggregation

import (
	"context"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestScheduler(t *testing.T, raw *fakeRawStore, opts SchedulerOptions) (*Scheduler, *Store, *clockwork.FakeClock) {
	t.Helper()
	clock := clockwork.NewFakeClockAt(testNow)
	store := NewStore(raw, NewMemorySnapshotStore(), clock, StoreOptions{MinGames: 50})
	return NewScheduler(store, raw, clock, opts), store, clock
}

func statusOf(t *testing.T, s *Scheduler, partitionID string) PartitionStatus {
	t.Helper()
	for _, st := range s.Status() {
		if st.PartitionID == partitionID {
			return st
		}
	}
	t.Fatalf("no status for partition %s", partitionID)
	return PartitionStatus{}
}

func TestScheduler_Tick_FailureIsolated(t *testing.T) {
	raw := newFakeRawStore()
	raw.setRows("7.34", heroRows())
	raw.setRows("7.35", heroRows())
	raw.setRecent("7.35", "7.34")
	raw.setErr("7.35", errSourceDown)

	sched, store, _ := newTestScheduler(t, raw, SchedulerOptions{Parallelism: 2})

	res, err := sched.Tick(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []string{"7.34", "7.35"}, res.Considered)
	assert.Equal(t, []string{"7.34"}, res.Succeeded)
	assert.Equal(t, []string{"7.35"}, res.Failed)

	require.NotNil(t, store.Current("7.34"))
	assert.Nil(t, store.Current("7.35"))

	failed := statusOf(t, sched, "7.35")
	assert.Equal(t, StateIdle, failed.State)
	assert.Equal(t, StateFailed, failed.LastOutcome)
	assert.Equal(t, 1, failed.ConsecutiveFailures)
	assert.Contains(t, failed.LastError, "connection refused")
	require.NotNil(t, failed.LastJob)
	assert.Equal(t, JobFailed, failed.LastJob.Status)
	assert.Equal(t, 1, failed.LastJob.Attempt)

	ok := statusOf(t, sched, "7.34")
	assert.Equal(t, StateSucceeded, ok.LastOutcome)
	assert.Equal(t, JobSucceeded, ok.LastJob.Status)
	assert.Equal(t, testNow, ok.LastSuccess)
}

func TestScheduler_Tick_FailedPartitionWaitsForNextTick(t *testing.T) {
	raw := newFakeRawStore()
	raw.setRecent("7.35")
	raw.setErr("7.35", errSourceDown)

	sched, _, _ := newTestScheduler(t, raw, SchedulerOptions{})

	_, err := sched.Tick(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, raw.callCount("7.35"), "no immediate retry inside a tick")

	_, err = sched.Tick(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, raw.callCount("7.35"))

	st := statusOf(t, sched, "7.35")
	assert.Equal(t, 2, st.ConsecutiveFailures)
	assert.Equal(t, 2, st.LastJob.Attempt)

	raw.setErr("7.35", nil)
	raw.setRows("7.35", heroRows())
	_, err = sched.Tick(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 0, statusOf(t, sched, "7.35").ConsecutiveFailures)
}

func TestScheduler_Tick_UnchangedDataStable(t *testing.T) {
	raw := newFakeRawStore()
	raw.setRows("7.35", heroRows())
	raw.setRecent("7.35")

	sched, store, clock := newTestScheduler(t, raw, SchedulerOptions{})

	_, err := sched.Tick(context.Background())
	require.NoError(t, err)
	first := store.Current("7.35")

	clock.Advance(2 * time.Hour)
	_, err = sched.Tick(context.Background())
	require.NoError(t, err)
	second := store.Current("7.35")

	require.NotSame(t, first, second)
	assert.Equal(t, rankView(first), rankView(second))
}

func TestScheduler_Tick_SkipsFreshSnapshots(t *testing.T) {
	raw := newFakeRawStore()
	raw.setRows("7.35", heroRows())
	raw.setRecent("7.35")

	sched, _, clock := newTestScheduler(t, raw, SchedulerOptions{StaleAfter: time.Hour})

	res, err := sched.Tick(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []string{"7.35"}, res.Succeeded)

	clock.Advance(30 * time.Minute)
	res, err = sched.Tick(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []string{"7.35"}, res.Skipped)
	assert.Equal(t, 1, raw.callCount("7.35"))

	clock.Advance(time.Hour)
	res, err = sched.Tick(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []string{"7.35"}, res.Succeeded)
	assert.Equal(t, 2, raw.callCount("7.35"))
}

func TestScheduler_Tick_WindowLimitsPartitions(t *testing.T) {
	raw := newFakeRawStore()
	raw.setRecent("7.35", "7.34", "7.33")
	for _, id := range []string{"7.35", "7.34", "7.33"} {
		raw.setRows(id, heroRows())
	}

	sched, _, _ := newTestScheduler(t, raw, SchedulerOptions{Window: 2})

	res, err := sched.Tick(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []string{"7.34", "7.35"}, res.Considered)
	assert.Equal(t, 0, raw.callCount("7.33"))
}

func TestScheduler_Trigger(t *testing.T) {
	raw := newFakeRawStore()
	raw.setRows("7.35", heroRows())
	raw.setRecent("7.35")
	gate := make(chan struct{})
	raw.gate = gate
	raw.entered = make(chan string, 1)

	sched, store, _ := newTestScheduler(t, raw, SchedulerOptions{})

	job, err := sched.Trigger(context.Background(), "7.35")
	require.NoError(t, err)
	assert.Equal(t, JobPending, job.Status)
	assert.Equal(t, "manual", job.Trigger)
	assert.NotEmpty(t, job.ID)

	<-raw.entered
	assert.Equal(t, StateRunning, statusOf(t, sched, "7.35").State)

	_, err = sched.Trigger(context.Background(), "7.35")
	require.ErrorIs(t, err, ErrRebuildInFlight)

	// a tick while the manual rebuild runs skips the busy partition
	raw.mu.Lock()
	raw.gate = nil
	raw.mu.Unlock()
	res, err := sched.Tick(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []string{"7.35"}, res.Skipped)

	close(gate)
	sched.Wait()
	require.NotNil(t, store.Current("7.35"))
	assert.Equal(t, StateSucceeded, statusOf(t, sched, "7.35").LastOutcome)
}

func TestScheduler_Trigger_InvalidPartition(t *testing.T) {
	sched, _, _ := newTestScheduler(t, newFakeRawStore(), SchedulerOptions{})

	_, err := sched.Trigger(context.Background(), "")
	require.Error(t, err)
	assert.Empty(t, sched.Status())
}

func TestScheduler_StartRunsFirstTickAndStops(t *testing.T) {
	raw := newFakeRawStore()
	raw.setRows("7.35", heroRows())
	raw.setRecent("7.35")

	store := NewStore(raw, NewMemorySnapshotStore(), nil, StoreOptions{MinGames: 50})
	sched := NewScheduler(store, raw, nil, SchedulerOptions{Interval: time.Hour, InitialDelay: 0})

	done := make(chan error, 1)
	go func() { done <- sched.Start(context.Background()) }()

	require.Eventually(t, func() bool {
		return store.Current("7.35") != nil
	}, 5*time.Second, 10*time.Millisecond)

	sched.Stop()
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("Start did not return after Stop")
	}

	_, err := sched.Trigger(context.Background(), "7.35")
	require.ErrorIs(t, err, ErrSchedulerStopped)
}

func tickWithin(t *testing.T, sched *Scheduler, limit time.Duration) (TickResult, error) {
	t.Helper()
	type outcome struct {
		res TickResult
		err error
	}
	done := make(chan outcome, 1)
	go func() {
		res, err := sched.Tick(context.Background())
		done <- outcome{res, err}
	}()
	select {
	case o := <-done:
		return o.res, o.err
	case <-time.After(limit):
		t.Fatalf("tick did not return within %s", limit)
		return TickResult{}, nil
	}
}

func TestScheduler_Tick_HangingListingTimesOut(t *testing.T) {
	raw := newFakeRawStore()
	store := NewStore(raw, NewMemorySnapshotStore(), nil, StoreOptions{MinGames: 50})
	sched := NewScheduler(store, hangingLister{}, nil, SchedulerOptions{ReadTimeout: 50 * time.Millisecond})

	_, err := tickWithin(t, sched, 2*time.Second)
	require.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestScheduler_Tick_HangingStalenessReadTimesOut(t *testing.T) {
	raw := newFakeRawStore()
	raw.setRows("7.35", heroRows())
	raw.setRecent("7.35")

	snapshots := hangingSnapshotStore{MemorySnapshotStore: NewMemorySnapshotStore()}
	store := NewStore(raw, snapshots, nil, StoreOptions{MinGames: 50})
	sched := NewScheduler(store, raw, nil, SchedulerOptions{
		StaleAfter:  time.Hour,
		ReadTimeout: 50 * time.Millisecond,
	})

	// an unreadable snapshot counts as stale, so the partition is rebuilt
	res, err := tickWithin(t, sched, 2*time.Second)
	require.NoError(t, err)
	assert.Equal(t, []string{"7.35"}, res.Succeeded)
	require.NotNil(t, store.Current("7.35"))
}

func TestScheduler_TriggerAfterStopRejected(t *testing.T) {
	raw := newFakeRawStore()
	raw.setRows("7.35", heroRows())
	sched, _, _ := newTestScheduler(t, raw, SchedulerOptions{})

	sched.Stop()
	_, err := sched.Trigger(context.Background(), "7.35")
	require.ErrorIs(t, err, ErrSchedulerStopped)
	sched.Wait()

	assert.Empty(t, sched.Status())
}
