package aggregation

import (
	"time"

	"github.com/google/uuid"
)

// JobStatus is the lifecycle status of a RefreshJob.
type JobStatus string

const (
	JobPending   JobStatus = "pending"
	JobRunning   JobStatus = "running"
	JobSucceeded JobStatus = "succeeded"
	JobFailed    JobStatus = "failed"
)

// Terminal reports whether no further transition is possible.
func (s JobStatus) Terminal() bool {
	return s == JobSucceeded || s == JobFailed
}

// PartitionState is the scheduler's view of one partition:
// idle -> scheduled -> running -> {succeeded, failed} -> idle.
type PartitionState string

const (
	StateIdle      PartitionState = "idle"
	StateScheduled PartitionState = "scheduled"
	StateRunning   PartitionState = "running"
	StateSucceeded PartitionState = "succeeded"
	StateFailed    PartitionState = "failed"
)

// RefreshJob is one rebuild attempt of one partition.
type RefreshJob struct {
	ID          string
	PartitionID string
	Trigger     string // "tick" or "manual"
	ScheduledAt time.Time
	StartedAt   time.Time
	FinishedAt  time.Time
	Status      JobStatus
	Attempt     int // 1 + consecutive failures before this job
	Error       string
}

func newRefreshJob(partitionID, trigger string, scheduledAt time.Time, attempt int) *RefreshJob {
	return &RefreshJob{
		ID:          uuid.NewString(),
		PartitionID: partitionID,
		Trigger:     trigger,
		ScheduledAt: scheduledAt,
		Status:      JobPending,
		Attempt:     attempt,
	}
}

// PartitionStatus reports the refresh history of one partition.
type PartitionStatus struct {
	PartitionID         string
	State               PartitionState
	LastOutcome         PartitionState // succeeded, failed, or empty if never run
	LastJob             *RefreshJob
	LastSuccess         time.Time
	LastError           string
	ConsecutiveFailures int
}

type partitionTracker struct {
	state               PartitionState
	lastOutcome         PartitionState
	lastJob             *RefreshJob
	lastSuccess         time.Time
	lastError           string
	consecutiveFailures int
}

func (t *partitionTracker) busy() bool {
	return t.state == StateScheduled || t.state == StateRunning
}

func (t *partitionTracker) status(partitionID string) PartitionStatus {
	st := PartitionStatus{
		PartitionID:         partitionID,
		State:               t.state,
		LastOutcome:         t.lastOutcome,
		LastSuccess:         t.lastSuccess,
		LastError:           t.lastError,
		ConsecutiveFailures: t.consecutiveFailures,
	}
	if t.lastJob != nil {
		job := *t.lastJob
		st.LastJob = &job
	}
	return st
}
