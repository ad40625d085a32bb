package batch

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"time"

	"github.com/aevon-lab/matchstats/internal/core/metrics"
	"github.com/cenkalti/backoff/v4"
)

const (
	defaultChunkSize   = 500
	defaultMaxAttempts = 5
	defaultBackoffBase = 200 * time.Millisecond
	defaultBackoffMax  = 30 * time.Second
)

var (
	// ErrMalformedOperation marks operations that can never succeed. Never retried.
	ErrMalformedOperation = errors.New("malformed batch operation")

	// ErrRetriesExhausted wraps the last transient error once a chunk has used every attempt.
	ErrRetriesExhausted = errors.New("batch retries exhausted")
)

// Operation is one idempotent overwrite: rows matching Filter (equality on every
// column) are replaced with Replace. Applying it twice has the same effect as once.
type Operation struct {
	Key     string         // idempotency key; duplicates within one Apply collapse to the last
	Filter  map[string]any // identifying columns
	Replace map[string]any // overwritten columns
}

// ChunkExecutor applies one chunk of operations against the underlying store.
type ChunkExecutor interface {
	ExecuteChunk(ctx context.Context, ops []Operation) error

	// IsTransient reports whether err is worth retrying with the same chunk.
	IsTransient(err error) bool
}

// Options controls chunking and retry behavior.
type Options struct {
	ChunkSize   int
	MaxAttempts int // executions per chunk, first attempt included
	BackoffBase time.Duration
	BackoffMax  time.Duration
}

func (o Options) normalized() Options {
	n := o
	if n.ChunkSize <= 0 {
		n.ChunkSize = defaultChunkSize
	}
	if n.MaxAttempts <= 0 {
		n.MaxAttempts = defaultMaxAttempts
	}
	if n.BackoffBase <= 0 {
		n.BackoffBase = defaultBackoffBase
	}
	if n.BackoffMax < n.BackoffBase {
		n.BackoffMax = defaultBackoffMax
	}
	return n
}

// Result summarizes one Apply call.
type Result struct {
	Applied int
	Chunks  int
	Retries int
}

// Mutator applies operation lists in bounded chunks, retrying transient failures.
type Mutator struct {
	exec  ChunkExecutor
	opts  Options
	timer backoff.Timer // nil uses a real timer
}

// NewMutator creates a Mutator over exec.
func NewMutator(exec ChunkExecutor, opts Options) *Mutator {
	if exec == nil {
		panic("batch: executor must not be nil")
	}
	return &Mutator{exec: exec, opts: opts.normalized()}
}

// Apply executes ops chunk by chunk. A chunk failing with a transient error is
// retried as a whole with exponential backoff; other errors stop Apply at once.
// Result.Applied counts operations in chunks that were committed.
func (m *Mutator) Apply(ctx context.Context, ops []Operation) (Result, error) {
	var result Result

	deduped, err := dedupe(ops)
	if err != nil {
		return result, err
	}

	for start := 0; start < len(deduped); start += m.opts.ChunkSize {
		end := start + m.opts.ChunkSize
		if end > len(deduped) {
			end = len(deduped)
		}
		chunk := deduped[start:end]
		chunkNo := result.Chunks + 1

		if err := sameShape(chunk); err != nil {
			return result, fmt.Errorf("batch chunk %d: %w", chunkNo, err)
		}

		attempts, err := m.applyChunk(ctx, chunkNo, chunk)
		result.Retries += attempts - 1
		if err != nil {
			return result, err
		}

		result.Chunks++
		result.Applied += len(chunk)
	}

	return result, nil
}

func (m *Mutator) applyChunk(ctx context.Context, chunkNo int, chunk []Operation) (int, error) {
	attempts := 0
	operation := func() error {
		attempts++
		err := m.exec.ExecuteChunk(ctx, chunk)
		if err == nil {
			return nil
		}
		if errors.Is(err, ErrMalformedOperation) || !m.exec.IsTransient(err) {
			return backoff.Permanent(err)
		}
		return err
	}

	notify := func(err error, delay time.Duration) {
		metrics.BatchRetries.Inc()
		slog.Warn("[BatchMutator] Transient chunk failure, retrying",
			"chunk", chunkNo,
			"attempt", attempts,
			"delay", delay,
			"error", err,
		)
	}

	err := backoff.RetryNotifyWithTimer(operation, m.policy(ctx), notify, m.timer)
	if err == nil {
		return attempts, nil
	}

	switch {
	case ctx.Err() != nil:
		return attempts, fmt.Errorf("batch chunk %d: %w", chunkNo, ctx.Err())
	case !errors.Is(err, ErrMalformedOperation) && m.exec.IsTransient(err):
		slog.Error("[BatchMutator] Chunk failed after retry budget",
			"chunk", chunkNo,
			"attempts", attempts,
			"error", err,
		)
		return attempts, fmt.Errorf("batch chunk %d: %w after %d attempts: %w", chunkNo, ErrRetriesExhausted, attempts, err)
	default:
		return attempts, fmt.Errorf("batch chunk %d: %w", chunkNo, err)
	}
}

// policy yields base, 2*base, 4*base, ... capped at BackoffMax, for at most
// MaxAttempts executions.
func (m *Mutator) policy(ctx context.Context) backoff.BackOff {
	exp := backoff.NewExponentialBackOff()
	exp.InitialInterval = m.opts.BackoffBase
	exp.RandomizationFactor = 0
	exp.Multiplier = 2
	exp.MaxInterval = m.opts.BackoffMax
	exp.MaxElapsedTime = 0

	return backoff.WithContext(backoff.WithMaxRetries(exp, uint64(m.opts.MaxAttempts-1)), ctx)
}

// dedupe validates ops and collapses repeated idempotency keys, keeping the
// position of the first occurrence and the payload of the last.
func dedupe(ops []Operation) ([]Operation, error) {
	index := make(map[string]int, len(ops))
	out := make([]Operation, 0, len(ops))
	for i, op := range ops {
		if op.Key == "" {
			return nil, fmt.Errorf("%w: operation %d has no idempotency key", ErrMalformedOperation, i)
		}
		if len(op.Filter) == 0 {
			return nil, fmt.Errorf("%w: operation %q has an empty filter", ErrMalformedOperation, op.Key)
		}
		if pos, ok := index[op.Key]; ok {
			out[pos] = op
			continue
		}
		index[op.Key] = len(out)
		out = append(out, op)
	}
	return out, nil
}

// sameShape requires every operation in a chunk to touch the same columns.
func sameShape(chunk []Operation) error {
	if len(chunk) == 0 {
		return nil
	}
	want := shapeOf(chunk[0])
	for _, op := range chunk[1:] {
		if got := shapeOf(op); got != want {
			return fmt.Errorf("%w: operation %q has columns %s, chunk expects %s", ErrMalformedOperation, op.Key, got, want)
		}
	}
	return nil
}

func shapeOf(op Operation) string {
	return "filter(" + strings.Join(SortedColumns(op.Filter), ",") + ") replace(" + strings.Join(SortedColumns(op.Replace), ",") + ")"
}

// SortedColumns returns the keys of cols in lexical order.
func SortedColumns(cols map[string]any) []string {
	keys := make([]string, 0, len(cols))
	for k := range cols {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
