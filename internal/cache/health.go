package cache

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/aevon-lab/matchstats/internal/core/metrics"
	"github.com/cenkalti/backoff/v4"
)

// State is the availability of the remote cache store.
type State int32

const (
	// StateAvailable: calls go to the store.
	StateAvailable State = iota
	// StateReconnecting: calls short-circuit to a miss while a background loop pings.
	StateReconnecting
	// StateGivenUp: the reconnect budget is spent; calls short-circuit until restart.
	StateGivenUp
)

func (s State) String() string {
	switch s {
	case StateAvailable:
		return "available"
	case StateReconnecting:
		return "reconnecting"
	case StateGivenUp:
		return "given_up"
	}
	return "unknown"
}

const (
	defaultReconnectBase     = 500 * time.Millisecond
	defaultReconnectMax      = 30 * time.Second
	defaultReconnectAttempts = 10
	defaultPingTimeout       = time.Second
)

// HealthOptions controls the reconnect loop.
type HealthOptions struct {
	ReconnectBase     time.Duration
	ReconnectMax      time.Duration
	ReconnectAttempts int
	PingTimeout       time.Duration
}

func (o HealthOptions) normalized() HealthOptions {
	n := o
	if n.ReconnectBase <= 0 {
		n.ReconnectBase = defaultReconnectBase
	}
	if n.ReconnectMax < n.ReconnectBase {
		n.ReconnectMax = defaultReconnectMax
	}
	if n.ReconnectAttempts <= 0 {
		n.ReconnectAttempts = defaultReconnectAttempts
	}
	if n.PingTimeout <= 0 {
		n.PingTimeout = defaultPingTimeout
	}
	return n
}

// PingFunc checks that the store answers.
type PingFunc func(ctx context.Context) error

// Health tracks whether the remote store is usable. A reported failure flips it
// to reconnecting and starts one background loop that pings with capped
// exponential backoff; success flips it back, exhaustion gives up for good.
type Health struct {
	ping  PingFunc
	opts  HealthOptions
	timer backoff.Timer // nil uses a real timer

	state atomic.Int32

	mu           sync.Mutex
	reconnecting bool
	ctx          context.Context
	cancel       context.CancelFunc
	wg           sync.WaitGroup
}

// NewHealth creates a Health in the available state.
func NewHealth(ping PingFunc, opts HealthOptions) *Health {
	ctx, cancel := context.WithCancel(context.Background())
	h := &Health{
		ping:   ping,
		opts:   opts.normalized(),
		ctx:    ctx,
		cancel: cancel,
	}
	h.setState(StateAvailable)
	return h
}

// State returns the current state.
func (h *Health) State() State {
	return State(h.state.Load())
}

// Available reports whether calls should go to the store.
func (h *Health) Available() bool {
	return h.State() == StateAvailable
}

// Check pings once and reports a failure if the store does not answer.
func (h *Health) Check(ctx context.Context) error {
	pingCtx, cancel := context.WithTimeout(ctx, h.opts.PingTimeout)
	defer cancel()
	if err := h.ping(pingCtx); err != nil {
		h.ReportFailure(err)
		return err
	}
	return nil
}

// ReportFailure records a store error. Only the first report while available
// starts a reconnect loop; later reports are absorbed.
func (h *Health) ReportFailure(err error) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.reconnecting || h.State() != StateAvailable || h.ctx.Err() != nil {
		return
	}
	h.reconnecting = true
	h.setState(StateReconnecting)

	slog.Warn("[RequestCache] Store unavailable, serving without cache",
		"error", err,
		"reconnect_attempts", h.opts.ReconnectAttempts)

	h.wg.Add(1)
	go h.reconnect()
}

// Close stops any reconnect loop and waits for it.
func (h *Health) Close() {
	h.cancel()
	h.wg.Wait()
}

func (h *Health) reconnect() {
	defer h.wg.Done()

	policy := backoff.NewExponentialBackOff()
	policy.InitialInterval = h.opts.ReconnectBase
	policy.MaxInterval = h.opts.ReconnectMax
	policy.Multiplier = 2
	policy.MaxElapsedTime = 0

	attempts := 0
	op := func() error {
		attempts++
		pingCtx, cancel := context.WithTimeout(h.ctx, h.opts.PingTimeout)
		defer cancel()
		return h.ping(pingCtx)
	}
	notify := func(err error, next time.Duration) {
		slog.Debug("[RequestCache] Reconnect attempt failed",
			"attempt", attempts,
			"next_in", next,
			"error", err)
	}

	b := backoff.WithContext(backoff.WithMaxRetries(policy, uint64(h.opts.ReconnectAttempts-1)), h.ctx)
	err := backoff.RetryNotifyWithTimer(op, b, notify, h.timer)

	h.mu.Lock()
	defer h.mu.Unlock()
	h.reconnecting = false

	switch {
	case err == nil:
		h.setState(StateAvailable)
		slog.Info("[RequestCache] Store reconnected", "attempts", attempts)
	case h.ctx.Err() != nil:
		// closing; leave state as is
	default:
		h.setState(StateGivenUp)
		slog.Warn("[RequestCache] Giving up on store until restart",
			"attempts", attempts,
			"error", err)
	}
}

func (h *Health) setState(s State) {
	h.state.Store(int32(s))
	if s == StateAvailable {
		metrics.CacheAvailable.Set(1)
	} else {
		metrics.CacheAvailable.Set(0)
	}
}
