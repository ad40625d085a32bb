package cache

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// instantTimer fires immediately so reconnect loops run without sleeping.
type instantTimer struct {
	c chan time.Time
}

func newInstantTimer() *instantTimer {
	return &instantTimer{c: make(chan time.Time, 1)}
}

func (t *instantTimer) Start(time.Duration) { t.c <- time.Now() }
func (t *instantTimer) Stop() {}
func (t *instantTimer) C() <-chan time.Time { return t.c }

var errPing = errors.New("dial tcp: connection refused")

// flakyPing fails the first n calls.
func flakyPing(n int32, calls *atomic.Int32) PingFunc {
	return func(context.Context) error {
		if calls.Add(1) <= n {
			return errPing
		}
		return nil
	}
}

func TestHealth_ReconnectsAfterFailures(t *testing.T) {
	var calls atomic.Int32
	h := NewHealth(flakyPing(2, &calls), HealthOptions{ReconnectAttempts: 5})
	h.timer = newInstantTimer()
	defer h.Close()

	h.ReportFailure(errPing)
	assert.NotEqual(t, StateAvailable, h.State())

	require.Eventually(t, h.Available, 5*time.Second, 5*time.Millisecond)
	assert.Equal(t, int32(3), calls.Load())
}

func TestHealth_GivesUpAfterBudget(t *testing.T) {
	var calls atomic.Int32
	h := NewHealth(flakyPing(100, &calls), HealthOptions{ReconnectAttempts: 3})
	h.timer = newInstantTimer()
	defer h.Close()

	h.ReportFailure(errPing)
	require.Eventually(t, func() bool {
		return h.State() == StateGivenUp
	}, 5*time.Second, 5*time.Millisecond)
	assert.Equal(t, int32(3), calls.Load())

	// given up is final; further failures start nothing
	h.ReportFailure(errPing)
	time.Sleep(20 * time.Millisecond)
	assert.Equal(t, int32(3), calls.Load())
	assert.Equal(t, StateGivenUp, h.State())
}

func TestHealth_ConcurrentReportsStartOneLoop(t *testing.T) {
	var calls atomic.Int32
	gate := make(chan struct{})
	ping := func(context.Context) error {
		calls.Add(1)
		<-gate
		return nil
	}
	h := NewHealth(ping, HealthOptions{})
	h.timer = newInstantTimer()
	defer h.Close()

	for i := 0; i < 10; i++ {
		h.ReportFailure(errPing)
	}
	close(gate)

	require.Eventually(t, h.Available, 5*time.Second, 5*time.Millisecond)
	assert.Equal(t, int32(1), calls.Load())
}

func TestHealth_Check(t *testing.T) {
	var calls atomic.Int32
	h := NewHealth(flakyPing(1, &calls), HealthOptions{ReconnectAttempts: 2})
	h.timer = newInstantTimer()
	defer h.Close()

	require.Error(t, h.Check(context.Background()))
	require.Eventually(t, h.Available, 5*time.Second, 5*time.Millisecond)
	require.NoError(t, h.Check(context.Background()))
}

func TestHealth_CloseStopsLoop(t *testing.T) {
	h := NewHealth(func(ctx context.Context) error {
		<-ctx.Done()
		return ctx.Err()
	}, HealthOptions{ReconnectAttempts: 1000, PingTimeout: time.Hour})

	h.ReportFailure(errPing)
	done := make(chan struct{})
	go func() {
		h.Close()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("Close did not stop the reconnect loop")
	}
	assert.Equal(t, StateReconnecting, h.State())
}
