package postgres

import (
	"context"
	"database/sql/driver"
	"errors"
	"fmt"
	"net"
	"testing"

	"github.com/aevon-lab/matchstats/internal/core/storage"
	"github.com/lib/pq"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestIsTransientWriteError(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{name: "nil", err: nil, want: false},
		{name: "serialization failure", err: &pq.Error{Code: "40001"}, want: true},
		{name: "deadlock", err: &pq.Error{Code: "40P01"}, want: true},
		{name: "lock not available", err: &pq.Error{Code: "55P03"}, want: true},
		{name: "connection failure class", err: &pq.Error{Code: "08003"}, want: true},
		{name: "too many connections", err: &pq.Error{Code: "53300"}, want: true},
		{name: "wrapped bad conn", err: fmt.Errorf("exec: %w", driver.ErrBadConn), want: true},
		{name: "net error", err: &net.OpError{Op: "dial", Err: errors.New("connection refused")}, want: true},
		{name: "unique violation", err: &pq.Error{Code: "23505"}, want: false},
		{name: "invalid text", err: &pq.Error{Code: "22P02"}, want: false},
		{name: "context deadline", err: context.DeadlineExceeded, want: false},
		{name: "plain error", err: errors.New("boom"), want: false},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, isTransientWriteError(tc.err))
		})
	}
}

func TestClassifyReadError_ContextDeadline(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 0)
	defer cancel()
	<-ctx.Done()

	err := classifyReadError(ctx, "aggregate partition", errors.New("driver: bad connection"))
	require.ErrorIs(t, err, storage.ErrAggregationTimeout)
	require.ErrorContains(t, err, "aggregate partition")
}

func TestMetricsJSONRoundTrip(t *testing.T) {
	in := map[string]decimal.Decimal{
		"win_rate":  decimal.RequireFromString("0.55"),
		"pick_rate": decimal.RequireFromString("0.25"),
		"games":     decimal.NewFromInt(100),
	}

	data, err := marshalMetrics(in)
	require.NoError(t, err)
	require.JSONEq(t, `{"games":"100","pick_rate":"0.25","win_rate":"0.55"}`, string(data))

	again, err := marshalMetrics(in)
	require.NoError(t, err)
	require.Equal(t, data, again)

	out, err := unmarshalMetrics(data)
	require.NoError(t, err)
	require.Len(t, out, 3)
	for name, v := range in {
		require.True(t, v.Equal(out[name]), name)
	}

	empty, err := unmarshalMetrics(nil)
	require.NoError(t, err)
	require.Empty(t, empty)
}
