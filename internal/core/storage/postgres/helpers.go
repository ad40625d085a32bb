package postgres

import (
	"context"
	"database/sql/driver"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"syscall"

	"github.com/aevon-lab/matchstats/internal/core/storage"
	"github.com/lib/pq"
	"github.com/shopspring/decimal"
)

// PostgreSQL error codes the adapters branch on.
const (
	codeQueryCanceled        = pq.ErrorCode("57014")
	codeSerializationFailure = pq.ErrorCode("40001")
	codeDeadlockDetected     = pq.ErrorCode("40P01")
	codeLockNotAvailable     = pq.ErrorCode("55P03")
	codeAdminShutdown        = pq.ErrorCode("57P01")
	codeCrashShutdown        = pq.ErrorCode("57P02")
	codeCannotConnectNow     = pq.ErrorCode("57P03")
	codeTooManyConnections   = pq.ErrorCode("53300")

	classConnectionException = pq.ErrorClass("08")
)

func pqCode(err error) (pq.ErrorCode, bool) {
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		return pqErr.Code, true
	}
	return "", false
}

// isConnectionError reports whether err means the server could not be reached
// or dropped the session.
func isConnectionError(err error) bool {
	if err == nil || errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	if errors.Is(err, driver.ErrBadConn) ||
		errors.Is(err, io.EOF) ||
		errors.Is(err, io.ErrUnexpectedEOF) ||
		errors.Is(err, syscall.ECONNREFUSED) ||
		errors.Is(err, syscall.ECONNRESET) {
		return true
	}

	var netErr net.Error
	if errors.As(err, &netErr) {
		return true
	}

	code, ok := pqCode(err)
	if !ok {
		return false
	}
	if code.Class() == classConnectionException {
		return true
	}
	switch code {
	case codeAdminShutdown, codeCrashShutdown, codeCannotConnectNow, codeTooManyConnections:
		return true
	}
	return false
}

// isTransientWriteError reports whether a failed write can be retried as-is:
// connection loss, or the data changed under a concurrent transaction.
func isTransientWriteError(err error) bool {
	if isConnectionError(err) {
		return true
	}
	code, ok := pqCode(err)
	if !ok {
		return false
	}
	switch code {
	case codeSerializationFailure, codeDeadlockDetected, codeLockNotAvailable:
		return true
	}
	return false
}

// classifyReadError maps a failed raw-store read onto the storage sentinels,
// keeping the driver error in the chain.
func classifyReadError(ctx context.Context, op string, err error) error {
	code, _ := pqCode(err)
	switch {
	case errors.Is(err, context.DeadlineExceeded),
		errors.Is(ctx.Err(), context.DeadlineExceeded),
		code == codeQueryCanceled:
		return fmt.Errorf("%s: %w: %w", op, storage.ErrAggregationTimeout, err)
	case isConnectionError(err):
		return fmt.Errorf("%s: %w: %w", op, storage.ErrSourceUnavailable, err)
	}
	return fmt.Errorf("%s: %w", op, err)
}

type scanner interface {
	Scan(dest ...interface{}) error
}

// marshalMetrics encodes metrics as a JSON object of decimal strings.
// encoding/json sorts map keys, so equal maps encode identically.
func marshalMetrics(metrics map[string]decimal.Decimal) ([]byte, error) {
	data, err := json.Marshal(metrics)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal metrics: %w", err)
	}
	return data, nil
}

func unmarshalMetrics(data []byte) (map[string]decimal.Decimal, error) {
	metrics := make(map[string]decimal.Decimal)
	if len(data) == 0 {
		return metrics, nil
	}
	if err := json.Unmarshal(data, &metrics); err != nil {
		return nil, fmt.Errorf("failed to unmarshal metrics: %w", err)
	}
	return metrics, nil
}
