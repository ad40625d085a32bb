package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"github.com/aevon-lab/matchstats/internal/batch"
	"github.com/lib/pq"
)

// UpsertExecutor applies batch operations to one table as
// INSERT ... ON CONFLICT (filter columns) DO UPDATE SET replace columns.
// The filter columns must be covered by a unique constraint on the table.
// Each chunk commits or rolls back as a whole.
type UpsertExecutor struct {
	db    *sql.DB
	table string
}

// NewUpsertExecutor creates an executor writing to table.
func NewUpsertExecutor(db *sql.DB, table string) *UpsertExecutor {
	return &UpsertExecutor{db: db, table: table}
}

// ExecuteChunk upserts every operation of the chunk in one transaction.
func (e *UpsertExecutor) ExecuteChunk(ctx context.Context, ops []batch.Operation) error {
	if len(ops) == 0 {
		return nil
	}

	filterCols := batch.SortedColumns(ops[0].Filter)
	replaceCols := batch.SortedColumns(ops[0].Replace)
	query := buildUpsertQuery(e.table, filterCols, replaceCols)

	tx, err := e.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("upsert %s: begin tx: %w", e.table, err)
	}
	defer tx.Rollback() //nolint:errcheck

	stmt, err := tx.PrepareContext(ctx, query)
	if err != nil {
		return fmt.Errorf("upsert %s: prepare: %w", e.table, err)
	}
	defer stmt.Close()

	for _, op := range ops {
		args, err := upsertArgs(op, filterCols, replaceCols)
		if err != nil {
			return err
		}
		if _, err := stmt.ExecContext(ctx, args...); err != nil {
			return fmt.Errorf("upsert %s: operation %q: %w", e.table, op.Key, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("upsert %s: commit: %w", e.table, err)
	}
	return nil
}

// IsTransient treats lost connections, serialization failures and deadlocks as retryable.
func (e *UpsertExecutor) IsTransient(err error) bool {
	return isTransientWriteError(err)
}

func upsertArgs(op batch.Operation, filterCols, replaceCols []string) ([]any, error) {
	args := make([]any, 0, len(filterCols)+len(replaceCols))
	for _, col := range filterCols {
		v, ok := op.Filter[col]
		if !ok {
			return nil, fmt.Errorf("%w: operation %q missing filter column %q", batch.ErrMalformedOperation, op.Key, col)
		}
		args = append(args, v)
	}
	for _, col := range replaceCols {
		v, ok := op.Replace[col]
		if !ok {
			return nil, fmt.Errorf("%w: operation %q missing column %q", batch.ErrMalformedOperation, op.Key, col)
		}
		args = append(args, v)
	}
	return args, nil
}

// buildUpsertQuery renders the statement for one column shape. Placeholders
// follow filterCols then replaceCols.
func buildUpsertQuery(table string, filterCols, replaceCols []string) string {
	cols := make([]string, 0, len(filterCols)+len(replaceCols))
	placeholders := make([]string, 0, cap(cols))
	for _, col := range append(append([]string{}, filterCols...), replaceCols...) {
		cols = append(cols, pq.QuoteIdentifier(col))
		placeholders = append(placeholders, fmt.Sprintf("$%d", len(placeholders)+1))
	}

	conflict := make([]string, len(filterCols))
	for i, col := range filterCols {
		conflict[i] = pq.QuoteIdentifier(col)
	}

	var b strings.Builder
	fmt.Fprintf(&b, "INSERT INTO %s (%s) VALUES (%s) ON CONFLICT (%s) ",
		pq.QuoteIdentifier(table),
		strings.Join(cols, ", "),
		strings.Join(placeholders, ", "),
		strings.Join(conflict, ", "),
	)

	if len(replaceCols) == 0 {
		b.WriteString("DO NOTHING")
		return b.String()
	}

	sets := make([]string, len(replaceCols))
	for i, col := range replaceCols {
		q := pq.QuoteIdentifier(col)
		sets[i] = q + " = EXCLUDED." + q
	}
	b.WriteString("DO UPDATE SET ")
	b.WriteString(strings.Join(sets, ", "))
	return b.String()
}
