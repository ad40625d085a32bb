package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"

	"github.com/aevon-lab/matchstats/internal/batch"
	"github.com/aevon-lab/matchstats/internal/core/aggregation"
	"github.com/aevon-lab/matchstats/internal/core/storage"
)

// BatchApplier writes operation lists in retried chunks. Satisfied by *batch.Mutator.
type BatchApplier interface {
	Apply(ctx context.Context, ops []batch.Operation) (batch.Result, error)
}

// SnapshotAdapter persists partition snapshots with build-then-repoint semantics:
// records are written under a fresh snapshot_id, and only once all of them are
// durable does snapshot_pointers move to the new id. Readers always join through
// the pointer, so they see the old snapshot or the new one, never a mix.
type SnapshotAdapter struct {
	db      *sql.DB
	mutator BatchApplier
}

// NewSnapshotAdapter creates a SnapshotAdapter sharing the given connection.
// mutator must write into the aggregate_snapshots table.
func NewSnapshotAdapter(db *sql.DB, mutator BatchApplier) *SnapshotAdapter {
	return &SnapshotAdapter{db: db, mutator: mutator}
}

// NewSnapshotRecordsExecutor returns the chunk executor for snapshot record writes.
func NewSnapshotRecordsExecutor(db *sql.DB) *UpsertExecutor {
	return NewUpsertExecutor(db, snapshotRecordsTable)
}

// WriteSnapshot writes snap's records and repoints the partition to it.
// On error the previous pointer is untouched.
func (a *SnapshotAdapter) WriteSnapshot(ctx context.Context, snap *aggregation.Snapshot) error {
	if snap == nil || snap.SnapshotID == "" || snap.PartitionID == "" {
		return fmt.Errorf("write snapshot: snapshot id and partition id are required")
	}

	ops, err := snapshotOperations(snap)
	if err != nil {
		return fmt.Errorf("write snapshot %s: %w", snap.SnapshotID, err)
	}

	result, err := a.mutator.Apply(ctx, ops)
	if err != nil {
		return fmt.Errorf("write snapshot %s: %w", snap.SnapshotID, err)
	}

	if err := a.repoint(ctx, snap); err != nil {
		return err
	}

	slog.Info("[SnapshotAdapter] Snapshot swapped in",
		"partition", snap.PartitionID,
		"snapshot_id", snap.SnapshotID,
		"records", result.Applied,
		"chunks", result.Chunks,
		"retries", result.Retries,
	)

	// Superseded rows are unreachable after the repoint; failing to delete them
	// only costs space and the next successful write retries the cleanup.
	if _, err := a.db.ExecContext(ctx, queryDeleteUnreferencedSnapshots, snap.PartitionID, snap.SnapshotID); err != nil {
		slog.Warn("[SnapshotAdapter] Failed to delete superseded snapshot rows",
			"partition", snap.PartitionID,
			"error", err)
	}
	return nil
}

func (a *SnapshotAdapter) repoint(ctx context.Context, snap *aggregation.Snapshot) error {
	tx, err := a.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("repoint snapshot: begin tx: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck

	var previous string
	err = tx.QueryRowContext(ctx, querySelectPointerForUpdate, snap.PartitionID).Scan(&previous)
	if err != nil && !errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("repoint snapshot: lock pointer: %w", err)
	}

	var written int
	if err := tx.QueryRowContext(ctx, queryCountSnapshotRecords, snap.SnapshotID).Scan(&written); err != nil {
		return fmt.Errorf("repoint snapshot: count records: %w", err)
	}
	if written != len(snap.Records) {
		return fmt.Errorf("repoint snapshot: snapshot %s incomplete: %d of %d records written",
			snap.SnapshotID, written, len(snap.Records))
	}

	if _, err := tx.ExecContext(ctx, queryUpsertPointer,
		snap.PartitionID,
		snap.SnapshotID,
		snap.BuiltAt.UTC(),
		len(snap.Records),
	); err != nil {
		return fmt.Errorf("repoint snapshot: upsert pointer: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("repoint snapshot: commit: %w", err)
	}

	slog.Debug("[SnapshotAdapter] Pointer moved",
		"partition", snap.PartitionID,
		"from", previous,
		"to", snap.SnapshotID)
	return nil
}

// LoadSnapshot returns the snapshot currently pointed to for partitionID.
// Returns storage.ErrSnapshotNotFound when the partition was never built.
func (a *SnapshotAdapter) LoadSnapshot(ctx context.Context, partitionID string) (*aggregation.Snapshot, error) {
	rows, err := a.db.QueryContext(ctx, queryLoadSnapshot, partitionID)
	if err != nil {
		return nil, classifyReadError(ctx, "load snapshot", err)
	}
	defer rows.Close()

	var snap *aggregation.Snapshot
	for rows.Next() {
		var (
			snapshotID  string
			builtAt     sql.NullTime
			entity      sql.NullString
			metricsJSON []byte
			rank        sql.NullInt64
			lastUpdated sql.NullTime
		)
		if err := rows.Scan(&snapshotID, &builtAt, &entity, &metricsJSON, &rank, &lastUpdated); err != nil {
			return nil, fmt.Errorf("load snapshot: scan row: %w", err)
		}

		if snap == nil {
			snap = &aggregation.Snapshot{
				PartitionID: partitionID,
				SnapshotID:  snapshotID,
				BuiltAt:     builtAt.Time.UTC(),
			}
		}

		// LEFT JOIN emits one row with NULL record columns for an empty snapshot.
		if !entity.Valid {
			continue
		}

		metrics, err := unmarshalMetrics(metricsJSON)
		if err != nil {
			return nil, fmt.Errorf("load snapshot: entity %s: %w", entity.String, err)
		}

		snap.Records = append(snap.Records, aggregation.AggregateRecord{
			Key:         aggregation.DimensionKey{Partition: partitionID, Entity: entity.String},
			Metrics:     metrics,
			Rank:        int(rank.Int64),
			LastUpdated: lastUpdated.Time.UTC(),
		})
	}
	if err := rows.Err(); err != nil {
		return nil, classifyReadError(ctx, "load snapshot: iterate rows", err)
	}

	if snap == nil {
		return nil, storage.ErrSnapshotNotFound
	}

	aggregation.SortRecords(snap.Records, aggregation.PrimaryMetric, true)
	if err := aggregation.ValidateRanks(snap.Records); err != nil {
		return nil, fmt.Errorf("load snapshot %s: %w", snap.SnapshotID, err)
	}
	return snap, nil
}

// ListSnapshots returns every partition that has a current snapshot, newest build first.
func (a *SnapshotAdapter) ListSnapshots(ctx context.Context) ([]aggregation.SnapshotInfo, error) {
	rows, err := a.db.QueryContext(ctx, queryListSnapshots)
	if err != nil {
		return nil, classifyReadError(ctx, "list snapshots", err)
	}
	defer rows.Close()

	var infos []aggregation.SnapshotInfo
	for rows.Next() {
		var info aggregation.SnapshotInfo
		if err := rows.Scan(&info.PartitionID, &info.SnapshotID, &info.BuiltAt, &info.RecordCount); err != nil {
			return nil, fmt.Errorf("list snapshots: scan row: %w", err)
		}
		info.BuiltAt = info.BuiltAt.UTC()
		infos = append(infos, info)
	}
	if err := rows.Err(); err != nil {
		return nil, classifyReadError(ctx, "list snapshots: iterate rows", err)
	}
	return infos, nil
}

// snapshotOperations turns records into idempotent upserts keyed by
// (snapshot_id, entity).
func snapshotOperations(snap *aggregation.Snapshot) ([]batch.Operation, error) {
	ops := make([]batch.Operation, 0, len(snap.Records))
	for _, rec := range snap.Records {
		metricsJSON, err := marshalMetrics(rec.Metrics)
		if err != nil {
			return nil, fmt.Errorf("entity %s: %w", rec.Key.Entity, err)
		}

		rank := sql.NullInt64{}
		if rec.Ranked() {
			rank = sql.NullInt64{Int64: int64(rec.Rank), Valid: true}
		}

		ops = append(ops, batch.Operation{
			Key: snap.SnapshotID + "/" + rec.Key.Entity,
			Filter: map[string]any{
				"snapshot_id": snap.SnapshotID,
				"entity":      rec.Key.Entity,
			},
			Replace: map[string]any{
				"partition_id": snap.PartitionID,
				"metrics":      string(metricsJSON),
				"rank":         rank,
				"last_updated": rec.LastUpdated.UTC(),
			},
		})
	}
	return ops, nil
}
