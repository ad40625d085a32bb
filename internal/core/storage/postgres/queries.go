package postgres

// SQL for the raw match dataset and the materialized snapshot tables.

const (
	// querySetStatementTimeout scopes a server-side timeout (milliseconds) to the
	// current transaction. SET LOCAL cannot take bind parameters; set_config can.
	querySetStatementTimeout = `SELECT set_config('statement_timeout', $1, true)`

	// queryDisableTempFiles makes sorts and hashes that exceed work_mem fail
	// instead of spilling to disk, for the current transaction only.
	queryDisableTempFiles = `SELECT set_config('temp_file_limit', '0', true)`

	// queryAggregatePartition is the grouped aggregation behind every snapshot.
	// duration_seconds is the canonical unit of the raw dataset.
	queryAggregatePartition = `
		SELECT
			entity,
			COUNT(*)                                       AS games,
			COALESCE(SUM(CASE WHEN won THEN 1 ELSE 0 END), 0) AS wins,
			COALESCE(SUM(kills), 0)                        AS kills,
			COALESCE(SUM(deaths), 0)                       AS deaths,
			COALESCE(SUM(assists), 0)                      AS assists,
			COALESCE(SUM(duration_seconds), 0)             AS duration_seconds
		FROM match_participants
		WHERE partition_id = $1
		GROUP BY entity
		ORDER BY entity ASC
	`

	// queryRecentPartitions lists releases newest first. LIMIT NULL means no limit.
	queryRecentPartitions = `
		SELECT partition_id, released_at
		FROM partitions
		ORDER BY released_at DESC, partition_id DESC
		LIMIT $1
	`

	queryTableExists = `
		SELECT EXISTS (
			SELECT FROM information_schema.tables
			WHERE table_name = $1
		)
	`

	// querySelectPointerForUpdate locks the partition's read alias during repoint.
	querySelectPointerForUpdate = `
		SELECT snapshot_id
		FROM snapshot_pointers
		WHERE partition_id = $1
		FOR UPDATE
	`

	queryCountSnapshotRecords = `SELECT COUNT(*) FROM aggregate_snapshots WHERE snapshot_id = $1`

	// queryUpsertPointer repoints the read alias to a fully written snapshot.
	queryUpsertPointer = `
		INSERT INTO snapshot_pointers (partition_id, snapshot_id, built_at, record_count)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (partition_id) DO UPDATE SET
			snapshot_id  = EXCLUDED.snapshot_id,
			built_at     = EXCLUDED.built_at,
			record_count = EXCLUDED.record_count
	`

	// queryDeleteUnreferencedSnapshots removes superseded and abandoned builds of a
	// partition. Only run after the pointer moved to keepSnapshotID.
	queryDeleteUnreferencedSnapshots = `
		DELETE FROM aggregate_snapshots
		WHERE partition_id = $1
		  AND snapshot_id <> $2
	`

	// queryLoadSnapshot reads the pointer and its records in one statement so the
	// pair always comes from the same snapshot. LEFT JOIN keeps empty snapshots.
	queryLoadSnapshot = `
		SELECT
			p.snapshot_id,
			p.built_at,
			r.entity,
			r.metrics,
			r.rank,
			r.last_updated
		FROM snapshot_pointers p
		LEFT JOIN aggregate_snapshots r ON r.snapshot_id = p.snapshot_id
		WHERE p.partition_id = $1
		ORDER BY r.entity ASC NULLS LAST
	`

	queryListSnapshots = `
		SELECT partition_id, snapshot_id, built_at, record_count
		FROM snapshot_pointers
		ORDER BY built_at DESC, partition_id ASC
	`
)

const snapshotRecordsTable = "aggregate_snapshots"
