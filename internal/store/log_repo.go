package store

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/evolab/evolab/internal/domain"
)

// LogRepo handles persistence for append-only run log entries.
type LogRepo struct{}

// AppendTx inserts a log entry within an existing transaction.
func (r *LogRepo) AppendTx(ctx context.Context, tx *sql.Tx, entry domain.LogEntry) error {
	const q = `INSERT INTO run_logs (log_id, run_id, generation, log_type, message, details, created_at)
VALUES (?, ?, ?, ?, ?, ?, ?)`
	var generation any
	if entry.Generation != nil {
		generation = *entry.Generation
	}
	_, err := tx.ExecContext(ctx, q,
		entry.ID,
		entry.RunID,
		generation,
		string(entry.Type),
		entry.Message,
		entry.Details,
		toMillis(entry.Timestamp),
	)
	if err != nil {
		return fmt.Errorf("append log: %w", err)
	}
	return nil
}

// ListByRun returns a run's log entries ordered by timestamp ascending with
// ties in insertion order. sinceSeq is a cursor: only entries after the entry
// with that Seq in this order are returned. A Seq that names no entry falls
// back to Seq > sinceSeq, so zero lists everything.
func (r *LogRepo) ListByRun(ctx context.Context, q Querier, runID string, sinceSeq int64) ([]domain.LogEntry, error) {
	const query = `SELECT id, log_id, run_id, generation, log_type, message, details, created_at
FROM run_logs
WHERE run_id = ?1 AND (
	(created_at, id) > (SELECT c.created_at, c.id FROM run_logs c WHERE c.id = ?2)
	OR (NOT EXISTS (SELECT 1 FROM run_logs c WHERE c.id = ?2) AND id > ?2)
)
ORDER BY created_at ASC, id ASC`

	rows, err := q.QueryContext(ctx, query, runID, sinceSeq)
	if err != nil {
		return nil, fmt.Errorf("list logs: %w", err)
	}
	defer rows.Close()

	entries := []domain.LogEntry{}
	for rows.Next() {
		var e domain.LogEntry
		var generation sql.NullInt64
		var logType string
		var ts int64
		if err := rows.Scan(&e.Seq, &e.ID, &e.RunID, &generation, &logType, &e.Message, &e.Details, &ts); err != nil {
			return nil, fmt.Errorf("scan log: %w", err)
		}
		if generation.Valid {
			g := int(generation.Int64)
			e.Generation = &g
		}
		e.Type = domain.LogType(logType)
		e.Timestamp = fromMillis(ts)
		entries = append(entries, e)
	}
	return entries, rows.Err()
}
