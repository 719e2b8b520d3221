package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/evolab/evolab/internal/domain"
)

// SnapshotRepo handles persistence for StatusSnapshot records.
type SnapshotRepo struct{}

// SaveTx appends a snapshot within an existing transaction. Seq is assigned as
// one past the run's latest snapshot and returned.
func (r *SnapshotRepo) SaveTx(ctx context.Context, tx *sql.Tx, snap domain.StatusSnapshot) (int64, error) {
	status, err := marshalColumn(snap.Status)
	if err != nil {
		return 0, fmt.Errorf("encode status: %w", err)
	}
	var seq int64
	if err := tx.QueryRowContext(ctx,
		`SELECT COALESCE(MAX(seq), 0) + 1 FROM status_snapshots WHERE run_id = ?`, snap.RunID).Scan(&seq); err != nil {
		return 0, fmt.Errorf("next snapshot seq: %w", err)
	}

	const q = `INSERT INTO status_snapshots (run_id, seq, cause, status_json, checksum, created_at)
VALUES (?, ?, ?, ?, ?, ?)`
	_, err = tx.ExecContext(ctx, q,
		snap.RunID,
		seq,
		string(snap.Trigger),
		status,
		snap.Checksum,
		toMillis(snap.CreatedAt),
	)
	if err != nil {
		return 0, fmt.Errorf("save snapshot: %w", err)
	}
	return seq, nil
}

// ListByRun returns a run's snapshots in sequence order.
func (r *SnapshotRepo) ListByRun(ctx context.Context, q Querier, runID string) ([]domain.StatusSnapshot, error) {
	const query = `SELECT id, run_id, seq, cause, status_json, checksum, created_at
FROM status_snapshots
WHERE run_id = ?
ORDER BY seq ASC`

	rows, err := q.QueryContext(ctx, query, runID)
	if err != nil {
		return nil, fmt.Errorf("list snapshots: %w", err)
	}
	defer rows.Close()

	snaps := []domain.StatusSnapshot{}
	for rows.Next() {
		s, err := scanSnapshot(rows)
		if err != nil {
			return nil, fmt.Errorf("scan snapshot: %w", err)
		}
		snaps = append(snaps, *s)
	}
	return snaps, rows.Err()
}

// GetLatest returns the most recent snapshot for a run.
// Returns nil if no snapshot exists.
func (r *SnapshotRepo) GetLatest(ctx context.Context, q Querier, runID string) (*domain.StatusSnapshot, error) {
	const query = `SELECT id, run_id, seq, cause, status_json, checksum, created_at
FROM status_snapshots
WHERE run_id = ?
ORDER BY seq DESC
LIMIT 1`

	s, err := scanSnapshot(q.QueryRowContext(ctx, query, runID))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("get latest snapshot: %w", err)
	}
	return s, nil
}

func scanSnapshot(row rowScanner) (*domain.StatusSnapshot, error) {
	var s domain.StatusSnapshot
	var trigger, status string
	var createdAt int64
	if err := row.Scan(&s.ID, &s.RunID, &s.Seq, &trigger, &status, &s.Checksum, &createdAt); err != nil {
		return nil, err
	}
	if err := unmarshalColumn(status, &s.Status); err != nil {
		return nil, fmt.Errorf("decode status: %w", err)
	}
	s.Trigger = domain.Trigger(trigger)
	s.CreatedAt = fromMillis(createdAt)
	return &s, nil
}
