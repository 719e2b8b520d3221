package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/evolab/evolab/internal/domain"
)

// SessionRepo handles persistence for controlling sessions.
type SessionRepo struct{}

// Get returns the session. An unknown session id yields an empty session
// with no current run.
func (r *SessionRepo) Get(ctx context.Context, q Querier, sessionID string) (domain.Session, error) {
	const query = `SELECT session_id, COALESCE(current_run_id, ''), updated_at FROM sessions WHERE session_id = ?`
	var s domain.Session
	var updatedAt int64
	err := q.QueryRowContext(ctx, query, sessionID).Scan(&s.ID, &s.CurrentRunID, &updatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return domain.Session{ID: sessionID}, nil
		}
		return domain.Session{}, fmt.Errorf("get session: %w", err)
	}
	s.UpdatedAt = fromMillis(updatedAt)
	return s, nil
}

// SetCurrentRunTx points the session at runID, creating the session if needed.
func (r *SessionRepo) SetCurrentRunTx(ctx context.Context, tx *sql.Tx, sessionID, runID string, now time.Time) error {
	const q = `INSERT INTO sessions (session_id, current_run_id, updated_at) VALUES (?, ?, ?)
ON CONFLICT(session_id) DO UPDATE SET current_run_id = excluded.current_run_id, updated_at = excluded.updated_at`
	if _, err := tx.ExecContext(ctx, q, sessionID, runID, toMillis(now)); err != nil {
		return fmt.Errorf("set session run: %w", err)
	}
	return nil
}

// ClearRunTx drops the current-run pointer of whichever session still points at runID.
func (r *SessionRepo) ClearRunTx(ctx context.Context, tx *sql.Tx, runID string, now time.Time) error {
	const q = `UPDATE sessions SET current_run_id = NULL, updated_at = ? WHERE current_run_id = ?`
	if _, err := tx.ExecContext(ctx, q, toMillis(now), runID); err != nil {
		return fmt.Errorf("clear session run: %w", err)
	}
	return nil
}
