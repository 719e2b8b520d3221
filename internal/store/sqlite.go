// Package store provides SQLite-backed persistence for evolab.
package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	_ "modernc.org/sqlite"
)

// schemaV1 defines the initial database schema. Timestamps are unix milliseconds.
const schemaV1 = `
CREATE TABLE IF NOT EXISTS problems (
	problem_id         TEXT PRIMARY KEY,
	title              TEXT NOT NULL,
	description        TEXT NOT NULL DEFAULT '',
	function_signature TEXT NOT NULL,
	test_cases_json    TEXT NOT NULL DEFAULT '[]',
	constraints        TEXT NOT NULL DEFAULT '',
	tags_json          TEXT NOT NULL DEFAULT '[]',
	difficulty         TEXT NOT NULL,
	created_at         INTEGER NOT NULL
);

CREATE TABLE IF NOT EXISTS sessions (
	session_id     TEXT PRIMARY KEY,
	current_run_id TEXT,
	updated_at     INTEGER NOT NULL DEFAULT 0
);

CREATE TABLE IF NOT EXISTS runs (
	run_id               TEXT PRIMARY KEY,
	problem_id           TEXT NOT NULL REFERENCES problems(problem_id),
	session_id           TEXT NOT NULL,
	state                TEXT NOT NULL DEFAULT 'running',
	current_generation   INTEGER NOT NULL DEFAULT 0,
	population_size      INTEGER NOT NULL DEFAULT 0,
	best_fitness         REAL NOT NULL DEFAULT 0.0,
	average_fitness      REAL NOT NULL DEFAULT 0.0,
	diversity_index      REAL NOT NULL DEFAULT 1.0,
	elapsed_ms           INTEGER NOT NULL DEFAULT 0,
	api_calls            INTEGER NOT NULL DEFAULT 0,
	error_message        TEXT NOT NULL DEFAULT '',
	parameters_json      TEXT NOT NULL DEFAULT '{}',
	started_at           INTEGER NOT NULL,
	completed_at         INTEGER,
	best_individual_id   TEXT NOT NULL DEFAULT '',
	generations_recorded INTEGER NOT NULL DEFAULT 0,
	state_version        INTEGER NOT NULL DEFAULT 1
);
CREATE INDEX IF NOT EXISTS idx_runs_session ON runs(session_id, started_at);
CREATE INDEX IF NOT EXISTS idx_runs_problem ON runs(problem_id);

CREATE TABLE IF NOT EXISTS individuals (
	individual_id     TEXT PRIMARY KEY,
	run_id            TEXT NOT NULL REFERENCES runs(run_id),
	generation        INTEGER NOT NULL,
	code              TEXT NOT NULL,
	fitness           REAL NOT NULL DEFAULT 0.0,
	parent_ids_json   TEXT NOT NULL DEFAULT '[]',
	test_results_json TEXT NOT NULL DEFAULT '[]',
	metadata_json     TEXT NOT NULL DEFAULT '{}',
	created_at        INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_individuals_run_gen ON individuals(run_id, generation);

CREATE TABLE IF NOT EXISTS evolution_metrics (
	run_id            TEXT NOT NULL REFERENCES runs(run_id),
	generation        INTEGER NOT NULL,
	best_fitness      REAL NOT NULL,
	average_fitness   REAL NOT NULL,
	diversity_index   REAL NOT NULL,
	total_individuals INTEGER NOT NULL,
	api_calls         INTEGER NOT NULL,
	created_at        INTEGER NOT NULL,
	PRIMARY KEY (run_id, generation)
);

CREATE TABLE IF NOT EXISTS run_logs (
	id         INTEGER PRIMARY KEY AUTOINCREMENT,
	log_id     TEXT NOT NULL UNIQUE,
	run_id     TEXT NOT NULL REFERENCES runs(run_id),
	generation INTEGER,
	log_type   TEXT NOT NULL,
	message    TEXT NOT NULL,
	details    TEXT NOT NULL DEFAULT '',
	created_at INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_run_logs_run ON run_logs(run_id, created_at, id);

CREATE TABLE IF NOT EXISTS status_snapshots (
	id          INTEGER PRIMARY KEY AUTOINCREMENT,
	run_id      TEXT NOT NULL REFERENCES runs(run_id),
	seq         INTEGER NOT NULL,
	cause       TEXT NOT NULL,
	status_json TEXT NOT NULL DEFAULT '{}',
	checksum    TEXT NOT NULL DEFAULT '',
	created_at  INTEGER NOT NULL,
	UNIQUE(run_id, seq)
);
`

// NewDB opens a SQLite database at the given path with recommended pragmas
// and runs the V1 schema migration.
func NewDB(path string) (*sql.DB, error) {
	dsn := fmt.Sprintf("file:%s?_pragma=journal_mode(WAL)&_pragma=synchronous(NORMAL)&_pragma=foreign_keys(ON)&_pragma=busy_timeout(5000)", path)

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	// One connection: SQLite has a single writer, and reads queue behind an open
	// transaction until it commits.
	db.SetMaxOpenConns(1)

	if err := migrate(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate schema: %w", err)
	}

	return db, nil
}

func migrate(db *sql.DB) error {
	_, err := db.ExecContext(context.Background(), schemaV1)
	return err
}

// Querier is satisfied by both *sql.DB and *sql.Tx, so readers can run inside
// a write transaction. With a single open connection, a reader must never use
// the *sql.DB while a transaction is open.
type Querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

func toMillis(t time.Time) int64 {
	return t.UnixMilli()
}

func fromMillis(ms int64) time.Time {
	return time.UnixMilli(ms).UTC()
}

func marshalColumn(v any) (string, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return "", err
	}
	return string(data), nil
}

func unmarshalColumn(raw string, v any) error {
	if raw == "" {
		return nil
	}
	return json.Unmarshal([]byte(raw), v)
}
