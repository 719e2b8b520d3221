package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/evolab/evolab/internal/domain"
)

// RunRepo handles persistence for EvolutionRun records.
type RunRepo struct{}

const runColumns = `run_id, problem_id, session_id, state, current_generation, population_size,
	best_fitness, average_fitness, diversity_index, elapsed_ms, api_calls, error_message,
	parameters_json, started_at, completed_at, best_individual_id, generations_recorded, state_version`

// CreateTx inserts a new run within an existing transaction.
func (r *RunRepo) CreateTx(ctx context.Context, tx *sql.Tx, run domain.EvolutionRun) error {
	params, err := marshalColumn(run.Parameters)
	if err != nil {
		return fmt.Errorf("encode parameters: %w", err)
	}
	q := `INSERT INTO runs (` + runColumns + `) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`
	st := run.Status
	_, err = tx.ExecContext(ctx, q,
		run.ID,
		run.ProblemID,
		run.SessionID,
		string(st.State),
		st.CurrentGeneration,
		st.PopulationSize,
		st.BestFitness,
		st.AverageFitness,
		st.DiversityIndex,
		st.ElapsedTimeMs,
		st.APICallsMade,
		st.ErrorMessage,
		params,
		toMillis(run.StartedAt),
		nullableMillis(run),
		run.BestIndividualID,
		run.GenerationsRecorded,
		run.StateVersion,
	)
	if err != nil {
		return fmt.Errorf("create run: %w", err)
	}
	return nil
}

// UpdateTx writes the run's status within a transaction using optimistic locking.
// The update only succeeds if the stored state_version matches run.StateVersion.
func (r *RunRepo) UpdateTx(ctx context.Context, tx *sql.Tx, run domain.EvolutionRun) error {
	const q = `UPDATE runs SET
		state = ?,
		current_generation = ?,
		population_size = ?,
		best_fitness = ?,
		average_fitness = ?,
		diversity_index = ?,
		elapsed_ms = ?,
		api_calls = ?,
		error_message = ?,
		completed_at = ?,
		best_individual_id = ?,
		generations_recorded = ?,
		state_version = state_version + 1
	WHERE run_id = ? AND state_version = ?`

	st := run.Status
	res, err := tx.ExecContext(ctx, q,
		string(st.State),
		st.CurrentGeneration,
		st.PopulationSize,
		st.BestFitness,
		st.AverageFitness,
		st.DiversityIndex,
		st.ElapsedTimeMs,
		st.APICallsMade,
		st.ErrorMessage,
		nullableMillis(run),
		run.BestIndividualID,
		run.GenerationsRecorded,
		run.ID,
		run.StateVersion,
	)
	if err != nil {
		return fmt.Errorf("update run: %w", err)
	}
	return expectOne(res, domain.ErrOptimisticLock)
}

// GetByID retrieves a run by its ID.
func (r *RunRepo) GetByID(ctx context.Context, q Querier, runID string) (*domain.EvolutionRun, error) {
	row := q.QueryRowContext(ctx, `SELECT `+runColumns+` FROM runs WHERE run_id = ?`, runID)
	run, err := scanRun(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, domain.ErrRunNotFound
		}
		return nil, fmt.Errorf("get run: %w", err)
	}
	return run, nil
}

// RunFilter narrows List. Zero fields match everything.
type RunFilter struct {
	SessionID string
	ProblemID string
	State     domain.RunState
	Limit     int
}

// List returns runs matching the filter, most recently started first.
func (r *RunRepo) List(ctx context.Context, q Querier, f RunFilter) ([]domain.EvolutionRun, error) {
	var where []string
	var args []any
	if f.SessionID != "" {
		where = append(where, "session_id = ?")
		args = append(args, f.SessionID)
	}
	if f.ProblemID != "" {
		where = append(where, "problem_id = ?")
		args = append(args, f.ProblemID)
	}
	if f.State != "" {
		where = append(where, "state = ?")
		args = append(args, string(f.State))
	}

	query := `SELECT ` + runColumns + ` FROM runs`
	if len(where) > 0 {
		query += ` WHERE ` + strings.Join(where, " AND ")
	}
	query += ` ORDER BY started_at DESC, run_id ASC`
	if f.Limit > 0 {
		query += ` LIMIT ?`
		args = append(args, f.Limit)
	}

	rows, err := q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list runs: %w", err)
	}
	defer rows.Close()

	runs := []domain.EvolutionRun{}
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, fmt.Errorf("scan run: %w", err)
		}
		runs = append(runs, *run)
	}
	return runs, rows.Err()
}

// CountByProblem returns how many runs reference a problem.
func (r *RunRepo) CountByProblem(ctx context.Context, q Querier, problemID string) (int, error) {
	var n int
	if err := q.QueryRowContext(ctx, `SELECT COUNT(*) FROM runs WHERE problem_id = ?`, problemID).Scan(&n); err != nil {
		return 0, fmt.Errorf("count runs: %w", err)
	}
	return n, nil
}

// RunStats aggregates run counts for the dashboard.
type RunStats struct {
	Total      int
	Active     int
	Completed  int
	Successful int
	Problems   int
}

// Stats computes run and problem totals in one statement. A successful run is a
// completed run whose best fitness reached 1.0.
func (r *RunRepo) Stats(ctx context.Context, q Querier) (RunStats, error) {
	const query = `SELECT
		COUNT(*),
		COALESCE(SUM(CASE WHEN state IN ('running', 'paused') THEN 1 ELSE 0 END), 0),
		COALESCE(SUM(CASE WHEN state = 'completed' THEN 1 ELSE 0 END), 0),
		COALESCE(SUM(CASE WHEN state = 'completed' AND best_fitness >= 1.0 THEN 1 ELSE 0 END), 0),
		(SELECT COUNT(*) FROM problems)
	FROM runs`
	var s RunStats
	if err := q.QueryRowContext(ctx, query).Scan(&s.Total, &s.Active, &s.Completed, &s.Successful, &s.Problems); err != nil {
		return RunStats{}, fmt.Errorf("run stats: %w", err)
	}
	return s, nil
}

func scanRun(row rowScanner) (*domain.EvolutionRun, error) {
	var run domain.EvolutionRun
	var state, params string
	var startedAt int64
	var completedAt sql.NullInt64
	st := &run.Status
	err := row.Scan(&run.ID, &run.ProblemID, &run.SessionID, &state, &st.CurrentGeneration,
		&st.PopulationSize, &st.BestFitness, &st.AverageFitness, &st.DiversityIndex,
		&st.ElapsedTimeMs, &st.APICallsMade, &st.ErrorMessage, &params, &startedAt,
		&completedAt, &run.BestIndividualID, &run.GenerationsRecorded, &run.StateVersion)
	if err != nil {
		return nil, err
	}
	st.State = domain.RunState(state)
	if err := unmarshalColumn(params, &run.Parameters); err != nil {
		return nil, fmt.Errorf("decode parameters: %w", err)
	}
	run.StartedAt = fromMillis(startedAt)
	if completedAt.Valid {
		t := fromMillis(completedAt.Int64)
		run.CompletedAt = &t
	}
	return &run, nil
}

func nullableMillis(run domain.EvolutionRun) any {
	if run.CompletedAt == nil {
		return nil
	}
	return toMillis(*run.CompletedAt)
}
