package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/evolab/evolab/internal/domain"
)

// IndividualRepo handles persistence for Individual records. Rows are never
// updated after insert.
type IndividualRepo struct{}

const individualColumns = `individual_id, run_id, generation, code, fitness, parent_ids_json, test_results_json, metadata_json, created_at`

// InsertTx appends an individual within an existing transaction.
func (r *IndividualRepo) InsertTx(ctx context.Context, tx *sql.Tx, ind domain.Individual) error {
	parents, err := marshalColumn(nonNilTags(ind.ParentIDs))
	if err != nil {
		return fmt.Errorf("encode parents: %w", err)
	}
	results := ind.TestResults
	if results == nil {
		results = []domain.TestResult{}
	}
	tests, err := marshalColumn(results)
	if err != nil {
		return fmt.Errorf("encode test results: %w", err)
	}
	meta, err := marshalColumn(ind.Metadata)
	if err != nil {
		return fmt.Errorf("encode metadata: %w", err)
	}

	q := `INSERT INTO individuals (` + individualColumns + `) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`
	_, err = tx.ExecContext(ctx, q,
		ind.ID, ind.RunID, ind.Generation, ind.Code, ind.Fitness, parents, tests, meta, toMillis(ind.CreatedAt))
	if err != nil {
		return fmt.Errorf("insert individual: %w", err)
	}
	return nil
}

// GetByID retrieves an individual by its ID.
func (r *IndividualRepo) GetByID(ctx context.Context, q Querier, id string) (*domain.Individual, error) {
	row := q.QueryRowContext(ctx, `SELECT `+individualColumns+` FROM individuals WHERE individual_id = ?`, id)
	ind, err := scanIndividual(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, domain.ErrIndividualNotFound
		}
		return nil, fmt.Errorf("get individual: %w", err)
	}
	return ind, nil
}

// BestOfRun returns the individual referenced by the run's bestIndividualId,
// or nil when the run has none.
func (r *IndividualRepo) BestOfRun(ctx context.Context, q Querier, runID string) (*domain.Individual, error) {
	query := `SELECT ` + prefixColumns("i.", individualColumns) + `
FROM runs r JOIN individuals i ON i.individual_id = r.best_individual_id
WHERE r.run_id = ?`
	ind, err := scanIndividual(q.QueryRowContext(ctx, query, runID))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("get best individual: %w", err)
	}
	return ind, nil
}

// ListByGeneration returns one generation of a run, fitness descending, ties by id.
func (r *IndividualRepo) ListByGeneration(ctx context.Context, q Querier, runID string, generation int) ([]domain.Individual, error) {
	query := `SELECT ` + individualColumns + ` FROM individuals
WHERE run_id = ? AND generation = ?
ORDER BY fitness DESC, individual_id ASC`
	return r.list(ctx, q, query, runID, generation)
}

// ListByRun returns every individual of a run, by generation then creation.
func (r *IndividualRepo) ListByRun(ctx context.Context, q Querier, runID string) ([]domain.Individual, error) {
	query := `SELECT ` + individualColumns + ` FROM individuals
WHERE run_id = ?
ORDER BY generation ASC, created_at ASC, individual_id ASC`
	return r.list(ctx, q, query, runID)
}

// Lineage returns the individual followed by its first-parent ancestors,
// nearest first.
func (r *IndividualRepo) Lineage(ctx context.Context, q Querier, id string) ([]domain.Individual, error) {
	query := `WITH RECURSIVE chain(individual_id, depth) AS (
	SELECT individual_id, 0 FROM individuals WHERE individual_id = ?
	UNION ALL
	SELECT json_extract(i.parent_ids_json, '$[0]'), c.depth + 1
	FROM chain c JOIN individuals i ON i.individual_id = c.individual_id
	WHERE json_array_length(i.parent_ids_json) > 0 AND c.depth < 1000
)
SELECT ` + prefixColumns("i.", individualColumns) + `
FROM chain c JOIN individuals i ON i.individual_id = c.individual_id
ORDER BY c.depth ASC`
	inds, err := r.list(ctx, q, query, id)
	if err != nil {
		return nil, err
	}
	if len(inds) == 0 {
		return nil, domain.ErrIndividualNotFound
	}
	return inds, nil
}

// MissingFromRun returns the ids in ids that are not individuals of runID.
func (r *IndividualRepo) MissingFromRun(ctx context.Context, q Querier, runID string, ids []string) ([]string, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	placeholders := strings.TrimSuffix(strings.Repeat("?, ", len(ids)), ", ")
	args := make([]any, 0, len(ids)+1)
	args = append(args, runID)
	for _, id := range ids {
		args = append(args, id)
	}
	rows, err := q.QueryContext(ctx,
		`SELECT individual_id FROM individuals WHERE run_id = ? AND individual_id IN (`+placeholders+`)`, args...)
	if err != nil {
		return nil, fmt.Errorf("check parents: %w", err)
	}
	defer rows.Close()

	found := make(map[string]bool, len(ids))
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan parent: %w", err)
		}
		found[id] = true
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	var missing []string
	for _, id := range ids {
		if !found[id] {
			missing = append(missing, id)
		}
	}
	return missing, nil
}

func (r *IndividualRepo) list(ctx context.Context, q Querier, query string, args ...any) ([]domain.Individual, error) {
	rows, err := q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list individuals: %w", err)
	}
	defer rows.Close()

	inds := []domain.Individual{}
	for rows.Next() {
		ind, err := scanIndividual(rows)
		if err != nil {
			return nil, fmt.Errorf("scan individual: %w", err)
		}
		inds = append(inds, *ind)
	}
	return inds, rows.Err()
}

func scanIndividual(row rowScanner) (*domain.Individual, error) {
	var ind domain.Individual
	var parents, tests, meta string
	var createdAt int64
	if err := row.Scan(&ind.ID, &ind.RunID, &ind.Generation, &ind.Code, &ind.Fitness,
		&parents, &tests, &meta, &createdAt); err != nil {
		return nil, err
	}
	if err := unmarshalColumn(parents, &ind.ParentIDs); err != nil {
		return nil, fmt.Errorf("decode parents: %w", err)
	}
	if err := unmarshalColumn(tests, &ind.TestResults); err != nil {
		return nil, fmt.Errorf("decode test results: %w", err)
	}
	if err := unmarshalColumn(meta, &ind.Metadata); err != nil {
		return nil, fmt.Errorf("decode metadata: %w", err)
	}
	ind.ParentIDs = nonNilTags(ind.ParentIDs)
	ind.CreatedAt = fromMillis(createdAt)
	return &ind, nil
}

func prefixColumns(prefix, columns string) string {
	parts := strings.Split(columns, ",")
	for i, p := range parts {
		parts[i] = prefix + strings.TrimSpace(p)
	}
	return strings.Join(parts, ", ")
}
