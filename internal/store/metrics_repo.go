package store

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/evolab/evolab/internal/domain"
)

// MetricsRepo handles persistence for per-generation EvolutionMetrics.
type MetricsRepo struct{}

// InsertTx records the metrics of one generation. A second record for the same
// run and generation is rejected by the primary key.
func (r *MetricsRepo) InsertTx(ctx context.Context, tx *sql.Tx, m domain.EvolutionMetrics) error {
	const q = `INSERT INTO evolution_metrics (run_id, generation, best_fitness, average_fitness, diversity_index, total_individuals, api_calls, created_at)
VALUES (?, ?, ?, ?, ?, ?, ?, ?)`
	_, err := tx.ExecContext(ctx, q,
		m.RunID,
		m.Generation,
		m.BestFitness,
		m.AverageFitness,
		m.DiversityIndex,
		m.TotalIndividuals,
		m.APICallsMade,
		toMillis(m.Timestamp),
	)
	if err != nil {
		return fmt.Errorf("insert metrics: %w", err)
	}
	return nil
}

// ListByRun returns a run's metrics ordered by generation.
func (r *MetricsRepo) ListByRun(ctx context.Context, q Querier, runID string) ([]domain.EvolutionMetrics, error) {
	const query = `SELECT run_id, generation, best_fitness, average_fitness, diversity_index, total_individuals, api_calls, created_at
FROM evolution_metrics
WHERE run_id = ?
ORDER BY generation ASC`

	rows, err := q.QueryContext(ctx, query, runID)
	if err != nil {
		return nil, fmt.Errorf("list metrics: %w", err)
	}
	defer rows.Close()

	metrics := []domain.EvolutionMetrics{}
	for rows.Next() {
		var m domain.EvolutionMetrics
		var ts int64
		if err := rows.Scan(&m.RunID, &m.Generation, &m.BestFitness, &m.AverageFitness,
			&m.DiversityIndex, &m.TotalIndividuals, &m.APICallsMade, &ts); err != nil {
			return nil, fmt.Errorf("scan metrics: %w", err)
		}
		m.Timestamp = fromMillis(ts)
		metrics = append(metrics, m)
	}
	return metrics, rows.Err()
}
