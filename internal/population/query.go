// Package population exposes read-only views over runs and their individuals.
// Every method is a pure read and is safe to call concurrently.
package population

import (
	"context"
	"database/sql"

	"github.com/evolab/evolab/internal/domain"
	"github.com/evolab/evolab/internal/store"
)

// recentProblemCount bounds DashboardSummary.RecentProblems.
const recentProblemCount = 5

// Query answers population and metrics reads.
type Query struct {
	db          *sql.DB
	problems    *store.ProblemRepo
	runs        *store.RunRepo
	individuals *store.IndividualRepo
	metrics     *store.MetricsRepo
	logs        *store.LogRepo
	snapshots   *store.SnapshotRepo
}

// NewQuery creates a Query over db.
func NewQuery(db *sql.DB) *Query {
	return &Query{
		db:          db,
		problems:    &store.ProblemRepo{},
		runs:        &store.RunRepo{},
		individuals: &store.IndividualRepo{},
		metrics:     &store.MetricsRepo{},
		logs:        &store.LogRepo{},
		snapshots:   &store.SnapshotRepo{},
	}
}

// IndividualsByGeneration returns one generation of a run, fitness descending
// with ties by id. An unknown run or generation yields an empty slice.
func (q *Query) IndividualsByGeneration(ctx context.Context, runID string, generation int) ([]domain.Individual, error) {
	if generation < 0 {
		return nil, domain.Validationf("generation must be non-negative, got %d", generation)
	}
	return q.individuals.ListByGeneration(ctx, q.db, runID, generation)
}

// BestIndividual returns the run's best individual, or nil if none is recorded yet.
func (q *Query) BestIndividual(ctx context.Context, runID string) (*domain.Individual, error) {
	return q.individuals.BestOfRun(ctx, q.db, runID)
}

// RunMetrics returns the per-generation metrics ordered by generation.
func (q *Query) RunMetrics(ctx context.Context, runID string) ([]domain.EvolutionMetrics, error) {
	return q.metrics.ListByRun(ctx, q.db, runID)
}

// RunLogs returns log entries after sinceSeq ordered by timestamp.
func (q *Query) RunLogs(ctx context.Context, runID string, sinceSeq int64) ([]domain.LogEntry, error) {
	return q.logs.ListByRun(ctx, q.db, runID, sinceSeq)
}

// Individual returns one individual.
func (q *Query) Individual(ctx context.Context, id string) (*domain.Individual, error) {
	return q.individuals.GetByID(ctx, q.db, id)
}

// Lineage returns the individual and its first-parent ancestors, nearest first.
func (q *Query) Lineage(ctx context.Context, id string) ([]domain.Individual, error) {
	return q.individuals.Lineage(ctx, q.db, id)
}

// Snapshots returns the run's status snapshots in transition order.
func (q *Query) Snapshots(ctx context.Context, runID string) ([]domain.StatusSnapshot, error) {
	return q.snapshots.ListByRun(ctx, q.db, runID)
}

// Run returns one run.
func (q *Query) Run(ctx context.Context, runID string) (*domain.EvolutionRun, error) {
	return q.runs.GetByID(ctx, q.db, runID)
}

// Runs lists runs matching f.
func (q *Query) Runs(ctx context.Context, f store.RunFilter) ([]domain.EvolutionRun, error) {
	return q.runs.List(ctx, q.db, f)
}

// Dashboard aggregates catalog and run totals. SuccessRate is the share of
// completed runs whose best fitness reached 1.0, and 0 when none completed.
func (q *Query) Dashboard(ctx context.Context) (domain.DashboardSummary, error) {
	stats, err := q.runs.Stats(ctx, q.db)
	if err != nil {
		return domain.DashboardSummary{}, err
	}
	problems, err := q.problems.List(ctx, q.db)
	if err != nil {
		return domain.DashboardSummary{}, err
	}
	if len(problems) > recentProblemCount {
		problems = problems[:recentProblemCount]
	}

	summary := domain.DashboardSummary{
		TotalProblems:  stats.Problems,
		TotalRuns:      stats.Total,
		ActiveRuns:     stats.Active,
		CompletedRuns:  stats.Completed,
		RecentProblems: problems,
	}
	if stats.Completed > 0 {
		summary.SuccessRate = float64(stats.Successful) / float64(stats.Completed)
	}
	return summary, nil
}
