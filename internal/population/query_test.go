package population

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/evolab/evolab/internal/domain"
	"github.com/evolab/evolab/internal/store"
	"github.com/evolab/evolab/internal/workflow"
)

type fixture struct {
	ctrl  *workflow.Controller
	query *Query
}

func newFixture(t *testing.T) fixture {
	t.Helper()
	db, err := store.NewDB(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	tx, err := db.Begin()
	require.NoError(t, err)
	require.NoError(t, (&store.ProblemRepo{}).CreateTx(context.Background(), tx, domain.Problem{
		ID:                "prob-1",
		Title:             "Sort Array",
		FunctionSignature: "def sort_array(arr):",
		TestCases:         []domain.TestCase{{Input: "[2, 1]", ExpectedOutput: "[1, 2]"}},
		Difficulty:        domain.DifficultyEasy,
		CreatedAt:         time.Now(),
	}))
	require.NoError(t, tx.Commit())

	return fixture{ctrl: workflow.NewController(db, nil, nil), query: NewQuery(db)}
}

func scored(gen int, code string, fitness float64, parents ...string) domain.Individual {
	return domain.Individual{Code: code, Generation: gen, Fitness: fitness, ParentIDs: parents}
}

func TestIndividualsByGeneration(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	params := domain.DefaultParameters()
	run, err := f.ctrl.Start(ctx, "sess-1", "prob-1", params)
	require.NoError(t, err)

	_, err = f.ctrl.RecordGeneration(ctx, run.ID, domain.GenerationReport{
		Generation: 0,
		Individuals: []domain.Individual{
			scored(0, "a", 0.2), scored(0, "b", 0.8), scored(0, "c", 0.8), scored(0, "d", 0.5),
		},
	})
	require.NoError(t, err)

	gen0, err := f.query.IndividualsByGeneration(ctx, run.ID, 0)
	require.NoError(t, err)
	require.Len(t, gen0, 4)
	for i, ind := range gen0 {
		assert.Equal(t, 0, ind.Generation)
		if i > 0 {
			prev := gen0[i-1]
			assert.True(t, prev.Fitness > ind.Fitness || (prev.Fitness == ind.Fitness && prev.ID < ind.ID),
				"order broken at %d", i)
		}
	}

	again, err := f.query.IndividualsByGeneration(ctx, run.ID, 0)
	require.NoError(t, err)
	assert.Equal(t, gen0, again)

	empty, err := f.query.IndividualsByGeneration(ctx, run.ID, 3)
	require.NoError(t, err)
	assert.Empty(t, empty)

	_, err = f.query.IndividualsByGeneration(ctx, run.ID, -1)
	assert.ErrorIs(t, err, domain.ErrValidation)
}

func TestBestIndividualAndLineage(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	run, err := f.ctrl.Start(ctx, "sess-1", "prob-1", domain.DefaultParameters())
	require.NoError(t, err)

	best, err := f.query.BestIndividual(ctx, run.ID)
	require.NoError(t, err)
	assert.Nil(t, best)

	root := scored(0, "root", 0.4)
	root.ID = "ind-root"
	_, err = f.ctrl.RecordGeneration(ctx, run.ID, domain.GenerationReport{
		Generation: 0, Individuals: []domain.Individual{root},
	})
	require.NoError(t, err)

	child := scored(1, "child", 0.9, "ind-root")
	child.ID = "ind-child"
	_, err = f.ctrl.RecordGeneration(ctx, run.ID, domain.GenerationReport{
		Generation: 1, Individuals: []domain.Individual{child},
	})
	require.NoError(t, err)

	best, err = f.query.BestIndividual(ctx, run.ID)
	require.NoError(t, err)
	require.NotNil(t, best)
	assert.Equal(t, "ind-child", best.ID)

	lineage, err := f.query.Lineage(ctx, "ind-child")
	require.NoError(t, err)
	require.Len(t, lineage, 2)
	assert.Equal(t, "ind-root", lineage[1].ID)

	_, err = f.query.Individual(ctx, "ind-missing")
	assert.ErrorIs(t, err, domain.ErrIndividualNotFound)
}

func TestRunMetricsLogsAndSnapshots(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	run, err := f.ctrl.Start(ctx, "sess-1", "prob-1", domain.DefaultParameters())
	require.NoError(t, err)
	_, err = f.ctrl.RecordGeneration(ctx, run.ID, domain.GenerationReport{
		Generation:  0,
		Individuals: []domain.Individual{scored(0, "a", 0.5)},
		APICalls:    1,
		Logs:        []domain.LogEntry{{Type: domain.LogInfo, Message: "seeded population"}},
	})
	require.NoError(t, err)
	_, err = f.ctrl.Pause(ctx, "sess-1")
	require.NoError(t, err)

	metrics, err := f.query.RunMetrics(ctx, run.ID)
	require.NoError(t, err)
	require.Len(t, metrics, 1)
	assert.Equal(t, 0.5, metrics[0].BestFitness)
	assert.Equal(t, 1, metrics[0].APICallsMade)

	logs, err := f.query.RunLogs(ctx, run.ID, 0)
	require.NoError(t, err)
	require.NotEmpty(t, logs)
	for i := 1; i < len(logs); i++ {
		assert.False(t, logs[i].Timestamp.Before(logs[i-1].Timestamp))
	}
	var messages []string
	for _, l := range logs {
		messages = append(messages, l.Message)
	}
	assert.Contains(t, messages, "seeded population")

	snaps, err := f.query.Snapshots(ctx, run.ID)
	require.NoError(t, err)
	var triggers []domain.Trigger
	for _, s := range snaps {
		triggers = append(triggers, s.Trigger)
		assert.Len(t, s.Checksum, 64)
	}
	assert.Equal(t, []domain.Trigger{domain.TriggerStarted, domain.TriggerGeneration, domain.TriggerPaused}, triggers)
}

func TestDashboard(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	empty, err := f.query.Dashboard(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, empty.TotalProblems)
	assert.Equal(t, 0.0, empty.SuccessRate)

	// One solved run, one stopped run, one active run.
	solved, err := f.ctrl.Start(ctx, "sess-1", "prob-1", domain.DefaultParameters())
	require.NoError(t, err)
	_, err = f.ctrl.RecordGeneration(ctx, solved.ID, domain.GenerationReport{
		Generation: 0, Individuals: []domain.Individual{scored(0, "ok", 1.0)},
	})
	require.NoError(t, err)

	_, err = f.ctrl.Start(ctx, "sess-1", "prob-1", domain.DefaultParameters())
	require.NoError(t, err)
	_, err = f.ctrl.Stop(ctx, "sess-1")
	require.NoError(t, err)

	_, err = f.ctrl.Start(ctx, "sess-2", "prob-1", domain.DefaultParameters())
	require.NoError(t, err)

	summary, err := f.query.Dashboard(ctx)
	require.NoError(t, err)
	assert.Equal(t, 3, summary.TotalRuns)
	assert.Equal(t, 1, summary.ActiveRuns)
	assert.Equal(t, 2, summary.CompletedRuns)
	assert.InDelta(t, 0.5, summary.SuccessRate, 1e-9)
	require.Len(t, summary.RecentProblems, 1)
	assert.Equal(t, "prob-1", summary.RecentProblems[0].ID)

	runs, err := f.query.Runs(ctx, store.RunFilter{SessionID: "sess-1"})
	require.NoError(t, err)
	assert.Len(t, runs, 2)
}
