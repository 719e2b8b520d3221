package workflow

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/evolab/evolab/internal/domain"
	"github.com/evolab/evolab/internal/fitness"
)

// RecordGeneration applies an engine's generation report to a running run.
// The report's generation must be the next unrecorded one; the first report
// is generation 0, the initial population.
func (c *Controller) RecordGeneration(ctx context.Context, runID string, report domain.GenerationReport) (*domain.EvolutionRun, error) {
	return c.runTransition(ctx, runID, domain.TriggerGeneration, func(run domain.EvolutionRun, now time.Time) (*transition, error) {
		if run.Status.State != domain.StateRunning {
			return nil, domain.InvalidStatef("cannot record generation for run %s in state %s", run.ID, run.Status.State)
		}
		return c.planGeneration(ctx, run, report, now)
	})
}

func (c *Controller) planGeneration(ctx context.Context, run domain.EvolutionRun, report domain.GenerationReport, now time.Time) (*transition, error) {
	g := report.Generation
	if g != run.GenerationsRecorded {
		return nil, domain.Validationf("generation %d out of order: run %s expects generation %d", g, run.ID, run.GenerationsRecorded)
	}
	if len(report.Individuals) == 0 {
		return nil, domain.Validationf("generation %d has no individuals", g)
	}
	if report.APICalls < 0 || report.ElapsedMs < 0 {
		return nil, domain.Validationf("generation %d reports negative usage", g)
	}

	individuals, err := c.prepareIndividuals(ctx, run, g, report.Individuals, now)
	if err != nil {
		return nil, err
	}

	summary := fitness.Summarize(individuals)
	generationBest, _ := fitness.Fittest(individuals)

	next := run
	next.Status.CurrentGeneration = g
	next.Status.BestFitness = summary.BestFitness
	next.Status.AverageFitness = summary.AverageFitness
	next.Status.DiversityIndex = summary.DiversityIndex
	next.Status.ElapsedTimeMs += report.ElapsedMs
	next.Status.APICallsMade += report.APICalls
	next.GenerationsRecorded = g + 1

	next.BestIndividualID = generationBest.ID
	if run.BestIndividualID != "" {
		current, err := c.Individuals.GetByID(ctx, c.DB, run.BestIndividualID)
		if err != nil {
			return nil, err
		}
		if !fitness.Fitter(generationBest, *current) {
			next.BestIndividualID = current.ID
		}
	}

	generation := g
	t := &transition{
		next:        next,
		trigger:     domain.TriggerGeneration,
		individuals: individuals,
		metrics: &domain.EvolutionMetrics{
			RunID:            run.ID,
			Generation:       g,
			BestFitness:      summary.BestFitness,
			AverageFitness:   summary.AverageFitness,
			DiversityIndex:   summary.DiversityIndex,
			TotalIndividuals: summary.Count,
			APICallsMade:     next.Status.APICallsMade,
			Timestamp:        now,
		},
	}
	for _, entry := range report.Logs {
		entry, err := c.prepareLog(run.ID, entry, &generation, now)
		if err != nil {
			return nil, err
		}
		t.logs = append(t.logs, entry)
	}
	t.logs = append(t.logs, c.logEntry(run.ID, domain.LogInfo, now,
		fmt.Sprintf("Generation %d: best fitness %.2f, average %.2f", g, summary.BestFitness, summary.AverageFitness),
		fmt.Sprintf("%d individuals, diversity %.2f", summary.Count, summary.DiversityIndex), &generation))

	for _, gate := range c.Gates {
		decision := gate.Evaluate(next, summary)
		if !decision.Complete {
			continue
		}
		t.next.Status.State = domain.StateCompleted
		t.next.CompletedAt = &now
		t.trigger = domain.TriggerCompleted
		t.clearSession = true
		t.logs = append(t.logs, c.logEntry(run.ID, domain.LogSuccess, now, "Evolution completed", decision.Reason, &generation))
		return t, nil
	}

	switch c.Governor.Evaluate(run.Status.APICallsMade, next.Status.APICallsMade) {
	case UsageWarn:
		t.logs = append(t.logs, c.logEntry(run.ID, domain.LogWarning, now, "API call budget nearly exhausted",
			fmt.Sprintf("%d of %d calls used", next.Status.APICallsMade, c.Governor.MaxCalls), &generation))
	case UsageHalt:
		return c.fail(t, now, domain.ErrAPIBudgetExhausted.Message), nil
	}
	return t, nil
}

// prepareIndividuals validates and stamps the individuals of generation g.
func (c *Controller) prepareIndividuals(ctx context.Context, run domain.EvolutionRun, g int, in []domain.Individual, now time.Time) ([]domain.Individual, error) {
	out := make([]domain.Individual, 0, len(in))
	seen := make(map[string]bool, len(in))
	var parents []string
	parentSeen := make(map[string]bool)

	for i, ind := range in {
		if ind.Generation != g {
			return nil, domain.Validationf("individual %d is tagged generation %d, want %d", i, ind.Generation, g)
		}
		if g == 0 && len(ind.ParentIDs) > 0 {
			return nil, domain.Validationf("individual %d of the initial population has parents", i)
		}
		if g > 0 && len(ind.ParentIDs) == 0 {
			return nil, domain.Validationf("individual %d of generation %d has no parents", i, g)
		}
		if strings.TrimSpace(ind.Code) == "" {
			return nil, domain.Validationf("individual %d has no code", i)
		}
		if err := checkMetadata(i, ind.Metadata); err != nil {
			return nil, err
		}
		for j, r := range ind.TestResults {
			if r.Passed && r.Error != "" {
				return nil, domain.Validationf("individual %d test %d passed but carries an error", i, j)
			}
			if r.ExecutionTimeMs != nil && *r.ExecutionTimeMs < 0 {
				return nil, domain.Validationf("individual %d test %d has negative execution time", i, j)
			}
		}

		if score, ok := fitness.Score(ind.TestResults); ok {
			ind.Fitness = score
		} else if ind.Fitness < 0 || ind.Fitness > 1 {
			return nil, domain.Validationf("individual %d fitness %.3f outside [0,1]", i, ind.Fitness)
		}

		if ind.ID == "" {
			ind.ID = "ind-" + uuid.NewString()
		}
		if seen[ind.ID] {
			return nil, domain.Validationf("duplicate individual id %s", ind.ID)
		}
		seen[ind.ID] = true
		for k := range ind.TestResults {
			if ind.TestResults[k].ID == "" {
				ind.TestResults[k].ID = fmt.Sprintf("%s-t%d", ind.ID, k+1)
			}
		}
		ind.RunID = run.ID
		ind.CreatedAt = now
		if ind.ParentIDs == nil {
			ind.ParentIDs = []string{}
		}
		for _, p := range ind.ParentIDs {
			if !parentSeen[p] {
				parentSeen[p] = true
				parents = append(parents, p)
			}
		}
		out = append(out, ind)
	}

	missing, err := c.Individuals.MissingFromRun(ctx, c.DB, run.ID, parents)
	if err != nil {
		return nil, domain.WrapError(domain.ErrStoreQuery.Code, "check parents", err)
	}
	if len(missing) > 0 {
		return nil, domain.Validationf("parents not in run %s: %s", run.ID, strings.Join(missing, ", "))
	}
	return out, nil
}

func checkMetadata(i int, m domain.IndividualMetadata) error {
	if m.ExecutionTimeMs < 0 || m.CodeSize < 0 {
		return domain.Validationf("individual %d has negative metadata", i)
	}
	if m.Complexity < 0 || m.Complexity > 1 {
		return domain.Validationf("individual %d complexity %.3f outside [0,1]", i, m.Complexity)
	}
	return nil
}

func (c *Controller) prepareLog(runID string, entry domain.LogEntry, generation *int, now time.Time) (domain.LogEntry, error) {
	switch entry.Type {
	case "":
		entry.Type = domain.LogInfo
	case domain.LogInfo, domain.LogWarning, domain.LogError, domain.LogSuccess:
	default:
		return entry, domain.Validationf("unknown log type %q", entry.Type)
	}
	if entry.Message == "" {
		return entry, domain.Validationf("log entry has no message")
	}
	entry.ID = uuid.NewString()
	entry.RunID = runID
	entry.Timestamp = now
	if entry.Generation == nil {
		entry.Generation = generation
	}
	return entry, nil
}
