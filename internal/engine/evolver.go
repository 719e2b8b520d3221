package engine

import (
	"context"
	"fmt"
	"log/slog"
	"math/rand"
	"regexp"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/evolab/evolab/internal/domain"
	"github.com/evolab/evolab/internal/fitness"
	"github.com/evolab/evolab/internal/selection"
)

const (
	defaultParallelism = 4
	parentsPerOffspring = 2
	// diversityHint is the diversity weight above which offspring prompts ask
	// for a different approach than the parents.
	diversityHint = 0.5
)

// Evolver is the reference Engine. Generation 0 is generated from the problem
// alone; later generations breed two selected parents per slot. With
// useCorrection set, an imperfect offspring gets one correction attempt that
// is kept only if it scores higher.
type Evolver struct {
	Coder     Coder
	Evaluator Evaluator
	// Parallelism bounds concurrent offspring per step.
	Parallelism int
	NewRand     func() *rand.Rand
	Logger      *slog.Logger
}

// NewEvolver creates an Evolver with default parallelism.
func NewEvolver(coder Coder, evaluator Evaluator, logger *slog.Logger) *Evolver {
	if logger == nil {
		logger = slog.Default()
	}
	return &Evolver{
		Coder:       coder,
		Evaluator:   evaluator,
		Parallelism: defaultParallelism,
		NewRand: func() *rand.Rand {
			return rand.New(rand.NewSource(time.Now().UnixNano()))
		},
		Logger: logger,
	}
}

type offspringResult struct {
	individual domain.Individual
	apiCalls   int
	log        *domain.LogEntry
}

// Step implements Engine.
func (e *Evolver) Step(ctx context.Context, req StepRequest) (domain.GenerationReport, error) {
	start := time.Now()
	params := req.Run.Parameters
	n := params.PopulationSize
	if n <= 0 {
		return domain.GenerationReport{}, domain.Validationf("population size must be positive, got %d", n)
	}

	parents, err := e.pickParents(req, n)
	if err != nil {
		return domain.GenerationReport{}, err
	}

	results := make([]offspringResult, n)
	g, gctx := errgroup.WithContext(ctx)
	limit := e.Parallelism
	if limit <= 0 {
		limit = defaultParallelism
	}
	g.SetLimit(limit)
	for i := range results {
		g.Go(func() error {
			res, err := e.offspring(gctx, req, parents[i])
			if err != nil {
				return fmt.Errorf("offspring %d: %w", i, err)
			}
			results[i] = res
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return domain.GenerationReport{}, err
	}

	report := domain.GenerationReport{
		Generation:  req.Generation,
		Individuals: make([]domain.Individual, 0, n),
	}
	for _, res := range results {
		report.Individuals = append(report.Individuals, res.individual)
		report.APICalls += res.apiCalls
		if res.log != nil {
			report.Logs = append(report.Logs, *res.log)
		}
	}
	report.ElapsedMs = time.Since(start).Milliseconds()
	e.Logger.Debug("generation produced", "run_id", req.Run.ID, "generation", req.Generation,
		"individuals", len(report.Individuals), "api_calls", report.APICalls)
	return report, nil
}

// pickParents selects the parents of each offspring slot. Selection happens
// up front because the random source is not safe for concurrent use.
func (e *Evolver) pickParents(req StepRequest, n int) ([][]domain.Individual, error) {
	slots := make([][]domain.Individual, n)
	if req.Generation == 0 {
		return slots, nil
	}
	if len(req.Population) == 0 {
		return nil, domain.Validationf("generation %d needs a parent population", req.Generation)
	}
	selector, err := selection.For(req.Run.Parameters.Selection)
	if err != nil {
		return nil, err
	}
	rng := e.NewRand()
	for i := range slots {
		picked, err := selector.Pick(rng, req.Population, parentsPerOffspring)
		if err != nil {
			return nil, fmt.Errorf("%s selection: %w", selector.Name(), err)
		}
		slots[i] = picked
	}
	return slots, nil
}

func (e *Evolver) offspring(ctx context.Context, req StepRequest, parents []domain.Individual) (offspringResult, error) {
	params := req.Run.Parameters
	prompt := InitialPrompt(req.Problem)
	if len(parents) > 0 {
		prompt = EvolvePrompt(req.Problem, parents)
		if params.DiversityWeight > diversityHint {
			prompt += "Prefer an approach that differs from the parents.\n"
		}
	}

	completion, err := e.Coder.Complete(ctx, CompletionRequest{Prompt: prompt, Model: params.Model, Temperature: params.Temperature})
	if err != nil {
		return offspringResult{}, err
	}
	res := offspringResult{apiCalls: 1}
	code := ExtractCode(completion)
	if code == "" {
		return offspringResult{}, domain.WrapError(domain.ErrEngineInvalidResponse.Code, "coder returned no code", nil)
	}

	tests, err := e.Evaluator.Evaluate(ctx, req.Problem, code)
	if err != nil {
		return offspringResult{}, err
	}
	score, _ := fitness.Score(tests)

	if params.UseCorrection && score < 1.0 {
		res.apiCalls++
		fixed, err := e.Coder.Complete(ctx, CompletionRequest{
			Prompt:      CorrectionPrompt(req.Problem, code, tests),
			Model:       params.Model,
			Temperature: params.Temperature,
		})
		if err != nil {
			return offspringResult{}, err
		}
		if fixedCode := ExtractCode(fixed); fixedCode != "" && fixedCode != code {
			fixedTests, err := e.Evaluator.Evaluate(ctx, req.Problem, fixedCode)
			if err != nil {
				return offspringResult{}, err
			}
			if fixedScore, _ := fitness.Score(fixedTests); fixedScore > score {
				res.log = &domain.LogEntry{
					Type:    domain.LogInfo,
					Message: "Correction improved fitness",
					Details: fmt.Sprintf("%.2f -> %.2f", score, fixedScore),
				}
				code, tests, score = fixedCode, fixedTests, fixedScore
			}
		}
	}

	res.individual = domain.Individual{
		Code:        code,
		Fitness:     score,
		Generation:  req.Generation,
		ParentIDs:   parentIDs(parents),
		TestResults: tests,
		Metadata: domain.IndividualMetadata{
			ExecutionTimeMs: totalExecutionMs(tests),
			CodeSize:        len(code),
			Complexity:      complexity(code),
		},
	}
	return res, nil
}

func parentIDs(parents []domain.Individual) []string {
	ids := make([]string, 0, len(parents))
	seen := make(map[string]bool, len(parents))
	for _, p := range parents {
		if !seen[p.ID] {
			seen[p.ID] = true
			ids = append(ids, p.ID)
		}
	}
	return ids
}

func totalExecutionMs(tests []domain.TestResult) float64 {
	var total float64
	for _, t := range tests {
		if t.ExecutionTimeMs != nil {
			total += *t.ExecutionTimeMs
		}
	}
	return total
}

var branchKeyword = regexp.MustCompile(`\b(if|elif|for|while|except|and|or|case)\b`)

// complexityScale is the branch count that maps to complexity 1.
const complexityScale = 20.0

// complexity estimates cyclomatic complexity from branch keywords, scaled to [0,1].
func complexity(code string) float64 {
	n := float64(len(branchKeyword.FindAllStringIndex(code, -1)))
	return min(n/complexityScale, 1)
}
