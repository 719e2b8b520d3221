package engine

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"strings"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/evolab/evolab/internal/domain"
)

type fakeCoder struct {
	calls   atomic.Int64
	fixed   string
	mu      sync.Mutex
	prompts []string
	err     error
}

func (c *fakeCoder) Complete(_ context.Context, req CompletionRequest) (string, error) {
	n := c.calls.Add(1)
	c.mu.Lock()
	c.prompts = append(c.prompts, req.Prompt)
	c.mu.Unlock()
	if c.err != nil {
		return "", c.err
	}
	if strings.Contains(req.Prompt, "Problematic Code") {
		return "```python\n" + c.fixed + "\n```", nil
	}
	return fmt.Sprintf("Here you go:\n```python\ndef solve(x):\n    return %d\n```\n", n), nil
}

// passEvaluator passes every test for code containing "ok" and half otherwise.
type passEvaluator struct{}

func (passEvaluator) Evaluate(_ context.Context, p domain.Problem, code string) ([]domain.TestResult, error) {
	results := make([]domain.TestResult, len(p.TestCases))
	for i, tc := range p.TestCases {
		passed := strings.Contains(code, "ok") || i%2 == 0
		results[i] = domain.TestResult{Passed: passed, Input: tc.Input, ExpectedOutput: tc.ExpectedOutput}
		if !passed {
			results[i].Error = "wrong answer"
		}
	}
	return results, nil
}

func testProblem() domain.Problem {
	return domain.Problem{
		ID:                "prob-1",
		Description:       "Sort an array",
		FunctionSignature: "def solve(x):",
		TestCases: []domain.TestCase{
			{Input: "[2, 1]", ExpectedOutput: "[1, 2]"},
			{Input: "[3, 1, 2]", ExpectedOutput: "[1, 2, 3]"},
		},
	}
}

func testEvolver(coder Coder) *Evolver {
	e := NewEvolver(coder, passEvaluator{}, nil)
	e.NewRand = func() *rand.Rand { return rand.New(rand.NewSource(7)) }
	return e
}

func stepRun(params domain.EvolutionParameters) domain.EvolutionRun {
	return domain.EvolutionRun{ID: "run-1", ProblemID: "prob-1", Parameters: params}
}

func TestEvolver_InitialGeneration(t *testing.T) {
	coder := &fakeCoder{fixed: "def solve(x):\n    return 'still wrong'"}
	params := domain.DefaultParameters()
	params.PopulationSize = 6

	report, err := testEvolver(coder).Step(context.Background(), StepRequest{
		Run: stepRun(params), Problem: testProblem(), Generation: 0,
	})
	require.NoError(t, err)

	require.Len(t, report.Individuals, 6)
	for _, ind := range report.Individuals {
		assert.Equal(t, 0, ind.Generation)
		assert.Empty(t, ind.ParentIDs)
		assert.InDelta(t, 0.5, ind.Fitness, 1e-9)
		assert.Equal(t, len(ind.Code), ind.Metadata.CodeSize)
		assert.True(t, strings.HasPrefix(ind.Code, "def solve"))
	}
	// One generation call plus one correction per imperfect offspring.
	assert.Equal(t, 12, report.APICalls)
	assert.Equal(t, int64(12), coder.calls.Load())
	assert.Empty(t, report.Logs)
}

func TestEvolver_CorrectionKeptOnlyWhenBetter(t *testing.T) {
	coder := &fakeCoder{fixed: "def solve(x):\n    return sorted(x)  # ok"}
	params := domain.DefaultParameters()
	params.PopulationSize = 3

	report, err := testEvolver(coder).Step(context.Background(), StepRequest{
		Run: stepRun(params), Problem: testProblem(), Generation: 0,
	})
	require.NoError(t, err)
	for _, ind := range report.Individuals {
		assert.Equal(t, 1.0, ind.Fitness)
		assert.Contains(t, ind.Code, "sorted")
	}
	require.Len(t, report.Logs, 3)
	assert.Equal(t, "Correction improved fitness", report.Logs[0].Message)
}

func TestEvolver_NoCorrectionWhenDisabled(t *testing.T) {
	coder := &fakeCoder{}
	params := domain.DefaultParameters()
	params.PopulationSize = 4
	params.UseCorrection = false

	report, err := testEvolver(coder).Step(context.Background(), StepRequest{
		Run: stepRun(params), Problem: testProblem(), Generation: 0,
	})
	require.NoError(t, err)
	assert.Equal(t, 4, report.APICalls)
}

func TestEvolver_LaterGenerationBreedsParents(t *testing.T) {
	coder := &fakeCoder{}
	params := domain.DefaultParameters()
	params.PopulationSize = 4
	params.UseCorrection = false
	params.Selection = domain.Elite(2)

	population := []domain.Individual{
		{ID: "ind-a", Code: "a", Fitness: 0.9},
		{ID: "ind-b", Code: "b", Fitness: 0.8},
		{ID: "ind-c", Code: "c", Fitness: 0.1},
		{ID: "ind-d", Code: "d", Fitness: 0.0},
	}
	report, err := testEvolver(coder).Step(context.Background(), StepRequest{
		Run: stepRun(params), Problem: testProblem(), Generation: 3, Population: population,
	})
	require.NoError(t, err)

	require.Len(t, report.Individuals, 4)
	for _, ind := range report.Individuals {
		assert.Equal(t, 3, ind.Generation)
		require.NotEmpty(t, ind.ParentIDs)
		for _, p := range ind.ParentIDs {
			assert.Contains(t, []string{"ind-a", "ind-b"}, p)
		}
	}
	for _, prompt := range coder.prompts {
		assert.Contains(t, prompt, "Parent Program 1")
	}
}

func TestEvolver_Errors(t *testing.T) {
	params := domain.DefaultParameters()
	params.PopulationSize = 2

	_, err := testEvolver(&fakeCoder{}).Step(context.Background(), StepRequest{
		Run: stepRun(params), Problem: testProblem(), Generation: 1,
	})
	assert.ErrorIs(t, err, domain.ErrValidation)

	boom := errors.New("model unavailable")
	_, err = testEvolver(&fakeCoder{err: boom}).Step(context.Background(), StepRequest{
		Run: stepRun(params), Problem: testProblem(), Generation: 0,
	})
	assert.ErrorIs(t, err, boom)
}

func TestComplexity(t *testing.T) {
	assert.Equal(t, 0.0, complexity("return x"))
	assert.InDelta(t, 0.1, complexity("if a and b:\n    return 1"), 1e-9)
	assert.Equal(t, 1.0, complexity(strings.Repeat("if x: pass\n", 40)))
}
