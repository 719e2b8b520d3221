// Package engine drives evolution runs: it defines the contract an evolution
// engine satisfies, a reference engine built on a code generator and an
// evaluator, subprocess adapters for both, and a Runner that advances running
// runs in the background.
package engine

import (
	"context"

	"github.com/evolab/evolab/internal/domain"
)

// StepRequest is the input of one generation step.
type StepRequest struct {
	Run     domain.EvolutionRun
	Problem domain.Problem
	// Generation is the generation to produce. Population holds the previous
	// generation and is empty for generation 0.
	Generation int
	Population []domain.Individual
}

// Engine produces one generation per Step. Step must return promptly once ctx
// is canceled; a canceled step's report is discarded.
type Engine interface {
	Step(ctx context.Context, req StepRequest) (domain.GenerationReport, error)
}

// EngineFunc adapts a function to Engine.
type EngineFunc func(ctx context.Context, req StepRequest) (domain.GenerationReport, error)

// Step calls f.
func (f EngineFunc) Step(ctx context.Context, req StepRequest) (domain.GenerationReport, error) {
	return f(ctx, req)
}

// CompletionRequest asks a Coder for program text.
type CompletionRequest struct {
	Prompt      string       `json:"prompt"`
	Model       domain.Model `json:"model"`
	Temperature float64      `json:"temperature"`
}

// Coder turns a prompt into a program.
type Coder interface {
	Complete(ctx context.Context, req CompletionRequest) (string, error)
}

// Evaluator runs a program against a problem's test cases.
type Evaluator interface {
	Evaluate(ctx context.Context, problem domain.Problem, code string) ([]domain.TestResult, error)
}
