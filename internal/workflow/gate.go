// Package workflow implements the evolution run state machine.
package workflow

import (
	"fmt"

	"github.com/evolab/evolab/internal/domain"
	"github.com/evolab/evolab/internal/fitness"
)

// GateDecision reports whether a run is complete after a generation.
type GateDecision struct {
	Complete bool
	Reason   string
}

// Gate evaluates whether a running run may stop after the generation it just recorded.
type Gate interface {
	Name() string
	Evaluate(run domain.EvolutionRun, generation fitness.Summary) GateDecision
}

// TargetFitnessGate completes a run once a generation reaches the target fitness.
type TargetFitnessGate struct{}

// Name returns the gate name.
func (TargetFitnessGate) Name() string {
	return "target_fitness"
}

// Evaluate checks the generation's best fitness against the run's target.
func (TargetFitnessGate) Evaluate(run domain.EvolutionRun, generation fitness.Summary) GateDecision {
	target := run.Parameters.TargetFitness
	if generation.BestFitness >= target {
		return GateDecision{
			Complete: true,
			Reason:   fmt.Sprintf("target fitness %.2f reached (best %.2f)", target, generation.BestFitness),
		}
	}
	return GateDecision{}
}

// GenerationLimitGate completes a run after its last allowed generation.
type GenerationLimitGate struct{}

// Name returns the gate name.
func (GenerationLimitGate) Name() string {
	return "generation_limit"
}

// Evaluate checks the current generation against maxGenerations.
func (GenerationLimitGate) Evaluate(run domain.EvolutionRun, _ fitness.Summary) GateDecision {
	limit := run.Parameters.MaxGenerations
	if run.Status.CurrentGeneration >= limit {
		return GateDecision{
			Complete: true,
			Reason:   fmt.Sprintf("generation limit %d reached", limit),
		}
	}
	return GateDecision{}
}

// DefaultGates returns the completion gates in evaluation order.
func DefaultGates() []Gate {
	return []Gate{TargetFitnessGate{}, GenerationLimitGate{}}
}
