package workflow

import (
	"testing"

	"github.com/evolab/evolab/internal/domain"
	"github.com/evolab/evolab/internal/fitness"
)

func gateRun(generation, maxGenerations int, target float64) domain.EvolutionRun {
	params := domain.DefaultParameters()
	params.MaxGenerations = maxGenerations
	params.TargetFitness = target
	return domain.EvolutionRun{
		Parameters: params,
		Status:     domain.EvolutionStatus{State: domain.StateRunning, CurrentGeneration: generation},
	}
}

func TestTargetFitnessGate(t *testing.T) {
	gate := TargetFitnessGate{}
	if d := gate.Evaluate(gateRun(0, 5, 0.9), fitness.Summary{BestFitness: 0.89}); d.Complete {
		t.Error("best below target should not complete")
	}
	d := gate.Evaluate(gateRun(0, 5, 0.9), fitness.Summary{BestFitness: 0.9})
	if !d.Complete || d.Reason == "" {
		t.Errorf("best at target should complete with a reason, got %+v", d)
	}
}

func TestGenerationLimitGate(t *testing.T) {
	gate := GenerationLimitGate{}
	if d := gate.Evaluate(gateRun(4, 5, 1), fitness.Summary{}); d.Complete {
		t.Error("generation 4 of 5 should not complete")
	}
	if d := gate.Evaluate(gateRun(5, 5, 1), fitness.Summary{}); !d.Complete {
		t.Error("generation 5 of 5 should complete")
	}
}

func TestDefaultGates_Order(t *testing.T) {
	gates := DefaultGates()
	if len(gates) != 2 || gates[0].Name() != "target_fitness" || gates[1].Name() != "generation_limit" {
		t.Errorf("unexpected gates: %v", gates)
	}
}
