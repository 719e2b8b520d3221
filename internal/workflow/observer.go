package workflow

import (
	"context"

	"github.com/evolab/evolab/internal/domain"
)

// Observer is notified after a run transition has been committed.
type Observer interface {
	OnTransition(ctx context.Context, run domain.EvolutionRun, trigger domain.Trigger)
}

// ObserverFunc adapts a function to Observer.
type ObserverFunc func(ctx context.Context, run domain.EvolutionRun, trigger domain.Trigger)

// OnTransition calls f.
func (f ObserverFunc) OnTransition(ctx context.Context, run domain.EvolutionRun, trigger domain.Trigger) {
	f(ctx, run, trigger)
}
