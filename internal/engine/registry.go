package engine

import (
	"fmt"
	"slices"
	"sync"

	"github.com/evolab/evolab/internal/domain"
)

// Registry is a thread-safe map from model identifier to Engine.
type Registry struct {
	mu      sync.RWMutex
	engines map[domain.Model]Engine
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{engines: make(map[domain.Model]Engine)}
}

// Register binds an engine to a model.
// Returns ErrEngineRegistered if the model already has one.
func (r *Registry) Register(model domain.Model, e Engine) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.engines[model]; exists {
		return domain.WrapError(domain.ErrEngineRegistered.Code, fmt.Sprintf("engine already registered for %s", model), nil)
	}
	r.engines[model] = e
	return nil
}

// Get returns the engine for model, or ErrEngineUnavailable.
func (r *Registry) Get(model domain.Model) (Engine, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	e, ok := r.engines[model]
	if !ok {
		return nil, domain.WrapError(domain.ErrEngineUnavailable.Code, fmt.Sprintf("no engine registered for %s", model), nil)
	}
	return e, nil
}

// Models returns the registered models in sorted order.
func (r *Registry) Models() []domain.Model {
	r.mu.RLock()
	defer r.mu.RUnlock()

	models := make([]domain.Model, 0, len(r.engines))
	for m := range r.engines {
		models = append(models, m)
	}
	slices.Sort(models)
	return models
}
