package engine

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/evolab/evolab/internal/domain"
)

func TestRegistry(t *testing.T) {
	reg := NewRegistry()
	noop := EngineFunc(func(context.Context, StepRequest) (domain.GenerationReport, error) {
		return domain.GenerationReport{}, nil
	})

	require.NoError(t, reg.Register(domain.ModelGeminiPro, noop))
	require.NoError(t, reg.Register(domain.ModelGeminiFlash, noop))
	assert.ErrorIs(t, reg.Register(domain.ModelGeminiPro, noop), domain.ErrEngineRegistered)

	_, err := reg.Get(domain.ModelGeminiPro)
	assert.NoError(t, err)
	_, err = reg.Get("gpt-4")
	assert.ErrorIs(t, err, domain.ErrEngineUnavailable)

	assert.Equal(t, []domain.Model{domain.ModelGeminiFlash, domain.ModelGeminiPro}, reg.Models())
}
