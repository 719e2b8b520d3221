// Package selection picks parent individuals for the next generation.
package selection

import (
	"fmt"
	"math/rand"
	"slices"

	"github.com/evolab/evolab/internal/domain"
	"github.com/evolab/evolab/internal/fitness"
)

// Selector chooses n parents from a population.
type Selector interface {
	Name() string
	Pick(rng *rand.Rand, population []domain.Individual, n int) ([]domain.Individual, error)
}

// For returns the Selector implementing sel.
func For(sel domain.Selection) (Selector, error) {
	switch sel.Kind() {
	case domain.SelectTournament:
		size, _ := sel.TournamentSize()
		return TournamentSelector{Size: size}, nil
	case domain.SelectRoulette:
		return RouletteSelector{}, nil
	case domain.SelectRank:
		return RankSelector{}, nil
	case domain.SelectElite:
		count, _ := sel.EliteCount()
		return EliteSelector{Count: count}, nil
	default:
		return nil, domain.Validationf("unknown selection strategy %q", sel.Kind())
	}
}

func checkArgs(rng *rand.Rand, population []domain.Individual, n int) error {
	if rng == nil {
		return fmt.Errorf("random source is required")
	}
	if len(population) == 0 {
		return fmt.Errorf("population is empty")
	}
	if n < 0 {
		return fmt.Errorf("invalid pick count: %d", n)
	}
	return nil
}

// ranked returns a copy of population in display order, fittest first.
func ranked(population []domain.Individual) []domain.Individual {
	out := slices.Clone(population)
	fitness.Rank(out)
	return out
}

// TournamentSelector samples Size individuals uniformly and keeps the fittest.
type TournamentSelector struct {
	Size int
}

func (TournamentSelector) Name() string {
	return string(domain.SelectTournament)
}

func (s TournamentSelector) Pick(rng *rand.Rand, population []domain.Individual, n int) ([]domain.Individual, error) {
	if err := checkArgs(rng, population, n); err != nil {
		return nil, err
	}
	size := s.Size
	if size <= 0 {
		return nil, fmt.Errorf("invalid tournament size: %d", s.Size)
	}
	size = min(size, len(population))

	out := make([]domain.Individual, 0, n)
	for range n {
		best := population[rng.Intn(len(population))]
		for i := 1; i < size; i++ {
			candidate := population[rng.Intn(len(population))]
			if candidate.Fitness > best.Fitness {
				best = candidate
			}
		}
		out = append(out, best)
	}
	return out, nil
}

// RouletteSelector picks proportionally to fitness. A population with zero
// total fitness is sampled uniformly.
type RouletteSelector struct{}

func (RouletteSelector) Name() string {
	return string(domain.SelectRoulette)
}

func (RouletteSelector) Pick(rng *rand.Rand, population []domain.Individual, n int) ([]domain.Individual, error) {
	if err := checkArgs(rng, population, n); err != nil {
		return nil, err
	}
	weights := make([]float64, len(population))
	for i, ind := range population {
		weights[i] = max(ind.Fitness, 0)
	}
	return spin(rng, population, weights, n), nil
}

// RankSelector weights individuals linearly by rank: the fittest of k gets
// weight k, the weakest gets 1.
type RankSelector struct{}

func (RankSelector) Name() string {
	return string(domain.SelectRank)
}

func (RankSelector) Pick(rng *rand.Rand, population []domain.Individual, n int) ([]domain.Individual, error) {
	if err := checkArgs(rng, population, n); err != nil {
		return nil, err
	}
	order := ranked(population)
	weights := make([]float64, len(order))
	for i := range order {
		weights[i] = float64(len(order) - i)
	}
	return spin(rng, order, weights, n), nil
}

// EliteSelector picks uniformly among the Count fittest individuals.
type EliteSelector struct {
	Count int
}

func (EliteSelector) Name() string {
	return string(domain.SelectElite)
}

func (s EliteSelector) Pick(rng *rand.Rand, population []domain.Individual, n int) ([]domain.Individual, error) {
	if err := checkArgs(rng, population, n); err != nil {
		return nil, err
	}
	if s.Count <= 0 {
		return nil, fmt.Errorf("invalid elite count: %d", s.Count)
	}
	elite := ranked(population)[:min(s.Count, len(population))]

	out := make([]domain.Individual, 0, n)
	for range n {
		out = append(out, elite[rng.Intn(len(elite))])
	}
	return out, nil
}

func spin(rng *rand.Rand, population []domain.Individual, weights []float64, n int) []domain.Individual {
	total := 0.0
	for _, w := range weights {
		total += w
	}
	out := make([]domain.Individual, 0, n)
	for range n {
		if total <= 0 {
			out = append(out, population[rng.Intn(len(population))])
			continue
		}
		target := rng.Float64() * total
		picked := len(population) - 1
		acc := 0.0
		for i, w := range weights {
			acc += w
			if target < acc {
				picked = i
				break
			}
		}
		out = append(out, population[picked])
	}
	return out
}
