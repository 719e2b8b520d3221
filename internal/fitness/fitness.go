// Package fitness derives fitness, population statistics and code fingerprints.
// It is the single source of truth for best/average fitness and diversity:
// callers recompute from the live individuals instead of carrying the numbers.
package fitness

import (
	"encoding/hex"
	"sort"
	"strings"

	"golang.org/x/crypto/blake2b"

	"github.com/evolab/evolab/internal/domain"
)

// Score returns passed/total over results. ok is false when there are no results,
// in which case fitness is defined by the caller.
func Score(results []domain.TestResult) (score float64, ok bool) {
	if len(results) == 0 {
		return 0, false
	}
	passed := 0
	for _, r := range results {
		if r.Passed {
			passed++
		}
	}
	return float64(passed) / float64(len(results)), true
}

// Fingerprint hashes code with whitespace runs collapsed, so formatting-only
// variants count as the same program.
func Fingerprint(code string) string {
	normalized := strings.Join(strings.Fields(code), " ")
	sum := blake2b.Sum256([]byte(normalized))
	return hex.EncodeToString(sum[:])
}

// Diversity is the share of distinct programs in the set. An empty set is
// maximally diverse.
func Diversity(individuals []domain.Individual) float64 {
	if len(individuals) == 0 {
		return 1.0
	}
	seen := make(map[string]struct{}, len(individuals))
	for _, ind := range individuals {
		seen[Fingerprint(ind.Code)] = struct{}{}
	}
	return float64(len(seen)) / float64(len(individuals))
}

// Summary holds the statistics of one set of individuals.
type Summary struct {
	Count          int
	BestFitness    float64
	AverageFitness float64
	DiversityIndex float64
}

// Summarize computes best, average and diversity. BestFitness >= AverageFitness
// always holds; float rounding in the mean is clamped.
func Summarize(individuals []domain.Individual) Summary {
	s := Summary{Count: len(individuals), DiversityIndex: Diversity(individuals)}
	if len(individuals) == 0 {
		return s
	}
	total := 0.0
	for i, ind := range individuals {
		total += ind.Fitness
		if i == 0 || ind.Fitness > s.BestFitness {
			s.BestFitness = ind.Fitness
		}
	}
	s.AverageFitness = total / float64(len(individuals))
	if s.AverageFitness > s.BestFitness {
		s.AverageFitness = s.BestFitness
	}
	return s
}

// Fitter reports whether a beats b: higher fitness, then earlier creation, then
// lower id.
func Fitter(a, b domain.Individual) bool {
	if a.Fitness != b.Fitness {
		return a.Fitness > b.Fitness
	}
	if !a.CreatedAt.Equal(b.CreatedAt) {
		return a.CreatedAt.Before(b.CreatedAt)
	}
	return a.ID < b.ID
}

// Fittest returns the best individual by Fitter.
func Fittest(individuals []domain.Individual) (domain.Individual, bool) {
	if len(individuals) == 0 {
		return domain.Individual{}, false
	}
	best := individuals[0]
	for _, ind := range individuals[1:] {
		if Fitter(ind, best) {
			best = ind
		}
	}
	return best, true
}

// Rank sorts individuals in place for display: fitness descending, id ascending.
func Rank(individuals []domain.Individual) {
	sort.SliceStable(individuals, func(i, j int) bool {
		if individuals[i].Fitness != individuals[j].Fitness {
			return individuals[i].Fitness > individuals[j].Fitness
		}
		return individuals[i].ID < individuals[j].ID
	})
}
