package domain

import (
	"encoding/json"
	"fmt"
)

// SelectionKind names a parent selection strategy.
type SelectionKind string

const (
	SelectTournament SelectionKind = "tournament"
	SelectRoulette   SelectionKind = "roulette"
	SelectRank       SelectionKind = "rank"
	SelectElite      SelectionKind = "elite"
)

// Selection is a tagged variant over the supported selection strategies.
// Build one with Tournament, Roulette, Rank or Elite; the zero value is invalid.
type Selection struct {
	kind  SelectionKind
	size  int
	count int
}

// Tournament picks the fittest of size uniformly sampled individuals.
func Tournament(size int) Selection {
	return Selection{kind: SelectTournament, size: size}
}

// Roulette picks individuals proportionally to fitness.
func Roulette() Selection {
	return Selection{kind: SelectRoulette}
}

// Rank picks individuals proportionally to their fitness rank.
func Rank() Selection {
	return Selection{kind: SelectRank}
}

// Elite picks uniformly among the count fittest individuals.
func Elite(count int) Selection {
	return Selection{kind: SelectElite, count: count}
}

// Kind returns the strategy tag.
func (s Selection) Kind() SelectionKind {
	return s.kind
}

// TournamentSize returns the tournament size when the strategy is tournament.
func (s Selection) TournamentSize() (int, bool) {
	return s.size, s.kind == SelectTournament
}

// EliteCount returns the elite count when the strategy is elite.
func (s Selection) EliteCount() (int, bool) {
	return s.count, s.kind == SelectElite
}

func (s Selection) String() string {
	switch s.kind {
	case SelectTournament:
		return fmt.Sprintf("tournament(size=%d)", s.size)
	case SelectElite:
		return fmt.Sprintf("elite(count=%d)", s.count)
	default:
		return string(s.kind)
	}
}

// Model identifies a supported generative model.
type Model string

const (
	ModelGeminiFlash Model = "gemini-1.5-flash"
	ModelGeminiPro   Model = "gemini-1.5-pro"
)

// SupportedModels lists the accepted model identifiers.
var SupportedModels = []Model{ModelGeminiFlash, ModelGeminiPro}

// EvolutionParameters configures one run.
type EvolutionParameters struct {
	PopulationSize  int       `json:"populationSize" validate:"gte=2,lte=50"`
	Selection       Selection `json:"-"`
	MaxGenerations  int       `json:"maxGenerations" validate:"gte=1,lte=100"`
	TargetFitness   float64   `json:"targetFitness" validate:"gt=0,lte=1"`
	UseCorrection   bool      `json:"useCorrection"`
	DiversityWeight float64   `json:"diversityWeight" validate:"gte=0,lte=1"`
	Model           Model     `json:"model" validate:"oneof=gemini-1.5-flash gemini-1.5-pro"`
	Temperature     float64   `json:"temperature" validate:"gte=0.1,lte=1"`
}

// parametersWire is the flat dashboard representation of EvolutionParameters.
type parametersWire struct {
	PopulationSize    int           `json:"populationSize"`
	SelectionStrategy SelectionKind `json:"selectionStrategy"`
	TournamentSize    *int          `json:"tournamentSize,omitempty"`
	EliteCount        *int          `json:"eliteCount,omitempty"`
	MaxGenerations    int           `json:"maxGenerations"`
	TargetFitness     float64       `json:"targetFitness"`
	UseCorrection     bool          `json:"useCorrection"`
	DiversityWeight   float64       `json:"diversityWeight"`
	Model             Model         `json:"model"`
	Temperature       float64       `json:"temperature"`
}

// MarshalJSON flattens the selection variant into selectionStrategy plus its
// strategy-specific field.
func (p EvolutionParameters) MarshalJSON() ([]byte, error) {
	w := parametersWire{
		PopulationSize:    p.PopulationSize,
		SelectionStrategy: p.Selection.kind,
		MaxGenerations:    p.MaxGenerations,
		TargetFitness:     p.TargetFitness,
		UseCorrection:     p.UseCorrection,
		DiversityWeight:   p.DiversityWeight,
		Model:             p.Model,
		Temperature:       p.Temperature,
	}
	if size, ok := p.Selection.TournamentSize(); ok {
		w.TournamentSize = &size
	}
	if count, ok := p.Selection.EliteCount(); ok {
		w.EliteCount = &count
	}
	return json.Marshal(w)
}

// UnmarshalJSON rebuilds the selection variant. Strategy-specific fields sent
// for the wrong strategy are kept so that Validate can reject them.
func (p *EvolutionParameters) UnmarshalJSON(data []byte) error {
	var w parametersWire
	if err := json.Unmarshal(data, &w); err != nil {
		return err
	}
	sel := Selection{kind: w.SelectionStrategy}
	if w.TournamentSize != nil {
		sel.size = *w.TournamentSize
	}
	if w.EliteCount != nil {
		sel.count = *w.EliteCount
	}
	*p = EvolutionParameters{
		PopulationSize:  w.PopulationSize,
		Selection:       sel,
		MaxGenerations:  w.MaxGenerations,
		TargetFitness:   w.TargetFitness,
		UseCorrection:   w.UseCorrection,
		DiversityWeight: w.DiversityWeight,
		Model:           w.Model,
		Temperature:     w.Temperature,
	}
	return nil
}

// DefaultParameters mirrors the dashboard's initial control values.
func DefaultParameters() EvolutionParameters {
	return EvolutionParameters{
		PopulationSize:  10,
		Selection:       Tournament(3),
		MaxGenerations:  20,
		TargetFitness:   1.0,
		UseCorrection:   true,
		DiversityWeight: 0.3,
		Model:           ModelGeminiPro,
		Temperature:     0.7,
	}
}

// Validate checks every range and the selection variant's consistency.
// It returns an ErrValidation-coded error listing each violation.
func (p EvolutionParameters) Validate() error {
	return validateStruct("invalid evolution parameters", p)
}
