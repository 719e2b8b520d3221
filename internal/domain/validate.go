package domain

import (
	"errors"
	"fmt"
	"reflect"
	"strings"

	"github.com/go-playground/validator/v10"
)

// maxTournamentSize caps the tournament size independently of population size.
const maxTournamentSize = 10

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name := strings.SplitN(fld.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})
	v.RegisterStructValidation(parametersStructLevel, EvolutionParameters{})
	return v
}

// parametersStructLevel enforces that strategy-specific fields are present
// exactly for their strategy and within their population-dependent bounds.
func parametersStructLevel(sl validator.StructLevel) {
	p := sl.Current().Interface().(EvolutionParameters)
	sel := p.Selection

	switch sel.kind {
	case SelectTournament:
		limit := min(maxTournamentSize, p.PopulationSize)
		if sel.size < 2 || sel.size > limit {
			sl.ReportError(sel.size, "tournamentSize", "Selection", "tournament_size", fmt.Sprintf("2-%d", limit))
		}
	case SelectElite:
		limit := p.PopulationSize / 2
		if sel.count < 1 || sel.count > limit {
			sl.ReportError(sel.count, "eliteCount", "Selection", "elite_count", fmt.Sprintf("1-%d", limit))
		}
	case SelectRoulette, SelectRank:
	default:
		sl.ReportError(sel.kind, "selectionStrategy", "Selection", "strategy", "tournament roulette rank elite")
		return
	}

	if sel.kind != SelectTournament && sel.size != 0 {
		sl.ReportError(sel.size, "tournamentSize", "Selection", "excluded_strategy", string(SelectTournament))
	}
	if sel.kind != SelectElite && sel.count != 0 {
		sl.ReportError(sel.count, "eliteCount", "Selection", "excluded_strategy", string(SelectElite))
	}
}

// ValidateProblem checks the required fields of a Problem.
func ValidateProblem(p Problem) error {
	return validateStruct("invalid problem", p)
}

func validateStruct(prefix string, v any) error {
	err := validate.Struct(v)
	if err == nil {
		return nil
	}
	var fieldErrs validator.ValidationErrors
	if !errors.As(err, &fieldErrs) {
		return WrapError(ErrValidation.Code, prefix, err)
	}
	problems := make([]string, 0, len(fieldErrs))
	for _, fe := range fieldErrs {
		problems = append(problems, describeFieldError(fe))
	}
	return Validationf("%s: %s", prefix, strings.Join(problems, "; "))
}

func describeFieldError(fe validator.FieldError) string {
	switch fe.Tag() {
	case "required":
		return fmt.Sprintf("%s is required", fe.Field())
	case "min":
		return fmt.Sprintf("%s needs at least %s entries", fe.Field(), fe.Param())
	case "oneof":
		return fmt.Sprintf("%s must be one of [%s], got %v", fe.Field(), fe.Param(), fe.Value())
	case "tournament_size", "elite_count":
		return fmt.Sprintf("%s must be in [%s], got %v", fe.Field(), fe.Param(), fe.Value())
	case "strategy":
		return fmt.Sprintf("selectionStrategy must be one of [%s], got %q", fe.Param(), fe.Value())
	case "excluded_strategy":
		return fmt.Sprintf("%s is only valid with the %s strategy", fe.Field(), fe.Param())
	default:
		return fmt.Sprintf("%s must satisfy %s=%s, got %v", fe.Field(), fe.Tag(), fe.Param(), fe.Value())
	}
}
