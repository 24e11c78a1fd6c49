package serving

import (
	"fmt"
	"strings"

	"movie-dropoff/internal/features"
)

var requiredFields = []string{"boring_plot", "total_stopping_reasons"}

var binaryFields = []string{
	"boring_plot",
	"stop_historical",
	"stop_action",
	"stop_comedy",
	"pause_when_bored",
}

var ratioFields = []string{
	"patience_score",
	"attention_span_score",
	"genre_completion_ratio",
}

// ValidationError reports every offending field at once rather than the
// first one found.
type ValidationError struct {
	Fields []string `json:"fields"`
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid input: %s", strings.Join(e.Fields, "; "))
}

// validateResponses checks survey responses before any model call. Fields
// may arrive under their short survey names or the long model column names.
func validateResponses(raw map[string]any) error {
	var faults []string

	for _, name := range requiredFields {
		if !features.Has(raw, name) {
			faults = append(faults, fmt.Sprintf("%s is required", name))
		}
	}

	for _, name := range binaryFields {
		if !features.Has(raw, name) {
			continue
		}
		v := features.Number(raw, name, 0)
		if v != 0 && v != 1 {
			faults = append(faults, fmt.Sprintf("%s must be 0 or 1, got %g", name, v))
		}
	}

	for _, name := range ratioFields {
		if !features.Has(raw, name) {
			continue
		}
		v := features.Number(raw, name, 0)
		if v < 0 || v > 1 {
			faults = append(faults, fmt.Sprintf("%s must be between 0 and 1, got %g", name, v))
		}
	}

	if len(faults) > 0 {
		return &ValidationError{Fields: faults}
	}
	return nil
}
