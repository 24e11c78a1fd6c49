package predict

import "movie-dropoff/internal/features"

// Probability bounds for the rule path. A heuristic never reports absolute
// certainty in either direction.
const (
	fallbackFloor = 0.05
	fallbackCeil  = 0.95

	// fallbackConfidence is fixed below any trained-model confidence so a
	// heuristic answer is never mistaken for one.
	fallbackConfidence = 0.60
)

// ruleScore computes the deterministic weighted risk score over the named
// behavioral indicators. Weights and thresholds are the fixed calibration
// table; indicators absent from the input take the listed defaults.
func ruleScore(raw map[string]any) float64 {
	score := 0.0

	if features.Number(raw, "boring_plot", 0) == 1 {
		score += 0.25
	}
	if features.Number(raw, "total_stopping_reasons", 0) > 3 {
		score += 0.20
	}
	if features.Number(raw, "stop_historical", 0) == 1 {
		score += 0.15
	}
	if features.Number(raw, "genre_completion_ratio", 0.5) < 0.4 {
		score += 0.15
	}
	if features.Number(raw, "patience_score", 0.5) < 0.3 {
		score += 0.10
	}
	if features.Number(raw, "attention_span_score", 0.5) < 0.3 {
		score += 0.10
	}
	if features.Number(raw, "total_multitasking_behaviors", 0) > 2 {
		score += 0.05
	}

	return clamp(score, fallbackFloor, fallbackCeil)
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
