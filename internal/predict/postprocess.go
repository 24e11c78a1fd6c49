package predict

import "strings"

// Risk tiers. Boundaries are inclusive at 0.4 and 0.7.
const (
	TierLow    = "Low"
	TierMedium = "Medium"
	TierHigh   = "High"
)

const maxRecommendations = 4

// tierFor maps a dropout probability to its risk tier. Pure and monotonic.
func tierFor(p float64) string {
	switch {
	case p >= 0.7:
		return TierHigh
	case p >= 0.4:
		return TierMedium
	default:
		return TierLow
	}
}

var segments = map[string]string{
	TierHigh:   "High Dropout Risk",
	TierMedium: "Moderate Dropout Risk",
	TierLow:    "Completion Oriented",
}

func segmentFor(tier string) string {
	return segments[tier]
}

var tierRecommendations = map[string][]string{
	TierHigh: {
		"Consider shorter movies (under 90 minutes)",
		"Choose action or comedy genres for better engagement",
		"Watch during peak attention hours",
		"Minimize distractions during viewing",
	},
	TierMedium: {
		"Select movies with strong opening scenes",
		"Try genres you historically complete more",
		"Reduce multitasking during viewing",
		"Consider watching with others",
	},
	TierLow: {
		"Continue with current viewing habits",
		"You show good completion patterns",
		"Consider exploring new genres",
	},
}

const reminderRecommendation = "Set up viewing reminders for your favorite shows"

// recommendationsFor builds the recommendation list: tier defaults first,
// then conditional appends keyed off raw input flags, capped at four.
func recommendationsFor(tier string, raw map[string]any) []string {
	recs := append([]string(nil), tierRecommendations[tier]...)

	if freq, ok := raw["streaming_frequency"].(string); ok && strings.EqualFold(freq, "rarely") {
		recs = append(recs, reminderRecommendation)
	}

	if len(recs) > maxRecommendations {
		recs = recs[:maxRecommendations]
	}
	return recs
}

// adjustForMovie shifts a base dropout probability for a specific movie:
// long runtimes raise risk, strong ratings lower it. Clamped to [0, 1].
func adjustForMovie(p float64, movie MovieInfo) float64 {
	switch {
	case movie.RuntimeMinutes > 150:
		p += 0.10
	case movie.RuntimeMinutes > 120:
		p += 0.05
	case movie.RuntimeMinutes > 0 && movie.RuntimeMinutes < 90:
		p -= 0.05
	}

	if movie.IMDBScore > 0 {
		switch {
		case movie.IMDBScore >= 8.0:
			p -= 0.15
		case movie.IMDBScore >= 7.0:
			p -= 0.10
		case movie.IMDBScore < 6.0:
			p += 0.10
		}
	}

	return clamp(p, 0, 1)
}
