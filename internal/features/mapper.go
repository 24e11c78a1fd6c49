// Package features translates raw survey responses into the ordered numeric
// vectors the dropout models consume. Mapping is soft by contract: absent or
// malformed fields default to zero and are reported back to the caller so
// data-quality gaps stay observable without failing the request.
package features

import (
	"encoding/json"
	"strconv"
	"strings"
)

// aliases maps short survey field names to the full model feature names
// produced during feature engineering. The table is fixed; a survey field
// with no entry here only matches a schema name directly.
var aliases = map[string]string{
	"boring_plot":             "in_general_what_are_the_main_reasons_you_stop_watching_movies_before_finishing_boring_uninteresting_plot",
	"stop_historical":         "which_genres_do_you_find_yourself_stopping_more_often_before_finishing_historical",
	"pause_when_bored":        "why_do_you_usually_pause_the_movie_feeling_bored_or_uninterested",
	"focus_only":              "do_you_usually_do_other_things_while_watching_movies_no_i_usually_focus_only_on_the_movie",
	"discover_trailer":        "how_do_you_usually_discover_movies_you_decide_to_watch_trailer",
	"watch_for_entertainment": "why_do_you_usually_choose_to_watch_movies_entertainment",
	"enjoy_action":            "which_genres_do_you_enjoy_watching_the_most_action",
	"enjoy_romance":           "which_genres_do_you_enjoy_watching_the_most_romance",
	"total_stopping_reasons":  "total_stopping_reasons",
	"patience_score":          "patience_score",
	"completion_ratio":        "genre_completion_ratio",
}

// shortNames is the reverse of aliases, full feature name -> survey field.
var shortNames = func() map[string]string {
	m := make(map[string]string, len(aliases))
	for short, full := range aliases {
		m[full] = short
	}
	return m
}()

// Aliases returns a copy of the survey-field alias table.
func Aliases() map[string]string {
	out := make(map[string]string, len(aliases))
	for k, v := range aliases {
		out[k] = v
	}
	return out
}

// Map builds a feature vector in exact schema order from a raw response map.
// For every schema name it tries the name itself, then its alias in either
// direction, and falls back to 0. The second return lists the schema names
// that were defaulted. Map never fails and is idempotent; extra raw keys are
// ignored.
func Map(raw map[string]any, schema []string) ([]float64, []string) {
	vec := make([]float64, len(schema))
	var defaulted []string

	for i, name := range schema {
		v, ok := lookup(raw, name)
		if !ok {
			defaulted = append(defaulted, name)
			continue
		}
		vec[i] = v
	}

	return vec, defaulted
}

// Number returns the numeric value of a single raw field, resolved through
// the same alias table and coercions as Map, or def when the field is
// absent. Used by the rule-based scoring path, which reads raw indicators
// with per-indicator defaults instead of a model schema.
func Number(raw map[string]any, name string, def float64) float64 {
	if v, ok := lookup(raw, name); ok {
		return v
	}
	return def
}

// Has reports whether a raw field is present under its own name or through
// the alias table in either direction.
func Has(raw map[string]any, name string) bool {
	_, ok := lookup(raw, name)
	return ok
}

func lookup(raw map[string]any, name string) (float64, bool) {
	if v, ok := raw[name]; ok {
		return coerce(v), true
	}
	if short, ok := shortNames[name]; ok {
		if v, ok := raw[short]; ok {
			return coerce(v), true
		}
	}
	if full, ok := aliases[name]; ok {
		if v, ok := raw[full]; ok {
			return coerce(v), true
		}
	}
	return 0, false
}

// coerce converts a raw survey value to a float64. Booleans become 0/1,
// numeric strings parse, everything unparseable degrades to 0.
func coerce(v any) float64 {
	switch x := v.(type) {
	case float64:
		return x
	case float32:
		return float64(x)
	case int:
		return float64(x)
	case int64:
		return float64(x)
	case uint:
		return float64(x)
	case bool:
		if x {
			return 1
		}
		return 0
	case json.Number:
		f, err := x.Float64()
		if err != nil {
			return 0
		}
		return f
	case string:
		s := strings.TrimSpace(x)
		if f, err := strconv.ParseFloat(s, 64); err == nil {
			return f
		}
		switch strings.ToLower(s) {
		case "true", "yes":
			return 1
		case "false", "no":
			return 0
		}
		return 0
	default:
		return 0
	}
}
