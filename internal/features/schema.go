package features

// defaultSchema is the basic survey feature set, used to train the first
// model when no artifact with its own schema exists yet. Order matters:
// vectors are built and scored in exactly this order.
var defaultSchema = []string{
	"boring_plot",
	"total_stopping_reasons",
	"patience_score",
	"attention_span_score",
	"genre_completion_ratio",
	"stop_historical",
	"stop_action",
	"stop_comedy",
	"pause_when_bored",
	"total_multitasking_behaviors",
}

// DefaultSchema returns a copy of the basic survey feature set.
func DefaultSchema() []string {
	return append([]string(nil), defaultSchema...)
}
