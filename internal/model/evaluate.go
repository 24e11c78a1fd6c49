package model

// Metrics holds validation-set performance for a fitted model.
type Metrics struct {
	Accuracy  float64 `json:"accuracy"`
	Precision float64 `json:"precision"`
	Recall    float64 `json:"recall"`
	F1Score   float64 `json:"f1_score"`
}

// Evaluate scores every sample at the 0.5 decision boundary and computes
// accuracy, precision, recall and F1 against the true labels. Samples the
// model cannot score count as misclassified rather than aborting the run.
func Evaluate(m *Model, X [][]float64, y []int) Metrics {
	var tp, tn, fp, fn float64

	for i, row := range X {
		p, err := m.Score(row)
		if err != nil {
			// Count the sample against the model instead of aborting the run.
			if y[i] == 1 {
				fn++
			} else {
				fp++
			}
			continue
		}
		pred := 0
		if p >= 0.5 {
			pred = 1
		}
		switch {
		case pred == 1 && y[i] == 1:
			tp++
		case pred == 0 && y[i] == 0:
			tn++
		case pred == 1 && y[i] == 0:
			fp++
		default:
			fn++
		}
	}

	total := tp + tn + fp + fn
	var met Metrics
	if total > 0 {
		met.Accuracy = (tp + tn) / total
	}
	if tp+fp > 0 {
		met.Precision = tp / (tp + fp)
	}
	if tp+fn > 0 {
		met.Recall = tp / (tp + fn)
	}
	if met.Precision+met.Recall > 0 {
		met.F1Score = 2 * met.Precision * met.Recall / (met.Precision + met.Recall)
	}
	return met
}
