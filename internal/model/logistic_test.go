package model

import (
	"context"
	"math"
	"testing"
)

func TestScore_KnownWeights(t *testing.T) {
	m := &Model{
		Weights:      []float64{1.0, -2.0},
		Bias:         0.5,
		FeatureNames: []string{"a", "b"},
	}

	// z = 0.5 + 1*1 - 2*0.25 = 1.0
	p, err := m.Score([]float64{1.0, 0.25})
	if err != nil {
		t.Fatalf("Score failed: %v", err)
	}
	want := 1.0 / (1.0 + math.Exp(-1.0))
	if math.Abs(p-want) > 1e-12 {
		t.Errorf("Score = %v, want %v", p, want)
	}
}

func TestScore_SchemaMismatch(t *testing.T) {
	m := &Model{Weights: []float64{1, 2, 3}, FeatureNames: []string{"a", "b", "c"}}

	if _, err := m.Score([]float64{1, 2}); err == nil {
		t.Error("Expected error for short vector, got nil")
	}
	if _, err := m.Score(nil); err == nil {
		t.Error("Expected error for nil vector, got nil")
	}
}

func TestScore_NonFinite(t *testing.T) {
	m := &Model{Weights: []float64{math.NaN()}, FeatureNames: []string{"a"}}

	if _, err := m.Score([]float64{1}); err == nil {
		t.Error("Expected error for non-finite score, got nil")
	}
}

func TestValidate(t *testing.T) {
	cases := []struct {
		name  string
		model Model
		valid bool
	}{
		{"consistent", Model{Weights: []float64{0.1, 0.2}, FeatureNames: []string{"a", "b"}}, true},
		{"no schema", Model{Weights: []float64{0.1}}, false},
		{"length mismatch", Model{Weights: []float64{0.1}, FeatureNames: []string{"a", "b"}}, false},
		{"non-finite bias", Model{Weights: []float64{0.1}, Bias: math.NaN(), FeatureNames: []string{"a"}}, false},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			err := tc.model.Validate()
			if tc.valid && err != nil {
				t.Errorf("Validate failed: %v", err)
			}
			if !tc.valid && err == nil {
				t.Error("Expected validation error, got nil")
			}
		})
	}
}

func TestTrain_SeparableData(t *testing.T) {
	// Single feature cleanly separates the classes.
	X := [][]float64{{0}, {0.1}, {0.2}, {0.3}, {0.7}, {0.8}, {0.9}, {1.0}}
	y := []int{0, 0, 0, 0, 1, 1, 1, 1}

	m, err := Train(context.Background(), X, y, []string{"risk"}, TrainOptions{Epochs: 2000})
	if err != nil {
		t.Fatalf("Train failed: %v", err)
	}
	if err := m.Validate(); err != nil {
		t.Fatalf("trained model invalid: %v", err)
	}

	low, _ := m.Score([]float64{0.05})
	high, _ := m.Score([]float64{0.95})
	if low >= 0.5 {
		t.Errorf("low-risk sample scored %v, want < 0.5", low)
	}
	if high <= 0.5 {
		t.Errorf("high-risk sample scored %v, want > 0.5", high)
	}
}

func TestTrain_Deterministic(t *testing.T) {
	X := [][]float64{{0, 1}, {1, 0}, {1, 1}, {0, 0}}
	y := []int{0, 1, 1, 0}

	a, err := Train(context.Background(), X, y, []string{"f1", "f2"}, TrainOptions{})
	if err != nil {
		t.Fatalf("Train failed: %v", err)
	}
	b, err := Train(context.Background(), X, y, []string{"f1", "f2"}, TrainOptions{})
	if err != nil {
		t.Fatalf("Train failed: %v", err)
	}

	for i := range a.Weights {
		if a.Weights[i] != b.Weights[i] {
			t.Fatalf("weights differ between identical runs: %v vs %v", a.Weights, b.Weights)
		}
	}
	if a.Bias != b.Bias {
		t.Errorf("bias differs between identical runs: %v vs %v", a.Bias, b.Bias)
	}
}

func TestTrain_InputErrors(t *testing.T) {
	ctx := context.Background()

	if _, err := Train(ctx, nil, nil, []string{"a"}, TrainOptions{}); err == nil {
		t.Error("Expected error for empty training set, got nil")
	}
	if _, err := Train(ctx, [][]float64{{1}}, []int{0, 1}, []string{"a"}, TrainOptions{}); err == nil {
		t.Error("Expected error for label count mismatch, got nil")
	}
	if _, err := Train(ctx, [][]float64{{1, 2}}, []int{0}, []string{"a"}, TrainOptions{}); err == nil {
		t.Error("Expected error for row width mismatch, got nil")
	}
}

func TestTrain_ContextCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := Train(ctx, [][]float64{{1}, {0}}, []int{1, 0}, []string{"a"}, TrainOptions{})
	if err == nil {
		t.Error("Expected context error, got nil")
	}
}

func TestEvaluate_KnownConfusion(t *testing.T) {
	// Weights chosen so the model predicts dropout iff the feature is 1.
	m := &Model{Weights: []float64{10}, Bias: -5, FeatureNames: []string{"a"}}

	// 3 true positives, 1 false negative via label flip, 1 false positive,
	// 3 true negatives.
	X := [][]float64{{1}, {1}, {1}, {0}, {1}, {0}, {0}, {0}}
	y := []int{1, 1, 1, 1, 0, 0, 0, 0}

	got := Evaluate(m, X, y)

	if math.Abs(got.Accuracy-0.75) > 1e-9 {
		t.Errorf("Accuracy = %v, want 0.75", got.Accuracy)
	}
	if math.Abs(got.Precision-0.75) > 1e-9 {
		t.Errorf("Precision = %v, want 0.75", got.Precision)
	}
	if math.Abs(got.Recall-0.75) > 1e-9 {
		t.Errorf("Recall = %v, want 0.75", got.Recall)
	}
	if math.Abs(got.F1Score-0.75) > 1e-9 {
		t.Errorf("F1 = %v, want 0.75", got.F1Score)
	}
}

func TestEvaluate_UnscorableSamplesCountAgainstModel(t *testing.T) {
	m := &Model{Weights: []float64{10}, Bias: -5, FeatureNames: []string{"a"}}

	// Two scorable rows (one tp, one tn) plus two rows of the wrong width
	// that Score rejects. The unscorable ones must land in fp/fn, never in
	// the correct buckets.
	X := [][]float64{{1}, {0}, {1, 0}, {0, 0}}
	y := []int{1, 0, 0, 1}

	got := Evaluate(m, X, y)

	if math.Abs(got.Accuracy-0.5) > 1e-9 {
		t.Errorf("Accuracy = %v, want 0.5", got.Accuracy)
	}
	if math.Abs(got.Precision-0.5) > 1e-9 {
		t.Errorf("Precision = %v, want 0.5", got.Precision)
	}
	if math.Abs(got.Recall-0.5) > 1e-9 {
		t.Errorf("Recall = %v, want 0.5", got.Recall)
	}
}
