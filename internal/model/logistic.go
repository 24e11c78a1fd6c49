// Package model implements the binary dropout classifier used as the opaque
// scorer behind the predictor: a logistic regression with named features,
// trained in-process by batch gradient descent.
package model

import (
	"context"
	"fmt"
	"math"
)

// Model is a fitted logistic classifier. Weights are ordered exactly like
// FeatureNames; Score relies on that ordering and never re-sorts.
type Model struct {
	Weights      []float64 `json:"weights"`
	Bias         float64   `json:"bias"`
	FeatureNames []string  `json:"feature_names"`
}

// TrainOptions controls the gradient descent loop. Zero values select the
// defaults used by the retraining pipeline.
type TrainOptions struct {
	LearningRate float64
	Epochs       int
	L2           float64
}

func (o TrainOptions) withDefaults() TrainOptions {
	if o.LearningRate <= 0 {
		o.LearningRate = 0.1
	}
	if o.Epochs <= 0 {
		o.Epochs = 500
	}
	return o
}

// Score returns the positive-class (dropout) probability for a feature
// vector. It fails on schema mismatch or a non-finite result rather than
// guessing; callers treat the error as a scoring fault.
func (m *Model) Score(vec []float64) (float64, error) {
	if len(vec) != len(m.Weights) {
		return 0, fmt.Errorf("feature vector length %d does not match model schema %d", len(vec), len(m.Weights))
	}
	z := m.Bias
	for i, w := range m.Weights {
		z += w * vec[i]
	}
	p := sigmoid(z)
	if math.IsNaN(p) || math.IsInf(p, 0) {
		return 0, fmt.Errorf("non-finite score for input vector")
	}
	return p, nil
}

// Validate checks that the model is internally consistent and able to score
// a synthetic all-default vector. Used as the artifact self-test.
func (m *Model) Validate() error {
	if len(m.FeatureNames) == 0 {
		return fmt.Errorf("model has no feature schema")
	}
	if len(m.Weights) != len(m.FeatureNames) {
		return fmt.Errorf("model has %d weights for %d features", len(m.Weights), len(m.FeatureNames))
	}
	if _, err := m.Score(make([]float64, len(m.FeatureNames))); err != nil {
		return fmt.Errorf("self-test scoring failed: %w", err)
	}
	return nil
}

// Train fits a logistic regression on the given samples. Labels must be 0
// (completed) or 1 (dropped). Deterministic for fixed inputs; the context is
// checked between epochs so a long fit can be abandoned.
func Train(ctx context.Context, X [][]float64, y []int, featureNames []string, opts TrainOptions) (*Model, error) {
	if len(X) == 0 {
		return nil, fmt.Errorf("no training samples")
	}
	if len(X) != len(y) {
		return nil, fmt.Errorf("have %d samples but %d labels", len(X), len(y))
	}
	dim := len(featureNames)
	for i, row := range X {
		if len(row) != dim {
			return nil, fmt.Errorf("sample %d has %d features, schema has %d", i, len(row), dim)
		}
	}

	opts = opts.withDefaults()
	m := &Model{
		Weights:      make([]float64, dim),
		FeatureNames: append([]string(nil), featureNames...),
	}

	n := float64(len(X))
	grad := make([]float64, dim)

	for epoch := 0; epoch < opts.Epochs; epoch++ {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		default:
		}

		for i := range grad {
			grad[i] = 0
		}
		var gradBias float64

		for i, row := range X {
			z := m.Bias
			for j, w := range m.Weights {
				z += w * row[j]
			}
			diff := sigmoid(z) - float64(y[i])
			for j, v := range row {
				grad[j] += diff * v
			}
			gradBias += diff
		}

		for j := range m.Weights {
			m.Weights[j] -= opts.LearningRate * (grad[j]/n + opts.L2*m.Weights[j])
		}
		m.Bias -= opts.LearningRate * gradBias / n
	}

	for _, w := range m.Weights {
		if math.IsNaN(w) || math.IsInf(w, 0) {
			return nil, fmt.Errorf("training diverged to non-finite weights")
		}
	}

	return m, nil
}

func sigmoid(x float64) float64 {
	return 1.0 / (1.0 + math.Exp(-x))
}
