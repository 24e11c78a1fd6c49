// Package metrics provides Prometheus metrics for the dropout prediction
// service: serving volume and latency, fallback usage, ledger appends, and
// retraining outcomes, exposed via the /metrics endpoint.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds all Prometheus metrics for the service.
type Metrics struct {
	// Serving metrics
	Predictions        prometheus.Counter   // Total predictions served
	FallbackUse        prometheus.Counter   // Predictions answered on the rule path
	ScoringFaults      prometheus.Counter   // Trained-model scoring failures
	ValidationFailures prometheus.Counter   // Requests rejected by input validation
	DefaultedFeatures  prometheus.Counter   // Schema features zero-filled from missing input
	PredictionLatency  prometheus.Histogram // End-to-end prediction latency in seconds
	DropoutProbability prometheus.Histogram // Distribution of served probabilities

	// Model state metrics
	ModelVersion prometheus.Gauge // Active artifact version, 0 in fallback
	ModelF1      prometheus.Gauge // Validation F1 of the active model
	FallbackMode prometheus.Gauge // 1 while scoring on the rule path
	ModelAge     prometheus.Gauge // Seconds since the active model was trained

	// Lifecycle metrics
	FeedbackAppends prometheus.Counter // Feedback records appended
	RetrainRuns     prometheus.Counter // Retraining runs started
	RetrainFailures prometheus.Counter // Retraining runs aborted by an error
}

// New creates and registers all metrics on the default registry.
func New() *Metrics {
	return NewWithRegistry(prometheus.DefaultRegisterer)
}

// NewWithRegistry creates metrics on a custom registry, keeping tests
// isolated from the global state.
func NewWithRegistry(registerer prometheus.Registerer) *Metrics {
	factory := promauto.With(registerer)
	return &Metrics{
		Predictions: factory.NewCounter(prometheus.CounterOpts{
			Name: "predictions_total",
			Help: "Total number of dropout predictions served",
		}),
		FallbackUse: factory.NewCounter(prometheus.CounterOpts{
			Name: "fallback_use_total",
			Help: "Total number of predictions answered by the rule-based fallback",
		}),
		ScoringFaults: factory.NewCounter(prometheus.CounterOpts{
			Name: "scoring_faults_total",
			Help: "Total number of trained-model scoring failures",
		}),
		ValidationFailures: factory.NewCounter(prometheus.CounterOpts{
			Name: "validation_failures_total",
			Help: "Total number of requests rejected by input validation",
		}),
		DefaultedFeatures: factory.NewCounter(prometheus.CounterOpts{
			Name: "defaulted_features_total",
			Help: "Total number of model features zero-filled because the input lacked them",
		}),
		PredictionLatency: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "prediction_latency_seconds",
			Help:    "Prediction latency in seconds (end-to-end)",
			Buckets: []float64{0.0001, 0.0005, 0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25},
		}),
		DropoutProbability: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "dropout_probability",
			Help:    "Distribution of served dropout probabilities",
			Buckets: prometheus.LinearBuckets(0, 0.1, 11),
		}),
		ModelVersion: factory.NewGauge(prometheus.GaugeOpts{
			Name: "model_version",
			Help: "Version of the active model artifact, 0 when in fallback",
		}),
		ModelF1: factory.NewGauge(prometheus.GaugeOpts{
			Name: "model_f1_score",
			Help: "Validation F1 score of the active model",
		}),
		FallbackMode: factory.NewGauge(prometheus.GaugeOpts{
			Name: "fallback_mode",
			Help: "1 while predictions are served by the rule-based fallback",
		}),
		ModelAge: factory.NewGauge(prometheus.GaugeOpts{
			Name: "model_age_seconds",
			Help: "Age of the active model artifact in seconds",
		}),
		FeedbackAppends: factory.NewCounter(prometheus.CounterOpts{
			Name: "feedback_appends_total",
			Help: "Total number of feedback records appended to the ledger",
		}),
		RetrainRuns: factory.NewCounter(prometheus.CounterOpts{
			Name: "retrain_runs_total",
			Help: "Total number of retraining runs started",
		}),
		RetrainFailures: factory.NewCounter(prometheus.CounterOpts{
			Name: "retrain_failures_total",
			Help: "Total number of retraining runs aborted by an error",
		}),
	}
}

// The methods below satisfy the predict and retrain metrics interfaces so
// those packages never import prometheus directly.

func (m *Metrics) PredictionsInc()                { m.Predictions.Inc() }
func (m *Metrics) FallbackUseInc()                { m.FallbackUse.Inc() }
func (m *Metrics) ScoringFaultsInc()              { m.ScoringFaults.Inc() }
func (m *Metrics) ValidationFailuresInc()         { m.ValidationFailures.Inc() }
func (m *Metrics) DefaultedFeaturesAdd(n float64) { m.DefaultedFeatures.Add(n) }
func (m *Metrics) LatencyObserve(v float64)       { m.PredictionLatency.Observe(v) }
func (m *Metrics) ProbabilityObserve(v float64)   { m.DropoutProbability.Observe(v) }
func (m *Metrics) ModelVersionSet(v float64)      { m.ModelVersion.Set(v) }
func (m *Metrics) ModelF1Set(v float64)           { m.ModelF1.Set(v) }
func (m *Metrics) FeedbackAppendsInc()            { m.FeedbackAppends.Inc() }
func (m *Metrics) RetrainRunsInc()                { m.RetrainRuns.Inc() }
func (m *Metrics) RetrainFailuresInc()            { m.RetrainFailures.Inc() }

func (m *Metrics) FallbackModeSet(fallback bool) {
	if fallback {
		m.FallbackMode.Set(1)
	} else {
		m.FallbackMode.Set(0)
	}
}
