// Package retrain runs the model lifecycle: it watches the feedback ledger,
// decides when a retrain is justified, prepares and rebalances training
// data, fits and validates a candidate, and promotes it through the
// artifact store. Insufficient data and gate rejection are expected,
// reported outcomes; only a failed fit or IO problem is an error, and
// neither ever touches the active artifact.
package retrain

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog/log"

	"movie-dropoff/internal/features"
	"movie-dropoff/internal/ledger"
	"movie-dropoff/internal/model"
	"movie-dropoff/internal/store"
)

// ErrInProgress is returned when a trigger arrives while a run is active.
// Triggers are coalesced by rejection, never queued.
var ErrInProgress = errors.New("retraining already in progress")

const baseSetName = "training_base.json"

// completionThreshold is the watch-time ratio at or above which a viewing
// without an explicit completion flag counts as completed.
const completionThreshold = 0.8

// Policy is the retraining decision rule.
type Policy struct {
	MinTotal     int           // retrain when total feedback reaches this
	MinRecent    int           // and this many arrived within RecentWindow
	ConsiderAt   int           // informational "consider soon" boundary
	RecentWindow time.Duration // recency window for MinRecent
	ValFraction  float64       // held-out validation share
	Seed         int64         // rng seed for split/oversample
}

// DefaultPolicy mirrors the production thresholds: 100 total samples with
// 20 in the last 30 days.
func DefaultPolicy() Policy {
	return Policy{
		MinTotal:     100,
		MinRecent:    20,
		ConsiderAt:   50,
		RecentWindow: 30 * 24 * time.Hour,
		ValFraction:  0.2,
		Seed:         42,
	}
}

// MetricsInterface defines the metrics methods needed by the orchestrator.
type MetricsInterface interface {
	RetrainRunsInc()
	RetrainFailuresInc()
	ModelF1Set(float64)
}

// Reloader is notified after a successful promotion so the serving path
// picks up the new artifact. Satisfied by the predictor service.
type Reloader interface {
	Reload() error
}

// CheckResult reports whether retraining is currently justified.
type CheckResult struct {
	ShouldRetrain bool   `json:"should_retrain"`
	Reason        string `json:"reason"`
	TotalSamples  int    `json:"total_samples"`
	RecentSamples int    `json:"recent_samples"`
}

// Result is the structured outcome of one retraining run.
type Result struct {
	Success         bool           `json:"success"`
	Reason          string         `json:"reason,omitempty"`
	Metrics         *model.Metrics `json:"metrics,omitempty"`
	Version         int            `json:"version,omitempty"`
	TrainingSamples int            `json:"training_samples,omitempty"`
	NewSamples      int            `json:"new_samples,omitempty"`
}

// Orchestrator coordinates one retraining run at a time.
type Orchestrator struct {
	ledger    *ledger.Ledger
	artifacts *store.Store
	reloader  Reloader
	metrics   MetricsInterface
	policy    Policy
	dataDir   string

	running atomic.Bool
}

// New builds an orchestrator. dataDir is where the optional base training
// set lives, alongside the feedback database.
func New(l *ledger.Ledger, artifacts *store.Store, reloader Reloader, metrics MetricsInterface, policy Policy, dataDir string) *Orchestrator {
	return &Orchestrator{
		ledger:    l,
		artifacts: artifacts,
		reloader:  reloader,
		metrics:   metrics,
		policy:    policy,
		dataDir:   dataDir,
	}
}

// Check evaluates the retraining policy against the ledger.
func (o *Orchestrator) Check() (CheckResult, error) {
	total, err := o.ledger.Count()
	if err != nil {
		return CheckResult{}, fmt.Errorf("count feedback: %w", err)
	}
	recent, err := o.ledger.CountSince(time.Now().Add(-o.policy.RecentWindow))
	if err != nil {
		return CheckResult{}, fmt.Errorf("count recent feedback: %w", err)
	}

	res := CheckResult{TotalSamples: total, RecentSamples: recent}
	switch {
	case total >= o.policy.MinTotal && recent >= o.policy.MinRecent:
		res.ShouldRetrain = true
		res.Reason = "sufficient data for retraining"
	case total >= o.policy.ConsiderAt:
		res.Reason = "consider retraining soon"
	default:
		res.Reason = "continue collecting data"
	}
	return res, nil
}

// Run executes one retraining attempt. Only one run may be in flight;
// concurrent triggers get ErrInProgress. A run that stops for a policy or
// gate reason returns a non-success Result with a nil error.
func (o *Orchestrator) Run(ctx context.Context) (Result, error) {
	if !o.running.CompareAndSwap(false, true) {
		return Result{}, ErrInProgress
	}
	defer o.running.Store(false)

	if o.metrics != nil {
		o.metrics.RetrainRunsInc()
	}

	res, err := o.run(ctx)
	if err != nil && o.metrics != nil {
		o.metrics.RetrainFailuresInc()
	}
	return res, err
}

// Start launches a retraining cycle off the caller's path, failing fast
// with ErrInProgress when one is already running. The outcome is logged.
func (o *Orchestrator) Start(ctx context.Context) error {
	if !o.running.CompareAndSwap(false, true) {
		return ErrInProgress
	}

	if o.metrics != nil {
		o.metrics.RetrainRunsInc()
	}

	go func() {
		defer o.running.Store(false)

		res, err := o.run(ctx)
		switch {
		case err != nil:
			if o.metrics != nil {
				o.metrics.RetrainFailuresInc()
			}
			log.Error().Err(err).Msg("background retraining failed")
		case res.Success:
			log.Info().
				Int("version", res.Version).
				Int("samples", res.TrainingSamples).
				Msg("background retraining promoted a new model")
		default:
			log.Info().Str("reason", res.Reason).Msg("background retraining did not promote")
		}
	}()

	return nil
}

func (o *Orchestrator) run(ctx context.Context) (Result, error) {
	check, err := o.Check()
	if err != nil {
		return Result{}, err
	}
	if !check.ShouldRetrain {
		log.Info().
			Int("total", check.TotalSamples).
			Int("recent", check.RecentSamples).
			Str("reason", check.Reason).
			Msg("retraining not justified")
		return Result{Success: false, Reason: check.Reason}, nil
	}

	records, err := o.ledger.All()
	if err != nil {
		return Result{}, fmt.Errorf("read feedback ledger: %w", err)
	}

	schema := o.schema()
	X, y := Prepare(records, schema)
	if len(X) == 0 {
		return Result{Success: false, Reason: "no labelable feedback records"}, nil
	}
	newSamples := len(X)

	baseX, baseY, err := o.loadBaseSet(schema)
	if err != nil {
		log.Warn().Err(err).Msg("base training set unavailable, training on feedback only")
	}
	X = append(baseX, X...)
	y = append(baseY, y...)

	trainX, trainY, valX, valY := model.StratifiedSplit(X, y, o.policy.ValFraction, o.policy.Seed)
	if len(valX) == 0 || len(trainX) == 0 {
		return Result{Success: false, Reason: "not enough samples to hold out a validation split"}, nil
	}

	// Rebalance the training split only; the validation split stays as
	// observed.
	trainX, trainY = model.Oversample(trainX, trainY, o.policy.Seed)

	fitted, err := model.Train(ctx, trainX, trainY, schema, model.TrainOptions{})
	if err != nil {
		return Result{}, fmt.Errorf("fit candidate: %w", err)
	}

	metrics := model.Evaluate(fitted, valX, valY)
	log.Info().
		Float64("accuracy", metrics.Accuracy).
		Float64("precision", metrics.Precision).
		Float64("recall", metrics.Recall).
		Float64("f1", metrics.F1Score).
		Int("training_samples", len(trainX)).
		Int("validation_samples", len(valX)).
		Msg("candidate model validated")

	candidate := &store.Artifact{
		Model:           fitted,
		TrainedAt:       time.Now().UTC(),
		Metrics:         metrics,
		TrainingSamples: len(X),
		NewSamples:      newSamples,
	}

	if err := o.artifacts.Promote(candidate); err != nil {
		var rejected *store.RejectedError
		if errors.As(err, &rejected) {
			return Result{
				Success:         false,
				Reason:          rejected.Error(),
				Metrics:         &metrics,
				TrainingSamples: len(X),
				NewSamples:      newSamples,
			}, nil
		}
		return Result{}, fmt.Errorf("promote candidate: %w", err)
	}

	if o.metrics != nil {
		o.metrics.ModelF1Set(metrics.F1Score)
	}
	if o.reloader != nil {
		if err := o.reloader.Reload(); err != nil {
			log.Error().Err(err).Msg("predictor reload after promotion failed")
		}
	}

	return Result{
		Success:         true,
		Metrics:         &metrics,
		Version:         candidate.Version,
		TrainingSamples: len(X),
		NewSamples:      newSamples,
	}, nil
}

// Prepare converts feedback records into labelled training pairs. An
// explicit completion flag wins; otherwise the watch-time ratio decides,
// with a missing ratio counting as a dropout.
func Prepare(records []ledger.Record, schema []string) ([][]float64, []int) {
	X := make([][]float64, 0, len(records))
	y := make([]int, 0, len(records))

	for _, rec := range records {
		vec, _ := features.Map(rec.Responses, schema)

		label := 1
		switch {
		case rec.Outcome.Completed != nil:
			if *rec.Outcome.Completed {
				label = 0
			}
		case rec.Outcome.WatchTimeRatio != nil:
			if *rec.Outcome.WatchTimeRatio >= completionThreshold {
				label = 0
			}
		}

		X = append(X, vec)
		y = append(y, label)
	}
	return X, y
}

// schema returns the feature list to train against: the active model's
// schema when one exists, the default survey schema otherwise.
func (o *Orchestrator) schema() []string {
	if art, err := o.artifacts.LoadActive(); err == nil {
		return art.Model.FeatureNames
	}
	return features.DefaultSchema()
}

type baseSet struct {
	Features []string    `json:"features"`
	X        [][]float64 `json:"x"`
	Y        []int       `json:"y"`
}

// loadBaseSet reads the stored original training set, if any. A base set
// recorded against a different schema is skipped rather than zero-padded.
func (o *Orchestrator) loadBaseSet(schema []string) ([][]float64, []int, error) {
	data, err := os.ReadFile(filepath.Join(o.dataDir, baseSetName))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil, nil
		}
		return nil, nil, err
	}

	var base baseSet
	if err := json.Unmarshal(data, &base); err != nil {
		return nil, nil, fmt.Errorf("decode base training set: %w", err)
	}
	if !sameSchema(base.Features, schema) {
		return nil, nil, fmt.Errorf("base training set schema does not match active schema")
	}
	if len(base.X) != len(base.Y) {
		return nil, nil, fmt.Errorf("base training set has %d samples but %d labels", len(base.X), len(base.Y))
	}
	return base.X, base.Y, nil
}

func sameSchema(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}
