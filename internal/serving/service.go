// Package serving is the request boundary of the dropout prediction
// service: input validation, the facade the HTTP handlers call, and the
// HTTP server itself.
package serving

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"

	"movie-dropoff/internal/ledger"
	"movie-dropoff/internal/predict"
	"movie-dropoff/internal/retrain"
	"movie-dropoff/internal/store"
)

// MetricsInterface is the subset of metrics the boundary itself records.
type MetricsInterface interface {
	ValidationFailuresInc()
	FeedbackAppendsInc()
}

// Service ties the predictor, ledger and orchestrator together behind a
// validated API. Handlers talk only to Service.
type Service struct {
	predictor    *predict.Service
	feedback     *ledger.Ledger
	orchestrator *retrain.Orchestrator
	artifacts    *store.Store
	metrics      MetricsInterface
}

func NewService(predictor *predict.Service, feedback *ledger.Ledger, orchestrator *retrain.Orchestrator, artifacts *store.Store, metrics MetricsInterface) *Service {
	return &Service{
		predictor:    predictor,
		feedback:     feedback,
		orchestrator: orchestrator,
		artifacts:    artifacts,
		metrics:      metrics,
	}
}

// Predict validates the survey responses and scores them. A validation
// failure returns a *ValidationError and never touches the model.
func (s *Service) Predict(responses map[string]any) (predict.Result, error) {
	if err := validateResponses(responses); err != nil {
		s.metrics.ValidationFailuresInc()
		return predict.Result{}, err
	}
	return s.predictor.Predict(responses), nil
}

// PredictForMovie scores the responses and adjusts the probability for the
// given movie's runtime and rating.
func (s *Service) PredictForMovie(responses map[string]any, movie predict.MovieInfo) (predict.Result, error) {
	if err := validateResponses(responses); err != nil {
		s.metrics.ValidationFailuresInc()
		return predict.Result{}, err
	}
	return s.predictor.PredictForMovie(responses, movie), nil
}

// Feedback is a submitted outcome observation.
type Feedback struct {
	Responses map[string]any       `json:"responses"`
	Outcome   ledger.Outcome       `json:"outcome"`
	Movie     *ledger.MovieContext `json:"movie,omitempty"`
}

// SubmitFeedback appends an outcome observation to the ledger. The outcome
// must carry the completion flag or a watch-time ratio; responses are
// validated like prediction input.
func (s *Service) SubmitFeedback(fb Feedback) (uint64, error) {
	var faults []string
	if len(fb.Responses) == 0 {
		faults = append(faults, "responses are required")
	}
	if fb.Outcome.Completed == nil && fb.Outcome.WatchTimeRatio == nil {
		faults = append(faults, "outcome must include completed or watch_time_ratio")
	}
	if fb.Outcome.WatchTimeRatio != nil {
		if r := *fb.Outcome.WatchTimeRatio; r < 0 || r > 1 {
			faults = append(faults, fmt.Sprintf("watch_time_ratio must be between 0 and 1, got %g", r))
		}
	}
	if len(faults) > 0 {
		s.metrics.ValidationFailuresInc()
		return 0, &ValidationError{Fields: faults}
	}
	if err := validateResponses(fb.Responses); err != nil {
		s.metrics.ValidationFailuresInc()
		return 0, err
	}

	seq, err := s.feedback.Append(ledger.Record{
		Responses: fb.Responses,
		Outcome:   fb.Outcome,
		Movie:     fb.Movie,
	})
	if err != nil {
		return 0, fmt.Errorf("append feedback: %w", err)
	}
	s.metrics.FeedbackAppendsInc()
	log.Debug().Uint64("seq", seq).Msg("feedback recorded")
	return seq, nil
}

// ModelInfo describes the serving state and artifact history.
type ModelInfo struct {
	Mode          string              `json:"mode"`
	ActiveVersion int                 `json:"active_version"`
	FeatureNames  []string            `json:"feature_names"`
	LastRetrained *time.Time          `json:"last_retrained,omitempty"`
	Versions      []store.VersionInfo `json:"versions"`
}

func (s *Service) ModelInfo() ModelInfo {
	info := ModelInfo{
		Mode:          s.predictor.Mode().String(),
		ActiveVersion: s.predictor.ModelVersion(),
		FeatureNames:  s.predictor.FeatureNames(),
		Versions:      s.artifacts.Versions(),
	}
	if t := s.artifacts.LastRetrained(); !t.IsZero() {
		info.LastRetrained = &t
	}
	return info
}

// RetrainingCheck reports whether the ledger holds enough data to retrain.
func (s *Service) RetrainingCheck() (retrain.CheckResult, error) {
	return s.orchestrator.Check()
}

// Retrain runs one retraining cycle. Returns retrain.ErrInProgress when a
// cycle is already running.
func (s *Service) Retrain(ctx context.Context) (retrain.Result, error) {
	return s.orchestrator.Run(ctx)
}

// StartRetrain launches a retraining cycle in the background, failing fast
// with retrain.ErrInProgress when one is already running.
func (s *Service) StartRetrain(ctx context.Context) error {
	return s.orchestrator.Start(ctx)
}
