// Package predict wraps the active trained model, or a deterministic rule
// set when no usable model exists, and turns raw survey responses into
// dropout predictions. It owns the Real/Fallback state machine: the service
// degrades quality rather than availability, and only an explicit reload
// after a promotion moves it back onto a trained model.
package predict

import (
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"movie-dropoff/internal/features"
	"movie-dropoff/internal/store"
)

// MetricsInterface defines the metrics methods needed by the predictor.
type MetricsInterface interface {
	PredictionsInc()
	FallbackUseInc()
	ScoringFaultsInc()
	LatencyObserve(float64)
	ProbabilityObserve(float64)
	DefaultedFeaturesAdd(float64)
	ModelVersionSet(float64)
	FallbackModeSet(bool)
}

// Mode is the predictor's scoring state.
type Mode int

const (
	// ModeReal scores with the active trained model.
	ModeReal Mode = iota
	// ModeFallback scores with the fixed rule table.
	ModeFallback
)

func (m Mode) String() string {
	if m == ModeReal {
		return "real"
	}
	return "fallback"
}

// ScoringFault reports a failed scoring attempt against the trained model.
// It is a per-request condition: the predictor answers it by retrying the
// request on the rule path, never by failing the request.
type ScoringFault struct {
	Version int
	Err     error
}

func (f *ScoringFault) Error() string {
	return fmt.Sprintf("model v%d scoring fault: %v", f.Version, f.Err)
}

func (f *ScoringFault) Unwrap() error { return f.Err }

// Result is a single dropout prediction. Derived, never persisted.
type Result struct {
	Probability     float64   `json:"dropout_probability"`
	RiskTier        string    `json:"risk_tier"`
	Segment         string    `json:"user_segment"`
	Recommendations []string  `json:"recommendations"`
	Confidence      float64   `json:"confidence_score"`
	ModelVersion    int       `json:"model_version"`
	Fallback        bool      `json:"fallback"`
	Timestamp       time.Time `json:"timestamp"`
}

// Service is the predictor handle passed to request handlers. Requests read
// the artifact pointer as an immutable snapshot; the only runtime mutations
// are the Real→Fallback flip on a scoring fault and Reload after a
// promotion.
type Service struct {
	mu       sync.RWMutex
	mode     Mode
	artifact *store.Artifact

	artifacts *store.Store
	metrics   MetricsInterface
}

// New builds a predictor from the artifact store. A missing or unusable
// artifact is a recoverable condition: the service starts in fallback mode
// and keeps serving.
func New(artifacts *store.Store, metrics MetricsInterface) *Service {
	s := &Service{
		mode:      ModeFallback,
		artifacts: artifacts,
		metrics:   metrics,
	}

	art, err := artifacts.LoadActive()
	if err != nil {
		log.Warn().Err(err).Msg("no usable model artifact, starting in rule-based fallback mode")
	} else {
		s.mode = ModeReal
		s.artifact = art
		log.Info().
			Int("version", art.Version).
			Int("features", len(art.Model.FeatureNames)).
			Float64("f1", art.Metrics.F1Score).
			Msg("trained model loaded")
	}

	s.publishState()
	return s
}

// Reload re-reads the active artifact from the store. It is the single
// Fallback→Real recovery point, called after a successful promotion; a
// failed reload keeps or enters fallback mode.
func (s *Service) Reload() error {
	art, err := s.artifacts.LoadActive()

	s.mu.Lock()
	if err != nil {
		s.mode = ModeFallback
		s.artifact = nil
	} else {
		s.mode = ModeReal
		s.artifact = art
	}
	s.mu.Unlock()
	s.publishState()

	if err != nil {
		return fmt.Errorf("reload active model: %w", err)
	}
	log.Info().Int("version", art.Version).Msg("predictor reloaded active model")
	return nil
}

// Mode returns the current scoring state.
func (s *Service) Mode() Mode {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.mode
}

// ModelVersion returns the active artifact version, 0 in fallback mode.
func (s *Service) ModelVersion() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.artifact == nil {
		return 0
	}
	return s.artifact.Version
}

// FeatureNames returns the active model schema, nil in fallback mode.
func (s *Service) FeatureNames() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.artifact == nil {
		return nil
	}
	return s.artifact.Model.FeatureNames
}

// TrainedAt returns when the active model was trained, zero in fallback mode.
func (s *Service) TrainedAt() time.Time {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.artifact == nil {
		return time.Time{}
	}
	return s.artifact.TrainedAt
}

// Predict produces a dropout prediction for raw survey responses. It always
// returns a result: a scoring fault against the trained model is logged,
// counted, and the request is retried once on the rule path.
func (s *Service) Predict(raw map[string]any) Result {
	start := time.Now()
	defer func() {
		if s.metrics != nil {
			s.metrics.LatencyObserve(time.Since(start).Seconds())
		}
	}()

	s.mu.RLock()
	mode := s.mode
	art := s.artifact
	s.mu.RUnlock()

	var (
		probability float64
		confidence  float64
		fallback    bool
		version     int
	)

	if mode == ModeReal {
		p, fault := s.scoreReal(art, raw)
		if fault != nil {
			log.Error().Err(fault.Err).Int("model_version", fault.Version).
				Msg("trained model scoring failed, retrying request on rule path")
			if s.metrics != nil {
				s.metrics.ScoringFaultsInc()
			}
			s.enterFallback()
			probability, confidence, fallback = ruleScore(raw), fallbackConfidence, true
		} else {
			probability = p
			confidence = max(p, 1-p)
			version = art.Version
		}
	} else {
		probability, confidence, fallback = ruleScore(raw), fallbackConfidence, true
	}

	if s.metrics != nil {
		s.metrics.PredictionsInc()
		s.metrics.ProbabilityObserve(probability)
		if fallback {
			s.metrics.FallbackUseInc()
		}
	}

	tier := tierFor(probability)
	return Result{
		Probability:     probability,
		RiskTier:        tier,
		Segment:         segmentFor(tier),
		Recommendations: recommendationsFor(tier, raw),
		Confidence:      confidence,
		ModelVersion:    version,
		Fallback:        fallback,
		Timestamp:       time.Now().UTC(),
	}
}

// MovieInfo carries the movie attributes that shift a base prediction.
type MovieInfo struct {
	RuntimeMinutes int
	IMDBScore      float64
}

// PredictForMovie adjusts the user-level prediction for a specific movie
// and rebuilds the tier, segment and recommendations from the adjusted
// probability.
func (s *Service) PredictForMovie(raw map[string]any, movie MovieInfo) Result {
	res := s.Predict(raw)
	res.Probability = adjustForMovie(res.Probability, movie)
	res.RiskTier = tierFor(res.Probability)
	res.Segment = segmentFor(res.RiskTier)
	res.Recommendations = recommendationsFor(res.RiskTier, raw)
	return res
}

// scoreReal maps the raw input onto the model schema and scores it. The
// defaulted-feature count is surfaced as a metric so silent zero-fill stays
// observable.
func (s *Service) scoreReal(art *store.Artifact, raw map[string]any) (float64, *ScoringFault) {
	vec, defaulted := features.Map(raw, art.Model.FeatureNames)
	if len(defaulted) > 0 {
		if s.metrics != nil {
			s.metrics.DefaultedFeaturesAdd(float64(len(defaulted)))
		}
		log.Debug().Strs("features", defaulted).Msg("input missing model features, defaulted to zero")
	}

	p, err := art.Model.Score(vec)
	if err != nil {
		return 0, &ScoringFault{Version: art.Version, Err: err}
	}
	return p, nil
}

// enterFallback flips the state machine. There is no automatic reverse
// transition; recovery goes through Reload.
func (s *Service) enterFallback() {
	s.mu.Lock()
	changed := s.mode != ModeFallback
	s.mode = ModeFallback
	s.artifact = nil
	s.mu.Unlock()
	if changed {
		log.Warn().Msg("predictor switched to rule-based fallback mode")
		s.publishState()
	}
}

func (s *Service) publishState() {
	if s.metrics == nil {
		return
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	s.metrics.FallbackModeSet(s.mode == ModeFallback)
	if s.artifact != nil {
		s.metrics.ModelVersionSet(float64(s.artifact.Version))
	} else {
		s.metrics.ModelVersionSet(0)
	}
}
