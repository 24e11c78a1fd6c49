package serving

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog/log"

	"movie-dropoff/internal/predict"
	"movie-dropoff/internal/retrain"
)

// Server exposes the Service over HTTP.
type Server struct {
	svc    *Service
	server *http.Server
}

type predictRequest struct {
	Responses map[string]any `json:"responses"`
}

type movieDetails struct {
	Title          string  `json:"title,omitempty"`
	RuntimeMinutes int     `json:"runtime_minutes"`
	IMDBScore      float64 `json:"imdb_score"`
}

type moviePredictRequest struct {
	Responses map[string]any `json:"responses"`
	Movie     movieDetails   `json:"movie"`
}

type feedbackResponse struct {
	Seq uint64 `json:"seq"`
}

type errorResponse struct {
	Error  string   `json:"error"`
	Fields []string `json:"fields,omitempty"`
}

// NewServer wires the HTTP routes. The metrics endpoint serves the default
// Prometheus registry.
func NewServer(svc *Service, port int, requestTimeout time.Duration) *Server {
	s := &Server{svc: svc}

	mux := http.NewServeMux()
	mux.HandleFunc("POST /predict", s.handlePredict)
	mux.HandleFunc("POST /movies/{id}/predict", s.handleMoviePredict)
	mux.HandleFunc("POST /feedback", s.handleFeedback)
	mux.HandleFunc("GET /model/info", s.handleModelInfo)
	mux.HandleFunc("GET /retrain/check", s.handleRetrainCheck)
	mux.HandleFunc("POST /retrain", s.handleRetrain)
	mux.HandleFunc("GET /health", s.handleHealth)
	mux.Handle("GET /metrics", promhttp.Handler())

	s.server = &http.Server{
		Addr:         fmt.Sprintf(":%d", port),
		Handler:      mux,
		ReadTimeout:  requestTimeout,
		WriteTimeout: requestTimeout,
		IdleTimeout:  120 * time.Second,
	}

	return s
}

// Start begins serving HTTP requests.
func (s *Server) Start() error {
	log.Info().Str("addr", s.server.Addr).Msg("starting prediction server")
	return s.server.ListenAndServe()
}

// Shutdown gracefully shuts down the server.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.server.Shutdown(ctx)
}

func (s *Server) handlePredict(w http.ResponseWriter, r *http.Request) {
	var req predictRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, fmt.Errorf("invalid request body: %w", err))
		return
	}

	res, err := s.svc.Predict(req.Responses)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (s *Server) handleMoviePredict(w http.ResponseWriter, r *http.Request) {
	var req moviePredictRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, fmt.Errorf("invalid request body: %w", err))
		return
	}

	res, err := s.svc.PredictForMovie(req.Responses, predict.MovieInfo{
		RuntimeMinutes: req.Movie.RuntimeMinutes,
		IMDBScore:      req.Movie.IMDBScore,
	})
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	log.Debug().
		Str("movie_id", r.PathValue("id")).
		Float64("probability", res.Probability).
		Msg("movie prediction served")
	writeJSON(w, http.StatusOK, res)
}

func (s *Server) handleFeedback(w http.ResponseWriter, r *http.Request) {
	var fb Feedback
	if err := json.NewDecoder(r.Body).Decode(&fb); err != nil {
		writeError(w, http.StatusBadRequest, fmt.Errorf("invalid request body: %w", err))
		return
	}

	seq, err := s.svc.SubmitFeedback(fb)
	if err != nil {
		var verr *ValidationError
		if errors.As(err, &verr) {
			writeError(w, http.StatusBadRequest, err)
			return
		}
		log.Error().Err(err).Msg("feedback append failed")
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusCreated, feedbackResponse{Seq: seq})
}

func (s *Server) handleModelInfo(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.svc.ModelInfo())
}

func (s *Server) handleRetrainCheck(w http.ResponseWriter, r *http.Request) {
	check, err := s.svc.RetrainingCheck()
	if err != nil {
		log.Error().Err(err).Msg("retraining check failed")
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, check)
}

// handleRetrain launches retraining in the background; the active model
// keeps serving while it runs.
func (s *Server) handleRetrain(w http.ResponseWriter, r *http.Request) {
	err := s.svc.StartRetrain(context.Background())
	if err != nil {
		if errors.Is(err, retrain.ErrInProgress) {
			writeError(w, http.StatusConflict, err)
			return
		}
		log.Error().Err(err).Msg("retraining trigger failed")
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]string{"status": "retraining started"})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":         "ok",
		"mode":           s.svc.predictor.Mode().String(),
		"active_version": s.svc.predictor.ModelVersion(),
	})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Error().Err(err).Msg("response encoding failed")
	}
}

func writeError(w http.ResponseWriter, status int, err error) {
	resp := errorResponse{Error: err.Error()}
	var verr *ValidationError
	if errors.As(err, &verr) {
		resp.Fields = verr.Fields
	}
	writeJSON(w, status, resp)
}
