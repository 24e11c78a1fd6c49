package serving

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"movie-dropoff/internal/ledger"
	"movie-dropoff/internal/predict"
	"movie-dropoff/internal/retrain"
	"movie-dropoff/internal/store"
)

type mockMetrics struct {
	validationFailures int
	feedbackAppends    int
}

func (m *mockMetrics) ValidationFailuresInc() { m.validationFailures++ }
func (m *mockMetrics) FeedbackAppendsInc()    { m.feedbackAppends++ }

func newTestServer(t *testing.T) (*Server, *mockMetrics) {
	t.Helper()
	dataDir := t.TempDir()

	feedback, err := ledger.Open(dataDir)
	if err != nil {
		t.Fatalf("ledger open failed: %v", err)
	}
	t.Cleanup(func() { feedback.Close() })

	artifacts, err := store.Open(filepath.Join(dataDir, "models"), 0.70)
	if err != nil {
		t.Fatalf("store open failed: %v", err)
	}

	predictor := predict.New(artifacts, nil)
	orchestrator := retrain.New(feedback, artifacts, predictor, nil, retrain.DefaultPolicy(), dataDir)

	metrics := &mockMetrics{}
	svc := NewService(predictor, feedback, orchestrator, artifacts, metrics)
	return NewServer(svc, 0, 10*time.Second), metrics
}

func doJSON(t *testing.T, srv *Server, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("encode request: %v", err)
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	rec := httptest.NewRecorder()
	srv.server.Handler.ServeHTTP(rec, req)
	return rec
}

func TestPredictEndpoint(t *testing.T) {
	srv, _ := newTestServer(t)

	rec := doJSON(t, srv, http.MethodPost, "/predict", map[string]any{
		"responses": map[string]any{
			"boring_plot":            1,
			"total_stopping_reasons": 5,
			"genre_completion_ratio": 0.2,
		},
	})

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body %s", rec.Code, rec.Body.String())
	}

	var res predict.Result
	if err := json.Unmarshal(rec.Body.Bytes(), &res); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if res.Probability <= 0 || res.RiskTier == "" || res.Segment == "" {
		t.Errorf("incomplete result: %+v", res)
	}
	if !res.Fallback {
		t.Error("empty store should serve fallback predictions")
	}
}

func TestPredictEndpoint_ValidationFailure(t *testing.T) {
	srv, metrics := newTestServer(t)

	rec := doJSON(t, srv, http.MethodPost, "/predict", map[string]any{
		"responses": map[string]any{"patience_score": 0.5},
	})

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", rec.Code)
	}

	var resp errorResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode error response: %v", err)
	}
	if len(resp.Fields) != 2 {
		t.Errorf("Fields = %v, want both missing required fields", resp.Fields)
	}
	if metrics.validationFailures != 1 {
		t.Errorf("validation failures = %d, want 1", metrics.validationFailures)
	}
}

func TestPredictEndpoint_MalformedBody(t *testing.T) {
	srv, _ := newTestServer(t)

	req := httptest.NewRequest(http.MethodPost, "/predict", bytes.NewBufferString("{oops"))
	rec := httptest.NewRecorder()
	srv.server.Handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", rec.Code)
	}
}

func TestMoviePredictEndpoint(t *testing.T) {
	srv, _ := newTestServer(t)

	body := map[string]any{
		"responses": map[string]any{
			"boring_plot":            1,
			"total_stopping_reasons": 5,
			"genre_completion_ratio": 0.2,
		},
		"movie": map[string]any{
			"title":           "The Irishman",
			"runtime_minutes": 209,
			"imdb_score":      7.8,
		},
	}
	rec := doJSON(t, srv, http.MethodPost, "/movies/tt1302006/predict", body)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body %s", rec.Code, rec.Body.String())
	}

	var withMovie predict.Result
	if err := json.Unmarshal(rec.Body.Bytes(), &withMovie); err != nil {
		t.Fatalf("decode response: %v", err)
	}

	// Same responses without movie context for comparison: +0.10 runtime,
	// -0.10 rating, so the probability is unchanged but still computed.
	base := doJSON(t, srv, http.MethodPost, "/predict", map[string]any{"responses": body["responses"]})
	var baseRes predict.Result
	if err := json.Unmarshal(base.Body.Bytes(), &baseRes); err != nil {
		t.Fatalf("decode base response: %v", err)
	}
	if withMovie.Probability != baseRes.Probability {
		t.Errorf("probability = %v, want %v (adjustments cancel)", withMovie.Probability, baseRes.Probability)
	}
}

func TestFeedbackEndpoint(t *testing.T) {
	srv, metrics := newTestServer(t)

	rec := doJSON(t, srv, http.MethodPost, "/feedback", map[string]any{
		"responses": map[string]any{
			"boring_plot":            1,
			"total_stopping_reasons": 4,
		},
		"outcome": map[string]any{"watch_time_ratio": 0.35},
	})

	if rec.Code != http.StatusCreated {
		t.Fatalf("status = %d, body %s", rec.Code, rec.Body.String())
	}

	var resp feedbackResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if resp.Seq != 1 {
		t.Errorf("Seq = %d, want 1", resp.Seq)
	}
	if metrics.feedbackAppends != 1 {
		t.Errorf("feedback appends = %d, want 1", metrics.feedbackAppends)
	}
}

func TestFeedbackEndpoint_MissingOutcome(t *testing.T) {
	srv, metrics := newTestServer(t)

	rec := doJSON(t, srv, http.MethodPost, "/feedback", map[string]any{
		"responses": map[string]any{
			"boring_plot":            1,
			"total_stopping_reasons": 4,
		},
	})

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", rec.Code)
	}
	if metrics.validationFailures != 1 {
		t.Errorf("validation failures = %d, want 1", metrics.validationFailures)
	}
	if metrics.feedbackAppends != 0 {
		t.Error("invalid feedback reached the ledger")
	}
}

func TestModelInfoEndpoint(t *testing.T) {
	srv, _ := newTestServer(t)

	rec := doJSON(t, srv, http.MethodGet, "/model/info", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}

	var info ModelInfo
	if err := json.Unmarshal(rec.Body.Bytes(), &info); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if info.Mode != "fallback" {
		t.Errorf("Mode = %q, want fallback for empty store", info.Mode)
	}
	if info.ActiveVersion != 0 {
		t.Errorf("ActiveVersion = %d, want 0", info.ActiveVersion)
	}
}

func TestRetrainCheckEndpoint(t *testing.T) {
	srv, _ := newTestServer(t)

	rec := doJSON(t, srv, http.MethodGet, "/retrain/check", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}

	var check retrain.CheckResult
	if err := json.Unmarshal(rec.Body.Bytes(), &check); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if check.ShouldRetrain {
		t.Error("empty ledger should not justify retraining")
	}
	if check.Reason != "continue collecting data" {
		t.Errorf("Reason = %q", check.Reason)
	}
}

func TestRetrainEndpoint_Accepted(t *testing.T) {
	srv, _ := newTestServer(t)

	rec := doJSON(t, srv, http.MethodPost, "/retrain", nil)
	if rec.Code != http.StatusAccepted {
		t.Errorf("status = %d, want 202", rec.Code)
	}
}

func TestHealthEndpoint(t *testing.T) {
	srv, _ := newTestServer(t)

	rec := doJSON(t, srv, http.MethodGet, "/health", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}

	var health map[string]any
	if err := json.Unmarshal(rec.Body.Bytes(), &health); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if health["status"] != "ok" {
		t.Errorf("status field = %v", health["status"])
	}
	if health["mode"] != "fallback" {
		t.Errorf("mode = %v, want fallback for empty store", health["mode"])
	}
}

func TestMethodNotAllowed(t *testing.T) {
	srv, _ := newTestServer(t)

	rec := doJSON(t, srv, http.MethodGet, "/predict", nil)
	if rec.Code != http.StatusMethodNotAllowed {
		t.Errorf("status = %d, want 405", rec.Code)
	}
}
