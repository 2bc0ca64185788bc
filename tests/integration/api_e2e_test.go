//go:build integration

package integration_test

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pixelated-empathy/bias-engine/internal/alerts"
	"github.com/pixelated-empathy/bias-engine/internal/analysis"
	"github.com/pixelated-empathy/bias-engine/internal/api"
	"github.com/pixelated-empathy/bias-engine/internal/config"
	"github.com/pixelated-empathy/bias-engine/internal/core"
	"github.com/pixelated-empathy/bias-engine/internal/events"
	"github.com/pixelated-empathy/bias-engine/internal/logging"
	"github.com/pixelated-empathy/bias-engine/internal/metrics"
	"github.com/pixelated-empathy/bias-engine/internal/store"
)

// fakeService stands in for the Python analysis service. Scores are
// keyed by layer name.
func fakeService(t *testing.T, scores map[string]float64) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()
	mux.HandleFunc("/health", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	mux.HandleFunc("/analyze/", func(w http.ResponseWriter, r *http.Request) {
		layer := strings.TrimPrefix(r.URL.Path, "/analyze/")
		score, ok := scores[layer]
		if !ok {
			http.Error(w, fmt.Sprintf(`{"error":"unknown layer %s"}`, layer), http.StatusBadRequest)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprintf(w, `{"bias_score": %g, "confidence": 0.9}`, score)
	})
	mux.HandleFunc("/metrics/batch", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	mux.HandleFunc("/events", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv
}

func analysisConfig() config.AnalysisConfig {
	return config.AnalysisConfig{
		Thresholds: core.Thresholds{Warning: 0.3, High: 0.6, Critical: 0.8},
		Weights: config.LayerWeights{
			Preprocessing: 0.25,
			ModelLevel:    0.30,
			Interactive:   0.20,
			Evaluation:    0.25,
		},
		CacheCapacity:   100,
		HIPAACompliance: true,
		AuditLogging:    false,
	}
}

// newStack wires a full engine with real SQLite persistence against the
// fake service and returns the API test server.
func newStack(t *testing.T, serviceURL, dbPath string) (*httptest.Server, *analysis.Engine) {
	t.Helper()

	logger := logging.NewNop()
	bus := events.New(100)
	t.Cleanup(bus.Close)

	client := analysis.NewServiceClient(serviceURL, 5*time.Second, logger)
	collector := metrics.NewCollector(client, logger, bus, metrics.WithRealtimeEvents(false))
	alertSystem := alerts.NewSystem(logger, bus)

	st, err := store.NewResultStore(dbPath)
	require.NoError(t, err)
	t.Cleanup(func() { _ = st.Close() })

	engine := analysis.NewEngine(analysisConfig(), client, collector, alertSystem, bus, logger,
		analysis.WithStore(st))
	require.NoError(t, engine.Initialize(context.Background()))
	t.Cleanup(func() { _ = engine.Close() })

	cfg := &config.Config{
		HTTP: config.HTTPConfig{
			Addr:               ":0",
			RateLimitPerMinute: 1000,
			RequestTimeout:     "10s",
		},
	}
	apiServer := api.New(cfg, engine, logger)
	ts := httptest.NewServer(apiServer.Router())
	t.Cleanup(ts.Close)
	return ts, engine
}

func sessionBody(id string) []byte {
	body, _ := json.Marshal(map[string]interface{}{
		"session": map[string]interface{}{
			"session_id": id,
			"timestamp":  time.Now().UTC().Format(time.RFC3339),
			"participant_demographics": map[string]string{
				"age_band":  "35-44",
				"gender":    "non-binary",
				"ethnicity": "hispanic",
			},
			"training_scenario": map[string]string{
				"type":       "depression-screening",
				"complexity": "intermediate",
			},
			"content": map[string]interface{}{
				"patient_presentation": "Client describes low mood over several weeks.",
			},
		},
	})
	return body
}

func TestAnalyzeRoundTrip(t *testing.T) {
	svc := fakeService(t, map[string]float64{
		"preprocessing": 0.2,
		"model_level":   0.7,
		"interactive":   0.4,
		"evaluation":    0.5,
	})
	dbPath := filepath.Join(t.TempDir(), "results.db")
	ts, _ := newStack(t, svc.URL, dbPath)

	const sessionID = "7f9c2ba4-e88f-4f59-a1c2-0d3e4f5a6b7c"

	resp, err := http.Post(ts.URL+"/api/v1/analyze", "application/json",
		bytes.NewReader(sessionBody(sessionID)))
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var analyzeResp struct {
		Success bool                `json:"success"`
		Data    core.AnalysisResult `json:"data"`
	}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&analyzeResp))
	assert.True(t, analyzeResp.Success)
	// 0.2*0.25 + 0.7*0.30 + 0.4*0.20 + 0.5*0.25 = 0.465
	assert.InDelta(t, 0.465, analyzeResp.Data.OverallBiasScore, 1e-9)
	assert.Equal(t, core.AlertLevelMedium, analyzeResp.Data.AlertLevel)
	assert.Len(t, analyzeResp.Data.Layers, 4)

	// Second analysis of the same session is served from the cache.
	resp2, err := http.Post(ts.URL+"/api/v1/analyze", "application/json",
		bytes.NewReader(sessionBody(sessionID)))
	require.NoError(t, err)
	defer resp2.Body.Close()
	assert.Equal(t, "true", resp2.Header.Get("X-Cache-Hit"))
}

func TestResultSurvivesRestart(t *testing.T) {
	svc := fakeService(t, map[string]float64{
		"preprocessing": 0.1,
		"model_level":   0.1,
		"interactive":   0.1,
		"evaluation":    0.1,
	})
	dbPath := filepath.Join(t.TempDir(), "results.db")

	const sessionID = "3d1f8a2b-6c4e-4d7f-9a0b-1c2d3e4f5a6b"

	ts1, engine1 := newStack(t, svc.URL, dbPath)
	resp, err := http.Post(ts1.URL+"/api/v1/analyze", "application/json",
		bytes.NewReader(sessionBody(sessionID)))
	require.NoError(t, err)
	resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.NoError(t, engine1.Close())

	// Fresh engine, empty cache, same database.
	ts2, _ := newStack(t, svc.URL, dbPath)
	resp, err = http.Get(ts2.URL + "/api/v1/analyze?sessionId=" + sessionID)
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var getResp struct {
		Data core.AnalysisResult `json:"data"`
	}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&getResp))
	assert.Equal(t, sessionID, getResp.Data.SessionID)
	assert.Equal(t, core.AlertLevelLow, getResp.Data.AlertLevel)
}

func TestHighScoreRaisesAlert(t *testing.T) {
	svc := fakeService(t, map[string]float64{
		"preprocessing": 0.9,
		"model_level":   0.9,
		"interactive":   0.9,
		"evaluation":    0.9,
	})
	dbPath := filepath.Join(t.TempDir(), "results.db")
	ts, _ := newStack(t, svc.URL, dbPath)

	resp, err := http.Post(ts.URL+"/api/v1/analyze", "application/json",
		bytes.NewReader(sessionBody("9b8c7d6e-5f4a-4b3c-8d2e-1f0a9b8c7d6e")))
	require.NoError(t, err)
	resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	resp, err = http.Get(ts.URL + "/api/v1/alerts")
	require.NoError(t, err)
	defer resp.Body.Close()

	var alertsResp struct {
		Data []alerts.Alert `json:"data"`
	}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&alertsResp))
	require.Len(t, alertsResp.Data, 1)
	assert.Equal(t, core.AlertLevelCritical, alertsResp.Data[0].Level)
}

func TestReportDistribution(t *testing.T) {
	scores := map[string]float64{
		"preprocessing": 0.2,
		"model_level":   0.2,
		"interactive":   0.2,
		"evaluation":    0.2,
	}
	svc := fakeService(t, scores)
	dbPath := filepath.Join(t.TempDir(), "results.db")
	ts, _ := newStack(t, svc.URL, dbPath)

	// Three sessions scoring 0.2, 0.45 and 0.75 overall.
	cohort := []struct {
		id    string
		score float64
	}{
		{"0a1b2c3d-4e5f-4a6b-8c7d-8e9f0a1b2c3d", 0.2},
		{"1b2c3d4e-5f6a-4b7c-8d8e-9f0a1b2c3d4e", 0.45},
		{"2c3d4e5f-6a7b-4c8d-8e9f-0a1b2c3d4e5f", 0.75},
	}
	for _, s := range cohort {
		for layer := range scores {
			scores[layer] = s.score
		}
		resp, err := http.Post(ts.URL+"/api/v1/analyze", "application/json",
			bytes.NewReader(sessionBody(s.id)))
		require.NoError(t, err)
		resp.Body.Close()
		require.Equal(t, http.StatusOK, resp.StatusCode)
	}

	resp, err := http.Get(ts.URL + "/api/v1/report")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var reportResp struct {
		Data core.Report `json:"data"`
	}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&reportResp))
	summary := reportResp.Data.Summary
	assert.Equal(t, 3, summary.SessionCount)
	assert.Equal(t, 1, summary.AlertDistribution[core.AlertLevelLow])
	assert.Equal(t, 1, summary.AlertDistribution[core.AlertLevelMedium])
	assert.Equal(t, 1, summary.AlertDistribution[core.AlertLevelHigh])
	assert.Equal(t, 0, summary.AlertDistribution[core.AlertLevelCritical])
}

func TestPartialResultWhenLayerFails(t *testing.T) {
	// evaluation missing from the score table makes the fake return 400.
	svc := fakeService(t, map[string]float64{
		"preprocessing": 0.4,
		"model_level":   0.4,
		"interactive":   0.4,
	})
	dbPath := filepath.Join(t.TempDir(), "results.db")
	ts, _ := newStack(t, svc.URL, dbPath)

	resp, err := http.Post(ts.URL+"/api/v1/analyze", "application/json",
		bytes.NewReader(sessionBody("5a4b3c2d-1e0f-4a9b-8c7d-6e5f4a3b2c1d")))
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var analyzeResp struct {
		Data core.AnalysisResult `json:"data"`
	}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&analyzeResp))
	assert.True(t, analyzeResp.Data.Partial)
	assert.Equal(t, []core.Layer{core.LayerEvaluation}, analyzeResp.Data.FailedLayers)
	assert.Len(t, analyzeResp.Data.Layers, 3)
}
