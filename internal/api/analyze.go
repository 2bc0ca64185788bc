package api

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/pixelated-empathy/bias-engine/internal/alerts"
	"github.com/pixelated-empathy/bias-engine/internal/analysis"
	"github.com/pixelated-empathy/bias-engine/internal/config"
	"github.com/pixelated-empathy/bias-engine/internal/core"
	"github.com/pixelated-empathy/bias-engine/internal/metrics"
	"github.com/pixelated-empathy/bias-engine/internal/report"
)

// EngineAPI is the slice of the analysis engine the HTTP layer needs.
type EngineAPI interface {
	AnalyzeSession(ctx context.Context, session *core.Session, opts analysis.AnalyzeOptions) (*core.AnalysisResult, error)
	GetSessionAnalysis(ctx context.Context, sessionID string, opts analysis.LookupOptions) (*core.AnalysisResult, error)
	UpdateThresholds(thresholds core.Thresholds, weights config.LayerWeights, validateOnly bool) analysis.ValidationResult
	AnalysisConfig() config.AnalysisConfig
	GetMetrics(ctx context.Context) (*metrics.Snapshot, error)
	GetDashboardData(ctx context.Context) (*metrics.Dashboard, error)
	GetPerformanceMetrics() (*metrics.Performance, error)
	ActiveAlerts() ([]alerts.Alert, error)
	ResolveAlert(id string) (*alerts.Alert, error)
	GenerateReport(ctx context.Context, tr core.TimeRange, opts report.Options) (*core.Report, error)
}

// maxRequestBody bounds analyze request bodies. Session content itself
// is capped separately during validation.
const maxRequestBody = 64 << 20

// analyzeRequest is the POST /analyze body.
type analyzeRequest struct {
	Session   *core.Session `json:"session"`
	SkipCache bool          `json:"skip_cache"`
}

// analyzeResponse is the success envelope for analysis responses.
type analyzeResponse struct {
	Success        bool                 `json:"success"`
	Data           *core.AnalysisResult `json:"data"`
	CacheHit       bool                 `json:"cacheHit"`
	ProcessingTime int64                `json:"processingTime"`
}

// handleAnalyze runs a full bias analysis for the posted session.
func (s *Server) handleAnalyze(w http.ResponseWriter, r *http.Request) {
	var req analyzeRequest
	body := io.LimitReader(r.Body, maxRequestBody)
	if err := json.NewDecoder(body).Decode(&req); err != nil {
		writeError(w, core.ErrValidation(core.CodeInvalidSession, "malformed request body").WithCause(err))
		return
	}

	started := time.Now()
	result, err := s.engine.AnalyzeSession(r.Context(), req.Session, analysis.AnalyzeOptions{
		SkipCache: req.SkipCache,
	})
	if err != nil {
		writeError(w, err)
		return
	}
	elapsed := time.Since(started).Milliseconds()

	w.Header().Set("X-Cache-Hit", fmt.Sprintf("%t", result.CacheHit))
	w.Header().Set("X-Processing-Time-Ms", fmt.Sprintf("%d", elapsed))
	writeJSON(w, http.StatusOK, analyzeResponse{
		Success:        true,
		Data:           result,
		CacheHit:       result.CacheHit,
		ProcessingTime: elapsed,
	})
}

// handleGetAnalysis returns the latest verdict for a session by ID.
// Query parameters: sessionId (required), includeCache (false forces a
// durable-store read), anonymize (mask sensitive demographics).
func (s *Server) handleGetAnalysis(w http.ResponseWriter, r *http.Request) {
	sessionID := r.URL.Query().Get("sessionId")
	if sessionID == "" {
		writeError(w, core.ErrValidation(core.CodeInvalidSession, "sessionId query parameter is required"))
		return
	}

	result, err := s.engine.GetSessionAnalysis(r.Context(), sessionID, analysis.LookupOptions{
		SkipCache: r.URL.Query().Get("includeCache") == "false",
	})
	if err != nil {
		writeError(w, err)
		return
	}

	if r.URL.Query().Get("anonymize") == "true" {
		anonymized := result.Anonymized()
		result = &anonymized
	}

	w.Header().Set("X-Cache-Hit", fmt.Sprintf("%t", result.CacheHit))
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"success": true,
		"data":    result,
	})
}

// explainRequest is the POST /analyze/explain body.
type explainRequest struct {
	SessionID              string `json:"session_id"`
	Layer                  string `json:"layer,omitempty"`
	IncludeCounterfactuals bool   `json:"include_counterfactuals"`
}

// handleExplain synthesizes a narrative explanation for an existing
// verdict.
func (s *Server) handleExplain(w http.ResponseWriter, r *http.Request) {
	var req explainRequest
	if err := json.NewDecoder(io.LimitReader(r.Body, 1<<20)).Decode(&req); err != nil {
		writeError(w, core.ErrValidation(core.CodeInvalidSession, "malformed request body").WithCause(err))
		return
	}
	if req.SessionID == "" {
		writeError(w, core.ErrValidation(core.CodeInvalidSession, "session_id is required"))
		return
	}

	result, err := s.engine.GetSessionAnalysis(r.Context(), req.SessionID, analysis.LookupOptions{})
	if err != nil {
		writeError(w, err)
		return
	}

	explanation, err := analysis.Explain(result, s.engine.AnalysisConfig().Thresholds, analysis.ExplainOptions{
		Layer:                  core.Layer(req.Layer),
		IncludeCounterfactuals: req.IncludeCounterfactuals,
	})
	if err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"success": true,
		"data":    explanation,
	})
}

// thresholdsRequest is the POST /thresholds body.
type thresholdsRequest struct {
	Thresholds   core.Thresholds     `json:"thresholds"`
	Weights      config.LayerWeights `json:"weights"`
	ValidateOnly bool                `json:"validate_only"`
}

// handleUpdateThresholds validates and applies a scoring configuration
// change. Validation failures are reported with 400 and the full list
// of problems; the active configuration stays untouched.
func (s *Server) handleUpdateThresholds(w http.ResponseWriter, r *http.Request) {
	var req thresholdsRequest
	if err := json.NewDecoder(io.LimitReader(r.Body, 1<<20)).Decode(&req); err != nil {
		writeError(w, core.ErrValidation(core.CodeInvalidConfig, "malformed request body").WithCause(err))
		return
	}

	result := s.engine.UpdateThresholds(req.Thresholds, req.Weights, req.ValidateOnly)
	status := http.StatusOK
	if !result.Success {
		status = http.StatusBadRequest
	}
	writeJSON(w, status, map[string]interface{}{
		"success": result.Success,
		"errors":  result.Errors,
	})
}

// handleReport builds a cohort report over a time range. Query
// parameters: from, to (RFC 3339), strict.
func (s *Server) handleReport(w http.ResponseWriter, r *http.Request) {
	var tr core.TimeRange
	if from := r.URL.Query().Get("from"); from != "" {
		t, err := time.Parse(time.RFC3339, from)
		if err != nil {
			writeError(w, core.ErrValidation(core.CodeInvalidConfig, "from must be RFC 3339"))
			return
		}
		tr.Start = t
	}
	if to := r.URL.Query().Get("to"); to != "" {
		t, err := time.Parse(time.RFC3339, to)
		if err != nil {
			writeError(w, core.ErrValidation(core.CodeInvalidConfig, "to must be RFC 3339"))
			return
		}
		tr.End = t
	}

	rep, err := s.engine.GenerateReport(r.Context(), tr, report.Options{
		Strict: r.URL.Query().Get("strict") == "true",
	})
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"success": true,
		"data":    rep,
	})
}
