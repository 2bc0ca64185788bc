package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/pixelated-empathy/bias-engine/internal/core"
)

// handleAlerts lists active alerts, newest first.
func (s *Server) handleAlerts(w http.ResponseWriter, _ *http.Request) {
	active, err := s.engine.ActiveAlerts()
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"success": true,
		"data":    active,
	})
}

// handleResolveAlert marks one alert as handled.
func (s *Server) handleResolveAlert(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if id == "" {
		writeError(w, core.ErrValidation(core.CodeInvalidConfig, "alert id is required"))
		return
	}

	alert, err := s.engine.ResolveAlert(id)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"success": true,
		"data":    alert,
	})
}
