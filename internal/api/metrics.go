package api

import "net/http"

// handleMetrics returns aggregate analysis metrics. When the external
// service is unreachable the body is local data with system_health set
// to degraded rather than an error.
func (s *Server) handleMetrics(w http.ResponseWriter, r *http.Request) {
	snap, err := s.engine.GetMetrics(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"success": true,
		"data":    snap,
	})
}

// handleDashboard returns dashboard data with the same degradation
// behavior as handleMetrics.
func (s *Server) handleDashboard(w http.ResponseWriter, r *http.Request) {
	dash, err := s.engine.GetDashboardData(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"success": true,
		"data":    dash,
	})
}

// handlePerformance returns locally computed performance data.
func (s *Server) handlePerformance(w http.ResponseWriter, _ *http.Request) {
	perf, err := s.engine.GetPerformanceMetrics()
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"success": true,
		"data":    perf,
	})
}
