package api

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/pixelated-empathy/bias-engine/internal/core"
)

// errorResponse is the uniform error body of the API.
type errorResponse struct {
	Success bool     `json:"success"`
	Error   string   `json:"error"`
	Message string   `json:"message,omitempty"`
	Details []string `json:"details,omitempty"`
}

// statusFor maps a domain error category to an HTTP status code.
func statusFor(err error) int {
	var domErr *core.DomainError
	if !errors.As(err, &domErr) {
		return http.StatusInternalServerError
	}
	switch domErr.Category {
	case core.ErrCatValidation:
		return http.StatusBadRequest
	case core.ErrCatAuth:
		return http.StatusUnauthorized
	case core.ErrCatNotFound:
		return http.StatusNotFound
	case core.ErrCatRateLimit:
		return http.StatusTooManyRequests
	case core.ErrCatTimeout:
		return http.StatusGatewayTimeout
	case core.ErrCatUnavailable:
		return http.StatusServiceUnavailable
	case core.ErrCatState:
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}

// titleFor returns the short error label per category.
func titleFor(err error) string {
	switch core.GetCategory(err) {
	case core.ErrCatValidation:
		return "Invalid Request"
	case core.ErrCatAuth:
		return "Unauthorized"
	case core.ErrCatNotFound:
		return "Not Found"
	case core.ErrCatRateLimit:
		return "Rate Limit Exceeded"
	case core.ErrCatTimeout:
		return "Upstream Timeout"
	case core.ErrCatUnavailable:
		return "Service Unavailable"
	case core.ErrCatState:
		return "Invalid State"
	default:
		return "Analysis Failed"
	}
}

// writeError renders a domain error as the uniform JSON error body.
// Validation errors carry the per-field messages in details.
func writeError(w http.ResponseWriter, err error) {
	status := statusFor(err)
	body := errorResponse{
		Success: false,
		Error:   titleFor(err),
		Details: core.ValidationMessages(err),
	}

	var domErr *core.DomainError
	if errors.As(err, &domErr) {
		body.Message = domErr.Message
	} else {
		body.Message = "internal error"
	}

	writeJSON(w, status, body)
}

// writeJSON serializes v with the standard headers.
func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
