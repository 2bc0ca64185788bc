package config

import (
	"fmt"
	"math"
	"strings"
	"time"
)

// ValidationError represents a configuration validation error.
type ValidationError struct {
	Field   string
	Value   interface{}
	Message string
}

func (e ValidationError) Error() string {
	return fmt.Sprintf("config validation: %s: %s (got: %v)", e.Field, e.Message, e.Value)
}

// ValidationErrors collects multiple validation errors.
type ValidationErrors []ValidationError

func (e ValidationErrors) Error() string {
	var msgs []string
	for _, err := range e {
		msgs = append(msgs, err.Error())
	}
	return strings.Join(msgs, "; ")
}

// HasErrors returns true if there are any validation errors.
func (e ValidationErrors) HasErrors() bool {
	return len(e) > 0
}

// Messages returns the human-readable message per error.
func (e ValidationErrors) Messages() []string {
	msgs := make([]string, 0, len(e))
	for _, err := range e {
		msgs = append(msgs, err.Error())
	}
	return msgs
}

// Validator validates configuration. Invalid configs are rejected as a
// whole; no partial application occurs.
type Validator struct {
	errors ValidationErrors
}

// NewValidator creates a new validator.
func NewValidator() *Validator {
	return &Validator{
		errors: make(ValidationErrors, 0),
	}
}

// Validate validates the entire configuration.
func (v *Validator) Validate(cfg *Config) error {
	v.validateLog(&cfg.Log)
	v.validateHTTP(&cfg.HTTP)
	v.validateService(&cfg.Service)
	v.ValidateAnalysis(&cfg.Analysis)
	v.validateMetrics(&cfg.Metrics)
	v.validateAlerts(&cfg.Alerts)
	v.validateReport(&cfg.Report)

	if len(v.errors) > 0 {
		return v.errors
	}
	return nil
}

// Errors returns the collected validation errors.
func (v *Validator) Errors() ValidationErrors {
	return v.errors
}

func (v *Validator) addError(field string, value interface{}, msg string) {
	v.errors = append(v.errors, ValidationError{
		Field:   field,
		Value:   value,
		Message: msg,
	})
}

func (v *Validator) validateLog(cfg *LogConfig) {
	validLevels := map[string]bool{
		"debug": true, "info": true, "warn": true, "error": true,
	}
	if !validLevels[cfg.Level] {
		v.addError("log.level", cfg.Level, "must be one of: debug, info, warn, error")
	}

	validFormats := map[string]bool{
		"auto": true, "text": true, "json": true,
	}
	if !validFormats[cfg.Format] {
		v.addError("log.format", cfg.Format, "must be one of: auto, text, json")
	}
}

func (v *Validator) validateHTTP(cfg *HTTPConfig) {
	if cfg.Addr == "" {
		v.addError("http.addr", cfg.Addr, "listen address required")
	}
	if cfg.RateLimitPerMinute <= 0 {
		v.addError("http.rate_limit_per_minute", cfg.RateLimitPerMinute, "must be positive")
	}
	v.validateDuration("http.request_timeout", cfg.RequestTimeout)
}

func (v *Validator) validateService(cfg *ServiceConfig) {
	if cfg.URL == "" {
		v.addError("service.url", cfg.URL, "endpoint URL required")
	}
	v.validateDuration("service.timeout", cfg.Timeout)
	v.validateDuration("service.breaker_cooldown", cfg.BreakerCooldown)
	if cfg.BreakerThreshold <= 0 {
		v.addError("service.breaker_threshold", cfg.BreakerThreshold, "must be positive")
	}
}

// ValidateAnalysis validates scoring thresholds and layer weights. It is
// exported because the engine re-runs it on every threshold update.
func (v *Validator) ValidateAnalysis(cfg *AnalysisConfig) {
	t := cfg.Thresholds
	for field, value := range map[string]float64{
		"analysis.thresholds.warning":  t.Warning,
		"analysis.thresholds.high":     t.High,
		"analysis.thresholds.critical": t.Critical,
	} {
		if value < 0 || value > 1 {
			v.addError(field, value, "must be in [0,1]")
		}
	}
	if !(t.Warning < t.High && t.High < t.Critical) {
		v.addError("analysis.thresholds", fmt.Sprintf("%.2f/%.2f/%.2f", t.Warning, t.High, t.Critical),
			"must satisfy warning < high < critical")
	}

	w := cfg.Weights
	for field, value := range map[string]float64{
		"analysis.weights.preprocessing": w.Preprocessing,
		"analysis.weights.model_level":   w.ModelLevel,
		"analysis.weights.interactive":   w.Interactive,
		"analysis.weights.evaluation":    w.Evaluation,
	} {
		if value < 0 || value > 1 {
			v.addError(field, value, "must be in [0,1]")
		}
	}
	if math.Abs(w.Sum()-1.0) > WeightSumTolerance {
		v.addError("analysis.weights", w.Sum(), "layer weights must sum to 1.0")
	}

	if cfg.DefaultConfidence <= 0 || cfg.DefaultConfidence > 1 {
		v.addError("analysis.default_confidence", cfg.DefaultConfidence, "must be in (0,1]")
	}
	if cfg.CacheCapacity <= 0 {
		v.addError("analysis.cache_capacity", cfg.CacheCapacity, "must be positive")
	}
}

func (v *Validator) validateMetrics(cfg *MetricsConfig) {
	v.validateDuration("metrics.flush_interval", cfg.FlushInterval)
}

func (v *Validator) validateAlerts(cfg *AlertsConfig) {
	v.validateDuration("alerts.cooldown", cfg.Cooldown)
	v.validateDuration("alerts.expiry", cfg.Expiry)
}

func (v *Validator) validateReport(cfg *ReportConfig) {
	v.validateDuration("report.trend_interval", cfg.TrendInterval)
}

func (v *Validator) validateDuration(field, value string) {
	if value == "" {
		return
	}
	if d, err := time.ParseDuration(value); err != nil {
		v.addError(field, value, "invalid duration")
	} else if d <= 0 {
		v.addError(field, value, "must be positive")
	}
}
