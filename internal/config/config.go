package config

import (
	"time"

	"github.com/pixelated-empathy/bias-engine/internal/core"
)

// Config holds all application configuration.
type Config struct {
	Log      LogConfig      `mapstructure:"log"`
	HTTP     HTTPConfig     `mapstructure:"http"`
	Service  ServiceConfig  `mapstructure:"service"`
	Analysis AnalysisConfig `mapstructure:"analysis"`
	Metrics  MetricsConfig  `mapstructure:"metrics"`
	Alerts   AlertsConfig   `mapstructure:"alerts"`
	Store    StoreConfig    `mapstructure:"store"`
	Report   ReportConfig   `mapstructure:"report"`
}

// LogConfig configures logging behavior.
type LogConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// HTTPConfig configures the API server.
type HTTPConfig struct {
	Addr               string   `mapstructure:"addr"`
	AuthToken          string   `mapstructure:"auth_token"`
	RateLimitPerMinute int      `mapstructure:"rate_limit_per_minute"`
	AllowedOrigins     []string `mapstructure:"allowed_origins"`
	RequestTimeout     string   `mapstructure:"request_timeout"`
}

// ServiceConfig configures the external bias-analysis service client.
type ServiceConfig struct {
	URL              string `mapstructure:"url"`
	Timeout          string `mapstructure:"timeout"`
	BreakerThreshold int    `mapstructure:"breaker_threshold"`
	BreakerCooldown  string `mapstructure:"breaker_cooldown"`
}

// LayerWeights configures the contribution of each analysis layer to the
// overall bias score. The four weights must sum to 1.0 within tolerance.
type LayerWeights struct {
	Preprocessing float64 `mapstructure:"preprocessing"`
	ModelLevel    float64 `mapstructure:"model_level"`
	Interactive   float64 `mapstructure:"interactive"`
	Evaluation    float64 `mapstructure:"evaluation"`
}

// WeightSumTolerance is the allowed deviation of the weight sum from 1.0.
const WeightSumTolerance = 0.001

// Sum returns the total of all layer weights.
func (w LayerWeights) Sum() float64 {
	return w.Preprocessing + w.ModelLevel + w.Interactive + w.Evaluation
}

// ForLayer returns the weight for a given layer.
func (w LayerWeights) ForLayer(layer core.Layer) float64 {
	switch layer {
	case core.LayerPreprocessing:
		return w.Preprocessing
	case core.LayerModelLevel:
		return w.ModelLevel
	case core.LayerInteractive:
		return w.Interactive
	case core.LayerEvaluation:
		return w.Evaluation
	}
	return 0
}

// AnalysisConfig configures scoring and compliance behavior.
type AnalysisConfig struct {
	Weights           LayerWeights    `mapstructure:"weights"`
	Thresholds        core.Thresholds `mapstructure:"thresholds"`
	DefaultConfidence float64         `mapstructure:"default_confidence"`
	CacheCapacity     int             `mapstructure:"cache_capacity"`
	HIPAACompliance   bool            `mapstructure:"hipaa_compliance"`
	AuditLogging      bool            `mapstructure:"audit_logging"`
}

// MetricsConfig configures the metrics collector.
type MetricsConfig struct {
	FlushInterval  string `mapstructure:"flush_interval"`
	RealtimeEvents bool   `mapstructure:"realtime_events"`
}

// AlertsConfig configures alert escalation behavior.
type AlertsConfig struct {
	Cooldown string `mapstructure:"cooldown"`
	Expiry   string `mapstructure:"expiry"`
}

// StoreConfig configures result persistence.
type StoreConfig struct {
	Path string `mapstructure:"path"`
}

// ReportConfig configures cohort report generation.
type ReportConfig struct {
	TrendInterval string `mapstructure:"trend_interval"`
}

// parseDuration returns the parsed duration or the fallback when the value
// is empty or malformed. Validation rejects malformed values up front, so
// the fallback only applies to zero-value configs built in tests.
func parseDuration(s string, fallback time.Duration) time.Duration {
	if s == "" {
		return fallback
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return fallback
	}
	return d
}

// ServiceTimeout returns the parsed service call timeout.
func (c *Config) ServiceTimeout() time.Duration {
	return parseDuration(c.Service.Timeout, 30*time.Second)
}

// BreakerCooldown returns the parsed circuit breaker cooldown.
func (c *Config) BreakerCooldown() time.Duration {
	return parseDuration(c.Service.BreakerCooldown, 30*time.Second)
}

// MetricsFlushInterval returns the parsed metrics flush interval.
func (c *Config) MetricsFlushInterval() time.Duration {
	return parseDuration(c.Metrics.FlushInterval, time.Minute)
}

// AlertCooldown returns the parsed alert escalation cooldown.
func (c *Config) AlertCooldown() time.Duration {
	return parseDuration(c.Alerts.Cooldown, 15*time.Minute)
}

// AlertExpiry returns the parsed implicit alert expiry.
func (c *Config) AlertExpiry() time.Duration {
	return parseDuration(c.Alerts.Expiry, 24*time.Hour)
}

// TrendInterval returns the parsed report trend bucket size.
func (c *Config) TrendInterval() time.Duration {
	return parseDuration(c.Report.TrendInterval, 24*time.Hour)
}

// RequestTimeout returns the parsed HTTP request timeout.
func (c *Config) RequestTimeout() time.Duration {
	return parseDuration(c.HTTP.RequestTimeout, 60*time.Second)
}
