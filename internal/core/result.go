package core

import (
	"time"
)

// Layer identifies one of the four independent analysis passes.
type Layer string

const (
	LayerPreprocessing Layer = "preprocessing"
	LayerModelLevel    Layer = "model_level"
	LayerInteractive   Layer = "interactive"
	LayerEvaluation    Layer = "evaluation"
)

// Layers lists all analysis layers in invocation order.
func Layers() []Layer {
	return []Layer{LayerPreprocessing, LayerModelLevel, LayerInteractive, LayerEvaluation}
}

// IsValidLayer reports whether name is a known analysis layer.
func IsValidLayer(name string) bool {
	switch Layer(name) {
	case LayerPreprocessing, LayerModelLevel, LayerInteractive, LayerEvaluation:
		return true
	}
	return false
}

// AlertLevel is the discrete severity derived from the overall bias score.
type AlertLevel string

const (
	AlertLevelLow      AlertLevel = "low"
	AlertLevelMedium   AlertLevel = "medium"
	AlertLevelHigh     AlertLevel = "high"
	AlertLevelCritical AlertLevel = "critical"
)

// AlertLevels lists all levels in ascending severity.
func AlertLevels() []AlertLevel {
	return []AlertLevel{AlertLevelLow, AlertLevelMedium, AlertLevelHigh, AlertLevelCritical}
}

// Rank returns the ordinal severity of a level, low first.
func (l AlertLevel) Rank() int {
	switch l {
	case AlertLevelMedium:
		return 1
	case AlertLevelHigh:
		return 2
	case AlertLevelCritical:
		return 3
	default:
		return 0
	}
}

// Thresholds are the three ordered cut points for alert levels.
// Invariant: 0 <= Warning < High < Critical <= 1.
type Thresholds struct {
	Warning  float64 `json:"warning" mapstructure:"warning"`
	High     float64 `json:"high" mapstructure:"high"`
	Critical float64 `json:"critical" mapstructure:"critical"`
}

// LevelFor maps an overall bias score to its alert level.
// The mapping is pure and monotonic in the score.
func (t Thresholds) LevelFor(score float64) AlertLevel {
	switch {
	case score >= t.Critical:
		return AlertLevelCritical
	case score >= t.High:
		return AlertLevelHigh
	case score >= t.Warning:
		return AlertLevelMedium
	default:
		return AlertLevelLow
	}
}

// LayerResult is the outcome of a single analysis layer.
type LayerResult struct {
	Layer           Layer                  `json:"layer"`
	BiasScore       float64                `json:"bias_score"`
	Confidence      float64                `json:"confidence"`
	Detail          map[string]interface{} `json:"detail,omitempty"`
	Recommendations []string               `json:"recommendations,omitempty"`
}

// AnalysisResult is the verdict for one analyzed session. Results are
// effectively immutable; re-analysis produces a new result that supersedes
// the old one rather than mutating it.
type AnalysisResult struct {
	SessionID        string                `json:"session_id"`
	Timestamp        time.Time             `json:"timestamp"`
	Layers           map[Layer]LayerResult `json:"layer_results"`
	OverallBiasScore float64               `json:"overall_bias_score"`
	AlertLevel       AlertLevel            `json:"alert_level"`
	Confidence       float64               `json:"confidence"`
	Recommendations  []string              `json:"recommendations,omitempty"`
	Demographics     Demographics          `json:"demographics"`
	Partial          bool                  `json:"partial,omitempty"`
	FailedLayers     []Layer               `json:"failed_layers,omitempty"`
	CacheHit         bool                  `json:"cache_hit"`
}

// Anonymized returns a copy of the result with sensitive demographic
// fields masked.
func (r AnalysisResult) Anonymized() AnalysisResult {
	out := r
	out.Demographics = r.Demographics.Anonymized()
	return out
}

// Clamp01 bounds v to [0,1]. Layer outputs are untrusted and may fall
// outside the valid range.
func Clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
