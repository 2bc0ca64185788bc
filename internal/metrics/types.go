package metrics

import (
	"time"

	"github.com/pixelated-empathy/bias-engine/internal/core"
)

// Record is one analysis outcome captured for metrics purposes.
type Record struct {
	SessionID        string          `json:"session_id"`
	Timestamp        time.Time       `json:"timestamp"`
	OverallBiasScore float64         `json:"overall_bias_score"`
	AlertLevel       core.AlertLevel `json:"alert_level"`
	Confidence       float64         `json:"confidence"`
	Partial          bool            `json:"partial,omitempty"`
	CacheHit         bool            `json:"cache_hit"`
	ProcessingMs     int64           `json:"processing_ms"`
}

// System health markers attached to query responses so callers can
// distinguish authoritative data from local best-effort fallbacks.
const (
	HealthHealthy  = "healthy"
	HealthDegraded = "degraded"
)

// Snapshot is an aggregate metrics view.
type Snapshot struct {
	GeneratedAt       time.Time               `json:"generated_at"`
	TotalSessions     int                     `json:"total_sessions"`
	AverageBiasScore  float64                 `json:"average_bias_score"`
	AlertDistribution map[core.AlertLevel]int `json:"alert_distribution"`
	AverageLatencyMs  float64                 `json:"average_latency_ms"`
	CacheHitRate      float64                 `json:"cache_hit_rate"`
	SystemHealth      string                  `json:"system_health"`
}

// Dashboard is the richer view served to monitoring dashboards.
type Dashboard struct {
	Summary        Snapshot `json:"summary"`
	RecentSessions []Record `json:"recent_sessions,omitempty"`
	BufferedCount  int      `json:"buffered_count"`
	SystemHealth   string   `json:"system_health"`
}

// Performance is point-in-time process and throughput data.
type Performance struct {
	GeneratedAt      time.Time `json:"generated_at"`
	CPUPercent       float64   `json:"cpu_percent"`
	MemUsedMB        float64   `json:"mem_used_mb"`
	MemPercent       float64   `json:"mem_percent"`
	LoadAvg1         float64   `json:"load_avg_1"`
	AverageLatencyMs float64   `json:"average_latency_ms"`
	SessionsPerMin   float64   `json:"sessions_per_min"`
	SystemHealth     string    `json:"system_health"`
}
