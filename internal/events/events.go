package events

import (
	"github.com/pixelated-empathy/bias-engine/internal/core"
)

// Event type names.
const (
	TypeAnalysisCompleted = "analysis_completed"
	TypeAlertCreated      = "alert_created"
	TypeAlertEscalated    = "alert_escalated"
	TypeAlertResolved     = "alert_resolved"
	TypeMonitoringTick    = "monitoring_tick"
	TypeFlushFailed       = "metrics_flush_failed"
)

// AnalysisCompletedEvent is published after every successful analysis.
type AnalysisCompletedEvent struct {
	BaseEvent
	SessionID        string          `json:"session_id"`
	OverallBiasScore float64         `json:"overall_bias_score"`
	AlertLevel       core.AlertLevel `json:"alert_level"`
	CacheHit         bool            `json:"cache_hit"`
	Partial          bool            `json:"partial"`
	ProcessingMs     int64           `json:"processing_ms"`
}

// NewAnalysisCompleted creates an analysis completion event.
func NewAnalysisCompleted(result core.AnalysisResult, processingMs int64) AnalysisCompletedEvent {
	return AnalysisCompletedEvent{
		BaseEvent:        NewBaseEvent(TypeAnalysisCompleted),
		SessionID:        result.SessionID,
		OverallBiasScore: result.OverallBiasScore,
		AlertLevel:       result.AlertLevel,
		CacheHit:         result.CacheHit,
		Partial:          result.Partial,
		ProcessingMs:     processingMs,
	}
}

// AlertEvent is published when an alert is created, escalated or resolved.
type AlertEvent struct {
	BaseEvent
	AlertID   string          `json:"alert_id"`
	SessionID string          `json:"session_id"`
	Level     core.AlertLevel `json:"level"`
	Score     float64         `json:"score"`
}

// NewAlertEvent creates an alert lifecycle event.
func NewAlertEvent(eventType, alertID, sessionID string, level core.AlertLevel, score float64) AlertEvent {
	return AlertEvent{
		BaseEvent: NewBaseEvent(eventType),
		AlertID:   alertID,
		SessionID: sessionID,
		Level:     level,
		Score:     score,
	}
}

// MonitoringTickEvent carries a periodic engine health snapshot.
type MonitoringTickEvent struct {
	BaseEvent
	SystemHealth string                 `json:"system_health"`
	Performance  map[string]interface{} `json:"performance"`
}

// NewMonitoringTick creates a monitoring snapshot event.
func NewMonitoringTick(health string, performance map[string]interface{}) MonitoringTickEvent {
	return MonitoringTickEvent{
		BaseEvent:    NewBaseEvent(TypeMonitoringTick),
		SystemHealth: health,
		Performance:  performance,
	}
}

// FlushFailedEvent is published when a metrics batch flush fails.
type FlushFailedEvent struct {
	BaseEvent
	BufferedRecords int    `json:"buffered_records"`
	Error           string `json:"error"`
}

// NewFlushFailed creates a flush failure event.
func NewFlushFailed(buffered int, err error) FlushFailedEvent {
	msg := ""
	if err != nil {
		msg = err.Error()
	}
	return FlushFailedEvent{
		BaseEvent:       NewBaseEvent(TypeFlushFailed),
		BufferedRecords: buffered,
		Error:           msg,
	}
}
