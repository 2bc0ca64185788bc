package core

import "time"

// TimeRange bounds a cohort report. Zero values mean unbounded on that side.
type TimeRange struct {
	Start time.Time `json:"start"`
	End   time.Time `json:"end"`
}

// Contains reports whether t falls inside the range (inclusive start,
// exclusive end).
func (r TimeRange) Contains(t time.Time) bool {
	if !r.Start.IsZero() && t.Before(r.Start) {
		return false
	}
	if !r.End.IsZero() && !t.Before(r.End) {
		return false
	}
	return true
}

// ReportSummary holds the headline statistics of a cohort report.
type ReportSummary struct {
	SessionCount      int                `json:"session_count"`
	AverageBiasScore  float64            `json:"average_bias_score"`
	AlertDistribution map[AlertLevel]int `json:"alert_distribution"`
}

// DemographicBreakdown aggregates scores for one value of one demographic
// dimension (e.g. gender=female).
type DemographicBreakdown struct {
	Dimension        string  `json:"dimension"`
	Value            string  `json:"value"`
	SessionCount     int     `json:"session_count"`
	AverageBiasScore float64 `json:"average_bias_score"`
}

// TrendPoint is one bucket of the report trend series.
type TrendPoint struct {
	BucketStart      time.Time `json:"bucket_start"`
	SessionCount     int       `json:"session_count"`
	AverageBiasScore float64   `json:"average_bias_score"`
}

// Report is a cohort-level aggregate over many analysis results.
// Reports are created on demand and not persisted by the core.
type Report struct {
	GeneratedAt     time.Time              `json:"generated_at"`
	TimeRange       TimeRange              `json:"time_range"`
	Summary         ReportSummary          `json:"summary"`
	Breakdowns      []DemographicBreakdown `json:"demographic_breakdowns,omitempty"`
	Trend           []TrendPoint           `json:"trend,omitempty"`
	Recommendations []string               `json:"recommendations,omitempty"`
}
