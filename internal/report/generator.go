package report

import (
	"sort"
	"time"

	"github.com/pixelated-empathy/bias-engine/internal/core"
	"github.com/pixelated-empathy/bias-engine/internal/logging"
)

// Options control report generation.
type Options struct {
	// TrendInterval is the bucket width of the trend series. Zero
	// disables the series.
	TrendInterval time.Duration
	// Strict makes an empty cohort an error instead of an empty report.
	Strict bool
	// Anonymize masks sensitive demographic dimensions in breakdowns.
	Anonymize bool
}

// Generator builds cohort reports from analysis results.
type Generator struct {
	logger *logging.Logger
	now    func() time.Time
}

// NewGenerator creates a report generator.
func NewGenerator(logger *logging.Logger) *Generator {
	return &Generator{
		logger: logger.WithComponent("report"),
		now:    time.Now,
	}
}

// Generate aggregates the results falling inside timeRange into a
// report. An empty cohort yields a valid zero-count report unless
// opts.Strict is set, in which case it is an InsufficientData error.
func (g *Generator) Generate(results []core.AnalysisResult, timeRange core.TimeRange, opts Options) (*core.Report, error) {
	cohort := make([]core.AnalysisResult, 0, len(results))
	for _, r := range results {
		if timeRange.Contains(r.Timestamp) {
			cohort = append(cohort, r)
		}
	}

	if len(cohort) == 0 && opts.Strict {
		return nil, &core.DomainError{
			Category: core.ErrCatValidation,
			Code:     core.CodeInsufficient,
			Message:  "no analysis results in the requested time range",
		}
	}

	rep := &core.Report{
		GeneratedAt: g.now(),
		TimeRange:   timeRange,
		Summary:     summarize(cohort),
	}
	if len(cohort) > 0 {
		rep.Breakdowns = breakdowns(cohort, opts.Anonymize)
		if opts.TrendInterval > 0 {
			rep.Trend = trend(cohort, opts.TrendInterval)
		}
		rep.Recommendations = aggregateRecommendations(cohort)
	}

	g.logger.Debug("report generated",
		"sessions", rep.Summary.SessionCount,
		"breakdowns", len(rep.Breakdowns),
		"trend_points", len(rep.Trend))
	return rep, nil
}

func summarize(cohort []core.AnalysisResult) core.ReportSummary {
	sum := core.ReportSummary{
		SessionCount:      len(cohort),
		AlertDistribution: make(map[core.AlertLevel]int),
	}
	for _, lvl := range core.AlertLevels() {
		sum.AlertDistribution[lvl] = 0
	}
	var total float64
	for _, r := range cohort {
		total += r.OverallBiasScore
		sum.AlertDistribution[r.AlertLevel]++
	}
	if len(cohort) > 0 {
		sum.AverageBiasScore = total / float64(len(cohort))
	}
	return sum
}

// breakdowns aggregates per demographic dimension value. Sensitive
// dimensions are skipped entirely when anonymizing since masked values
// would all collapse into one meaningless bucket.
func breakdowns(cohort []core.AnalysisResult, anonymize bool) []core.DemographicBreakdown {
	type key struct{ dimension, value string }
	type agg struct {
		count int
		total float64
	}
	groups := make(map[key]*agg)

	add := func(dimension, value string, score float64) {
		if value == "" {
			return
		}
		k := key{dimension, value}
		a, ok := groups[k]
		if !ok {
			a = &agg{}
			groups[k] = a
		}
		a.count++
		a.total += score
	}

	for _, r := range cohort {
		d := r.Demographics
		add("gender", d.Gender, r.OverallBiasScore)
		add("age_band", d.AgeBand, r.OverallBiasScore)
		if !anonymize {
			add("ethnicity", d.Ethnicity, r.OverallBiasScore)
		}
	}

	out := make([]core.DemographicBreakdown, 0, len(groups))
	for k, a := range groups {
		out = append(out, core.DemographicBreakdown{
			Dimension:        k.dimension,
			Value:            k.value,
			SessionCount:     a.count,
			AverageBiasScore: a.total / float64(a.count),
		})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Dimension != out[j].Dimension {
			return out[i].Dimension < out[j].Dimension
		}
		return out[i].Value < out[j].Value
	})
	return out
}

// trend buckets the cohort by interval-aligned windows.
func trend(cohort []core.AnalysisResult, interval time.Duration) []core.TrendPoint {
	type agg struct {
		count int
		total float64
	}
	buckets := make(map[time.Time]*agg)

	for _, r := range cohort {
		start := r.Timestamp.Truncate(interval)
		a, ok := buckets[start]
		if !ok {
			a = &agg{}
			buckets[start] = a
		}
		a.count++
		a.total += r.OverallBiasScore
	}

	out := make([]core.TrendPoint, 0, len(buckets))
	for start, a := range buckets {
		out = append(out, core.TrendPoint{
			BucketStart:      start,
			SessionCount:     a.count,
			AverageBiasScore: a.total / float64(a.count),
		})
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].BucketStart.Before(out[j].BucketStart)
	})
	return out
}

// aggregateRecommendations dedups per-session recommendations and
// orders them by frequency, most common first.
func aggregateRecommendations(cohort []core.AnalysisResult) []string {
	counts := make(map[string]int)
	order := make([]string, 0)
	for _, r := range cohort {
		for _, rec := range r.Recommendations {
			if rec == "" {
				continue
			}
			if _, seen := counts[rec]; !seen {
				order = append(order, rec)
			}
			counts[rec]++
		}
	}
	sort.SliceStable(order, func(i, j int) bool {
		return counts[order[i]] > counts[order[j]]
	})
	const maxRecommendations = 10
	if len(order) > maxRecommendations {
		order = order[:maxRecommendations]
	}
	return order
}
