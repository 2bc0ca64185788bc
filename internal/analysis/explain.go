package analysis

import (
	"fmt"
	"sort"

	"github.com/pixelated-empathy/bias-engine/internal/core"
)

// Explanation is a human-readable account of how a verdict came about.
type Explanation struct {
	SessionID        string          `json:"session_id"`
	OverallBiasScore float64         `json:"overall_bias_score"`
	AlertLevel       core.AlertLevel `json:"alert_level"`
	Summary          string          `json:"summary"`
	LayerFindings    []LayerFinding  `json:"layer_findings"`
	Counterfactuals  []string        `json:"counterfactuals,omitempty"`
}

// LayerFinding explains one layer's contribution.
type LayerFinding struct {
	Layer        core.Layer `json:"layer"`
	BiasScore    float64    `json:"bias_score"`
	Confidence   float64    `json:"confidence"`
	Contribution float64    `json:"contribution"`
	Narrative    string     `json:"narrative"`
}

// ExplainOptions filter and extend the explanation.
type ExplainOptions struct {
	// Layer restricts findings to a single layer when non-empty.
	Layer core.Layer
	// IncludeCounterfactuals adds what-if statements about threshold
	// proximity.
	IncludeCounterfactuals bool
}

// Explain synthesizes an explanation from an existing verdict. It is a
// pure function of the result and the thresholds it was scored against.
func Explain(result *core.AnalysisResult, thresholds core.Thresholds, opts ExplainOptions) (*Explanation, error) {
	if result == nil {
		return nil, core.ErrValidation(core.CodeAnalysisFailed, "no analysis result to explain")
	}
	if opts.Layer != "" && !core.IsValidLayer(string(opts.Layer)) {
		return nil, core.ErrValidation(core.CodeInvalidSession,
			fmt.Sprintf("unknown analysis layer %q", opts.Layer))
	}

	exp := &Explanation{
		SessionID:        result.SessionID,
		OverallBiasScore: result.OverallBiasScore,
		AlertLevel:       result.AlertLevel,
		Summary:          summaryLine(result),
	}

	for _, layer := range core.Layers() {
		if opts.Layer != "" && layer != opts.Layer {
			continue
		}
		lr, ok := result.Layers[layer]
		if !ok {
			continue
		}
		exp.LayerFindings = append(exp.LayerFindings, LayerFinding{
			Layer:        layer,
			BiasScore:    lr.BiasScore,
			Confidence:   lr.Confidence,
			Contribution: lr.BiasScore - result.OverallBiasScore,
			Narrative:    layerNarrative(layer, lr),
		})
	}
	sort.Slice(exp.LayerFindings, func(i, j int) bool {
		return exp.LayerFindings[i].BiasScore > exp.LayerFindings[j].BiasScore
	})

	if opts.IncludeCounterfactuals {
		exp.Counterfactuals = counterfactuals(result, thresholds)
	}
	return exp, nil
}

func summaryLine(result *core.AnalysisResult) string {
	qualifier := ""
	if result.Partial {
		qualifier = fmt.Sprintf(" based on %d of %d layers",
			len(result.Layers), len(core.Layers()))
	}
	return fmt.Sprintf("Overall bias score %.2f maps to alert level %s%s.",
		result.OverallBiasScore, result.AlertLevel, qualifier)
}

func layerNarrative(layer core.Layer, lr core.LayerResult) string {
	var subject string
	switch layer {
	case core.LayerPreprocessing:
		subject = "linguistic and demographic representation in the session text"
	case core.LayerModelLevel:
		subject = "fairness metrics of the underlying model outputs"
	case core.LayerInteractive:
		subject = "counterfactual variation across participant attributes"
	case core.LayerEvaluation:
		subject = "outcome differences against historical session cohorts"
	default:
		subject = "this analysis dimension"
	}
	return fmt.Sprintf("Scored %.2f (confidence %.2f) from %s.", lr.BiasScore, lr.Confidence, subject)
}

// counterfactuals describes how close the score sits to adjacent levels.
func counterfactuals(result *core.AnalysisResult, t core.Thresholds) []string {
	score := result.OverallBiasScore
	var out []string

	type edge struct {
		threshold float64
		above     core.AlertLevel
	}
	edges := []edge{
		{t.Warning, core.AlertLevelMedium},
		{t.High, core.AlertLevelHigh},
		{t.Critical, core.AlertLevelCritical},
	}
	for _, e := range edges {
		if score < e.threshold {
			out = append(out, fmt.Sprintf(
				"A score increase of %.2f would raise the alert level to %s.",
				e.threshold-score, e.above))
			break
		}
	}
	for i := len(edges) - 1; i >= 0; i-- {
		if score >= edges[i].threshold {
			out = append(out, fmt.Sprintf(
				"A score decrease of %.2f would lower the alert level below %s.",
				score-edges[i].threshold+0.01, edges[i].above))
			break
		}
	}
	return out
}
