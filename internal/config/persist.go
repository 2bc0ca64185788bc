package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"

	"github.com/pixelated-empathy/bias-engine/internal/core"
)

// persistedAnalysis is the on-disk shape of applied threshold updates.
type persistedAnalysis struct {
	Analysis struct {
		Weights struct {
			Preprocessing float64 `yaml:"preprocessing"`
			ModelLevel    float64 `yaml:"model_level"`
			Interactive   float64 `yaml:"interactive"`
			Evaluation    float64 `yaml:"evaluation"`
		} `yaml:"weights"`
		Thresholds struct {
			Warning  float64 `yaml:"warning"`
			High     float64 `yaml:"high"`
			Critical float64 `yaml:"critical"`
		} `yaml:"thresholds"`
	} `yaml:"analysis"`
}

// SaveAnalysis persists the active scoring configuration atomically so
// threshold updates survive restarts. Writing and swapping the file is
// all-or-nothing; a crash mid-write leaves the previous file intact.
func SaveAnalysis(path string, cfg *AnalysisConfig) error {
	var p persistedAnalysis
	p.Analysis.Weights.Preprocessing = cfg.Weights.Preprocessing
	p.Analysis.Weights.ModelLevel = cfg.Weights.ModelLevel
	p.Analysis.Weights.Interactive = cfg.Weights.Interactive
	p.Analysis.Weights.Evaluation = cfg.Weights.Evaluation
	p.Analysis.Thresholds.Warning = cfg.Thresholds.Warning
	p.Analysis.Thresholds.High = cfg.Thresholds.High
	p.Analysis.Thresholds.Critical = cfg.Thresholds.Critical

	data, err := yaml.Marshal(&p)
	if err != nil {
		return fmt.Errorf("marshaling analysis config: %w", err)
	}

	if err := os.MkdirAll(filepath.Dir(path), 0o750); err != nil {
		return fmt.Errorf("creating config directory: %w", err)
	}
	if err := atomicWriteFile(path, data, 0o600); err != nil {
		return fmt.Errorf("writing analysis config: %w", err)
	}
	return nil
}

// LoadAnalysis overlays a previously saved scoring configuration onto
// cfg, restoring threshold updates across restarts. A missing file
// leaves cfg untouched.
func LoadAnalysis(path string, cfg *AnalysisConfig) error {
	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("reading analysis config: %w", err)
	}

	var p persistedAnalysis
	if err := yaml.Unmarshal(data, &p); err != nil {
		return fmt.Errorf("parsing analysis config: %w", err)
	}

	cfg.Weights = LayerWeights{
		Preprocessing: p.Analysis.Weights.Preprocessing,
		ModelLevel:    p.Analysis.Weights.ModelLevel,
		Interactive:   p.Analysis.Weights.Interactive,
		Evaluation:    p.Analysis.Weights.Evaluation,
	}
	cfg.Thresholds = core.Thresholds{
		Warning:  p.Analysis.Thresholds.Warning,
		High:     p.Analysis.Thresholds.High,
		Critical: p.Analysis.Thresholds.Critical,
	}
	return nil
}
