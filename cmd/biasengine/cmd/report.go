package cmd

import (
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/pixelated-empathy/bias-engine/internal/core"
	"github.com/pixelated-empathy/bias-engine/internal/report"
	"github.com/pixelated-empathy/bias-engine/internal/store"
)

var (
	reportFrom   string
	reportTo     string
	reportFormat string
	reportOutput string
	reportStrict bool
)

var reportCmd = &cobra.Command{
	Use:   "report",
	Short: "Generate a cohort bias report from stored results",
	Long: `Aggregates persisted analysis results into a cohort report:
summary statistics, demographic breakdowns and a trend series. Reads
only the local result store; the external service is not contacted.`,
	RunE: runReport,
}

func init() {
	reportCmd.Flags().StringVar(&reportFrom, "from", "", "range start (RFC 3339)")
	reportCmd.Flags().StringVar(&reportTo, "to", "", "range end (RFC 3339)")
	reportCmd.Flags().StringVar(&reportFormat, "format", "json", "output format (json, yaml)")
	reportCmd.Flags().StringVarP(&reportOutput, "output", "o", "-", "output file (- for stdout)")
	reportCmd.Flags().BoolVar(&reportStrict, "strict", false,
		"fail when no results fall inside the range")
	rootCmd.AddCommand(reportCmd)
}

func runReport(cmd *cobra.Command, _ []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	logger := newLogger(cfg)

	tr, err := parseRange(reportFrom, reportTo)
	if err != nil {
		return err
	}

	resultStore, err := store.NewResultStore(cfg.Store.Path)
	if err != nil {
		return err
	}
	defer func() { _ = resultStore.Close() }()

	results, err := resultStore.ListByTimeRange(cmd.Context(), tr)
	if err != nil {
		return err
	}

	rep, err := report.NewGenerator(logger).Generate(results, tr, report.Options{
		TrendInterval: cfg.TrendInterval(),
		Strict:        reportStrict,
		Anonymize:     cfg.Analysis.HIPAACompliance,
	})
	if err != nil {
		return err
	}

	return writeReport(rep, reportFormat, reportOutput)
}

func parseRange(from, to string) (core.TimeRange, error) {
	var tr core.TimeRange
	if from != "" {
		t, err := time.Parse(time.RFC3339, from)
		if err != nil {
			return tr, fmt.Errorf("invalid --from: %w", err)
		}
		tr.Start = t
	}
	if to != "" {
		t, err := time.Parse(time.RFC3339, to)
		if err != nil {
			return tr, fmt.Errorf("invalid --to: %w", err)
		}
		tr.End = t
	}
	return tr, nil
}

func writeReport(rep *core.Report, format, output string) error {
	var data []byte
	var err error
	switch format {
	case "yaml":
		data, err = yaml.Marshal(rep)
	case "json":
		data, err = json.MarshalIndent(rep, "", "  ")
		data = append(data, '\n')
	default:
		return fmt.Errorf("unsupported format %q (use json or yaml)", format)
	}
	if err != nil {
		return fmt.Errorf("encoding report: %w", err)
	}

	if output == "-" || output == "" {
		_, err = os.Stdout.Write(data)
		return err
	}
	return os.WriteFile(output, data, 0o600)
}
