package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/pixelated-empathy/bias-engine/internal/analysis"
	"github.com/pixelated-empathy/bias-engine/internal/core"
	"github.com/pixelated-empathy/bias-engine/internal/events"
)

var (
	analyzeFile      string
	analyzeSkipCache bool
	analyzeAnonymize bool
)

var analyzeCmd = &cobra.Command{
	Use:   "analyze",
	Short: "Analyze a single session from a JSON file or stdin",
	Long: `Reads a session document (JSON), runs the full four-layer bias
analysis against the configured service, and prints the verdict.

Use --file - (or omit it) to read the session from stdin.`,
	RunE: runAnalyze,
}

func init() {
	analyzeCmd.Flags().StringVarP(&analyzeFile, "file", "f", "-",
		"session JSON file (- for stdin)")
	analyzeCmd.Flags().BoolVar(&analyzeSkipCache, "skip-cache", false,
		"force a fresh analysis even if a cached verdict exists")
	analyzeCmd.Flags().BoolVar(&analyzeAnonymize, "anonymize", false,
		"mask sensitive demographics in the output")
	rootCmd.AddCommand(analyzeCmd)
}

func runAnalyze(cmd *cobra.Command, _ []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	logger := newLogger(cfg)

	session, err := readSession(analyzeFile)
	if err != nil {
		return err
	}

	bus := events.New(64)
	defer bus.Close()

	engine, cleanup, err := buildEngine(cfg, logger, bus)
	if err != nil {
		return err
	}
	defer cleanup()

	ctx := cmd.Context()
	initCtx, cancel := context.WithTimeout(ctx, cfg.ServiceTimeout())
	err = engine.Initialize(initCtx)
	cancel()
	if err != nil {
		return err
	}
	defer func() { _ = engine.Close() }()

	result, err := engine.AnalyzeSession(ctx, session, analysis.AnalyzeOptions{
		SkipCache: analyzeSkipCache,
	})
	if err != nil {
		return err
	}

	if analyzeAnonymize {
		anonymized := result.Anonymized()
		result = &anonymized
	}

	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(result)
}

func readSession(path string) (*core.Session, error) {
	var data []byte
	var err error
	if path == "-" || path == "" {
		data, err = io.ReadAll(os.Stdin)
	} else {
		data, err = os.ReadFile(path)
	}
	if err != nil {
		return nil, fmt.Errorf("reading session: %w", err)
	}

	var session core.Session
	if err := json.Unmarshal(data, &session); err != nil {
		return nil, fmt.Errorf("parsing session JSON: %w", err)
	}
	return &session, nil
}
