package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/pixelated-empathy/bias-engine/internal/config"
	"github.com/pixelated-empathy/bias-engine/internal/logging"
)

var (
	cfgFile   string
	logLevel  string
	logFormat string

	// Version info - set via SetVersion()
	appVersion string
	appCommit  string
	appDate    string
)

var rootCmd = &cobra.Command{
	Use:   "biasengine",
	Short: "Bias analysis orchestrator for therapeutic training sessions",
	Long: `biasengine coordinates a four-layer bias analysis pipeline over
therapeutic training sessions: validation, cached fan-out to the external
analysis service, score aggregation, alerting and cohort reporting.

Run 'biasengine serve' to start the HTTP API, or 'biasengine analyze' to
analyze a single session from the command line.`,
	SilenceUsage:  true,
	SilenceErrors: true,
}

func Execute() error {
	return rootCmd.Execute()
}

func SetVersion(version, commit, date string) {
	appVersion = version
	appCommit = commit
	appDate = date
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "",
		"config file (default: .biasengine.yaml)")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "info",
		"log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().StringVar(&logFormat, "log-format", "auto",
		"log format (auto, text, json)")

	_ = viper.BindPFlag("log.level", rootCmd.PersistentFlags().Lookup("log-level"))
	_ = viper.BindPFlag("log.format", rootCmd.PersistentFlags().Lookup("log-format"))
}

// loadConfig loads and validates the full configuration.
func loadConfig() (*config.Config, error) {
	loader := config.NewLoaderWithViper(viper.GetViper())
	if cfgFile != "" {
		loader = loader.WithConfigFile(cfgFile)
	}

	cfg, err := loader.Load()
	if err != nil {
		return nil, err
	}
	if err := config.NewValidator().Validate(cfg); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// newLogger builds the application logger from config.
func newLogger(cfg *config.Config) *logging.Logger {
	return logging.New(logging.Config{
		Level:  cfg.Log.Level,
		Format: cfg.Log.Format,
	})
}
