package cmd

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/pixelated-empathy/bias-engine/internal/alerts"
	"github.com/pixelated-empathy/bias-engine/internal/analysis"
	"github.com/pixelated-empathy/bias-engine/internal/api"
	"github.com/pixelated-empathy/bias-engine/internal/config"
	"github.com/pixelated-empathy/bias-engine/internal/events"
	"github.com/pixelated-empathy/bias-engine/internal/logging"
	"github.com/pixelated-empathy/bias-engine/internal/metrics"
	"github.com/pixelated-empathy/bias-engine/internal/store"
)

var serveMonitorInterval time.Duration

// analysisPersistPath is where applied threshold updates are saved and
// restored from, kept apart from the user's config file.
const analysisPersistPath = ".biasengine/analysis.yaml"

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the bias analysis HTTP API",
	RunE:  runServe,
}

func init() {
	serveCmd.Flags().DurationVar(&serveMonitorInterval, "monitor-interval", time.Minute,
		"interval between monitoring snapshots")
	rootCmd.AddCommand(serveCmd)
}

func runServe(cmd *cobra.Command, _ []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	logger := newLogger(cfg)
	restorePersistedAnalysis(cfg, logger)

	bus := events.New(256)
	defer bus.Close()

	engine, cleanup, err := buildEngine(cfg, logger, bus)
	if err != nil {
		return err
	}
	defer cleanup()

	initCtx, cancel := context.WithTimeout(cmd.Context(), cfg.ServiceTimeout())
	err = engine.Initialize(initCtx)
	cancel()
	if err != nil {
		return err
	}
	defer func() { _ = engine.Close() }()

	if err := engine.StartMonitoring(serveMonitorInterval); err != nil {
		return err
	}

	// Hot reload of scoring config when the config file changes on disk.
	if path := cfgFile; path != "" {
		watcher, err := config.NewWatcher(path, logger, engine.ApplyAnalysisConfig)
		if err != nil {
			logger.Warn("config watching disabled", "error", err)
		} else {
			defer func() { _ = watcher.Close() }()
		}
	}

	server := api.New(cfg, engine, logger)
	if err := server.Start(); err != nil {
		return err
	}

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	<-sig

	logger.Info("shutdown signal received")
	return server.Shutdown(context.Background())
}

// restorePersistedAnalysis overlays threshold updates applied in a
// previous run onto the loaded configuration. A hand-edited or stale
// file that no longer validates is ignored with a warning.
func restorePersistedAnalysis(cfg *config.Config, logger *logging.Logger) {
	restored := cfg.Analysis
	if err := config.LoadAnalysis(analysisPersistPath, &restored); err != nil {
		logger.Warn("restoring persisted scoring configuration failed", "error", err)
		return
	}

	v := config.NewValidator()
	v.ValidateAnalysis(&restored)
	if errs := v.Errors(); errs.HasErrors() {
		logger.Warn("ignoring invalid persisted scoring configuration",
			"errors", errs.Messages())
		return
	}
	cfg.Analysis = restored
}

// buildEngine wires the engine from configuration. The returned cleanup
// closes resources the engine does not own.
func buildEngine(cfg *config.Config, logger *logging.Logger, bus *events.Bus) (*analysis.Engine, func(), error) {
	client := analysis.NewServiceClient(
		cfg.Service.URL,
		cfg.ServiceTimeout(),
		logger,
		analysis.WithBreaker(analysis.NewCircuitBreaker(
			cfg.Service.BreakerThreshold,
			cfg.BreakerCooldown(),
		)),
	)

	collector := metrics.NewCollector(client, logger, bus,
		metrics.WithFlushInterval(cfg.MetricsFlushInterval()),
		metrics.WithRealtimeEvents(cfg.Metrics.RealtimeEvents),
	)

	alertSystem := alerts.NewSystem(logger, bus,
		alerts.WithCooldown(cfg.AlertCooldown()),
		alerts.WithExpiry(cfg.AlertExpiry()),
	)

	opts := []analysis.EngineOption{
		analysis.WithTrendInterval(cfg.TrendInterval()),
	}
	cleanup := func() {}

	if cfg.Store.Path != "" {
		resultStore, err := store.NewResultStore(cfg.Store.Path)
		if err != nil {
			return nil, nil, err
		}
		opts = append(opts, analysis.WithStore(resultStore))
		cleanup = func() { _ = resultStore.Close() }
	}
	// Applied threshold updates are persisted beside the result store,
	// never into the user's config file. They are read back on startup
	// by restorePersistedAnalysis.
	opts = append(opts, analysis.WithConfigPersistPath(analysisPersistPath))

	engine := analysis.NewEngine(
		cfg.Analysis,
		client,
		collector,
		alertSystem,
		bus,
		logger,
		opts...,
	)
	return engine, cleanup, nil
}
