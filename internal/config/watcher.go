package config

import (
	"path/filepath"

	"github.com/fsnotify/fsnotify"

	"github.com/pixelated-empathy/bias-engine/internal/logging"
)

// Watcher reloads the scoring configuration when the config file changes
// on disk. Only validated analysis sections are applied; a file that fails
// validation is logged and ignored, leaving the active config untouched.
type Watcher struct {
	path    string
	watcher *fsnotify.Watcher
	logger  *logging.Logger
	onApply func(AnalysisConfig)
	done    chan struct{}
}

// NewWatcher creates a config file watcher. onApply receives each valid
// analysis config parsed from the file.
func NewWatcher(path string, logger *logging.Logger, onApply func(AnalysisConfig)) (*Watcher, error) {
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	// Watch the directory: editors replace files on save, which drops
	// watches registered on the file itself.
	if err := fw.Add(filepath.Dir(path)); err != nil {
		_ = fw.Close()
		return nil, err
	}

	w := &Watcher{
		path:    path,
		watcher: fw,
		logger:  logger.WithComponent("config-watcher"),
		onApply: onApply,
		done:    make(chan struct{}),
	}
	go w.run()
	return w, nil
}

func (w *Watcher) run() {
	defer close(w.done)
	for {
		select {
		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			if filepath.Clean(event.Name) != filepath.Clean(w.path) {
				continue
			}
			if event.Op&(fsnotify.Write|fsnotify.Create) == 0 {
				continue
			}
			w.reload()
		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			w.logger.Warn("config watch error", "error", err)
		}
	}
}

func (w *Watcher) reload() {
	cfg, err := NewLoader().WithConfigFile(w.path).Load()
	if err != nil {
		w.logger.Warn("config reload failed", "error", err)
		return
	}

	v := NewValidator()
	v.ValidateAnalysis(&cfg.Analysis)
	if v.Errors().HasErrors() {
		w.logger.Warn("config reload rejected", "errors", v.Errors().Error())
		return
	}

	w.logger.Info("applying reloaded analysis config",
		"warning", cfg.Analysis.Thresholds.Warning,
		"high", cfg.Analysis.Thresholds.High,
		"critical", cfg.Analysis.Thresholds.Critical,
	)
	w.onApply(cfg.Analysis)
}

// Close stops watching and waits for the watch loop to exit.
func (w *Watcher) Close() error {
	err := w.watcher.Close()
	<-w.done
	return err
}
