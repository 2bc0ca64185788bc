package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/viper"
)

// Loader handles configuration loading from multiple sources.
type Loader struct {
	v          *viper.Viper
	configFile string
	envPrefix  string
}

// NewLoader creates a new configuration loader.
func NewLoader() *Loader {
	return &Loader{
		v:         viper.New(),
		envPrefix: "BIASENGINE",
	}
}

// NewLoaderWithViper creates a loader using an existing viper instance.
// This allows integration with CLI flag bindings.
func NewLoaderWithViper(v *viper.Viper) *Loader {
	return &Loader{
		v:         v,
		envPrefix: "BIASENGINE",
	}
}

// WithConfigFile sets an explicit config file path.
func (l *Loader) WithConfigFile(path string) *Loader {
	l.configFile = path
	return l
}

// Viper returns the underlying viper instance for flag binding.
func (l *Loader) Viper() *viper.Viper {
	return l.v
}

// Load loads configuration from all sources.
// Precedence (highest to lowest):
// 1. CLI flags (set via viper.BindPFlag)
// 2. Environment variables (BIASENGINE_*)
// 3. Project config (.biasengine.yaml in current directory)
// 4. User config (~/.config/biasengine/config.yaml)
// 5. Defaults
func (l *Loader) Load() (*Config, error) {
	l.setDefaults()

	l.v.SetEnvPrefix(l.envPrefix)
	l.v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	l.v.AutomaticEnv()

	if l.configFile != "" {
		l.v.SetConfigFile(l.configFile)
	} else {
		l.v.SetConfigName(".biasengine")
		l.v.SetConfigType("yaml")
		l.v.AddConfigPath(".")
		if home, err := os.UserHomeDir(); err == nil {
			l.v.AddConfigPath(filepath.Join(home, ".config", "biasengine"))
		}
	}

	if err := l.v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("reading config: %w", err)
		}
	}

	var cfg Config
	if err := l.v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshaling config: %w", err)
	}

	return &cfg, nil
}

// setDefaults configures default values. Threshold and weight defaults
// follow the reference analysis service.
func (l *Loader) setDefaults() {
	// Log defaults
	l.v.SetDefault("log.level", "info")
	l.v.SetDefault("log.format", "auto")

	// HTTP defaults
	l.v.SetDefault("http.addr", ":8085")
	l.v.SetDefault("http.rate_limit_per_minute", 60)
	l.v.SetDefault("http.allowed_origins", []string{"*"})
	l.v.SetDefault("http.request_timeout", "60s")

	// Analysis service defaults
	l.v.SetDefault("service.url", "http://localhost:5001")
	l.v.SetDefault("service.timeout", "30s")
	l.v.SetDefault("service.breaker_threshold", 5)
	l.v.SetDefault("service.breaker_cooldown", "30s")

	// Scoring defaults
	l.v.SetDefault("analysis.weights.preprocessing", 0.25)
	l.v.SetDefault("analysis.weights.model_level", 0.30)
	l.v.SetDefault("analysis.weights.interactive", 0.20)
	l.v.SetDefault("analysis.weights.evaluation", 0.25)
	l.v.SetDefault("analysis.thresholds.warning", 0.3)
	l.v.SetDefault("analysis.thresholds.high", 0.6)
	l.v.SetDefault("analysis.thresholds.critical", 0.8)
	l.v.SetDefault("analysis.default_confidence", 0.7)
	l.v.SetDefault("analysis.cache_capacity", 1000)
	l.v.SetDefault("analysis.hipaa_compliance", true)
	l.v.SetDefault("analysis.audit_logging", true)

	// Metrics defaults
	l.v.SetDefault("metrics.flush_interval", "60s")
	l.v.SetDefault("metrics.realtime_events", true)

	// Alert defaults
	l.v.SetDefault("alerts.cooldown", "15m")
	l.v.SetDefault("alerts.expiry", "24h")

	// Store defaults
	l.v.SetDefault("store.path", ".biasengine/results.db")

	// Report defaults
	l.v.SetDefault("report.trend_interval", "24h")
}

// ConfigFile returns the config file path if one was used.
func (l *Loader) ConfigFile() string {
	return l.v.ConfigFileUsed()
}
