package logging

import (
	"io"
	"log/slog"
	"os"

	"golang.org/x/term"
)

// Logger wraps slog.Logger with redaction support.
type Logger struct {
	*slog.Logger
	sanitizer *Sanitizer
}

// Config configures the logger.
type Config struct {
	Level     string
	Format    string // auto, text, json
	Output    io.Writer
	AddSource bool
}

// DefaultConfig returns the default logger configuration.
func DefaultConfig() Config {
	return Config{
		Level:     "info",
		Format:    "auto",
		Output:    os.Stdout,
		AddSource: false,
	}
}

// New creates a new logger. In auto format a pretty console handler is used
// on a terminal, JSON otherwise. Output always passes through the sanitizer
// so tokens and protected health information never reach log sinks.
func New(cfg Config) *Logger {
	if cfg.Output == nil {
		cfg.Output = os.Stdout
	}

	level := parseLevel(cfg.Level)
	sanitizer := NewSanitizer()

	var handler slog.Handler
	switch cfg.Format {
	case "json":
		handler = slog.NewJSONHandler(cfg.Output, &slog.HandlerOptions{
			Level:     level,
			AddSource: cfg.AddSource,
		})
	case "text":
		handler = slog.NewTextHandler(cfg.Output, &slog.HandlerOptions{
			Level:     level,
			AddSource: cfg.AddSource,
		})
	default: // auto
		if isTerminal(cfg.Output) {
			handler = NewPrettyHandler(cfg.Output, level)
		} else {
			handler = slog.NewJSONHandler(cfg.Output, &slog.HandlerOptions{
				Level:     level,
				AddSource: cfg.AddSource,
			})
		}
	}

	handler = NewSanitizingHandler(handler, sanitizer)

	return &Logger{
		Logger:    slog.New(handler),
		sanitizer: sanitizer,
	}
}

// NewNop creates a no-op logger for testing.
func NewNop() *Logger {
	return &Logger{
		Logger:    slog.New(slog.NewTextHandler(io.Discard, nil)),
		sanitizer: NewSanitizer(),
	}
}

func parseLevel(s string) slog.Level {
	switch s {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

func isTerminal(w io.Writer) bool {
	if f, ok := w.(*os.File); ok {
		return term.IsTerminal(int(f.Fd()))
	}
	return false
}

// WithSession returns a logger with session context.
func (l *Logger) WithSession(sessionID string) *Logger {
	return &Logger{
		Logger:    l.Logger.With("session_id", sessionID),
		sanitizer: l.sanitizer,
	}
}

// WithLayer returns a logger with analysis layer context.
func (l *Logger) WithLayer(layer string) *Logger {
	return &Logger{
		Logger:    l.Logger.With("layer", layer),
		sanitizer: l.sanitizer,
	}
}

// WithComponent returns a logger with component context.
func (l *Logger) WithComponent(name string) *Logger {
	return &Logger{
		Logger:    l.Logger.With("component", name),
		sanitizer: l.sanitizer,
	}
}

// With returns a logger with custom fields.
func (l *Logger) With(args ...any) *Logger {
	return &Logger{
		Logger:    l.Logger.With(args...),
		sanitizer: l.sanitizer,
	}
}

// Sanitize sanitizes a string using the logger's sanitizer.
func (l *Logger) Sanitize(input string) string {
	return l.sanitizer.Sanitize(input)
}
