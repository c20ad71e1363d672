// Package logging provides the structured (JSON, file) and human-readable
// (text, stdout) slog loggers shared by every daemon.
package logging

import (
	"log/slog"
	"math"
	"os"
	"path/filepath"
	"sync"

	"gopkg.in/natefinch/lumberjack.v2"
)

const (
	LevelTrace = slog.Level(-8)
	LevelFatal = slog.Level(12)
)

var levelNames = map[slog.Leveler]string{
	LevelTrace: "TRACE",
	LevelFatal: "FATAL",
}

var (
	mu               sync.RWMutex
	structuredLogger *slog.Logger
	humanLogger      *slog.Logger
	currentLevel     = new(slog.LevelVar)
	initOnce         sync.Once
)

// Config controls where logs go and how they rotate.
type Config struct {
	Dir        string // directory holding app.log
	MaxSizeMB  int
	MaxBackups int
	MaxAgeDays int
	Level      slog.Level
}

func defaultReplaceAttr(groups []string, a slog.Attr) slog.Attr {
	if a.Key == slog.TimeKey && a.Value.Kind() == slog.KindTime {
		a.Value = slog.StringValue(a.Value.Time().Format("2006-01-02T15:04:05Z07:00"))
	}
	if a.Key == slog.LevelKey {
		if level, ok := a.Value.Any().(slog.Level); ok {
			label, exists := levelNames[level]
			if !exists {
				label = level.String()
			}
			a.Value = slog.StringValue(label)
		}
	}
	if a.Value.Kind() == slog.KindFloat64 {
		truncated := math.Trunc(a.Value.Float64()*100) / 100.0
		a.Value = slog.Float64Value(truncated)
	}
	return a
}

// Init sets up the global loggers. Safe to call multiple times; only the
// first call takes effect.
func Init(cfg Config) {
	initOnce.Do(func() {
		if cfg.Dir == "" {
			cfg.Dir = "logs"
		}
		if cfg.MaxSizeMB == 0 {
			cfg.MaxSizeMB = 50
		}
		if cfg.MaxBackups == 0 {
			cfg.MaxBackups = 5
		}
		if cfg.MaxAgeDays == 0 {
			cfg.MaxAgeDays = 28
		}
		if cfg.Level == 0 {
			cfg.Level = slog.LevelInfo
		}

		if err := os.MkdirAll(cfg.Dir, 0o755); err != nil {
			os.Stderr.WriteString("logging: failed to create log directory: " + err.Error() + "\n")
		}

		currentLevel.Set(cfg.Level)

		rotator := &lumberjack.Logger{
			Filename:   filepath.Join(cfg.Dir, "app.log"),
			MaxSize:    cfg.MaxSizeMB,
			MaxBackups: cfg.MaxBackups,
			MaxAge:     cfg.MaxAgeDays,
			Compress:   true,
		}

		structuredHandler := slog.NewJSONHandler(rotator, &slog.HandlerOptions{
			Level:       currentLevel,
			ReplaceAttr: defaultReplaceAttr,
		})
		humanHandler := slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{
			Level:       currentLevel,
			ReplaceAttr: defaultReplaceAttr,
		})

		mu.Lock()
		structuredLogger = slog.New(structuredHandler)
		humanLogger = slog.New(humanHandler)
		mu.Unlock()
	})
}

// SetLevel adjusts the dynamic log level of both loggers at runtime.
func SetLevel(level slog.Level) { currentLevel.Set(level) }

// ForService returns a structured logger tagged with the given component
// name. Falls back to a discard-free default if Init was never called, so
// tests and early-startup code never see a nil logger.
func ForService(component string) *slog.Logger {
	mu.RLock()
	defer mu.RUnlock()
	if structuredLogger == nil {
		return slog.Default().With("component", component)
	}
	return structuredLogger.With("component", component)
}

// ForConsole returns the human-readable logger, for CLI-facing daemons that
// also want console feedback alongside structured file logs.
func ForConsole(component string) *slog.Logger {
	mu.RLock()
	defer mu.RUnlock()
	if humanLogger == nil {
		return slog.Default().With("component", component)
	}
	return humanLogger.With("component", component)
}
