package logging

import (
	"log/slog"
	"os"
)

// Init installs the process-wide slog handler. LOG_LEVEL picks the level;
// production builds only show errors.
func Init() {
	slog.SetDefault(New(levelFromEnv()))
}

// New returns a text logger on stderr at the given level.
func New(level slog.Level) *slog.Logger {
	return slog.New(
		slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
			Level: level,
		}),
	)
}

func levelFromEnv() slog.Level {
	level := slog.LevelError

	if l, ok := os.LookupEnv("LOG_LEVEL"); ok {
		level = ParseLevel(l, level)
	}
	return level
}

// ParseLevel maps the names accepted in LOG_LEVEL to slog levels.
func ParseLevel(name string, fallback slog.Level) slog.Level {
	switch name {
	case "dev", "development", "debug":
		return slog.LevelDebug
	case "info":
		return slog.LevelInfo
	case "warn", "warning":
		return slog.LevelWarn
	case "error", "production", "prod":
		return slog.LevelError
	}
	return fallback
}

// Component returns a child of logger (or the default logger when nil)
// tagged with the component name.
func Component(logger *slog.Logger, name string) *slog.Logger {
	if logger == nil {
		logger = slog.Default()
	}
	return logger.With("component", name)
}
