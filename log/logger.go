package log

import (
	"log/slog"
	"os"
	"time"

	"github.com/lmittmann/tint"

	"github.com/provesi/orderflow/telemetry"
)

type Config struct {
	Level  string `envconfig:"LOG_LEVEL" default:"info"`  // debug, info, warn, error
	Format string `envconfig:"LOG_FORMAT" default:"json"` // json, console
}

func New(cfg Config) *slog.Logger {
	var level slog.Level
	switch cfg.Level {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}

	var handler slog.Handler

	if cfg.Format == "console" {
		// Pretty print for local development
		handler = tint.NewHandler(os.Stdout, &tint.Options{
			Level:      level,
			TimeFormat: time.TimeOnly,
		})
	} else {
		// JSON for production (machine readable)
		handler = slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
			Level: level,
		})
	}

	// Correlate every log line with the active span.
	return slog.New(telemetry.NewOTelHandler(handler))
}
