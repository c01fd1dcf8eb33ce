package app

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
)

// Runner encapsulates the startup logic.
// It handles signals and context cancellation so each binary doesn't have to.
type Runner struct {
	Logger *slog.Logger
}

func NewRunner(logger *slog.Logger) *Runner {
	return &Runner{Logger: logger}
}

// Run executes the main logic function. It provides a context that cancels on
// SIGTERM/SIGINT and blocks until fn returns.
func (r *Runner) Run(fn func(ctx context.Context) error) {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	r.Logger.Info("service starting")

	if err := fn(ctx); err != nil {
		r.Logger.Error("service failed", "error", err)
		stop()
		os.Exit(1)
	}

	r.Logger.Info("service shutdown complete")
}
