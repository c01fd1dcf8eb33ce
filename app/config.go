package app

import (
	"context"
	"fmt"

	"github.com/go-playground/validator/v10"
	"github.com/kelseyhightower/envconfig"
)

// Loader standardizes how configuration is loaded.
// It combines envconfig (for parsing) and validator/v10 (for enforcement).
type Loader struct {
	validate *validator.Validate
}

func NewConfigLoader() *Loader {
	return &Loader{
		validate: validator.New(),
	}
}

// Load reads env vars into the provided spec struct and validates it.
// A failure here is a fatal configuration error: the process should die,
// never fall back to a silent default.
func (l *Loader) Load(ctx context.Context, spec interface{}, prefix string) error {
	if err := envconfig.Process(prefix, spec); err != nil {
		return fmt.Errorf("config: failed to process env vars: %w", err)
	}

	if err := l.validate.Struct(spec); err != nil {
		return fmt.Errorf("config: validation failed: %w", err)
	}

	return nil
}
