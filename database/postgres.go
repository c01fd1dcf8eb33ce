package database

import (
	"context"
	"database/sql"
	"embed"
	"fmt"
	"time"

	"github.com/pressly/goose/v3"
	"github.com/uptrace/opentelemetry-go-extra/otelsql"
	semconv "go.opentelemetry.io/otel/semconv/v1.17.0"

	_ "github.com/jackc/pgx/v5/stdlib" // register pgx driver
)

// Config holds standard database configuration.
// It is the service's responsibility to load these values.
type Config struct {
	DSN             string        `envconfig:"DB_DSN" required:"true"`
	MaxOpenConns    int           `envconfig:"DB_MAX_OPEN_CONNS" default:"25"`
	MaxIdleConns    int           `envconfig:"DB_MAX_IDLE_CONNS" default:"5"`
	ConnMaxLifetime time.Duration `envconfig:"DB_CONN_MAX_LIFETIME" default:"15m"`
}

// NewPostgres initializes a *sql.DB with OpenTelemetry instrumentation and
// connection pooling. Fails fast if the database is unreachable.
func NewPostgres(ctx context.Context, cfg Config, serviceName string) (*sql.DB, error) {
	db, err := otelsql.Open("pgx", cfg.DSN,
		otelsql.WithAttributes(semconv.ServiceNameKey.String(serviceName)),
		otelsql.WithDBName("postgres"),
	)
	if err != nil {
		return nil, fmt.Errorf("database: failed to open connection: %w", err)
	}

	db.SetMaxOpenConns(cfg.MaxOpenConns)
	db.SetMaxIdleConns(cfg.MaxIdleConns)
	db.SetConnMaxLifetime(cfg.ConnMaxLifetime)

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	if err := db.PingContext(pingCtx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("database: failed to ping database: %w", err)
	}

	return db, nil
}

// Migrate applies the embedded goose migrations for the given service.
// dir selects the per-service migration set ("auditoria" or "pedidos").
func Migrate(ctx context.Context, db *sql.DB, fsys embed.FS, dir string) error {
	goose.SetBaseFS(fsys)
	if err := goose.SetDialect("postgres"); err != nil {
		return fmt.Errorf("database: set dialect: %w", err)
	}
	if err := goose.UpContext(ctx, db, dir); err != nil {
		return fmt.Errorf("database: migrations failed: %w", err)
	}
	return nil
}
