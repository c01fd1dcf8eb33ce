// Command auditoria runs the audit recorder: it drains the audit queue into
// Postgres and serves the audit log over HTTP.
package main

import (
	"context"
	"fmt"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/provesi/orderflow/app"
	"github.com/provesi/orderflow/auditapi"
	"github.com/provesi/orderflow/cache"
	"github.com/provesi/orderflow/database"
	"github.com/provesi/orderflow/log"
	"github.com/provesi/orderflow/migrations"
	"github.com/provesi/orderflow/mq"
	"github.com/provesi/orderflow/recorder"
	"github.com/provesi/orderflow/server"
	"github.com/provesi/orderflow/server/health"
	"github.com/provesi/orderflow/server/middleware"
)

const serviceName = "auditoria"

type config struct {
	Log      log.Config
	DB       database.Config
	Cache    cache.Config
	MQ       mq.Config
	Recorder recorder.Config
	Server   server.Config
}

func main() {
	var cfg config
	loader := app.NewConfigLoader()
	if err := loader.Load(context.Background(), &cfg, ""); err != nil {
		panic(fmt.Sprintf("auditoria: config load failed: %v", err))
	}

	logger := log.New(cfg.Log)
	runner := app.NewRunner(logger)

	runner.Run(func(ctx context.Context) error {
		db, err := database.NewPostgres(ctx, cfg.DB, serviceName)
		if err != nil {
			return err
		}
		defer db.Close()

		if err := database.Migrate(ctx, db, migrations.FS, "auditoria"); err != nil {
			return err
		}

		rdb, err := cache.NewRedis(ctx, cfg.Cache)
		if err != nil {
			return err
		}
		defer rdb.Close()

		store := recorder.NewLogStore(db, rdb, logger)
		rec := recorder.NewAMQP(cfg.Recorder, cfg.MQ, store, logger)

		router := chi.NewRouter()
		router.Use(middleware.PanicRecovery)
		router.Use(middleware.TraceIDMiddleware)
		router.Use(middleware.OTelMiddleware(serviceName))
		router.Use(middleware.MetricsMiddleware)
		router.Use(middleware.LoggerMiddleware)
		router.Use(middleware.SecurityHeaders)

		health.NewChecker(db, rdb, logger).RegisterRoutes(router)
		router.Handle("/metrics", promhttp.Handler())
		auditapi.NewHandler(store, logger).RegisterRoutes(router)

		recDone := make(chan error, 1)
		go func() { recDone <- rec.Run(ctx) }()

		if err := server.New(cfg.Server, logger, router).Start(ctx); err != nil {
			return err
		}
		return <-recDone
	})
}
