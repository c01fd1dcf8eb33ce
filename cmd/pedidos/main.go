// Command pedidos runs the order service: order placement against live
// stock, state transitions with invoicing, and tamper detection through the
// integrity digest. Every mutation is reported to the audit queue.
package main

import (
	"context"
	"fmt"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/provesi/orderflow/app"
	"github.com/provesi/orderflow/audit"
	"github.com/provesi/orderflow/cache"
	"github.com/provesi/orderflow/crypto"
	"github.com/provesi/orderflow/database"
	"github.com/provesi/orderflow/feature"
	"github.com/provesi/orderflow/integrity"
	"github.com/provesi/orderflow/inventory"
	"github.com/provesi/orderflow/log"
	"github.com/provesi/orderflow/migrations"
	"github.com/provesi/orderflow/mq"
	"github.com/provesi/orderflow/orders"
	"github.com/provesi/orderflow/server"
	"github.com/provesi/orderflow/server/health"
	"github.com/provesi/orderflow/server/middleware"
)

const serviceName = "pedidos"

type securityConfig struct {
	JWKSURL string        `envconfig:"JWKS_URL" required:"true"`
	Issuer  string        `envconfig:"JWT_ISSUER" required:"true"`
	Refresh time.Duration `envconfig:"JWKS_REFRESH_INTERVAL" default:"15m"`

	RateLimit      int           `envconfig:"RATE_LIMIT_RPS" default:"50"`
	RateLimitBurst int           `envconfig:"RATE_LIMIT_BURST" default:"100"`
	IdempotencyTTL time.Duration `envconfig:"IDEMPOTENCY_TTL" default:"24h"`
}

type config struct {
	Log       log.Config
	DB        database.Config
	Cache     cache.Config
	MQ        mq.Config
	Producer  audit.ProducerConfig
	Integrity integrity.Config
	Inventory inventory.Config
	Security  securityConfig
	Server    server.Config
}

func main() {
	var cfg config
	loader := app.NewConfigLoader()
	if err := loader.Load(context.Background(), &cfg, ""); err != nil {
		panic(fmt.Sprintf("pedidos: config load failed: %v", err))
	}

	logger := log.New(cfg.Log)
	runner := app.NewRunner(logger)
	feature.Init(nil)

	runner.Run(func(ctx context.Context) error {
		// A missing integrity key makes every digest unverifiable, so the
		// process refuses to start without one.
		signer, err := integrity.NewSigner(cfg.Integrity)
		if err != nil {
			return err
		}

		db, err := database.NewPostgres(ctx, cfg.DB, serviceName)
		if err != nil {
			return err
		}
		defer db.Close()

		if err := database.Migrate(ctx, db, migrations.FS, "pedidos"); err != nil {
			return err
		}

		rdb, err := cache.NewRedis(ctx, cfg.Cache)
		if err != nil {
			return err
		}
		defer rdb.Close()

		verifier, err := crypto.NewJWKSCachingClient(cfg.Security.JWKSURL, cfg.Security.Issuer, cfg.Security.Refresh, logger)
		if err != nil {
			return err
		}

		catalog := inventory.NewClient(cfg.Inventory, logger)
		producer := audit.NewProducer(cfg.Producer, cfg.MQ, logger)
		store := orders.NewPgStore(db, signer)

		var policy orders.TransitionPolicy = orders.PermissiveTransitions{}
		if feature.IsEnabled(ctx, "strict-transitions") {
			logger.Info("strict transition table enabled")
			policy = orders.StrictTransitions()
		}

		svc := orders.NewService(store, signer, catalog, producer, policy, logger)

		auth := middleware.NewAuthMiddleware(middleware.NewJWTStrategy(verifier, logger))

		router := chi.NewRouter()
		router.Use(middleware.PanicRecovery)
		router.Use(middleware.TraceIDMiddleware)
		router.Use(middleware.OTelMiddleware(serviceName))
		router.Use(middleware.MetricsMiddleware)
		router.Use(middleware.LoggerMiddleware)
		router.Use(middleware.SecurityHeaders)

		health.NewChecker(db, rdb, logger).RegisterRoutes(router)
		router.Handle("/metrics", promhttp.Handler())

		router.Group(func(r chi.Router) {
			r.Use(auth.HTTPMiddleware)
			r.Use(middleware.RateLimitMiddleware(rdb, cfg.Security.RateLimit, time.Second, cfg.Security.RateLimitBurst))
			r.Use(middleware.IdempotencyMiddleware(middleware.IdempotencyConfig{
				HeaderKey:   "Idempotency-Key",
				Expiry:      cfg.Security.IdempotencyTTL,
				RedisClient: rdb,
				Logger:      logger,
			}))
			orders.NewHandler(svc, logger).RegisterRoutes(r)
		})

		return server.New(cfg.Server, logger, router).Start(ctx)
	})
}
