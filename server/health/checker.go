package health

import (
	"context"
	"database/sql"
	"encoding/json"
	"net/http"
	"time"

	"log/slog"

	"github.com/go-chi/chi/v5"
	"github.com/redis/go-redis/v9"
)

// Checker handles the health check endpoints.
type Checker struct {
	db     *sql.DB
	cache  *redis.Client
	logger *slog.Logger
}

// NewChecker creates a new health checker. cache may be nil for services
// that don't use Redis.
func NewChecker(db *sql.DB, cache *redis.Client, logger *slog.Logger) *Checker {
	return &Checker{
		db:     db,
		cache:  cache,
		logger: logger,
	}
}

// RegisterRoutes registers the health check routes on the router.
func (c *Checker) RegisterRoutes(r chi.Router) {
	r.Get("/health", c.HandleHealth)   // Liveness
	r.Get("/ready", c.HandleReadiness) // Readiness
}

// HandleHealth provides a simple liveness check (Kubernetes Liveness Probe).
// Just returns 200 OK if the binary is running.
func (c *Checker) HandleHealth(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	w.Write([]byte("OK"))
}

// HandleReadiness checks if the service is ready to accept traffic
// (Kubernetes Readiness Probe). Performs real-time checks against the
// backing stores.
func (c *Checker) HandleReadiness(w http.ResponseWriter, r *http.Request) {
	// If the database is slow (>200ms) we report DOWN so the load balancer
	// cuts traffic before requests pile up.
	ctx, cancel := context.WithTimeout(r.Context(), 200*time.Millisecond)
	defer cancel()

	status := map[string]string{"status": "UP", "db": "UP"}
	statusCode := http.StatusOK

	if err := c.db.PingContext(ctx); err != nil {
		c.logger.Error("readiness check failed: database unreachable or slow", "error", err)
		status["status"] = "DOWN"
		status["db"] = "DOWN"
		statusCode = http.StatusServiceUnavailable
	}

	if c.cache != nil {
		status["cache"] = "UP"
		if err := c.cache.Ping(ctx).Err(); err != nil {
			c.logger.Error("readiness check failed: redis unreachable or slow", "error", err)
			status["status"] = "DOWN"
			status["cache"] = "DOWN"
			statusCode = http.StatusServiceUnavailable
		}
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	if err := json.NewEncoder(w).Encode(status); err != nil {
		c.logger.Error("failed to write health response", "error", err)
	}
}
