// Package auditapi exposes the recorded audit log over HTTP: direct event
// ingestion plus the read endpoints used by operators and dashboards.
package auditapi

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/provesi/orderflow/audit"
	"github.com/provesi/orderflow/http/response"
	"github.com/provesi/orderflow/recorder"
)

const (
	listLimit   = 100
	recentLimit = 10

	// maxEventBytes bounds a single ingested payload.
	maxEventBytes = 64 * 1024
)

// Store is the slice of the audit log the API needs.
type Store interface {
	Append(ctx context.Context, e audit.Event) (recorder.Record, error)
	ListRecent(ctx context.Context, limit int) ([]recorder.Record, error)
	RecentByService(ctx context.Context, serviceID string) ([]recorder.Record, error)
}

type Handler struct {
	store  Store
	logger *slog.Logger
}

func NewHandler(store Store, logger *slog.Logger) *Handler {
	return &Handler{store: store, logger: logger}
}

func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Route("/audit-logs", func(r chi.Router) {
		r.Post("/", h.handleIngest)
		r.Get("/", h.handleList)
		r.Get("/recent-events", h.handleRecent)
	})
	r.Get("/audited-services/{id}/recent-events", h.handleRecentByService)
}

// ingestResponse is the synchronous-ingestion contract. The key names are
// shared with the emitting services and must not change.
type ingestResponse struct {
	EventCreated bool   `json:"event created"`
	Code         string `json:"codigo"`
	AuditLogID   int64  `json:"audit_log_id"`
}

// handleIngest accepts one audit event over HTTP and persists it
// synchronously, bypassing the queue. The payload runs through the same
// decoder the consumer uses, so both paths reject identical inputs.
func (h *Handler) handleIngest(w http.ResponseWriter, r *http.Request) {
	raw, err := io.ReadAll(io.LimitReader(r.Body, maxEventBytes+1))
	if err != nil {
		response.ErrorJSON(w, r, http.StatusBadRequest, response.ErrInvalidFormat, "cannot read request body")
		return
	}
	if len(raw) > maxEventBytes {
		response.ErrorJSON(w, r, http.StatusBadRequest, response.ErrValidation, "event payload too large")
		return
	}

	e, err := audit.Decode(raw)
	if err != nil {
		response.ErrorJSON(w, r, http.StatusBadRequest, response.ErrValidation, err.Error())
		return
	}
	if e.Timestamp.IsZero() {
		e.Timestamp = time.Now().UTC()
	}

	rec, err := h.store.Append(r.Context(), e)
	if err != nil {
		response.FromError(w, r, err)
		return
	}

	response.JSON(w, r, http.StatusCreated, ingestResponse{
		EventCreated: true,
		Code:         "EXITO",
		AuditLogID:   rec.ID,
	})
}

func (h *Handler) handleList(w http.ResponseWriter, r *http.Request) {
	records, err := h.store.ListRecent(r.Context(), listLimit)
	if err != nil {
		response.FromError(w, r, err)
		return
	}
	response.JSON(w, r, http.StatusOK, records)
}

func (h *Handler) handleRecent(w http.ResponseWriter, r *http.Request) {
	records, err := h.store.ListRecent(r.Context(), recentLimit)
	if err != nil {
		response.FromError(w, r, err)
		return
	}
	response.JSON(w, r, http.StatusOK, records)
}

func (h *Handler) handleRecentByService(w http.ResponseWriter, r *http.Request) {
	serviceID := chi.URLParam(r, "id")
	if serviceID == "" {
		response.ErrorJSON(w, r, http.StatusBadRequest, response.ErrMissingField, "service id is required")
		return
	}

	records, err := h.store.RecentByService(r.Context(), serviceID)
	if err != nil {
		response.FromError(w, r, err)
		return
	}
	if records == nil {
		records = []recorder.Record{}
	}
	response.JSON(w, r, http.StatusOK, records)
}
