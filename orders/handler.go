package orders

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/provesi/orderflow/http/response"
)

// Handler exposes the order operations over HTTP.
type Handler struct {
	svc    *Service
	logger *slog.Logger
}

func NewHandler(svc *Service, logger *slog.Logger) *Handler {
	return &Handler{svc: svc, logger: logger}
}

func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Route("/pedidos", func(r chi.Router) {
		r.Post("/", h.handleCreate)
		r.Get("/{id}", h.handleGet)
		r.Put("/{id}/estado", h.handleChangeState)
	})
}

func (h *Handler) handleCreate(w http.ResponseWriter, r *http.Request) {
	var req CreateOrderRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		response.ErrorJSON(w, r, http.StatusBadRequest, response.ErrInvalidFormat, "malformed request body")
		return
	}

	o, err := h.svc.Create(r.Context(), req)
	if err != nil {
		response.FromError(w, r, err)
		return
	}

	response.JSON(w, r, http.StatusCreated, o)
}

func (h *Handler) handleGet(w http.ResponseWriter, r *http.Request) {
	id, err := orderID(r)
	if err != nil {
		response.ErrorJSON(w, r, http.StatusBadRequest, response.ErrInvalidFormat, "order id must be an integer")
		return
	}

	o, err := h.svc.Get(r.Context(), id)
	if err != nil {
		response.FromError(w, r, err)
		return
	}

	response.JSON(w, r, http.StatusOK, o)
}

func (h *Handler) handleChangeState(w http.ResponseWriter, r *http.Request) {
	id, err := orderID(r)
	if err != nil {
		response.ErrorJSON(w, r, http.StatusBadRequest, response.ErrInvalidFormat, "order id must be an integer")
		return
	}

	var req ChangeStateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		response.ErrorJSON(w, r, http.StatusBadRequest, response.ErrInvalidFormat, "malformed request body")
		return
	}

	o, err := h.svc.ChangeState(r.Context(), id, req)
	if err != nil {
		response.FromError(w, r, err)
		return
	}

	response.JSON(w, r, http.StatusOK, o)
}

func orderID(r *http.Request) (int64, error) {
	return strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
}
