package auditapi

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/provesi/orderflow/audit"
	"github.com/provesi/orderflow/recorder"
)

type fakeStore struct {
	appendErr error
	nextID    int64
	records   []recorder.Record
	byService map[string][]recorder.Record
}

func (f *fakeStore) Append(ctx context.Context, e audit.Event) (recorder.Record, error) {
	if f.appendErr != nil {
		return recorder.Record{}, f.appendErr
	}
	f.nextID++
	rec := recorder.Record{
		ID:           f.nextID,
		Timestamp:    e.Timestamp,
		RegisteredAt: time.Now().UTC(),
		ActorID:      e.ActorID,
		ServiceID:    e.ServiceID,
		Action:       e.Action,
		Description:  e.Description,
		Entity:       e.Entity,
		EntityID:     e.EntityID,
	}
	f.records = append(f.records, rec)
	return rec, nil
}

func (f *fakeStore) ListRecent(ctx context.Context, limit int) ([]recorder.Record, error) {
	if limit > len(f.records) {
		limit = len(f.records)
	}
	out := make([]recorder.Record, limit)
	for i := 0; i < limit; i++ {
		out[i] = f.records[len(f.records)-1-i]
	}
	return out, nil
}

func (f *fakeStore) RecentByService(ctx context.Context, serviceID string) ([]recorder.Record, error) {
	return f.byService[serviceID], nil
}

func newTestRouter(store Store) *chi.Mux {
	r := chi.NewRouter()
	NewHandler(store, slog.New(slog.NewTextHandler(io.Discard, nil))).RegisterRoutes(r)
	return r
}

func eventBody(t *testing.T) []byte {
	t.Helper()
	raw, err := json.Marshal(map[string]any{
		"timestamp":          "2026-03-14T09:26:53Z",
		"user_id":            "u-1",
		"audited_service_id": "INVENTARIO",
		"action":             "UPDATE",
		"description":        "stock adjusted for product P-100",
		"entity":             "PRODUCTO",
		"entity_id":          "P-100",
	})
	require.NoError(t, err)
	return raw
}

type envelope struct {
	Success bool            `json:"success"`
	Data    json.RawMessage `json:"data"`
	Error   *struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

func TestIngestPersistsAndReturnsContract(t *testing.T) {
	store := &fakeStore{}
	router := newTestRouter(store)

	req := httptest.NewRequest(http.MethodPost, "/audit-logs/", bytes.NewReader(eventBody(t)))
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	require.Equal(t, http.StatusCreated, rec.Code)
	require.Len(t, store.records, 1)

	var env envelope
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &env))
	assert.True(t, env.Success)

	var data map[string]any
	require.NoError(t, json.Unmarshal(env.Data, &data))
	assert.Equal(t, true, data["event created"])
	assert.Equal(t, "EXITO", data["codigo"])
	assert.Equal(t, float64(1), data["audit_log_id"])
}

func TestIngestRejectsInvalidEvent(t *testing.T) {
	store := &fakeStore{}
	router := newTestRouter(store)

	req := httptest.NewRequest(http.MethodPost, "/audit-logs/",
		bytes.NewReader([]byte(`{"action":"UPDATE"}`)))
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Empty(t, store.records)
}

func TestIngestRejectsMalformedJSON(t *testing.T) {
	router := newTestRouter(&fakeStore{})

	req := httptest.NewRequest(http.MethodPost, "/audit-logs/",
		bytes.NewReader([]byte(`{"user_id":`)))
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestIngestStoreFailure(t *testing.T) {
	store := &fakeStore{appendErr: errors.New("SYS_INTERNAL_ERROR: insert failed")}
	router := newTestRouter(store)

	req := httptest.NewRequest(http.MethodPost, "/audit-logs/", bytes.NewReader(eventBody(t)))
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusInternalServerError, rec.Code)

	var env envelope
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &env))
	assert.False(t, env.Success)
	require.NotNil(t, env.Error)
	assert.Equal(t, "SYS_INTERNAL_ERROR", env.Error.Code)
}

func TestListRecentEvents(t *testing.T) {
	store := &fakeStore{}
	router := newTestRouter(store)

	for i := 0; i < 3; i++ {
		req := httptest.NewRequest(http.MethodPost, "/audit-logs/", bytes.NewReader(eventBody(t)))
		router.ServeHTTP(httptest.NewRecorder(), req)
	}

	req := httptest.NewRequest(http.MethodGet, "/audit-logs/recent-events", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)

	var env envelope
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &env))

	var records []recorder.Record
	require.NoError(t, json.Unmarshal(env.Data, &records))
	require.Len(t, records, 3)
	// Newest first.
	assert.Equal(t, int64(3), records[0].ID)
}

func TestRecentByServiceEmptyIsEmptyList(t *testing.T) {
	router := newTestRouter(&fakeStore{})

	req := httptest.NewRequest(http.MethodGet, "/audited-services/pedidos/recent-events", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)

	var env envelope
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &env))
	assert.JSONEq(t, `[]`, string(env.Data))
}
