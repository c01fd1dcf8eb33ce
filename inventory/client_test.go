package inventory

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testClient(t *testing.T, handler http.Handler) *Client {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	return NewClient(
		Config{BaseURL: srv.URL, Timeout: 2 * time.Second},
		slog.New(slog.NewTextHandler(io.Discard, nil)),
	)
}

func TestWarehouseLookup(t *testing.T) {
	c := testClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/bodegas/BOG-01", r.URL.Path)
		json.NewEncoder(w).Encode(Warehouse{ID: "BOG-01", City: "Bogota"})
	}))

	w, err := c.Warehouse(context.Background(), "BOG-01")
	require.NoError(t, err)
	assert.Equal(t, "Bogota", w.City)
}

func TestProductLookup(t *testing.T) {
	c := testClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/productos/P-100", r.URL.Path)
		json.NewEncoder(w).Encode(Product{Code: "P-100", Name: "Camiseta", Price: 50})
	}))

	p, err := c.Product(context.Background(), "P-100")
	require.NoError(t, err)
	assert.Equal(t, 50.0, p.Price)
}

func TestAvailableItemsSendsQueryParams(t *testing.T) {
	c := testClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/items/itemsDisponibles", r.URL.Path)
		require.Equal(t, "P-100", r.URL.Query().Get("codigo_barras"))
		require.Equal(t, "BOG-01", r.URL.Query().Get("bodega_id"))
		json.NewEncoder(w).Encode([]Item{
			{SKU: "S1", ProductCode: "P-100", WarehouseID: "BOG-01"},
			{SKU: "S2", ProductCode: "P-100", WarehouseID: "BOG-01"},
		})
	}))

	items, err := c.AvailableItems(context.Background(), "P-100", "BOG-01")
	require.NoError(t, err)
	assert.Len(t, items, 2)
}

func Test404IsNotFound(t *testing.T) {
	c := testClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "nope", http.StatusNotFound)
	}))

	_, err := c.Warehouse(context.Background(), "MED-99")
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrNotFound))
}

func TestServerErrorIsNotNotFound(t *testing.T) {
	c := testClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "broker exploded", http.StatusServiceUnavailable)
	}))

	_, err := c.Warehouse(context.Background(), "BOG-01")
	require.Error(t, err)
	assert.False(t, errors.Is(err, ErrNotFound))
}

func TestConnectionFailureIsNotNotFound(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	srv.Close() // nothing listening anymore

	c := NewClient(
		Config{BaseURL: srv.URL, Timeout: 500 * time.Millisecond},
		slog.New(slog.NewTextHandler(io.Discard, nil)),
	)

	_, err := c.Product(context.Background(), "P-100")
	require.Error(t, err)
	assert.False(t, errors.Is(err, ErrNotFound))
}
