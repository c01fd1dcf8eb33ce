package inventory

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/provesi/orderflow/http/response"
)

type stubCatalog struct {
	warehouses map[string]bool
	products   map[string]bool
	available  map[string]int
	err        error
}

func (s *stubCatalog) Warehouse(ctx context.Context, id string) (*Warehouse, error) {
	if s.err != nil {
		return nil, s.err
	}
	if !s.warehouses[id] {
		return nil, ErrNotFound
	}
	return &Warehouse{ID: id}, nil
}

func (s *stubCatalog) Product(ctx context.Context, code string) (*Product, error) {
	if s.err != nil {
		return nil, s.err
	}
	if !s.products[code] {
		return nil, ErrNotFound
	}
	return &Product{Code: code}, nil
}

func (s *stubCatalog) AvailableItems(ctx context.Context, productCode, warehouseID string) ([]Item, error) {
	if s.err != nil {
		return nil, s.err
	}
	return make([]Item, s.available[productCode]), nil
}

func newStub() *stubCatalog {
	return &stubCatalog{
		warehouses: map[string]bool{"BOG-01": true},
		products:   map[string]bool{"P-100": true},
		available:  map[string]int{"P-100": 3},
	}
}

func TestCheckPasses(t *testing.T) {
	checker := NewStockChecker(newStub())
	err := checker.Check(context.Background(), "BOG-01", []Requirement{{Product: "P-100", Quantity: 3}})
	assert.NoError(t, err)
}

func TestCheckUnknownWarehouse(t *testing.T) {
	checker := NewStockChecker(newStub())
	err := checker.Check(context.Background(), "MED-99", []Requirement{{Product: "P-100", Quantity: 1}})
	require.Error(t, err)
	assert.Equal(t, response.ErrNotFound, response.Code(err))
}

func TestCheckUnknownProduct(t *testing.T) {
	checker := NewStockChecker(newStub())
	err := checker.Check(context.Background(), "BOG-01", []Requirement{{Product: "P-404", Quantity: 1}})
	require.Error(t, err)
	assert.Equal(t, response.ErrNotFound, response.Code(err))
}

func TestCheckInsufficientStock(t *testing.T) {
	checker := NewStockChecker(newStub())
	err := checker.Check(context.Background(), "BOG-01", []Requirement{{Product: "P-100", Quantity: 4}})
	require.Error(t, err)
	assert.Equal(t, response.ErrInsufficientStock, response.Code(err))
}

func TestCheckNonPositiveQuantity(t *testing.T) {
	checker := NewStockChecker(newStub())
	err := checker.Check(context.Background(), "BOG-01", []Requirement{{Product: "P-100", Quantity: 0}})
	require.Error(t, err)
	assert.Equal(t, response.ErrValidation, response.Code(err))
}

func TestCheckCatalogOutage(t *testing.T) {
	stub := newStub()
	stub.err = errors.New("dial tcp: connection refused")
	checker := NewStockChecker(stub)

	err := checker.Check(context.Background(), "BOG-01", []Requirement{{Product: "P-100", Quantity: 1}})
	require.Error(t, err)
	assert.Equal(t, response.ErrServiceUnavail, response.Code(err))
}
