package inventory

import (
	"context"
	"errors"
	"fmt"

	"github.com/provesi/orderflow/http/response"
)

// Requirement is one requested product line at order creation.
type Requirement struct {
	Product  string
	Quantity int
}

// Catalog is the slice of Client the checker (and invoice pricing) needs.
type Catalog interface {
	Warehouse(ctx context.Context, id string) (*Warehouse, error)
	Product(ctx context.Context, code string) (*Product, error)
	AvailableItems(ctx context.Context, productCode, warehouseID string) ([]Item, error)
}

// StockChecker validates that a set of requested product quantities is
// actually available in the target warehouse. This is a point-in-time check,
// not a reservation: nothing is locked between the check and the eventual
// assignment of concrete item instances.
type StockChecker struct {
	catalog Catalog
}

func NewStockChecker(catalog Catalog) *StockChecker {
	return &StockChecker{catalog: catalog}
}

// Check confirms the warehouse exists, each product exists, and each
// product's available unit count covers the requested quantity. Any failure
// aborts the surrounding order creation before anything is persisted.
func (s *StockChecker) Check(ctx context.Context, warehouseID string, reqs []Requirement) error {
	if _, err := s.catalog.Warehouse(ctx, warehouseID); err != nil {
		if errors.Is(err, ErrNotFound) {
			return response.Coded(response.ErrNotFound, fmt.Sprintf("warehouse %s does not exist", warehouseID))
		}
		return response.Coded(response.ErrServiceUnavail, "inventory service unavailable: "+err.Error())
	}

	for _, req := range reqs {
		if req.Quantity <= 0 {
			return response.Coded(response.ErrValidation, fmt.Sprintf("requested quantity for %s must be positive", req.Product))
		}

		if _, err := s.catalog.Product(ctx, req.Product); err != nil {
			if errors.Is(err, ErrNotFound) {
				return response.Coded(response.ErrNotFound, fmt.Sprintf("product %s does not exist", req.Product))
			}
			return response.Coded(response.ErrServiceUnavail, "inventory service unavailable: "+err.Error())
		}

		items, err := s.catalog.AvailableItems(ctx, req.Product, warehouseID)
		if err != nil && !errors.Is(err, ErrNotFound) {
			return response.Coded(response.ErrServiceUnavail, "inventory service unavailable: "+err.Error())
		}

		if len(items) < req.Quantity {
			return response.Coded(response.ErrInsufficientStock,
				fmt.Sprintf("product %s: requested %d, available %d in warehouse %s",
					req.Product, req.Quantity, len(items), warehouseID))
		}
	}

	return nil
}
