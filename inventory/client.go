// Package inventory is the read-only client for the external inventory
// service. A 404 is "not found", any other failure is a hard error; neither
// is ever implicit success.
package inventory

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"
)

var ErrNotFound = errors.New("inventory: not found")

type Config struct {
	BaseURL string        `envconfig:"INVENTARIO_URL" required:"true"`
	Timeout time.Duration `envconfig:"INVENTARIO_TIMEOUT" default:"5s"`
}

type Warehouse struct {
	ID      string `json:"id"`
	City    string `json:"ciudad"`
	Address string `json:"direccion"`
}

type Product struct {
	Code  string  `json:"codigo_barras"`
	Name  string  `json:"nombre"`
	Type  string  `json:"tipo"`
	Price float64 `json:"precio"`
}

// Item is one serial-numbered unit instance of a product in a warehouse.
type Item struct {
	SKU         string `json:"sku"`
	ProductCode string `json:"producto_id"`
	WarehouseID string `json:"bodega_id"`
}

type Client struct {
	base   string
	http   *http.Client
	logger *slog.Logger
}

func NewClient(cfg Config, logger *slog.Logger) *Client {
	return &Client{
		base:   strings.TrimRight(cfg.BaseURL, "/"),
		http:   &http.Client{Timeout: cfg.Timeout},
		logger: logger,
	}
}

func (c *Client) Warehouse(ctx context.Context, id string) (*Warehouse, error) {
	var w Warehouse
	if err := c.get(ctx, "/bodegas/"+url.PathEscape(id), nil, &w); err != nil {
		return nil, err
	}
	return &w, nil
}

func (c *Client) Product(ctx context.Context, code string) (*Product, error) {
	var p Product
	if err := c.get(ctx, "/productos/"+url.PathEscape(code), nil, &p); err != nil {
		return nil, err
	}
	return &p, nil
}

// AvailableItems lists the unit instances of a product currently available
// in the given warehouse.
func (c *Client) AvailableItems(ctx context.Context, productCode, warehouseID string) ([]Item, error) {
	q := url.Values{}
	q.Set("codigo_barras", productCode)
	q.Set("bodega_id", warehouseID)

	var items []Item
	if err := c.get(ctx, "/items/itemsDisponibles", q, &items); err != nil {
		return nil, err
	}
	return items, nil
}

func (c *Client) get(ctx context.Context, path string, query url.Values, out any) error {
	u := c.base + path
	if len(query) > 0 {
		u += "?" + query.Encode()
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return fmt.Errorf("inventory: build request: %w", err)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		// Timeouts and connection errors are hard failures of the caller's
		// operation, not a silent skip.
		return fmt.Errorf("inventory: %s unreachable: %w", path, err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusOK:
	case resp.StatusCode == http.StatusNotFound:
		c.logger.DebugContext(ctx, "inventory lookup missed", "path", path, "status", resp.StatusCode)
		return fmt.Errorf("%w: %s", ErrNotFound, path)
	default:
		// A failing collaborator is not a missing resource.
		return fmt.Errorf("inventory: %s returned status %d", path, resp.StatusCode)
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("inventory: decode %s: %w", path, err)
	}
	return nil
}
