// Package integrity computes and verifies the keyed digest that makes
// out-of-band tampering with an order detectable.
package integrity

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
)

type Config struct {
	// Key is the server-held HMAC secret. It is never sent to clients and
	// its absence is a fatal configuration error.
	Key string `envconfig:"INTEGRITY_KEY" required:"true"`
}

type Signer struct {
	key []byte
}

func NewSigner(cfg Config) (*Signer, error) {
	if cfg.Key == "" {
		return nil, errors.New("integrity: INTEGRITY_KEY is not set")
	}
	return &Signer{key: []byte(cfg.Key)}, nil
}

// OrderData is the canonical projection of an order's own fields. Field
// order is fixed by the struct declaration (alphabetical by wire key), so
// the serialized byte sequence is deterministic regardless of how the order
// was loaded.
type OrderData struct {
	WarehouseID string       `json:"bodega_id"`
	ClientID    int64        `json:"cliente"`
	State       string       `json:"estado"`
	Invoice     *InvoiceData `json:"factura"`
	ID          int64        `json:"id"`
	Items       []string     `json:"items"`
	Lines       []LineData   `json:"productos_solicitados"`
}

type InvoiceData struct {
	ClientID int64   `json:"cliente_id"`
	Receipt  string  `json:"comprobante"`
	Total    float64 `json:"costo_total"`
	ID       int64   `json:"id"`
	Method   string  `json:"metodo_pago"`
	Account  string  `json:"num_cuenta"`
}

type LineData struct {
	Quantity int    `json:"cantidad"`
	Product  string `json:"producto"`
}

// Digest canonicalizes the order data and returns the hex HMAC-SHA-256 over
// it. Item references are hashed as a sorted set; the caller's slice is not
// modified.
func (s *Signer) Digest(d OrderData) (string, error) {
	payload, err := canonical(d)
	if err != nil {
		return "", err
	}
	mac := hmac.New(sha256.New, s.key)
	mac.Write(payload)
	return hex.EncodeToString(mac.Sum(nil)), nil
}

// Verify recomputes the digest fresh and compares it to the stored value in
// constant time. A mismatch is reported, never repaired.
func (s *Signer) Verify(d OrderData, stored string) (bool, error) {
	fresh, err := s.Digest(d)
	if err != nil {
		return false, err
	}
	return hmac.Equal([]byte(fresh), []byte(stored)), nil
}

func canonical(d OrderData) ([]byte, error) {
	if d.Items != nil {
		items := make([]string, len(d.Items))
		copy(items, d.Items)
		sort.Strings(items)
		d.Items = items
	} else {
		d.Items = []string{}
	}
	if d.Lines == nil {
		d.Lines = []LineData{}
	}

	payload, err := json.Marshal(d)
	if err != nil {
		return nil, fmt.Errorf("integrity: canonicalize: %w", err)
	}
	return payload, nil
}
