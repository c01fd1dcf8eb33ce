package orders

import (
	"github.com/provesi/orderflow/integrity"
)

// State is the order lifecycle state. The string values are the wire/storage
// contract shared with the other services and must not change.
type State string

const (
	StateTransito            State = "Transito"
	StateAlistamiento        State = "Alistamiento"
	StatePorVerificar        State = "Por verificar"
	StateRechazadoVerificar  State = "Rechazado x verificar"
	StateVerificado          State = "Verificado"
	StateEmpacadoXDespachar  State = "Empacado x despachar"
	StateDespachado          State = "Despachado"
	StateDespachadoFacturar  State = "Despachado x facturar"
	StateEntregado           State = "Entregado"
	StateDevuelto            State = "Devuelto"
	StateProduccion          State = "Produccion"
	StateBordado             State = "Bordado"
	StateDropshipping        State = "Dropshipping"
	StateCompra              State = "Compra"
	StateAnulado             State = "Anulado"
)

var allStates = map[State]struct{}{
	StateTransito: {}, StateAlistamiento: {}, StatePorVerificar: {},
	StateRechazadoVerificar: {}, StateVerificado: {}, StateEmpacadoXDespachar: {},
	StateDespachado: {}, StateDespachadoFacturar: {}, StateEntregado: {},
	StateDevuelto: {}, StateProduccion: {}, StateBordado: {},
	StateDropshipping: {}, StateCompra: {}, StateAnulado: {},
}

func (s State) Valid() bool {
	_, ok := allStates[s]
	return ok
}

// Terminal states accept no further transitions.
func (s State) Terminal() bool {
	return s == StateEntregado || s == StateDevuelto || s == StateAnulado
}

// ProductLine is one requested {product, quantity} pair.
type ProductLine struct {
	Product  string `json:"producto" validate:"required"`
	Quantity int    `json:"cantidad" validate:"gt=0"`
}

// Invoice is created exactly once, when the order transitions into
// "Empacado x despachar", and is immutable afterward.
type Invoice struct {
	ID       int64   `json:"id"`
	Total    float64 `json:"costo_total"`
	Method   string  `json:"metodo_pago"`
	Account  string  `json:"num_cuenta"`
	Receipt  string  `json:"comprobante"`
	ClientID int64   `json:"cliente"`
}

type Order struct {
	ID          int64         `json:"id"`
	State       State         `json:"estado"`
	ClientID    int64         `json:"cliente"`
	Operator    string        `json:"operario"`
	WarehouseID string        `json:"bodega_id"`
	Items       []string      `json:"items"`
	Lines       []ProductLine `json:"productos_solicitados"`
	Invoice     *Invoice      `json:"factura,omitempty"`

	// Digest is derived from the other fields; it is never set directly by
	// callers and is recomputed inside every mutating store operation.
	Digest string `json:"hash_de_integridad"`
}

// Canonical projects the order into the fixed-field-order form the integrity
// engine signs.
func (o *Order) Canonical() integrity.OrderData {
	var inv *integrity.InvoiceData
	if o.Invoice != nil {
		inv = &integrity.InvoiceData{
			ClientID: o.Invoice.ClientID,
			Receipt:  o.Invoice.Receipt,
			Total:    o.Invoice.Total,
			ID:       o.Invoice.ID,
			Method:   o.Invoice.Method,
			Account:  o.Invoice.Account,
		}
	}

	lines := make([]integrity.LineData, 0, len(o.Lines))
	for _, l := range o.Lines {
		lines = append(lines, integrity.LineData{Quantity: l.Quantity, Product: l.Product})
	}

	return integrity.OrderData{
		WarehouseID: o.WarehouseID,
		ClientID:    o.ClientID,
		State:       string(o.State),
		Invoice:     inv,
		ID:          o.ID,
		Items:       o.Items,
		Lines:       lines,
	}
}
