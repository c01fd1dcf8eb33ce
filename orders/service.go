package orders

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"

	"github.com/go-playground/validator/v10"

	"github.com/provesi/orderflow/audit"
	"github.com/provesi/orderflow/contextx"
	"github.com/provesi/orderflow/http/response"
	"github.com/provesi/orderflow/integrity"
	"github.com/provesi/orderflow/inventory"
)

// Roles carried in the verified token's rol claim.
const (
	RoleJefeBodega = "JefeBodega"
	RoleOperario   = "Operario"
	RoleVendedor   = "Vendedor"
)

// Auditor publishes audit events best-effort. A false return means the
// audit trail may miss this fact; it never fails the business operation.
type Auditor interface {
	Publish(ctx context.Context, e audit.Event) bool
}

type CreateOrderRequest struct {
	ClientID    int64         `json:"cliente" validate:"required"`
	Operator    string        `json:"operario" validate:"required"`
	WarehouseID string        `json:"bodega_seleccionada" validate:"required"`
	Items       []string      `json:"items" validate:"required,min=1"`
	Lines       []ProductLine `json:"productos_solicitados" validate:"required,min=1,dive"`
}

type InvoiceInput struct {
	Method  string `json:"metodo_pago" validate:"required"`
	Account string `json:"num_cuenta" validate:"required"`
	Receipt string `json:"comprobante" validate:"required"`
}

type ChangeStateRequest struct {
	NewState State         `json:"nuevo_estado" validate:"required"`
	Invoice  *InvoiceInput `json:"datos_factura,omitempty"`
}

type Service struct {
	store    Store
	signer   *integrity.Signer
	stock    *inventory.StockChecker
	catalog  inventory.Catalog
	auditor  Auditor
	policy   TransitionPolicy
	validate *validator.Validate
	logger   *slog.Logger
}

func NewService(store Store, signer *integrity.Signer, catalog inventory.Catalog,
	auditor Auditor, policy TransitionPolicy, logger *slog.Logger) *Service {
	return &Service{
		store:    store,
		signer:   signer,
		stock:    inventory.NewStockChecker(catalog),
		catalog:  catalog,
		auditor:  auditor,
		policy:   policy,
		validate: validator.New(),
		logger:   logger,
	}
}

// Create places a new order. All external checks (warehouse, products,
// available stock) must pass before anything is written; the order row and
// its digest are then committed as one unit.
func (s *Service) Create(ctx context.Context, req CreateOrderRequest) (*Order, error) {
	if err := s.requireRole(ctx, RoleJefeBodega); err != nil {
		return nil, err
	}

	if err := s.validate.Struct(req); err != nil {
		return nil, response.Coded(response.ErrValidation, err.Error())
	}
	if err := validateItems(req.Items, req.Lines); err != nil {
		return nil, err
	}

	reqs := make([]inventory.Requirement, 0, len(req.Lines))
	for _, l := range req.Lines {
		reqs = append(reqs, inventory.Requirement{Product: l.Product, Quantity: l.Quantity})
	}
	if err := s.stock.Check(ctx, req.WarehouseID, reqs); err != nil {
		return nil, err
	}

	o := &Order{
		State:       StateAlistamiento,
		ClientID:    req.ClientID,
		Operator:    req.Operator,
		WarehouseID: req.WarehouseID,
		Items:       req.Items,
		Lines:       req.Lines,
	}
	if err := s.store.Create(ctx, o); err != nil {
		return nil, err
	}

	s.emit(ctx, audit.ActionCreate, "PEDIDO", o.ID,
		fmt.Sprintf("order %d created for client %d", o.ID, o.ClientID),
		map[string]any{"estado": string(o.State), "bodega_id": o.WarehouseID})

	return o, nil
}

// ChangeState moves the order to a new state. The transition to
// "Empacado x despachar" additionally creates the order's invoice, exactly
// once, priced from the inventory catalog. State, invoice and recomputed
// digest are committed in one transaction.
func (s *Service) ChangeState(ctx context.Context, orderID int64, req ChangeStateRequest) (*Order, error) {
	if err := s.requireRole(ctx, RoleJefeBodega, RoleOperario, RoleVendedor); err != nil {
		return nil, err
	}

	if err := s.validate.Struct(req); err != nil {
		return nil, response.Coded(response.ErrValidation, err.Error())
	}
	if !req.NewState.Valid() {
		return nil, response.Coded(response.ErrValidation, fmt.Sprintf("%q is not a known state", req.NewState))
	}

	o, err := s.store.Get(ctx, orderID)
	if err != nil {
		return nil, err
	}

	if !s.policy.Allowed(o.State, req.NewState) {
		return nil, response.Coded(response.ErrRuleViolation,
			fmt.Sprintf("transition %q -> %q is not allowed", o.State, req.NewState))
	}

	previous := o.State

	if req.NewState == StateEmpacadoXDespachar {
		if err := s.requireRole(ctx, RoleVendedor); err != nil {
			return nil, err
		}
		if req.Invoice == nil {
			return nil, response.Coded(response.ErrMissingField,
				"datos_factura is required when the new state is Empacado x despachar")
		}
		if o.Invoice != nil {
			return nil, response.Coded(response.ErrConflict,
				fmt.Sprintf("order %d already has invoice %d", o.ID, o.Invoice.ID))
		}
		inv, err := s.buildInvoice(ctx, o, *req.Invoice)
		if err != nil {
			return nil, err
		}
		o.Invoice = inv
	}

	o.State = req.NewState
	if err := s.store.Update(ctx, o); err != nil {
		return nil, err
	}

	s.emit(ctx, audit.ActionUpdate, "PEDIDO", o.ID,
		fmt.Sprintf("order %d moved from %q to %q", o.ID, previous, o.State),
		map[string]any{"old": string(previous), "new": string(o.State)})

	return o, nil
}

// Get loads the order and verifies its integrity digest before returning it.
// A mismatch is a conflict: the order has been altered or corrupted outside
// the mutation path. It is reported, never repaired.
func (s *Service) Get(ctx context.Context, orderID int64) (*Order, error) {
	if err := s.requireRole(ctx, RoleJefeBodega); err != nil {
		return nil, err
	}

	o, err := s.store.Get(ctx, orderID)
	if err != nil {
		return nil, err
	}

	ok, err := s.signer.Verify(o.Canonical(), o.Digest)
	if err != nil {
		return nil, err
	}
	if !ok {
		s.logger.ErrorContext(ctx, "order integrity violation detected",
			"pedido_id", o.ID, "estado", string(o.State))
		s.emit(ctx, audit.ActionRead, "PEDIDO", o.ID,
			fmt.Sprintf("integrity check failed for order %d", o.ID),
			map[string]any{"estado": string(o.State)})
		return nil, response.Coded(response.ErrIntegrityViolation,
			fmt.Sprintf("order %d has been altered or corrupted", o.ID))
	}

	return o, nil
}

// VerifyIntegrity recomputes the digest fresh and reports whether it matches
// the stored value.
func (s *Service) VerifyIntegrity(ctx context.Context, orderID int64) (bool, error) {
	o, err := s.store.Get(ctx, orderID)
	if err != nil {
		return false, err
	}
	return s.signer.Verify(o.Canonical(), o.Digest)
}

func (s *Service) buildInvoice(ctx context.Context, o *Order, in InvoiceInput) (*Invoice, error) {
	var total float64
	for _, l := range o.Lines {
		p, err := s.catalog.Product(ctx, l.Product)
		if err != nil {
			return nil, response.Coded(response.ErrServiceUnavail,
				fmt.Sprintf("cannot price product %s: %v", l.Product, err))
		}
		total += p.Price * float64(l.Quantity)
	}

	return &Invoice{
		Total:    total,
		Method:   in.Method,
		Account:  in.Account,
		Receipt:  in.Receipt,
		ClientID: o.ClientID,
	}, nil
}

func (s *Service) requireRole(ctx context.Context, allowed ...string) error {
	role := contextx.GetActorRole(ctx)
	for _, a := range allowed {
		if role == a {
			return nil
		}
	}
	return response.Coded(response.ErrForbidden,
		fmt.Sprintf("role %q may not perform this operation", role))
}

func (s *Service) emit(ctx context.Context, action audit.Action, entity string, entityID int64, description string, metadata map[string]any) {
	actor := contextx.GetAuthPrincipalID(ctx)
	if actor == "" {
		actor = "unknown"
	}
	s.auditor.Publish(ctx, audit.Event{
		ActorID:     actor,
		Action:      action,
		Entity:      entity,
		EntityID:    strconv.FormatInt(entityID, 10),
		Description: description,
		Metadata:    metadata,
		SourceIP:    contextx.GetSourceIP(ctx),
	})
}

func validateItems(items []string, lines []ProductLine) error {
	seen := make(map[string]struct{}, len(items))
	for _, sku := range items {
		if _, dup := seen[sku]; dup {
			return response.Coded(response.ErrValidation, "duplicate SKU "+sku)
		}
		seen[sku] = struct{}{}
	}
	if len(items) != len(lines) {
		return response.Coded(response.ErrValidation,
			fmt.Sprintf("item count (%d) does not match requested line count (%d)", len(items), len(lines)))
	}
	return nil
}
