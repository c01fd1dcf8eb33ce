package orders

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/provesi/orderflow/database"
	"github.com/provesi/orderflow/integrity"
)

// Store persists orders. Every mutating call covers the field changes and
// the digest recomputation in one transaction, so a committed row always
// carries a digest matching its own fields.
type Store interface {
	Create(ctx context.Context, o *Order) error
	Get(ctx context.Context, id int64) (*Order, error)
	Update(ctx context.Context, o *Order) error
}

type PgStore struct {
	db     *sql.DB
	signer *integrity.Signer
}

func NewPgStore(db *sql.DB, signer *integrity.Signer) *PgStore {
	return &PgStore{db: db, signer: signer}
}

// Create inserts the order, its lines and its digest atomically. If anything
// fails no partial order row is left behind.
func (s *PgStore) Create(ctx context.Context, o *Order) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return database.MapError(err)
	}
	defer tx.Rollback()

	items, err := json.Marshal(o.Items)
	if err != nil {
		return fmt.Errorf("orders: marshal items: %w", err)
	}

	err = tx.QueryRowContext(ctx,
		`INSERT INTO pedidos (estado, cliente, operario, bodega_id, items, hash_de_integridad)
		 VALUES ($1, $2, $3, $4, $5, '')
		 RETURNING id`,
		string(o.State), o.ClientID, o.Operator, o.WarehouseID, items,
	).Scan(&o.ID)
	if err != nil {
		return database.MapError(err)
	}

	for _, l := range o.Lines {
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO pedido_lineas (pedido_id, producto, cantidad) VALUES ($1, $2, $3)`,
			o.ID, l.Product, l.Quantity,
		); err != nil {
			return database.MapError(err)
		}
	}

	// The digest covers the server-assigned id, so it can only be computed
	// after the insert, still inside the same transaction.
	digest, err := s.signer.Digest(o.Canonical())
	if err != nil {
		return err
	}
	o.Digest = digest

	if _, err := tx.ExecContext(ctx,
		`UPDATE pedidos SET hash_de_integridad = $1 WHERE id = $2`,
		digest, o.ID,
	); err != nil {
		return database.MapError(err)
	}

	return database.MapError(tx.Commit())
}

func (s *PgStore) Get(ctx context.Context, id int64) (*Order, error) {
	var (
		o        Order
		items    []byte
		stateRaw string
	)
	err := s.db.QueryRowContext(ctx,
		`SELECT id, estado, cliente, operario, bodega_id, items, hash_de_integridad
		 FROM pedidos WHERE id = $1`,
		id,
	).Scan(&o.ID, &stateRaw, &o.ClientID, &o.Operator, &o.WarehouseID, &items, &o.Digest)
	if err != nil {
		return nil, database.MapError(err)
	}
	o.State = State(stateRaw)

	if err := json.Unmarshal(items, &o.Items); err != nil {
		return nil, fmt.Errorf("orders: unmarshal items: %w", err)
	}

	rows, err := s.db.QueryContext(ctx,
		`SELECT producto, cantidad FROM pedido_lineas WHERE pedido_id = $1 ORDER BY id`,
		id,
	)
	if err != nil {
		return nil, database.MapError(err)
	}
	defer rows.Close()
	for rows.Next() {
		var l ProductLine
		if err := rows.Scan(&l.Product, &l.Quantity); err != nil {
			return nil, database.MapError(err)
		}
		o.Lines = append(o.Lines, l)
	}
	if err := rows.Err(); err != nil {
		return nil, database.MapError(err)
	}

	var inv Invoice
	err = s.db.QueryRowContext(ctx,
		`SELECT id, costo_total, metodo_pago, num_cuenta, comprobante, cliente
		 FROM facturas WHERE pedido_id = $1`,
		id,
	).Scan(&inv.ID, &inv.Total, &inv.Method, &inv.Account, &inv.Receipt, &inv.ClientID)
	switch {
	case err == nil:
		o.Invoice = &inv
	case database.IsNoRows(err):
		// no invoice yet
	default:
		return nil, database.MapError(err)
	}

	return &o, nil
}

// Update persists a state change (and a newly attached invoice, if any)
// together with the recomputed digest in one transaction.
func (s *PgStore) Update(ctx context.Context, o *Order) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return database.MapError(err)
	}
	defer tx.Rollback()

	if o.Invoice != nil && o.Invoice.ID == 0 {
		err = tx.QueryRowContext(ctx,
			`INSERT INTO facturas (pedido_id, costo_total, metodo_pago, num_cuenta, comprobante, cliente)
			 VALUES ($1, $2, $3, $4, $5, $6)
			 RETURNING id`,
			o.ID, o.Invoice.Total, o.Invoice.Method, o.Invoice.Account, o.Invoice.Receipt, o.Invoice.ClientID,
		).Scan(&o.Invoice.ID)
		if err != nil {
			return database.MapError(err)
		}
	}

	digest, err := s.signer.Digest(o.Canonical())
	if err != nil {
		return err
	}
	o.Digest = digest

	res, err := tx.ExecContext(ctx,
		`UPDATE pedidos SET estado = $1, hash_de_integridad = $2, updated_at = now() WHERE id = $3`,
		string(o.State), digest, o.ID,
	)
	if err != nil {
		return database.MapError(err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return database.MapError(sql.ErrNoRows)
	}

	return database.MapError(tx.Commit())
}
