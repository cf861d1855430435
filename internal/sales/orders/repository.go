package orders

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/atlas-pos/atlas-pos/internal/ledger"
	"github.com/atlas-pos/atlas-pos/internal/platform/db"
	salesshared "github.com/atlas-pos/atlas-pos/internal/sales/shared"
	"github.com/atlas-pos/atlas-pos/internal/shared"
)

// Repository is the read side plus the transaction entry point.
type Repository interface {
	WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error
	Get(ctx context.Context, id int64) (*Order, error)
	List(ctx context.Context, filter ListFilter) ([]Order, int, error)
}

// TxRepository exposes the transactional operations. The bound ledger
// transaction rides along so order and stock writes commit as one unit.
type TxRepository interface {
	GetForUpdate(ctx context.Context, id int64) (*Order, error)
	Create(ctx context.Context, o Order) (int64, error)
	InsertItem(ctx context.Context, item Item) (int64, error)
	InsertPayment(ctx context.Context, p Payment) (int64, error)
	UpdateStatus(ctx context.Context, id int64, status shared.DocumentStatus, actorID int64, reason *string) error
	MarkConverted(ctx context.Context, quotationID, invoiceID int64) error
	NextRef(ctx context.Context, docType shared.DocType, branchID int64) (string, error)
	Ledger() ledger.Tx
}

// ListFilter narrows order listings.
type ListFilter struct {
	Kind       Kind
	BranchID   int64
	CustomerID int64
	Status     shared.DocumentStatus
	Limit      int
	Offset     int
}

type repository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs Repository.
func NewRepository(pool *pgxpool.Pool) Repository {
	return &repository{pool: pool}
}

func (r *repository) WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error {
	return db.WithTx(ctx, r.pool, func(tx pgx.Tx) error {
		return fn(ctx, &txRepository{q: tx, ledger: ledger.Bind(tx)})
	})
}

const orderColumns = `id, ref, kind, branch_id, customer_id, status, discount, discount_type, tax_rate, tax_amount,
total_amount, has_return, converted_order_id, note, created_by, created_at, updated_at,
approved_by, approved_at, cancelled_by, cancelled_at, cancel_reason`

func (r *repository) Get(ctx context.Context, id int64) (*Order, error) {
	return getOrder(ctx, r.pool, id, "")
}

func (r *repository) List(ctx context.Context, filter ListFilter) ([]Order, int, error) {
	limit := filter.Limit
	if limit <= 0 {
		limit = 50
	}
	where := `($1 = '' OR kind = $1) AND ($2 = 0 OR branch_id = $2)
  AND ($3 = 0 OR customer_id = $3) AND ($4 = '' OR status = $4)`
	var total int
	err := r.pool.QueryRow(ctx, `SELECT count(*) FROM orders WHERE `+where,
		string(filter.Kind), filter.BranchID, filter.CustomerID, string(filter.Status)).Scan(&total)
	if err != nil {
		return nil, 0, err
	}

	rows, err := r.pool.Query(ctx, `SELECT `+orderColumns+` FROM orders WHERE `+where+`
ORDER BY id DESC LIMIT $5 OFFSET $6`,
		string(filter.Kind), filter.BranchID, filter.CustomerID, string(filter.Status), limit, filter.Offset)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	out := []Order{}
	for rows.Next() {
		o, err := scanOrder(rows)
		if err != nil {
			return nil, 0, err
		}
		out = append(out, *o)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, err
	}
	return out, total, nil
}

type txRepository struct {
	q      db.DBTX
	ledger ledger.Tx
}

func (t *txRepository) Ledger() ledger.Tx {
	return t.ledger
}

func (t *txRepository) GetForUpdate(ctx context.Context, id int64) (*Order, error) {
	return getOrder(ctx, t.q, id, " FOR UPDATE")
}

func (t *txRepository) Create(ctx context.Context, o Order) (int64, error) {
	var id int64
	err := t.q.QueryRow(ctx, `INSERT INTO orders (ref, kind, branch_id, customer_id, status, discount, discount_type,
tax_rate, tax_amount, total_amount, note, created_by, created_at, updated_at)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,NOW(),NOW()) RETURNING id`,
		o.Ref, string(o.Kind), o.BranchID, o.CustomerID, string(o.Status), o.Discount, string(o.DiscountType),
		o.TaxRate, o.TaxAmount, o.TotalAmount, o.Note, o.CreatedBy).Scan(&id)
	return id, err
}

func (t *txRepository) InsertItem(ctx context.Context, item Item) (int64, error) {
	var id int64
	err := t.q.QueryRow(ctx, `INSERT INTO order_items (order_id, product_id, product_variant_id, kind, barcode,
quantity, unit_price, discount, discount_type, unit_cost)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10) RETURNING id`,
		item.OrderID, item.ProductID, item.VariantID, string(item.Kind), item.Barcode,
		item.Quantity, item.UnitPrice, item.Discount, string(item.DiscountType), item.UnitCost).Scan(&id)
	return id, err
}

func (t *txRepository) InsertPayment(ctx context.Context, p Payment) (int64, error) {
	var id int64
	err := t.q.QueryRow(ctx, `INSERT INTO order_payments (order_id, method, amount, kind, created_at)
VALUES ($1,$2,$3,$4,NOW()) RETURNING id`,
		p.OrderID, p.Method, p.Amount, p.Kind).Scan(&id)
	return id, err
}

func (t *txRepository) UpdateStatus(ctx context.Context, id int64, status shared.DocumentStatus, actorID int64, reason *string) error {
	var err error
	switch status {
	case shared.StatusApproved:
		_, err = t.q.Exec(ctx, `UPDATE orders SET status=$2, approved_by=$3, approved_at=NOW(), updated_at=NOW() WHERE id=$1`,
			id, string(status), actorID)
	case shared.StatusCancelled:
		_, err = t.q.Exec(ctx, `UPDATE orders SET status=$2, cancelled_by=$3, cancelled_at=NOW(), cancel_reason=$4, updated_at=NOW() WHERE id=$1`,
			id, string(status), actorID, reason)
	default:
		_, err = t.q.Exec(ctx, `UPDATE orders SET status=$2, updated_at=NOW() WHERE id=$1`, id, string(status))
	}
	return err
}

func (t *txRepository) MarkConverted(ctx context.Context, quotationID, invoiceID int64) error {
	_, err := t.q.Exec(ctx, `UPDATE orders SET converted_order_id=$2, updated_at=NOW() WHERE id=$1`, quotationID, invoiceID)
	return err
}

func (t *txRepository) NextRef(ctx context.Context, docType shared.DocType, branchID int64) (string, error) {
	return shared.NextRef(ctx, t.q, docType, branchID)
}

// GetForUpdateWith loads an order locked for update inside the caller's
// transaction. The sale return workflow uses it to read the invoice in the
// same transaction that writes the return.
func GetForUpdateWith(ctx context.Context, q db.DBTX, id int64) (*Order, error) {
	return getOrder(ctx, q, id, " FOR UPDATE")
}

func getOrder(ctx context.Context, q db.DBTX, id int64, suffix string) (*Order, error) {
	row := q.QueryRow(ctx, `SELECT `+orderColumns+` FROM orders WHERE id = $1`+suffix, id)
	o, err := scanOrder(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("orders: load order %d: %w", id, err)
	}

	rows, err := q.Query(ctx, `SELECT id, order_id, product_id, product_variant_id, kind, barcode,
quantity, unit_price, discount, discount_type, unit_cost
FROM order_items WHERE order_id = $1 ORDER BY id`+suffix, id)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	for rows.Next() {
		var item Item
		var kind, discountType string
		if err := rows.Scan(&item.ID, &item.OrderID, &item.ProductID, &item.VariantID, &kind, &item.Barcode,
			&item.Quantity, &item.UnitPrice, &item.Discount, &discountType, &item.UnitCost); err != nil {
			return nil, err
		}
		item.Kind = ItemKind(kind)
		item.DiscountType = salesDiscountType(discountType)
		o.Items = append(o.Items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	payRows, err := q.Query(ctx, `SELECT id, order_id, method, amount, kind, created_at
FROM order_payments WHERE order_id = $1 ORDER BY id`, id)
	if err != nil {
		return nil, err
	}
	defer payRows.Close()
	for payRows.Next() {
		var p Payment
		if err := payRows.Scan(&p.ID, &p.OrderID, &p.Method, &p.Amount, &p.Kind, &p.CreatedAt); err != nil {
			return nil, err
		}
		o.Payments = append(o.Payments, p)
	}
	return o, payRows.Err()
}

func scanOrder(row pgx.Row) (*Order, error) {
	var o Order
	var kind, status, discountType string
	err := row.Scan(&o.ID, &o.Ref, &kind, &o.BranchID, &o.CustomerID, &status, &o.Discount, &discountType,
		&o.TaxRate, &o.TaxAmount, &o.TotalAmount, &o.HasReturn, &o.ConvertedOrderID, &o.Note,
		&o.CreatedBy, &o.CreatedAt, &o.UpdatedAt,
		&o.ApprovedBy, &o.ApprovedAt, &o.CancelledBy, &o.CancelledAt, &o.CancelReason)
	if err != nil {
		return nil, err
	}
	o.Kind = Kind(kind)
	o.Status = shared.DocumentStatus(status)
	o.DiscountType = salesDiscountType(discountType)
	return &o, nil
}

func salesDiscountType(s string) salesshared.DiscountType {
	return salesshared.DiscountType(s)
}
