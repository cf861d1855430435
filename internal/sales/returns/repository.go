package returns

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/atlas-pos/atlas-pos/internal/ledger"
	"github.com/atlas-pos/atlas-pos/internal/platform/db"
	"github.com/atlas-pos/atlas-pos/internal/sales/orders"
	salesshared "github.com/atlas-pos/atlas-pos/internal/sales/shared"
	"github.com/atlas-pos/atlas-pos/internal/shared"
)

// Repository is the read side plus the transaction entry point.
type Repository interface {
	WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error
	Get(ctx context.Context, id int64) (*SaleReturn, error)
	ListByOrder(ctx context.Context, orderID int64) ([]SaleReturn, error)
}

// TxRepository exposes the transactional operations. Sale returns cut across
// the order: the same transaction reads the invoice, writes the return,
// mirrors refunds into the payment log and restores stock.
type TxRepository interface {
	OrderForUpdate(ctx context.Context, orderID int64) (*orders.Order, error)
	// ReturnedQuantity sums prior returned quantities for one invoice item.
	ReturnedQuantity(ctx context.Context, orderItemID int64) (float64, error)
	// PriorReturnTotals sums discount, tax and total over every earlier
	// return against the order.
	PriorReturnTotals(ctx context.Context, orderID int64) (discount, tax, total float64, err error)
	Create(ctx context.Context, sr SaleReturn) (int64, error)
	InsertItem(ctx context.Context, item Item) (int64, error)
	InsertRefundPayment(ctx context.Context, orderID int64, method string, amount float64) error
	// ApplyReturnToOrder decrements the invoice total and flags it as returned.
	ApplyReturnToOrder(ctx context.Context, orderID int64, totalDelta float64) error
	NextRef(ctx context.Context, branchID int64) (string, error)
	Ledger() ledger.Tx
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

const returnColumns = `id, ref, order_id, branch_id, items_subtotal, discount, tax_amount, total_amount, note, created_by, created_at`

func (r *repository) Get(ctx context.Context, id int64) (*SaleReturn, error) {
	row := r.pool.QueryRow(ctx, `SELECT `+returnColumns+` FROM sale_returns WHERE id = $1`, id)
	sr, err := scanReturn(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("returns: load sale return %d: %w", id, err)
	}
	items, err := loadItems(ctx, r.pool, id)
	if err != nil {
		return nil, err
	}
	sr.Items = items
	return sr, nil
}

func (r *repository) ListByOrder(ctx context.Context, orderID int64) ([]SaleReturn, error) {
	rows, err := r.pool.Query(ctx, `SELECT `+returnColumns+` FROM sale_returns WHERE order_id = $1 ORDER BY id`, orderID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := []SaleReturn{}
	for rows.Next() {
		sr, err := scanReturn(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *sr)
	}
	return out, rows.Err()
}

type txRepository struct {
	q      db.DBTX
	ledger ledger.Tx
}

func (t *txRepository) Ledger() ledger.Tx {
	return t.ledger
}

func (t *txRepository) OrderForUpdate(ctx context.Context, orderID int64) (*orders.Order, error) {
	order, err := orders.GetForUpdateWith(ctx, t.q, orderID)
	if errors.Is(err, orders.ErrNotFound) {
		return nil, ErrOrderNotFound
	}
	return order, err
}

func (t *txRepository) ReturnedQuantity(ctx context.Context, orderItemID int64) (float64, error) {
	var qty float64
	err := t.q.QueryRow(ctx, `SELECT COALESCE(SUM(quantity), 0) FROM sale_return_items WHERE order_item_id = $1`, orderItemID).Scan(&qty)
	return qty, err
}

func (t *txRepository) PriorReturnTotals(ctx context.Context, orderID int64) (float64, float64, float64, error) {
	var discount, tax, total float64
	err := t.q.QueryRow(ctx, `SELECT COALESCE(SUM(discount), 0), COALESCE(SUM(tax_amount), 0), COALESCE(SUM(total_amount), 0)
FROM sale_returns WHERE order_id = $1`, orderID).Scan(&discount, &tax, &total)
	return discount, tax, total, err
}

func (t *txRepository) Create(ctx context.Context, sr SaleReturn) (int64, error) {
	var id int64
	err := t.q.QueryRow(ctx, `INSERT INTO sale_returns (ref, order_id, branch_id, items_subtotal, discount, tax_amount, total_amount, note, created_by, created_at)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,NOW()) RETURNING id`,
		sr.Ref, sr.OrderID, sr.BranchID, sr.ItemsSubtotal, sr.Discount, sr.TaxAmount, sr.TotalAmount, sr.Note, sr.CreatedBy).Scan(&id)
	return id, err
}

func (t *txRepository) InsertItem(ctx context.Context, item Item) (int64, error) {
	var id int64
	err := t.q.QueryRow(ctx, `INSERT INTO sale_return_items (sale_return_id, order_item_id, product_id, product_variant_id, quantity, unit_price, discount, discount_type, subtotal)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9) RETURNING id`,
		item.SaleReturnID, item.OrderItemID, item.ProductID, item.VariantID, item.Quantity,
		item.UnitPrice, item.Discount, string(item.DiscountType), item.Subtotal).Scan(&id)
	return id, err
}

func (t *txRepository) InsertRefundPayment(ctx context.Context, orderID int64, method string, amount float64) error {
	_, err := t.q.Exec(ctx, `INSERT INTO order_payments (order_id, method, amount, kind, created_at)
VALUES ($1,$2,$3,$4,NOW())`, orderID, method, amount, orders.PaymentKindRefund)
	return err
}

func (t *txRepository) ApplyReturnToOrder(ctx context.Context, orderID int64, totalDelta float64) error {
	_, err := t.q.Exec(ctx, `UPDATE orders SET total_amount = total_amount - $2, has_return = TRUE, updated_at = NOW() WHERE id = $1`,
		orderID, totalDelta)
	return err
}

func (t *txRepository) NextRef(ctx context.Context, branchID int64) (string, error) {
	return shared.NextRef(ctx, t.q, shared.DocTypeSaleReturn, branchID)
}

func loadItems(ctx context.Context, q db.DBTX, saleReturnID int64) ([]Item, error) {
	rows, err := q.Query(ctx, `SELECT id, sale_return_id, order_item_id, product_id, product_variant_id, quantity, unit_price, discount, discount_type, subtotal
FROM sale_return_items WHERE sale_return_id = $1 ORDER BY id`, saleReturnID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var items []Item
	for rows.Next() {
		var item Item
		var discountType string
		if err := rows.Scan(&item.ID, &item.SaleReturnID, &item.OrderItemID, &item.ProductID, &item.VariantID,
			&item.Quantity, &item.UnitPrice, &item.Discount, &discountType, &item.Subtotal); err != nil {
			return nil, err
		}
		item.DiscountType = salesshared.DiscountType(discountType)
		items = append(items, item)
	}
	return items, rows.Err()
}

func scanReturn(row pgx.Row) (*SaleReturn, error) {
	var sr SaleReturn
	err := row.Scan(&sr.ID, &sr.Ref, &sr.OrderID, &sr.BranchID, &sr.ItemsSubtotal, &sr.Discount,
		&sr.TaxAmount, &sr.TotalAmount, &sr.Note, &sr.CreatedBy, &sr.CreatedAt)
	if err != nil {
		return nil, err
	}
	return &sr, nil
}
