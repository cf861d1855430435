package procurement

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/atlas-pos/atlas-pos/internal/ledger"
	"github.com/atlas-pos/atlas-pos/internal/platform/db"
	"github.com/atlas-pos/atlas-pos/internal/shared"
)

// Repository is the read side plus the transaction entry point.
type Repository interface {
	WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error
	Get(ctx context.Context, id int64) (*Purchase, error)
	List(ctx context.Context, filter ListFilter) ([]Purchase, int, error)
}

// TxRepository exposes the transactional operations.
type TxRepository interface {
	GetForUpdate(ctx context.Context, id int64) (*Purchase, error)
	Create(ctx context.Context, p Purchase) (int64, error)
	InsertLine(ctx context.Context, line Line) (int64, error)
	MarkReceived(ctx context.Context, id int64, actorID int64) error
	MarkCancelled(ctx context.Context, id int64, actorID int64, reason string) error
	NextRef(ctx context.Context, branchID int64) (string, error)
	Ledger() ledger.Tx
}

// ListFilter narrows purchase listings.
type ListFilter struct {
	SupplierID int64
	BranchID   int64
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

const purchaseColumns = `id, ref, supplier_id, branch_id, status, total_cost, note, created_by, created_at, updated_at,
received_by, received_at, cancelled_by, cancelled_at, cancel_reason`

func (r *repository) Get(ctx context.Context, id int64) (*Purchase, error) {
	return getPurchase(ctx, r.pool, id, "")
}

func (r *repository) List(ctx context.Context, filter ListFilter) ([]Purchase, int, error) {
	limit := filter.Limit
	if limit <= 0 {
		limit = 50
	}
	where := `($1 = 0 OR supplier_id = $1) AND ($2 = 0 OR branch_id = $2) AND ($3 = '' OR status = $3)`
	var total int
	err := r.pool.QueryRow(ctx, `SELECT count(*) FROM purchases WHERE `+where,
		filter.SupplierID, filter.BranchID, string(filter.Status)).Scan(&total)
	if err != nil {
		return nil, 0, err
	}

	rows, err := r.pool.Query(ctx, `SELECT `+purchaseColumns+` FROM purchases WHERE `+where+`
ORDER BY id DESC LIMIT $4 OFFSET $5`,
		filter.SupplierID, filter.BranchID, string(filter.Status), limit, filter.Offset)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	out := []Purchase{}
	for rows.Next() {
		p, err := scanPurchase(rows)
		if err != nil {
			return nil, 0, err
		}
		out = append(out, *p)
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

func (t *txRepository) GetForUpdate(ctx context.Context, id int64) (*Purchase, error) {
	return getPurchase(ctx, t.q, id, " FOR UPDATE")
}

func (t *txRepository) Create(ctx context.Context, p Purchase) (int64, error) {
	var id int64
	err := t.q.QueryRow(ctx, `INSERT INTO purchases (ref, supplier_id, branch_id, status, total_cost, note, created_by, created_at, updated_at)
VALUES ($1,$2,$3,$4,$5,$6,$7,NOW(),NOW()) RETURNING id`,
		p.Ref, p.SupplierID, p.BranchID, string(p.Status), p.TotalCost, p.Note, p.CreatedBy).Scan(&id)
	return id, err
}

func (t *txRepository) InsertLine(ctx context.Context, line Line) (int64, error) {
	var id int64
	err := t.q.QueryRow(ctx, `INSERT INTO purchase_lines (purchase_id, product_id, product_variant_id, barcode, quantity, unit_cost)
VALUES ($1,$2,$3,$4,$5,$6) RETURNING id`,
		line.PurchaseID, line.ProductID, line.VariantID, line.Barcode, line.Quantity, line.UnitCost).Scan(&id)
	return id, err
}

func (t *txRepository) MarkReceived(ctx context.Context, id int64, actorID int64) error {
	_, err := t.q.Exec(ctx, `UPDATE purchases SET status=$2, received_by=$3, received_at=NOW(), updated_at=NOW() WHERE id=$1`,
		id, string(shared.StatusApproved), actorID)
	return err
}

func (t *txRepository) MarkCancelled(ctx context.Context, id int64, actorID int64, reason string) error {
	_, err := t.q.Exec(ctx, `UPDATE purchases SET status=$2, cancelled_by=$3, cancelled_at=NOW(), cancel_reason=$4, updated_at=NOW() WHERE id=$1`,
		id, string(shared.StatusCancelled), actorID, reason)
	return err
}

func (t *txRepository) NextRef(ctx context.Context, branchID int64) (string, error) {
	return shared.NextRef(ctx, t.q, shared.DocTypePurchase, branchID)
}

func getPurchase(ctx context.Context, q db.DBTX, id int64, suffix string) (*Purchase, error) {
	row := q.QueryRow(ctx, `SELECT `+purchaseColumns+` FROM purchases WHERE id = $1`+suffix, id)
	p, err := scanPurchase(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("procurement: load purchase %d: %w", id, err)
	}

	rows, err := q.Query(ctx, `SELECT id, purchase_id, product_id, product_variant_id, barcode, quantity, unit_cost
FROM purchase_lines WHERE purchase_id = $1 ORDER BY id`, id)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	for rows.Next() {
		var line Line
		if err := rows.Scan(&line.ID, &line.PurchaseID, &line.ProductID, &line.VariantID,
			&line.Barcode, &line.Quantity, &line.UnitCost); err != nil {
			return nil, err
		}
		p.Lines = append(p.Lines, line)
	}
	return p, rows.Err()
}

func scanPurchase(row pgx.Row) (*Purchase, error) {
	var p Purchase
	var status string
	err := row.Scan(&p.ID, &p.Ref, &p.SupplierID, &p.BranchID, &status, &p.TotalCost, &p.Note,
		&p.CreatedBy, &p.CreatedAt, &p.UpdatedAt,
		&p.ReceivedBy, &p.ReceivedAt, &p.CancelledBy, &p.CancelledAt, &p.CancelReason)
	if err != nil {
		return nil, err
	}
	p.Status = shared.DocumentStatus(status)
	return &p, nil
}
