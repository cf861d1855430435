package ledger

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/atlas-pos/atlas-pos/internal/platform/db"
)

// Bind wraps an existing transaction so document repositories can compose
// ledger writes with their own inside a single atomic unit.
func Bind(q db.DBTX) Tx {
	return &pgxTx{q: q}
}

type pgxTx struct {
	q db.DBTX
}

const movementColumns = `id, product_variant_id, branch_id, movement_type, status, quantity, unit_cost,
source_movement_id, remaining_qty, order_item_id, sale_return_item_id, note, created_by, created_at, approved_by, approved_at`

func (t *pgxTx) LevelForUpdate(ctx context.Context, variantID, branchID int64) (Level, error) {
	var level Level
	err := t.q.QueryRow(ctx, `SELECT product_variant_id, branch_id, quantity, updated_at
FROM stock_levels WHERE product_variant_id=$1 AND branch_id=$2 FOR UPDATE`, variantID, branchID).
		Scan(&level.VariantID, &level.BranchID, &level.Quantity, &level.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Level{VariantID: variantID, BranchID: branchID}, ErrLevelNotFound
		}
		return Level{}, err
	}
	return level, nil
}

func (t *pgxTx) UpsertLevel(ctx context.Context, level Level) error {
	_, err := t.q.Exec(ctx, `INSERT INTO stock_levels (product_variant_id, branch_id, quantity, updated_at)
VALUES ($1,$2,$3,NOW())
ON CONFLICT (product_variant_id, branch_id) DO UPDATE SET quantity=EXCLUDED.quantity, updated_at=NOW()`,
		level.VariantID, level.BranchID, level.Quantity)
	return err
}

func (t *pgxTx) InsertMovement(ctx context.Context, m Movement) (int64, error) {
	var id int64
	err := t.q.QueryRow(ctx, `INSERT INTO stock_movements (product_variant_id, branch_id, movement_type, status, quantity, unit_cost,
source_movement_id, remaining_qty, order_item_id, sale_return_item_id, note, created_by, created_at, approved_by, approved_at)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,COALESCE($13,NOW()),$14,$15) RETURNING id`,
		m.VariantID, m.BranchID, string(m.Type), string(m.Status), m.Quantity, m.UnitCost,
		m.SourceMovementID, m.RemainingQty, m.OrderItemID, m.SaleReturnItemID, m.Note,
		m.CreatedBy, nullTime(m.CreatedAt), m.ApprovedBy, m.ApprovedAt).Scan(&id)
	return id, err
}

func (t *pgxTx) OrderMovements(ctx context.Context, orderItemID int64) ([]Movement, error) {
	rows, err := t.q.Query(ctx, `SELECT `+movementColumns+`
FROM stock_movements
WHERE order_item_id=$1 AND movement_type IN ($2,$3) AND remaining_qty > 0
ORDER BY id ASC
FOR UPDATE`, orderItemID, string(MovementOrder), string(MovementQuoteToInvoice))
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanMovements(rows)
}

func (t *pgxTx) SetRemainingQty(ctx context.Context, movementID int64, remaining float64) error {
	_, err := t.q.Exec(ctx, `UPDATE stock_movements SET remaining_qty=$2 WHERE id=$1`, movementID, remaining)
	return err
}

func scanMovements(rows pgx.Rows) ([]Movement, error) {
	movements := []Movement{}
	for rows.Next() {
		var (
			m            Movement
			movementType string
			status       string
		)
		if err := rows.Scan(&m.ID, &m.VariantID, &m.BranchID, &movementType, &status, &m.Quantity, &m.UnitCost,
			&m.SourceMovementID, &m.RemainingQty, &m.OrderItemID, &m.SaleReturnItemID, &m.Note,
			&m.CreatedBy, &m.CreatedAt, &m.ApprovedBy, &m.ApprovedAt); err != nil {
			return nil, err
		}
		m.Type = MovementType(movementType)
		m.Status = MovementStatus(status)
		movements = append(movements, m)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return movements, nil
}

func nullTime(t time.Time) any {
	if t.IsZero() {
		return nil
	}
	return t
}
