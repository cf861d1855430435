package ledger

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
)

// Reader serves the read side of the ledger: current quantities (cache-aside
// through Redis), the movement log, and the reconciliation report.
type Reader struct {
	pool  *pgxpool.Pool
	cache *redis.Client
	ttl   time.Duration
}

// NewReader constructs Reader. The cache client may be nil; reads then hit
// the database directly.
func NewReader(pool *pgxpool.Pool, cache *redis.Client, ttl time.Duration) *Reader {
	return &Reader{pool: pool, cache: cache, ttl: ttl}
}

func levelCacheKey(variantID, branchID int64) string {
	return fmt.Sprintf("ledger:level:%d:%d", variantID, branchID)
}

// Quantity returns the current quantity for a variant at a branch, 0 when no
// ledger row exists yet. Cached values are only a read optimisation; every
// workflow re-reads the row under lock before mutating it.
func (r *Reader) Quantity(ctx context.Context, variantID, branchID int64) (float64, error) {
	if r == nil {
		return 0, errors.New("ledger reader not initialised")
	}
	key := levelCacheKey(variantID, branchID)
	if r.cache != nil {
		cached, err := r.cache.Get(ctx, key).Result()
		if err == nil {
			if qty, parseErr := strconv.ParseFloat(cached, 64); parseErr == nil {
				return qty, nil
			}
		} else if !errors.Is(err, redis.Nil) {
			return 0, err
		}
	}

	var qty float64
	err := r.pool.QueryRow(ctx, `SELECT COALESCE(
(SELECT quantity FROM stock_levels WHERE product_variant_id=$1 AND branch_id=$2), 0)`, variantID, branchID).Scan(&qty)
	if err != nil {
		return 0, err
	}
	if r.cache != nil {
		_ = r.cache.Set(ctx, key, strconv.FormatFloat(qty, 'f', -1, 64), r.ttl).Err()
	}
	return qty, nil
}

// Invalidate drops cached quantities after a workflow commits.
func (r *Reader) Invalidate(ctx context.Context, keys ...LevelKey) {
	if r == nil || r.cache == nil || len(keys) == 0 {
		return
	}
	cacheKeys := make([]string, 0, len(keys))
	for _, k := range keys {
		cacheKeys = append(cacheKeys, levelCacheKey(k.VariantID, k.BranchID))
	}
	_ = r.cache.Del(ctx, cacheKeys...).Err()
}

// MovementFilter filters the movement log listing.
type MovementFilter struct {
	VariantID int64
	BranchID  int64
	Type      MovementType
	Limit     int
	Offset    int
}

// Movements lists movement rows, newest first.
func (r *Reader) Movements(ctx context.Context, filter MovementFilter) ([]Movement, error) {
	if r == nil {
		return nil, errors.New("ledger reader not initialised")
	}
	limit := filter.Limit
	if limit <= 0 {
		limit = 200
	}
	rows, err := r.pool.Query(ctx, `SELECT `+movementColumns+`
FROM stock_movements
WHERE ($1 = 0 OR product_variant_id = $1)
  AND ($2 = 0 OR branch_id = $2)
  AND ($3 = '' OR movement_type = $3)
ORDER BY id DESC
LIMIT $4 OFFSET $5`, filter.VariantID, filter.BranchID, string(filter.Type), limit, filter.Offset)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanMovements(rows)
}

// DriftRow reports one variant/branch pair whose ledger quantity disagrees
// with the sum of its movements.
type DriftRow struct {
	VariantID   int64   `json:"variant_id"`
	BranchID    int64   `json:"branch_id"`
	LevelQty    float64 `json:"level_qty"`
	MovementQty float64 `json:"movement_qty"`
	Diff        float64 `json:"diff"`
}

// Drift compares every level against the sum of its movement quantities
// and returns only the rows that disagree.
func (r *Reader) Drift(ctx context.Context) ([]DriftRow, error) {
	if r == nil {
		return nil, errors.New("ledger reader not initialised")
	}
	rows, err := r.pool.Query(ctx, `SELECT l.product_variant_id, l.branch_id, l.quantity, COALESCE(m.total, 0) AS movement_qty
FROM stock_levels l
LEFT JOIN (
	SELECT product_variant_id, branch_id, SUM(quantity) AS total
	FROM stock_movements
	GROUP BY product_variant_id, branch_id
) m ON m.product_variant_id = l.product_variant_id AND m.branch_id = l.branch_id
WHERE ABS(l.quantity - COALESCE(m.total, 0)) > 0.0001
ORDER BY l.product_variant_id, l.branch_id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	drift := []DriftRow{}
	for rows.Next() {
		var d DriftRow
		if err := rows.Scan(&d.VariantID, &d.BranchID, &d.LevelQty, &d.MovementQty); err != nil {
			return nil, err
		}
		d.Diff = d.LevelQty - d.MovementQty
		drift = append(drift, d)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return drift, nil
}
