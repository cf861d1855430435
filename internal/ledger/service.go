package ledger

import (
	"context"
	"errors"
	"fmt"
	"math"
	"time"
)

const qtyEpsilon = 1e-9

// ApplyInput describes one signed quantity delta against the ledger.
type ApplyInput struct {
	VariantID int64
	BranchID  int64
	Delta     float64
	// RequireSufficient makes negative deltas fail when the current quantity
	// cannot cover them. Invoice approval and quote conversion set it; the
	// stock document workflows deliberately do not, and may drive the
	// quantity negative.
	RequireSufficient bool
	// Barcode identifies the offending variant in insufficiency errors.
	Barcode string
}

// Apply atomically creates-or-increments the ledger row for one delta. It
// must run inside the caller's transaction: the row is locked first so the
// read-check-write sequence cannot interleave with a concurrent workflow.
func Apply(ctx context.Context, tx Tx, in ApplyInput) (Level, error) {
	if math.Abs(in.Delta) < qtyEpsilon {
		return Level{}, ErrInvalidQuantity
	}
	if in.VariantID == 0 || in.BranchID == 0 {
		return Level{}, fmt.Errorf("ledger: variant and branch required")
	}

	level, err := tx.LevelForUpdate(ctx, in.VariantID, in.BranchID)
	if err != nil && !errors.Is(err, ErrLevelNotFound) {
		return Level{}, err
	}
	if errors.Is(err, ErrLevelNotFound) {
		level = Level{VariantID: in.VariantID, BranchID: in.BranchID}
	}

	if in.RequireSufficient && in.Delta < 0 && level.Quantity < -in.Delta-qtyEpsilon {
		return Level{}, fmt.Errorf("insufficient stock for barcode: %s: %w", in.Barcode, ErrInsufficientStock)
	}

	level.Quantity += in.Delta
	if math.Abs(level.Quantity) < qtyEpsilon {
		level.Quantity = 0
	}
	if err := tx.UpsertLevel(ctx, level); err != nil {
		return Level{}, err
	}
	return level, nil
}

// RestoreInput describes a FIFO restoration of previously sold stock.
type RestoreInput struct {
	OrderItemID      int64
	VariantID        int64
	BranchID         int64
	Quantity         float64
	SaleReturnItemID int64
	Note             string
	ActorID          int64
	Now              time.Time
}

// RestoreFIFO walks the deduction movements of an order item oldest first and
// re-credits them: each restored lot produces a SALE_RETURN movement that
// references the source movement and carries its unit cost, and the source
// lot's remaining quantity is decremented. When the sold lots run out before
// the requested quantity is restored the whole operation fails with
// ErrFIFORestoreMismatch. The ledger level itself is NOT touched here; the
// caller applies the full returned quantity in the same transaction.
func RestoreFIFO(ctx context.Context, tx Tx, in RestoreInput) ([]Movement, error) {
	if in.Quantity <= qtyEpsilon {
		return nil, ErrInvalidQuantity
	}
	lots, err := tx.OrderMovements(ctx, in.OrderItemID)
	if err != nil {
		return nil, err
	}

	toRestore := in.Quantity
	restored := make([]Movement, 0, len(lots))
	for _, lot := range lots {
		if toRestore <= qtyEpsilon {
			break
		}
		take := math.Min(lot.RemainingQty, toRestore)
		if take <= qtyEpsilon {
			continue
		}
		sourceID := lot.ID
		m := Movement{
			VariantID:        in.VariantID,
			BranchID:         in.BranchID,
			Type:             MovementSaleReturn,
			Status:           MovementApproved,
			Quantity:         take,
			UnitCost:         lot.UnitCost,
			SourceMovementID: &sourceID,
			OrderItemID:      lot.OrderItemID,
			SaleReturnItemID: &in.SaleReturnItemID,
			Note:             in.Note,
			CreatedBy:        in.ActorID,
			CreatedAt:        in.Now,
			ApprovedBy:       &in.ActorID,
			ApprovedAt:       &in.Now,
		}
		id, err := tx.InsertMovement(ctx, m)
		if err != nil {
			return nil, err
		}
		m.ID = id
		if err := tx.SetRemainingQty(ctx, lot.ID, lot.RemainingQty-take); err != nil {
			return nil, err
		}
		toRestore -= take
		restored = append(restored, m)
	}
	if toRestore > qtyEpsilon {
		return nil, ErrFIFORestoreMismatch
	}
	return restored, nil
}
