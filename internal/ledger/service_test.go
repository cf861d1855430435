package ledger

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

type memoryTx struct {
	levels    map[string]Level
	movements []Movement
	nextID    int64
}

func newMemoryTx() *memoryTx {
	return &memoryTx{levels: make(map[string]Level)}
}

func levelKey(variantID, branchID int64) string {
	return fmt.Sprintf("%d:%d", variantID, branchID)
}

func (tx *memoryTx) LevelForUpdate(ctx context.Context, variantID, branchID int64) (Level, error) {
	if level, ok := tx.levels[levelKey(variantID, branchID)]; ok {
		return level, nil
	}
	return Level{VariantID: variantID, BranchID: branchID}, ErrLevelNotFound
}

func (tx *memoryTx) UpsertLevel(ctx context.Context, level Level) error {
	tx.levels[levelKey(level.VariantID, level.BranchID)] = level
	return nil
}

func (tx *memoryTx) InsertMovement(ctx context.Context, m Movement) (int64, error) {
	tx.nextID++
	m.ID = tx.nextID
	tx.movements = append(tx.movements, m)
	return m.ID, nil
}

func (tx *memoryTx) OrderMovements(ctx context.Context, orderItemID int64) ([]Movement, error) {
	var lots []Movement
	for _, m := range tx.movements {
		if m.OrderItemID != nil && *m.OrderItemID == orderItemID &&
			(m.Type == MovementOrder || m.Type == MovementQuoteToInvoice) && m.RemainingQty > 0 {
			lots = append(lots, m)
		}
	}
	return lots, nil
}

func (tx *memoryTx) SetRemainingQty(ctx context.Context, movementID int64, remaining float64) error {
	for i := range tx.movements {
		if tx.movements[i].ID == movementID {
			tx.movements[i].RemainingQty = remaining
			return nil
		}
	}
	return fmt.Errorf("movement %d not found", movementID)
}

func TestApplyCreatesLevelOnFirstMovement(t *testing.T) {
	tx := newMemoryTx()
	ctx := context.Background()

	level, err := Apply(ctx, tx, ApplyInput{VariantID: 1, BranchID: 1, Delta: 10})
	require.NoError(t, err)
	require.InDelta(t, 10.0, level.Quantity, 1e-9)

	level, err = Apply(ctx, tx, ApplyInput{VariantID: 1, BranchID: 1, Delta: -2.5})
	require.NoError(t, err)
	require.InDelta(t, 7.5, level.Quantity, 1e-9)
}

func TestApplyRejectsZeroDelta(t *testing.T) {
	tx := newMemoryTx()
	_, err := Apply(context.Background(), tx, ApplyInput{VariantID: 1, BranchID: 1, Delta: 0})
	require.ErrorIs(t, err, ErrInvalidQuantity)
}

func TestApplySufficiencyCheck(t *testing.T) {
	tx := newMemoryTx()
	ctx := context.Background()

	_, err := Apply(ctx, tx, ApplyInput{VariantID: 1, BranchID: 1, Delta: 3})
	require.NoError(t, err)

	_, err = Apply(ctx, tx, ApplyInput{VariantID: 1, BranchID: 1, Delta: -5, RequireSufficient: true, Barcode: "ABC123"})
	require.ErrorIs(t, err, ErrInsufficientStock)
	require.Contains(t, err.Error(), "insufficient stock for barcode: ABC123")

	// Failed check must not mutate the level.
	level, err := tx.LevelForUpdate(ctx, 1, 1)
	require.NoError(t, err)
	require.InDelta(t, 3.0, level.Quantity, 1e-9)
}

func TestApplyAllowsNegativeWithoutCheck(t *testing.T) {
	tx := newMemoryTx()
	level, err := Apply(context.Background(), tx, ApplyInput{VariantID: 9, BranchID: 2, Delta: -4})
	require.NoError(t, err)
	require.InDelta(t, -4.0, level.Quantity, 1e-9)
}

func soldLot(tx *memoryTx, orderItemID int64, qty, unitCost float64) int64 {
	cost := unitCost
	itemID := orderItemID
	id, _ := tx.InsertMovement(context.Background(), Movement{
		VariantID:    1,
		BranchID:     1,
		Type:         MovementOrder,
		Status:       MovementApproved,
		Quantity:     -qty,
		UnitCost:     &cost,
		RemainingQty: qty,
		OrderItemID:  &itemID,
	})
	return id
}

func TestRestoreFIFOConsumesOldestFirst(t *testing.T) {
	tx := newMemoryTx()
	ctx := context.Background()

	lotA := soldLot(tx, 77, 5, 100)
	lotB := soldLot(tx, 77, 5, 120)

	now := time.Now().UTC()
	restored, err := RestoreFIFO(ctx, tx, RestoreInput{
		OrderItemID:      77,
		VariantID:        1,
		BranchID:         1,
		Quantity:         7,
		SaleReturnItemID: 5,
		ActorID:          42,
		Now:              now,
	})
	require.NoError(t, err)
	require.Len(t, restored, 2)

	require.Equal(t, lotA, *restored[0].SourceMovementID)
	require.InDelta(t, 5.0, restored[0].Quantity, 1e-9)
	require.InDelta(t, 100.0, *restored[0].UnitCost, 1e-9)

	require.Equal(t, lotB, *restored[1].SourceMovementID)
	require.InDelta(t, 2.0, restored[1].Quantity, 1e-9)
	require.InDelta(t, 120.0, *restored[1].UnitCost, 1e-9)

	// Lot A fully consumed, lot B has 3 left.
	lots, err := tx.OrderMovements(ctx, 77)
	require.NoError(t, err)
	require.Len(t, lots, 1)
	require.Equal(t, lotB, lots[0].ID)
	require.InDelta(t, 3.0, lots[0].RemainingQty, 1e-9)
}

func TestRestoreFIFOMismatch(t *testing.T) {
	tx := newMemoryTx()
	soldLot(tx, 88, 4, 50)

	_, err := RestoreFIFO(context.Background(), tx, RestoreInput{
		OrderItemID:      88,
		VariantID:        1,
		BranchID:         1,
		Quantity:         6,
		SaleReturnItemID: 1,
		ActorID:          1,
		Now:              time.Now().UTC(),
	})
	require.ErrorIs(t, err, ErrFIFORestoreMismatch)
}

func TestRestoreFIFOPartialReturnKeepsRemainder(t *testing.T) {
	tx := newMemoryTx()
	ctx := context.Background()
	lot := soldLot(tx, 99, 10, 80)

	restored, err := RestoreFIFO(ctx, tx, RestoreInput{
		OrderItemID:      99,
		VariantID:        1,
		BranchID:         1,
		Quantity:         3,
		SaleReturnItemID: 2,
		ActorID:          7,
		Now:              time.Now().UTC(),
	})
	require.NoError(t, err)
	require.Len(t, restored, 1)
	require.Equal(t, lot, *restored[0].SourceMovementID)

	lots, err := tx.OrderMovements(ctx, 99)
	require.NoError(t, err)
	require.InDelta(t, 7.0, lots[0].RemainingQty, 1e-9)
}
