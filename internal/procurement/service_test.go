package procurement

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/atlas-pos/atlas-pos/internal/ledger"
	"github.com/atlas-pos/atlas-pos/internal/shared"
)

type memoryLedger struct {
	levels    map[ledger.LevelKey]ledger.Level
	movements []ledger.Movement
	nextID    int64
}

func newMemoryLedger() *memoryLedger {
	return &memoryLedger{levels: make(map[ledger.LevelKey]ledger.Level)}
}

func (m *memoryLedger) LevelForUpdate(ctx context.Context, variantID, branchID int64) (ledger.Level, error) {
	if level, ok := m.levels[ledger.LevelKey{VariantID: variantID, BranchID: branchID}]; ok {
		return level, nil
	}
	return ledger.Level{}, ledger.ErrLevelNotFound
}

func (m *memoryLedger) UpsertLevel(ctx context.Context, level ledger.Level) error {
	m.levels[ledger.LevelKey{VariantID: level.VariantID, BranchID: level.BranchID}] = level
	return nil
}

func (m *memoryLedger) InsertMovement(ctx context.Context, mv ledger.Movement) (int64, error) {
	m.nextID++
	mv.ID = m.nextID
	m.movements = append(m.movements, mv)
	return mv.ID, nil
}

func (m *memoryLedger) OrderMovements(ctx context.Context, orderItemID int64) ([]ledger.Movement, error) {
	return nil, nil
}

func (m *memoryLedger) SetRemainingQty(ctx context.Context, movementID int64, remaining float64) error {
	return nil
}

func (m *memoryLedger) quantity(variantID, branchID int64) float64 {
	return m.levels[ledger.LevelKey{VariantID: variantID, BranchID: branchID}].Quantity
}

type memoryRepo struct {
	purchases map[int64]*Purchase
	seqs      map[int64]int64
	ledger    *memoryLedger
	nextID    int64
	lineID    int64
}

func newMemoryRepo() *memoryRepo {
	return &memoryRepo{purchases: make(map[int64]*Purchase), seqs: make(map[int64]int64), ledger: newMemoryLedger()}
}

func (r *memoryRepo) WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error {
	return fn(ctx, r)
}

func (r *memoryRepo) Get(ctx context.Context, id int64) (*Purchase, error) {
	p, ok := r.purchases[id]
	if !ok {
		return nil, ErrNotFound
	}
	copied := *p
	copied.Lines = append([]Line(nil), p.Lines...)
	return &copied, nil
}

func (r *memoryRepo) List(ctx context.Context, filter ListFilter) ([]Purchase, int, error) {
	var out []Purchase
	for _, p := range r.purchases {
		out = append(out, *p)
	}
	return out, len(out), nil
}

func (r *memoryRepo) GetForUpdate(ctx context.Context, id int64) (*Purchase, error) {
	p, ok := r.purchases[id]
	if !ok {
		return nil, ErrNotFound
	}
	return p, nil
}

func (r *memoryRepo) Create(ctx context.Context, p Purchase) (int64, error) {
	r.nextID++
	p.ID = r.nextID
	p.CreatedAt = time.Now().UTC()
	r.purchases[p.ID] = &p
	return p.ID, nil
}

func (r *memoryRepo) InsertLine(ctx context.Context, line Line) (int64, error) {
	p, ok := r.purchases[line.PurchaseID]
	if !ok {
		return 0, ErrNotFound
	}
	r.lineID++
	line.ID = r.lineID
	p.Lines = append(p.Lines, line)
	return line.ID, nil
}

func (r *memoryRepo) MarkReceived(ctx context.Context, id int64, actorID int64) error {
	p, ok := r.purchases[id]
	if !ok {
		return ErrNotFound
	}
	now := time.Now().UTC()
	p.Status = shared.StatusApproved
	p.ReceivedBy = &actorID
	p.ReceivedAt = &now
	return nil
}

func (r *memoryRepo) MarkCancelled(ctx context.Context, id int64, actorID int64, reason string) error {
	p, ok := r.purchases[id]
	if !ok {
		return ErrNotFound
	}
	now := time.Now().UTC()
	p.Status = shared.StatusCancelled
	p.CancelledBy = &actorID
	p.CancelledAt = &now
	p.CancelReason = &reason
	return nil
}

func (r *memoryRepo) NextRef(ctx context.Context, branchID int64) (string, error) {
	r.seqs[branchID]++
	return shared.FormatRef("PUR", r.seqs[branchID]), nil
}

func (r *memoryRepo) Ledger() ledger.Tx {
	return r.ledger
}

func purchaseInput() CreateInput {
	return CreateInput{
		SupplierID: 3,
		BranchID:   1,
		ActorID:    7,
		Lines: []LineInput{
			{ProductID: 1, VariantID: 10, Barcode: "BC-10", Quantity: 12, UnitCost: 8},
			{ProductID: 2, VariantID: 20, Barcode: "BC-20", Quantity: 4, UnitCost: 21.5},
		},
	}
}

func TestCreatePurchaseComputesTotalCost(t *testing.T) {
	repo := newMemoryRepo()
	svc := NewService(repo, nil, nil)

	p, err := svc.Create(context.Background(), purchaseInput())
	require.NoError(t, err)
	require.Equal(t, "PUR-00001", p.Ref)
	require.Equal(t, shared.StatusPending, p.Status)
	require.InDelta(t, 182.0, p.TotalCost, 1e-9) // 12*8 + 4*21.5
	require.Len(t, p.Lines, 2)
}

func TestReceiveBooksStockAtLineCost(t *testing.T) {
	repo := newMemoryRepo()
	svc := NewService(repo, nil, nil)
	ctx := context.Background()

	p, err := svc.Create(ctx, purchaseInput())
	require.NoError(t, err)

	received, err := svc.Receive(ctx, p.ID, 42)
	require.NoError(t, err)
	require.Equal(t, shared.StatusApproved, received.Status)
	require.NotNil(t, received.ReceivedBy)
	require.Equal(t, int64(42), *received.ReceivedBy)

	require.InDelta(t, 12.0, repo.ledger.quantity(10, 1), 1e-9)
	require.InDelta(t, 4.0, repo.ledger.quantity(20, 1), 1e-9)

	require.Len(t, repo.ledger.movements, 2)
	for _, mv := range repo.ledger.movements {
		require.Equal(t, ledger.MovementOrder, mv.Type)
		require.Equal(t, ledger.MovementApproved, mv.Status)
		require.Greater(t, mv.Quantity, 0.0)
		require.NotNil(t, mv.UnitCost)
	}
	require.InDelta(t, 8.0, *repo.ledger.movements[0].UnitCost, 1e-9)
	require.InDelta(t, 21.5, *repo.ledger.movements[1].UnitCost, 1e-9)
}

func TestReceiveTwiceConflicts(t *testing.T) {
	repo := newMemoryRepo()
	svc := NewService(repo, nil, nil)
	ctx := context.Background()

	p, err := svc.Create(ctx, purchaseInput())
	require.NoError(t, err)

	_, err = svc.Receive(ctx, p.ID, 42)
	require.NoError(t, err)
	_, err = svc.Receive(ctx, p.ID, 42)
	require.ErrorIs(t, err, ErrAlreadyReceived)
	require.Len(t, repo.ledger.movements, 2)
}

func TestCancelledPurchaseCannotBeReceived(t *testing.T) {
	repo := newMemoryRepo()
	svc := NewService(repo, nil, nil)
	ctx := context.Background()

	p, err := svc.Create(ctx, purchaseInput())
	require.NoError(t, err)
	require.NoError(t, svc.Cancel(ctx, p.ID, 42, "supplier out of stock"))

	_, err = svc.Receive(ctx, p.ID, 42)
	require.ErrorIs(t, err, ErrNotEditable)
	require.Empty(t, repo.ledger.movements)
}

func TestCreateRejectsEmptyLines(t *testing.T) {
	svc := NewService(newMemoryRepo(), nil, nil)
	_, err := svc.Create(context.Background(), CreateInput{SupplierID: 3, BranchID: 1})
	require.ErrorIs(t, err, ErrEmptyLines)
}
