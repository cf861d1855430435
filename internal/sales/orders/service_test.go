package orders

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/atlas-pos/atlas-pos/internal/ledger"
	salesshared "github.com/atlas-pos/atlas-pos/internal/sales/shared"
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
	var lots []ledger.Movement
	for _, mv := range m.movements {
		if mv.OrderItemID != nil && *mv.OrderItemID == orderItemID && mv.RemainingQty > 0 {
			lots = append(lots, mv)
		}
	}
	return lots, nil
}

func (m *memoryLedger) SetRemainingQty(ctx context.Context, movementID int64, remaining float64) error {
	for i := range m.movements {
		if m.movements[i].ID == movementID {
			m.movements[i].RemainingQty = remaining
			return nil
		}
	}
	return fmt.Errorf("movement %d not found", movementID)
}

func (m *memoryLedger) seed(variantID, branchID int64, qty float64) {
	m.levels[ledger.LevelKey{VariantID: variantID, BranchID: branchID}] = ledger.Level{
		VariantID: variantID, BranchID: branchID, Quantity: qty,
	}
}

func (m *memoryLedger) quantity(variantID, branchID int64) float64 {
	return m.levels[ledger.LevelKey{VariantID: variantID, BranchID: branchID}].Quantity
}

type memoryRepo struct {
	orders  map[int64]*Order
	seqs    map[string]int64
	ledger  *memoryLedger
	nextID  int64
	itemID  int64
	payment int64
}

func newMemoryRepo() *memoryRepo {
	return &memoryRepo{orders: make(map[int64]*Order), seqs: make(map[string]int64), ledger: newMemoryLedger()}
}

func (r *memoryRepo) WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error {
	return fn(ctx, r)
}

func (r *memoryRepo) Get(ctx context.Context, id int64) (*Order, error) {
	o, ok := r.orders[id]
	if !ok {
		return nil, ErrNotFound
	}
	copied := *o
	copied.Items = append([]Item(nil), o.Items...)
	copied.Payments = append([]Payment(nil), o.Payments...)
	return &copied, nil
}

func (r *memoryRepo) List(ctx context.Context, filter ListFilter) ([]Order, int, error) {
	var out []Order
	for _, o := range r.orders {
		if filter.Kind != "" && o.Kind != filter.Kind {
			continue
		}
		out = append(out, *o)
	}
	return out, len(out), nil
}

func (r *memoryRepo) GetForUpdate(ctx context.Context, id int64) (*Order, error) {
	o, ok := r.orders[id]
	if !ok {
		return nil, ErrNotFound
	}
	return o, nil
}

func (r *memoryRepo) Create(ctx context.Context, o Order) (int64, error) {
	r.nextID++
	o.ID = r.nextID
	o.CreatedAt = time.Now().UTC()
	o.Items = nil
	r.orders[o.ID] = &o
	return o.ID, nil
}

func (r *memoryRepo) InsertItem(ctx context.Context, item Item) (int64, error) {
	o, ok := r.orders[item.OrderID]
	if !ok {
		return 0, ErrNotFound
	}
	r.itemID++
	item.ID = r.itemID
	o.Items = append(o.Items, item)
	return item.ID, nil
}

func (r *memoryRepo) InsertPayment(ctx context.Context, p Payment) (int64, error) {
	o, ok := r.orders[p.OrderID]
	if !ok {
		return 0, ErrNotFound
	}
	r.payment++
	p.ID = r.payment
	p.CreatedAt = time.Now().UTC()
	o.Payments = append(o.Payments, p)
	return p.ID, nil
}

func (r *memoryRepo) UpdateStatus(ctx context.Context, id int64, status shared.DocumentStatus, actorID int64, reason *string) error {
	o, ok := r.orders[id]
	if !ok {
		return ErrNotFound
	}
	now := time.Now().UTC()
	o.Status = status
	switch status {
	case shared.StatusApproved:
		o.ApprovedBy = &actorID
		o.ApprovedAt = &now
	case shared.StatusCancelled:
		o.CancelledBy = &actorID
		o.CancelledAt = &now
		o.CancelReason = reason
	}
	return nil
}

func (r *memoryRepo) MarkConverted(ctx context.Context, quotationID, invoiceID int64) error {
	o, ok := r.orders[quotationID]
	if !ok {
		return ErrNotFound
	}
	o.ConvertedOrderID = &invoiceID
	return nil
}

func (r *memoryRepo) NextRef(ctx context.Context, docType shared.DocType, branchID int64) (string, error) {
	prefix, err := shared.Prefix(docType)
	if err != nil {
		return "", err
	}
	key := fmt.Sprintf("%s:%d", docType, branchID)
	r.seqs[key]++
	return shared.FormatRef(prefix, r.seqs[key]), nil
}

func (r *memoryRepo) Ledger() ledger.Tx {
	return r.ledger
}

func invoiceInput(branchID int64) CreateInput {
	return CreateInput{
		Kind:         KindInvoice,
		BranchID:     branchID,
		DiscountType: salesshared.DiscountFixed,
		ActorID:      7,
		Items: []ItemInput{
			{ProductID: 1, VariantID: 10, Kind: ItemProduct, Barcode: "BC-10", Quantity: 4, UnitPrice: 25, UnitCost: 15},
		},
	}
}

func TestCreateInvoiceComputesTotals(t *testing.T) {
	repo := newMemoryRepo()
	svc := NewService(repo, nil, nil)
	ctx := context.Background()

	// 2 x (60 - 10) = 100 subtotal, 10% order discount, 10% tax on 90.
	order, err := svc.Create(ctx, CreateInput{
		Kind:         KindInvoice,
		BranchID:     1,
		Discount:     10,
		DiscountType: salesshared.DiscountPercent,
		TaxRate:      10,
		ActorID:      7,
		Items: []ItemInput{
			{ProductID: 1, VariantID: 10, Kind: ItemProduct, Quantity: 2, UnitPrice: 60, Discount: 10, DiscountType: salesshared.DiscountFixed, UnitCost: 30},
		},
	})
	require.NoError(t, err)
	require.Equal(t, "INV-00001", order.Ref)
	require.Equal(t, shared.StatusPending, order.Status)
	require.InDelta(t, 10.0, order.Discount, 1e-9)
	require.InDelta(t, 9.0, order.TaxAmount, 1e-9)
	require.InDelta(t, 99.0, order.TotalAmount, 1e-9)
}

func TestCreateQuotationUsesOwnSequence(t *testing.T) {
	repo := newMemoryRepo()
	svc := NewService(repo, nil, nil)
	ctx := context.Background()

	in := invoiceInput(1)
	in.Kind = KindQuotation
	quotation, err := svc.Create(ctx, in)
	require.NoError(t, err)
	require.Equal(t, "QUO-00001", quotation.Ref)

	invoice, err := svc.Create(ctx, invoiceInput(1))
	require.NoError(t, err)
	require.Equal(t, "INV-00001", invoice.Ref)
}

func TestCreateRejectsEmptyItems(t *testing.T) {
	svc := NewService(newMemoryRepo(), nil, nil)
	_, err := svc.Create(context.Background(), CreateInput{Kind: KindInvoice, BranchID: 1})
	require.ErrorIs(t, err, ErrEmptyItems)
}

func TestApproveInvoiceDeductsAndSeedsLots(t *testing.T) {
	repo := newMemoryRepo()
	repo.ledger.seed(10, 1, 10)
	svc := NewService(repo, nil, nil)
	ctx := context.Background()

	in := invoiceInput(1)
	in.Items = append(in.Items, ItemInput{ProductID: 2, Kind: ItemService, Quantity: 1, UnitPrice: 40})
	order, err := svc.Create(ctx, in)
	require.NoError(t, err)

	approved, err := svc.Approve(ctx, order.ID, 42)
	require.NoError(t, err)
	require.Equal(t, shared.StatusApproved, approved.Status)

	require.InDelta(t, 6.0, repo.ledger.quantity(10, 1), 1e-9)

	// The service line posts nothing; the product line seeds a FIFO lot.
	require.Len(t, repo.ledger.movements, 1)
	mv := repo.ledger.movements[0]
	require.Equal(t, ledger.MovementOrder, mv.Type)
	require.InDelta(t, -4.0, mv.Quantity, 1e-9)
	require.InDelta(t, 4.0, mv.RemainingQty, 1e-9)
	require.NotNil(t, mv.OrderItemID)
	require.Equal(t, order.Items[0].ID, *mv.OrderItemID)
	require.NotNil(t, mv.UnitCost)
	require.InDelta(t, 15.0, *mv.UnitCost, 1e-9)
}

func TestApproveInvoiceInsufficientStock(t *testing.T) {
	repo := newMemoryRepo()
	repo.ledger.seed(10, 1, 2)
	svc := NewService(repo, nil, nil)
	ctx := context.Background()

	order, err := svc.Create(ctx, invoiceInput(1))
	require.NoError(t, err)

	_, err = svc.Approve(ctx, order.ID, 42)
	require.ErrorIs(t, err, ledger.ErrInsufficientStock)
	require.Contains(t, err.Error(), "BC-10")

	got, err := svc.Get(ctx, order.ID)
	require.NoError(t, err)
	require.Equal(t, shared.StatusPending, got.Status)
	require.InDelta(t, 2.0, repo.ledger.quantity(10, 1), 1e-9)
}

func TestApproveTwiceConflicts(t *testing.T) {
	repo := newMemoryRepo()
	repo.ledger.seed(10, 1, 10)
	svc := NewService(repo, nil, nil)
	ctx := context.Background()

	order, err := svc.Create(ctx, invoiceInput(1))
	require.NoError(t, err)

	_, err = svc.Approve(ctx, order.ID, 42)
	require.NoError(t, err)
	_, err = svc.Approve(ctx, order.ID, 42)
	require.ErrorIs(t, err, ErrAlreadyApproved)
	require.Len(t, repo.ledger.movements, 1)
}

func TestConvertQuotationCreatesApprovedInvoice(t *testing.T) {
	repo := newMemoryRepo()
	repo.ledger.seed(10, 1, 10)
	svc := NewService(repo, nil, nil)
	ctx := context.Background()

	in := invoiceInput(1)
	in.Kind = KindQuotation
	quotation, err := svc.Create(ctx, in)
	require.NoError(t, err)

	// Approving a quotation never touches stock.
	_, err = svc.Approve(ctx, quotation.ID, 42)
	require.NoError(t, err)
	require.Empty(t, repo.ledger.movements)
	require.InDelta(t, 10.0, repo.ledger.quantity(10, 1), 1e-9)

	invoice, err := svc.ConvertQuotation(ctx, quotation.ID, 42)
	require.NoError(t, err)
	require.Equal(t, "INV-00001", invoice.Ref)
	require.Equal(t, KindInvoice, invoice.Kind)
	require.Equal(t, shared.StatusApproved, invoice.Status)
	require.Len(t, invoice.Items, 1)

	require.InDelta(t, 6.0, repo.ledger.quantity(10, 1), 1e-9)
	require.Len(t, repo.ledger.movements, 1)
	require.Equal(t, ledger.MovementQuoteToInvoice, repo.ledger.movements[0].Type)
	require.InDelta(t, 4.0, repo.ledger.movements[0].RemainingQty, 1e-9)

	got, err := svc.Get(ctx, quotation.ID)
	require.NoError(t, err)
	require.NotNil(t, got.ConvertedOrderID)
	require.Equal(t, invoice.ID, *got.ConvertedOrderID)

	_, err = svc.ConvertQuotation(ctx, quotation.ID, 42)
	require.ErrorIs(t, err, ErrAlreadyConverted)
}

func TestConvertRejectsInvoice(t *testing.T) {
	repo := newMemoryRepo()
	repo.ledger.seed(10, 1, 10)
	svc := NewService(repo, nil, nil)
	ctx := context.Background()

	order, err := svc.Create(ctx, invoiceInput(1))
	require.NoError(t, err)
	_, err = svc.ConvertQuotation(ctx, order.ID, 42)
	require.ErrorIs(t, err, ErrNotQuotation)
}
