package returns

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/atlas-pos/atlas-pos/internal/ledger"
	"github.com/atlas-pos/atlas-pos/internal/sales/orders"
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
		if mv.OrderItemID != nil && *mv.OrderItemID == orderItemID &&
			(mv.Type == ledger.MovementOrder || mv.Type == ledger.MovementQuoteToInvoice) && mv.RemainingQty > 0 {
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

func (m *memoryLedger) quantity(variantID, branchID int64) float64 {
	return m.levels[ledger.LevelKey{VariantID: variantID, BranchID: branchID}].Quantity
}

type refund struct {
	orderID int64
	method  string
	amount  float64
}

type memoryStore struct {
	order   *orders.Order
	returns map[int64]*SaleReturn
	ledger  *memoryLedger
	refunds []refund
	seq     int64
	itemID  int64
}

func (s *memoryStore) WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error {
	return fn(ctx, s)
}

func (s *memoryStore) Get(ctx context.Context, id int64) (*SaleReturn, error) {
	sr, ok := s.returns[id]
	if !ok {
		return nil, ErrNotFound
	}
	copied := *sr
	copied.Items = append([]Item(nil), sr.Items...)
	return &copied, nil
}

func (s *memoryStore) ListByOrder(ctx context.Context, orderID int64) ([]SaleReturn, error) {
	var out []SaleReturn
	for _, sr := range s.returns {
		if sr.OrderID == orderID {
			out = append(out, *sr)
		}
	}
	return out, nil
}

func (s *memoryStore) OrderForUpdate(ctx context.Context, orderID int64) (*orders.Order, error) {
	if s.order == nil || s.order.ID != orderID {
		return nil, ErrOrderNotFound
	}
	return s.order, nil
}

func (s *memoryStore) ReturnedQuantity(ctx context.Context, orderItemID int64) (float64, error) {
	var qty float64
	for _, sr := range s.returns {
		for _, item := range sr.Items {
			if item.OrderItemID == orderItemID {
				qty += item.Quantity
			}
		}
	}
	return qty, nil
}

func (s *memoryStore) PriorReturnTotals(ctx context.Context, orderID int64) (float64, float64, float64, error) {
	var discount, tax, total float64
	for _, sr := range s.returns {
		if sr.OrderID == orderID {
			discount += sr.Discount
			tax += sr.TaxAmount
			total += sr.TotalAmount
		}
	}
	return discount, tax, total, nil
}

func (s *memoryStore) Create(ctx context.Context, sr SaleReturn) (int64, error) {
	s.seq++
	sr.ID = s.seq
	sr.CreatedAt = time.Now().UTC()
	s.returns[sr.ID] = &sr
	return sr.ID, nil
}

func (s *memoryStore) InsertItem(ctx context.Context, item Item) (int64, error) {
	sr, ok := s.returns[item.SaleReturnID]
	if !ok {
		return 0, ErrNotFound
	}
	s.itemID++
	item.ID = s.itemID
	sr.Items = append(sr.Items, item)
	return item.ID, nil
}

func (s *memoryStore) InsertRefundPayment(ctx context.Context, orderID int64, method string, amount float64) error {
	s.refunds = append(s.refunds, refund{orderID: orderID, method: method, amount: amount})
	return nil
}

func (s *memoryStore) ApplyReturnToOrder(ctx context.Context, orderID int64, totalDelta float64) error {
	s.order.TotalAmount -= totalDelta
	s.order.HasReturn = true
	return nil
}

func (s *memoryStore) NextRef(ctx context.Context, branchID int64) (string, error) {
	return shared.FormatRef("SR", int64(len(s.returns)+1)), nil
}

func (s *memoryStore) Ledger() ledger.Tx {
	return s.ledger
}

// newFixture builds an approved invoice worth 99: two product items of 50
// each, a 10 order discount and 10% tax on the discounted 90. The sold lots
// sit in the movement log with their full quantity still restorable.
func newFixture() *memoryStore {
	store := &memoryStore{returns: make(map[int64]*SaleReturn), ledger: newMemoryLedger()}
	approvedBy := int64(42)
	now := time.Now().UTC()
	store.order = &orders.Order{
		ID:           1,
		Ref:          "INV-00001",
		Kind:         orders.KindInvoice,
		BranchID:     1,
		Status:       shared.StatusApproved,
		Discount:     10,
		DiscountType: salesshared.DiscountFixed,
		TaxRate:      10,
		TaxAmount:    9,
		TotalAmount:  99,
		ApprovedBy:   &approvedBy,
		ApprovedAt:   &now,
		Items: []orders.Item{
			{ID: 11, OrderID: 1, ProductID: 1, VariantID: 10, Kind: orders.ItemProduct, Barcode: "BC-10", Quantity: 5, UnitPrice: 10, UnitCost: 6},
			{ID: 12, OrderID: 1, ProductID: 2, VariantID: 20, Kind: orders.ItemProduct, Barcode: "BC-20", Quantity: 5, UnitPrice: 10, UnitCost: 7},
		},
	}
	for _, item := range store.order.Items {
		cost := item.UnitCost
		itemID := item.ID
		store.ledger.InsertMovement(context.Background(), ledger.Movement{
			VariantID:    item.VariantID,
			BranchID:     1,
			Type:         ledger.MovementOrder,
			Status:       ledger.MovementApproved,
			Quantity:     -item.Quantity,
			UnitCost:     &cost,
			RemainingQty: item.Quantity,
			OrderItemID:  &itemID,
		})
		store.ledger.UpsertLevel(context.Background(), ledger.Level{VariantID: item.VariantID, BranchID: 1, Quantity: 0})
	}
	return store
}

func TestCreateProratesAndRestoresStock(t *testing.T) {
	store := newFixture()
	svc := NewService(store, nil, nil)
	ctx := context.Background()

	sr, err := svc.Create(ctx, CreateInput{
		OrderID: 1,
		ActorID: 7,
		Items:   []ItemInput{{OrderItemID: 11, Quantity: 3}},
	})
	require.NoError(t, err)
	require.Equal(t, "SR-00001", sr.Ref)

	// 30 of 100 returned: 3 discount, 27 taxable, 2.7 tax, 29.7 owed.
	require.InDelta(t, 30.0, sr.ItemsSubtotal, 1e-9)
	require.InDelta(t, 3.0, sr.Discount, 1e-9)
	require.InDelta(t, 2.7, sr.TaxAmount, 1e-9)
	require.InDelta(t, 29.7, sr.TotalAmount, 1e-9)

	// Stock came back and the sold lot shrank.
	require.InDelta(t, 3.0, store.ledger.quantity(10, 1), 1e-9)
	lots, err := store.ledger.OrderMovements(ctx, 11)
	require.NoError(t, err)
	require.Len(t, lots, 1)
	require.InDelta(t, 2.0, lots[0].RemainingQty, 1e-9)

	var restores []ledger.Movement
	for _, mv := range store.ledger.movements {
		if mv.Type == ledger.MovementSaleReturn {
			restores = append(restores, mv)
		}
	}
	require.Len(t, restores, 1)
	require.InDelta(t, 3.0, restores[0].Quantity, 1e-9)
	require.NotNil(t, restores[0].SourceMovementID)
	require.InDelta(t, 6.0, *restores[0].UnitCost, 1e-9)
	require.Equal(t, sr.Items[0].ID, *restores[0].SaleReturnItemID)

	// The unpaid invoice falls back to one refund of the owed amount and the
	// invoice total shrank.
	require.Len(t, store.refunds, 1)
	require.Equal(t, "CASH", store.refunds[0].method)
	require.InDelta(t, -29.7, store.refunds[0].amount, 1e-9)
	require.InDelta(t, 69.3, store.order.TotalAmount, 1e-9)
	require.True(t, store.order.HasReturn)
}

func TestReturnReversesEachPriorPayment(t *testing.T) {
	store := newFixture()
	store.order.Payments = []orders.Payment{
		{ID: 1, OrderID: 1, Method: "CASH", Amount: 60, Kind: orders.PaymentKindPayment},
		{ID: 2, OrderID: 1, Method: "CARD", Amount: 39, Kind: orders.PaymentKindPayment},
		{ID: 3, OrderID: 1, Method: "CASH", Amount: -10, Kind: orders.PaymentKindRefund},
	}
	svc := NewService(store, nil, nil)

	_, err := svc.Create(context.Background(), CreateInput{
		OrderID: 1, ActorID: 7,
		Items: []ItemInput{{OrderItemID: 11, Quantity: 3}},
	})
	require.NoError(t, err)

	// One negated counter-entry per standing payment; the earlier refund row
	// is not reversed again.
	require.Len(t, store.refunds, 2)
	require.Equal(t, refund{orderID: 1, method: "CASH", amount: -60}, store.refunds[0])
	require.Equal(t, refund{orderID: 1, method: "CARD", amount: -39}, store.refunds[1])
}

func TestFullReturnAcrossTwoCallsZeroesInvoice(t *testing.T) {
	store := newFixture()
	svc := NewService(store, nil, nil)
	ctx := context.Background()

	first, err := svc.Create(ctx, CreateInput{
		OrderID: 1, ActorID: 7,
		Items: []ItemInput{{OrderItemID: 11, Quantity: 3}},
	})
	require.NoError(t, err)

	second, err := svc.Create(ctx, CreateInput{
		OrderID: 1, ActorID: 7,
		Items: []ItemInput{{OrderItemID: 11, Quantity: 2}, {OrderItemID: 12, Quantity: 5}},
	})
	require.NoError(t, err)

	// Cumulative figures reach exactly the order's discount, tax and total.
	require.InDelta(t, 10.0, first.Discount+second.Discount, 1e-9)
	require.InDelta(t, 9.0, first.TaxAmount+second.TaxAmount, 1e-9)
	require.InDelta(t, 99.0, first.TotalAmount+second.TotalAmount, 1e-9)
	require.InDelta(t, 0.0, store.order.TotalAmount, 1e-9)

	// All stock restored, nothing left to return.
	require.InDelta(t, 5.0, store.ledger.quantity(10, 1), 1e-9)
	require.InDelta(t, 5.0, store.ledger.quantity(20, 1), 1e-9)
	lots, err := store.ledger.OrderMovements(ctx, 11)
	require.NoError(t, err)
	require.Empty(t, lots)
}

func TestOverReturnRejected(t *testing.T) {
	store := newFixture()
	svc := NewService(store, nil, nil)
	ctx := context.Background()

	_, err := svc.Create(ctx, CreateInput{
		OrderID: 1, ActorID: 7,
		Items: []ItemInput{{OrderItemID: 11, Quantity: 3}},
	})
	require.NoError(t, err)

	_, err = svc.Create(ctx, CreateInput{
		OrderID: 1, ActorID: 7,
		Items: []ItemInput{{OrderItemID: 11, Quantity: 4}},
	})
	require.ErrorIs(t, err, ErrOverReturn)

	// The rejected call wrote nothing.
	require.Len(t, store.returns, 1)
	require.InDelta(t, 3.0, store.ledger.quantity(10, 1), 1e-9)
}

func TestReturnRejectsUnknownItem(t *testing.T) {
	store := newFixture()
	svc := NewService(store, nil, nil)

	_, err := svc.Create(context.Background(), CreateInput{
		OrderID: 1, ActorID: 7,
		Items: []ItemInput{{OrderItemID: 999, Quantity: 1}},
	})
	require.ErrorIs(t, err, ErrItemNotOnOrder)
}

func TestReturnRejectsPendingOrder(t *testing.T) {
	store := newFixture()
	store.order.Status = shared.StatusPending
	svc := NewService(store, nil, nil)

	_, err := svc.Create(context.Background(), CreateInput{
		OrderID: 1, ActorID: 7,
		Items: []ItemInput{{OrderItemID: 11, Quantity: 1}},
	})
	require.ErrorIs(t, err, ErrOrderNotReturnable)
}

func TestReturnRejectsMissingOrder(t *testing.T) {
	store := newFixture()
	svc := NewService(store, nil, nil)

	_, err := svc.Create(context.Background(), CreateInput{
		OrderID: 404, ActorID: 7,
		Items: []ItemInput{{OrderItemID: 11, Quantity: 1}},
	})
	require.ErrorIs(t, err, ErrOrderNotFound)
}
