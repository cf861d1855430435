package orders

import (
	"context"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"github.com/atlas-pos/atlas-pos/internal/ledger"
	salesshared "github.com/atlas-pos/atlas-pos/internal/sales/shared"
	"github.com/atlas-pos/atlas-pos/internal/shared"
)

// AuditPort abstracts audit logging.
type AuditPort interface {
	Record(ctx context.Context, log shared.AuditLog) error
}

// Service coordinates the sales order workflows.
type Service struct {
	repo   Repository
	audit  AuditPort
	levels *ledger.Reader
}

// NewService builds Service.
func NewService(repo Repository, audit AuditPort, levels *ledger.Reader) *Service {
	return &Service{repo: repo, audit: audit, levels: levels}
}

// CreateInput describes a new invoice or quotation.
type CreateInput struct {
	Kind         Kind
	BranchID     int64
	CustomerID   *int64
	Discount     float64
	DiscountType salesshared.DiscountType
	TaxRate      float64
	Note         string
	ActorID      int64
	Items        []ItemInput
	Payments     []PaymentInput
}

// ItemInput describes one sold line.
type ItemInput struct {
	ProductID    int64
	VariantID    int64
	Kind         ItemKind
	Barcode      string
	Quantity     float64
	UnitPrice    float64
	Discount     float64
	DiscountType salesshared.DiscountType
	UnitCost     float64
}

// PaymentInput describes one payment entry recorded with the order.
type PaymentInput struct {
	Method string
	Amount float64
}

// Totals is the computed money summary of an order.
type Totals struct {
	Subtotal    float64
	Discount    float64
	Taxable     float64
	TaxAmount   float64
	TotalAmount float64
}

// ComputeTotals derives the order money figures from its items: line
// discounts first, then the order discount, then tax on the discounted base.
func ComputeTotals(items []Item, orderDiscount float64, discountType salesshared.DiscountType, taxRate float64) Totals {
	subtotal := decimal.NewFromFloat(InvoiceSubtotal(items))

	discount := decimal.NewFromFloat(orderDiscount)
	if discountType == salesshared.DiscountPercent {
		discount = subtotal.Mul(discount).Div(decimal.NewFromInt(100))
	}
	if discount.GreaterThan(subtotal) {
		discount = subtotal
	}

	taxable := subtotal.Sub(discount)
	tax := taxable.Mul(decimal.NewFromFloat(taxRate)).Div(decimal.NewFromInt(100))
	total := taxable.Add(tax)

	f := func(d decimal.Decimal) float64 { v, _ := d.Float64(); return v }
	return Totals{
		Subtotal:    f(subtotal),
		Discount:    f(discount),
		Taxable:     f(taxable),
		TaxAmount:   f(tax),
		TotalAmount: f(total),
	}
}

// Create persists a new PENDING order with a freshly allocated ref.
func (s *Service) Create(ctx context.Context, input CreateInput) (*Order, error) {
	if input.Kind != KindInvoice && input.Kind != KindQuotation {
		return nil, fmt.Errorf("%w: unknown order kind %q", ErrValidation, input.Kind)
	}
	if input.BranchID == 0 {
		return nil, fmt.Errorf("%w: branch required", ErrValidation)
	}
	if len(input.Items) == 0 {
		return nil, ErrEmptyItems
	}
	for _, item := range input.Items {
		if err := validateItem(item); err != nil {
			return nil, err
		}
	}

	items := make([]Item, 0, len(input.Items))
	for _, in := range input.Items {
		items = append(items, itemFromInput(0, in))
	}
	totals := ComputeTotals(items, input.Discount, input.DiscountType, input.TaxRate)

	docType := shared.DocTypeInvoice
	if input.Kind == KindQuotation {
		docType = shared.DocTypeQuotation
	}

	var orderID int64
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		ref, err := tx.NextRef(ctx, docType, input.BranchID)
		if err != nil {
			return err
		}
		o := Order{
			Ref:          ref,
			Kind:         input.Kind,
			BranchID:     input.BranchID,
			CustomerID:   input.CustomerID,
			Status:       shared.StatusPending,
			Discount:     totals.Discount,
			DiscountType: input.DiscountType,
			TaxRate:      input.TaxRate,
			TaxAmount:    totals.TaxAmount,
			TotalAmount:  totals.TotalAmount,
			Note:         input.Note,
			CreatedBy:    input.ActorID,
		}
		orderID, err = tx.Create(ctx, o)
		if err != nil {
			return fmt.Errorf("create %s: %w", input.Kind, err)
		}
		for _, item := range items {
			item.OrderID = orderID
			if _, err := tx.InsertItem(ctx, item); err != nil {
				return fmt.Errorf("insert order item: %w", err)
			}
		}
		for _, p := range input.Payments {
			if _, err := tx.InsertPayment(ctx, Payment{
				OrderID: orderID,
				Method:  p.Method,
				Amount:  p.Amount,
				Kind:    PaymentKindPayment,
			}); err != nil {
				return fmt.Errorf("insert payment: %w", err)
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	order, err := s.repo.Get(ctx, orderID)
	if err != nil {
		return nil, err
	}
	s.recordAudit(ctx, input.ActorID, "orders:create", order)
	return order, nil
}

// Approve posts an invoice's stock effects and flips it to APPROVED. Each
// product item produces a sufficiency-checked deduction plus one ORDER
// movement whose remaining quantity seeds later FIFO returns. Quotations
// approve without touching stock. Idempotence: a second call fails with
// ErrAlreadyApproved and posts nothing.
func (s *Service) Approve(ctx context.Context, id int64, actorID int64) (*Order, error) {
	var touched []ledger.LevelKey
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		order, err := tx.GetForUpdate(ctx, id)
		if err != nil {
			return err
		}
		if order.Status == shared.StatusApproved {
			return ErrAlreadyApproved
		}
		if _, err := shared.Transition(order.Status, shared.StatusApproved); err != nil {
			return fmt.Errorf("%w: order is %s", ErrNotEditable, order.Status)
		}
		if order.Kind == KindInvoice {
			keys, err := postDeductions(ctx, tx.Ledger(), order, ledger.MovementOrder, actorID)
			if err != nil {
				return err
			}
			touched = keys
		}
		return tx.UpdateStatus(ctx, id, shared.StatusApproved, actorID, nil)
	})
	if err != nil {
		return nil, err
	}

	s.levels.Invalidate(ctx, touched...)
	order, err := s.repo.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	s.recordAudit(ctx, actorID, "orders:approve", order)
	return order, nil
}

// ConvertQuotation turns an approved quotation into a new invoice in one
// transaction: the invoice gets its own INV ref and a copy of the items, the
// deductions post as QUOTE_TO_INVOICE movements, and the quotation is marked
// converted. Converting twice fails with ErrAlreadyConverted.
func (s *Service) ConvertQuotation(ctx context.Context, quotationID int64, actorID int64) (*Order, error) {
	var invoiceID int64
	var touched []ledger.LevelKey
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		quotation, err := tx.GetForUpdate(ctx, quotationID)
		if err != nil {
			return err
		}
		if quotation.Kind != KindQuotation {
			return ErrNotQuotation
		}
		if quotation.ConvertedOrderID != nil {
			return ErrAlreadyConverted
		}
		if quotation.Status != shared.StatusApproved {
			return fmt.Errorf("%w: quotation is %s", ErrNotEditable, quotation.Status)
		}

		ref, err := tx.NextRef(ctx, shared.DocTypeInvoice, quotation.BranchID)
		if err != nil {
			return err
		}
		invoice := Order{
			Ref:          ref,
			Kind:         KindInvoice,
			BranchID:     quotation.BranchID,
			CustomerID:   quotation.CustomerID,
			Status:       shared.StatusPending,
			Discount:     quotation.Discount,
			DiscountType: quotation.DiscountType,
			TaxRate:      quotation.TaxRate,
			TaxAmount:    quotation.TaxAmount,
			TotalAmount:  quotation.TotalAmount,
			Note:         fmt.Sprintf("converted from %s", quotation.Ref),
			CreatedBy:    actorID,
		}
		invoiceID, err = tx.Create(ctx, invoice)
		if err != nil {
			return err
		}
		invoice.ID = invoiceID
		for _, item := range quotation.Items {
			item.ID = 0
			item.OrderID = invoiceID
			itemID, err := tx.InsertItem(ctx, item)
			if err != nil {
				return err
			}
			item.ID = itemID
			invoice.Items = append(invoice.Items, item)
		}

		touched, err = postDeductions(ctx, tx.Ledger(), &invoice, ledger.MovementQuoteToInvoice, actorID)
		if err != nil {
			return err
		}
		if err := tx.UpdateStatus(ctx, invoiceID, shared.StatusApproved, actorID, nil); err != nil {
			return err
		}
		return tx.MarkConverted(ctx, quotationID, invoiceID)
	})
	if err != nil {
		return nil, err
	}

	s.levels.Invalidate(ctx, touched...)
	invoice, err := s.repo.Get(ctx, invoiceID)
	if err != nil {
		return nil, err
	}
	s.recordAudit(ctx, actorID, "orders:convert", invoice)
	return invoice, nil
}

// Cancel soft-deletes a pending order. Terminal.
func (s *Service) Cancel(ctx context.Context, id int64, actorID int64, reason string) error {
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		order, err := tx.GetForUpdate(ctx, id)
		if err != nil {
			return err
		}
		if _, err := shared.Transition(order.Status, shared.StatusCancelled); err != nil {
			return ErrNotEditable
		}
		return tx.UpdateStatus(ctx, id, shared.StatusCancelled, actorID, &reason)
	})
	if err != nil {
		return err
	}
	s.recordAudit(ctx, actorID, "orders:cancel", &Order{ID: id})
	return nil
}

// Get returns an order with its items and payments.
func (s *Service) Get(ctx context.Context, id int64) (*Order, error) {
	return s.repo.Get(ctx, id)
}

// List returns orders matching the filter plus the total count.
func (s *Service) List(ctx context.Context, filter ListFilter) ([]Order, int, error) {
	return s.repo.List(ctx, filter)
}

// postDeductions writes one checked ledger deduction and one movement per
// product item. Service items are skipped. The movement's remaining quantity
// equals the sold quantity so sale returns can restore it FIFO.
func postDeductions(ctx context.Context, ldg ledger.Tx, order *Order, movementType ledger.MovementType, actorID int64) ([]ledger.LevelKey, error) {
	now := time.Now().UTC()
	var touched []ledger.LevelKey
	for _, item := range order.Items {
		if item.Kind != ItemProduct {
			continue
		}
		if _, err := ledger.Apply(ctx, ldg, ledger.ApplyInput{
			VariantID:         item.VariantID,
			BranchID:          order.BranchID,
			Delta:             -item.Quantity,
			RequireSufficient: true,
			Barcode:           item.Barcode,
		}); err != nil {
			return nil, err
		}
		cost := item.UnitCost
		itemID := item.ID
		if _, err := ldg.InsertMovement(ctx, ledger.Movement{
			VariantID:    item.VariantID,
			BranchID:     order.BranchID,
			Type:         movementType,
			Status:       ledger.MovementApproved,
			Quantity:     -item.Quantity,
			UnitCost:     &cost,
			RemainingQty: item.Quantity,
			OrderItemID:  &itemID,
			Note:         order.Ref,
			CreatedBy:    actorID,
			CreatedAt:    now,
			ApprovedBy:   &actorID,
			ApprovedAt:   &now,
		}); err != nil {
			return nil, err
		}
		touched = append(touched, ledger.LevelKey{VariantID: item.VariantID, BranchID: order.BranchID})
	}
	return touched, nil
}

func validateItem(item ItemInput) error {
	if item.Kind != ItemProduct && item.Kind != ItemService {
		return fmt.Errorf("%w: unknown item kind %q", ErrValidation, item.Kind)
	}
	if item.Kind == ItemProduct && item.VariantID == 0 {
		return fmt.Errorf("%w: product item needs a variant", ErrValidation)
	}
	if item.Quantity <= 0 {
		return fmt.Errorf("%w: quantity must be positive", ErrValidation)
	}
	if item.UnitPrice < 0 {
		return fmt.Errorf("%w: unit price must be >= 0", ErrValidation)
	}
	return nil
}

func itemFromInput(orderID int64, in ItemInput) Item {
	return Item{
		OrderID:      orderID,
		ProductID:    in.ProductID,
		VariantID:    in.VariantID,
		Kind:         in.Kind,
		Barcode:      in.Barcode,
		Quantity:     in.Quantity,
		UnitPrice:    in.UnitPrice,
		Discount:     in.Discount,
		DiscountType: in.DiscountType,
		UnitCost:     in.UnitCost,
	}
}

func (s *Service) recordAudit(ctx context.Context, actorID int64, action string, order *Order) {
	if s.audit == nil {
		return
	}
	_ = s.audit.Record(ctx, shared.AuditLog{
		ActorID:  actorID,
		Action:   action,
		Entity:   "order",
		EntityID: fmt.Sprintf("%d", order.ID),
		Meta: map[string]any{
			"ref":  order.Ref,
			"kind": string(order.Kind),
		},
	})
}
