package returns

import (
	"context"
	"fmt"
	"time"

	"github.com/atlas-pos/atlas-pos/internal/ledger"
	"github.com/atlas-pos/atlas-pos/internal/sales/orders"
	salesshared "github.com/atlas-pos/atlas-pos/internal/sales/shared"
	"github.com/atlas-pos/atlas-pos/internal/shared"
)

const qtyEpsilon = 1e-9

// AuditPort abstracts audit logging.
type AuditPort interface {
	Record(ctx context.Context, log shared.AuditLog) error
}

// Service posts sale returns.
type Service struct {
	repo   Repository
	audit  AuditPort
	levels *ledger.Reader
}

// NewService builds Service.
func NewService(repo Repository, audit AuditPort, levels *ledger.Reader) *Service {
	return &Service{repo: repo, audit: audit, levels: levels}
}

// CreateInput describes one sale return against an invoice. Prices are not
// part of the input: each returned line reuses the money figures of the
// invoice item it reverses.
type CreateInput struct {
	OrderID      int64
	Note         string
	RefundMethod string
	ActorID      int64
	Items        []ItemInput
}

// ItemInput references one invoice item and the quantity coming back.
type ItemInput struct {
	OrderItemID int64
	Quantity    float64
}

// Create posts a sale return in one transaction: the invoice is locked, the
// return and its lines are written with the prorated discount and tax, sold
// lots are restored FIFO, stock is re-credited, the invoice's payments are
// counter-entried as REFUND rows and the invoice total shrinks by the
// refunded amount.
func (s *Service) Create(ctx context.Context, input CreateInput) (*SaleReturn, error) {
	if len(input.Items) == 0 {
		return nil, ErrEmptyItems
	}
	for _, line := range input.Items {
		if line.OrderItemID == 0 {
			return nil, fmt.Errorf("%w: order item required", ErrValidation)
		}
		if line.Quantity <= 0 {
			return nil, fmt.Errorf("%w: quantity must be positive", ErrValidation)
		}
	}

	var returnID int64
	var touched []ledger.LevelKey
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		order, err := tx.OrderForUpdate(ctx, input.OrderID)
		if err != nil {
			return err
		}
		if order.Kind != orders.KindInvoice || order.Status != shared.StatusApproved {
			return fmt.Errorf("%w: %s is %s", ErrOrderNotReturnable, order.Ref, order.Status)
		}

		itemsByID := make(map[int64]orders.Item, len(order.Items))
		for _, item := range order.Items {
			itemsByID[item.ID] = item
		}

		returnLines := make([]salesshared.ReturnLine, 0, len(input.Items))
		for _, line := range input.Items {
			orderItem, ok := itemsByID[line.OrderItemID]
			if !ok {
				return fmt.Errorf("%w: item %d", ErrItemNotOnOrder, line.OrderItemID)
			}
			already, err := tx.ReturnedQuantity(ctx, line.OrderItemID)
			if err != nil {
				return err
			}
			if already+line.Quantity > orderItem.Quantity+qtyEpsilon {
				return fmt.Errorf("%w: item %d sold %.3f, returned %.3f, requested %.3f",
					ErrOverReturn, line.OrderItemID, orderItem.Quantity, already, line.Quantity)
			}
			returnLines = append(returnLines, salesshared.ReturnLine{
				Price:        orderItem.UnitPrice,
				Discount:     orderItem.Discount,
				DiscountType: orderItem.DiscountType,
				Quantity:     line.Quantity,
			})
		}

		priorDiscount, priorTax, _, err := tx.PriorReturnTotals(ctx, input.OrderID)
		if err != nil {
			return err
		}
		proration, err := salesshared.Prorate(salesshared.ProrationInput{
			ItemsSubtotal:   salesshared.ItemsSubtotal(returnLines),
			InvoiceSubtotal: orders.InvoiceSubtotal(order.Items),
			OrderDiscount:   order.Discount,
			OrderTax:        order.TaxAmount,
			TaxRate:         order.TaxRate,
			PriorDiscount:   priorDiscount,
			PriorTax:        priorTax,
		})
		if err != nil {
			return err
		}

		ref, err := tx.NextRef(ctx, order.BranchID)
		if err != nil {
			return err
		}
		returnID, err = tx.Create(ctx, SaleReturn{
			Ref:           ref,
			OrderID:       input.OrderID,
			BranchID:      order.BranchID,
			ItemsSubtotal: proration.Taxable + proration.RawDiscount,
			Discount:      proration.Discount,
			TaxAmount:     proration.Tax,
			TotalAmount:   proration.Total,
			Note:          input.Note,
			CreatedBy:     input.ActorID,
		})
		if err != nil {
			return fmt.Errorf("create sale return: %w", err)
		}

		now := time.Now().UTC()
		ldg := tx.Ledger()
		for i, line := range input.Items {
			orderItem := itemsByID[line.OrderItemID]
			itemID, err := tx.InsertItem(ctx, Item{
				SaleReturnID: returnID,
				OrderItemID:  line.OrderItemID,
				ProductID:    orderItem.ProductID,
				VariantID:    orderItem.VariantID,
				Quantity:     line.Quantity,
				UnitPrice:    orderItem.UnitPrice,
				Discount:     orderItem.Discount,
				DiscountType: orderItem.DiscountType,
				Subtotal:     salesshared.ItemsSubtotal(returnLines[i : i+1]),
			})
			if err != nil {
				return fmt.Errorf("insert sale return item: %w", err)
			}

			if orderItem.Kind != orders.ItemProduct {
				continue
			}
			if _, err := ledger.RestoreFIFO(ctx, ldg, ledger.RestoreInput{
				OrderItemID:      line.OrderItemID,
				VariantID:        orderItem.VariantID,
				BranchID:         order.BranchID,
				Quantity:         line.Quantity,
				SaleReturnItemID: itemID,
				Note:             ref,
				ActorID:          input.ActorID,
				Now:              now,
			}); err != nil {
				return err
			}
			if _, err := ledger.Apply(ctx, ldg, ledger.ApplyInput{
				VariantID: orderItem.VariantID,
				BranchID:  order.BranchID,
				Delta:     line.Quantity,
				Barcode:   orderItem.Barcode,
			}); err != nil {
				return err
			}
			touched = append(touched, ledger.LevelKey{VariantID: orderItem.VariantID, BranchID: order.BranchID})
		}

		// Reverse the money. Payments are never edited or deleted: every
		// standing positive payment gets its own negated REFUND counter-entry.
		// An invoice with no payments yet falls back to a single refund of the
		// owed amount.
		refunded := false
		for _, p := range order.Payments {
			if p.Kind != orders.PaymentKindPayment || p.Amount <= 0 {
				continue
			}
			if err := tx.InsertRefundPayment(ctx, input.OrderID, p.Method, -p.Amount); err != nil {
				return fmt.Errorf("insert refund payment: %w", err)
			}
			refunded = true
		}
		if !refunded && proration.Total > 0 {
			method := input.RefundMethod
			if method == "" {
				method = "CASH"
			}
			if err := tx.InsertRefundPayment(ctx, input.OrderID, method, -proration.Total); err != nil {
				return fmt.Errorf("insert refund payment: %w", err)
			}
		}
		return tx.ApplyReturnToOrder(ctx, input.OrderID, proration.Total)
	})
	if err != nil {
		return nil, err
	}

	s.levels.Invalidate(ctx, touched...)
	sr, err := s.repo.Get(ctx, returnID)
	if err != nil {
		return nil, err
	}
	s.recordAudit(ctx, input.ActorID, sr)
	return sr, nil
}

// Get returns one sale return with its lines.
func (s *Service) Get(ctx context.Context, id int64) (*SaleReturn, error) {
	return s.repo.Get(ctx, id)
}

// ListByOrder returns every sale return against one invoice.
func (s *Service) ListByOrder(ctx context.Context, orderID int64) ([]SaleReturn, error) {
	return s.repo.ListByOrder(ctx, orderID)
}

func (s *Service) recordAudit(ctx context.Context, actorID int64, sr *SaleReturn) {
	if s.audit == nil {
		return
	}
	_ = s.audit.Record(ctx, shared.AuditLog{
		ActorID:  actorID,
		Action:   "returns:create",
		Entity:   "sale_return",
		EntityID: fmt.Sprintf("%d", sr.ID),
		Meta: map[string]any{
			"ref":      sr.Ref,
			"order_id": sr.OrderID,
			"total":    sr.TotalAmount,
		},
	})
}
