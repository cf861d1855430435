package orders

import (
	"errors"
	"time"

	salesshared "github.com/atlas-pos/atlas-pos/internal/sales/shared"
	"github.com/atlas-pos/atlas-pos/internal/shared"
)

// Kind separates binding invoices from non-binding quotations. Only invoices
// move stock.
type Kind string

const (
	KindInvoice   Kind = "INVOICE"
	KindQuotation Kind = "QUOTATION"
)

// ItemKind separates stocked products from service lines. Service lines carry
// value but never touch the ledger.
type ItemKind string

const (
	ItemProduct ItemKind = "PRODUCT"
	ItemService ItemKind = "SERVICE"
)

// Order is a sales invoice or quotation with its items.
type Order struct {
	ID           int64                    `json:"id"`
	Ref          string                   `json:"ref"`
	Kind         Kind                     `json:"kind"`
	BranchID     int64                    `json:"branch_id"`
	CustomerID   *int64                   `json:"customer_id,omitempty"`
	Status       shared.DocumentStatus    `json:"status"`
	Discount     float64                  `json:"discount"`
	DiscountType salesshared.DiscountType `json:"discount_type"`
	TaxRate      float64                  `json:"tax_rate"`
	TaxAmount    float64                  `json:"tax_amount"`
	TotalAmount  float64                  `json:"total_amount"`
	HasReturn    bool                     `json:"has_return"`
	// ConvertedOrderID links a quotation to the invoice it became.
	ConvertedOrderID *int64     `json:"converted_order_id,omitempty"`
	Note             string     `json:"note"`
	CreatedBy        int64      `json:"created_by"`
	CreatedAt        time.Time  `json:"created_at"`
	UpdatedAt        time.Time  `json:"updated_at"`
	ApprovedBy       *int64     `json:"approved_by,omitempty"`
	ApprovedAt       *time.Time `json:"approved_at,omitempty"`
	CancelledBy      *int64     `json:"cancelled_by,omitempty"`
	CancelledAt      *time.Time `json:"cancelled_at,omitempty"`
	CancelReason     *string    `json:"cancel_reason,omitempty"`
	Items            []Item     `json:"items,omitempty"`
	Payments         []Payment  `json:"payments,omitempty"`
}

// Item is one sold line.
type Item struct {
	ID           int64                    `json:"id"`
	OrderID      int64                    `json:"order_id"`
	ProductID    int64                    `json:"product_id"`
	VariantID    int64                    `json:"product_variant_id"`
	Kind         ItemKind                 `json:"kind"`
	Barcode      string                   `json:"barcode"`
	Quantity     float64                  `json:"quantity"`
	UnitPrice    float64                  `json:"unit_price"`
	Discount     float64                  `json:"discount"`
	DiscountType salesshared.DiscountType `json:"discount_type"`
	UnitCost     float64                  `json:"unit_cost"`
}

// Payment is one money entry against an order. Refunds carry negative amounts.
type Payment struct {
	ID        int64     `json:"id"`
	OrderID   int64     `json:"order_id"`
	Method    string    `json:"method"`
	Amount    float64   `json:"amount"`
	Kind      string    `json:"kind"`
	CreatedAt time.Time `json:"created_at"`
}

const (
	PaymentKindPayment = "PAYMENT"
	PaymentKindRefund  = "REFUND"
)

var (
	// ErrNotFound indicates a missing order.
	ErrNotFound = errors.New("orders: order not found")
	// ErrAlreadyApproved indicates a second approval attempt.
	ErrAlreadyApproved = errors.New("orders: order already approved")
	// ErrNotEditable indicates a non-pending order.
	ErrNotEditable = errors.New("orders: only pending orders can change")
	// ErrEmptyItems indicates an order without items.
	ErrEmptyItems = errors.New("orders: at least one item is required")
	// ErrNotQuotation indicates a conversion attempt on an invoice.
	ErrNotQuotation = errors.New("orders: only quotations can convert to invoices")
	// ErrAlreadyConverted indicates a quotation that already produced an invoice.
	ErrAlreadyConverted = errors.New("orders: quotation already converted")
	// ErrValidation wraps input validation failures.
	ErrValidation = errors.New("orders: invalid input")
)

// InvoiceSubtotal sums the discounted line values of every item.
func InvoiceSubtotal(items []Item) float64 {
	lines := make([]salesshared.ReturnLine, 0, len(items))
	for _, item := range items {
		lines = append(lines, salesshared.ReturnLine{
			Price:        item.UnitPrice,
			Discount:     item.Discount,
			DiscountType: item.DiscountType,
			Quantity:     item.Quantity,
		})
	}
	return salesshared.ItemsSubtotal(lines)
}
