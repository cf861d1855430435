package returns

import (
	"errors"
	"time"

	salesshared "github.com/atlas-pos/atlas-pos/internal/sales/shared"
)

// SaleReturn is one posted customer return against an invoice. Returns are
// created in their final state; there is no pending phase.
type SaleReturn struct {
	ID            int64   `json:"id"`
	Ref           string  `json:"ref"`
	OrderID       int64   `json:"order_id"`
	BranchID      int64   `json:"branch_id"`
	ItemsSubtotal float64 `json:"items_subtotal"`
	// Discount and TaxAmount are the capped prorated shares of the order
	// discount and tax for this return.
	Discount    float64    `json:"discount"`
	TaxAmount   float64    `json:"tax_amount"`
	TotalAmount float64    `json:"total_amount"`
	Note        string     `json:"note"`
	CreatedBy   int64      `json:"created_by"`
	CreatedAt   time.Time  `json:"created_at"`
	Items       []Item     `json:"items,omitempty"`
}

// Item is one returned line, tied to the invoice item it reverses.
type Item struct {
	ID           int64                    `json:"id"`
	SaleReturnID int64                    `json:"sale_return_id"`
	OrderItemID  int64                    `json:"order_item_id"`
	ProductID    int64                    `json:"product_id"`
	VariantID    int64                    `json:"product_variant_id"`
	Quantity     float64                  `json:"quantity"`
	UnitPrice    float64                  `json:"unit_price"`
	Discount     float64                  `json:"discount"`
	DiscountType salesshared.DiscountType `json:"discount_type"`
	Subtotal     float64                  `json:"subtotal"`
}

var (
	// ErrNotFound indicates a missing sale return.
	ErrNotFound = errors.New("returns: sale return not found")
	// ErrOrderNotFound indicates the referenced invoice does not exist.
	ErrOrderNotFound = errors.New("returns: order not found")
	// ErrOrderNotReturnable indicates the order is not an approved invoice.
	ErrOrderNotReturnable = errors.New("returns: order cannot be returned against")
	// ErrItemNotOnOrder indicates a return line referencing a foreign item.
	ErrItemNotOnOrder = errors.New("returns: item does not belong to the order")
	// ErrOverReturn indicates a cumulative return quantity above the sold quantity.
	ErrOverReturn = errors.New("returns: returned quantity exceeds sold quantity")
	// ErrEmptyItems indicates a return without lines.
	ErrEmptyItems = errors.New("returns: at least one item is required")
	// ErrValidation wraps input validation failures.
	ErrValidation = errors.New("returns: invalid input")
)
