// Package procurement covers supplier purchases: drafted, then received into
// stock in one transaction.
package procurement

import (
	"errors"
	"time"

	"github.com/atlas-pos/atlas-pos/internal/shared"
)

// Purchase is a supplier order. Receiving it posts one positive movement per
// line at the line's unit cost.
type Purchase struct {
	ID           int64                 `json:"id"`
	Ref          string                `json:"ref"`
	SupplierID   int64                 `json:"supplier_id"`
	BranchID     int64                 `json:"branch_id"`
	Status       shared.DocumentStatus `json:"status"`
	TotalCost    float64               `json:"total_cost"`
	Note         string                `json:"note"`
	CreatedBy    int64                 `json:"created_by"`
	CreatedAt    time.Time             `json:"created_at"`
	UpdatedAt    time.Time             `json:"updated_at"`
	ReceivedBy   *int64                `json:"received_by,omitempty"`
	ReceivedAt   *time.Time            `json:"received_at,omitempty"`
	CancelledBy  *int64                `json:"cancelled_by,omitempty"`
	CancelledAt  *time.Time            `json:"cancelled_at,omitempty"`
	CancelReason *string               `json:"cancel_reason,omitempty"`
	Lines        []Line                `json:"lines,omitempty"`
}

// Line is one purchased product row.
type Line struct {
	ID         int64   `json:"id"`
	PurchaseID int64   `json:"purchase_id"`
	ProductID  int64   `json:"product_id"`
	VariantID  int64   `json:"product_variant_id"`
	Barcode    string  `json:"barcode"`
	Quantity   float64 `json:"quantity"`
	UnitCost   float64 `json:"unit_cost"`
}

var (
	// ErrNotFound indicates a missing purchase.
	ErrNotFound = errors.New("procurement: purchase not found")
	// ErrAlreadyReceived indicates a second receive attempt.
	ErrAlreadyReceived = errors.New("procurement: purchase already received")
	// ErrNotEditable indicates a non-pending purchase.
	ErrNotEditable = errors.New("procurement: only pending purchases can change")
	// ErrEmptyLines indicates a purchase without lines.
	ErrEmptyLines = errors.New("procurement: at least one line is required")
	// ErrValidation wraps input validation failures.
	ErrValidation = errors.New("procurement: invalid input")
)
