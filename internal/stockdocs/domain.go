package stockdocs

import (
	"errors"
	"fmt"
	"time"

	"github.com/atlas-pos/atlas-pos/internal/ledger"
	"github.com/atlas-pos/atlas-pos/internal/shared"
)

// DocType enumerates the stock document families handled by this package.
type DocType string

const (
	TypeAdjustment DocType = "ADJUSTMENT"
	TypeTransfer   DocType = "TRANSFER"
	TypeRequest    DocType = "REQUEST"
	TypeReturn     DocType = "RETURN"
)

// AdjustDirection selects the sign of an adjustment line.
type AdjustDirection string

const (
	DirectionPositive AdjustDirection = "POSITIVE"
	DirectionNegative AdjustDirection = "NEGATIVE"
)

// Document is the shared header for adjustments, transfers, requests and
// stock returns. One status machine covers all four families.
type Document struct {
	ID           int64                 `json:"id"`
	Ref          string                `json:"ref"`
	Type         DocType               `json:"type"`
	BranchID     int64                 `json:"branch_id"`
	ToBranchID   *int64                `json:"to_branch_id,omitempty"`
	Status       shared.DocumentStatus `json:"status"`
	Note         string                `json:"note"`
	CreatedBy    int64                 `json:"created_by"`
	CreatedAt    time.Time             `json:"created_at"`
	UpdatedAt    time.Time             `json:"updated_at"`
	ApprovedBy   *int64                `json:"approved_by,omitempty"`
	ApprovedAt   *time.Time            `json:"approved_at,omitempty"`
	CancelledBy  *int64                `json:"cancelled_by,omitempty"`
	CancelledAt  *time.Time            `json:"cancelled_at,omitempty"`
	CancelReason *string               `json:"cancel_reason,omitempty"`
	Lines        []Line                `json:"lines,omitempty"`
}

// Line is one product movement row of a stock document.
type Line struct {
	ID         int64           `json:"id"`
	DocumentID int64           `json:"document_id"`
	ProductID  int64           `json:"product_id"`
	VariantID  int64           `json:"product_variant_id"`
	Barcode    string          `json:"barcode"`
	Quantity   float64         `json:"quantity"`
	UnitCost   float64         `json:"unit_cost"`
	Direction  AdjustDirection `json:"direction,omitempty"`
	Note       string          `json:"note"`
}

var (
	// ErrNotFound indicates a missing document.
	ErrNotFound = errors.New("stockdocs: document not found")
	// ErrAlreadyApproved indicates a second approval attempt.
	ErrAlreadyApproved = errors.New("stockdocs: document already approved")
	// ErrNotEditable indicates an update or cancel on a non-pending document.
	ErrNotEditable = errors.New("stockdocs: only pending documents can be modified")
	// ErrEmptyLines indicates a document without detail rows.
	ErrEmptyLines = errors.New("stockdocs: at least one line is required")
	// ErrValidation indicates invalid input.
	ErrValidation = errors.New("stockdocs: invalid input")
)

// docTypeRefs binds each family to its reference sequence.
var docTypeRefs = map[DocType]shared.DocType{
	TypeAdjustment: shared.DocTypeAdjustment,
	TypeTransfer:   shared.DocTypeTransfer,
	TypeRequest:    shared.DocTypeRequest,
	TypeReturn:     shared.DocTypeStockReturn,
}

// movementTypes tags the ledger movements each family writes.
var movementTypes = map[DocType]ledger.MovementType{
	TypeAdjustment: ledger.MovementAdjustment,
	TypeTransfer:   ledger.MovementTransfer,
	TypeRequest:    ledger.MovementRequest,
	TypeReturn:     ledger.MovementReturn,
}

// requiresSufficiency preserves the source asymmetry: none of the stock
// document workflows check availability, so deductions may legally drive a
// quantity negative. Invoice approval is the checked path and lives in
// sales/orders.
var requiresSufficiency = map[DocType]bool{
	TypeAdjustment: false,
	TypeTransfer:   false,
	TypeRequest:    false,
	TypeReturn:     false,
}

// delta is one signed ledger change derived from a document line.
type delta struct {
	VariantID int64
	BranchID  int64
	Quantity  float64
	UnitCost  *float64
}

// lineDeltas computes the signed quantity changes a line produces on
// approval. Transfers yield two: out at the source branch, in at the
// destination.
func lineDeltas(doc *Document, line Line) ([]delta, error) {
	cost := line.UnitCost
	switch doc.Type {
	case TypeAdjustment:
		qty := line.Quantity
		if line.Direction == DirectionNegative {
			qty = -qty
		} else if line.Direction != DirectionPositive {
			return nil, fmt.Errorf("%w: adjustment line needs a direction", ErrValidation)
		}
		return []delta{{VariantID: line.VariantID, BranchID: doc.BranchID, Quantity: qty, UnitCost: &cost}}, nil
	case TypeRequest:
		return []delta{{VariantID: line.VariantID, BranchID: doc.BranchID, Quantity: -line.Quantity, UnitCost: &cost}}, nil
	case TypeReturn:
		return []delta{{VariantID: line.VariantID, BranchID: doc.BranchID, Quantity: line.Quantity, UnitCost: &cost}}, nil
	case TypeTransfer:
		if doc.ToBranchID == nil {
			return nil, fmt.Errorf("%w: transfer needs a destination branch", ErrValidation)
		}
		return []delta{
			{VariantID: line.VariantID, BranchID: doc.BranchID, Quantity: -line.Quantity, UnitCost: &cost},
			{VariantID: line.VariantID, BranchID: *doc.ToBranchID, Quantity: line.Quantity, UnitCost: &cost},
		}, nil
	default:
		return nil, fmt.Errorf("%w: unknown document type %s", ErrValidation, doc.Type)
	}
}
