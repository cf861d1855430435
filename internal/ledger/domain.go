package ledger

import (
	"context"
	"errors"
	"time"
)

// MovementType enumerates the business causes of a stock quantity change.
type MovementType string

const (
	// MovementOrder represents stock leaving on an approved invoice, or
	// arriving on a received purchase.
	MovementOrder MovementType = "ORDER"
	// MovementSaleReturn restores stock sold on a prior ORDER movement.
	MovementSaleReturn MovementType = "SALE_RETURN"
	// MovementAdjustment is a manual positive or negative correction.
	MovementAdjustment MovementType = "ADJUSTMENT"
	// MovementTransfer moves stock between branches.
	MovementTransfer MovementType = "TRANSFER"
	// MovementRequest deducts stock at the requesting branch.
	MovementRequest MovementType = "REQUEST"
	// MovementReturn puts stock back from a stock return document.
	MovementReturn MovementType = "RETURN"
	// MovementQuoteToInvoice deducts stock when a quotation converts to an invoice.
	MovementQuoteToInvoice MovementType = "QUOTE_TO_INVOICE"
)

// MovementStatus tracks approval state of a movement row.
type MovementStatus string

const (
	MovementPending  MovementStatus = "PENDING"
	MovementApproved MovementStatus = "APPROVED"
)

// Level is the authoritative current quantity for a variant at a branch.
// Created on first movement, never deleted; quantity may be fractional.
type Level struct {
	VariantID int64
	BranchID  int64
	Quantity  float64
	UpdatedAt time.Time
}

// Movement is one immutable signed-quantity audit row. Positive quantity is
// stock in, negative is stock out. Approval fields are set once; nothing else
// is ever updated except RemainingQty, which tracks how much of a sold lot a
// sale return may still restore.
type Movement struct {
	ID               int64
	VariantID        int64
	BranchID         int64
	Type             MovementType
	Status           MovementStatus
	Quantity         float64
	UnitCost         *float64
	SourceMovementID *int64
	RemainingQty     float64
	OrderItemID      *int64
	SaleReturnItemID *int64
	Note             string
	CreatedBy        int64
	CreatedAt        time.Time
	ApprovedBy       *int64
	ApprovedAt       *time.Time
}

// LevelKey identifies one ledger row.
type LevelKey struct {
	VariantID int64
	BranchID  int64
}

var (
	// ErrLevelNotFound indicates a missing ledger row.
	ErrLevelNotFound = errors.New("ledger: stock level not found")
	// ErrInsufficientStock is returned by sufficiency-checked deductions.
	ErrInsufficientStock = errors.New("ledger: insufficient stock")
	// ErrInvalidQuantity indicates a zero delta.
	ErrInvalidQuantity = errors.New("ledger: quantity must be non zero")
	// ErrFIFORestoreMismatch indicates sold lots ran out before a return
	// quantity could be fully restored.
	ErrFIFORestoreMismatch = errors.New("ledger: fifo restore quantity mismatch")
)

// Tx is the unit of work handed to every ledger operation. Implementations
// wrap a database transaction; tests substitute an in-memory fake. It is
// always passed explicitly, never stashed in package state.
type Tx interface {
	// LevelForUpdate locks and returns the ledger row, or ErrLevelNotFound.
	LevelForUpdate(ctx context.Context, variantID, branchID int64) (Level, error)
	// UpsertLevel creates or replaces the ledger row.
	UpsertLevel(ctx context.Context, level Level) error
	// InsertMovement appends one movement row and returns its id.
	InsertMovement(ctx context.Context, m Movement) (int64, error)
	// OrderMovements returns deduction movements for an order item, oldest
	// first, with restorable quantity remaining, locked for update.
	OrderMovements(ctx context.Context, orderItemID int64) ([]Movement, error)
	// SetRemainingQty records consumption of a sold lot.
	SetRemainingQty(ctx context.Context, movementID int64, remaining float64) error
}
