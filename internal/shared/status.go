package shared

import "errors"

// DocumentStatus is the lifecycle state shared by every business document
// (purchases, invoices, stock adjustments, transfers, requests, returns,
// sale returns).
type DocumentStatus string

const (
	// StatusPending marks a freshly created, still editable document.
	StatusPending DocumentStatus = "PENDING"
	// StatusApproved marks a document whose stock effects have been posted.
	StatusApproved DocumentStatus = "APPROVED"
	// StatusCancelled marks a soft-deleted document. Terminal.
	StatusCancelled DocumentStatus = "CANCELLED"
)

// ErrInvalidTransition indicates a disallowed status change.
var ErrInvalidTransition = errors.New("invalid document status transition")

// transitions is the single transition table every document workflow shares.
// APPROVED and CANCELLED are terminal.
var transitions = map[DocumentStatus]map[DocumentStatus]bool{
	StatusPending: {
		StatusApproved:  true,
		StatusCancelled: true,
	},
	StatusApproved:  {},
	StatusCancelled: {},
}

// CanTransition reports whether a document may move from one status to another.
func CanTransition(from, to DocumentStatus) bool {
	allowed, ok := transitions[from]
	if !ok {
		return false
	}
	return allowed[to]
}

// Transition validates a status change, returning ErrInvalidTransition when
// the move is not in the table.
func Transition(from, to DocumentStatus) (DocumentStatus, error) {
	if !CanTransition(from, to) {
		return from, ErrInvalidTransition
	}
	return to, nil
}
