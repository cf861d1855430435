package jobs

import (
	"encoding/json"

	"github.com/hibiken/asynq"
)

const (
	// QueueDefault is the default queue name for background jobs.
	QueueDefault = "default"
	// TaskLedgerReconcile is the task type for the stock drift sweep.
	TaskLedgerReconcile = "ledger:reconcile"
)

// LedgerReconcilePayload parameterises a reconciliation sweep.
type LedgerReconcilePayload struct {
	BranchID int64 `json:"branch_id,omitempty"`
}

// NewLedgerReconcileTask constructs an Asynq task.
func NewLedgerReconcileTask(payload LedgerReconcilePayload) (*asynq.Task, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskLedgerReconcile, data), nil
}
