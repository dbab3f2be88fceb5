package tasks

import (
	"encoding/json"

	"github.com/google/uuid"
	"github.com/hibiken/asynq"
)

// Task type names
const (
	TypeScanDispatch = "scan:dispatch"
	TypeReconcile    = "scans:reconcile"
)

// Queue names, matching the weights configured in pkg/queue.
const (
	QueueScans       = "default"
	QueueMaintenance = "low"
)

// DispatchPayload identifies the scan record a worker should execute. The
// record itself is reloaded from the database.
type DispatchPayload struct {
	ScanID   uuid.UUID `json:"scan_id"`
	ScanType string    `json:"scan_type"`
}

func NewDispatchTask(payload DispatchPayload, opts ...asynq.Option) (*asynq.Task, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TypeScanDispatch, data, opts...), nil
}

// NewReconcileTask fails scans that have been running for too long. It
// carries no payload.
func NewReconcileTask() *asynq.Task {
	return asynq.NewTask(TypeReconcile, nil, asynq.Queue(QueueMaintenance), asynq.MaxRetry(0))
}
