package tasks

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/hibiken/asynq"
	"github.com/hugh/scanhub/internal/scans"
)

// Margin added to the backend timeout before asynq abandons a dispatch task.
const taskTimeoutMargin = 30 * time.Second

// Enqueuer is the part of *asynq.Client the dispatcher uses.
type Enqueuer interface {
	EnqueueContext(ctx context.Context, task *asynq.Task, opts ...asynq.Option) (*asynq.TaskInfo, error)
}

// AsynqDispatcher hands scans to worker processes through Redis.
type AsynqDispatcher struct {
	client  Enqueuer
	timeout time.Duration
}

var _ scans.Dispatcher = (*AsynqDispatcher)(nil)

// NewAsynqDispatcher creates a dispatcher whose tasks time out shortly after
// backendTimeout.
func NewAsynqDispatcher(client Enqueuer, backendTimeout time.Duration) *AsynqDispatcher {
	return &AsynqDispatcher{client: client, timeout: backendTimeout + taskTimeoutMargin}
}

// Dispatch enqueues one task per scan. The task id is the scan id, so a
// repeated dispatch of the same record is a no-op. Tasks are never retried:
// a lost scan is failed by reconciliation instead.
func (d *AsynqDispatcher) Dispatch(ctx context.Context, rec *scans.Record) error {
	task, err := NewDispatchTask(DispatchPayload{ScanID: rec.ID, ScanType: string(rec.ScanType)})
	if err != nil {
		return fmt.Errorf("creating dispatch task: %w", err)
	}

	_, err = d.client.EnqueueContext(ctx, task,
		asynq.TaskID(rec.ID.String()),
		asynq.Queue(QueueScans),
		asynq.MaxRetry(0),
		asynq.Timeout(d.timeout),
	)
	if err != nil {
		if errors.Is(err, asynq.ErrTaskIDConflict) {
			return nil
		}
		return fmt.Errorf("enqueueing scan %s: %w", rec.ID, err)
	}
	return nil
}
