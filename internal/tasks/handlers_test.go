package tasks

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/hibiken/asynq"
	"github.com/hugh/scanhub/internal/scans"
	"github.com/hugh/scanhub/pkg/util"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeLifecycle struct {
	executed   []uuid.UUID
	execErr    error
	reconciled int
	reconErr   error
}

func (f *fakeLifecycle) Execute(_ context.Context, id uuid.UUID) error {
	f.executed = append(f.executed, id)
	return f.execErr
}

func (f *fakeLifecycle) ReconcileStale(context.Context) (int, error) {
	return f.reconciled, f.reconErr
}

func TestHandleScanDispatch(t *testing.T) {
	lc := &fakeLifecycle{}
	h := NewHandler(lc, util.NewDiscardLogger())
	id := uuid.New()

	task, err := NewDispatchTask(DispatchPayload{ScanID: id, ScanType: "port"})
	require.NoError(t, err)

	require.NoError(t, h.HandleScanDispatch(context.Background(), task))
	assert.Equal(t, []uuid.UUID{id}, lc.executed)
}

func TestHandleScanDispatch_InvalidPayload(t *testing.T) {
	lc := &fakeLifecycle{}
	h := NewHandler(lc, util.NewDiscardLogger())

	err := h.HandleScanDispatch(context.Background(), asynq.NewTask(TypeScanDispatch, []byte("invalid json")))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unmarshal payload")
	assert.ErrorIs(t, err, asynq.SkipRetry)

	data, _ := json.Marshal(DispatchPayload{})
	err = h.HandleScanDispatch(context.Background(), asynq.NewTask(TypeScanDispatch, data))
	assert.ErrorIs(t, err, asynq.SkipRetry)
	assert.Empty(t, lc.executed)
}

func TestHandleScanDispatch_MissingScan(t *testing.T) {
	lc := &fakeLifecycle{execErr: scans.ErrNotFound}
	h := NewHandler(lc, util.NewDiscardLogger())

	task, err := NewDispatchTask(DispatchPayload{ScanID: uuid.New()})
	require.NoError(t, err)

	err = h.HandleScanDispatch(context.Background(), task)
	assert.ErrorIs(t, err, asynq.SkipRetry)
}

func TestHandleReconcile(t *testing.T) {
	lc := &fakeLifecycle{reconciled: 2}
	h := NewHandler(lc, util.NewDiscardLogger())
	assert.NoError(t, h.HandleReconcile(context.Background(), NewReconcileTask()))

	lc.reconErr = errors.New("db down")
	assert.Error(t, h.HandleReconcile(context.Background(), NewReconcileTask()))
}

type fakeEnqueuer struct {
	tasks []*asynq.Task
	opts  [][]asynq.Option
	err   error
}

func (f *fakeEnqueuer) EnqueueContext(_ context.Context, task *asynq.Task, opts ...asynq.Option) (*asynq.TaskInfo, error) {
	f.tasks = append(f.tasks, task)
	f.opts = append(f.opts, opts)
	if f.err != nil {
		return nil, f.err
	}
	return &asynq.TaskInfo{ID: "x", Type: task.Type()}, nil
}

func optionValue(opts []asynq.Option, typ asynq.OptionType) interface{} {
	for _, o := range opts {
		if o.Type() == typ {
			return o.Value()
		}
	}
	return nil
}

func TestAsynqDispatcher_Dispatch(t *testing.T) {
	enq := &fakeEnqueuer{}
	d := NewAsynqDispatcher(enq, 30*time.Second)
	rec := &scans.Record{ID: uuid.New(), ScanType: scans.ScanTypeSSL}

	require.NoError(t, d.Dispatch(context.Background(), rec))
	require.Len(t, enq.tasks, 1)
	assert.Equal(t, TypeScanDispatch, enq.tasks[0].Type())

	var payload DispatchPayload
	require.NoError(t, json.Unmarshal(enq.tasks[0].Payload(), &payload))
	assert.Equal(t, rec.ID, payload.ScanID)
	assert.Equal(t, "ssl", payload.ScanType)

	opts := enq.opts[0]
	assert.Equal(t, rec.ID.String(), optionValue(opts, asynq.TaskIDOpt))
	assert.Equal(t, 0, optionValue(opts, asynq.MaxRetryOpt))
	assert.Equal(t, QueueScans, optionValue(opts, asynq.QueueOpt))
	assert.Equal(t, 60*time.Second, optionValue(opts, asynq.TimeoutOpt))
}

func TestAsynqDispatcher_Errors(t *testing.T) {
	rec := &scans.Record{ID: uuid.New(), ScanType: scans.ScanTypePort}

	d := NewAsynqDispatcher(&fakeEnqueuer{err: asynq.ErrTaskIDConflict}, time.Second)
	assert.NoError(t, d.Dispatch(context.Background(), rec))

	d = NewAsynqDispatcher(&fakeEnqueuer{err: errors.New("dial tcp: connection refused")}, time.Second)
	err := d.Dispatch(context.Background(), rec)
	require.Error(t, err)
	assert.Contains(t, err.Error(), rec.ID.String())
}
