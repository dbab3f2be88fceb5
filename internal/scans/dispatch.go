package scans

import (
	"context"
	"log/slog"
	"sync"

	"github.com/google/uuid"
)

// Dispatcher hands a freshly created pending record to whatever runs it.
// A returned error means the handoff itself failed and the scan will never
// run.
type Dispatcher interface {
	Dispatch(ctx context.Context, rec *Record) error
}

// DispatcherFunc adapts a function to Dispatcher.
type DispatcherFunc func(ctx context.Context, rec *Record) error

func (f DispatcherFunc) Dispatch(ctx context.Context, rec *Record) error {
	return f(ctx, rec)
}

// Executor runs a dispatched scan to completion.
type Executor interface {
	Execute(ctx context.Context, id uuid.UUID) error
}

// InlineDispatcher runs scans on goroutines of the calling process. It is the
// fallback when no queue is configured.
type InlineDispatcher struct {
	exec   Executor
	sem    chan struct{}
	logger *slog.Logger
	wg     sync.WaitGroup
}

// NewInlineDispatcher bounds the number of scans running at once to
// concurrency (unbounded when <= 0).
func NewInlineDispatcher(exec Executor, concurrency int, logger *slog.Logger) *InlineDispatcher {
	d := &InlineDispatcher{exec: exec, logger: logger}
	if concurrency > 0 {
		d.sem = make(chan struct{}, concurrency)
	}
	return d
}

// Dispatch never fails. The scan outlives the request that created it.
func (d *InlineDispatcher) Dispatch(ctx context.Context, rec *Record) error {
	ctx = context.WithoutCancel(ctx)
	id := rec.ID

	d.wg.Add(1)
	go func() {
		defer d.wg.Done()
		if d.sem != nil {
			d.sem <- struct{}{}
			defer func() { <-d.sem }()
		}
		if err := d.exec.Execute(ctx, id); err != nil {
			d.logger.Error("inline scan execution failed", "scan_id", id, "error", err)
		}
	}()
	return nil
}

// Wait blocks until every dispatched scan has finished.
func (d *InlineDispatcher) Wait() {
	d.wg.Wait()
}
