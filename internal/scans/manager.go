// Package scans owns the scan lifecycle: validating requests, persisting
// records, dispatching them to the scanner backend and recording the outcome.
package scans

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/hugh/scanhub/internal/events"
	"github.com/hugh/scanhub/internal/scanner"
	"github.com/hugh/scanhub/pkg/util"
)

const (
	DefaultStaleAfter = 90 * time.Second
	DefaultPageSize   = 20
	MaxPageSize       = 100

	reconcileBatch = 100
)

// Backend is the remote scanning service. *scanner.Client implements it.
type Backend interface {
	ScanPorts(ctx context.Context, target, portRange string) (*scanner.PortScanResult, error)
	ScanVulnerabilities(ctx context.Context, target string) (*scanner.VulnScanResult, error)
	ScanTLS(ctx context.Context, target string) (*scanner.TLSScanResult, error)
}

// payloader is implemented by backend results that carry the response body
// they were decoded from.
type payloader interface {
	Payload() json.RawMessage
}

// Recorder receives lifecycle measurements.
type Recorder interface {
	ScanRequested(scanType ScanType)
	ScanFinished(scanType ScanType, status Status, kind ErrorKind, elapsed time.Duration)
	BackendCall(scanType ScanType, kind ErrorKind, elapsed time.Duration)
	StaleReconciled(n int)
}

type nopRecorder struct{}

func (nopRecorder) ScanRequested(ScanType)                                  {}
func (nopRecorder) ScanFinished(ScanType, Status, ErrorKind, time.Duration) {}
func (nopRecorder) BackendCall(ScanType, ErrorKind, time.Duration)          {}
func (nopRecorder) StaleReconciled(int)                                     {}

// ManagerOptions configures a Manager. Zero values select defaults.
type ManagerOptions struct {
	StaleAfter  time.Duration
	Dispatcher  Dispatcher
	Concurrency int // inline dispatcher only
	Notifier    events.Publisher
	Metrics     Recorder
	Logger      *slog.Logger
	Clock       func() time.Time
}

// Manager drives scan records through pending, running and a terminal state.
// It is safe for concurrent use; per-record ordering comes from the store's
// conditional updates.
type Manager struct {
	store      Store
	backend    Backend
	dispatcher Dispatcher
	notifier   events.Publisher
	metrics    Recorder
	logger     *slog.Logger
	now        func() time.Time
	staleAfter time.Duration
}

// NewManager creates a manager. Without a Dispatcher, scans run inline on
// goroutines of this process.
func NewManager(store Store, backend Backend, opts ManagerOptions) *Manager {
	m := &Manager{
		store:      store,
		backend:    backend,
		dispatcher: opts.Dispatcher,
		notifier:   opts.Notifier,
		metrics:    opts.Metrics,
		logger:     opts.Logger,
		now:        opts.Clock,
		staleAfter: opts.StaleAfter,
	}
	if m.notifier == nil {
		m.notifier = events.Nop{}
	}
	if m.metrics == nil {
		m.metrics = nopRecorder{}
	}
	if m.logger == nil {
		m.logger = util.NewDiscardLogger()
	}
	if m.now == nil {
		m.now = func() time.Time { return time.Now().UTC() }
	}
	if m.staleAfter <= 0 {
		m.staleAfter = DefaultStaleAfter
	}
	if m.dispatcher == nil {
		m.dispatcher = NewInlineDispatcher(m, opts.Concurrency, m.logger)
	}
	return m
}

// StaleAfter is how long a scan may stay running before reconciliation
// fails it.
func (m *Manager) StaleAfter() time.Duration {
	return m.staleAfter
}

// Wait blocks until inline scans have finished. It returns immediately for
// queue-backed dispatchers.
func (m *Manager) Wait() {
	if w, ok := m.dispatcher.(interface{ Wait() }); ok {
		w.Wait()
	}
}

// RequestScan validates in, persists a pending record and dispatches it. If
// the handoff fails the record is failed as unreachable and returned in that
// state with a nil error: the request itself was accepted.
func (m *Manager) RequestScan(ctx context.Context, in RequestInput) (*Record, error) {
	in, err := in.normalize()
	if err != nil {
		return nil, err
	}

	rec := &Record{
		OwnerID:   in.OwnerID,
		Target:    in.Target,
		ScanType:  in.ScanType,
		Options:   in.Options,
		Status:    StatusPending,
		CreatedAt: m.now(),
	}
	if _, err := m.store.Create(ctx, rec); err != nil {
		return nil, fmt.Errorf("requesting scan: %w", err)
	}

	m.metrics.ScanRequested(rec.ScanType)
	m.publish(ctx, rec)
	m.logger.Info("scan requested",
		"scan_id", rec.ID,
		"owner_id", rec.OwnerID,
		"scan_type", rec.ScanType,
		"target", rec.Target,
	)

	if err := m.dispatcher.Dispatch(ctx, rec.clone()); err != nil {
		m.logger.Error("scan dispatch failed", "scan_id", rec.ID, "error", err)
		if ferr := m.failUndispatched(ctx, rec, err); ferr != nil {
			return nil, ferr
		}
	}

	return rec, nil
}

func (m *Manager) failUndispatched(ctx context.Context, rec *Record, cause error) error {
	to, err := Transition(StatusPending, EventFail)
	if err != nil {
		return err
	}
	now := m.now()
	ch := Changes{
		Status:       to,
		ErrorKind:    KindUnreachable,
		ErrorMessage: "dispatch: " + cause.Error(),
		CompletedAt:  &now,
	}

	err = m.store.Update(context.WithoutCancel(ctx), rec.ID, StatusPending, ch)
	switch {
	case errors.Is(err, ErrConflict):
		// Picked up despite the error; the record is no longer ours to fail.
		return nil
	case err != nil:
		return fmt.Errorf("failing undispatched scan %s: %w", rec.ID, err)
	}

	rec.apply(ch)
	m.metrics.ScanFinished(rec.ScanType, rec.Status, rec.ErrorKind, 0)
	m.publish(ctx, rec)
	return nil
}

// Execute runs a pending scan: it marks the record running, calls the
// backend once and records the outcome. Records that are not pending are
// left untouched, so redelivered dispatches are harmless. Backend failures
// are stored on the record, not returned.
func (m *Manager) Execute(ctx context.Context, id uuid.UUID) error {
	rec, err := m.store.Get(ctx, id)
	if err != nil {
		return fmt.Errorf("loading scan %s: %w", id, err)
	}
	if rec.Status != StatusPending {
		m.logger.Info("scan already dispatched, skipping", "scan_id", id, "status", rec.Status)
		return nil
	}

	to, err := Transition(rec.Status, EventStart)
	if err != nil {
		return err
	}
	started := m.now()
	start := Changes{Status: to, StartedAt: &started}
	if err := m.store.Update(ctx, id, StatusPending, start); err != nil {
		if errors.Is(err, ErrConflict) {
			m.logger.Info("scan claimed concurrently, skipping", "scan_id", id)
			return nil
		}
		return fmt.Errorf("starting scan %s: %w", id, err)
	}
	rec.apply(start)
	m.publish(ctx, rec)
	m.logger.Info("scan started", "scan_id", id, "scan_type", rec.ScanType, "target", rec.Target)

	callStart := time.Now()
	results, callErr := m.invoke(ctx, rec)
	kind := kindOf(callErr)
	m.metrics.BackendCall(rec.ScanType, kind, time.Since(callStart))

	var ch Changes
	completed := m.now()
	if callErr != nil {
		to, err = Transition(rec.Status, EventFail)
		ch = Changes{Status: to, ErrorKind: kind, ErrorMessage: callErr.Error(), CompletedAt: &completed}
	} else {
		to, err = Transition(rec.Status, EventSucceed)
		ch = Changes{Status: to, Results: results, CompletedAt: &completed}
	}
	if err != nil {
		return err
	}

	return m.finish(ctx, rec, StatusRunning, ch)
}

// finish persists a terminal change conditional on the record still being in
// from. It survives cancellation of ctx so a scan never stays running just
// because its caller went away.
func (m *Manager) finish(ctx context.Context, rec *Record, from Status, ch Changes) error {
	ctx = context.WithoutCancel(ctx)
	ch = m.checkOutcome(rec, ch)
	if err := m.store.Update(ctx, rec.ID, from, ch); err != nil {
		if errors.Is(err, ErrConflict) {
			m.logger.Warn("scan changed before its outcome was recorded", "scan_id", rec.ID, "outcome", ch.Status)
			return nil
		}
		return fmt.Errorf("recording outcome of scan %s: %w", rec.ID, err)
	}
	rec.apply(ch)

	var elapsed time.Duration
	if rec.StartedAt != nil && rec.CompletedAt != nil {
		elapsed = rec.CompletedAt.Sub(*rec.StartedAt)
	}
	m.metrics.ScanFinished(rec.ScanType, rec.Status, rec.ErrorKind, elapsed)
	m.publish(ctx, rec)

	if rec.Status == StatusFailed {
		m.logger.Warn("scan failed",
			"scan_id", rec.ID,
			"scan_type", rec.ScanType,
			"error_kind", rec.ErrorKind,
			"error", rec.ErrorMessage,
		)
	} else {
		m.logger.Info("scan completed", "scan_id", rec.ID, "scan_type", rec.ScanType, "elapsed", elapsed)
	}
	return nil
}

// checkOutcome returns ch unless applying it would leave the record
// inconsistent, in which case the scan fails instead.
func (m *Manager) checkOutcome(rec *Record, ch Changes) Changes {
	next := rec.clone()
	next.apply(ch)
	err := next.CheckInvariants()
	if err == nil || ch.Status == StatusFailed {
		return ch
	}

	m.logger.Error("scan outcome violates record invariants", "scan_id", rec.ID, "outcome", ch.Status, "error", err)
	to, terr := Transition(rec.Status, EventFail)
	if terr != nil {
		return ch
	}
	done := ch.CompletedAt
	if done == nil {
		now := m.now()
		done = &now
	}
	return Changes{
		Status:       to,
		ErrorKind:    KindMalformedResponse,
		ErrorMessage: "inconsistent outcome: " + err.Error(),
		CompletedAt:  done,
	}
}

// invoke calls the backend operation matching the record's type and returns
// the payload to store.
func (m *Manager) invoke(ctx context.Context, rec *Record) (json.RawMessage, error) {
	var (
		result any
		err    error
	)
	switch rec.ScanType {
	case ScanTypePort:
		var r *scanner.PortScanResult
		if r, err = m.backend.ScanPorts(ctx, rec.Target, rec.Options.Ports); r != nil {
			result = r
		}
	case ScanTypeVulnerability:
		var r *scanner.VulnScanResult
		if r, err = m.backend.ScanVulnerabilities(ctx, rec.Target); r != nil {
			result = r
		}
	case ScanTypeSSL:
		var r *scanner.TLSScanResult
		if r, err = m.backend.ScanTLS(ctx, rec.Target); r != nil {
			result = r
		}
	default:
		return nil, &scanner.ScanError{Kind: KindInvalidRequest, Op: string(rec.ScanType), Message: "unknown scan type"}
	}
	if err != nil {
		return nil, err
	}
	if result == nil {
		return nil, &scanner.ScanError{Kind: KindMalformedResponse, Op: string(rec.ScanType), Message: "backend returned no result"}
	}

	// Keep the backend's body as sent. Results built in code are encoded.
	if p, ok := result.(payloader); ok {
		if raw := p.Payload(); len(raw) > 0 {
			return raw, nil
		}
	}
	data, err := json.Marshal(result)
	if err != nil {
		return nil, &scanner.ScanError{Kind: KindMalformedResponse, Op: string(rec.ScanType), Message: "encoding result", Cause: err}
	}
	return data, nil
}

// kindOf classifies a backend error. Errors that are not ScanErrors come
// from a misbehaving Backend and are treated as the service being
// unreachable.
func kindOf(err error) ErrorKind {
	if err == nil {
		return ""
	}
	if kind := scanner.KindOf(err); kind != "" {
		return kind
	}
	return KindUnreachable
}

// GetScanStatus returns the current record.
func (m *Manager) GetScanStatus(ctx context.Context, id uuid.UUID) (*Record, error) {
	rec, err := m.store.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	return rec, nil
}

// GetOwnedScan is GetScanStatus restricted to ownerID. Other owners' scans
// are reported as not found.
func (m *Manager) GetOwnedScan(ctx context.Context, ownerID, id uuid.UUID) (*Record, error) {
	rec, err := m.store.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if rec.OwnerID != ownerID {
		return nil, ErrNotFound
	}
	return rec, nil
}

// ListScans returns one page of ownerID's scans, newest first, and the total
// number matching the filters.
func (m *Manager) ListScans(ctx context.Context, ownerID uuid.UUID, opts ListOptions) ([]Record, int64, error) {
	if opts.Status != "" && !IsValidStatus(opts.Status) {
		return nil, 0, &ValidationError{Fields: map[string]string{"status": fmt.Sprintf("unknown status %q", opts.Status)}}
	}
	if opts.ScanType != "" && !isScanType(opts.ScanType) {
		return nil, 0, &ValidationError{Fields: map[string]string{"scan_type": fmt.Sprintf("unknown scan type %q", opts.ScanType)}}
	}
	if opts.Limit <= 0 {
		opts.Limit = DefaultPageSize
	}
	if opts.Limit > MaxPageSize {
		opts.Limit = MaxPageSize
	}
	if opts.Offset < 0 {
		opts.Offset = 0
	}
	return m.store.ListByOwner(ctx, ownerID, opts)
}

// Rescan requests a new scan with the target, type and options of a finished
// one. The source record is not modified.
func (m *Manager) Rescan(ctx context.Context, ownerID, id uuid.UUID) (*Record, error) {
	src, err := m.GetOwnedScan(ctx, ownerID, id)
	if err != nil {
		return nil, err
	}
	if !IsTerminal(src.Status) {
		return nil, fmt.Errorf("%w: scan %s is still %s", ErrConflict, id, src.Status)
	}
	return m.RequestScan(ctx, RequestInput{
		OwnerID:  ownerID,
		Target:   src.Target,
		ScanType: src.ScanType,
		Options:  src.Options,
	})
}

// ReconcileStale fails every scan that has been running longer than the
// stale threshold and returns how many it failed. Lost scans are not
// retried.
func (m *Manager) ReconcileStale(ctx context.Context) (int, error) {
	before := m.now().Add(-m.staleAfter)
	msg := fmt.Sprintf("no result within %s", m.staleAfter)
	failed := 0

	for {
		stale, err := m.store.ListStale(ctx, before, reconcileBatch)
		if err != nil {
			return failed, fmt.Errorf("reconciling stale scans: %w", err)
		}

		for i := range stale {
			rec := &stale[i]
			to, err := Transition(rec.Status, EventExpire)
			if err != nil {
				return failed, err
			}
			now := m.now()
			ch := Changes{Status: to, ErrorKind: KindStale, ErrorMessage: msg, CompletedAt: &now}
			if err := m.store.Update(ctx, rec.ID, StatusRunning, ch); err != nil {
				if errors.Is(err, ErrConflict) {
					continue
				}
				return failed, fmt.Errorf("failing stale scan %s: %w", rec.ID, err)
			}
			rec.apply(ch)
			m.metrics.ScanFinished(rec.ScanType, rec.Status, rec.ErrorKind, now.Sub(*rec.StartedAt))
			m.publish(ctx, rec)
			m.logger.Warn("scan marked stale", "scan_id", rec.ID, "started_at", rec.StartedAt)
			failed++
		}

		if len(stale) < reconcileBatch {
			break
		}
	}

	m.metrics.StaleReconciled(failed)
	return failed, nil
}

func (m *Manager) publish(ctx context.Context, rec *Record) {
	ev := events.Event{
		ScanID:    rec.ID,
		OwnerID:   rec.OwnerID,
		ScanType:  string(rec.ScanType),
		Status:    string(rec.Status),
		ErrorKind: string(rec.ErrorKind),
		At:        m.now(),
	}
	if err := m.notifier.Publish(context.WithoutCancel(ctx), ev); err != nil {
		m.logger.Warn("publishing scan event", "scan_id", rec.ID, "status", rec.Status, "error", err)
	}
}

func (r *Record) apply(ch Changes) {
	if ch.Status != "" {
		r.Status = ch.Status
	}
	if len(ch.Results) > 0 {
		r.Results = ch.Results
	}
	if ch.ErrorKind != "" {
		r.ErrorKind = ch.ErrorKind
	}
	if ch.ErrorMessage != "" {
		r.ErrorMessage = ch.ErrorMessage
	}
	if ch.StartedAt != nil {
		r.StartedAt = ch.StartedAt
	}
	if ch.CompletedAt != nil {
		r.CompletedAt = ch.CompletedAt
	}
}

func (r *Record) clone() *Record {
	c := *r
	return &c
}

func isScanType(t ScanType) bool {
	for _, st := range ScanTypes {
		if st == t {
			return true
		}
	}
	return false
}
