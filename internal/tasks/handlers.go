package tasks

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"github.com/google/uuid"
	"github.com/hibiken/asynq"
	"github.com/hugh/scanhub/internal/scans"
)

// Lifecycle is the part of *scans.Manager the worker drives.
type Lifecycle interface {
	Execute(ctx context.Context, id uuid.UUID) error
	ReconcileStale(ctx context.Context) (int, error)
}

type Handler struct {
	lifecycle Lifecycle
	logger    *slog.Logger
}

func NewHandler(lifecycle Lifecycle, logger *slog.Logger) *Handler {
	return &Handler{
		lifecycle: lifecycle,
		logger:    logger,
	}
}

func (h *Handler) RegisterHandlers(mux *asynq.ServeMux) {
	mux.HandleFunc(TypeScanDispatch, h.HandleScanDispatch)
	mux.HandleFunc(TypeReconcile, h.HandleReconcile)
}

func (h *Handler) HandleScanDispatch(ctx context.Context, t *asynq.Task) error {
	var payload DispatchPayload
	if err := json.Unmarshal(t.Payload(), &payload); err != nil {
		return fmt.Errorf("unmarshal payload: %v: %w", err, asynq.SkipRetry)
	}
	if payload.ScanID == uuid.Nil {
		return fmt.Errorf("payload without scan id: %w", asynq.SkipRetry)
	}

	h.logger.Info("executing scan", "scan_id", payload.ScanID, "scan_type", payload.ScanType)

	if err := h.lifecycle.Execute(ctx, payload.ScanID); err != nil {
		if errors.Is(err, scans.ErrNotFound) {
			h.logger.Warn("dispatched scan no longer exists", "scan_id", payload.ScanID)
			return fmt.Errorf("%v: %w", err, asynq.SkipRetry)
		}
		h.logger.Error("scan execution failed", "scan_id", payload.ScanID, "error", err)
		return err
	}
	return nil
}

func (h *Handler) HandleReconcile(ctx context.Context, _ *asynq.Task) error {
	n, err := h.lifecycle.ReconcileStale(ctx)
	if err != nil {
		h.logger.Error("reconciling stale scans", "error", err, "failed", n)
		return err
	}
	if n > 0 {
		h.logger.Warn("failed stale scans", "count", n)
	}
	return nil
}
