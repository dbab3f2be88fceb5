package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/hugh/scanhub/internal/api/dto"
	"github.com/hugh/scanhub/internal/api/middleware"
	"github.com/hugh/scanhub/internal/scans"
)

// ScanService is the part of *scans.Manager the handlers use.
type ScanService interface {
	RequestScan(ctx context.Context, in scans.RequestInput) (*scans.Record, error)
	GetOwnedScan(ctx context.Context, ownerID, id uuid.UUID) (*scans.Record, error)
	ListScans(ctx context.Context, ownerID uuid.UUID, opts scans.ListOptions) ([]scans.Record, int64, error)
	Rescan(ctx context.Context, ownerID, id uuid.UUID) (*scans.Record, error)
}

var _ ScanService = (*scans.Manager)(nil)

type ScanHandler struct {
	scans  ScanService
	logger *slog.Logger
}

func NewScanHandler(svc ScanService, logger *slog.Logger) *ScanHandler {
	return &ScanHandler{scans: svc, logger: logger}
}

// List handles GET /api/v1/scans
func (h *ScanHandler) List(w http.ResponseWriter, r *http.Request) {
	userID := middleware.GetUserID(r.Context())

	page, _ := strconv.Atoi(r.URL.Query().Get("page"))
	perPage, _ := strconv.Atoi(r.URL.Query().Get("per_page"))
	pagination := dto.PaginationParams{Page: page, PerPage: perPage}
	pagination.Normalize()

	records, total, err := h.scans.ListScans(r.Context(), userID, scans.ListOptions{
		Status:   scans.Status(r.URL.Query().Get("status")),
		ScanType: scans.ScanType(r.URL.Query().Get("scan_type")),
		Limit:    pagination.PerPage,
		Offset:   pagination.Offset(),
	})
	if err != nil {
		h.logError(r, "listing scans", err)
		writeScanError(w, err)
		return
	}

	data := make([]dto.ScanResponse, len(records))
	for i := range records {
		data[i] = dto.NewScanResponse(&records[i])
	}

	writeJSON(w, http.StatusOK, dto.NewPaginatedResponse(data, total, pagination))
}

// Create handles POST /api/v1/scans
func (h *ScanHandler) Create(w http.ResponseWriter, r *http.Request) {
	userID := middleware.GetUserID(r.Context())

	var req dto.CreateScanRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, dto.ErrorResponse{Error: "Invalid request body"})
		return
	}

	if errs := req.Validate(); len(errs) > 0 {
		writeJSON(w, http.StatusBadRequest, dto.ErrorResponse{Error: "Validation failed", Details: errs})
		return
	}

	rec, err := h.scans.RequestScan(r.Context(), scans.RequestInput{
		OwnerID:  userID,
		Target:   req.Target,
		ScanType: scans.ScanType(req.ScanType),
		Options:  scans.Options{Ports: req.Ports},
	})
	if err != nil {
		h.logError(r, "requesting scan", err)
		writeScanError(w, err)
		return
	}

	writeJSON(w, http.StatusCreated, dto.NewScanResponse(rec))
}

// Get handles GET /api/v1/scans/{id}
func (h *ScanHandler) Get(w http.ResponseWriter, r *http.Request) {
	id, ok := scanID(w, r)
	if !ok {
		return
	}

	rec, err := h.scans.GetOwnedScan(r.Context(), middleware.GetUserID(r.Context()), id)
	if err != nil {
		h.logError(r, "getting scan", err)
		writeScanError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, dto.NewScanResponse(rec))
}

// Rescan handles POST /api/v1/scans/{id}/rescan
func (h *ScanHandler) Rescan(w http.ResponseWriter, r *http.Request) {
	id, ok := scanID(w, r)
	if !ok {
		return
	}

	rec, err := h.scans.Rescan(r.Context(), middleware.GetUserID(r.Context()), id)
	if err != nil {
		h.logError(r, "rescanning", err)
		writeScanError(w, err)
		return
	}

	writeJSON(w, http.StatusCreated, dto.NewScanResponse(rec))
}

func scanID(w http.ResponseWriter, r *http.Request) (uuid.UUID, bool) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		writeJSON(w, http.StatusBadRequest, dto.ErrorResponse{Error: "Invalid scan ID"})
		return uuid.Nil, false
	}
	return id, true
}

// logError logs only failures that are not the caller's fault.
func (h *ScanHandler) logError(r *http.Request, msg string, err error) {
	if isClientError(err) {
		return
	}
	h.logger.Error(msg, "user_id", middleware.GetUserID(r.Context()), "error", err)
}

func isClientError(err error) bool {
	for _, target := range []error{scans.ErrInvalidRequest, scans.ErrNotFound, scans.ErrConflict} {
		if errors.Is(err, target) {
			return true
		}
	}
	return false
}
