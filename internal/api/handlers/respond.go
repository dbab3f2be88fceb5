package handlers

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/hugh/scanhub/internal/api/dto"
	"github.com/hugh/scanhub/internal/scans"
)

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// writeScanError maps lifecycle errors onto HTTP statuses.
func writeScanError(w http.ResponseWriter, err error) {
	var verr *scans.ValidationError
	switch {
	case errors.As(err, &verr):
		writeJSON(w, http.StatusBadRequest, dto.ErrorResponse{Error: "Validation failed", Details: verr.Fields})
	case errors.Is(err, scans.ErrInvalidRequest):
		writeJSON(w, http.StatusBadRequest, dto.ErrorResponse{Error: "Invalid scan request"})
	case errors.Is(err, scans.ErrNotFound):
		writeJSON(w, http.StatusNotFound, dto.ErrorResponse{Error: "Scan not found"})
	case errors.Is(err, scans.ErrConflict):
		writeJSON(w, http.StatusConflict, dto.ErrorResponse{Error: "Scan is not finished"})
	default:
		writeJSON(w, http.StatusInternalServerError, dto.ErrorResponse{Error: "Internal server error"})
	}
}
