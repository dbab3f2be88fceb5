package dto

import (
	"encoding/json"
	"time"

	"github.com/hugh/scanhub/internal/api/validation"
	"github.com/hugh/scanhub/internal/scans"
)

type CreateScanRequest struct {
	Target   string `json:"target" validate:"required,max=2048,scantarget"`
	ScanType string `json:"scan_type" validate:"required,oneof=port vulnerability ssl"`
	Ports    string `json:"ports,omitempty" validate:"omitempty,portrange"`
}

func (r CreateScanRequest) Validate() map[string]string {
	return validation.Struct(r)
}

// ScanResponse is the public view of a scan record. Results are present only
// for completed scans, error fields only for failed ones.
type ScanResponse struct {
	ID           string          `json:"id"`
	Target       string          `json:"target"`
	ScanType     string          `json:"scan_type"`
	Ports        string          `json:"ports,omitempty"`
	Status       string          `json:"status"`
	Results      json.RawMessage `json:"results,omitempty"`
	ErrorKind    string          `json:"error_kind,omitempty"`
	ErrorMessage string          `json:"error_message,omitempty"`
	CreatedAt    time.Time       `json:"created_at"`
	StartedAt    *time.Time      `json:"started_at,omitempty"`
	CompletedAt  *time.Time      `json:"completed_at,omitempty"`
}

func NewScanResponse(rec *scans.Record) ScanResponse {
	return ScanResponse{
		ID:           rec.ID.String(),
		Target:       rec.Target,
		ScanType:     string(rec.ScanType),
		Ports:        rec.Options.Ports,
		Status:       string(rec.Status),
		Results:      rec.Results,
		ErrorKind:    string(rec.ErrorKind),
		ErrorMessage: rec.ErrorMessage,
		CreatedAt:    rec.CreatedAt,
		StartedAt:    rec.StartedAt,
		CompletedAt:  rec.CompletedAt,
	}
}
