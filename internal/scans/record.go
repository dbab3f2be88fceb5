package scans

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"
	"unicode"

	"github.com/google/uuid"
	"github.com/hugh/scanhub/internal/database/models"
	"github.com/hugh/scanhub/internal/scanner"
)

// ScanType selects the backend operation a scan dispatches to.
type ScanType = models.ScanType

const (
	ScanTypePort          = models.ScanTypePort
	ScanTypeVulnerability = models.ScanTypeVulnerability
	ScanTypeSSL           = models.ScanTypeSSL
)

// ScanTypes lists the accepted scan types in display order.
var ScanTypes = []ScanType{ScanTypePort, ScanTypeVulnerability, ScanTypeSSL}

const maxTargetLength = 2048

// Options carries per-type settings. Only port scans use Ports today.
type Options struct {
	Ports string `json:"ports,omitempty"`
}

// Record is a tracked scan. Status, Results, ErrorKind, ErrorMessage,
// StartedAt and CompletedAt are written only by the Manager.
type Record struct {
	ID           uuid.UUID       `json:"id"`
	OwnerID      uuid.UUID       `json:"owner_id"`
	Target       string          `json:"target"`
	ScanType     ScanType        `json:"scan_type"`
	Options      Options         `json:"options"`
	Status       Status          `json:"status"`
	Results      json.RawMessage `json:"results,omitempty"`
	ErrorKind    ErrorKind       `json:"error_kind,omitempty"`
	ErrorMessage string          `json:"error_message,omitempty"`
	CreatedAt    time.Time       `json:"created_at"`
	StartedAt    *time.Time      `json:"started_at,omitempty"`
	CompletedAt  *time.Time      `json:"completed_at,omitempty"`
}

// CheckInvariants verifies the relationships between status, results,
// failure reason and completion time.
func (r *Record) CheckInvariants() error {
	if !IsValidStatus(r.Status) {
		return fmt.Errorf("unknown status %q", r.Status)
	}
	if IsTerminal(r.Status) != (r.CompletedAt != nil) {
		return fmt.Errorf("status %s with completed_at set=%t", r.Status, r.CompletedAt != nil)
	}
	if (r.Status == StatusCompleted) != (len(r.Results) > 0) {
		return fmt.Errorf("status %s with results present=%t", r.Status, len(r.Results) > 0)
	}
	if (r.Status == StatusFailed) != (r.ErrorKind != "") {
		return fmt.Errorf("status %s with error kind %q", r.Status, r.ErrorKind)
	}
	if r.Status != StatusPending && r.StartedAt == nil && r.ErrorKind != KindUnreachable {
		// Only a dispatch handoff failure skips running.
		return fmt.Errorf("status %s without started_at", r.Status)
	}
	return nil
}

// RequestInput is a caller's request for a new scan.
type RequestInput struct {
	OwnerID  uuid.UUID
	Target   string
	ScanType ScanType
	Options  Options
}

// normalize validates in and returns the canonical form that is persisted.
func (in RequestInput) normalize() (RequestInput, error) {
	fields := make(map[string]string)

	if in.OwnerID == uuid.Nil {
		fields["owner_id"] = "is required"
	}

	in.Target = strings.TrimSpace(in.Target)
	switch {
	case in.Target == "":
		fields["target"] = "is required"
	case len(in.Target) > maxTargetLength:
		fields["target"] = fmt.Sprintf("must be at most %d characters", maxTargetLength)
	case strings.IndexFunc(in.Target, func(r rune) bool { return unicode.IsSpace(r) || unicode.IsControl(r) }) >= 0:
		fields["target"] = "must not contain whitespace or control characters"
	}

	in.ScanType = ScanType(strings.ToLower(strings.TrimSpace(string(in.ScanType))))
	switch in.ScanType {
	case ScanTypePort:
		ports, err := scanner.NormalizePorts(in.Options.Ports)
		if err != nil {
			fields["ports"] = err.Error()
		}
		in.Options.Ports = ports
	case ScanTypeVulnerability, ScanTypeSSL:
		in.Options.Ports = ""
	default:
		fields["scan_type"] = fmt.Sprintf("must be one of port, vulnerability, ssl; got %q", in.ScanType)
	}

	if len(fields) > 0 {
		return in, &ValidationError{Fields: fields}
	}
	return in, nil
}
