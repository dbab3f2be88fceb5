package scans

import (
	"errors"

	"github.com/hugh/scanhub/internal/scanner"
)

var (
	ErrInvalidRequest    = errors.New("invalid scan request")
	ErrNotFound          = errors.New("scan not found")
	ErrConflict          = errors.New("scan status changed concurrently")
	ErrInvalidTransition = errors.New("invalid status transition")
)

// ErrorKind classifies why a scan failed. The backend kinds come from the
// scanner client; Stale is lifecycle-only.
type ErrorKind = scanner.ErrorKind

const (
	KindInvalidRequest    = scanner.KindInvalidRequest
	KindTimeout           = scanner.KindTimeout
	KindUnreachable       = scanner.KindUnreachable
	KindBackendRejected   = scanner.KindBackendRejected
	KindMalformedResponse = scanner.KindMalformedResponse

	KindStale ErrorKind = "stale"
)

// ValidationError lists the fields that made a request invalid. It matches
// ErrInvalidRequest with errors.Is.
type ValidationError struct {
	Fields map[string]string
}

func (e *ValidationError) Error() string {
	msg := "invalid scan request"
	for _, f := range []string{"owner_id", "target", "scan_type", "ports", "status"} {
		if reason, ok := e.Fields[f]; ok {
			msg += ": " + f + " " + reason
			break
		}
	}
	return msg
}

func (e *ValidationError) Is(target error) bool {
	return target == ErrInvalidRequest
}
