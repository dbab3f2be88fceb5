package scanner

import (
	"errors"
	"fmt"
)

// ErrorKind classifies why a backend call did not produce a result.
type ErrorKind string

const (
	KindInvalidRequest    ErrorKind = "invalid_request"
	KindTimeout           ErrorKind = "timeout"
	KindUnreachable       ErrorKind = "unreachable"
	KindBackendRejected   ErrorKind = "backend_rejected"
	KindMalformedResponse ErrorKind = "malformed_response"
)

// ScanError is the only error type returned by Client scan operations.
type ScanError struct {
	Kind    ErrorKind
	Op      string // ports, vulnerabilities, ssl, health
	Message string

	// Set for KindBackendRejected: the remote status and body, verbatim.
	StatusCode int
	Body       string

	Cause error
}

// Error implements the error interface.
func (e *ScanError) Error() string {
	if e.Kind == KindBackendRejected {
		return fmt.Sprintf("[%s] %s: backend returned %d: %s", e.Kind, e.Op, e.StatusCode, e.Body)
	}
	if e.Cause != nil {
		return fmt.Sprintf("[%s] %s: %s: %v", e.Kind, e.Op, e.Message, e.Cause)
	}
	return fmt.Sprintf("[%s] %s: %s", e.Kind, e.Op, e.Message)
}

// Unwrap returns the underlying error for error unwrapping.
func (e *ScanError) Unwrap() error {
	return e.Cause
}

// KindOf reports the classification of err, or "" if err is not a ScanError.
func KindOf(err error) ErrorKind {
	var se *ScanError
	if errors.As(err, &se) {
		return se.Kind
	}
	return ""
}

func invalidRequest(op, msg string) *ScanError {
	return &ScanError{Kind: KindInvalidRequest, Op: op, Message: msg}
}

func malformed(op, msg string, cause error) *ScanError {
	return &ScanError{Kind: KindMalformedResponse, Op: op, Message: msg, Cause: cause}
}
