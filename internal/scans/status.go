package scans

import (
	"fmt"

	"github.com/hugh/scanhub/internal/database/models"
)

// Status is the lifecycle state of a scan record.
type Status = models.ScanStatus

const (
	StatusPending   = models.ScanStatusPending
	StatusRunning   = models.ScanStatusRunning
	StatusCompleted = models.ScanStatusCompleted
	StatusFailed    = models.ScanStatusFailed
)

// Event drives a lifecycle transition.
type Event string

const (
	EventStart   Event = "start"   // dispatch begins
	EventSucceed Event = "succeed" // backend returned a result
	EventFail    Event = "fail"    // backend or dispatch error
	EventExpire  Event = "expire"  // reconciliation found the scan stale
)

type transitionKey struct {
	from  Status
	event Event
}

var transitions = map[transitionKey]Status{
	{StatusPending, EventStart}:   StatusRunning,
	{StatusPending, EventFail}:    StatusFailed,
	{StatusRunning, EventSucceed}: StatusCompleted,
	{StatusRunning, EventFail}:    StatusFailed,
	{StatusRunning, EventExpire}:  StatusFailed,
}

// Transition returns the status reached by applying ev to from. Terminal
// statuses accept no event.
func Transition(from Status, ev Event) (Status, error) {
	if IsTerminal(from) {
		return from, fmt.Errorf("%w: %s is terminal", ErrInvalidTransition, from)
	}
	to, ok := transitions[transitionKey{from, ev}]
	if !ok {
		return from, fmt.Errorf("%w: %s on %s", ErrInvalidTransition, ev, from)
	}
	return to, nil
}

// IsTerminal reports whether s is completed or failed.
func IsTerminal(s Status) bool {
	return s == StatusCompleted || s == StatusFailed
}

// IsValidStatus reports whether s is one of the four lifecycle states.
func IsValidStatus(s Status) bool {
	switch s {
	case StatusPending, StatusRunning, StatusCompleted, StatusFailed:
		return true
	}
	return false
}
