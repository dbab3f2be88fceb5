// Package events carries scan lifecycle notifications from the process that
// finishes a scan to any API process with listeners.
package events

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// Channel is the Redis pub/sub channel lifecycle events are published on.
const Channel = "scanhub:scan-events"

// Event is emitted on every persisted lifecycle transition.
type Event struct {
	ScanID    uuid.UUID `json:"scan_id"`
	OwnerID   uuid.UUID `json:"owner_id"`
	ScanType  string    `json:"scan_type"`
	Status    string    `json:"status"`
	ErrorKind string    `json:"error_kind,omitempty"`
	At        time.Time `json:"at"`
}

// Publisher publishes lifecycle events.
type Publisher interface {
	Publish(ctx context.Context, ev Event) error
}

// Subscriber streams lifecycle events until ctx is done or the returned
// cancel func is called.
type Subscriber interface {
	Subscribe(ctx context.Context) (<-chan Event, func(), error)
}

// Nop discards events.
type Nop struct{}

func (Nop) Publish(context.Context, Event) error { return nil }
