// internal/events/types.go
package events

import (
	"time"
)

// EventType represents the type of event.
type EventType string

const (
	// SwapAdmitted fires when the Control Surface accepts an initiate
	// request and records the swap as pending.
	SwapAdmitted EventType = "swap.admitted"
	// SwapCompleted fires once the finalize transfer is confirmed and the
	// swap's status reaches completed.
	SwapCompleted EventType = "swap.completed"
	// SwapFailed fires when any step in the lifecycle cannot proceed.
	SwapFailed EventType = "swap.failed"
	// SwapRecovered fires when a recovery consume succeeds.
	SwapRecovered EventType = "swap.recovered"
)

// Event is the base interface for all events.
type Event interface {
	Type() EventType
	Timestamp() time.Time
}

// BaseEvent provides common fields for all events.
type BaseEvent struct {
	EventType EventType
	EventTime time.Time
}

// Type returns the event type.
func (e BaseEvent) Type() EventType {
	return e.EventType
}

// Timestamp returns when the event occurred.
func (e BaseEvent) Timestamp() time.Time {
	return e.EventTime
}

// SwapEvent is emitted at each lifecycle transition of a swap. Detail
// carries a short human-readable payload (a signature, an error message);
// structured fields stay minimal since the Registry, not the event bus, is
// the source of truth for swap state.
type SwapEvent struct {
	BaseEvent
	TransactionID string
	Detail        string
}
