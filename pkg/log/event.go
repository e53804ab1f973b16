package log

import (
	"time"
)

// Event is one operational log event. CBOR encoding uses integer keys for
// compactness.
//
// Events carry aggregate, non-sensitive fields only: outcomes, durations and
// state names. The manipulated timestamp values themselves never enter the
// event stream.
type Event struct {
	// Timestamp when the event occurred (nanosecond precision).
	Timestamp time.Time `cbor:"1,keyasint"`

	// ConnID identifies the terminal session (UUID). Empty for events
	// outside any session.
	ConnID string `cbor:"2,keyasint,omitempty"`

	// Category classifies the event.
	Category Category `cbor:"3,keyasint"`

	// Type-specific payload (exactly one is set).
	StateChange *StateChangeEvent `cbor:"4,keyasint,omitempty"`
	Attempt     *AttemptEvent     `cbor:"5,keyasint,omitempty"`
	Heartbeat   *HeartbeatEvent   `cbor:"6,keyasint,omitempty"`
	Emergency   *EmergencyEvent   `cbor:"7,keyasint,omitempty"`
	Error       *ErrorEvent       `cbor:"8,keyasint,omitempty"`
}

// Category classifies the event type.
type Category uint8

const (
	// CategoryState is a link, loop or failsafe state transition.
	CategoryState Category = 0

	// CategoryAttempt is one sync attempt outcome.
	CategoryAttempt Category = 1

	// CategoryHeartbeat is a heartbeat probe result.
	CategoryHeartbeat Category = 2

	// CategoryEmergency is an emergency-stop lifecycle event.
	CategoryEmergency Category = 3

	// CategoryError is an error outside the other categories.
	CategoryError Category = 4
)

// String returns the category name.
func (c Category) String() string {
	switch c {
	case CategoryState:
		return "STATE"
	case CategoryAttempt:
		return "ATTEMPT"
	case CategoryHeartbeat:
		return "HEARTBEAT"
	case CategoryEmergency:
		return "EMERGENCY"
	case CategoryError:
		return "ERROR"
	default:
		return "UNKNOWN"
	}
}

// Entity identifies which component changed state.
type Entity uint8

const (
	// EntityLink is the terminal link.
	EntityLink Entity = 0

	// EntityLoop is the sync loop.
	EntityLoop Entity = 1

	// EntityFailsafe is the failsafe controller.
	EntityFailsafe Entity = 2
)

// String returns the entity name.
func (e Entity) String() string {
	switch e {
	case EntityLink:
		return "LINK"
	case EntityLoop:
		return "LOOP"
	case EntityFailsafe:
		return "FAILSAFE"
	default:
		return "UNKNOWN"
	}
}

// StateChangeEvent records a component state transition.
type StateChangeEvent struct {
	Entity   Entity `cbor:"1,keyasint"`
	OldState string `cbor:"2,keyasint"`
	NewState string `cbor:"3,keyasint"`
	Reason   string `cbor:"4,keyasint,omitempty"`
}

// AttemptEvent records the outcome of one sync attempt.
// The requested target value is deliberately absent.
type AttemptEvent struct {
	Outcome string        `cbor:"1,keyasint"`
	Latency time.Duration `cbor:"2,keyasint"`
	Retries int           `cbor:"3,keyasint,omitempty"`
}

// HeartbeatEvent records a heartbeat probe.
type HeartbeatEvent struct {
	OK      bool          `cbor:"1,keyasint"`
	Latency time.Duration `cbor:"2,keyasint,omitempty"`
	Missed  int           `cbor:"3,keyasint,omitempty"`
}

// EmergencyEvent records an emergency-stop lifecycle step.
type EmergencyEvent struct {
	EventID        string `cbor:"1,keyasint"`
	Reason         string `cbor:"2,keyasint"`
	RestoreOutcome string `cbor:"3,keyasint,omitempty"`
}

// ErrorEvent records an error with its context.
type ErrorEvent struct {
	Context string `cbor:"1,keyasint"`
	Message string `cbor:"2,keyasint"`
}

// NewStateChange builds a state-change event stamped now.
func NewStateChange(connID string, entity Entity, oldState, newState, reason string) Event {
	return Event{
		Timestamp: time.Now(),
		ConnID:    connID,
		Category:  CategoryState,
		StateChange: &StateChangeEvent{
			Entity:   entity,
			OldState: oldState,
			NewState: newState,
			Reason:   reason,
		},
	}
}

// NewAttempt builds a sync-attempt event stamped now.
func NewAttempt(connID, outcome string, latency time.Duration, retries int) Event {
	return Event{
		Timestamp: time.Now(),
		ConnID:    connID,
		Category:  CategoryAttempt,
		Attempt:   &AttemptEvent{Outcome: outcome, Latency: latency, Retries: retries},
	}
}

// NewHeartbeat builds a heartbeat event stamped now.
func NewHeartbeat(connID string, ok bool, latency time.Duration, missed int) Event {
	return Event{
		Timestamp: time.Now(),
		ConnID:    connID,
		Category:  CategoryHeartbeat,
		Heartbeat: &HeartbeatEvent{OK: ok, Latency: latency, Missed: missed},
	}
}

// NewEmergency builds an emergency event stamped now.
func NewEmergency(connID, eventID, reason, restoreOutcome string) Event {
	return Event{
		Timestamp: time.Now(),
		ConnID:    connID,
		Category:  CategoryEmergency,
		Emergency: &EmergencyEvent{EventID: eventID, Reason: reason, RestoreOutcome: restoreOutcome},
	}
}

// NewError builds an error event stamped now.
func NewError(connID, context, message string) Event {
	return Event{
		Timestamp: time.Now(),
		ConnID:    connID,
		Category:  CategoryError,
		Error:     &ErrorEvent{Context: context, Message: message},
	}
}
