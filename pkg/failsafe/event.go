package failsafe

import "time"

// RestoreOutcome is the result of an emergency restore attempt.
type RestoreOutcome uint8

const (
	// OutcomePending indicates the restore has not completed yet.
	OutcomePending RestoreOutcome = iota

	// OutcomeRestored indicates the authentic clock was pushed.
	OutcomeRestored

	// OutcomeFailed indicates the restore could not be delivered.
	OutcomeFailed
)

// String returns a human-readable outcome name.
func (o RestoreOutcome) String() string {
	switch o {
	case OutcomePending:
		return "PENDING"
	case OutcomeRestored:
		return "RESTORED"
	case OutcomeFailed:
		return "FAILED"
	default:
		return "UNKNOWN"
	}
}

// EmergencyEvent records one trigger of the fail-safe path.
type EmergencyEvent struct {
	// ID uniquely identifies the event.
	ID string

	// TriggeredAt is when the trigger fired.
	TriggeredAt time.Time

	// Reason is the operator- or system-supplied trigger cause.
	Reason string

	// RestoreOutcome is the restore result, Pending until resolved.
	RestoreOutcome RestoreOutcome

	// ResolvedAt is when the restore attempt finished. Zero while pending.
	ResolvedAt time.Time

	// RestoreError carries the failure detail when the outcome is Failed.
	RestoreError string
}

// Resolved reports whether the restore attempt has finished.
func (e EmergencyEvent) Resolved() bool {
	return e.RestoreOutcome != OutcomePending
}
