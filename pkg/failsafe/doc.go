// Package failsafe implements the emergency restore path.
//
// The controller is the one concurrent signal that may interrupt the sync
// loop at any point, including mid-sleep. A trigger cancels in-flight work,
// issues a single best-effort restore of the authentic clock under an
// aggressive timeout, and records exactly one emergency event per trigger.
// Events stay queryable until an operator acknowledges them, so a failed
// restore is never silently lost.
package failsafe
