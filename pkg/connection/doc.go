// Package connection provides the retry machinery for the terminal link.
//
// This package handles:
//   - Exponential backoff for open/reconnect attempts
//   - Symmetric jitter on every delay
//   - A bounded retrier driving repeated open attempts under a context
//
// # Backoff Strategy
//
// Failed open attempts back off exponentially:
//
//	delay = min(base * 2^attempt, cap) +/- jitter
//
// with the defaults base = 1s, cap = 60s, jitter = 25% of the base delay.
// The delay resets to base on a successful open.
//
// The sync loop uses the same Retrier for the initial session open and for
// mid-window reconnects, so both follow the identical delay schedule. When
// the attempt budget is exhausted the retrier returns the last open error
// wrapped in ErrRetriesExhausted and the caller escalates (degraded link,
// faulted loop).
package connection
