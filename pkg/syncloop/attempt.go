package syncloop

import "time"

// Outcome classifies one synchronization attempt.
type Outcome uint8

const (
	// OutcomeSuccess indicates the terminal acknowledged the push.
	OutcomeSuccess Outcome = iota

	// OutcomeTimeout indicates the terminal did not answer in time.
	OutcomeTimeout

	// OutcomeProtocolError indicates a malformed or unexpected answer.
	OutcomeProtocolError

	// OutcomeRejected indicates the terminal refused the command.
	OutcomeRejected
)

// String returns a human-readable outcome name.
func (o Outcome) String() string {
	switch o {
	case OutcomeSuccess:
		return "SUCCESS"
	case OutcomeTimeout:
		return "TIMEOUT"
	case OutcomeProtocolError:
		return "PROTOCOL_ERROR"
	case OutcomeRejected:
		return "REJECTED"
	default:
		return "UNKNOWN"
	}
}

// SyncAttempt records one push. The requested target stays in this
// in-memory ring only; it is never written to the event log.
type SyncAttempt struct {
	RequestedTarget time.Time
	IssuedAt        time.Time
	Outcome         Outcome
	Latency         time.Duration
	Retries         int
}

// attemptRing is a bounded ring of the most recent attempts.
type attemptRing struct {
	buf  []SyncAttempt
	next int
	full bool
}

func newAttemptRing(size int) *attemptRing {
	return &attemptRing{buf: make([]SyncAttempt, size)}
}

func (r *attemptRing) add(a SyncAttempt) {
	r.buf[r.next] = a
	r.next++
	if r.next == len(r.buf) {
		r.next = 0
		r.full = true
	}
}

func (r *attemptRing) len() int {
	if r.full {
		return len(r.buf)
	}
	return r.next
}

// last returns the most recent attempt, if any.
func (r *attemptRing) last() (SyncAttempt, bool) {
	if r.len() == 0 {
		return SyncAttempt{}, false
	}
	i := r.next - 1
	if i < 0 {
		i = len(r.buf) - 1
	}
	return r.buf[i], true
}

// snapshot returns the attempts oldest first.
func (r *attemptRing) snapshot() []SyncAttempt {
	n := r.len()
	out := make([]SyncAttempt, 0, n)
	start := 0
	if r.full {
		start = r.next
	}
	for i := 0; i < n; i++ {
		out = append(out, r.buf[(start+i)%len(r.buf)])
	}
	return out
}
