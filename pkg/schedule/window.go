package schedule

import (
	"errors"
	"fmt"
	"time"
)

// Validation errors. Any of these at startup is fatal: the loop never runs
// against a window it cannot reason about.
var (
	ErrWindowOrder   = errors.New("window start must be before end")
	ErrWindowClock   = errors.New("window bounds out of range")
	ErrEmptyDayMask  = errors.New("day mask selects no days")
	ErrRangeOrder    = errors.New("target range low must not exceed high")
	ErrRangeOutside  = errors.New("target range extends outside the window")
	ErrIntervalOrder = errors.New("interval bounds require 0 < min <= max")
)

// OperationWindow is the recurring daily span during which the loop may run.
type OperationWindow struct {
	// Start and End bound the window within a day, inclusive on both ends.
	Start Clock
	End   Clock

	// Days restricts the window to a set of weekdays.
	Days DayMask
}

// Validate checks the window invariants.
func (w OperationWindow) Validate() error {
	if !w.Start.Valid() || !w.End.Valid() {
		return ErrWindowClock
	}
	if w.Start >= w.End {
		return fmt.Errorf("%w: %v >= %v", ErrWindowOrder, w.Start, w.End)
	}
	if w.Days.Empty() {
		return ErrEmptyDayMask
	}
	return nil
}

// TargetRange is the sub-interval of the window from which synthetic
// timestamps are drawn.
type TargetRange struct {
	Low  Clock
	High Clock
}

// Validate checks the range invariants against its window.
func (r TargetRange) Validate(w OperationWindow) error {
	if !r.Low.Valid() || !r.High.Valid() {
		return ErrWindowClock
	}
	if r.Low > r.High {
		return fmt.Errorf("%w: %v > %v", ErrRangeOrder, r.Low, r.High)
	}
	if r.Low < w.Start || r.High > w.End {
		return fmt.Errorf("%w: [%v, %v] outside [%v, %v]", ErrRangeOutside,
			r.Low, r.High, w.Start, w.End)
	}
	return nil
}

// Span returns the number of one-second slots in the range.
func (r TargetRange) Span() int {
	return int(r.High-r.Low) + 1
}

// IntervalBounds bound the randomized wait between sync cycles.
type IntervalBounds struct {
	Min int // seconds
	Max int // seconds
}

// Validate checks the bounds invariant.
func (b IntervalBounds) Validate() error {
	if b.Min <= 0 || b.Min > b.Max {
		return fmt.Errorf("%w: [%d, %d]", ErrIntervalOrder, b.Min, b.Max)
	}
	return nil
}

// WindowClock answers "is now inside the operational window" and "how long
// until it opens or closes".
type WindowClock struct {
	win OperationWindow
}

// NewWindowClock creates a WindowClock. The window must already be validated.
func NewWindowClock(w OperationWindow) *WindowClock {
	return &WindowClock{win: w}
}

// Window returns the configured window.
func (wc *WindowClock) Window() OperationWindow {
	return wc.win
}

// Active reports whether now falls inside the window, inclusive of both
// boundaries.
func (wc *WindowClock) Active(now time.Time) bool {
	if !wc.win.Days.Contains(now.Weekday()) {
		return false
	}
	c := ClockOf(now)
	return c >= wc.win.Start && c <= wc.win.End
}

// UntilOpen returns the duration until the window next opens.
// Returns zero when now is already inside the window.
func (wc *WindowClock) UntilOpen(now time.Time) time.Duration {
	if wc.Active(now) {
		return 0
	}

	// Today's opening, if still ahead and today is an active day.
	if wc.win.Days.Contains(now.Weekday()) {
		open := wc.win.Start.At(now)
		if now.Before(open) {
			return open.Sub(now)
		}
	}

	// Otherwise scan forward; the mask is non-empty so at most seven days.
	for days := 1; days <= 7; days++ {
		day := now.AddDate(0, 0, days)
		if wc.win.Days.Contains(day.Weekday()) {
			return wc.win.Start.At(day).Sub(now)
		}
	}
	return 0 // unreachable for a validated window
}

// UntilClose returns the duration until the current window closes.
// Returns zero when now is outside the window.
func (wc *WindowClock) UntilClose(now time.Time) time.Duration {
	if !wc.Active(now) {
		return 0
	}
	return wc.win.End.At(now).Sub(now)
}

// GuardClose reports whether an attempt issued now risks landing after the
// window end. Any attempt within one worst-case round trip of the close is
// skipped rather than risked.
func (wc *WindowClock) GuardClose(now time.Time, worstRTT time.Duration) bool {
	if !wc.Active(now) {
		return true
	}
	return wc.UntilClose(now) <= worstRTT
}
