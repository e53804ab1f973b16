package schedule

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// Clock is a time of day in seconds since midnight.
type Clock int

// SecondsPerDay is the number of seconds in a civil day.
const SecondsPerDay = 24 * 60 * 60

// Clock errors.
var (
	ErrClockFormat = errors.New("invalid clock format, want HH:MM or HH:MM:SS")
	ErrClockRange  = errors.New("clock value out of range")
)

// ParseClock parses "HH:MM" or "HH:MM:SS".
func ParseClock(s string) (Clock, error) {
	var h, m, sec int
	switch strings.Count(s, ":") {
	case 1:
		if _, err := fmt.Sscanf(s, "%d:%d", &h, &m); err != nil {
			return 0, fmt.Errorf("%w: %q", ErrClockFormat, s)
		}
	case 2:
		if _, err := fmt.Sscanf(s, "%d:%d:%d", &h, &m, &sec); err != nil {
			return 0, fmt.Errorf("%w: %q", ErrClockFormat, s)
		}
	default:
		return 0, fmt.Errorf("%w: %q", ErrClockFormat, s)
	}
	if h < 0 || h > 23 || m < 0 || m > 59 || sec < 0 || sec > 59 {
		return 0, fmt.Errorf("%w: %q", ErrClockRange, s)
	}
	return Clock(h*3600 + m*60 + sec), nil
}

// MustParseClock is ParseClock that panics on error. For tests and constants.
func MustParseClock(s string) Clock {
	c, err := ParseClock(s)
	if err != nil {
		panic(err)
	}
	return c
}

// ClockOf returns the time of day of t.
func ClockOf(t time.Time) Clock {
	return Clock(t.Hour()*3600 + t.Minute()*60 + t.Second())
}

// String formats the clock as HH:MM:SS.
func (c Clock) String() string {
	return fmt.Sprintf("%02d:%02d:%02d", int(c)/3600, int(c)/60%60, int(c)%60)
}

// Valid reports whether c is a representable time of day.
func (c Clock) Valid() bool {
	return c >= 0 && c < SecondsPerDay
}

// At anchors the clock on the calendar date of t.
func (c Clock) At(t time.Time) time.Time {
	year, month, day := t.Date()
	return time.Date(year, month, day, int(c)/3600, int(c)/60%60, int(c)%60, 0, t.Location())
}

// DayMask is a bitmask of active weekdays, bit n = time.Weekday(n).
type DayMask uint8

// Common masks.
const (
	// Weekdays is Monday through Friday.
	Weekdays DayMask = 1<<time.Monday | 1<<time.Tuesday | 1<<time.Wednesday |
		1<<time.Thursday | 1<<time.Friday

	// MonSat is Monday through Saturday, the usual attendance schedule.
	MonSat DayMask = Weekdays | 1<<time.Saturday

	// EveryDay covers all seven days.
	EveryDay DayMask = MonSat | 1<<time.Sunday
)

// dayNames maps config names to weekdays. Three-letter forms only.
var dayNames = map[string]time.Weekday{
	"sun": time.Sunday, "mon": time.Monday, "tue": time.Tuesday,
	"wed": time.Wednesday, "thu": time.Thursday, "fri": time.Friday,
	"sat": time.Saturday,
}

// ErrUnknownDay indicates an unrecognized day name.
var ErrUnknownDay = errors.New("unknown day name")

// ParseDayMask builds a mask from day names ("mon", "tue", ...).
func ParseDayMask(names []string) (DayMask, error) {
	var m DayMask
	for _, n := range names {
		d, ok := dayNames[strings.ToLower(strings.TrimSpace(n))]
		if !ok {
			return 0, fmt.Errorf("%w: %q", ErrUnknownDay, n)
		}
		m |= 1 << d
	}
	return m, nil
}

// Contains reports whether the mask includes d.
func (m DayMask) Contains(d time.Weekday) bool {
	return m&(1<<d) != 0
}

// Empty reports whether no day is set.
func (m DayMask) Empty() bool {
	return m&EveryDay == 0
}

// Days lists the weekdays in the mask, Sunday first.
func (m DayMask) Days() []time.Weekday {
	var days []time.Weekday
	for d := time.Sunday; d <= time.Saturday; d++ {
		if m.Contains(d) {
			days = append(days, d)
		}
	}
	return days
}

// String returns a compact day list like "mon,tue,wed".
func (m DayMask) String() string {
	var parts []string
	for _, d := range m.Days() {
		parts = append(parts, strings.ToLower(d.String()[:3]))
	}
	return strings.Join(parts, ",")
}
