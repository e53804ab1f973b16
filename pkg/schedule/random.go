package schedule

import (
	"crypto/rand"
	"fmt"
	"math/big"
	"time"
)

// Generator defaults.
const (
	// DefaultHistorySize is how many past draws the generator avoids
	// repeating.
	DefaultHistorySize = 8

	// maxResamples bounds the collision re-draw loop. When the range is
	// narrower than the history a repeat can be unavoidable; after this
	// many tries the draw is accepted as-is.
	maxResamples = 16
)

// cryptoIntn returns a uniform int in [0, n) from crypto/rand.
func cryptoIntn(n int) (int, error) {
	v, err := rand.Int(rand.Reader, big.NewInt(int64(n)))
	if err != nil {
		return 0, fmt.Errorf("random draw: %w", err)
	}
	return int(v.Int64()), nil
}

// TimestampGenerator draws target timestamps uniformly from a TargetRange at
// one-second resolution, avoiding repeats of its recent outputs.
//
// The generator is not safe for concurrent use; the sync loop owns it.
type TimestampGenerator struct {
	history []Clock
	size    int
}

// NewTimestampGenerator creates a generator remembering historySize draws.
// historySize <= 0 uses DefaultHistorySize.
func NewTimestampGenerator(historySize int) *TimestampGenerator {
	if historySize <= 0 {
		historySize = DefaultHistorySize
	}
	return &TimestampGenerator{size: historySize}
}

// Next draws a target timestamp inside r on now's calendar date.
// A draw colliding with any of the remembered outputs is re-drawn a bounded
// number of times, then accepted.
func (g *TimestampGenerator) Next(now time.Time, r TargetRange) (time.Time, error) {
	var c Clock
	for i := 0; ; i++ {
		off, err := cryptoIntn(r.Span())
		if err != nil {
			return time.Time{}, err
		}
		c = r.Low + Clock(off)
		if i >= maxResamples || !g.seen(c) {
			break
		}
	}
	g.remember(c)
	return c.At(now), nil
}

// History returns a copy of the remembered draws, oldest first.
func (g *TimestampGenerator) History() []Clock {
	out := make([]Clock, len(g.history))
	copy(out, g.history)
	return out
}

func (g *TimestampGenerator) seen(c Clock) bool {
	for _, h := range g.history {
		if h == c {
			return true
		}
	}
	return false
}

func (g *TimestampGenerator) remember(c Clock) {
	g.history = append(g.history, c)
	if len(g.history) > g.size {
		g.history = g.history[len(g.history)-g.size:]
	}
}

// PickInterval draws a wait duration uniformly from [Min, Max] seconds.
// Stateless; every call is an independent draw.
func PickInterval(b IntervalBounds) (time.Duration, error) {
	off, err := cryptoIntn(b.Max - b.Min + 1)
	if err != nil {
		return 0, err
	}
	return time.Duration(b.Min+off) * time.Second, nil
}
