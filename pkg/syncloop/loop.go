package syncloop

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/izzi01/zk-communist/pkg/connection"
	"github.com/izzi01/zk-communist/pkg/log"
	"github.com/izzi01/zk-communist/pkg/schedule"
	"github.com/izzi01/zk-communist/pkg/terminal"
)

// Loop defaults.
const (
	// DefaultFailureThreshold is the consecutive-failure count that
	// faults the loop.
	DefaultFailureThreshold = 5

	// DefaultCommandRetries is the in-place retry count for one push.
	DefaultCommandRetries = 2

	// DefaultWorstRTT is the worst-case exchange time assumed by the
	// closing guard.
	DefaultWorstRTT = 2 * time.Second

	// DefaultAttemptHistory is the attempt ring size.
	DefaultAttemptHistory = 64
)

// ErrFaulted is returned by Run when the loop gives up.
var ErrFaulted = errors.New("sync loop faulted")

// TerminalLink is what the loop needs from the terminal session.
type TerminalLink interface {
	Open(ctx context.Context) error
	SetClock(ctx context.Context, t time.Time) error
	Close(ctx context.Context) error
	State() terminal.State
	ConnID() string
}

// Config configures a Loop.
type Config struct {
	// Window is the daily operational window.
	Window schedule.OperationWindow

	// Range is the target clock range inside the window.
	Range schedule.TargetRange

	// Intervals bounds the inter-cycle sleep.
	Intervals schedule.IntervalBounds

	// HistorySize is the no-repeat history of the timestamp generator.
	// Zero takes the generator default.
	HistorySize int

	// AttemptHistory is the attempt ring size. Zero takes the default.
	AttemptHistory int

	// FailureThreshold faults the loop after this many consecutive
	// failed pushes. Zero takes the default.
	FailureThreshold int

	// CommandRetries is the in-place retry count per push. Zero takes
	// the default.
	CommandRetries int

	// WorstRTT feeds the closing guard. Zero takes the default.
	WorstRTT time.Duration

	// Reconnect configures session establishment retries.
	Reconnect connection.RetrierConfig

	// Logger receives operational events. Nil means no logging.
	Logger log.Logger
}

// Validate checks the schedule parameters. A loop never starts on an
// invalid configuration.
func (c Config) Validate() error {
	if err := c.Window.Validate(); err != nil {
		return err
	}
	if err := c.Range.Validate(c.Window); err != nil {
		return err
	}
	return c.Intervals.Validate()
}

// Counters are monotonic operation counts for reporting.
type Counters struct {
	Cycles     uint64
	Successes  uint64
	Failures   uint64
	Reconnects uint64
}

// Status is a point-in-time snapshot of the loop.
type Status struct {
	State               State
	Window              schedule.OperationWindow
	WindowActive        bool
	ConsecutiveFailures int
	Counters            Counters
	LastAttempt         *SyncAttempt
	NextWake            time.Time
}

// Loop drives the synchronization cycle for one terminal.
type Loop struct {
	cfg     Config
	link    TerminalLink
	wc      *schedule.WindowClock
	gen     *schedule.TimestampGenerator
	retrier *connection.Retrier
	logger  log.Logger

	// now and sleepFn are the time sources, replaced in tests.
	now     func() time.Time
	sleepFn func(ctx context.Context, d time.Duration) error

	wake chan struct{}

	mu          sync.Mutex
	state       State
	attempts    *attemptRing
	counters    Counters
	consecFails int
	nextWake    time.Time
	cancel      context.CancelFunc
	interrupted bool
}

// NewLoop creates a Loop. The configuration must validate.
func NewLoop(link TerminalLink, cfg Config) (*Loop, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if cfg.FailureThreshold <= 0 {
		cfg.FailureThreshold = DefaultFailureThreshold
	}
	if cfg.CommandRetries <= 0 {
		cfg.CommandRetries = DefaultCommandRetries
	}
	if cfg.WorstRTT <= 0 {
		cfg.WorstRTT = DefaultWorstRTT
	}
	if cfg.AttemptHistory <= 0 {
		cfg.AttemptHistory = DefaultAttemptHistory
	}
	if cfg.Logger == nil {
		cfg.Logger = log.NoopLogger{}
	}

	return &Loop{
		cfg:      cfg,
		link:     link,
		wc:       schedule.NewWindowClock(cfg.Window),
		gen:      schedule.NewTimestampGenerator(cfg.HistorySize),
		retrier:  connection.NewRetrier(cfg.Reconnect),
		logger:   cfg.Logger,
		now:      time.Now,
		wake:     make(chan struct{}, 1),
		state:    StateIdle,
		attempts: newAttemptRing(cfg.AttemptHistory),
	}, nil
}

// Run drives the loop until the context is cancelled or the loop faults.
func (l *Loop) Run(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	l.mu.Lock()
	l.cancel = cancel
	l.interrupted = false
	l.mu.Unlock()

	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		now := l.now()
		if !l.wc.Active(now) {
			l.setState(StateIdle, "window closed")
			wait := l.wc.UntilOpen(now)
			l.setNextWake(now.Add(wait))
			if err := l.sleep(ctx, wait); err != nil {
				return err
			}
			continue
		}

		if err := l.activate(ctx); err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			l.setState(StateFaulted, err.Error())
			return fmt.Errorf("%w: %w", ErrFaulted, err)
		}

		err := l.runWindow(ctx)
		if l.wasInterrupted() {
			// An emergency interrupt hands the session to the restore
			// path; Restore pushes the authentic clock and closes the
			// link. Tearing down here as well would race it.
			return ctx.Err()
		}
		l.deactivate()
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			l.setState(StateFaulted, err.Error())
			return fmt.Errorf("%w: %w", ErrFaulted, err)
		}
	}
}

// Wake forces an immediate re-evaluation of the window.
func (l *Loop) Wake() {
	select {
	case l.wake <- struct{}{}:
	default:
	}
}

// activate establishes the session under the reconnect budget.
func (l *Loop) activate(ctx context.Context) error {
	l.setState(StateActivating, "window open")
	return l.retrier.Run(ctx, l.link.Open)
}

// runWindow pushes targets until the window closes or the loop faults.
func (l *Loop) runWindow(ctx context.Context) error {
	l.setState(StateActive, "session established")

	for {
		if err := ctx.Err(); err != nil {
			return nil
		}

		now := l.now()
		if !l.wc.Active(now) || l.wc.GuardClose(now, l.cfg.WorstRTT) {
			return nil
		}

		target, err := l.gen.Next(now, l.cfg.Range)
		if err != nil {
			return fmt.Errorf("target generation: %w", err)
		}

		attempt := l.push(ctx, target)
		if ctx.Err() != nil {
			return nil
		}
		if faulted := l.record(attempt); faulted {
			return fmt.Errorf("%d consecutive push failures", l.cfg.FailureThreshold)
		}

		interval, err := schedule.PickInterval(l.cfg.Intervals)
		if err != nil {
			return fmt.Errorf("interval pick: %w", err)
		}
		l.setNextWake(l.now().Add(interval))
		if err := l.sleep(ctx, interval); err != nil {
			return nil
		}
	}
}

// push issues one SetClock with bounded in-place retries. A lost session is
// re-established mid-window without an outward state change.
func (l *Loop) push(ctx context.Context, target time.Time) SyncAttempt {
	attempt := SyncAttempt{RequestedTarget: target, IssuedAt: l.now()}

	for try := 0; try <= l.cfg.CommandRetries; try++ {
		attempt.Retries = try

		start := time.Now()
		err := l.link.SetClock(ctx, target)
		attempt.Latency = time.Since(start)

		switch {
		case err == nil:
			attempt.Outcome = OutcomeSuccess
			return attempt
		case errors.Is(err, terminal.ErrNotConnected):
			if rerr := l.reconnect(ctx); rerr != nil {
				attempt.Outcome = OutcomeTimeout
				return attempt
			}
		case errors.Is(err, terminal.ErrCommandTimeout):
			attempt.Outcome = OutcomeTimeout
		case errors.Is(err, terminal.ErrCommandRejected):
			// The terminal understood and refused; retrying the same
			// command will not change its mind.
			attempt.Outcome = OutcomeRejected
			return attempt
		default:
			attempt.Outcome = OutcomeProtocolError
		}

		if ctx.Err() != nil {
			return attempt
		}

		// A degraded session does not recover on its own; rebuild it
		// before the next try.
		if l.link.State() == terminal.StateDegraded {
			if rerr := l.reconnect(ctx); rerr != nil {
				return attempt
			}
		}
	}
	return attempt
}

// reconnect re-establishes a lost session mid-window.
func (l *Loop) reconnect(ctx context.Context) error {
	l.mu.Lock()
	l.counters.Reconnects++
	l.mu.Unlock()

	l.link.Close(ctx)
	return l.retrier.Run(ctx, l.link.Open)
}

// record stores the attempt and reports whether the failure threshold was
// crossed.
func (l *Loop) record(a SyncAttempt) bool {
	l.mu.Lock()
	l.attempts.add(a)
	l.counters.Cycles++
	if a.Outcome == OutcomeSuccess {
		l.counters.Successes++
		l.consecFails = 0
	} else {
		l.counters.Failures++
		l.consecFails++
	}
	faulted := l.consecFails >= l.cfg.FailureThreshold
	l.mu.Unlock()

	l.logger.Log(log.NewAttempt(l.link.ConnID(), a.Outcome.String(), a.Latency, a.Retries))
	return faulted
}

// deactivate restores the authentic clock and closes the session.
func (l *Loop) deactivate() {
	l.setState(StateDeactivating, "window closing")

	// Detached context: deactivation must complete its best effort even
	// when the run context is already cancelled.
	ctx, cancel := context.WithTimeout(context.Background(), l.cfg.WorstRTT+time.Second)
	defer cancel()

	if l.link.State() == terminal.StateConnected || l.link.State() == terminal.StateDegraded {
		if err := l.link.SetClock(ctx, l.now()); err != nil {
			l.logger.Log(log.NewError(l.link.ConnID(), "restore", err.Error()))
		}
	}
	l.link.Close(ctx)
	l.setState(StateIdle, "window closed")
}

// Interrupt cancels the loop's current work. Part of the fail-safe contract.
// After an interrupt the run loop performs no teardown of its own and leaves
// the session to Restore.
func (l *Loop) Interrupt(reason string) {
	l.mu.Lock()
	l.interrupted = true
	cancel := l.cancel
	l.mu.Unlock()
	if cancel != nil {
		cancel()
	}
	l.Wake()
}

func (l *Loop) wasInterrupted() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.interrupted
}

// Restore pushes the authentic clock and closes the link. Part of the
// fail-safe contract. The link is closed regardless of the push outcome.
func (l *Loop) Restore(ctx context.Context) error {
	err := l.link.SetClock(ctx, l.now())
	l.link.Close(ctx)
	if err != nil && !errors.Is(err, terminal.ErrNotConnected) {
		l.setState(StateFaulted, "emergency restore failed")
		return fmt.Errorf("emergency restore: %w", err)
	}
	l.setState(StateIdle, "emergency restore")
	return nil
}

// Status returns a point-in-time snapshot.
func (l *Loop) Status() Status {
	l.mu.Lock()
	defer l.mu.Unlock()

	st := Status{
		State:               l.state,
		Window:              l.cfg.Window,
		WindowActive:        l.wc.Active(l.now()),
		ConsecutiveFailures: l.consecFails,
		Counters:            l.counters,
		NextWake:            l.nextWake,
	}
	if last, ok := l.attempts.last(); ok {
		st.LastAttempt = &last
	}
	return st
}

// Attempts returns the recorded attempts, oldest first.
func (l *Loop) Attempts() []SyncAttempt {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.attempts.snapshot()
}

// State returns the loop state.
func (l *Loop) State() State {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.state
}

func (l *Loop) setState(next State, reason string) {
	l.mu.Lock()
	if l.state == next {
		l.mu.Unlock()
		return
	}
	old := l.state
	l.state = next
	l.mu.Unlock()

	l.logger.Log(log.NewStateChange(l.link.ConnID(), log.EntityLoop, old.String(), next.String(), reason))
}

func (l *Loop) setNextWake(t time.Time) {
	l.mu.Lock()
	l.nextWake = t
	l.mu.Unlock()
}

// sleep blocks for d, ending early on context cancellation or Wake.
func (l *Loop) sleep(ctx context.Context, d time.Duration) error {
	if l.sleepFn != nil {
		return l.sleepFn(ctx, d)
	}
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-l.wake:
		return nil
	case <-timer.C:
		return nil
	}
}
