package syncloop

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/izzi01/zk-communist/pkg/connection"
	"github.com/izzi01/zk-communist/pkg/schedule"
	"github.com/izzi01/zk-communist/pkg/terminal"
)

// fakeClock is a manually advanced time source.
type fakeClock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *fakeClock) now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *fakeClock) advance(d time.Duration) {
	c.mu.Lock()
	c.t = c.t.Add(d)
	c.mu.Unlock()
}

// fakeLink is a scripted TerminalLink.
type fakeLink struct {
	mu        sync.Mutex
	state     terminal.State
	opens     int
	closes    int
	failOpens int
	setClocks []time.Time
	setErrs   []error
}

func (f *fakeLink) Open(ctx context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.opens++
	if f.failOpens > 0 {
		f.failOpens--
		return terminal.ErrConnectTimeout
	}
	if f.failOpens < 0 {
		return terminal.ErrConnectTimeout
	}
	f.state = terminal.StateConnected
	return nil
}

func (f *fakeLink) SetClock(ctx context.Context, t time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.setErrs) > 0 {
		err := f.setErrs[0]
		f.setErrs = f.setErrs[1:]
		if err != nil {
			return err
		}
	}
	f.setClocks = append(f.setClocks, t)
	return nil
}

func (f *fakeLink) Close(ctx context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closes++
	f.state = terminal.StateDisconnected
	return nil
}

func (f *fakeLink) State() terminal.State {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.state
}

func (f *fakeLink) ConnID() string { return "test-conn" }

func (f *fakeLink) pushed() []time.Time {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]time.Time, len(f.setClocks))
	copy(out, f.setClocks)
	return out
}

func testConfig(t *testing.T) Config {
	t.Helper()
	return Config{
		Window: schedule.OperationWindow{
			Start: schedule.MustParseClock("07:50"),
			End:   schedule.MustParseClock("08:10"),
			Days:  schedule.MonSat,
		},
		Range: schedule.TargetRange{
			Low:  schedule.MustParseClock("07:55"),
			High: schedule.MustParseClock("07:59"),
		},
		Intervals: schedule.IntervalBounds{Min: 30, Max: 90},
		Reconnect: connection.RetrierConfig{
			MaxAttempts: 3,
			Backoff: connection.BackoffConfig{
				Initial: time.Millisecond,
				Max:     2 * time.Millisecond,
			},
		},
	}
}

// runSimulated drives the loop on a fake clock starting at start. Sleeps
// advance the clock instead of blocking; the run is cancelled once the
// clock leaves the window with at least one session behind it.
func runSimulated(t *testing.T, link *fakeLink, cfg Config, start time.Time) error {
	t.Helper()

	loop, err := NewLoop(link, cfg)
	if err != nil {
		t.Fatalf("NewLoop: %v", err)
	}

	clk := &fakeClock{t: start}
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	wc := schedule.NewWindowClock(cfg.Window)
	loop.now = clk.now
	loop.sleepFn = func(ctx context.Context, d time.Duration) error {
		link.mu.Lock()
		sessions := link.closes
		link.mu.Unlock()
		if sessions > 0 && !wc.Active(clk.now()) {
			cancel()
			return ctx.Err()
		}
		clk.advance(d)
		return ctx.Err()
	}

	done := make(chan error, 1)
	go func() { done <- loop.Run(ctx) }()

	select {
	case err := <-done:
		return err
	case <-time.After(10 * time.Second):
		t.Fatal("loop did not finish the simulated window")
		return nil
	}
}

func TestLoopFullWindow(t *testing.T) {
	link := &fakeLink{}
	cfg := testConfig(t)

	// Monday 2026-03-02, an hour before the window opens.
	start := time.Date(2026, 3, 2, 6, 50, 0, 0, time.UTC)
	err := runSimulated(t, link, cfg, start)
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("Run = %v, want context.Canceled", err)
	}

	pushed := link.pushed()
	if len(pushed) < 2 {
		t.Fatalf("only %d pushes in a full window", len(pushed))
	}

	// The last push is the authentic-time restore at deactivation; the
	// rest are targets. A 20 minute window with 30-90s intervals yields
	// between 13 and 40 target pushes.
	targets := pushed[:len(pushed)-1]
	if n := len(targets); n < 13 || n > 40 {
		t.Errorf("target pushes = %d, want 13..40", n)
	}

	low := cfg.Range.Low.At(start)
	high := cfg.Range.High.At(start)
	for i, target := range targets {
		if target.Before(low) || target.After(high) {
			t.Errorf("target[%d] = %v outside [%v, %v]", i, target, low, high)
		}
	}

	// The restore is not a range value; it is the clock at deactivation,
	// at or past the window end region.
	restore := pushed[len(pushed)-1]
	if restore.Before(high) {
		t.Errorf("restore push %v predates the target range end %v", restore, high)
	}

	link.mu.Lock()
	defer link.mu.Unlock()
	if link.closes == 0 {
		t.Error("session never closed after the window")
	}
}

func TestLoopIdleOutsideWindow(t *testing.T) {
	link := &fakeLink{}
	cfg := testConfig(t)

	loop, err := NewLoop(link, cfg)
	if err != nil {
		t.Fatalf("NewLoop: %v", err)
	}

	// Sunday: the mask excludes it.
	clk := &fakeClock{t: time.Date(2026, 3, 1, 7, 55, 0, 0, time.UTC)}
	ctx, cancel := context.WithCancel(context.Background())
	loop.now = clk.now
	loop.sleepFn = func(ctx context.Context, d time.Duration) error {
		cancel()
		return ctx.Err()
	}

	if err := loop.Run(ctx); !errors.Is(err, context.Canceled) {
		t.Fatalf("Run = %v, want context.Canceled", err)
	}

	link.mu.Lock()
	defer link.mu.Unlock()
	if link.opens != 0 {
		t.Errorf("opens = %d outside the window, want 0", link.opens)
	}
	if loop.State() != StateIdle {
		t.Errorf("state = %v, want %v", loop.State(), StateIdle)
	}
}

func TestLoopFaultsAfterConsecutiveFailures(t *testing.T) {
	link := &fakeLink{}
	for i := 0; i < 10; i++ {
		link.setErrs = append(link.setErrs, terminal.ErrCommandRejected)
	}
	cfg := testConfig(t)
	cfg.FailureThreshold = 3

	start := time.Date(2026, 3, 2, 7, 55, 0, 0, time.UTC)
	err := runSimulated(t, link, cfg, start)
	if !errors.Is(err, ErrFaulted) {
		t.Fatalf("Run = %v, want ErrFaulted", err)
	}

	link.mu.Lock()
	defer link.mu.Unlock()
	if link.closes == 0 {
		t.Error("session left open after fault")
	}
}

func TestLoopFaultsWhenTerminalUnreachable(t *testing.T) {
	link := &fakeLink{failOpens: -1}
	cfg := testConfig(t)

	start := time.Date(2026, 3, 2, 7, 55, 0, 0, time.UTC)
	err := runSimulated(t, link, cfg, start)
	if !errors.Is(err, ErrFaulted) {
		t.Fatalf("Run = %v, want ErrFaulted", err)
	}
	if !errors.Is(err, connection.ErrRetriesExhausted) {
		t.Errorf("Run = %v, want wrapped ErrRetriesExhausted", err)
	}
}

func TestLoopReconnectsMidWindow(t *testing.T) {
	link := &fakeLink{setErrs: []error{terminal.ErrNotConnected}}
	cfg := testConfig(t)

	loop, err := NewLoop(link, cfg)
	if err != nil {
		t.Fatalf("NewLoop: %v", err)
	}

	clk := &fakeClock{t: time.Date(2026, 3, 2, 7, 55, 0, 0, time.UTC)}
	loop.now = clk.now

	ctx := context.Background()
	if err := loop.activate(ctx); err != nil {
		t.Fatalf("activate: %v", err)
	}

	target := cfg.Range.Low.At(clk.now())
	attempt := loop.push(ctx, target)
	if attempt.Outcome != OutcomeSuccess {
		t.Fatalf("outcome = %v, want %v", attempt.Outcome, OutcomeSuccess)
	}
	if attempt.Retries != 1 {
		t.Errorf("retries = %d, want 1", attempt.Retries)
	}

	link.mu.Lock()
	defer link.mu.Unlock()
	if link.opens != 2 {
		t.Errorf("opens = %d, want 2 (initial + reconnect)", link.opens)
	}
}

func TestLoopDegradedLinkReconnects(t *testing.T) {
	link := &fakeLink{setErrs: []error{terminal.ErrCommandTimeout}}
	cfg := testConfig(t)

	loop, err := NewLoop(link, cfg)
	if err != nil {
		t.Fatalf("NewLoop: %v", err)
	}

	clk := &fakeClock{t: time.Date(2026, 3, 2, 7, 55, 0, 0, time.UTC)}
	loop.now = clk.now

	ctx := context.Background()
	if err := loop.activate(ctx); err != nil {
		t.Fatalf("activate: %v", err)
	}

	// Heartbeat misses degraded the session; commands on it keep timing
	// out until it is rebuilt.
	link.mu.Lock()
	link.state = terminal.StateDegraded
	link.mu.Unlock()

	attempt := loop.push(ctx, cfg.Range.Low.At(clk.now()))
	if attempt.Outcome != OutcomeSuccess {
		t.Fatalf("outcome = %v, want %v", attempt.Outcome, OutcomeSuccess)
	}

	link.mu.Lock()
	defer link.mu.Unlock()
	if link.opens != 2 {
		t.Errorf("opens = %d, want 2 (initial + degraded rebuild)", link.opens)
	}
	if link.state != terminal.StateConnected {
		t.Errorf("state = %v after rebuild, want %v", link.state, terminal.StateConnected)
	}
}

func TestLoopInterruptUnblocksSleep(t *testing.T) {
	link := &fakeLink{}
	loop, err := NewLoop(link, testConfig(t))
	if err != nil {
		t.Fatalf("NewLoop: %v", err)
	}

	done := make(chan error, 1)
	go func() { done <- loop.Run(context.Background()) }()

	// Let the loop settle into its idle sleep, then interrupt.
	time.Sleep(50 * time.Millisecond)
	loop.Interrupt("test stop")

	select {
	case err := <-done:
		if !errors.Is(err, context.Canceled) {
			t.Errorf("Run = %v, want context.Canceled", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Interrupt did not unblock the loop")
	}
}

func TestLoopInterruptLeavesTeardownToRestore(t *testing.T) {
	link := &fakeLink{}
	loop, err := NewLoop(link, testConfig(t))
	if err != nil {
		t.Fatalf("NewLoop: %v", err)
	}

	// Pin the clock inside the window; the loop pushes once and then
	// parks in its inter-cycle sleep.
	clk := &fakeClock{t: time.Date(2026, 3, 2, 7, 55, 0, 0, time.UTC)}
	loop.now = clk.now
	loop.sleepFn = func(ctx context.Context, d time.Duration) error {
		<-ctx.Done()
		return ctx.Err()
	}

	done := make(chan error, 1)
	go func() { done <- loop.Run(context.Background()) }()

	waitUntil(t, time.Second, func() bool {
		return len(link.pushed()) >= 1
	})
	loop.Interrupt("emergency drill")

	select {
	case err := <-done:
		if !errors.Is(err, context.Canceled) {
			t.Fatalf("Run = %v, want context.Canceled", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Interrupt did not stop the loop")
	}

	// The interrupted run must not race the restore path for the link.
	link.mu.Lock()
	closes := link.closes
	link.mu.Unlock()
	if closes != 0 {
		t.Fatalf("closes = %d after interrupt, want 0 until Restore runs", closes)
	}

	pushesBefore := len(link.pushed())
	if err := loop.Restore(context.Background()); err != nil {
		t.Fatalf("Restore: %v", err)
	}

	link.mu.Lock()
	defer link.mu.Unlock()
	if link.closes != 1 {
		t.Errorf("closes = %d after Restore, want 1", link.closes)
	}
	if got := len(link.setClocks); got != pushesBefore+1 {
		t.Errorf("pushes = %d after Restore, want %d", got, pushesBefore+1)
	}
}

// waitUntil polls cond until it holds or the deadline passes.
func waitUntil(t *testing.T, limit time.Duration, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(limit)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatal("condition never held")
		}
		time.Sleep(time.Millisecond)
	}
}

func TestLoopRestore(t *testing.T) {
	t.Run("PushesAndCloses", func(t *testing.T) {
		link := &fakeLink{}
		loop, err := NewLoop(link, testConfig(t))
		if err != nil {
			t.Fatalf("NewLoop: %v", err)
		}
		link.Open(context.Background())

		before := time.Now()
		if err := loop.Restore(context.Background()); err != nil {
			t.Fatalf("Restore: %v", err)
		}

		pushed := link.pushed()
		if len(pushed) != 1 {
			t.Fatalf("pushes = %d, want 1", len(pushed))
		}
		if pushed[0].Before(before) || pushed[0].After(time.Now()) {
			t.Errorf("restore pushed %v, want the current time", pushed[0])
		}
		link.mu.Lock()
		closes := link.closes
		link.mu.Unlock()
		if closes != 1 {
			t.Errorf("closes = %d, want 1", closes)
		}
		if loop.State() != StateIdle {
			t.Errorf("state = %v, want %v", loop.State(), StateIdle)
		}
	})

	t.Run("FailureStillCloses", func(t *testing.T) {
		link := &fakeLink{setErrs: []error{terminal.ErrCommandTimeout}}
		loop, err := NewLoop(link, testConfig(t))
		if err != nil {
			t.Fatalf("NewLoop: %v", err)
		}
		link.Open(context.Background())

		if err := loop.Restore(context.Background()); err == nil {
			t.Fatal("Restore succeeded against a timing-out link")
		}
		link.mu.Lock()
		closes := link.closes
		link.mu.Unlock()
		if closes != 1 {
			t.Errorf("closes = %d, want 1", closes)
		}
		if loop.State() != StateFaulted {
			t.Errorf("state = %v, want %v", loop.State(), StateFaulted)
		}
	})
}

func TestLoopStatus(t *testing.T) {
	link := &fakeLink{}
	loop, err := NewLoop(link, testConfig(t))
	if err != nil {
		t.Fatalf("NewLoop: %v", err)
	}

	st := loop.Status()
	if st.State != StateIdle {
		t.Errorf("state = %v, want %v", st.State, StateIdle)
	}
	if st.LastAttempt != nil {
		t.Error("LastAttempt set before any attempt")
	}

	loop.record(SyncAttempt{Outcome: OutcomeSuccess, Latency: 10 * time.Millisecond})
	loop.record(SyncAttempt{Outcome: OutcomeTimeout})

	st = loop.Status()
	if st.Counters.Cycles != 2 || st.Counters.Successes != 1 || st.Counters.Failures != 1 {
		t.Errorf("counters = %+v", st.Counters)
	}
	if st.LastAttempt == nil || st.LastAttempt.Outcome != OutcomeTimeout {
		t.Errorf("LastAttempt = %+v, want the timeout", st.LastAttempt)
	}
	if st.ConsecutiveFailures != 1 {
		t.Errorf("ConsecutiveFailures = %d, want 1", st.ConsecutiveFailures)
	}
}

func TestConfigValidate(t *testing.T) {
	cfg := testConfig(t)
	if err := cfg.Validate(); err != nil {
		t.Fatalf("valid config rejected: %v", err)
	}

	bad := cfg
	bad.Range.High = schedule.MustParseClock("08:30")
	if err := bad.Validate(); !errors.Is(err, schedule.ErrRangeOutside) {
		t.Errorf("range outside window = %v, want ErrRangeOutside", err)
	}

	bad = cfg
	bad.Intervals = schedule.IntervalBounds{Min: 90, Max: 30}
	if err := bad.Validate(); !errors.Is(err, schedule.ErrIntervalOrder) {
		t.Errorf("inverted intervals = %v, want ErrIntervalOrder", err)
	}
}

func TestAttemptRing(t *testing.T) {
	r := newAttemptRing(3)
	if _, ok := r.last(); ok {
		t.Error("empty ring reported a last attempt")
	}

	for i := 0; i < 5; i++ {
		r.add(SyncAttempt{Retries: i})
	}

	snap := r.snapshot()
	if len(snap) != 3 {
		t.Fatalf("len(snapshot) = %d, want 3", len(snap))
	}
	for i, a := range snap {
		if want := i + 2; a.Retries != want {
			t.Errorf("snapshot[%d].Retries = %d, want %d", i, a.Retries, want)
		}
	}

	last, ok := r.last()
	if !ok || last.Retries != 4 {
		t.Errorf("last = %+v, want Retries 4", last)
	}
}
