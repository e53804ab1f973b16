package terminal

import (
	"sync"
	"time"
)

// Heartbeat defaults.
const (
	// DefaultHeartbeatInterval is the default probe interval.
	DefaultHeartbeatInterval = 30 * time.Second

	// DefaultHeartbeatTimeout is the default per-probe timeout.
	DefaultHeartbeatTimeout = 2 * time.Second

	// DefaultMaxMisses is the number of consecutive misses that
	// degrades the link.
	DefaultMaxMisses = 3
)

// HeartbeatConfig configures liveness probing.
type HeartbeatConfig struct {
	// Interval between probes. Zero takes the default; negative
	// disables the heartbeat entirely.
	Interval time.Duration

	// Timeout for a single probe.
	Timeout time.Duration

	// MaxMisses is the consecutive miss count that degrades the link.
	MaxMisses int
}

func (c HeartbeatConfig) withDefaults() HeartbeatConfig {
	if c.Interval == 0 {
		c.Interval = DefaultHeartbeatInterval
	}
	if c.Timeout <= 0 {
		c.Timeout = DefaultHeartbeatTimeout
	}
	if c.MaxMisses <= 0 {
		c.MaxMisses = DefaultMaxMisses
	}
	return c
}

// probeResult is the outcome of one heartbeat probe attempt.
type probeResult struct {
	// skipped is true when the link was busy and no probe was sent.
	skipped bool
	ok      bool
	latency time.Duration
}

// heartbeat probes the terminal while the link is idle and reports
// consecutive misses.
type heartbeat struct {
	cfg HeartbeatConfig

	// probe attempts one liveness check; it must not block beyond
	// cfg.Timeout.
	probe func(timeout time.Duration) probeResult

	// onResult is called after every completed (non-skipped) probe.
	onResult func(ok bool, latency time.Duration, missed int)

	// onDead is called once when misses reach MaxMisses.
	onDead func()

	mu       sync.Mutex
	misses   int
	running  bool
	stopCh   chan struct{}
	stopOnce sync.Once
}

func newHeartbeat(cfg HeartbeatConfig, probe func(timeout time.Duration) probeResult) *heartbeat {
	return &heartbeat{
		cfg:    cfg.withDefaults(),
		probe:  probe,
		stopCh: make(chan struct{}),
	}
}

// start launches the probe loop. No-op when the interval is negative.
func (h *heartbeat) start() {
	if h.cfg.Interval < 0 {
		return
	}
	h.mu.Lock()
	if h.running {
		h.mu.Unlock()
		return
	}
	h.running = true
	h.mu.Unlock()

	go h.loop()
}

// stop terminates the probe loop. Safe to call multiple times.
func (h *heartbeat) stop() {
	h.stopOnce.Do(func() { close(h.stopCh) })
}

// touch resets the miss counter. Called after any successful command so a
// busy, healthy link is never degraded by coincidence.
func (h *heartbeat) touch() {
	h.mu.Lock()
	h.misses = 0
	h.mu.Unlock()
}

func (h *heartbeat) loop() {
	ticker := time.NewTicker(h.cfg.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-h.stopCh:
			return
		case <-ticker.C:
			h.tick()
		}
	}
}

func (h *heartbeat) tick() {
	res := h.probe(h.cfg.Timeout)
	if res.skipped {
		// Link busy: a command is in flight, liveness is being
		// exercised anyway.
		return
	}

	h.mu.Lock()
	if res.ok {
		h.misses = 0
	} else {
		h.misses++
	}
	missed := h.misses
	dead := missed == h.cfg.MaxMisses
	h.mu.Unlock()

	if h.onResult != nil {
		h.onResult(res.ok, res.latency, missed)
	}
	if dead && h.onDead != nil {
		h.stop()
		h.onDead()
	}
}
