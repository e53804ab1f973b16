package failsafe

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/izzi01/zk-communist/pkg/log"
)

// Controller constants.
const (
	// DefaultRestoreTimeout bounds the emergency restore attempt. The
	// restore must land well under a second; a terminal that cannot
	// answer in this budget is treated as unreachable.
	DefaultRestoreTimeout = 800 * time.Millisecond

	// DefaultMaxEvents bounds the in-memory emergency event list.
	DefaultMaxEvents = 32
)

// Controller errors.
var (
	// ErrUnknownEvent indicates the event id matches no recorded event.
	ErrUnknownEvent = errors.New("unknown emergency event")

	// ErrEventPending indicates the event cannot be acknowledged before
	// its restore attempt resolves.
	ErrEventPending = errors.New("emergency event still pending")
)

// Restorer is the loop-side contract the controller drives. Interrupt must
// return promptly; Restore carries the full emergency semantics (push the
// authentic clock, then tear the link down regardless of the push outcome).
type Restorer interface {
	// Interrupt cancels in-flight work and any inter-cycle sleep.
	Interrupt(reason string)

	// Restore pushes the authentic clock to the terminal and closes the
	// link. The context carries the restore deadline.
	Restore(ctx context.Context) error
}

// Config configures a Controller.
type Config struct {
	// RestoreTimeout bounds the restore attempt. Zero takes the default.
	RestoreTimeout time.Duration

	// MaxEvents bounds the event list. Zero takes the default.
	MaxEvents int

	// Logger receives emergency events. Nil means no logging.
	Logger log.Logger
}

// Controller owns the emergency stop path. Trigger is safe to call from any
// goroutine at any time, including while the loop is blocked.
type Controller struct {
	restorer Restorer
	timeout  time.Duration
	max      int
	logger   log.Logger

	mu     sync.Mutex
	events []EmergencyEvent

	onResolved func(EmergencyEvent)
}

// NewController creates a Controller driving the given restorer.
func NewController(restorer Restorer, cfg Config) *Controller {
	c := &Controller{
		restorer: restorer,
		timeout:  cfg.RestoreTimeout,
		max:      cfg.MaxEvents,
		logger:   cfg.Logger,
	}
	if c.timeout <= 0 {
		c.timeout = DefaultRestoreTimeout
	}
	if c.max <= 0 {
		c.max = DefaultMaxEvents
	}
	if c.logger == nil {
		c.logger = log.NoopLogger{}
	}
	return c
}

// OnResolved sets a callback fired when a restore attempt resolves.
func (c *Controller) OnResolved(fn func(EmergencyEvent)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.onResolved = fn
}

// Trigger fires the emergency path and returns the event id. While an event
// is still pending, further triggers return the pending event's id without
// firing again. Trigger does not wait for the restore to complete.
func (c *Controller) Trigger(reason string) string {
	c.mu.Lock()
	if open := c.pendingLocked(); open != nil {
		id := open.ID
		c.mu.Unlock()
		return id
	}

	ev := EmergencyEvent{
		ID:          uuid.NewString(),
		TriggeredAt: time.Now(),
		Reason:      reason,
	}
	c.appendLocked(ev)
	c.mu.Unlock()

	c.logger.Log(log.NewEmergency("", ev.ID, reason, OutcomePending.String()))

	// Interrupt synchronously so the loop unblocks before this call
	// returns; the restore itself runs off to the side.
	c.restorer.Interrupt(reason)
	go c.restore(ev.ID)

	return ev.ID
}

// restore runs the bounded restore attempt and resolves the event.
func (c *Controller) restore(id string) {
	ctx, cancel := context.WithTimeout(context.Background(), c.timeout)
	defer cancel()

	err := c.restorer.Restore(ctx)

	c.mu.Lock()
	ev := c.findLocked(id)
	if ev == nil {
		c.mu.Unlock()
		return
	}
	if err != nil {
		ev.RestoreOutcome = OutcomeFailed
		ev.RestoreError = err.Error()
	} else {
		ev.RestoreOutcome = OutcomeRestored
	}
	ev.ResolvedAt = time.Now()
	resolved := *ev
	fn := c.onResolved
	c.mu.Unlock()

	c.logger.Log(log.NewEmergency("", resolved.ID, resolved.Reason, resolved.RestoreOutcome.String()))
	if fn != nil {
		fn(resolved)
	}
}

// Acknowledge removes a resolved event from the list.
func (c *Controller) Acknowledge(id string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	for i := range c.events {
		if c.events[i].ID != id {
			continue
		}
		if !c.events[i].Resolved() {
			return ErrEventPending
		}
		c.events = append(c.events[:i], c.events[i+1:]...)
		return nil
	}
	return ErrUnknownEvent
}

// Events returns a snapshot of all unacknowledged events, oldest first.
func (c *Controller) Events() []EmergencyEvent {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]EmergencyEvent, len(c.events))
	copy(out, c.events)
	return out
}

// Event returns one event by id.
func (c *Controller) Event(id string) (EmergencyEvent, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if ev := c.findLocked(id); ev != nil {
		return *ev, nil
	}
	return EmergencyEvent{}, ErrUnknownEvent
}

// pendingLocked returns the open event, if any. At most one event is
// pending at a time.
func (c *Controller) pendingLocked() *EmergencyEvent {
	for i := range c.events {
		if !c.events[i].Resolved() {
			return &c.events[i]
		}
	}
	return nil
}

func (c *Controller) findLocked(id string) *EmergencyEvent {
	for i := range c.events {
		if c.events[i].ID == id {
			return &c.events[i]
		}
	}
	return nil
}

// appendLocked adds an event, evicting the oldest resolved event when the
// list is full.
func (c *Controller) appendLocked(ev EmergencyEvent) {
	if len(c.events) >= c.max {
		for i := range c.events {
			if c.events[i].Resolved() {
				c.events = append(c.events[:i], c.events[i+1:]...)
				break
			}
		}
	}
	c.events = append(c.events, ev)
}
