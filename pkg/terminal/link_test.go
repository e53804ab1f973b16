package terminal

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/izzi01/zk-communist/pkg/protocol"
)

// fakeTerminal implements Conn and answers like a clock terminal. Behavior
// knobs cover the failure modes the link has to survive.
type fakeTerminal struct {
	mu          sync.Mutex
	sessionID   uint16
	requireAuth bool
	password    uint32
	clock       time.Time
	silent      bool
	rejectAll   bool
	closed      bool

	queue    [][]byte
	received []protocol.Packet
}

func newFakeTerminal() *fakeTerminal {
	return &fakeTerminal{
		sessionID: 0x55aa,
		clock:     time.Date(2026, 3, 2, 7, 56, 0, 0, time.UTC),
	}
}

func (f *fakeTerminal) Dial(ctx context.Context, address string) (Conn, error) {
	return f, nil
}

func (f *fakeTerminal) Send(data []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.closed {
		return errors.New("closed")
	}

	req, err := protocol.Unmarshal(data)
	if err != nil {
		return nil
	}
	f.received = append(f.received, req)
	if f.silent {
		return nil
	}

	resp := f.answer(req)
	raw, err := protocol.Marshal(resp)
	if err != nil {
		return err
	}
	f.queue = append(f.queue, raw)
	return nil
}

func (f *fakeTerminal) answer(req protocol.Packet) protocol.Packet {
	resp := protocol.Packet{
		Command:   protocol.AckOK,
		SessionID: f.sessionID,
		ReplyID:   req.ReplyID,
	}
	if f.rejectAll {
		resp.Command = protocol.AckError
		return resp
	}

	switch req.Command {
	case protocol.CmdConnect:
		if f.requireAuth {
			resp.Command = protocol.AckUnauth
		}
	case protocol.CmdAuth:
		want := protocol.AuthPayload(f.password, f.sessionID)
		if string(req.Payload) != string(want) {
			resp.Command = protocol.AckUnauth
		}
	case protocol.CmdGetTime:
		resp.Command = protocol.AckData
		resp.Payload = protocol.AppendTimePayload(nil, f.clock)
	case protocol.CmdSetTime:
		ts, err := protocol.ParseTimePayload(req.Payload, time.UTC)
		if err != nil {
			resp.Command = protocol.AckError
		} else {
			f.clock = ts
		}
	case protocol.CmdVersion:
		resp.Command = protocol.AckData
		resp.Payload = []byte("Ver 6.60 Apr 2010\x00\x00")
	case protocol.CmdExit:
	default:
		resp.Command = protocol.AckError
	}
	return resp
}

func (f *fakeTerminal) Receive(ctx context.Context, timeout time.Duration) ([]byte, error) {
	deadline := time.Now().Add(timeout)
	for {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		f.mu.Lock()
		if len(f.queue) > 0 {
			raw := f.queue[0]
			f.queue = f.queue[1:]
			f.mu.Unlock()
			return raw, nil
		}
		closed := f.closed
		f.mu.Unlock()
		if closed {
			return nil, errors.New("closed")
		}
		if time.Now().After(deadline) {
			return nil, context.DeadlineExceeded
		}
		time.Sleep(time.Millisecond)
	}
}

func (f *fakeTerminal) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed = true
	return nil
}

func (f *fakeTerminal) RemoteAddr() string { return "fake:4370" }

func (f *fakeTerminal) commands() []protocol.Command {
	f.mu.Lock()
	defer f.mu.Unlock()
	cmds := make([]protocol.Command, len(f.received))
	for i, p := range f.received {
		cmds[i] = p.Command
	}
	return cmds
}

// enqueueRaw injects a datagram into the receive queue out of band.
func (f *fakeTerminal) enqueueRaw(raw []byte) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.queue = append(f.queue, raw)
}

func testLink(t *testing.T, term *fakeTerminal, mutate func(*Config)) *Link {
	t.Helper()
	cfg := Config{
		Address:        "fake:4370",
		ConnectTimeout: time.Second,
		CommandTimeout: time.Second,
		Heartbeat:      HeartbeatConfig{Interval: -1},
		Location:       time.UTC,
		Dialer:         term,
	}
	if mutate != nil {
		mutate(&cfg)
	}
	link, err := NewLink(cfg)
	if err != nil {
		t.Fatalf("NewLink: %v", err)
	}
	return link
}

func TestLinkOpen(t *testing.T) {
	t.Run("NoAuth", func(t *testing.T) {
		term := newFakeTerminal()
		link := testLink(t, term, nil)

		if err := link.Open(context.Background()); err != nil {
			t.Fatalf("Open: %v", err)
		}
		defer link.Close(context.Background())

		if got := link.State(); got != StateConnected {
			t.Errorf("state = %v, want %v", got, StateConnected)
		}
		if link.ConnID() == "" {
			t.Error("ConnID is empty after Open")
		}
		cmds := term.commands()
		if len(cmds) != 1 || cmds[0] != protocol.CmdConnect {
			t.Errorf("terminal saw %v, want [CMD_CONNECT]", cmds)
		}
	})

	t.Run("WithAuth", func(t *testing.T) {
		term := newFakeTerminal()
		term.requireAuth = true
		term.password = 123456
		link := testLink(t, term, func(c *Config) {
			c.Credentials = Credentials{Password: 123456}
		})

		if err := link.Open(context.Background()); err != nil {
			t.Fatalf("Open: %v", err)
		}
		defer link.Close(context.Background())

		cmds := term.commands()
		if len(cmds) != 2 || cmds[1] != protocol.CmdAuth {
			t.Errorf("terminal saw %v, want [CMD_CONNECT CMD_AUTH]", cmds)
		}
	})

	t.Run("WrongPassword", func(t *testing.T) {
		term := newFakeTerminal()
		term.requireAuth = true
		term.password = 123456
		link := testLink(t, term, func(c *Config) {
			c.Credentials = Credentials{Password: 999}
		})

		err := link.Open(context.Background())
		if !errors.Is(err, ErrAuthRejected) {
			t.Fatalf("Open error = %v, want ErrAuthRejected", err)
		}
		if got := link.State(); got != StateDisconnected {
			t.Errorf("state after failed open = %v, want %v", got, StateDisconnected)
		}
	})

	t.Run("SilentTerminal", func(t *testing.T) {
		term := newFakeTerminal()
		term.silent = true
		link := testLink(t, term, func(c *Config) {
			c.ConnectTimeout = 50 * time.Millisecond
		})

		err := link.Open(context.Background())
		if !errors.Is(err, ErrConnectTimeout) {
			t.Fatalf("Open error = %v, want ErrConnectTimeout", err)
		}
	})

	t.Run("Twice", func(t *testing.T) {
		term := newFakeTerminal()
		link := testLink(t, term, nil)

		if err := link.Open(context.Background()); err != nil {
			t.Fatalf("Open: %v", err)
		}
		defer link.Close(context.Background())

		if err := link.Open(context.Background()); !errors.Is(err, ErrAlreadyConnected) {
			t.Errorf("second Open error = %v, want ErrAlreadyConnected", err)
		}
	})
}

func TestLinkClock(t *testing.T) {
	term := newFakeTerminal()
	link := testLink(t, term, nil)
	if err := link.Open(context.Background()); err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer link.Close(context.Background())

	got, err := link.Clock(context.Background())
	if err != nil {
		t.Fatalf("Clock: %v", err)
	}
	if !got.Equal(term.clock) {
		t.Errorf("Clock = %v, want %v", got, term.clock)
	}
}

func TestLinkSetClock(t *testing.T) {
	term := newFakeTerminal()
	link := testLink(t, term, nil)
	if err := link.Open(context.Background()); err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer link.Close(context.Background())

	target := time.Date(2026, 3, 2, 7, 57, 13, 0, time.UTC)
	if err := link.SetClock(context.Background(), target); err != nil {
		t.Fatalf("SetClock: %v", err)
	}
	if !term.clock.Equal(target) {
		t.Errorf("terminal clock = %v, want %v", term.clock, target)
	}
}

func TestLinkFirmwareVersion(t *testing.T) {
	term := newFakeTerminal()
	link := testLink(t, term, nil)
	if err := link.Open(context.Background()); err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer link.Close(context.Background())

	got, err := link.FirmwareVersion(context.Background())
	if err != nil {
		t.Fatalf("FirmwareVersion: %v", err)
	}
	if got != "Ver 6.60 Apr 2010" {
		t.Errorf("version = %q, padding not stripped", got)
	}
}

func TestLinkCommandErrors(t *testing.T) {
	t.Run("NotConnected", func(t *testing.T) {
		link := testLink(t, newFakeTerminal(), nil)
		if err := link.SetClock(context.Background(), time.Now()); !errors.Is(err, ErrNotConnected) {
			t.Errorf("SetClock error = %v, want ErrNotConnected", err)
		}
	})

	t.Run("Rejected", func(t *testing.T) {
		term := newFakeTerminal()
		link := testLink(t, term, nil)
		if err := link.Open(context.Background()); err != nil {
			t.Fatalf("Open: %v", err)
		}
		defer link.Close(context.Background())

		term.mu.Lock()
		term.rejectAll = true
		term.mu.Unlock()

		err := link.SetClock(context.Background(), time.Now())
		if !errors.Is(err, ErrCommandRejected) {
			t.Errorf("SetClock error = %v, want ErrCommandRejected", err)
		}
	})

	t.Run("Timeout", func(t *testing.T) {
		term := newFakeTerminal()
		link := testLink(t, term, func(c *Config) {
			c.CommandTimeout = 50 * time.Millisecond
		})
		if err := link.Open(context.Background()); err != nil {
			t.Fatalf("Open: %v", err)
		}
		defer link.Close(context.Background())

		term.mu.Lock()
		term.silent = true
		term.mu.Unlock()

		err := link.SetClock(context.Background(), time.Now())
		if !errors.Is(err, ErrCommandTimeout) {
			t.Errorf("SetClock error = %v, want ErrCommandTimeout", err)
		}
	})

	t.Run("Cancelled", func(t *testing.T) {
		term := newFakeTerminal()
		link := testLink(t, term, func(c *Config) {
			c.CommandTimeout = 2 * time.Second
		})
		if err := link.Open(context.Background()); err != nil {
			t.Fatalf("Open: %v", err)
		}
		defer link.Close(context.Background())

		term.mu.Lock()
		term.silent = true
		term.mu.Unlock()

		// Cancellation must release the exchange well before the command
		// timeout; the emergency path depends on this.
		ctx, cancel := context.WithCancel(context.Background())
		go func() {
			time.Sleep(50 * time.Millisecond)
			cancel()
		}()

		start := time.Now()
		err := link.SetClock(ctx, time.Now())
		elapsed := time.Since(start)

		if !errors.Is(err, context.Canceled) {
			t.Errorf("SetClock error = %v, want context.Canceled", err)
		}
		if elapsed >= time.Second {
			t.Errorf("cancelled SetClock held the link for %v", elapsed)
		}
	})
}

func TestLinkStaleReplyDropped(t *testing.T) {
	term := newFakeTerminal()
	link := testLink(t, term, nil)
	if err := link.Open(context.Background()); err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer link.Close(context.Background())

	// A late datagram from an earlier exchange sits in the queue. Its
	// reply id cannot match the next command's, so the link must skip it
	// and still complete the exchange.
	stale, err := protocol.Marshal(protocol.Packet{
		Command:   protocol.AckOK,
		SessionID: term.sessionID,
		ReplyID:   0xfff0,
	})
	if err != nil {
		t.Fatalf("Marshal: %v", err)
	}
	term.enqueueRaw(stale)

	got, err := link.Clock(context.Background())
	if err != nil {
		t.Fatalf("Clock: %v", err)
	}
	if !got.Equal(term.clock) {
		t.Errorf("Clock = %v, want %v", got, term.clock)
	}
}

func TestLinkClose(t *testing.T) {
	term := newFakeTerminal()
	link := testLink(t, term, nil)
	if err := link.Open(context.Background()); err != nil {
		t.Fatalf("Open: %v", err)
	}

	if err := link.Close(context.Background()); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if got := link.State(); got != StateDisconnected {
		t.Errorf("state after Close = %v, want %v", got, StateDisconnected)
	}
	if link.ConnID() != "" {
		t.Error("ConnID not cleared after Close")
	}

	cmds := term.commands()
	if len(cmds) == 0 || cmds[len(cmds)-1] != protocol.CmdExit {
		t.Errorf("terminal saw %v, want CMD_EXIT last", cmds)
	}

	// Idempotent.
	if err := link.Close(context.Background()); err != nil {
		t.Fatalf("second Close: %v", err)
	}
}

func TestLinkProbe(t *testing.T) {
	term := newFakeTerminal()
	link := testLink(t, term, func(c *Config) {
		c.CommandTimeout = 50 * time.Millisecond
	})
	if err := link.Open(context.Background()); err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer link.Close(context.Background())

	if !link.Probe(context.Background()) {
		t.Error("Probe = false on a live terminal")
	}

	term.mu.Lock()
	term.silent = true
	term.mu.Unlock()

	if link.Probe(context.Background()) {
		t.Error("Probe = true on a silent terminal")
	}
}
