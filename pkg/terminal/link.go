package terminal

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/izzi01/zk-communist/pkg/log"
	"github.com/izzi01/zk-communist/pkg/protocol"
)

// Link errors.
var (
	// ErrConnectTimeout indicates the terminal did not answer the
	// session open within the configured bound.
	ErrConnectTimeout = errors.New("connect timeout")

	// ErrAuthRejected indicates the terminal refused the comm key.
	ErrAuthRejected = errors.New("authentication rejected")

	// ErrProtocol indicates a malformed or unexpected terminal response.
	ErrProtocol = errors.New("protocol error")

	// ErrCommandTimeout indicates a command exchange exceeded its bound.
	ErrCommandTimeout = errors.New("command timeout")

	// ErrCommandRejected indicates the terminal answered with an error.
	ErrCommandRejected = errors.New("command rejected")

	// ErrNotConnected indicates no session is established.
	ErrNotConnected = errors.New("not connected")

	// ErrAlreadyConnected indicates Open on an established session.
	ErrAlreadyConnected = errors.New("already connected")
)

// Timeout defaults.
const (
	// DefaultConnectTimeout bounds the session open.
	DefaultConnectTimeout = 10 * time.Second

	// DefaultCommandTimeout bounds a single command exchange.
	DefaultCommandTimeout = 5 * time.Second

	// closeTimeout bounds the best-effort session teardown.
	closeTimeout = 2 * time.Second
)

// Credentials authenticate the session when the terminal demands it.
type Credentials struct {
	// Password is the numeric comm key password. Zero is a valid
	// password on terminals with authentication disabled.
	Password uint32
}

// Config configures a Link.
type Config struct {
	// Address is the terminal's UDP address (host:port).
	Address string

	// Credentials for session authentication.
	Credentials Credentials

	// ConnectTimeout bounds Open. Zero takes the default.
	ConnectTimeout time.Duration

	// CommandTimeout bounds each command exchange. Zero takes the default.
	CommandTimeout time.Duration

	// Heartbeat configures idle liveness probing.
	Heartbeat HeartbeatConfig

	// Location interprets terminal clock values. Nil means time.Local.
	Location *time.Location

	// Dialer opens the datagram channel. Nil means UDPDialer.
	Dialer Dialer

	// Logger receives operational events. Nil means no logging.
	Logger log.Logger
}

// Link owns the session to one terminal. All methods are safe for
// concurrent use; commands are serialized so at most one is in flight.
type Link struct {
	cfg    Config
	dialer Dialer
	logger log.Logger
	loc    *time.Location

	// cmdMu enforces the single in-flight command invariant.
	cmdMu sync.Mutex

	// mu guards the session fields.
	mu        sync.Mutex
	state     State
	conn      Conn
	sessionID uint16
	replyID   uint16
	connID    string
	hb        *heartbeat

	onDegraded func(reason string)
}

// NewLink creates a Link. It performs no I/O until Open.
func NewLink(cfg Config) (*Link, error) {
	if cfg.Address == "" {
		return nil, errors.New("terminal address is required")
	}
	if cfg.ConnectTimeout <= 0 {
		cfg.ConnectTimeout = DefaultConnectTimeout
	}
	if cfg.CommandTimeout <= 0 {
		cfg.CommandTimeout = DefaultCommandTimeout
	}

	l := &Link{
		cfg:    cfg,
		dialer: cfg.Dialer,
		logger: cfg.Logger,
		loc:    cfg.Location,
		state:  StateDisconnected,
	}
	if l.dialer == nil {
		l.dialer = UDPDialer{}
	}
	if l.logger == nil {
		l.logger = log.NoopLogger{}
	}
	if l.loc == nil {
		l.loc = time.Local
	}
	return l, nil
}

// OnDegraded sets the callback fired when the link degrades.
// Must be set before Open.
func (l *Link) OnDegraded(fn func(reason string)) {
	l.onDegraded = fn
}

// State returns the current connection state.
func (l *Link) State() State {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.state
}

// ConnID returns the current session's ID, or "" when disconnected.
func (l *Link) ConnID() string {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.connID
}

// Open establishes and authenticates the session. A failed open leaves the
// link Disconnected; the caller applies backoff and retries.
func (l *Link) Open(ctx context.Context) error {
	l.mu.Lock()
	if l.state == StateConnected || l.state == StateConnecting {
		l.mu.Unlock()
		return ErrAlreadyConnected
	}
	l.setStateLocked(StateConnecting, "open")
	connID := uuid.NewString()
	l.connID = connID
	l.mu.Unlock()

	if _, ok := ctx.Deadline(); !ok {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, l.cfg.ConnectTimeout)
		defer cancel()
	}

	conn, sessionID, replyID, err := l.openSession(ctx)
	if err != nil {
		l.mu.Lock()
		l.setStateLocked(StateDisconnected, err.Error())
		l.connID = ""
		l.mu.Unlock()
		return err
	}

	l.mu.Lock()
	l.conn = conn
	l.sessionID = sessionID
	l.replyID = replyID
	l.setStateLocked(StateConnected, "session established")
	hb := newHeartbeat(l.cfg.Heartbeat, l.heartbeatProbe)
	hb.onResult = func(ok bool, latency time.Duration, missed int) {
		l.logger.Log(log.NewHeartbeat(connID, ok, latency, missed))
	}
	hb.onDead = func() {
		l.degrade("heartbeat misses exhausted")
	}
	l.hb = hb
	l.mu.Unlock()

	hb.start()
	return nil
}

// openSession runs the connect/auth handshake on a fresh channel.
func (l *Link) openSession(ctx context.Context) (Conn, uint16, uint16, error) {
	conn, err := l.dialer.Dial(ctx, l.cfg.Address)
	if err != nil {
		return nil, 0, 0, l.classifyOpenErr(fmt.Errorf("dial: %w", err))
	}

	deadline, _ := ctx.Deadline()

	// Session open: session id 0, the terminal assigns one in its reply.
	resp, err := roundTrip(ctx, conn, protocol.Packet{Command: protocol.CmdConnect}, deadline)
	if err != nil {
		conn.Close()
		return nil, 0, 0, l.classifyOpenErr(err)
	}

	sessionID := resp.SessionID
	replyID := uint16(1)

	switch resp.Command {
	case protocol.AckOK:
		// No authentication demanded.
	case protocol.AckUnauth:
		auth := protocol.Packet{
			Command:   protocol.CmdAuth,
			SessionID: sessionID,
			ReplyID:   replyID,
			Payload:   protocol.AuthPayload(l.cfg.Credentials.Password, sessionID),
		}
		replyID++
		resp, err = roundTrip(ctx, conn, auth, deadline)
		if err != nil {
			conn.Close()
			return nil, 0, 0, l.classifyOpenErr(err)
		}
		if resp.Command != protocol.AckOK {
			conn.Close()
			return nil, 0, 0, fmt.Errorf("%w: terminal answered %v", ErrAuthRejected, resp.Command)
		}
	default:
		conn.Close()
		return nil, 0, 0, fmt.Errorf("%w: unexpected reply %v to session open", ErrProtocol, resp.Command)
	}

	return conn, sessionID, replyID, nil
}

// classifyOpenErr maps transport failures during open to ErrConnectTimeout
// or ErrProtocol.
func (l *Link) classifyOpenErr(err error) error {
	if isTimeout(err) {
		return fmt.Errorf("%w: %w", ErrConnectTimeout, err)
	}
	if errors.Is(err, ErrProtocol) || errors.Is(err, ErrAuthRejected) {
		return err
	}
	return fmt.Errorf("%w: %w", ErrProtocol, err)
}

// SetClock pushes a clock value to the terminal.
func (l *Link) SetClock(ctx context.Context, t time.Time) error {
	_, err := l.issue(ctx, protocol.CmdSetTime, protocol.AppendTimePayload(nil, t))
	return err
}

// Clock reads the terminal's clock.
func (l *Link) Clock(ctx context.Context) (time.Time, error) {
	resp, err := l.issue(ctx, protocol.CmdGetTime, nil)
	if err != nil {
		return time.Time{}, err
	}
	ts, err := protocol.ParseTimePayload(resp.Payload, l.loc)
	if err != nil {
		return time.Time{}, fmt.Errorf("%w: %w", ErrProtocol, err)
	}
	return ts, nil
}

// FirmwareVersion reads the terminal's firmware version string.
func (l *Link) FirmwareVersion(ctx context.Context) (string, error) {
	resp, err := l.issue(ctx, protocol.CmdVersion, nil)
	if err != nil {
		return "", err
	}
	return string(bytes.TrimRight(resp.Payload, "\x00")), nil
}

// Probe checks liveness with a clock read. Never returns an error; a probe
// is a yes/no question.
func (l *Link) Probe(ctx context.Context) bool {
	_, err := l.issue(ctx, protocol.CmdGetTime, nil)
	return err == nil
}

// Close tears the session down. Best effort: the exit command is attempted
// under a short bound and the channel is closed regardless.
func (l *Link) Close(ctx context.Context) error {
	l.mu.Lock()
	conn := l.conn
	sessionID := l.sessionID
	replyID := l.replyID
	hb := l.hb
	l.conn = nil
	l.hb = nil
	if l.state != StateDisconnected {
		l.setStateLocked(StateDisconnected, "close")
	}
	l.connID = ""
	l.mu.Unlock()

	if hb != nil {
		hb.stop()
	}
	if conn == nil {
		return nil
	}

	deadline := time.Now().Add(closeTimeout)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}

	// Exit is advisory; the terminal reaps silent sessions on its own.
	exit := protocol.Packet{Command: protocol.CmdExit, SessionID: sessionID, ReplyID: replyID}
	_, err := roundTrip(ctx, conn, exit, deadline)

	if cerr := conn.Close(); cerr != nil && err == nil {
		err = cerr
	}
	if err != nil {
		l.logger.Log(log.NewError("", "close", err.Error()))
	}
	return nil
}

// issue serializes one command exchange against the live session.
func (l *Link) issue(ctx context.Context, cmd protocol.Command, payload []byte) (protocol.Packet, error) {
	l.cmdMu.Lock()
	defer l.cmdMu.Unlock()
	return l.issueLocked(ctx, cmd, payload)
}

func (l *Link) issueLocked(ctx context.Context, cmd protocol.Command, payload []byte) (protocol.Packet, error) {
	l.mu.Lock()
	conn := l.conn
	sessionID := l.sessionID
	replyID := l.replyID
	hb := l.hb
	if conn == nil {
		l.mu.Unlock()
		return protocol.Packet{}, ErrNotConnected
	}
	l.replyID++
	l.mu.Unlock()

	deadline := time.Now().Add(l.cfg.CommandTimeout)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}

	req := protocol.Packet{Command: cmd, SessionID: sessionID, ReplyID: replyID, Payload: payload}
	resp, err := roundTrip(ctx, conn, req, deadline)
	if err != nil {
		if isTimeout(err) {
			return protocol.Packet{}, fmt.Errorf("%w: %v: %w", ErrCommandTimeout, cmd, err)
		}
		return protocol.Packet{}, fmt.Errorf("%w: %v: %w", ErrProtocol, cmd, err)
	}

	switch resp.Command {
	case protocol.AckOK, protocol.AckData:
		if hb != nil {
			hb.touch()
		}
		return resp, nil
	case protocol.AckError, protocol.AckUnauth:
		return protocol.Packet{}, fmt.Errorf("%w: %v answered %v", ErrCommandRejected, cmd, resp.Command)
	default:
		return protocol.Packet{}, fmt.Errorf("%w: %v answered %v", ErrProtocol, cmd, resp.Command)
	}
}

// heartbeatProbe is the probe function handed to the heartbeat. It skips
// when a command is in flight: the link is not idle.
func (l *Link) heartbeatProbe(timeout time.Duration) probeResult {
	if !l.cmdMu.TryLock() {
		return probeResult{skipped: true}
	}
	defer l.cmdMu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	start := time.Now()
	_, err := l.issueLocked(ctx, protocol.CmdGetTime, nil)
	return probeResult{ok: err == nil, latency: time.Since(start)}
}

// degrade marks the link Degraded and notifies the owner.
func (l *Link) degrade(reason string) {
	l.mu.Lock()
	if l.state != StateConnected {
		l.mu.Unlock()
		return
	}
	l.setStateLocked(StateDegraded, reason)
	cb := l.onDegraded
	l.mu.Unlock()

	if cb != nil {
		cb(reason)
	}
}

// setStateLocked transitions the state and logs it. Caller holds l.mu.
func (l *Link) setStateLocked(next State, reason string) {
	if l.state == next {
		return
	}
	old := l.state
	l.state = next
	l.logger.Log(log.NewStateChange(l.connID, log.EntityLink, old.String(), next.String(), reason))
}

// roundTrip sends one packet and waits for the matching reply. Responses
// carrying a stale reply id are late datagrams from an earlier exchange and
// are dropped; the wait continues until the deadline or until ctx is
// cancelled, whichever comes first.
func roundTrip(ctx context.Context, conn Conn, req protocol.Packet, deadline time.Time) (protocol.Packet, error) {
	data, err := protocol.Marshal(req)
	if err != nil {
		return protocol.Packet{}, err
	}
	if err := conn.Send(data); err != nil {
		return protocol.Packet{}, err
	}

	for {
		if err := ctx.Err(); err != nil {
			return protocol.Packet{}, err
		}
		remaining := time.Until(deadline)
		if remaining <= 0 {
			return protocol.Packet{}, context.DeadlineExceeded
		}

		raw, err := conn.Receive(ctx, remaining)
		if err != nil {
			return protocol.Packet{}, err
		}

		resp, err := protocol.Unmarshal(raw)
		if err != nil {
			// Corrupt datagram: keep waiting, the deadline bounds us.
			continue
		}
		if resp.ReplyID != req.ReplyID {
			continue
		}
		return resp, nil
	}
}

// isTimeout reports whether err is any flavor of deadline expiry.
func isTimeout(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return true
	}
	var nerr net.Error
	return errors.As(err, &nerr) && nerr.Timeout()
}
