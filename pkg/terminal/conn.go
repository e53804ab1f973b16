package terminal

import (
	"context"
	"net"
	"time"
)

// Dialer opens a datagram exchange channel to the terminal.
// Implemented by UDPDialer; tests substitute an in-memory terminal.
type Dialer interface {
	Dial(ctx context.Context, address string) (Conn, error)
}

// Conn is one datagram exchange channel.
type Conn interface {
	// Send transmits one datagram.
	Send(data []byte) error

	// Receive waits for one datagram up to the timeout. A cancelled
	// context ends the wait early.
	Receive(ctx context.Context, timeout time.Duration) ([]byte, error)

	// Close releases the channel.
	Close() error

	// RemoteAddr returns the terminal address, for logs.
	RemoteAddr() string
}

// maxDatagram is the receive buffer size. Terminal responses for the
// session and clock commands are far smaller.
const maxDatagram = 2048

// UDPDialer dials the terminal over UDP.
type UDPDialer struct{}

// Dial connects the datagram socket to address.
func (UDPDialer) Dial(ctx context.Context, address string) (Conn, error) {
	var d net.Dialer
	c, err := d.DialContext(ctx, "udp", address)
	if err != nil {
		return nil, err
	}
	return &udpConn{conn: c}, nil
}

type udpConn struct {
	conn net.Conn
}

func (u *udpConn) Send(data []byte) error {
	_, err := u.conn.Write(data)
	return err
}

func (u *udpConn) Receive(ctx context.Context, timeout time.Duration) ([]byte, error) {
	if err := u.conn.SetReadDeadline(time.Now().Add(timeout)); err != nil {
		return nil, err
	}

	// A cancelled context moves the read deadline into the past, which
	// unblocks the pending Read immediately.
	watchDone := make(chan struct{})
	defer close(watchDone)
	go func() {
		select {
		case <-ctx.Done():
			u.conn.SetReadDeadline(time.Now())
		case <-watchDone:
		}
	}()

	buf := make([]byte, maxDatagram)
	n, err := u.conn.Read(buf)
	if err != nil {
		if cerr := ctx.Err(); cerr != nil {
			return nil, cerr
		}
		return nil, err
	}
	return buf[:n], nil
}

func (u *udpConn) Close() error {
	return u.conn.Close()
}

func (u *udpConn) RemoteAddr() string {
	return u.conn.RemoteAddr().String()
}

// Compile-time interface satisfaction checks.
var (
	_ Dialer = UDPDialer{}
	_ Conn   = (*udpConn)(nil)
)
