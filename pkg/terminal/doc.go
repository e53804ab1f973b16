// Package terminal owns the session to the remote attendance terminal.
//
// Link is the only component that talks to the device. It enforces the
// session lifecycle (open, authenticate, close), a single in-flight command,
// and a deadline on every datagram exchange. While the link is idle a
// heartbeat probes the terminal on a fixed interval; three consecutive
// misses degrade the link and notify the owner, which drives a reconnect.
//
// The datagram endpoint is abstracted behind the Dialer and Conn interfaces
// so tests can run against an in-memory terminal. The default dialer speaks
// UDP to the terminal's fixed port.
package terminal
