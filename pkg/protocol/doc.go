// Package protocol implements the terminal wire protocol codec.
//
// The attendance terminal speaks a connectionless datagram protocol: each
// exchange is one request datagram and one response datagram. A packet is an
// 8-byte little-endian header (command, checksum, session id, reply id)
// followed by a command-specific payload. The checksum is a 16-bit
// ones'-complement sum over the packet with the checksum field zeroed.
//
// The package is a pure codec: it builds and parses packets, encodes and
// decodes the terminal's packed time representation, and derives the
// session comm key. It performs no I/O; pkg/terminal owns the socket.
package protocol
