package protocol

import (
	"encoding/binary"
	"errors"
	"fmt"
)

// Packet size constants.
const (
	// HeaderSize is the fixed header size in bytes.
	HeaderSize = 8

	// MaxPacketSize is the maximum datagram size the codec accepts.
	// Terminal responses for the session and clock commands are small;
	// anything larger than this is a protocol violation.
	MaxPacketSize = 1024
)

// Codec errors.
var (
	// ErrShortPacket indicates a datagram smaller than the header.
	ErrShortPacket = errors.New("packet shorter than header")

	// ErrPacketTooLarge indicates a datagram above MaxPacketSize.
	ErrPacketTooLarge = errors.New("packet too large")

	// ErrChecksum indicates a checksum mismatch.
	ErrChecksum = errors.New("packet checksum mismatch")
)

// Packet is one protocol datagram.
type Packet struct {
	// Command is the command or reply code.
	Command Command

	// SessionID identifies the session. Zero before the terminal has
	// assigned one.
	SessionID uint16

	// ReplyID is the request/response correlation counter.
	ReplyID uint16

	// Payload is the command-specific payload. May be empty.
	Payload []byte
}

// Marshal encodes the packet, computing the checksum.
func Marshal(p Packet) ([]byte, error) {
	if HeaderSize+len(p.Payload) > MaxPacketSize {
		return nil, fmt.Errorf("%w: %d bytes", ErrPacketTooLarge, HeaderSize+len(p.Payload))
	}

	buf := make([]byte, HeaderSize+len(p.Payload))
	binary.LittleEndian.PutUint16(buf[0:2], uint16(p.Command))
	// Checksum field stays zero while the sum is computed.
	binary.LittleEndian.PutUint16(buf[4:6], p.SessionID)
	binary.LittleEndian.PutUint16(buf[6:8], p.ReplyID)
	copy(buf[HeaderSize:], p.Payload)

	binary.LittleEndian.PutUint16(buf[2:4], Checksum(buf))
	return buf, nil
}

// Unmarshal decodes and verifies a datagram.
func Unmarshal(data []byte) (Packet, error) {
	if len(data) < HeaderSize {
		return Packet{}, fmt.Errorf("%w: %d bytes", ErrShortPacket, len(data))
	}
	if len(data) > MaxPacketSize {
		return Packet{}, fmt.Errorf("%w: %d bytes", ErrPacketTooLarge, len(data))
	}

	p := Packet{
		Command:   Command(binary.LittleEndian.Uint16(data[0:2])),
		SessionID: binary.LittleEndian.Uint16(data[4:6]),
		ReplyID:   binary.LittleEndian.Uint16(data[6:8]),
	}
	want := binary.LittleEndian.Uint16(data[2:4])

	// Verify against a copy with the checksum field zeroed.
	check := make([]byte, len(data))
	copy(check, data)
	check[2], check[3] = 0, 0
	if got := Checksum(check); got != want {
		return Packet{}, fmt.Errorf("%w: got %#04x, want %#04x", ErrChecksum, got, want)
	}

	if len(data) > HeaderSize {
		p.Payload = make([]byte, len(data)-HeaderSize)
		copy(p.Payload, data[HeaderSize:])
	}
	return p, nil
}

// Checksum computes the 16-bit ones'-complement sum the terminal uses.
// The input must have the checksum field zeroed.
func Checksum(data []byte) uint16 {
	var sum int32
	for len(data) > 1 {
		sum += int32(binary.LittleEndian.Uint16(data))
		if sum > 0xffff {
			sum -= 0xffff
		}
		data = data[2:]
	}
	if len(data) == 1 {
		sum += int32(data[0])
	}
	for sum > 0xffff {
		sum -= 0xffff
	}
	sum = ^sum
	for sum < 0 {
		sum += 0xffff
	}
	return uint16(sum)
}
