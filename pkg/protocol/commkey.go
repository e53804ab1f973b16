package protocol

import "encoding/binary"

// commKeyTicks is the fixed ticks byte mixed into the comm key.
const commKeyTicks = 0x32

// CommKey derives the 4-byte session comm key sent with CmdAuth.
//
// The derivation mirrors the terminal firmware: the numeric password is
// bit-reversed, offset by the session id, XOR-masked with the vendor tag,
// half-swapped, and mixed with the ticks byte.
func CommKey(password uint32, sessionID uint16) [4]byte {
	var k uint32
	for i := 0; i < 32; i++ {
		k <<= 1
		if password&(1<<uint(i)) != 0 {
			k |= 1
		}
	}
	k += uint32(sessionID)

	var b [4]byte
	binary.LittleEndian.PutUint32(b[:], k)
	b[0] ^= 'Z'
	b[1] ^= 'K'
	b[2] ^= 'S'
	b[3] ^= 'O'

	// Swap the 16-bit halves.
	b[0], b[1], b[2], b[3] = b[2], b[3], b[0], b[1]

	b[0] ^= commKeyTicks
	b[1] ^= commKeyTicks
	b[2] = commKeyTicks
	b[3] ^= commKeyTicks
	return b
}

// AuthPayload returns the CmdAuth payload for the given password and session.
func AuthPayload(password uint32, sessionID uint16) []byte {
	k := CommKey(password, sessionID)
	return k[:]
}
