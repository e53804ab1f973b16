package protocol

// Command is a terminal protocol command or reply code.
type Command uint16

// Request commands understood by the terminal.
const (
	// CmdConnect opens a session. Sent with session id 0; the terminal
	// assigns the session id in its response header.
	CmdConnect Command = 1000

	// CmdExit closes the session.
	CmdExit Command = 1001

	// CmdAuth authenticates the session with a comm key. Required when
	// CmdConnect is answered with AckUnauth.
	CmdAuth Command = 1102

	// CmdGetTime reads the terminal clock.
	CmdGetTime Command = 201

	// CmdSetTime writes the terminal clock.
	CmdSetTime Command = 202

	// CmdVersion reads the terminal firmware version string.
	CmdVersion Command = 1100
)

// Reply codes sent by the terminal.
const (
	// AckOK indicates the command succeeded.
	AckOK Command = 2000

	// AckError indicates the terminal rejected the command.
	AckError Command = 2001

	// AckData indicates a successful command with a data payload.
	AckData Command = 2002

	// AckUnauth indicates the session must authenticate first.
	AckUnauth Command = 2005
)

// String returns the command mnemonic.
func (c Command) String() string {
	switch c {
	case CmdConnect:
		return "CONNECT"
	case CmdExit:
		return "EXIT"
	case CmdAuth:
		return "AUTH"
	case CmdGetTime:
		return "GET_TIME"
	case CmdSetTime:
		return "SET_TIME"
	case CmdVersion:
		return "VERSION"
	case AckOK:
		return "ACK_OK"
	case AckError:
		return "ACK_ERROR"
	case AckData:
		return "ACK_DATA"
	case AckUnauth:
		return "ACK_UNAUTH"
	default:
		return "UNKNOWN"
	}
}

// IsAck reports whether c is a terminal reply code.
func (c Command) IsAck() bool {
	switch c {
	case AckOK, AckError, AckData, AckUnauth:
		return true
	default:
		return false
	}
}
