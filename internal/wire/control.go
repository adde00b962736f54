package wire

import "fmt"

// Control message types exchanged on the terminal input socket.
const (
	TypeBind   = "b"   // client -> server: bind subsequent keystrokes to a session
	TypePing   = "p"   // client -> server: keepalive
	TypePong   = "po"  // server -> client: keepalive reply
	TypeReady  = "ok"  // server -> client: sent once after a successful upgrade
	TypeBindOK = "bok" // server -> client: bind accepted
	TypeError  = "e"   // server -> client: error report
)

// ProtocolVersion is the version stamped on outgoing control messages.
// Incoming messages with a higher version are still accepted.
const ProtocolVersion = 1

// Error codes carried in the `c` field of error messages.
const (
	CodeAuth           = "auth"
	CodeBadFrame       = "bad_frame"
	CodeUnknownSession = "unknown_session"
	CodeRateLimited    = "rate_limited"
)

// Message is a control message carried inside a binary control envelope.
// Field names on the wire are single letters to keep envelopes small on
// the keystroke-adjacent path.
type Message struct {
	Type      string `json:"t"`
	Version   int    `json:"v,omitempty"`
	SessionID string `json:"s,omitempty"`
	Code      string `json:"c,omitempty"`
	Fatal     bool   `json:"f,omitempty"`
}

func NewBind(sessionID string) Message {
	return Message{Type: TypeBind, Version: ProtocolVersion, SessionID: sessionID}
}

func NewPing() Message {
	return Message{Type: TypePing, Version: ProtocolVersion}
}

func NewPong() Message {
	return Message{Type: TypePong, Version: ProtocolVersion}
}

func NewReady() Message {
	return Message{Type: TypeReady, Version: ProtocolVersion}
}

func NewBindOK() Message {
	return Message{Type: TypeBindOK, Version: ProtocolVersion}
}

func NewError(code string, fatal bool) Message {
	return Message{Type: TypeError, Code: code, Fatal: fatal}
}

// Validate checks a decoded message against the minimal schema for its
// type. Messages failing validation must not be acted upon.
func (m Message) Validate() error {
	switch m.Type {
	case TypeBind:
		if m.SessionID == "" {
			return fmt.Errorf("bind message with empty session id")
		}
		if m.Version < 1 {
			return fmt.Errorf("bind message with version %d", m.Version)
		}
	case TypePing, TypePong, TypeReady, TypeBindOK:
		if m.Version < 1 {
			return fmt.Errorf("%q message with version %d", m.Type, m.Version)
		}
	case TypeError:
		if m.Code == "" {
			return fmt.Errorf("error message with empty code")
		}
	default:
		return fmt.Errorf("unknown message type %q", m.Type)
	}
	return nil
}

// FutureVersion reports whether the message was stamped with a protocol
// version newer than this implementation speaks.
func (m Message) FutureVersion() bool {
	return m.Version > ProtocolVersion
}
