// Package wire implements the frame codec for the terminal input socket.
//
// Two frame kinds travel on the socket: text frames carry raw keystroke
// payloads and are forwarded byte-for-byte to the bound session, binary
// frames are control envelopes. A control envelope is a single tag byte
// followed by the encoded message body; only TagJSONControl is defined.
package wire

import (
	"encoding/json"
	"fmt"
	"unicode/utf8"
)

// Tag bytes for binary control envelopes. Kept as a closed set so future
// encodings can be added without loosening validation.
const (
	TagJSONControl byte = 0x01
)

// Decode failure reasons, carried on DecodeError.
const (
	ReasonEmptyFrame = "empty_frame"
	ReasonUnknownTag = "unknown_tag"
	ReasonBadUTF8    = "bad_utf8"
	ReasonBadJSON    = "bad_json"
	ReasonBadMessage = "bad_message"
)

// DecodeError reports a control envelope that could not be decoded or
// validated. It is handled per-frame by the connection handler and fed to
// the rate limiter; it never terminates the connection by itself.
type DecodeError struct {
	Reason string
	cause  error
}

func (e *DecodeError) Error() string {
	if e.cause != nil {
		return fmt.Sprintf("decode control envelope: %s: %v", e.Reason, e.cause)
	}
	return fmt.Sprintf("decode control envelope: %s", e.Reason)
}

func (e *DecodeError) Unwrap() error { return e.cause }

// DecodeControl parses a binary control envelope into a validated Message.
// Any failure is returned as a *DecodeError.
func DecodeControl(frame []byte) (Message, error) {
	if len(frame) == 0 {
		return Message{}, &DecodeError{Reason: ReasonEmptyFrame}
	}
	if frame[0] != TagJSONControl {
		return Message{}, &DecodeError{Reason: ReasonUnknownTag, cause: fmt.Errorf("tag 0x%02x", frame[0])}
	}
	body := frame[1:]
	if !utf8.Valid(body) {
		return Message{}, &DecodeError{Reason: ReasonBadUTF8}
	}
	var msg Message
	if err := json.Unmarshal(body, &msg); err != nil {
		return Message{}, &DecodeError{Reason: ReasonBadJSON, cause: err}
	}
	if err := msg.Validate(); err != nil {
		return Message{}, &DecodeError{Reason: ReasonBadMessage, cause: err}
	}
	return msg, nil
}

// EncodeControl serializes a message into a binary control envelope.
func EncodeControl(msg Message) ([]byte, error) {
	body, err := json.Marshal(msg)
	if err != nil {
		return nil, err
	}
	frame := make([]byte, 0, 1+len(body))
	frame = append(frame, TagJSONControl)
	frame = append(frame, body...)
	return frame, nil
}
