package relay

import (
	"errors"
	"fmt"
)

var (
	// ErrNotBound reports a keystroke frame arriving before any bind.
	ErrNotBound = errors.New("no session bound")
	// ErrUnknownSession reports a bound session id that no longer
	// resolves to a live process.
	ErrUnknownSession = errors.New("unknown session")
)

// InputSink accepts raw keystroke payloads for one terminal session.
type InputSink interface {
	WriteInput(data []byte) error
}

// SessionResolver maps a session id to its input sink. The second return
// is false when the id does not resolve to a live session.
type SessionResolver interface {
	Resolve(sessionID string) (InputSink, bool)
}

// ResolverFunc adapts a function to the SessionResolver interface.
type ResolverFunc func(sessionID string) (InputSink, bool)

func (f ResolverFunc) Resolve(sessionID string) (InputSink, bool) { return f(sessionID) }

// Router forwards keystroke payloads from bound sockets to session input
// sinks. Payloads are written verbatim: they are pty-ready bytes,
// including control sequences, and must not be interpreted here.
type Router struct {
	sessions SessionResolver
}

func NewRouter(sessions SessionResolver) *Router {
	return &Router{sessions: sessions}
}

// RouteText delivers one text frame for the connection's bound session.
// Both failure modes are non-fatal to the socket: the frame is dropped
// and the caller reports them to the client.
func (r *Router) RouteText(conn *Conn, payload []byte) error {
	sessionID, ok := conn.BoundSession()
	if !ok {
		return ErrNotBound
	}
	sink, ok := r.sessions.Resolve(sessionID)
	if !ok {
		return fmt.Errorf("session %q: %w", sessionID, ErrUnknownSession)
	}
	if err := sink.WriteInput(payload); err != nil {
		return fmt.Errorf("session %q: %w", sessionID, ErrUnknownSession)
	}
	conn.Touch()
	return nil
}
