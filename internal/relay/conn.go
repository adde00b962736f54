package relay

import (
	"errors"
	"fmt"
	"time"
)

// State of a terminal input connection. A socket that fails auth never
// reaches the handler, so the first state a Conn can be observed in is
// StateReady.
type State int

const (
	StateReady State = iota
	StateBound
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateReady:
		return "ready"
	case StateBound:
		return "bound"
	case StateClosed:
		return "closed"
	default:
		return "unknown"
	}
}

var ErrConnClosed = errors.New("connection closed")

// Conn is the server-side record for one terminal input socket: its
// lifecycle state, the single bound session id, and the malformed-frame
// limiter. A Conn is owned by its connection handler goroutine; all frames
// from the socket are applied in arrival order, which is what makes the
// bind-then-keystroke ordering guarantee hold.
type Conn struct {
	ID             string
	state          State
	boundSessionID string
	lastActivity   time.Time
	limiter        *frameLimiter
}

func NewConn(id string, limit int, window time.Duration) *Conn {
	return &Conn{
		ID:           id,
		state:        StateReady,
		lastActivity: time.Now(),
		limiter:      newFrameLimiter(limit, window),
	}
}

func (c *Conn) State() State { return c.state }

// BoundSession returns the currently bound session id, if any.
func (c *Conn) BoundSession() (string, bool) {
	if c.state != StateBound {
		return "", false
	}
	return c.boundSessionID, true
}

// Bind replaces the bound session id. Binding is optimistic: the session
// is not checked for existence here, a stale id surfaces on the next
// keystroke. Rebinding while bound is legal and overwrites.
func (c *Conn) Bind(sessionID string) error {
	if err := c.transition(StateBound); err != nil {
		return fmt.Errorf("bind to %q: %w", sessionID, err)
	}
	c.boundSessionID = sessionID
	c.Touch()
	return nil
}

// Close marks the connection closed. No transition leads back out, and
// the bound terminal session is left untouched: sessions outlive sockets.
func (c *Conn) Close() {
	c.state = StateClosed
	c.boundSessionID = ""
}

// Touch records frame activity for keepalive accounting.
func (c *Conn) Touch() {
	c.lastActivity = time.Now()
}

func (c *Conn) LastActivity() time.Time { return c.lastActivity }

// Strike records one malformed or invalid frame. It returns true when the
// connection has exceeded its limit and must be closed.
func (c *Conn) Strike() bool {
	return c.limiter.strike(time.Now())
}

func (c *Conn) transition(to State) error {
	if c.state == StateClosed {
		return ErrConnClosed
	}
	c.state = to
	return nil
}
