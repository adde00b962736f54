// Package client implements the channel manager that owns the one shared
// terminal input socket for a client runtime. It binds the socket to the
// active terminal session, keeps the channel warm with app-level
// keepalives, and falls back to per-keystroke HTTP delivery whenever the
// socket is unavailable, so a keystroke is never silently dropped.
package client

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/gorilla/websocket"

	"openchamber-relay/internal/wire"
)

var ErrNoActiveSession = errors.New("no active session")

// Config configures a Manager. Zero durations fall back to the
// documented defaults.
type Config struct {
	// Dial opens the input socket.
	Dial Dialer
	// BaseURL is the HTTP origin used for fallback input delivery.
	BaseURL string
	// HTTPClient delivers fallback keystrokes. Defaults to
	// http.DefaultClient.
	HTTPClient *http.Client

	KeepaliveInterval time.Duration
	PongTimeout       time.Duration
	BindAckTimeout    time.Duration
	ReconnectInitial  time.Duration
	ReconnectMax      time.Duration

	Logger *slog.Logger
}

func (c Config) withDefaults() Config {
	if c.HTTPClient == nil {
		c.HTTPClient = http.DefaultClient
	}
	if c.KeepaliveInterval <= 0 {
		c.KeepaliveInterval = 15 * time.Second
	}
	if c.PongTimeout <= 0 {
		c.PongTimeout = 45 * time.Second
	}
	if c.BindAckTimeout <= 0 {
		c.BindAckTimeout = 5 * time.Second
	}
	if c.ReconnectInitial <= 0 {
		c.ReconnectInitial = 500 * time.Millisecond
	}
	if c.ReconnectMax <= 0 {
		c.ReconnectMax = 30 * time.Second
	}
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
	return c
}

// Manager owns exactly one socket instance per client runtime. It is
// created on terminal-area activation (not first keystroke) so the
// connection is warm before the hot path needs it.
type Manager struct {
	cfg Config

	mu            sync.Mutex
	conn          Transport
	ready         bool // server sent ok
	bound         bool // server acked the current bind
	activeSession string
	pending       [][]byte // keystrokes queued between bind and bok

	wmu sync.Mutex // serializes transport writes

	pongMu   sync.Mutex
	lastPong time.Time

	runOnce sync.Once
	cancel  context.CancelFunc
	stopped chan struct{}
}

func NewManager(cfg Config) *Manager {
	return &Manager{
		cfg:     cfg.withDefaults(),
		stopped: make(chan struct{}),
	}
}

// Activate opens the shared socket and starts the reconnect loop. Safe
// to call more than once; only the first call does anything.
func (m *Manager) Activate(ctx context.Context) {
	m.runOnce.Do(func() {
		ctx, m.cancel = context.WithCancel(ctx)
		go m.run(ctx)
	})
}

// Close tears the channel down for good (explicit logout/disconnect).
func (m *Manager) Close() {
	if m.cancel == nil {
		return
	}
	m.cancel()
	m.mu.Lock()
	conn := m.conn
	m.mu.Unlock()
	if conn != nil {
		_ = conn.Close()
	}
	<-m.stopped
}

// Connected reports whether the socket path is currently usable.
func (m *Manager) Connected() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.conn != nil && m.ready
}

// SetActiveSession declares which terminal session subsequent keystrokes
// apply to. A bind goes out immediately when the socket is up; otherwise
// it is sent as soon as the next connection is ready.
func (m *Manager) SetActiveSession(sessionID string) {
	m.mu.Lock()
	if m.activeSession == sessionID && m.bound {
		m.mu.Unlock()
		return
	}
	m.activeSession = sessionID
	m.bound = false
	conn := m.conn
	ready := m.ready
	m.mu.Unlock()

	if conn != nil && ready {
		m.sendBind(conn, sessionID)
	}
}

// Send delivers one keystroke payload for the active session. The bytes
// are pty-ready and are forwarded verbatim on whichever path is up:
// the bound socket, the client-side queue awaiting bok, or the HTTP
// fallback endpoint.
func (m *Manager) Send(ctx context.Context, payload []byte) error {
	m.mu.Lock()
	session := m.activeSession
	if session == "" {
		m.mu.Unlock()
		return ErrNoActiveSession
	}
	conn := m.conn
	ready := m.ready
	bound := m.bound
	if conn != nil && ready && !bound {
		// Bind is in flight: queue rather than race it. The queue is
		// flushed on bok or drained to HTTP when the socket drops.
		buf := make([]byte, len(payload))
		copy(buf, payload)
		m.pending = append(m.pending, buf)
		m.mu.Unlock()
		return nil
	}
	m.mu.Unlock()

	if conn != nil && ready && bound {
		if err := m.writeMessage(conn, websocket.TextMessage, payload); err == nil {
			return nil
		}
		// Socket write failed: the run loop will notice on read; this
		// keystroke goes out over HTTP now.
	}
	return m.sendFallback(ctx, session, payload)
}

// run dials with exponential backoff, runs each connection to
// completion, and keeps retrying until the context is cancelled. While
// no connection is up, Send delivers over HTTP transparently.
func (m *Manager) run(ctx context.Context) {
	defer close(m.stopped)

	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = m.cfg.ReconnectInitial
	bo.MaxInterval = m.cfg.ReconnectMax
	bo.MaxElapsedTime = 0

	for {
		if ctx.Err() != nil {
			return
		}
		conn, err := m.cfg.Dial(ctx)
		if err != nil {
			m.cfg.Logger.Debug("input socket dial failed", "error", err)
			select {
			case <-ctx.Done():
				return
			case <-time.After(bo.NextBackOff()):
			}
			continue
		}
		bo.Reset()
		m.runConn(ctx, conn)
		if ctx.Err() != nil {
			return
		}
		select {
		case <-ctx.Done():
			return
		case <-time.After(bo.NextBackOff()):
		}
	}
}

// runConn services one live connection until it fails or the context is
// cancelled. On exit any queued keystrokes are drained to the HTTP
// fallback so nothing is lost across the outage.
func (m *Manager) runConn(ctx context.Context, conn Transport) {
	m.mu.Lock()
	m.conn = conn
	m.ready = false
	m.bound = false
	m.mu.Unlock()

	m.pongMu.Lock()
	m.lastPong = time.Now()
	m.pongMu.Unlock()

	keepaliveCtx, stopKeepalive := context.WithCancel(ctx)
	go m.keepaliveLoop(keepaliveCtx, conn)

	m.readLoop(conn)

	stopKeepalive()
	_ = conn.Close()

	m.mu.Lock()
	m.conn = nil
	m.ready = false
	m.bound = false
	session := m.activeSession
	pending := m.pending
	m.pending = nil
	m.mu.Unlock()

	for _, payload := range pending {
		if err := m.sendFallback(ctx, session, payload); err != nil {
			m.cfg.Logger.Warn("fallback delivery of queued keystroke failed", "error", err)
		}
	}
}

func (m *Manager) readLoop(conn Transport) {
	for {
		msgType, payload, err := conn.ReadMessage()
		if err != nil {
			m.cfg.Logger.Debug("input socket read failed", "error", err)
			return
		}
		if msgType != websocket.BinaryMessage {
			// The server only sends control envelopes.
			continue
		}
		msg, err := wire.DecodeControl(payload)
		if err != nil {
			m.cfg.Logger.Warn("undecodable control envelope from server", "error", err)
			continue
		}
		if m.handleControl(conn, msg) {
			return
		}
	}
}

// handleControl applies one server control message. It returns true when
// the connection must be abandoned.
func (m *Manager) handleControl(conn Transport, msg wire.Message) bool {
	switch msg.Type {
	case wire.TypeReady:
		m.mu.Lock()
		m.ready = true
		session := m.activeSession
		m.mu.Unlock()
		if session != "" {
			m.sendBind(conn, session)
		}
	case wire.TypeBindOK:
		// The queue is flushed while holding the write lock, so a Send
		// that observes bound cannot get a newer keystroke onto the
		// wire ahead of the queued ones.
		m.wmu.Lock()
		m.mu.Lock()
		m.bound = true
		pending := m.pending
		m.pending = nil
		m.mu.Unlock()
		for i, payload := range pending {
			if err := conn.WriteMessage(websocket.TextMessage, payload); err != nil {
				// Put the unsent tail back; runConn drains it to HTTP.
				m.mu.Lock()
				m.bound = false
				m.pending = append(pending[i:], m.pending...)
				m.mu.Unlock()
				m.wmu.Unlock()
				return true
			}
		}
		m.wmu.Unlock()
	case wire.TypePong:
		m.pongMu.Lock()
		m.lastPong = time.Now()
		m.pongMu.Unlock()
	case wire.TypeError:
		if msg.Fatal {
			m.cfg.Logger.Warn("fatal error from server", "code", msg.Code)
			return true
		}
		m.cfg.Logger.Debug("error from server", "code", msg.Code)
	}
	return false
}

// keepaliveLoop sends app-level pings while the socket is open and
// treats a missed pong as a degraded channel: the connection is closed,
// which flips delivery to HTTP until the redial succeeds.
func (m *Manager) keepaliveLoop(ctx context.Context, conn Transport) {
	ticker := time.NewTicker(m.cfg.KeepaliveInterval)
	defer ticker.Stop()

	frame, err := wire.EncodeControl(wire.NewPing())
	if err != nil {
		return
	}

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.pongMu.Lock()
			stale := time.Since(m.lastPong) > m.cfg.PongTimeout
			m.pongMu.Unlock()
			if stale {
				m.cfg.Logger.Warn("keepalive pong overdue, degrading to http input")
				_ = conn.Close()
				return
			}
			if err := m.writeMessage(conn, websocket.BinaryMessage, frame); err != nil {
				return
			}
		}
	}
}

func (m *Manager) sendBind(conn Transport, sessionID string) {
	frame, err := wire.EncodeControl(wire.NewBind(sessionID))
	if err != nil {
		return
	}
	if err := m.writeMessage(conn, websocket.BinaryMessage, frame); err != nil {
		m.cfg.Logger.Debug("bind send failed", "session", sessionID, "error", err)
		return
	}

	// If the ack never lands, stop queueing and let keystrokes take the
	// HTTP path instead of pooling forever.
	time.AfterFunc(m.cfg.BindAckTimeout, func() {
		m.mu.Lock()
		if m.bound || m.conn != conn || m.activeSession != sessionID {
			m.mu.Unlock()
			return
		}
		pending := m.pending
		m.pending = nil
		m.mu.Unlock()
		m.cfg.Logger.Warn("bind ack overdue, flushing queue over http", "session", sessionID)
		for _, payload := range pending {
			if err := m.sendFallback(context.Background(), sessionID, payload); err != nil {
				m.cfg.Logger.Warn("fallback delivery of queued keystroke failed", "error", err)
			}
		}
	})
}

func (m *Manager) writeMessage(conn Transport, msgType int, payload []byte) error {
	m.wmu.Lock()
	defer m.wmu.Unlock()
	return conn.WriteMessage(msgType, payload)
}

// sendFallback posts one keystroke to the HTTP input endpoint with the
// same raw payload semantics as a WS text frame.
func (m *Manager) sendFallback(ctx context.Context, sessionID string, payload []byte) error {
	url := fmt.Sprintf("%s/api/terminal/%s/input", m.cfg.BaseURL, sessionID)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/octet-stream")

	resp, err := m.cfg.HTTPClient.Do(req)
	if err != nil {
		return fmt.Errorf("fallback input: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		return fmt.Errorf("fallback input: status %d", resp.StatusCode)
	}
	return nil
}
