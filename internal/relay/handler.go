// Package relay implements the server side of the terminal input
// multiplexing protocol: one persistent WebSocket per client runtime,
// carrying raw keystroke text frames routed to whichever terminal session
// the socket is currently bound to, plus binary control envelopes for
// bind, keepalive and error reporting.
package relay

import (
	"errors"
	"log/slog"
	"net/http"
	"net/url"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"openchamber-relay/internal/auth"
	"openchamber-relay/internal/wire"
)

const (
	writeWait      = 10 * time.Second
	readWait       = 120 * time.Second
	maxMessageSize = 64 * 1024
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
	CheckOrigin:     isAllowedOrigin,
}

// Cookie-authenticated upgrades must come from the host serving the UI.
// The origin host is compared exactly; a prefix match would let
// http://host:port.evil.tld through.
func isAllowedOrigin(r *http.Request) bool {
	origin := r.Header.Get("Origin")
	if origin == "" {
		return true
	}
	u, err := url.Parse(origin)
	if err != nil {
		return false
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return false
	}
	return u.Host == r.Host
}

// Options carries the connection policy knobs. Zero values fall back to
// the documented defaults.
type Options struct {
	MalformedFrameLimit  int
	MalformedFrameWindow time.Duration
}

func (o Options) withDefaults() Options {
	if o.MalformedFrameLimit <= 0 {
		o.MalformedFrameLimit = 5
	}
	if o.MalformedFrameWindow <= 0 {
		o.MalformedFrameWindow = 10 * time.Second
	}
	return o
}

// Handler serves the terminal input WebSocket endpoint.
type Handler struct {
	router *Router
	auth   *auth.Service
	opts   Options
	logger *slog.Logger
}

func NewHandler(router *Router, authSvc *auth.Service, opts Options, logger *slog.Logger) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{
		router: router,
		auth:   authSvc,
		opts:   opts.withDefaults(),
		logger: logger,
	}
}

// ServeWS upgrades the request and runs the connection until close.
// Frames are processed strictly in arrival order on this goroutine, which
// is what guarantees a bind takes effect for every keystroke behind it.
func (h *Handler) ServeWS(w http.ResponseWriter, r *http.Request) {
	if h.auth.Enabled() && !h.auth.Authenticated(r) {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}
	// The socket can outlive the session token that authorized the
	// upgrade; expiry is re-checked per frame.
	var sessionDeadline time.Time
	if h.auth.Enabled() {
		if exp, ok := h.auth.SessionExpiry(r); ok {
			sessionDeadline = exp
		}
	}

	ws, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn("input-ws upgrade failed", "error", err)
		return
	}
	defer ws.Close()

	conn := NewConn(uuid.NewString(), h.opts.MalformedFrameLimit, h.opts.MalformedFrameWindow)
	defer conn.Close()

	logger := h.logger.With("conn", conn.ID)
	logger.Debug("input-ws connected", "remote", ws.RemoteAddr().String())

	ws.SetReadLimit(maxMessageSize)
	_ = ws.SetReadDeadline(time.Now().Add(readWait))
	ws.SetPongHandler(func(string) error {
		return ws.SetReadDeadline(time.Now().Add(readWait))
	})

	// Ready goes out before any frame is read so the client never sees
	// a bok ahead of ok.
	if err := sendControl(ws, wire.NewReady()); err != nil {
		return
	}

	for {
		msgType, payload, err := ws.ReadMessage()
		if err != nil {
			logger.Debug("input-ws closed", "error", err, "idle", time.Since(conn.LastActivity()))
			return
		}
		_ = ws.SetReadDeadline(time.Now().Add(readWait))

		if !sessionDeadline.IsZero() && time.Now().After(sessionDeadline) {
			logger.Info("session token expired, closing input-ws")
			_ = sendControl(ws, wire.NewError(wire.CodeAuth, true))
			return
		}

		switch msgType {
		case websocket.TextMessage:
			if err := h.router.RouteText(conn, payload); err != nil {
				if errors.Is(err, ErrNotBound) || errors.Is(err, ErrUnknownSession) {
					// Dropped frame, socket stays open: the client
					// may bind (or rebind) and continue.
					_ = sendControl(ws, wire.NewError(wire.CodeUnknownSession, false))
					continue
				}
				logger.Warn("route keystroke", "error", err)
			}
		case websocket.BinaryMessage:
			if fatal := h.handleControl(ws, conn, logger, payload); fatal {
				return
			}
		}
	}
}

// handleControl processes one binary control envelope. It returns true
// when the connection must close (rate limit exceeded or bind after
// close, which cannot happen on a live read loop but is handled anyway).
func (h *Handler) handleControl(ws *websocket.Conn, conn *Conn, logger *slog.Logger, payload []byte) bool {
	msg, err := wire.DecodeControl(payload)
	if err != nil {
		logger.Debug("bad control envelope", "error", err)
		return h.strike(ws, conn)
	}

	switch msg.Type {
	case wire.TypeBind:
		if msg.FutureVersion() {
			logger.Warn("bind with future protocol version", "version", msg.Version)
		}
		if err := conn.Bind(msg.SessionID); err != nil {
			return true
		}
		if err := sendControl(ws, wire.NewBindOK()); err != nil {
			return true
		}
		logger.Debug("bound", "session", msg.SessionID)
	case wire.TypePing:
		conn.Touch()
		if err := sendControl(ws, wire.NewPong()); err != nil {
			return true
		}
	default:
		// Server-to-client types arriving from the client are invalid.
		return h.strike(ws, conn)
	}
	return false
}

// strike charges one invalid frame to the connection. Under the limit the
// client gets a non-fatal bad_frame report; over it the socket is told
// rate_limited with the fatal flag and closed.
func (h *Handler) strike(ws *websocket.Conn, conn *Conn) bool {
	if conn.Strike() {
		_ = sendControl(ws, wire.NewError(wire.CodeRateLimited, true))
		return true
	}
	_ = sendControl(ws, wire.NewError(wire.CodeBadFrame, false))
	return false
}

func sendControl(ws *websocket.Conn, msg wire.Message) error {
	frame, err := wire.EncodeControl(msg)
	if err != nil {
		return err
	}
	_ = ws.SetWriteDeadline(time.Now().Add(writeWait))
	return ws.WriteMessage(websocket.BinaryMessage, frame)
}
