// Package api implements the HTTP surface around the input socket: login
// and session validation, terminal session CRUD, the per-keystroke HTTP
// input fallback, and the SSE output stream.
package api

import (
	"encoding/base64"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"sort"
	"strings"
	"time"

	"openchamber-relay/internal/auth"
	"openchamber-relay/internal/term"
)

const (
	maxInputBody = 64 * 1024
	sseHeartbeat = 15 * time.Second
)

// Handler handles HTTP REST API requests.
type Handler struct {
	sessions *term.Manager
	auth     *auth.Service
	logger   *slog.Logger
}

func NewHandler(sessions *term.Manager, authSvc *auth.Service, logger *slog.Logger) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{sessions: sessions, auth: authSvc, logger: logger}
}

// Request/Response types

type LoginRequest struct {
	Password string `json:"password"`
}

type LoginResponse struct {
	Token     string    `json:"token"`
	ExpiresAt time.Time `json:"expires_at"`
}

type ValidateResponse struct {
	Valid bool `json:"valid"`
}

type SessionInfo struct {
	ID         string    `json:"id"`
	Title      string    `json:"title,omitempty"`
	CreatedAt  time.Time `json:"created_at"`
	LastActive time.Time `json:"last_active"`
}

type SessionsResponse struct {
	Sessions []SessionInfo `json:"sessions"`
}

type CreateSessionRequest struct {
	Title      string `json:"title,omitempty"`
	WorkingDir string `json:"working_dir,omitempty"`
}

type CreateSessionResponse struct {
	Session SessionInfo `json:"session"`
}

type ResizeRequest struct {
	Cols int `json:"cols"`
	Rows int `json:"rows"`
}

type ErrorResponse struct {
	Error string `json:"error"`
}

// Helper functions

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, ErrorResponse{Error: message})
}

func sessionToInfo(s *term.Session) SessionInfo {
	return SessionInfo{
		ID:         s.ID,
		Title:      s.Title,
		CreatedAt:  s.CreatedAt,
		LastActive: s.LastActive(),
	}
}

// API Handlers

// HandleLogin exchanges the password for a session cookie.
// POST /api/auth/login
func (h *Handler) HandleLogin(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	if !h.auth.Enabled() {
		writeError(w, http.StatusBadRequest, "password protection disabled")
		return
	}

	var req LoginRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if !h.auth.CheckPassword(req.Password) {
		writeError(w, http.StatusUnauthorized, "invalid password")
		return
	}

	token, expires, err := h.auth.IssueSession()
	if err != nil {
		h.logger.Error("issue session", "error", err)
		writeError(w, http.StatusInternalServerError, "failed to issue session")
		return
	}

	http.SetCookie(w, auth.SessionCookieFor(token, expires))
	writeJSON(w, http.StatusOK, LoginResponse{Token: token, ExpiresAt: expires})
}

// HandleValidate reports whether the current session is valid.
// GET /api/auth/validate
func (h *Handler) HandleValidate(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, ValidateResponse{Valid: true})
}

// HandleSessions dispatches /api/sessions.
func (h *Handler) HandleSessions(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		h.handleListSessions(w, r)
	case http.MethodPost:
		h.handleCreateSession(w, r)
	default:
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
	}
}

func (h *Handler) handleListSessions(w http.ResponseWriter, _ *http.Request) {
	sessions := h.sessions.List()
	infos := make([]SessionInfo, 0, len(sessions))
	for _, s := range sessions {
		infos = append(infos, sessionToInfo(s))
	}
	sort.Slice(infos, func(i, j int) bool {
		return infos[i].CreatedAt.Before(infos[j].CreatedAt)
	})
	writeJSON(w, http.StatusOK, SessionsResponse{Sessions: infos})
}

func (h *Handler) handleCreateSession(w http.ResponseWriter, r *http.Request) {
	var req CreateSessionRequest
	if r.Body != nil {
		_ = json.NewDecoder(r.Body).Decode(&req)
	}

	s, err := h.sessions.Create(req.Title, req.WorkingDir)
	if err != nil {
		h.logger.Error("create session", "error", err)
		writeError(w, http.StatusInternalServerError, "failed to create session")
		return
	}
	writeJSON(w, http.StatusCreated, CreateSessionResponse{Session: sessionToInfo(s)})
}

// HandleSessionByID dispatches /api/sessions/{id}.
func (h *Handler) HandleSessionByID(w http.ResponseWriter, r *http.Request) {
	id := strings.TrimPrefix(r.URL.Path, "/api/sessions/")
	if id == "" || strings.Contains(id, "/") {
		writeError(w, http.StatusNotFound, "not found")
		return
	}

	switch r.Method {
	case http.MethodDelete:
		if err := h.sessions.Delete(id); err != nil {
			writeError(w, http.StatusNotFound, "session not found")
			return
		}
		w.WriteHeader(http.StatusNoContent)
	default:
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
	}
}

// HandleTerminal dispatches /api/terminal/{id}/{action} for the input
// fallback, the output stream and resize.
func (h *Handler) HandleTerminal(w http.ResponseWriter, r *http.Request) {
	rest := strings.TrimPrefix(r.URL.Path, "/api/terminal/")
	parts := strings.SplitN(rest, "/", 2)
	if len(parts) != 2 || parts[0] == "" {
		writeError(w, http.StatusNotFound, "not found")
		return
	}
	id, action := parts[0], parts[1]

	switch {
	case action == "input" && r.Method == http.MethodPost:
		h.handleInput(w, r, id)
	case action == "stream" && r.Method == http.MethodGet:
		h.handleStream(w, r, id)
	case action == "resize" && r.Method == http.MethodPost:
		h.handleResize(w, r, id)
	default:
		writeError(w, http.StatusNotFound, "not found")
	}
}

// handleInput is the HTTP fallback for keystroke delivery. The body is
// the raw keystroke payload with the same semantics as a WS text frame.
func (h *Handler) handleInput(w http.ResponseWriter, r *http.Request, id string) {
	s := h.sessions.Get(id)
	if s == nil || s.Closed() {
		writeError(w, http.StatusNotFound, "session not found")
		return
	}

	payload, err := io.ReadAll(io.LimitReader(r.Body, maxInputBody))
	if err != nil {
		writeError(w, http.StatusBadRequest, "failed to read body")
		return
	}
	if err := s.WriteInput(payload); err != nil {
		writeError(w, http.StatusNotFound, "session not found")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) handleResize(w http.ResponseWriter, r *http.Request, id string) {
	s := h.sessions.Get(id)
	if s == nil || s.Closed() {
		writeError(w, http.StatusNotFound, "session not found")
		return
	}

	var req ResizeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.Cols <= 0 || req.Rows <= 0 || req.Cols > 1000 || req.Rows > 1000 {
		writeError(w, http.StatusBadRequest, "invalid dimensions")
		return
	}
	if err := s.Resize(uint16(req.Cols), uint16(req.Rows)); err != nil {
		writeError(w, http.StatusNotFound, "session not found")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// handleStream serves the session's output as Server-Sent Events. Output
// chunks arrive as base64 data events so raw terminal bytes survive the
// text protocol.
func (h *Handler) handleStream(w http.ResponseWriter, r *http.Request, id string) {
	s := h.sessions.Get(id)
	if s == nil || s.Closed() {
		writeError(w, http.StatusNotFound, "session not found")
		return
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, http.StatusInternalServerError, "streaming unsupported")
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	out, cancel := s.Subscribe()
	defer cancel()

	heartbeat := time.NewTicker(sseHeartbeat)
	defer heartbeat.Stop()

	for {
		select {
		case <-r.Context().Done():
			return
		case <-s.Done():
			_, _ = io.WriteString(w, "event: exit\ndata: {}\n\n")
			flusher.Flush()
			return
		case data, ok := <-out:
			if !ok {
				return
			}
			_, _ = io.WriteString(w, "data: "+base64.StdEncoding.EncodeToString(data)+"\n\n")
			flusher.Flush()
		case <-heartbeat.C:
			_, _ = io.WriteString(w, ": ping\n\n")
			flusher.Flush()
		}
	}
}
