package api

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"openchamber-relay/internal/auth"
	"openchamber-relay/internal/term"
)

func newTestHandler(t *testing.T, password string) (*Handler, *auth.Service) {
	t.Helper()
	svc, err := auth.NewService(password, 0)
	require.NoError(t, err)
	sessions := term.NewManager(term.Config{Shell: "/bin/sh"}, nil)
	return NewHandler(sessions, svc, nil), svc
}

func TestLoginFlow(t *testing.T) {
	h, svc := newTestHandler(t, "hunter2")

	t.Run("wrong password", func(t *testing.T) {
		body := strings.NewReader(`{"password":"nope"}`)
		w := httptest.NewRecorder()
		h.HandleLogin(w, httptest.NewRequest("POST", "/api/auth/login", body))
		assert.Equal(t, http.StatusUnauthorized, w.Code)
	})

	t.Run("correct password sets cookie", func(t *testing.T) {
		body := strings.NewReader(`{"password":"hunter2"}`)
		w := httptest.NewRecorder()
		h.HandleLogin(w, httptest.NewRequest("POST", "/api/auth/login", body))
		require.Equal(t, http.StatusOK, w.Code)

		var resp LoginResponse
		require.NoError(t, json.NewDecoder(w.Body).Decode(&resp))
		assert.True(t, svc.ValidateSession(resp.Token))

		cookies := w.Result().Cookies()
		require.NotEmpty(t, cookies)
		assert.Equal(t, auth.SessionCookie, cookies[0].Name)
	})

	t.Run("get not allowed", func(t *testing.T) {
		w := httptest.NewRecorder()
		h.HandleLogin(w, httptest.NewRequest("GET", "/api/auth/login", nil))
		assert.Equal(t, http.StatusMethodNotAllowed, w.Code)
	})
}

func TestLoginDisabledWhenNoPassword(t *testing.T) {
	h, _ := newTestHandler(t, "")
	w := httptest.NewRecorder()
	h.HandleLogin(w, httptest.NewRequest("POST", "/api/auth/login", strings.NewReader(`{"password":"x"}`)))
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestAuthMiddleware(t *testing.T) {
	svc, err := auth.NewService("hunter2", 0)
	require.NoError(t, err)
	next := func(w http.ResponseWriter, r *http.Request) { w.WriteHeader(http.StatusOK) }

	t.Run("rejects without session", func(t *testing.T) {
		w := httptest.NewRecorder()
		AuthMiddleware(svc, next)(w, httptest.NewRequest("GET", "/", nil))
		assert.Equal(t, http.StatusUnauthorized, w.Code)
	})

	t.Run("passes with bearer", func(t *testing.T) {
		token, _, err := svc.IssueSession()
		require.NoError(t, err)
		r := httptest.NewRequest("GET", "/", nil)
		r.Header.Set("Authorization", "Bearer "+token)
		w := httptest.NewRecorder()
		AuthMiddleware(svc, next)(w, r)
		assert.Equal(t, http.StatusOK, w.Code)
	})

	t.Run("open when auth disabled", func(t *testing.T) {
		openSvc, err := auth.NewService("", 0)
		require.NoError(t, err)
		w := httptest.NewRecorder()
		AuthMiddleware(openSvc, next)(w, httptest.NewRequest("GET", "/", nil))
		assert.Equal(t, http.StatusOK, w.Code)
	})
}

func TestTerminalInputUnknownSession(t *testing.T) {
	h, _ := newTestHandler(t, "")

	w := httptest.NewRecorder()
	r := httptest.NewRequest("POST", "/api/terminal/nope/input", bytes.NewReader([]byte("\r")))
	h.HandleTerminal(w, r)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestTerminalRoutes(t *testing.T) {
	h, _ := newTestHandler(t, "")

	t.Run("missing action", func(t *testing.T) {
		w := httptest.NewRecorder()
		h.HandleTerminal(w, httptest.NewRequest("POST", "/api/terminal/abc", nil))
		assert.Equal(t, http.StatusNotFound, w.Code)
	})

	t.Run("wrong method for input", func(t *testing.T) {
		w := httptest.NewRecorder()
		h.HandleTerminal(w, httptest.NewRequest("GET", "/api/terminal/abc/input", nil))
		assert.Equal(t, http.StatusNotFound, w.Code)
	})
}

func TestSessionLifecycleOverHTTP(t *testing.T) {
	h, _ := newTestHandler(t, "")

	// Create
	w := httptest.NewRecorder()
	h.HandleSessions(w, httptest.NewRequest("POST", "/api/sessions", strings.NewReader(`{"title":"work"}`)))
	require.Equal(t, http.StatusCreated, w.Code)
	var created CreateSessionResponse
	require.NoError(t, json.NewDecoder(w.Body).Decode(&created))
	require.NotEmpty(t, created.Session.ID)
	assert.Equal(t, "work", created.Session.Title)

	// List
	w = httptest.NewRecorder()
	h.HandleSessions(w, httptest.NewRequest("GET", "/api/sessions", nil))
	require.Equal(t, http.StatusOK, w.Code)
	var list SessionsResponse
	require.NoError(t, json.NewDecoder(w.Body).Decode(&list))
	require.Len(t, list.Sessions, 1)

	// Input fallback accepts the raw payload.
	w = httptest.NewRecorder()
	r := httptest.NewRequest("POST", "/api/terminal/"+created.Session.ID+"/input", bytes.NewReader([]byte("\r")))
	h.HandleTerminal(w, r)
	assert.Equal(t, http.StatusNoContent, w.Code)

	// Resize validation
	w = httptest.NewRecorder()
	r = httptest.NewRequest("POST", "/api/terminal/"+created.Session.ID+"/resize", strings.NewReader(`{"cols":0,"rows":24}`))
	h.HandleTerminal(w, r)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	// Delete
	w = httptest.NewRecorder()
	h.HandleSessionByID(w, httptest.NewRequest("DELETE", "/api/sessions/"+created.Session.ID, nil))
	assert.Equal(t, http.StatusNoContent, w.Code)

	w = httptest.NewRecorder()
	h.HandleSessionByID(w, httptest.NewRequest("DELETE", "/api/sessions/"+created.Session.ID, nil))
	assert.Equal(t, http.StatusNotFound, w.Code)
}
