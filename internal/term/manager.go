// Package term owns the terminal session processes: pty-backed shells
// identified by string ids. Sessions are independent of any socket; a
// closed input connection never tears a session down.
package term

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"sync"
	"time"

	"github.com/creack/pty"
	"github.com/google/uuid"
)

var ErrSessionNotFound = errors.New("session not found")

type Config struct {
	// Shell is the command started in new sessions. Defaults to $SHELL
	// then /bin/sh.
	Shell string
	// DefaultDir is the working directory for new sessions.
	DefaultDir string
	// IdleTTL is how long a session with no output subscriber and no
	// input survives before it is reaped. Zero disables reaping.
	IdleTTL time.Duration
}

// Manager creates, resolves and reaps terminal sessions.
type Manager struct {
	mu       sync.RWMutex
	sessions map[string]*Session
	cfg      Config
	logger   *slog.Logger
}

func NewManager(cfg Config, logger *slog.Logger) *Manager {
	if cfg.Shell == "" {
		if env := os.Getenv("SHELL"); env != "" {
			cfg.Shell = env
		} else {
			cfg.Shell = "/bin/sh"
		}
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Manager{
		sessions: make(map[string]*Session),
		cfg:      cfg,
		logger:   logger,
	}
}

// Create starts a new pty-backed session.
func (m *Manager) Create(title, workingDir string) (*Session, error) {
	if workingDir == "" {
		workingDir = m.cfg.DefaultDir
	}

	cmd := exec.Command(m.cfg.Shell)
	cmd.Dir = workingDir
	cmd.Env = append(os.Environ(), "TERM=xterm-256color")

	ptmx, err := pty.Start(cmd)
	if err != nil {
		return nil, fmt.Errorf("start pty: %w", err)
	}

	s := &Session{
		ID:          uuid.NewString(),
		Title:       title,
		CreatedAt:   time.Now(),
		cmd:         cmd,
		ptmx:        ptmx,
		writeCh:     make(chan []byte, writeQueueSize),
		doneCh:      make(chan struct{}),
		subscribers: make(map[chan []byte]struct{}),
		lastActive:  time.Now(),
		idleTTL:     m.cfg.IdleTTL,
		onIdle:      m.reapIfIdle,
	}

	m.mu.Lock()
	m.sessions[s.ID] = s
	m.mu.Unlock()

	go s.readLoop(m.remove)
	go s.writeLoop()

	// A session nobody ever attaches to is reaped like an abandoned one.
	s.scheduleIdleStop()

	m.logger.Info("session created", "session", s.ID, "title", title, "shell", m.cfg.Shell)
	return s, nil
}

// Get returns a session by id, nil when unknown.
func (m *Manager) Get(sessionID string) *Session {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.sessions[sessionID]
}

// List returns all live sessions.
func (m *Manager) List() []*Session {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]*Session, 0, len(m.sessions))
	for _, s := range m.sessions {
		out = append(out, s)
	}
	return out
}

// Delete terminates and removes a session.
func (m *Manager) Delete(sessionID string) error {
	m.mu.Lock()
	s, ok := m.sessions[sessionID]
	if !ok {
		m.mu.Unlock()
		return ErrSessionNotFound
	}
	delete(m.sessions, sessionID)
	m.mu.Unlock()

	s.markClosed()
	s.close()
	m.logger.Info("session deleted", "session", sessionID)
	return nil
}

// reapIfIdle stops a session whose idle timer fired. Input delivered
// since the timer was armed pushes the stop out by the remaining TTL; a
// subscriber attaching in the meantime cancels it entirely.
func (m *Manager) reapIfIdle(s *Session) {
	if s.Closed() || s.subscriberCount() > 0 {
		return
	}
	if idle := time.Since(s.LastActive()); idle < m.cfg.IdleTTL {
		s.rearmIdleStop(m.cfg.IdleTTL - idle)
		return
	}

	m.mu.Lock()
	delete(m.sessions, s.ID)
	m.mu.Unlock()

	s.markClosed()
	s.close()
	m.logger.Info("idle session reaped", "session", s.ID, "ttl", m.cfg.IdleTTL)
}

func (m *Manager) remove(s *Session) {
	m.mu.Lock()
	delete(m.sessions, s.ID)
	m.mu.Unlock()
	m.logger.Info("session process exited", "session", s.ID)
}
