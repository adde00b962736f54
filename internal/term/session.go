package term

import (
	"errors"
	"os"
	"os/exec"
	"sync"
	"syscall"
	"time"

	"github.com/creack/pty"
)

var ErrSessionClosed = errors.New("session closed")

const (
	writeQueueSize     = 256
	subscriberQueueLen = 256
	readBufSize        = 32 * 1024
)

// Session is one pty-backed terminal process. Input arrives through
// WriteInput (from the input socket router or the HTTP fallback) and is
// written to the pty by a dedicated write loop, so interleaved writers
// are serialized in channel order. Output is fanned out to subscribers.
type Session struct {
	ID        string
	Title     string
	CreatedAt time.Time

	cmd  *exec.Cmd
	ptmx *os.File

	writeCh   chan []byte
	doneCh    chan struct{}
	closeOnce sync.Once

	subscribers map[chan []byte]struct{}
	subMu       sync.RWMutex

	idleTTL time.Duration
	onIdle  func(*Session)

	mu         sync.Mutex
	lastActive time.Time
	closed     bool
	idleTimer  *time.Timer
}

func (s *Session) Touch() {
	s.mu.Lock()
	s.lastActive = time.Now()
	s.mu.Unlock()
}

func (s *Session) LastActive() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastActive
}

// Closed reports whether the backing process has exited or been killed.
func (s *Session) Closed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

// WriteInput queues raw keystroke bytes for the pty. The payload is
// pty-ready and is never transformed. Returns ErrSessionClosed once the
// backing process is gone; a full queue drops the payload rather than
// blocking the caller's read loop.
func (s *Session) WriteInput(data []byte) error {
	if s.Closed() {
		return ErrSessionClosed
	}
	buf := make([]byte, len(data))
	copy(buf, data)
	select {
	case s.writeCh <- buf:
		s.Touch()
		return nil
	case <-s.doneCh:
		return ErrSessionClosed
	default:
		// Queue full: shed rather than stall the socket read loop.
		return nil
	}
}

// Resize sets the pty window size.
func (s *Session) Resize(cols, rows uint16) error {
	if cols == 0 || rows == 0 {
		return nil
	}
	if s.Closed() {
		return ErrSessionClosed
	}
	return pty.Setsize(s.ptmx, &pty.Winsize{Cols: cols, Rows: rows})
}

// Subscribe registers an output consumer. The returned channel receives
// raw pty output; slow consumers have their oldest chunks dropped rather
// than stalling the read loop. The cancel func must be called exactly
// once. An attached subscriber keeps the session off the idle reaper.
func (s *Session) Subscribe() (<-chan []byte, func()) {
	ch := make(chan []byte, subscriberQueueLen)
	s.subMu.Lock()
	s.subscribers[ch] = struct{}{}
	s.subMu.Unlock()
	s.stopIdleTimer()
	s.Touch()

	cancel := func() {
		s.subMu.Lock()
		unattached := false
		if _, ok := s.subscribers[ch]; ok {
			delete(s.subscribers, ch)
			close(ch)
			unattached = len(s.subscribers) == 0
		}
		s.subMu.Unlock()
		if unattached {
			s.Touch()
			s.scheduleIdleStop()
		}
	}
	return ch, cancel
}

func (s *Session) subscriberCount() int {
	s.subMu.RLock()
	defer s.subMu.RUnlock()
	return len(s.subscribers)
}

// scheduleIdleStop arms the idle timer. It fires onIdle once the TTL
// elapses; the manager re-checks attachment and recent input before
// actually stopping the session.
func (s *Session) scheduleIdleStop() {
	if s.idleTTL <= 0 || s.onIdle == nil {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	if s.idleTimer != nil {
		s.idleTimer.Stop()
	}
	s.idleTimer = time.AfterFunc(s.idleTTL, func() { s.onIdle(s) })
}

func (s *Session) rearmIdleStop(d time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed || s.onIdle == nil {
		return
	}
	if s.idleTimer != nil {
		s.idleTimer.Stop()
	}
	s.idleTimer = time.AfterFunc(d, func() { s.onIdle(s) })
}

func (s *Session) stopIdleTimer() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.idleTimer != nil {
		s.idleTimer.Stop()
		s.idleTimer = nil
	}
}

// Done is closed when the session terminates.
func (s *Session) Done() <-chan struct{} { return s.doneCh }

func (s *Session) readLoop(onExit func(*Session)) {
	buf := make([]byte, readBufSize)
	for {
		n, err := s.ptmx.Read(buf)
		if n > 0 {
			data := make([]byte, n)
			copy(data, buf[:n])
			s.broadcast(data)
		}
		if err != nil {
			s.markClosed()
			onExit(s)
			s.close()
			return
		}
	}
}

func (s *Session) writeLoop() {
	for {
		select {
		case data := <-s.writeCh:
			if _, err := s.ptmx.Write(data); err != nil {
				return
			}
		case <-s.doneCh:
			return
		}
	}
}

func (s *Session) broadcast(data []byte) {
	s.subMu.RLock()
	defer s.subMu.RUnlock()
	for ch := range s.subscribers {
		select {
		case ch <- data:
		default:
			// Slow subscriber: drop its oldest chunk so the newest
			// output survives.
			select {
			case <-ch:
			default:
			}
			select {
			case ch <- data:
			default:
			}
		}
	}
}

func (s *Session) markClosed() {
	s.mu.Lock()
	s.closed = true
	if s.idleTimer != nil {
		s.idleTimer.Stop()
		s.idleTimer = nil
	}
	s.mu.Unlock()
}

func (s *Session) close() {
	s.closeOnce.Do(func() {
		close(s.doneCh)
		if s.ptmx != nil {
			_ = s.ptmx.Close()
		}
		if s.cmd != nil && s.cmd.Process != nil {
			_ = s.cmd.Process.Signal(syscall.SIGTERM)
			time.AfterFunc(5*time.Second, func() {
				_ = s.cmd.Process.Kill()
			})
		}
		s.subMu.Lock()
		for ch := range s.subscribers {
			close(ch)
		}
		s.subscribers = make(map[chan []byte]struct{})
		s.subMu.Unlock()
	})
}
