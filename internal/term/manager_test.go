package term

import (
	"bytes"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCreateListDelete(t *testing.T) {
	m := NewManager(Config{Shell: "/bin/sh"}, nil)

	s, err := m.Create("work", "")
	require.NoError(t, err)
	require.NotEmpty(t, s.ID)
	assert.Equal(t, "work", s.Title)
	assert.Same(t, s, m.Get(s.ID))
	assert.Len(t, m.List(), 1)

	require.NoError(t, m.Delete(s.ID))
	assert.Nil(t, m.Get(s.ID))
	assert.True(t, s.Closed())

	require.ErrorIs(t, m.Delete(s.ID), ErrSessionNotFound)
}

func TestWriteInputAfterClose(t *testing.T) {
	m := NewManager(Config{Shell: "/bin/sh"}, nil)
	s, err := m.Create("", "")
	require.NoError(t, err)
	require.NoError(t, m.Delete(s.ID))

	require.ErrorIs(t, s.WriteInput([]byte("x")), ErrSessionClosed)
	require.ErrorIs(t, s.Resize(80, 24), ErrSessionClosed)
}

func TestSessionEchoesInputToSubscribers(t *testing.T) {
	m := NewManager(Config{Shell: "/bin/cat"}, nil)
	s, err := m.Create("", "")
	require.NoError(t, err)
	defer func() { _ = m.Delete(s.ID) }()

	out, cancel := s.Subscribe()
	defer cancel()

	require.NoError(t, s.WriteInput([]byte("hello\n")))

	deadline := time.After(5 * time.Second)
	var got []byte
	for {
		select {
		case data, ok := <-out:
			require.True(t, ok, "output channel closed before echo arrived")
			got = append(got, data...)
			if bytes.Contains(got, []byte("hello")) {
				return
			}
		case <-deadline:
			t.Fatalf("no echo within deadline, got %q", got)
		}
	}
}

func TestIdleSessionReaped(t *testing.T) {
	m := NewManager(Config{Shell: "/bin/sh", IdleTTL: 50 * time.Millisecond}, nil)
	s, err := m.Create("", "")
	require.NoError(t, err)

	require.Eventually(t, func() bool { return m.Get(s.ID) == nil }, 5*time.Second, 10*time.Millisecond)
	assert.True(t, s.Closed())
}

func TestAttachedSessionNotReaped(t *testing.T) {
	m := NewManager(Config{Shell: "/bin/sh", IdleTTL: 50 * time.Millisecond}, nil)
	s, err := m.Create("", "")
	require.NoError(t, err)

	_, cancel := s.Subscribe()
	time.Sleep(200 * time.Millisecond)
	require.Same(t, s, m.Get(s.ID))
	assert.False(t, s.Closed())

	// Detaching starts the idle clock.
	cancel()
	require.Eventually(t, func() bool { return m.Get(s.ID) == nil }, 5*time.Second, 10*time.Millisecond)
	assert.True(t, s.Closed())
}

func TestRecentInputDefersReap(t *testing.T) {
	m := NewManager(Config{Shell: "/bin/sh", IdleTTL: time.Second}, nil)
	s, err := m.Create("", "")
	require.NoError(t, err)

	time.Sleep(300 * time.Millisecond)
	require.NoError(t, s.WriteInput([]byte("x")))

	// The original deadline passes but the input pushed the stop out.
	time.Sleep(900 * time.Millisecond)
	require.Same(t, s, m.Get(s.ID))

	require.Eventually(t, func() bool { return m.Get(s.ID) == nil }, 5*time.Second, 10*time.Millisecond)
}

func TestBroadcastDropsOldestForSlowSubscriber(t *testing.T) {
	s := &Session{subscribers: make(map[chan []byte]struct{})}
	ch, cancel := s.Subscribe()
	defer cancel()

	for i := 0; i < subscriberQueueLen+1; i++ {
		s.broadcast([]byte{byte(i >> 8), byte(i)})
	}

	// The oldest chunk made room for the newest; order is preserved.
	assert.Equal(t, []byte{0, 1}, <-ch)
	var last []byte
	for {
		select {
		case data := <-ch:
			last = data
		default:
			n := subscriberQueueLen
			assert.Equal(t, []byte{byte(n >> 8), byte(n)}, last)
			return
		}
	}
}

func TestSubscribeCancelTwice(t *testing.T) {
	m := NewManager(Config{Shell: "/bin/sh"}, nil)
	s, err := m.Create("", "")
	require.NoError(t, err)
	defer func() { _ = m.Delete(s.ID) }()

	_, cancel := s.Subscribe()
	cancel()
	cancel()
}
