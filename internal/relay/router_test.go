package relay

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordSink struct {
	writes [][]byte
	err    error
}

func (s *recordSink) WriteInput(data []byte) error {
	if s.err != nil {
		return s.err
	}
	buf := make([]byte, len(data))
	copy(buf, data)
	s.writes = append(s.writes, buf)
	return nil
}

type mapResolver map[string]*recordSink

func (m mapResolver) Resolve(id string) (InputSink, bool) {
	s, ok := m[id]
	return s, ok
}

func newTestConn() *Conn {
	return NewConn("c1", 5, 10*time.Second)
}

func TestRouteTextBeforeBindIsDropped(t *testing.T) {
	sink := &recordSink{}
	router := NewRouter(mapResolver{"abc": sink})

	err := router.RouteText(newTestConn(), []byte("\r"))
	require.ErrorIs(t, err, ErrNotBound)
	assert.Empty(t, sink.writes)
}

func TestRouteTextDeliversVerbatim(t *testing.T) {
	sink := &recordSink{}
	router := NewRouter(mapResolver{"abc": sink})

	conn := newTestConn()
	require.NoError(t, conn.Bind("abc"))

	require.NoError(t, router.RouteText(conn, []byte("\r")))
	require.NoError(t, router.RouteText(conn, []byte("[A")))
	require.NoError(t, router.RouteText(conn, []byte("")))

	require.Len(t, sink.writes, 3)
	assert.Equal(t, []byte("\r"), sink.writes[0])
	assert.Equal(t, []byte("\x1b[A"), sink.writes[1])
	assert.Equal(t, []byte("\x03"), sink.writes[2])
}

func TestRouteTextLastBindWins(t *testing.T) {
	s1 := &recordSink{}
	s2 := &recordSink{}
	router := NewRouter(mapResolver{"s1": s1, "s2": s2})

	conn := newTestConn()
	require.NoError(t, conn.Bind("s1"))
	require.NoError(t, conn.Bind("s2"))

	require.NoError(t, router.RouteText(conn, []byte("x")))
	assert.Empty(t, s1.writes)
	require.Len(t, s2.writes, 1)
}

func TestRouteTextUnknownSession(t *testing.T) {
	router := NewRouter(mapResolver{})

	conn := newTestConn()
	require.NoError(t, conn.Bind("gone"))

	err := router.RouteText(conn, []byte("x"))
	require.ErrorIs(t, err, ErrUnknownSession)
	// The socket may rebind later; the connection record is untouched.
	id, bound := conn.BoundSession()
	require.True(t, bound)
	assert.Equal(t, "gone", id)
}

func TestRouteTextSinkFailureIsUnknownSession(t *testing.T) {
	sink := &recordSink{err: errors.New("process exited")}
	router := NewRouter(mapResolver{"abc": sink})

	conn := newTestConn()
	require.NoError(t, conn.Bind("abc"))

	err := router.RouteText(conn, []byte("x"))
	require.ErrorIs(t, err, ErrUnknownSession)
}
