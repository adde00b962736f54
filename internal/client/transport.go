package client

import (
	"context"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
)

// Transport is the subset of the websocket connection the channel
// manager uses. It exists so tests can substitute a fake.
type Transport interface {
	ReadMessage() (messageType int, p []byte, err error)
	WriteMessage(messageType int, data []byte) error
	Close() error
}

// Dialer opens a new transport. The manager redials through it on every
// reconnect attempt.
type Dialer func(ctx context.Context) (Transport, error)

// WebSocketDialer dials the terminal input endpoint with the browser-side
// credentials: the cookie jar carries the UI session, no independent
// credential handling happens here.
func WebSocketDialer(url string, jar http.CookieJar, header http.Header) Dialer {
	return func(ctx context.Context) (Transport, error) {
		d := websocket.Dialer{
			HandshakeTimeout: 10 * time.Second,
			Jar:              jar,
		}
		conn, resp, err := d.DialContext(ctx, url, header)
		if resp != nil && resp.Body != nil {
			_ = resp.Body.Close()
		}
		if err != nil {
			return nil, err
		}
		return conn, nil
	}
}
