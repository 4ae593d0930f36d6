// Package stream speaks the Autonomic telemetry websocket.
package stream

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/autopeer-io/fordpass-bridge/internal/bridge/transport"
)

const writeTimeout = 10 * time.Second

// ErrClosed is returned by Next after the peer or Close ended the stream.
var ErrClosed = errors.New("telemetry stream closed")

// Conn is an open telemetry stream. Next must be called from one goroutine;
// writes and Close are safe from any goroutine.
type Conn struct {
	ws *websocket.Conn

	writeMu   sync.Mutex
	closeOnce sync.Once
}

// Dial opens the stream at url with the given handshake headers.
func Dial(ctx context.Context, url string, header http.Header) (*Conn, error) {
	dialer := websocket.Dialer{
		Proxy:             http.ProxyFromEnvironment,
		HandshakeTimeout:  transport.ConnectTimeout,
		EnableCompression: true,
	}
	ws, resp, err := dialer.DialContext(ctx, url, header)
	if err != nil {
		if resp != nil {
			code := resp.StatusCode
			if code == http.StatusUnauthorized {
				return nil, fmt.Errorf("%w: stream handshake: status %d", transport.ErrUnauthorized, code)
			}
			return nil, fmt.Errorf("%w: stream handshake: status %d", transport.ErrTransient, code)
		}
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, fmt.Errorf("%w: stream handshake: %v", transport.ErrTransient, err)
	}
	return &Conn{ws: ws}, nil
}

// Next blocks for the next text frame. Binary and control frames are skipped.
func (c *Conn) Next() (Frame, error) {
	for {
		typ, data, err := c.ws.ReadMessage()
		if err != nil {
			if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				return Frame{}, ErrClosed
			}
			return Frame{}, fmt.Errorf("%w: reading stream: %v", ErrClosed, err)
		}
		if typ != websocket.TextMessage {
			continue
		}
		return Classify(data)
	}
}

// SendAccessToken hands a new relay token to the open stream. The server
// acknowledges it with a 202 status frame.
func (c *Conn) SendAccessToken(token string) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	if err := c.ws.SetWriteDeadline(time.Now().Add(writeTimeout)); err != nil {
		return err
	}
	return c.ws.WriteJSON(map[string]string{"accessToken": token})
}

// Close sends a close frame and releases the connection. A blocked Next
// returns ErrClosed.
func (c *Conn) Close() error {
	var err error
	c.closeOnce.Do(func() {
		c.writeMu.Lock()
		_ = c.ws.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(time.Second))
		c.writeMu.Unlock()
		err = c.ws.Close()
	})
	return err
}
