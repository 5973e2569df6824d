// Package ws wraps gorilla/websocket with the small surface the sync
// transport needs: text and binary messages, close frames carrying
// application close codes, and a client dialer that accepts ws:// and
// wss:// URLs. Ping/pong and close echoing are handled by the
// library's default handlers.
package ws

import (
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

// Message opcodes, re-exported so callers don't import the library
// directly.
const (
	OpText   = websocket.TextMessage
	OpBinary = websocket.BinaryMessage
)

// writeWait bounds one frame write, including close frames sent to
// peers that have stopped reading.
const writeWait = 10 * time.Second

// maxMessageSize bounds a single message; a peer exceeding it is
// protocol-broken.
const maxMessageSize = 64 << 20

// CloseError carries the peer's close code and reason.
type CloseError struct {
	Code   int
	Reason string
}

func (e *CloseError) Error() string {
	return fmt.Sprintf("ws: closed with code %d: %s", e.Code, e.Reason)
}

// upgrader is shared by every Upgrade call. CheckOrigin admits any
// origin: /sync2 authenticates via the bearer token in the query
// string, not the Origin header.
var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// Conn is one WebSocket connection. Reads and writes may run on
// different goroutines; concurrent writers serialize on an internal
// lock (gorilla allows at most one concurrent writer).
type Conn struct {
	conn *websocket.Conn

	writeMu sync.Mutex
}

func newConn(wc *websocket.Conn) *Conn {
	wc.SetReadLimit(maxMessageSize)
	return &Conn{conn: wc}
}

// Upgrade performs the server side of the WebSocket handshake.
func Upgrade(w http.ResponseWriter, r *http.Request) (*Conn, error) {
	wc, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		return nil, fmt.Errorf("ws: upgrade: %w", err)
	}
	return newConn(wc), nil
}

// Dial opens a client connection to a ws:// or wss:// URL.
func Dial(rawURL string, header http.Header, timeout time.Duration) (*Conn, error) {
	dialer := websocket.Dialer{HandshakeTimeout: timeout}
	wc, resp, err := dialer.Dial(rawURL, header)
	if err != nil {
		if resp != nil {
			resp.Body.Close()
			return nil, fmt.Errorf("ws: handshake rejected with status %d: %w", resp.StatusCode, err)
		}
		return nil, fmt.Errorf("ws: dial: %w", err)
	}
	if resp != nil {
		resp.Body.Close()
	}
	return newConn(wc), nil
}

// ReadMessage blocks for the next text or binary message. Close frames
// surface as *CloseError; pings are answered by the library's default
// handler.
func (c *Conn) ReadMessage() (opcode int, payload []byte, err error) {
	op, payload, err := c.conn.ReadMessage()
	if err != nil {
		if ce, ok := err.(*websocket.CloseError); ok {
			return 0, nil, &CloseError{Code: ce.Code, Reason: ce.Text}
		}
		return 0, nil, err
	}
	return op, payload, nil
}

// WriteText sends one text message.
func (c *Conn) WriteText(s string) error {
	return c.write(OpText, []byte(s))
}

// WriteBinary sends one binary message.
func (c *Conn) WriteBinary(b []byte) error {
	return c.write(OpBinary, b)
}

func (c *Conn) write(opcode int, payload []byte) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	c.conn.SetWriteDeadline(time.Now().Add(writeWait))
	return c.conn.WriteMessage(opcode, payload)
}

// WriteClose sends a close frame with the given application code.
func (c *Conn) WriteClose(code int, reason string) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	msg := websocket.FormatCloseMessage(code, reason)
	return c.conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(writeWait))
}

// Close tears the TCP connection down.
func (c *Conn) Close() error {
	return c.conn.Close()
}

// SetReadDeadline bounds the next read.
func (c *Conn) SetReadDeadline(t time.Time) error {
	return c.conn.SetReadDeadline(t)
}
