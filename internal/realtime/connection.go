// Package realtime implements the in-memory broker for per-ride websocket
// rooms: connections, rooms, fan-out with backpressure eviction, and the
// session lifecycle runner.
package realtime

import (
	"encoding/json"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
)

// Socket is the transport surface the broker needs from a websocket
// connection. *websocket.Conn satisfies it; tests substitute fakes.
type Socket interface {
	ReadMessage() (messageType int, p []byte, err error)
	WriteMessage(messageType int, data []byte) error
	WriteControl(messageType int, data []byte, deadline time.Time) error
	SetWriteDeadline(t time.Time) error
	Close() error
}

// Application close codes, kept in the 4xxx range reserved for applications.
const (
	ClosePolicyViolation = 4401 // missing or invalid credential
	CloseForbidden       = 4403 // authorization failure
	CloseNotFound        = 4404 // ride does not exist
	CloseInternalError   = 4500 // unhandled server fault
)

// Connection is one live subscriber. It is owned by the session that created
// it; the room only holds a reference for fan-out.
type Connection struct {
	UserID      string
	Role        string
	ConnectedAt time.Time

	sock        Socket
	sendTimeout time.Duration

	writeMu  sync.Mutex // serializes frames so one recipient observes send order
	failures atomic.Int32
}

func NewConnection(sock Socket, userID, role string, sendTimeout time.Duration) *Connection {
	return &Connection{
		UserID:      userID,
		Role:        role,
		ConnectedAt: time.Now(),
		sock:        sock,
		sendTimeout: sendTimeout,
	}
}

// Send marshals v and writes it as a text frame bounded by the send timeout.
// On success the consecutive-failure counter resets.
func (c *Connection) Send(v any) error {
	b, err := json.Marshal(v)
	if err != nil {
		return err
	}
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	if err := c.sock.SetWriteDeadline(time.Now().Add(c.sendTimeout)); err != nil {
		return err
	}
	if err := c.sock.WriteMessage(websocket.TextMessage, b); err != nil {
		return err
	}
	c.failures.Store(0)
	return nil
}

// Fail records one send failure and returns the consecutive count.
func (c *Connection) Fail() int {
	return int(c.failures.Add(1))
}

// CloseWithCode sends a close frame and releases the socket. Safe to call
// more than once; later calls fail silently on the closed socket.
func (c *Connection) CloseWithCode(code int, reason string) {
	closeSocket(c.sock, code, reason)
}

func closeSocket(sock Socket, code int, reason string) {
	msg := websocket.FormatCloseMessage(code, reason)
	_ = sock.WriteControl(websocket.CloseMessage, msg, time.Now().Add(time.Second))
	_ = sock.Close()
}
