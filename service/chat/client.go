package chat

import (
	"sync"

	"github.com/gorilla/websocket"
)

// Client represents one live connection to the gateway.
// A single user may have multiple devices/tabs, each with its own Client.
type Client struct {
	ConnID string          // transport-assigned, unique within this gateway
	UserID string          // authenticated principal
	WS     *websocket.Conn // nil in tests; delivery only touches Send
	Send   chan []byte     // outbound queue, drained by one writer goroutine

	done     chan struct{}
	doneOnce sync.Once

	missMu sync.Mutex
	missed int // consecutive dropped frames (send buffer full)
}

// NewClient creates a client connection record.
func NewClient(connID, userID string, ws *websocket.Conn, sendQueueSize int) *Client {
	if sendQueueSize <= 0 {
		sendQueueSize = 256
	}
	return &Client{
		ConnID: connID,
		UserID: userID,
		WS:     ws,
		Send:   make(chan []byte, sendQueueSize),
		done:   make(chan struct{}),
	}
}

// Done is closed when the connection is torn down; the writer goroutine
// and any pending senders use it to stop.
func (c *Client) Done() <-chan struct{} { return c.done }

// CloseDone marks the client as torn down. Idempotent. The Send channel
// is never closed so late fan-out attempts cannot panic; they fall
// through to the done case instead.
func (c *Client) CloseDone() {
	c.doneOnce.Do(func() { close(c.done) })
}

// push enqueues a payload without blocking. Returns false when the
// buffer is full or the client is already torn down.
func (c *Client) push(payload []byte) bool {
	select {
	case <-c.done:
		return false
	default:
	}
	select {
	case c.Send <- payload:
		c.missMu.Lock()
		c.missed = 0
		c.missMu.Unlock()
		return true
	default:
		c.missMu.Lock()
		c.missed++
		c.missMu.Unlock()
		return false
	}
}

// consecutiveMisses reports how many frames in a row this client has
// dropped; the transport uses it to cut off stuck connections.
func (c *Client) consecutiveMisses() int {
	c.missMu.Lock()
	defer c.missMu.Unlock()
	return c.missed
}
