package chat

import (
	"github.com/gorilla/websocket"
)

// Client is one live transport connection. A user may hold several at once
// (multi-tab); each keeps its own send queue, consumed by a single writer
// goroutine.
//
// UserID and ActiveCallID are written only from the connection's own read
// loop; cross-goroutine visibility of the user binding goes through the
// Registry indexes.
type Client struct {
	ConnID string
	UserID string // set on register
	WS     *websocket.Conn
	Send   chan []byte

	// ActiveCallID tracks the call this connection is signaling for, so a
	// dropped transport can run the implicit end/cancel path.
	ActiveCallID string

	// done releases the writer goroutine on teardown; the send queue itself
	// is never closed, late fan-out into it is harmless.
	done chan struct{}
}

func NewClient(connID string, ws *websocket.Conn, sendQueueSize int) *Client {
	return &Client{
		ConnID: connID,
		WS:     ws,
		Send:   make(chan []byte, sendQueueSize),
		done:   make(chan struct{}),
	}
}

// Enqueue offers a payload to this connection only, dropping when the
// queue is full.
func (c *Client) Enqueue(payload []byte) {
	if len(payload) == 0 {
		return
	}
	select {
	case c.Send <- payload:
	default:
	}
}
