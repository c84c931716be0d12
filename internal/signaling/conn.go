package signaling

import (
	"errors"
	"fmt"
	"sync"

	"github.com/gorilla/websocket"
)

const controlBufferSize = 64

// ErrClosed is returned by Send after the connection has closed.
var ErrClosed = errors.New("signaling connection closed")

// Conn is a signaling WebSocket shared by the SDP/ICE exchange and the data
// track negotiation. A single reader goroutine splits incoming messages
// between the two.
type Conn struct {
	ws *websocket.Conn
	mu sync.Mutex // serializes writes

	sdp     chan Message
	control chan Message

	done      chan struct{}
	closeOnce sync.Once
	err       error
}

// NewConn wraps ws and starts reading from it.
func NewConn(ws *websocket.Conn) *Conn {
	c := &Conn{
		ws:      ws,
		sdp:     make(chan Message, controlBufferSize),
		control: make(chan Message, controlBufferSize),
		done:    make(chan struct{}),
	}
	go c.readLoop()
	return c
}

// Send writes a message to the WebSocket, guarded by a mutex.
func (c *Conn) Send(msg Message) error {
	select {
	case <-c.done:
		return ErrClosed
	default:
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.ws.WriteJSON(msg)
}

// Control delivers data track negotiation messages in arrival order.
func (c *Conn) Control() <-chan Message { return c.control }

// Done is closed when the connection is closed or reading fails.
func (c *Conn) Done() <-chan struct{} { return c.done }

// Err returns the error that ended the connection, if any.
func (c *Conn) Err() error {
	select {
	case <-c.done:
		return c.err
	default:
		return nil
	}
}

// Close closes the WebSocket.
func (c *Conn) Close() error {
	c.shutdown(nil)
	return c.ws.Close()
}

func (c *Conn) shutdown(err error) {
	c.closeOnce.Do(func() {
		c.err = err
		close(c.done)
	})
}

// readLoop dispatches every incoming message, in order, until the WebSocket
// fails or the connection is closed.
func (c *Conn) readLoop() {
	for {
		var msg Message
		if err := c.ws.ReadJSON(&msg); err != nil {
			c.shutdown(fmt.Errorf("read WS message: %w", err))
			return
		}

		out := c.control
		if msg.isTransport() {
			out = c.sdp
		}
		// A slow consumer stalls the WebSocket rather than losing a message.
		select {
		case out <- msg:
		case <-c.done:
			return
		}
	}
}
