package transport

import (
	"sync"

	"github.com/gorilla/websocket"
)

// WSChannel adapts a WebSocket connection to the Channel interface, for
// surfaces living in another process (e.g. a browser-hosted rendered
// view). Messages are encoded as JSON text frames.
type WSChannel struct {
	conn *websocket.Conn

	writeMu sync.Mutex
	in      chan Message

	closeOnce sync.Once
	closeCh   chan struct{}
}

// NewWSChannel wraps an established WebSocket connection.
func NewWSChannel(conn *websocket.Conn) *WSChannel {
	c := &WSChannel{
		conn:    conn,
		in:      make(chan Message, channelBuffer),
		closeCh: make(chan struct{}),
	}

	go c.readPump()
	return c
}

// Ensure WSChannel implements Channel.
var _ Channel = (*WSChannel)(nil)

// Send writes a message frame to the peer.
func (c *WSChannel) Send(msg Message) error {
	select {
	case <-c.closeCh:
		return ErrChannelClosed
	default:
	}

	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	if err := c.conn.WriteJSON(msg); err != nil {
		return err
	}
	return nil
}

// Receive returns the stream of messages from the peer.
func (c *WSChannel) Receive() <-chan Message {
	return c.in
}

// Close closes the connection. Safe to call twice.
func (c *WSChannel) Close() error {
	var err error
	c.closeOnce.Do(func() {
		close(c.closeCh)
		err = c.conn.Close()
	})
	return err
}

// readPump decodes inbound frames until the connection drops.
func (c *WSChannel) readPump() {
	defer close(c.in)

	for {
		var msg Message
		if err := c.conn.ReadJSON(&msg); err != nil {
			_ = c.Close()
			return
		}

		select {
		case c.in <- msg:
		case <-c.closeCh:
			return
		default:
			// Peer flooding; drop rather than block the pump.
		}
	}
}
