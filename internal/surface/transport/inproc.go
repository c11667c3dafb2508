package transport

import "sync"

// channelBuffer is the queue depth of one direction of an in-process
// connection.
const channelBuffer = 64

// inprocConn holds the shared state of an in-process connection.
// The lock orders Send against Close so a message is never written to a
// closed Go channel.
type inprocConn struct {
	mu     sync.RWMutex
	closed bool
	aToB   chan Message
	bToA   chan Message
}

// inprocEnd is one end of an in-process connection.
type inprocEnd struct {
	conn *inprocConn
	out  chan Message
	in   chan Message
}

// Pair creates a connected in-process channel pair. The first end belongs
// to the registry, the second to the surface.
func Pair() (Channel, Channel) {
	conn := &inprocConn{
		aToB: make(chan Message, channelBuffer),
		bToA: make(chan Message, channelBuffer),
	}

	a := &inprocEnd{conn: conn, out: conn.aToB, in: conn.bToA}
	b := &inprocEnd{conn: conn, out: conn.bToA, in: conn.aToB}
	return a, b
}

// Send queues a message for the peer without blocking.
func (e *inprocEnd) Send(msg Message) error {
	e.conn.mu.RLock()
	defer e.conn.mu.RUnlock()

	if e.conn.closed {
		return ErrChannelClosed
	}

	select {
	case e.out <- msg:
		return nil
	default:
		return ErrChannelFull
	}
}

// Receive returns the stream of messages from the peer.
func (e *inprocEnd) Receive() <-chan Message {
	return e.in
}

// Close tears down both directions. Either end may close; the second
// close is a no-op.
func (e *inprocEnd) Close() error {
	e.conn.mu.Lock()
	defer e.conn.mu.Unlock()

	if e.conn.closed {
		return nil
	}
	e.conn.closed = true
	close(e.conn.aToB)
	close(e.conn.bToA)
	return nil
}
