// Package transport provides the message channel between the surface
// registry and one presentation surface.
//
// A channel is asynchronous, point-to-point and FIFO. There is no ordering
// guarantee across channels: a broadcast to three surfaces may be observed
// by them in any relative order. Surfaces never share memory with the
// registries; everything crosses a Channel.
package transport

import "errors"

// Errors returned by channel operations.
var (
	// ErrChannelClosed indicates the channel has been closed.
	ErrChannelClosed = errors.New("channel closed")

	// ErrChannelFull indicates the peer is not draining its messages.
	ErrChannelFull = errors.New("channel full")
)

// MessageType identifies a protocol message.
type MessageType string

const (
	// TypeReady is sent by a surface once it can receive messages.
	TypeReady MessageType = "ready"

	// TypeSetContent pushes content into a surface.
	TypeSetContent MessageType = "set-content"

	// TypeContentChanged reports an edit (surface to registry) or
	// acknowledges a save (registry to surface).
	TypeContentChanged MessageType = "content-changed"

	// TypeSaveRequest asks the registry to persist content.
	TypeSaveRequest MessageType = "save-request"

	// TypeExecuteCommand dispatches a command by name.
	TypeExecuteCommand MessageType = "execute-command"
)

// Payload carries the message body. Optional fields are pointers so that
// "absent" and "zero" stay distinguishable on the wire.
type Payload struct {
	Content  *string  `json:"content,omitempty"`
	IsDirty  *bool    `json:"isDirty,omitempty"`
	Saved    *bool    `json:"saved,omitempty"`
	FromFile *bool    `json:"fromFile,omitempty"`
	Command  string   `json:"command,omitempty"`
	Args     []string `json:"args,omitempty"`
}

// Message is the wire unit exchanged over a channel.
type Message struct {
	Type      MessageType `json:"type"`
	Payload   Payload     `json:"payload"`
	RequestID string      `json:"requestId,omitempty"`
}

// String returns a pointer to s, for optional payload fields.
func String(s string) *string { return &s }

// Bool returns a pointer to b, for optional payload fields.
func Bool(b bool) *bool { return &b }

// Channel is one end of a surface connection. Both the registry end and
// the surface end expose the same shape: Send writes toward the peer,
// Receive yields messages from the peer.
type Channel interface {
	// Send queues a message for the peer. It never blocks; a peer that
	// stops draining eventually yields ErrChannelFull.
	Send(msg Message) error

	// Receive returns the stream of messages from the peer.
	// The channel is closed when the connection closes.
	Receive() <-chan Message

	// Close tears the connection down. Safe to call twice.
	Close() error
}
