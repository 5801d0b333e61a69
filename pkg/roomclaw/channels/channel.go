// Package channels defines the interface between the agent and its chat
// platform. Each platform adapter (Discord, WhatsApp, the local console)
// delivers room events and accepts outgoing messages and typing state.
// Room identifiers are opaque strings owned by the platform.
package channels

import (
	"context"
	"time"
)

// EventType identifies the kind of room event.
type EventType string

const (
	EventMessage EventType = "message"
	EventJoin    EventType = "join"
	EventLeave   EventType = "leave"
)

// Event is one room event delivered by a channel.
type Event struct {
	// Type is the event kind.
	Type EventType

	// RoomID is the opaque room identifier.
	RoomID string

	// RoomName is the room display name, when the platform has one.
	RoomName string

	// SenderID identifies the sender (or the member joining/leaving).
	SenderID string

	// SenderName is the sender display name, if available.
	SenderName string

	// Text is the message body for EventMessage.
	Text string

	// ThreadID and ReplyTo carry optional threading identifiers.
	ThreadID string
	ReplyTo  string

	// Timestamp is when the event happened on the platform.
	Timestamp time.Time
}

// Member is one room member.
type Member struct {
	ID   string
	Name string
}

// Channel is implemented by every chat-platform adapter.
type Channel interface {
	// Name returns the channel identifier (e.g. "discord").
	Name() string

	// Connect establishes the platform connection.
	Connect(ctx context.Context) error

	// Disconnect closes the connection.
	Disconnect() error

	// Receive returns the stream of incoming room events.
	Receive() <-chan *Event

	// SendMessage posts text to a room.
	SendMessage(ctx context.Context, roomID, text string) error

	// SetTyping turns the typing indicator on or off for a room. The
	// timeout bounds how long the platform keeps the indicator alive.
	SetTyping(ctx context.Context, roomID string, on bool, timeout time.Duration) error

	// Members returns the current room membership.
	Members(ctx context.Context, roomID string) ([]Member, error)
}
