package websocket

import (
	"time"

	"github.com/KevinKickass/OpenMaintenanceCore/internal/events"
)

// MessageType defines the type of WebSocket message. Record events use the
// event type itself, e.g. "record.completed".
type MessageType string

const (
	MessageTypeAuth        MessageType = "auth"
	MessageTypeAuthSuccess MessageType = "auth_success"
	MessageTypeAuthFailed  MessageType = "auth_failed"
)

// Message represents a WebSocket message
type Message struct {
	Type      MessageType `json:"type"`
	Timestamp time.Time   `json:"timestamp"`
	Data      any         `json:"data,omitempty"`
}

// AuthData is the reply to the authentication message.
type AuthData struct {
	Username    string   `json:"username,omitempty"`
	Permissions []string `json:"permissions,omitempty"`
	Reason      string   `json:"reason,omitempty"`
}

// NewMessage creates a new message with current timestamp
func NewMessage(msgType MessageType, data any) Message {
	return Message{
		Type:      msgType,
		Timestamp: time.Now().UTC(),
		Data:      data,
	}
}

// NewEventMessage wraps a record event; Data is the record snapshot.
func NewEventMessage(e events.Event) Message {
	return Message{
		Type:      MessageType(e.Type),
		Timestamp: e.Timestamp,
		Data:      e.Record,
	}
}
