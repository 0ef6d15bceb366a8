package websocket

import (
	"time"

	"github.com/KevinKickass/OpenWardCore/internal/notify"
)

// MessageType defines the type of WebSocket message
type MessageType string

const (
	// Handshake messages
	MessageTypeAuth        MessageType = "auth"
	MessageTypeAuthSuccess MessageType = "auth_success"
	MessageTypeAuthFailed  MessageType = "auth_failed"

	// Client commands
	MessageTypeSubscribe MessageType = "subscribe"

	// System messages
	MessageTypeWardCensus   MessageType = "ward_census"
	MessageTypeSystemStatus MessageType = "system_status"
)

// Message represents a WebSocket message. Ward events use the event kind
// (bed.state_changed, turnover.completed, ...) as their type.
type Message struct {
	Type      MessageType `json:"type"`
	Timestamp time.Time   `json:"timestamp"`
	BedID     string      `json:"bed_id,omitempty"`
	Data      interface{} `json:"data"`
}

// ClientMessage is what dashboards send to the server.
type ClientMessage struct {
	Type   MessageType `json:"type"`
	Token  string      `json:"token,omitempty"`
	BedIDs []string    `json:"bed_ids,omitempty"`
	Kinds  []string    `json:"kinds,omitempty"`
}

// NewMessage creates a new message with current timestamp
func NewMessage(msgType MessageType, data interface{}) Message {
	return Message{
		Type:      msgType,
		Timestamp: time.Now(),
		Data:      data,
	}
}

func FromEvent(ev notify.Event) Message {
	return Message{
		Type:      MessageType(ev.Kind),
		Timestamp: ev.Timestamp,
		BedID:     ev.BedID,
		Data:      ev,
	}
}
