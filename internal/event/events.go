// Package event defines the closed set of realtime events, their payload
// shapes, and the wire formats used on the client socket and on the broker
// channel.
package event

import (
	"encoding/json"
	"time"
)

// Type tags an event. The set is closed: routing and handling switch on it
// exhaustively, so a new event type is a compile-visible change, not a stray
// string.
type Type string

const (
	TypeUserJoined       Type = "userJoined"
	TypeMessage          Type = "message"
	TypeTyping           Type = "typing"
	TypeDocumentUpdate   Type = "documentUpdate"
	TypeTaskUpdated      Type = "taskUpdated"
	TypeUserDisconnected Type = "userDisconnected"
	TypeNotification     Type = "notification"
)

// Known reports whether t is one of the defined outbound event types.
func Known(t Type) bool {
	switch t {
	case TypeUserJoined, TypeMessage, TypeTyping, TypeDocumentUpdate,
		TypeTaskUpdated, TypeUserDisconnected, TypeNotification:
		return true
	}
	return false
}

// Frame is the framing shared by both directions of the client socket:
// an event name plus a payload object.
type Frame struct {
	Event   string          `json:"event"`
	Payload json.RawMessage `json:"payload"`
}

// EncodeFrame marshals one outbound frame for delivery to clients.
func EncodeFrame(t Type, payload any) ([]byte, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return json.Marshal(Frame{Event: string(t), Payload: raw})
}

// --- Outbound payloads ---

type UserJoined struct {
	UserID string `json:"userId"`
	RoomID string `json:"roomId"`
}

type Sender struct {
	ID        string `json:"_id"`
	FirstName string `json:"firstName"`
	LastName  string `json:"lastName"`
	Email     string `json:"email"`
}

// Message is the outbound chat message payload, shaped like the persisted
// record with the sender populated. RoomID repeats the chat ID so the bridge
// can route the event without knowing the message schema.
type Message struct {
	ID          string    `json:"_id"`
	Chat        string    `json:"chat"`
	Sender      Sender    `json:"sender"`
	Content     string    `json:"content"`
	To          string    `json:"to,omitempty"`
	Timestamp   time.Time `json:"timestamp"`
	ReadBy      []string  `json:"readBy"`
	Attachments []string  `json:"attachments"`
	RoomID      string    `json:"roomId"`
}

type Typing struct {
	UserID   string `json:"userId"`
	UserName string `json:"userName"`
	RoomID   string `json:"roomId"`
	IsTyping bool   `json:"isTyping"`
}

type DocumentUpdate struct {
	DocumentID string    `json:"documentId"`
	Content    string    `json:"content"`
	UserID     string    `json:"userId"`
	Timestamp  time.Time `json:"timestamp"`
}

type TaskUpdated struct {
	ProjectID string          `json:"projectId"`
	Task      json.RawMessage `json:"task"`
	UserID    string          `json:"userId"`
	Timestamp time.Time       `json:"timestamp"`
}

type UserDisconnected struct {
	UserID string `json:"userId"`
}

// Notification is the outbound notification payload, shaped like the persisted
// record.
type Notification struct {
	ID        string          `json:"id"`
	UserID    string          `json:"userId"`
	Type      string          `json:"type"`
	Title     string          `json:"title"`
	Message   string          `json:"message"`
	Data      json.RawMessage `json:"data,omitempty"`
	IsRead    bool            `json:"isRead"`
	Link      string          `json:"link,omitempty"`
	CreatedAt time.Time       `json:"createdAt"`
	UpdatedAt time.Time       `json:"updatedAt"`
}

// NotificationDelivery is the bridge payload for notifications: the target
// user plus the saved record.
type NotificationDelivery struct {
	UserID       string       `json:"userId"`
	Notification Notification `json:"notification"`
}
