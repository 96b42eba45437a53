package event

import "encoding/json"

// Inbound client frame names. These differ from the outbound Type set: a
// client sends "documentEdit" and peers receive "documentUpdate".
const (
	InboundJoin              = "join"
	InboundJoinNotifications = "joinNotifications"
	InboundMessage           = "message"
	InboundTyping            = "typing"
	InboundDocumentEdit      = "documentEdit"
	InboundTaskUpdate        = "taskUpdate"
	InboundSendNotification  = "sendNotification"
)

type JoinRequest struct {
	UserID string `json:"userId"`
	RoomID string `json:"roomId"`
}

type JoinNotificationsRequest struct {
	UserID string `json:"userId"`
}

type MessageRequest struct {
	RoomID   string `json:"roomId"`
	Message  string `json:"message"`
	UserID   string `json:"userId"`
	UserName string `json:"userName"`
	To       string `json:"to,omitempty"`
}

type TypingRequest struct {
	RoomID   string `json:"roomId"`
	UserID   string `json:"userId"`
	UserName string `json:"userName"`
	IsTyping bool   `json:"isTyping"`
}

type DocumentEditRequest struct {
	DocumentID string `json:"documentId"`
	Content    string `json:"content"`
	UserID     string `json:"userId"`
}

type TaskUpdateRequest struct {
	ProjectID string          `json:"projectId"`
	Task      json.RawMessage `json:"task"`
	UserID    string          `json:"userId"`
}

// NotificationDraft is the client-supplied portion of a notification; the
// store fills in identity and read state.
type NotificationDraft struct {
	Type    string          `json:"type"`
	Title   string          `json:"title"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data,omitempty"`
	Link    string          `json:"link,omitempty"`
}

type SendNotificationRequest struct {
	UserID       string            `json:"userId"`
	Notification NotificationDraft `json:"notification"`
}
