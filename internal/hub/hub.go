// Package hub implements the socket event handlers: for each inbound event it
// runs the side effects the protocol demands (authorization check, persistence
// write, local fan-out, cross-instance publish) in that order. Local delivery
// always happens before the bridge publish, and a publish failure is logged
// without touching the local result.
package hub

import (
	"context"
	"encoding/json"
	"log/slog"

	"github.com/google/uuid"
	"github.com/teamloop/realtime/internal/bridge"
	"github.com/teamloop/realtime/internal/dispatch"
	"github.com/teamloop/realtime/internal/event"
	"github.com/teamloop/realtime/pkg/state"
)

// ChatMembership answers whether a user participates in a chat. Backed by the
// chat collection; faked in tests.
type ChatMembership interface {
	IsParticipant(ctx context.Context, chatID, userID string) (bool, error)
	Touch(ctx context.Context, chatID string) error
}

// MessageSaver persists a chat message and returns the saved record in
// broadcast shape. to is the optional direct recipient.
type MessageSaver interface {
	Save(ctx context.Context, chatID, senderID, content, to string) (*event.Message, error)
}

// NotificationSaver persists a notification and returns the saved record.
type NotificationSaver interface {
	Save(ctx context.Context, userID string, draft event.NotificationDraft) (*event.Notification, error)
}

type Hub struct {
	registry      state.Registry
	dispatcher    *dispatch.Dispatcher
	bridge        *bridge.Bridge
	chats         ChatMembership
	messages      MessageSaver
	notifications NotificationSaver
	logger        *slog.Logger
}

func New(
	logger *slog.Logger,
	registry state.Registry,
	dispatcher *dispatch.Dispatcher,
	br *bridge.Bridge,
	chats ChatMembership,
	messages MessageSaver,
	notifications NotificationSaver,
) *Hub {
	return &Hub{
		registry:      registry,
		dispatcher:    dispatcher,
		bridge:        br,
		chats:         chats,
		messages:      messages,
		notifications: notifications,
		logger:        logger.With(slog.String("component", "hub")),
	}
}

// HandleFrame is the transport's message callback. It decodes the frame and
// dispatches to the typed handler. Every failure path logs and returns: a bad
// frame never closes the connection or escapes the hub.
func (h *Hub) HandleFrame(ctx context.Context, connID uuid.UUID, raw []byte) {
	var frame event.Frame
	if err := json.Unmarshal(raw, &frame); err != nil {
		h.logger.Warn("Failed to decode client frame",
			slog.String("connID", connID.String()),
			slog.Any("error", err),
		)
		return
	}

	var err error
	switch frame.Event {
	case event.InboundJoin:
		err = h.handleJoin(ctx, connID, frame.Payload)
	case event.InboundJoinNotifications:
		err = h.handleJoinNotifications(ctx, connID, frame.Payload)
	case event.InboundMessage:
		err = h.handleMessage(ctx, connID, frame.Payload)
	case event.InboundTyping:
		err = h.handleTyping(ctx, connID, frame.Payload)
	case event.InboundDocumentEdit:
		err = h.handleDocumentEdit(ctx, connID, frame.Payload)
	case event.InboundTaskUpdate:
		err = h.handleTaskUpdate(ctx, connID, frame.Payload)
	case event.InboundSendNotification:
		err = h.handleSendNotification(ctx, connID, frame.Payload)
	default:
		h.logger.Warn("Received unknown event",
			slog.String("event", frame.Event),
			slog.String("connID", connID.String()),
		)
		return
	}
	if err != nil {
		// The event is dropped; connection and process stay alive.
		h.logger.Error("Handler failed",
			slog.String("event", frame.Event),
			slog.String("connID", connID.String()),
			slog.Any("error", err),
		)
	}
}

// HandleClose is the transport's close callback: drop all memberships and
// tell peers, informationally, that the user went away.
func (h *Hub) HandleClose(connID uuid.UUID, closeErr error) {
	conn, ok := h.registry.Connection(connID)
	var userID string
	if ok {
		userID = conn.UserID
	}

	left := h.registry.Deregister(connID)
	h.logger.Info("Connection closed",
		slog.String("connID", connID.String()),
		slog.String("userID", userID),
		slog.Int("roomsLeft", len(left)),
	)

	if userID != "" {
		h.publish(event.TypeUserDisconnected, event.UserDisconnected{UserID: userID})
	}
}

// Broadcast delivers an event to every local connection and publishes it to
// remote instances. The REST layer calls this so HTTP-driven mutations still
// reach socket subscribers.
func (h *Hub) Broadcast(t event.Type, payload any) {
	if !event.Known(t) {
		h.logger.Warn("Refusing to broadcast unknown event type", slog.String("event", string(t)))
		return
	}
	h.dispatcher.BroadcastAll(t, payload)
	h.publish(t, payload)
}

// publish mirrors an event to remote instances, logging rather than
// propagating failure so the caller's local delivery stands on its own.
func (h *Hub) publish(t event.Type, payload any) {
	if err := h.bridge.Publish(context.Background(), t, payload); err != nil {
		h.logger.Error("Bridge publish failed, delivered locally only",
			slog.String("event", string(t)),
			slog.Any("error", err),
		)
	}
}
