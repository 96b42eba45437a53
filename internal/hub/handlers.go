package hub

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/teamloop/realtime/internal/event"
	"github.com/teamloop/realtime/pkg/state"
)

// handleJoin binds the client-declared identity to the connection, adds it to
// the room, and tells the other members. No membership authorization happens
// here: join is cheap and advisory, the gate is at the point of a
// state-mutating action (handleMessage).
func (h *Hub) handleJoin(ctx context.Context, connID uuid.UUID, payload json.RawMessage) error {
	var req event.JoinRequest
	if err := json.Unmarshal(payload, &req); err != nil {
		return fmt.Errorf("decode join: %w", err)
	}
	if req.UserID == "" || req.RoomID == "" {
		return errors.New("join requires userId and roomId")
	}

	if err := h.registry.Identify(connID, req.UserID); err != nil {
		return err
	}
	if err := h.registry.JoinRoom(connID, req.RoomID); err != nil {
		if errors.Is(err, state.ErrRoomLimit) {
			h.logger.Warn("Join rejected, room limit reached",
				slog.String("connID", connID.String()),
				slog.String("userID", req.UserID),
				slog.String("roomID", req.RoomID),
			)
			return nil
		}
		return err
	}

	joined := event.UserJoined{UserID: req.UserID, RoomID: req.RoomID}
	h.dispatcher.DeliverToRoom(req.RoomID, event.TypeUserJoined, joined, connID)
	h.publish(event.TypeUserJoined, joined)

	h.logger.Info("User joined room",
		slog.String("userID", req.UserID),
		slog.String("roomID", req.RoomID),
		slog.String("connID", connID.String()),
	)
	return nil
}

// handleJoinNotifications subscribes the connection to its personal channel
// and the global notifications channel. No broadcast; joining a notification
// feed is not news to anyone.
func (h *Hub) handleJoinNotifications(ctx context.Context, connID uuid.UUID, payload json.RawMessage) error {
	var req event.JoinNotificationsRequest
	if err := json.Unmarshal(payload, &req); err != nil {
		return fmt.Errorf("decode joinNotifications: %w", err)
	}
	if req.UserID == "" {
		return errors.New("joinNotifications requires userId")
	}

	if err := h.registry.Identify(connID, req.UserID); err != nil {
		return err
	}
	if err := h.registry.JoinRoom(connID, event.UserRoom(req.UserID)); err != nil {
		return err
	}
	if err := h.registry.JoinRoom(connID, event.RoomNotifications); err != nil {
		return err
	}

	h.logger.Info("User joined notification channels",
		slog.String("userID", req.UserID),
		slog.String("connID", connID.String()),
	)
	return nil
}

// handleMessage is the one authorized path: verify chat membership, persist,
// then fan out. An unauthorized sender is dropped with a warning and no
// client-visible error. A failed persistence write skips the broadcast
// entirely so peers never see a message that does not exist durably.
func (h *Hub) handleMessage(ctx context.Context, connID uuid.UUID, payload json.RawMessage) error {
	var req event.MessageRequest
	if err := json.Unmarshal(payload, &req); err != nil {
		return fmt.Errorf("decode message: %w", err)
	}
	if req.RoomID == "" || req.UserID == "" {
		return errors.New("message requires roomId and userId")
	}

	member, err := h.chats.IsParticipant(ctx, req.RoomID, req.UserID)
	if err != nil {
		return fmt.Errorf("membership check for chat %s: %w", req.RoomID, err)
	}
	if !member {
		h.logger.Warn("Dropping message to unauthorized chat room",
			slog.String("userID", req.UserID),
			slog.String("roomID", req.RoomID),
		)
		return nil
	}

	saved, err := h.messages.Save(ctx, req.RoomID, req.UserID, req.Message, req.To)
	if err != nil {
		// No broadcast on a failed write.
		return fmt.Errorf("persist message: %w", err)
	}

	if err := h.chats.Touch(ctx, req.RoomID); err != nil {
		h.logger.Warn("Failed to bump chat recency",
			slog.String("roomID", req.RoomID),
			slog.Any("error", err),
		)
	}

	// The sender holds its own optimistic copy; exclude it from local
	// delivery.
	h.dispatcher.DeliverToRoom(req.RoomID, event.TypeMessage, saved, connID)
	h.publish(event.TypeMessage, saved)

	h.logger.Info("Message sent to chat room",
		slog.String("roomID", req.RoomID),
		slog.String("userID", req.UserID),
		slog.String("messageID", saved.ID),
	)
	return nil
}

// handleTyping relays the indicator as-is: no persistence, no authorization.
// It is a purely advisory UI signal.
func (h *Hub) handleTyping(ctx context.Context, connID uuid.UUID, payload json.RawMessage) error {
	var req event.TypingRequest
	if err := json.Unmarshal(payload, &req); err != nil {
		return fmt.Errorf("decode typing: %w", err)
	}
	if req.RoomID == "" {
		return errors.New("typing requires roomId")
	}

	typing := event.Typing{
		UserID:   req.UserID,
		UserName: req.UserName,
		RoomID:   req.RoomID,
		IsTyping: req.IsTyping,
	}
	h.dispatcher.DeliverToRoom(req.RoomID, event.TypeTyping, typing, connID)
	h.publish(event.TypeTyping, typing)
	return nil
}

// handleDocumentEdit broadcasts the edit to the document's room. Access
// control rests on the join flow: only collaborators join document rooms.
func (h *Hub) handleDocumentEdit(ctx context.Context, connID uuid.UUID, payload json.RawMessage) error {
	var req event.DocumentEditRequest
	if err := json.Unmarshal(payload, &req); err != nil {
		return fmt.Errorf("decode documentEdit: %w", err)
	}
	if req.DocumentID == "" {
		return errors.New("documentEdit requires documentId")
	}

	update := event.DocumentUpdate{
		DocumentID: req.DocumentID,
		Content:    req.Content,
		UserID:     req.UserID,
		Timestamp:  time.Now(),
	}
	h.dispatcher.DeliverToRoom(event.DocumentRoom(req.DocumentID), event.TypeDocumentUpdate, update, connID)
	h.publish(event.TypeDocumentUpdate, update)
	return nil
}

// handleTaskUpdate is broadcast-only: the task itself is persisted by the
// task-mutation API, this path just tells project subscribers about it.
func (h *Hub) handleTaskUpdate(ctx context.Context, connID uuid.UUID, payload json.RawMessage) error {
	var req event.TaskUpdateRequest
	if err := json.Unmarshal(payload, &req); err != nil {
		return fmt.Errorf("decode taskUpdate: %w", err)
	}
	if req.ProjectID == "" {
		return errors.New("taskUpdate requires projectId")
	}

	updated := event.TaskUpdated{
		ProjectID: req.ProjectID,
		Task:      req.Task,
		UserID:    req.UserID,
		Timestamp: time.Now(),
	}
	h.dispatcher.DeliverToRoom(event.ProjectRoom(req.ProjectID), event.TypeTaskUpdated, updated, connID)
	h.publish(event.TypeTaskUpdated, updated)
	return nil
}

// handleSendNotification persists the notification and pushes the saved
// record to the recipient's personal channel. No exclusion: the sender may be
// the recipient on another tab.
func (h *Hub) handleSendNotification(ctx context.Context, connID uuid.UUID, payload json.RawMessage) error {
	var req event.SendNotificationRequest
	if err := json.Unmarshal(payload, &req); err != nil {
		return fmt.Errorf("decode sendNotification: %w", err)
	}
	if req.UserID == "" {
		return errors.New("sendNotification requires userId")
	}

	saved, err := h.notifications.Save(ctx, req.UserID, req.Notification)
	if err != nil {
		// No broadcast on a failed write.
		return fmt.Errorf("persist notification: %w", err)
	}

	h.dispatcher.DeliverToUser(req.UserID, event.TypeNotification, saved)
	h.publish(event.TypeNotification, event.NotificationDelivery{
		UserID:       req.UserID,
		Notification: *saved,
	})

	h.logger.Info("Notification sent to user",
		slog.String("userID", req.UserID),
		slog.String("notificationID", saved.ID),
	)
	return nil
}
