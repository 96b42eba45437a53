package store

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"

	"github.com/teamloop/realtime/internal/event"
)

// NotificationStore persists notification records before they are pushed to
// the recipient's personal channel.
type NotificationStore struct {
	coll   *mongo.Collection
	logger *slog.Logger
}

func NewNotificationStore(logger *slog.Logger, db *mongo.Database) *NotificationStore {
	return &NotificationStore{
		coll:   db.Collection(collectionNotifications),
		logger: logger.With(slog.String("component", "notification_store")),
	}
}

// Save inserts the notification with isRead=false and server timestamps, and
// returns the full record in outbound shape.
func (s *NotificationStore) Save(ctx context.Context, userID string, draft event.NotificationDraft) (*event.Notification, error) {
	userOID, err := primitive.ObjectIDFromHex(userID)
	if err != nil {
		return nil, fmt.Errorf("invalid user id %q: %w", userID, err)
	}

	now := time.Now()
	doc := NotificationDoc{
		UserID:    userOID,
		Type:      draft.Type,
		Title:     draft.Title,
		Message:   draft.Message,
		IsRead:    false,
		Link:      draft.Link,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if doc.Type == "" {
		doc.Type = "system"
	}
	if len(draft.Data) > 0 {
		var data any
		if err := json.Unmarshal(draft.Data, &data); err != nil {
			return nil, fmt.Errorf("invalid notification data: %w", err)
		}
		doc.Data = data
	}

	res, err := s.coll.InsertOne(ctx, doc)
	if err != nil {
		return nil, fmt.Errorf("insert notification: %w", err)
	}
	id := res.InsertedID.(primitive.ObjectID)

	return &event.Notification{
		ID:        id.Hex(),
		UserID:    userID,
		Type:      doc.Type,
		Title:     doc.Title,
		Message:   doc.Message,
		Data:      draft.Data,
		IsRead:    doc.IsRead,
		Link:      doc.Link,
		CreatedAt: doc.CreatedAt,
		UpdatedAt: doc.UpdatedAt,
	}, nil
}
