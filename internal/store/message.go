package store

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"

	"github.com/teamloop/realtime/internal/event"
)

// MessageStore persists chat messages and shapes the saved record for
// broadcast, with the sender's profile populated.
type MessageStore struct {
	messages *mongo.Collection
	users    *mongo.Collection
	logger   *slog.Logger
}

func NewMessageStore(logger *slog.Logger, db *mongo.Database) *MessageStore {
	return &MessageStore{
		messages: db.Collection(collectionMessages),
		users:    db.Collection(collectionUsers),
		logger:   logger.With(slog.String("component", "message_store")),
	}
}

// Save inserts the message and returns it in outbound shape: generated id,
// server timestamp, sender populated from the users collection. The broadcast
// must reflect durable state, so callers only fan out after Save succeeds.
// to is the optional direct recipient.
func (s *MessageStore) Save(ctx context.Context, chatID, senderID, content, to string) (*event.Message, error) {
	chatOID, err := primitive.ObjectIDFromHex(chatID)
	if err != nil {
		return nil, fmt.Errorf("invalid chat id %q: %w", chatID, err)
	}
	senderOID, err := primitive.ObjectIDFromHex(senderID)
	if err != nil {
		return nil, fmt.Errorf("invalid sender id %q: %w", senderID, err)
	}

	doc := MessageDoc{
		Chat:      chatOID,
		Sender:    senderOID,
		Content:   content,
		Timestamp: time.Now(),
	}
	if to != "" {
		toOID, err := primitive.ObjectIDFromHex(to)
		if err != nil {
			return nil, fmt.Errorf("invalid recipient id %q: %w", to, err)
		}
		doc.To = toOID
	}

	res, err := s.messages.InsertOne(ctx, doc)
	if err != nil {
		return nil, fmt.Errorf("insert message: %w", err)
	}
	id := res.InsertedID.(primitive.ObjectID)

	sender := event.Sender{ID: senderID}
	var user UserDoc
	if err := s.users.FindOne(ctx, bson.M{"_id": senderOID}).Decode(&user); err == nil {
		sender.FirstName = user.FirstName
		sender.LastName = user.LastName
		sender.Email = user.Email
	} else {
		// The message is durable either way; an unpopulated sender only
		// degrades the payload.
		s.logger.Warn("Failed to populate message sender",
			slog.String("senderID", senderID),
			slog.Any("error", err),
		)
	}

	saved := &event.Message{
		ID:          id.Hex(),
		Chat:        chatID,
		Sender:      sender,
		Content:     content,
		To:          to,
		Timestamp:   doc.Timestamp,
		ReadBy:      []string{},
		Attachments: []string{},
		RoomID:      chatID,
	}
	return saved, nil
}
