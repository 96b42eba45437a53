package store

import (
	"context"
	"log/slog"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
)

// ChatStore answers the one question the fan-out core asks about chats: is
// this user a participant of this conversation.
type ChatStore struct {
	coll   *mongo.Collection
	logger *slog.Logger
}

func NewChatStore(logger *slog.Logger, db *mongo.Database) *ChatStore {
	return &ChatStore{
		coll:   db.Collection(collectionChats),
		logger: logger.With(slog.String("component", "chat_store")),
	}
}

// IsParticipant reports whether userID appears in the chat's participant
// list. IDs that are not valid ObjectIDs cannot match any document and
// resolve to false rather than an error.
func (s *ChatStore) IsParticipant(ctx context.Context, chatID, userID string) (bool, error) {
	chatOID, err := primitive.ObjectIDFromHex(chatID)
	if err != nil {
		return false, nil
	}
	userOID, err := primitive.ObjectIDFromHex(userID)
	if err != nil {
		return false, nil
	}

	filter := bson.M{"_id": chatOID, "participants": userOID}
	err = s.coll.FindOne(ctx, filter).Err()
	if err == mongo.ErrNoDocuments {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

// Touch bumps the chat's updatedAt so conversation lists sort by recency.
func (s *ChatStore) Touch(ctx context.Context, chatID string) error {
	oid, err := primitive.ObjectIDFromHex(chatID)
	if err != nil {
		return err
	}
	_, err = s.coll.UpdateByID(ctx, oid, bson.M{"$set": bson.M{"updatedAt": time.Now()}})
	return err
}
