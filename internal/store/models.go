// Package store holds the Mongo-backed collaborators the fan-out core
// touches: chat membership checks, message persistence, and notification
// persistence. Everything else the backend stores is owned by the CRUD layer
// and out of scope here.
package store

import (
	"time"

	"go.mongodb.org/mongo-driver/bson/primitive"
)

const (
	collectionChats         = "chats"
	collectionMessages      = "messages"
	collectionNotifications = "notifications"
	collectionUsers         = "users"
)

// Chat is the conversation document. type is "direct" | "group" | "project".
type Chat struct {
	ID           primitive.ObjectID   `bson:"_id,omitempty"`
	Name         string               `bson:"name,omitempty"`
	Type         string               `bson:"type"`
	Participants []primitive.ObjectID `bson:"participants"`
	ProjectID    primitive.ObjectID   `bson:"projectId,omitempty"`
	CreatedAt    time.Time            `bson:"createdAt"`
	UpdatedAt    time.Time            `bson:"updatedAt"`
}

type MessageDoc struct {
	ID          primitive.ObjectID `bson:"_id,omitempty"`
	Chat        primitive.ObjectID `bson:"chat"`
	Sender      primitive.ObjectID `bson:"sender"`
	Content     string             `bson:"content"`
	To          primitive.ObjectID `bson:"to,omitempty"`
	Timestamp   time.Time          `bson:"timestamp"`
	ReadBy      []string           `bson:"readBy,omitempty"`
	Attachments []string           `bson:"attachments,omitempty"`
}

type NotificationDoc struct {
	ID        primitive.ObjectID `bson:"_id,omitempty"`
	UserID    primitive.ObjectID `bson:"userId"`
	Type      string             `bson:"type"`
	Title     string             `bson:"title,omitempty"`
	Message   string             `bson:"message"`
	Data      any                `bson:"data,omitempty"`
	IsRead    bool               `bson:"isRead"`
	Link      string             `bson:"link,omitempty"`
	CreatedAt time.Time          `bson:"createdAt"`
	UpdatedAt time.Time          `bson:"updatedAt"`
}

// UserDoc carries only the fields the message path populates into outbound
// sender objects.
type UserDoc struct {
	ID        primitive.ObjectID `bson:"_id,omitempty"`
	FirstName string             `bson:"firstName"`
	LastName  string             `bson:"lastName"`
	Email     string             `bson:"email"`
}
