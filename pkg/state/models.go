package state

import (
	"time"

	"github.com/google/uuid"
)

// Sender is the slice of the transport layer the registry and dispatcher need:
// an identity and a non-blocking outbound path.
type Sender interface {
	ID() uuid.UUID
	Send(message []byte)
}

// Connection is the registry's record of a live client connection. It is
// ephemeral and never persisted. UserID is empty until the client identifies
// itself on its first join.
type Connection struct {
	ID        uuid.UUID
	IPAddress string
	UserID    string
	Transport Sender
	Rooms     map[string]struct{} // room IDs this connection has joined
	CreatedAt time.Time
}
