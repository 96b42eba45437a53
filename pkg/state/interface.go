package state

import (
	"errors"

	"github.com/google/uuid"
)

var (
	// ErrAlreadyRegistered is returned when a connection ID is registered twice.
	ErrAlreadyRegistered = errors.New("connection is already registered")
	// ErrUnknownConnection is returned for operations on a connection the
	// registry does not hold.
	ErrUnknownConnection = errors.New("connection is not registered")
	// ErrRoomLimit is returned when a connection tries to join more rooms than
	// the configured per-connection cap allows.
	ErrRoomLimit = errors.New("room limit reached for connection")
)

// Registry tracks live connections and their room memberships for a single
// process. Membership is strictly local: remote instances keep their own
// registries and the bridge republishes events without knowing who is where.
type Registry interface {
	// --- Connection Lifecycle ---
	Register(transport Sender, ipAddr string) (*Connection, error)
	// Deregister removes the connection from every room it joined and deletes
	// its record. It returns the rooms that were left. Must be O(rooms joined).
	Deregister(connID uuid.UUID) []string
	Connection(connID uuid.UUID) (*Connection, bool)
	Connections() []*Connection

	// --- Identity ---
	// Identify binds a user identity to a connection. The identity is the one
	// the client declared on join; the registry does not verify it.
	Identify(connID uuid.UUID, userID string) error
	CountForUser(userID string) int
	OldestForUser(userID string) (*Connection, bool)

	// --- Room Membership ---
	// JoinRoom is idempotent: joining a room twice leaves exactly one
	// membership entry.
	JoinRoom(connID uuid.UUID, roomID string) error
	LeaveRoom(connID uuid.UUID, roomID string) error
	RoomMembers(roomID string) []*Connection
}
