package registry

import (
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/teamloop/realtime/pkg/state"
)

// InMemory is the per-process connection registry. A single mutex guards both
// maps because every mutation touches connection and room state together;
// handlers for different connections run on separate goroutines, so all reads
// and writes must hold it.
type InMemory struct {
	mu    sync.RWMutex
	conns map[uuid.UUID]*state.Connection
	rooms map[string]map[uuid.UUID]*state.Connection

	// maxRooms caps room memberships per connection; 0 disables the cap.
	maxRooms int

	logger *slog.Logger
}

func NewInMemory(logger *slog.Logger, maxRoomsPerConnection int) *InMemory {
	return &InMemory{
		conns:    make(map[uuid.UUID]*state.Connection),
		rooms:    make(map[string]map[uuid.UUID]*state.Connection),
		maxRooms: maxRoomsPerConnection,
		logger:   logger.With(slog.String("component", "registry")),
	}
}

// compile-time check to ensure InMemory implements state.Registry.
var _ state.Registry = (*InMemory)(nil)

func (r *InMemory) Register(transport state.Sender, ipAddr string) (*state.Connection, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	connID := transport.ID()
	if _, exists := r.conns[connID]; exists {
		return nil, state.ErrAlreadyRegistered
	}
	conn := &state.Connection{
		ID:        connID,
		IPAddress: ipAddr,
		Transport: transport,
		Rooms:     make(map[string]struct{}),
		CreatedAt: time.Now(),
	}
	r.conns[connID] = conn
	r.logger.Debug("Connection registered", slog.String("connID", connID.String()))
	return conn, nil
}

func (r *InMemory) Deregister(connID uuid.UUID) []string {
	r.mu.Lock()
	defer r.mu.Unlock()

	conn, ok := r.conns[connID]
	if !ok {
		// already deregistered
		return nil
	}

	left := make([]string, 0, len(conn.Rooms))
	for roomID := range conn.Rooms {
		r.removeMemberLocked(roomID, connID)
		left = append(left, roomID)
	}
	delete(r.conns, connID)

	r.logger.Debug("Connection deregistered",
		slog.String("connID", connID.String()),
		slog.Int("roomsLeft", len(left)),
	)
	return left
}

func (r *InMemory) Connection(connID uuid.UUID) (*state.Connection, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	conn, ok := r.conns[connID]
	return conn, ok
}

func (r *InMemory) Connections() []*state.Connection {
	r.mu.RLock()
	defer r.mu.RUnlock()

	conns := make([]*state.Connection, 0, len(r.conns))
	for _, c := range r.conns {
		conns = append(conns, c)
	}
	return conns
}

func (r *InMemory) Identify(connID uuid.UUID, userID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	conn, ok := r.conns[connID]
	if !ok {
		return state.ErrUnknownConnection
	}
	conn.UserID = userID
	r.logger.Debug("Connection identified",
		slog.String("connID", connID.String()),
		slog.String("userID", userID),
	)
	return nil
}

func (r *InMemory) CountForUser(userID string) int {
	r.mu.RLock()
	defer r.mu.RUnlock()

	count := 0
	for _, c := range r.conns {
		if c.UserID == userID {
			count++
		}
	}
	return count
}

func (r *InMemory) OldestForUser(userID string) (*state.Connection, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var oldest *state.Connection
	for _, c := range r.conns {
		if c.UserID != userID {
			continue
		}
		if oldest == nil || c.CreatedAt.Before(oldest.CreatedAt) {
			oldest = c
		}
	}
	return oldest, oldest != nil
}

func (r *InMemory) JoinRoom(connID uuid.UUID, roomID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	conn, ok := r.conns[connID]
	if !ok {
		return state.ErrUnknownConnection
	}

	// Idempotent: a second join of the same room is a no-op.
	if _, member := conn.Rooms[roomID]; member {
		return nil
	}

	if r.maxRooms > 0 && len(conn.Rooms) >= r.maxRooms {
		return state.ErrRoomLimit
	}

	room, exists := r.rooms[roomID]
	if !exists {
		room = make(map[uuid.UUID]*state.Connection)
		r.rooms[roomID] = room
	}
	conn.Rooms[roomID] = struct{}{}
	room[connID] = conn

	r.logger.Debug("Connection joined room",
		slog.String("connID", connID.String()),
		slog.String("roomID", roomID),
	)
	return nil
}

func (r *InMemory) LeaveRoom(connID uuid.UUID, roomID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	conn, ok := r.conns[connID]
	if !ok {
		return state.ErrUnknownConnection
	}
	delete(conn.Rooms, roomID)
	r.removeMemberLocked(roomID, connID)

	r.logger.Debug("Connection left room",
		slog.String("connID", connID.String()),
		slog.String("roomID", roomID),
	)
	return nil
}

// RoomMembers returns a snapshot of the connections currently in a room. The
// slice is safe to iterate without the lock; a member that disconnects after
// the snapshot simply drops whatever is sent to it.
func (r *InMemory) RoomMembers(roomID string) []*state.Connection {
	r.mu.RLock()
	defer r.mu.RUnlock()

	room, ok := r.rooms[roomID]
	if !ok {
		return nil
	}
	members := make([]*state.Connection, 0, len(room))
	for _, c := range room {
		members = append(members, c)
	}
	return members
}

// removeMemberLocked deletes a membership entry and garbage-collects the room
// once it has no members. Caller must hold the write lock.
func (r *InMemory) removeMemberLocked(roomID string, connID uuid.UUID) {
	room, ok := r.rooms[roomID]
	if !ok {
		return
	}
	delete(room, connID)
	if len(room) == 0 {
		delete(r.rooms, roomID)
		r.logger.Debug("Removed empty room", slog.String("roomID", roomID))
	}
}
