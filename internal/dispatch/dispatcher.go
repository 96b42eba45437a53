// Package dispatch implements in-process event delivery: fanning an event out
// to the connections this instance holds for a room. Cross-instance delivery
// is the bridge's job; the dispatcher never knows remote membership exists.
package dispatch

import (
	"log/slog"

	"github.com/google/uuid"
	"github.com/teamloop/realtime/internal/event"
	"github.com/teamloop/realtime/pkg/state"
)

type Dispatcher struct {
	registry state.Registry
	logger   *slog.Logger
}

func New(logger *slog.Logger, registry state.Registry) *Dispatcher {
	return &Dispatcher{
		registry: registry,
		logger:   logger.With(slog.String("component", "dispatcher")),
	}
}

// DeliverToRoom sends one event to every local member of a room, skipping the
// origin connection when exclude is non-nil. Delivery is a push onto each
// member's buffered send channel; a member that disconnected after the
// membership snapshot drops the event silently, which is acceptable under the
// best-effort delivery contract.
func (d *Dispatcher) DeliverToRoom(roomID string, t event.Type, payload any, exclude uuid.UUID) {
	members := d.registry.RoomMembers(roomID)
	if len(members) == 0 {
		return
	}

	frame, err := event.EncodeFrame(t, payload)
	if err != nil {
		d.logger.Error("Failed to encode outbound frame",
			slog.String("event", string(t)),
			slog.String("roomID", roomID),
			slog.Any("error", err),
		)
		return
	}

	delivered := 0
	for _, member := range members {
		if exclude != uuid.Nil && member.ID == exclude {
			continue
		}
		member.Transport.Send(frame)
		delivered++
	}
	d.logger.Debug("Delivered event to room",
		slog.String("event", string(t)),
		slog.String("roomID", roomID),
		slog.Int("recipients", delivered),
	)
}

// DeliverToUser sends an event to the user's personal notification room.
func (d *Dispatcher) DeliverToUser(userID string, t event.Type, payload any) {
	d.DeliverToRoom(event.UserRoom(userID), t, payload, uuid.Nil)
}

// BroadcastAll sends an event to every connection held by this instance. It
// backs the REST-facing broadcast collaborator, so mutations made over HTTP
// still reach socket subscribers.
func (d *Dispatcher) BroadcastAll(t event.Type, payload any) {
	frame, err := event.EncodeFrame(t, payload)
	if err != nil {
		d.logger.Error("Failed to encode broadcast frame",
			slog.String("event", string(t)),
			slog.Any("error", err),
		)
		return
	}
	for _, conn := range d.registry.Connections() {
		conn.Transport.Send(frame)
	}
}
