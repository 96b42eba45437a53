package dispatch_test

import (
	"encoding/json"
	"log/slog"
	"os"
	"sync"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/teamloop/realtime/internal/dispatch"
	"github.com/teamloop/realtime/internal/event"
	"github.com/teamloop/realtime/pkg/state/registry"
)

func newTestLogger() *slog.Logger {
	handler := slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelError + 1})
	return slog.New(handler)
}

// fakeSender records every frame pushed to it.
type fakeSender struct {
	id     uuid.UUID
	mu     sync.Mutex
	frames [][]byte
}

func newSender() *fakeSender {
	return &fakeSender{id: uuid.New()}
}

func (f *fakeSender) ID() uuid.UUID { return f.id }

func (f *fakeSender) Send(message []byte) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.frames = append(f.frames, message)
}

func (f *fakeSender) received(t *testing.T) []event.Frame {
	t.Helper()
	f.mu.Lock()
	defer f.mu.Unlock()
	frames := make([]event.Frame, 0, len(f.frames))
	for _, raw := range f.frames {
		var frame event.Frame
		require.NoError(t, json.Unmarshal(raw, &frame))
		frames = append(frames, frame)
	}
	return frames
}

type instance struct {
	registry   *registry.InMemory
	dispatcher *dispatch.Dispatcher
}

func newInstance(t *testing.T) *instance {
	t.Helper()
	logger := newTestLogger()
	reg := registry.NewInMemory(logger, 0)
	return &instance{
		registry:   reg,
		dispatcher: dispatch.New(logger, reg),
	}
}

func (i *instance) join(t *testing.T, s *fakeSender, rooms ...string) {
	t.Helper()
	_, err := i.registry.Register(s, "127.0.0.1")
	require.NoError(t, err)
	for _, room := range rooms {
		require.NoError(t, i.registry.JoinRoom(s.ID(), room))
	}
}

func TestDeliverToRoomExactlyOnce(t *testing.T) {
	inst := newInstance(t)
	a := newSender()
	b := newSender()
	c := newSender()
	inst.join(t, a, "room1")
	inst.join(t, b, "room1")
	inst.join(t, c, "room2")

	inst.dispatcher.DeliverToRoom("room1", event.TypeTyping, event.Typing{RoomID: "room1", UserID: "u1", IsTyping: true}, uuid.Nil)

	for _, member := range []*fakeSender{a, b} {
		frames := member.received(t)
		require.Len(t, frames, 1, "each room member observes the event exactly once")
		assert.Equal(t, string(event.TypeTyping), frames[0].Event)
	}
	assert.Empty(t, c.received(t), "members of other rooms receive nothing")
}

func TestDeliverToRoomExcludesOrigin(t *testing.T) {
	inst := newInstance(t)
	a := newSender()
	b := newSender()
	inst.join(t, a, "room1")
	inst.join(t, b, "room1")

	inst.dispatcher.DeliverToRoom("room1", event.TypeMessage, event.Message{Content: "hi", RoomID: "room1"}, a.ID())

	assert.Empty(t, a.received(t), "origin connection must not receive its own event")
	frames := b.received(t)
	require.Len(t, frames, 1)

	var msg event.Message
	require.NoError(t, json.Unmarshal(frames[0].Payload, &msg))
	assert.Equal(t, "hi", msg.Content)
}

func TestDeliverAfterLeaveAll(t *testing.T) {
	inst := newInstance(t)
	a := newSender()
	b := newSender()
	inst.join(t, a, "room1", "room2")
	inst.join(t, b, "room1")

	inst.registry.Deregister(a.ID())
	inst.dispatcher.DeliverToRoom("room1", event.TypeTyping, event.Typing{RoomID: "room1"}, uuid.Nil)
	inst.dispatcher.DeliverToRoom("room2", event.TypeTyping, event.Typing{RoomID: "room2"}, uuid.Nil)

	assert.Empty(t, a.received(t), "deregistered connection must never be reached again")
	assert.Len(t, b.received(t), 1)
}

func TestDeliverToUser(t *testing.T) {
	inst := newInstance(t)
	a := newSender()
	inst.join(t, a, event.UserRoom("u1"))

	inst.dispatcher.DeliverToUser("u1", event.TypeNotification, event.Notification{ID: "n1", UserID: "u1"})

	frames := a.received(t)
	require.Len(t, frames, 1)
	assert.Equal(t, string(event.TypeNotification), frames[0].Event)
}

func TestBroadcastAllReachesEveryConnection(t *testing.T) {
	inst := newInstance(t)
	a := newSender()
	b := newSender()
	inst.join(t, a, "room1")
	inst.join(t, b) // connected, no rooms

	inst.dispatcher.BroadcastAll(event.TypeTaskUpdated, event.TaskUpdated{ProjectID: "p1"})

	assert.Len(t, a.received(t), 1)
	assert.Len(t, b.received(t), 1)
}

// Two dispatcher instances with no bridge wired: an event on one instance
// must never appear on the other, even if both logically hold "the same"
// room.
func TestNoCrossInstanceDeliveryWithoutBridge(t *testing.T) {
	p1 := newInstance(t)
	p2 := newInstance(t)

	a := newSender()
	b := newSender()
	p1.join(t, a, "room2")
	p2.join(t, b, "room2")

	p1.dispatcher.DeliverToRoom("room2", event.TypeMessage, event.Message{Content: "local only", RoomID: "room2"}, uuid.Nil)

	assert.Len(t, a.received(t), 1)
	assert.Empty(t, b.received(t), "cross-process isolation: no bridge, no remote delivery")
}
