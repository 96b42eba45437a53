package hub_test

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/teamloop/realtime/internal/bridge"
	"github.com/teamloop/realtime/internal/dispatch"
	"github.com/teamloop/realtime/internal/event"
	"github.com/teamloop/realtime/internal/hub"
	"github.com/teamloop/realtime/pkg/state/registry"
)

func newTestLogger() *slog.Logger {
	handler := slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelError + 1})
	return slog.New(handler)
}

// --- fakes ---

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

// capturingBroker records published envelopes; subscription is unused in hub
// tests.
type capturingBroker struct {
	mu        sync.Mutex
	published []bridge.Envelope
}

func (b *capturingBroker) Publish(ctx context.Context, channel, payload string) error {
	var env bridge.Envelope
	if err := json.Unmarshal([]byte(payload), &env); err != nil {
		return err
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	b.published = append(b.published, env)
	return nil
}

func (b *capturingBroker) Subscribe(ctx context.Context, channel string) (<-chan string, error) {
	ch := make(chan string)
	return ch, nil
}

func (b *capturingBroker) Close() error { return nil }

func (b *capturingBroker) types() []event.Type {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]event.Type, 0, len(b.published))
	for _, env := range b.published {
		out = append(out, env.Type)
	}
	return out
}

type fakeChats struct {
	mu           sync.Mutex
	participants map[string][]string // chatID -> userIDs
	touched      []string
	err          error
}

func (f *fakeChats) IsParticipant(ctx context.Context, chatID, userID string) (bool, error) {
	if f.err != nil {
		return false, f.err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, u := range f.participants[chatID] {
		if u == userID {
			return true, nil
		}
	}
	return false, nil
}

func (f *fakeChats) Touch(ctx context.Context, chatID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.touched = append(f.touched, chatID)
	return nil
}

type savedMessage struct {
	chatID, senderID, content, to string
}

type fakeMessages struct {
	mu    sync.Mutex
	saves []savedMessage
	err   error
}

func (f *fakeMessages) Save(ctx context.Context, chatID, senderID, content, to string) (*event.Message, error) {
	if f.err != nil {
		return nil, f.err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.saves = append(f.saves, savedMessage{chatID, senderID, content, to})
	return &event.Message{
		ID:          "m-generated",
		Chat:        chatID,
		Sender:      event.Sender{ID: senderID, FirstName: "Ada", LastName: "Lovelace", Email: "ada@example.com"},
		Content:     content,
		To:          to,
		Timestamp:   time.Now(),
		ReadBy:      []string{},
		Attachments: []string{},
		RoomID:      chatID,
	}, nil
}

type fakeNotifications struct {
	mu    sync.Mutex
	saves int
	err   error
}

func (f *fakeNotifications) Save(ctx context.Context, userID string, draft event.NotificationDraft) (*event.Notification, error) {
	if f.err != nil {
		return nil, f.err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.saves++
	now := time.Now()
	return &event.Notification{
		ID:        "n-generated",
		UserID:    userID,
		Type:      draft.Type,
		Title:     draft.Title,
		Message:   draft.Message,
		Data:      draft.Data,
		IsRead:    false,
		Link:      draft.Link,
		CreatedAt: now,
		UpdatedAt: now,
	}, nil
}

// --- harness ---

type harness struct {
	registry      *registry.InMemory
	hub           *hub.Hub
	broker        *capturingBroker
	chats         *fakeChats
	messages      *fakeMessages
	notifications *fakeNotifications
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	logger := newTestLogger()
	reg := registry.NewInMemory(logger, 0)
	disp := dispatch.New(logger, reg)
	broker := &capturingBroker{}
	br := bridge.New(logger, broker, disp)
	chats := &fakeChats{participants: map[string][]string{}}
	messages := &fakeMessages{}
	notifications := &fakeNotifications{}
	h := hub.New(logger, reg, disp, br, chats, messages, notifications)
	return &harness{
		registry:      reg,
		hub:           h,
		broker:        broker,
		chats:         chats,
		messages:      messages,
		notifications: notifications,
	}
}

func (h *harness) connect(t *testing.T, s *fakeSender) {
	t.Helper()
	_, err := h.registry.Register(s, "127.0.0.1")
	require.NoError(t, err)
}

func frame(t *testing.T, name string, payload any) []byte {
	t.Helper()
	raw, err := json.Marshal(payload)
	require.NoError(t, err)
	out, err := json.Marshal(event.Frame{Event: name, Payload: raw})
	require.NoError(t, err)
	return out
}

// --- tests ---

func TestJoinBindsIdentityAndNotifiesPeers(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	a := newSender()
	b := newSender()
	h.connect(t, a)
	h.connect(t, b)

	h.hub.HandleFrame(ctx, a.ID(), frame(t, event.InboundJoin, event.JoinRequest{UserID: "u1", RoomID: "room1"}))
	h.hub.HandleFrame(ctx, b.ID(), frame(t, event.InboundJoin, event.JoinRequest{UserID: "u2", RoomID: "room1"}))

	conn, _ := h.registry.Connection(a.ID())
	assert.Equal(t, "u1", conn.UserID)

	// A was alone when it joined; it then saw B's join, not its own.
	framesA := a.received(t)
	require.Len(t, framesA, 1)
	assert.Equal(t, string(event.TypeUserJoined), framesA[0].Event)
	var joined event.UserJoined
	require.NoError(t, json.Unmarshal(framesA[0].Payload, &joined))
	assert.Equal(t, "u2", joined.UserID)

	assert.Empty(t, b.received(t), "joiner must not see its own userJoined echo")
	assert.Equal(t, []event.Type{event.TypeUserJoined, event.TypeUserJoined}, h.broker.types())
}

// A and B join room1, A sends "hi". Persistence is called once with "hi",
// B receives it, A does not.
func TestMessageScenario(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	h.chats.participants["room1"] = []string{"u1", "u2"}

	a := newSender()
	b := newSender()
	h.connect(t, a)
	h.connect(t, b)
	h.hub.HandleFrame(ctx, a.ID(), frame(t, event.InboundJoin, event.JoinRequest{UserID: "u1", RoomID: "room1"}))
	h.hub.HandleFrame(ctx, b.ID(), frame(t, event.InboundJoin, event.JoinRequest{UserID: "u2", RoomID: "room1"}))

	h.hub.HandleFrame(ctx, a.ID(), frame(t, event.InboundMessage, event.MessageRequest{
		RoomID:  "room1",
		Message: "hi",
		UserID:  "u1",
	}))

	require.Len(t, h.messages.saves, 1, "persistence write called exactly once")
	assert.Equal(t, "hi", h.messages.saves[0].content)
	assert.Equal(t, []string{"room1"}, h.chats.touched)

	// B joined last, so the only frame it holds is A's message.
	framesB := b.received(t)
	require.Len(t, framesB, 1)
	assert.Equal(t, string(event.TypeMessage), framesB[0].Event)
	var msg event.Message
	require.NoError(t, json.Unmarshal(framesB[0].Payload, &msg))
	assert.Equal(t, "hi", msg.Content)
	assert.Equal(t, "m-generated", msg.ID)
	assert.Equal(t, "Ada", msg.Sender.FirstName)

	// A saw B join, but not its own message.
	for _, f := range a.received(t) {
		assert.NotEqual(t, string(event.TypeMessage), f.Event, "sender must not receive its own message locally")
	}

	assert.Contains(t, h.broker.types(), event.TypeMessage)
}

func TestUnauthorizedMessageIsDropped(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	h.chats.participants["room1"] = []string{"u2"} // u1 is not a participant

	a := newSender()
	b := newSender()
	h.connect(t, a)
	h.connect(t, b)
	h.hub.HandleFrame(ctx, a.ID(), frame(t, event.InboundJoin, event.JoinRequest{UserID: "u1", RoomID: "room1"}))
	h.hub.HandleFrame(ctx, b.ID(), frame(t, event.InboundJoin, event.JoinRequest{UserID: "u2", RoomID: "room1"}))

	h.hub.HandleFrame(ctx, a.ID(), frame(t, event.InboundMessage, event.MessageRequest{
		RoomID:  "room1",
		Message: "should not land",
		UserID:  "u1",
	}))

	assert.Empty(t, h.messages.saves, "no persistence call for unauthorized sender")
	for _, f := range b.received(t) {
		assert.NotEqual(t, string(event.TypeMessage), f.Event, "no broadcast for unauthorized sender")
	}
	assert.NotContains(t, h.broker.types(), event.TypeMessage)
}

func TestFailedPersistSkipsBroadcast(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	h.chats.participants["room1"] = []string{"u1", "u2"}
	h.messages.err = errors.New("datastore down")

	a := newSender()
	b := newSender()
	h.connect(t, a)
	h.connect(t, b)
	h.hub.HandleFrame(ctx, a.ID(), frame(t, event.InboundJoin, event.JoinRequest{UserID: "u1", RoomID: "room1"}))
	h.hub.HandleFrame(ctx, b.ID(), frame(t, event.InboundJoin, event.JoinRequest{UserID: "u2", RoomID: "room1"}))

	h.hub.HandleFrame(ctx, a.ID(), frame(t, event.InboundMessage, event.MessageRequest{
		RoomID:  "room1",
		Message: "lost",
		UserID:  "u1",
	}))

	for _, f := range b.received(t) {
		assert.NotEqual(t, string(event.TypeMessage), f.Event, "no broadcast when the write failed")
	}
	assert.NotContains(t, h.broker.types(), event.TypeMessage)
}

func TestTypingIsBroadcastOnly(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	a := newSender()
	b := newSender()
	h.connect(t, a)
	h.connect(t, b)
	h.hub.HandleFrame(ctx, a.ID(), frame(t, event.InboundJoin, event.JoinRequest{UserID: "u1", RoomID: "room1"}))
	h.hub.HandleFrame(ctx, b.ID(), frame(t, event.InboundJoin, event.JoinRequest{UserID: "u2", RoomID: "room1"}))

	h.hub.HandleFrame(ctx, a.ID(), frame(t, event.InboundTyping, event.TypingRequest{
		RoomID: "room1", UserID: "u1", UserName: "Ada", IsTyping: true,
	}))

	framesB := b.received(t)
	require.Len(t, framesB, 1)
	assert.Equal(t, string(event.TypeTyping), framesB[0].Event)
	assert.Empty(t, h.messages.saves)
	assert.Zero(t, h.notifications.saves, "typing persists nothing")
}

func TestDocumentEditRoutesToDocumentRoom(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	editor := newSender()
	viewer := newSender()
	outsider := newSender()
	h.connect(t, editor)
	h.connect(t, viewer)
	h.connect(t, outsider)
	h.hub.HandleFrame(ctx, editor.ID(), frame(t, event.InboundJoin, event.JoinRequest{UserID: "u1", RoomID: event.DocumentRoom("d1")}))
	h.hub.HandleFrame(ctx, viewer.ID(), frame(t, event.InboundJoin, event.JoinRequest{UserID: "u2", RoomID: event.DocumentRoom("d1")}))
	h.hub.HandleFrame(ctx, outsider.ID(), frame(t, event.InboundJoin, event.JoinRequest{UserID: "u3", RoomID: "room1"}))

	h.hub.HandleFrame(ctx, editor.ID(), frame(t, event.InboundDocumentEdit, event.DocumentEditRequest{
		DocumentID: "d1", Content: "draft 2", UserID: "u1",
	}))

	var sawUpdate bool
	for _, f := range viewer.received(t) {
		if f.Event == string(event.TypeDocumentUpdate) {
			sawUpdate = true
			var update event.DocumentUpdate
			require.NoError(t, json.Unmarshal(f.Payload, &update))
			assert.Equal(t, "draft 2", update.Content)
			assert.False(t, update.Timestamp.IsZero())
		}
	}
	assert.True(t, sawUpdate)

	for _, f := range outsider.received(t) {
		assert.NotEqual(t, string(event.TypeDocumentUpdate), f.Event)
	}
}

func TestTaskUpdateIsBroadcastOnly(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	watcher := newSender()
	h.connect(t, watcher)
	h.hub.HandleFrame(ctx, watcher.ID(), frame(t, event.InboundJoin, event.JoinRequest{UserID: "u2", RoomID: event.ProjectRoom("p1")}))

	updater := newSender()
	h.connect(t, updater)
	h.hub.HandleFrame(ctx, updater.ID(), frame(t, event.InboundTaskUpdate, event.TaskUpdateRequest{
		ProjectID: "p1",
		Task:      json.RawMessage(`{"id":"t1","status":"done"}`),
		UserID:    "u1",
	}))

	var sawTask bool
	for _, f := range watcher.received(t) {
		if f.Event == string(event.TypeTaskUpdated) {
			sawTask = true
		}
	}
	assert.True(t, sawTask)
	assert.Empty(t, h.messages.saves, "task updates never persist through the socket path")
}

func TestSendNotificationPersistsThenDelivers(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	inbox := newSender()
	h.connect(t, inbox)
	h.hub.HandleFrame(ctx, inbox.ID(), frame(t, event.InboundJoinNotifications, event.JoinNotificationsRequest{UserID: "u7"}))

	sender := newSender()
	h.connect(t, sender)
	h.hub.HandleFrame(ctx, sender.ID(), frame(t, event.InboundSendNotification, event.SendNotificationRequest{
		UserID: "u7",
		Notification: event.NotificationDraft{
			Type:    "task",
			Title:   "Assigned",
			Message: "You were assigned a task",
		},
	}))

	assert.Equal(t, 1, h.notifications.saves)
	frames := inbox.received(t)
	require.Len(t, frames, 1)
	assert.Equal(t, string(event.TypeNotification), frames[0].Event)
	var notif event.Notification
	require.NoError(t, json.Unmarshal(frames[0].Payload, &notif))
	assert.Equal(t, "n-generated", notif.ID)
	assert.False(t, notif.IsRead)
	assert.Contains(t, h.broker.types(), event.TypeNotification)
}

func TestFailedNotificationPersistSkipsDelivery(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	h.notifications.err = errors.New("datastore down")

	inbox := newSender()
	h.connect(t, inbox)
	h.hub.HandleFrame(ctx, inbox.ID(), frame(t, event.InboundJoinNotifications, event.JoinNotificationsRequest{UserID: "u7"}))

	sender := newSender()
	h.connect(t, sender)
	h.hub.HandleFrame(ctx, sender.ID(), frame(t, event.InboundSendNotification, event.SendNotificationRequest{
		UserID:       "u7",
		Notification: event.NotificationDraft{Message: "lost"},
	}))

	assert.Empty(t, inbox.received(t), "no delivery when the write failed")
	assert.Empty(t, h.broker.types())
}

func TestDisconnectLeavesRoomsAndPublishes(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	a := newSender()
	b := newSender()
	h.connect(t, a)
	h.connect(t, b)
	h.hub.HandleFrame(ctx, a.ID(), frame(t, event.InboundJoin, event.JoinRequest{UserID: "u1", RoomID: "room1"}))
	h.hub.HandleFrame(ctx, b.ID(), frame(t, event.InboundJoin, event.JoinRequest{UserID: "u2", RoomID: "room1"}))

	h.hub.HandleClose(a.ID(), nil)

	_, found := h.registry.Connection(a.ID())
	assert.False(t, found)
	require.Len(t, h.registry.RoomMembers("room1"), 1)
	assert.Contains(t, h.broker.types(), event.TypeUserDisconnected)

	// Events after disconnect never reach the closed connection.
	before := len(a.received(t))
	h.hub.HandleFrame(ctx, b.ID(), frame(t, event.InboundTyping, event.TypingRequest{RoomID: "room1", UserID: "u2", IsTyping: true}))
	assert.Len(t, a.received(t), before)
}

func TestMalformedAndUnknownFramesAreIgnored(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	a := newSender()
	h.connect(t, a)

	h.hub.HandleFrame(ctx, a.ID(), []byte(`{broken`))
	h.hub.HandleFrame(ctx, a.ID(), frame(t, "teleport", map[string]string{"to": "mars"}))

	// Connection is still usable afterwards.
	h.hub.HandleFrame(ctx, a.ID(), frame(t, event.InboundJoin, event.JoinRequest{UserID: "u1", RoomID: "room1"}))
	conn, found := h.registry.Connection(a.ID())
	require.True(t, found)
	assert.Equal(t, "u1", conn.UserID)
}

func TestBroadcastReachesAllLocalAndPublishes(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	a := newSender()
	b := newSender()
	h.connect(t, a)
	h.connect(t, b)
	h.hub.HandleFrame(ctx, a.ID(), frame(t, event.InboundJoin, event.JoinRequest{UserID: "u1", RoomID: "room1"}))

	// The REST layer announces a task change to everyone on this instance.
	h.hub.Broadcast(event.TypeTaskUpdated, event.TaskUpdated{ProjectID: "p1", UserID: "u9", Timestamp: time.Now()})

	var sawA, sawB bool
	for _, f := range a.received(t) {
		if f.Event == string(event.TypeTaskUpdated) {
			sawA = true
		}
	}
	for _, f := range b.received(t) {
		if f.Event == string(event.TypeTaskUpdated) {
			sawB = true
		}
	}
	assert.True(t, sawA)
	assert.True(t, sawB)
	assert.Contains(t, h.broker.types(), event.TypeTaskUpdated)
}
