// Package bridge mirrors locally-originated events to every other process
// instance over a shared pub/sub channel, and re-injects events published by
// remote instances into the local dispatcher. Each instance blindly
// republishes; the receiving side filters by its own room membership, so no
// distributed membership directory is needed.
package bridge

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/teamloop/realtime/internal/dispatch"
	"github.com/teamloop/realtime/internal/event"
	"github.com/tidwall/gjson"
)

// Channel is the shared broadcast topic all instances publish to and
// subscribe on.
const Channel = "websocket-events"

// Envelope is the wire format on the broker channel. Origin identifies the
// publishing instance so a subscriber can drop its own echoes; without it,
// same-process members would observe every event twice.
type Envelope struct {
	Type      event.Type      `json:"type"`
	Data      json.RawMessage `json:"data"`
	Timestamp time.Time       `json:"timestamp"`
	Origin    string          `json:"origin"`
}

// Bridge relays events between this instance and its peers. A Bridge built
// with a nil broker runs in degraded single-instance mode: Publish is a no-op
// and no subscriber loop runs. The toggle is decided once at construction,
// never per event.
type Bridge struct {
	broker     Broker
	dispatcher *dispatch.Dispatcher
	instanceID uuid.UUID
	logger     *slog.Logger
}

func New(logger *slog.Logger, broker Broker, dispatcher *dispatch.Dispatcher) *Bridge {
	instanceID := uuid.New()
	return &Bridge{
		broker:     broker,
		dispatcher: dispatcher,
		instanceID: instanceID,
		logger: logger.With(
			slog.String("component", "bridge"),
			slog.String("instanceID", instanceID.String()),
		),
	}
}

// Enabled reports whether a broker is configured.
func (b *Bridge) Enabled() bool {
	return b.broker != nil
}

// InstanceID identifies this process on the broker channel.
func (b *Bridge) InstanceID() uuid.UUID {
	return b.instanceID
}

// Publish serializes the event and sends it to the shared channel. Callers
// run it after local delivery and only log the returned error: a broker
// outage degrades fan-out to local-only, it never fails or delays the local
// path.
func (b *Bridge) Publish(ctx context.Context, t event.Type, payload any) error {
	if b.broker == nil {
		return nil
	}

	data, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	env := Envelope{
		Type:      t,
		Data:      data,
		Timestamp: time.Now(),
		Origin:    b.instanceID.String(),
	}
	raw, err := json.Marshal(env)
	if err != nil {
		return err
	}
	return b.broker.Publish(ctx, Channel, string(raw))
}

// Run subscribes to the shared channel and relays remote events into the
// local dispatcher until ctx is cancelled. In degraded mode it returns
// immediately.
func (b *Bridge) Run(ctx context.Context) error {
	if b.broker == nil {
		b.logger.Info("No broker configured, running in single instance mode")
		return nil
	}

	msgs, err := b.broker.Subscribe(ctx, Channel)
	if err != nil {
		return err
	}
	b.logger.Info("Subscribed to broker channel", slog.String("channel", Channel))

	for {
		select {
		case raw, ok := <-msgs:
			if !ok {
				if ctx.Err() != nil {
					return nil
				}
				return errors.New("broker subscription closed unexpectedly")
			}
			b.handleRemote(raw)
		case <-ctx.Done():
			return nil
		}
	}
}

// handleRemote decodes one envelope and dispatches it by type. Malformed
// messages are dropped with a log line; nothing in here may stop the loop.
func (b *Bridge) handleRemote(raw string) {
	var env Envelope
	if err := json.Unmarshal([]byte(raw), &env); err != nil {
		b.logger.Warn("Dropping malformed broker message", slog.Any("error", err))
		return
	}
	if env.Origin == b.instanceID.String() {
		// Our own publish echoed back; local members already got it.
		return
	}

	data := string(env.Data)
	switch env.Type {
	case event.TypeUserJoined, event.TypeMessage, event.TypeTyping:
		roomID := gjson.Get(data, "roomId").String()
		if roomID == "" {
			b.logger.Warn("Remote event missing roomId", slog.String("type", string(env.Type)))
			return
		}
		b.dispatcher.DeliverToRoom(roomID, env.Type, env.Data, uuid.Nil)
	case event.TypeDocumentUpdate:
		documentID := gjson.Get(data, "documentId").String()
		if documentID == "" {
			b.logger.Warn("Remote documentUpdate missing documentId")
			return
		}
		b.dispatcher.DeliverToRoom(event.DocumentRoom(documentID), env.Type, env.Data, uuid.Nil)
	case event.TypeTaskUpdated:
		projectID := gjson.Get(data, "projectId").String()
		if projectID == "" {
			b.logger.Warn("Remote taskUpdated missing projectId")
			return
		}
		b.dispatcher.DeliverToRoom(event.ProjectRoom(projectID), env.Type, env.Data, uuid.Nil)
	case event.TypeNotification:
		userID := gjson.Get(data, "userId").String()
		if userID == "" {
			b.logger.Warn("Remote notification missing userId")
			return
		}
		notification := gjson.Get(data, "notification")
		if !notification.Exists() {
			b.logger.Warn("Remote notification missing payload")
			return
		}
		b.dispatcher.DeliverToRoom(event.UserRoom(userID), env.Type, json.RawMessage(notification.Raw), uuid.Nil)
	case event.TypeUserDisconnected:
		// Informational only, no redelivery target.
	default:
		b.logger.Warn("Dropping remote event of unknown type", slog.String("type", string(env.Type)))
	}
}
