package bridge

import (
	"context"

	"github.com/redis/go-redis/v9"
)

// Broker is the pub/sub transport the bridge relays through. Implementations
// must keep the subscription on a connection that never issues other commands.
type Broker interface {
	Publish(ctx context.Context, channel, payload string) error
	// Subscribe returns a channel of raw messages published to the given
	// broker channel. The stream ends when ctx is cancelled.
	Subscribe(ctx context.Context, channel string) (<-chan string, error)
	Close() error
}

// RedisBroker relays through Redis pub/sub. It holds two clients: one for
// publishing and a duplicate for subscribing, since a subscribed Redis
// connection cannot issue other commands.
type RedisBroker struct {
	pub *redis.Client
	sub *redis.Client
}

func NewRedisBroker(opts *redis.Options) *RedisBroker {
	subOpts := *opts
	return &RedisBroker{
		pub: redis.NewClient(opts),
		sub: redis.NewClient(&subOpts),
	}
}

var _ Broker = (*RedisBroker)(nil)

func (b *RedisBroker) Publish(ctx context.Context, channel, payload string) error {
	return b.pub.Publish(ctx, channel, payload).Err()
}

func (b *RedisBroker) Subscribe(ctx context.Context, channel string) (<-chan string, error) {
	pubsub := b.sub.Subscribe(ctx, channel)
	// Wait for the subscription to be confirmed so callers know relaying is
	// active before any event is published.
	if _, err := pubsub.Receive(ctx); err != nil {
		pubsub.Close()
		return nil, err
	}

	out := make(chan string)
	go func() {
		defer close(out)
		defer pubsub.Close()
		msgs := pubsub.Channel()
		for {
			select {
			case msg, ok := <-msgs:
				if !ok {
					return
				}
				select {
				case out <- msg.Payload:
				case <-ctx.Done():
					return
				}
			case <-ctx.Done():
				return
			}
		}
	}()
	return out, nil
}

func (b *RedisBroker) Close() error {
	if err := b.sub.Close(); err != nil {
		b.pub.Close()
		return err
	}
	return b.pub.Close()
}

// Ping verifies broker reachability at startup.
func (b *RedisBroker) Ping(ctx context.Context) error {
	return b.pub.Ping(ctx).Err()
}
