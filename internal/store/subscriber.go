package store

import (
	"context"
	"fmt"

	"github.com/redis/go-redis/v9"
)

// Subscriber multiplexes the personal channels of all locally attached
// connections over one Redis pub/sub connection. Messages for a single
// channel arrive in publish order; ordering across channels is not
// guaranteed.
type Subscriber struct {
	pubsub *redis.PubSub
}

// NewSubscriber opens a dedicated pub/sub connection. A connection in
// subscribe mode cannot issue regular commands, so this is separate from the
// RoomStore client.
func NewSubscriber(ctx context.Context, client *redis.Client) *Subscriber {
	return &Subscriber{pubsub: client.Subscribe(ctx)}
}

// Subscribe starts delivery for one connection's personal channel.
func (s *Subscriber) Subscribe(ctx context.Context, connectionID string) error {
	if err := s.pubsub.Subscribe(ctx, ConnectionChannel(connectionID)); err != nil {
		return fmt.Errorf("subscribe %s: %w", connectionID, err)
	}
	return nil
}

// Unsubscribe stops delivery for one connection's personal channel.
func (s *Subscriber) Unsubscribe(ctx context.Context, connectionID string) error {
	if err := s.pubsub.Unsubscribe(ctx, ConnectionChannel(connectionID)); err != nil {
		return fmt.Errorf("unsubscribe %s: %w", connectionID, err)
	}
	return nil
}

// Messages returns the delivery channel. It is closed when the subscriber is
// closed.
func (s *Subscriber) Messages() <-chan *redis.Message {
	return s.pubsub.Channel()
}

func (s *Subscriber) Close() error {
	return s.pubsub.Close()
}
