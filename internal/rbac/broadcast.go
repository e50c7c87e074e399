package rbac

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// DefaultInvalidationChannel is the Redis channel used between instances.
const DefaultInvalidationChannel = "rbac.invalidate"

// Broadcaster relays invalidations to other console instances over Redis
// pub/sub. Publishing is best effort: a lost message is bounded by the
// cache TTL on peers, never by the local read path.
type Broadcaster struct {
	client  *redis.Client
	channel string
	origin  string
	logger  *slog.Logger
}

type invalidationMessage struct {
	Origin string `json:"origin"`
	Invalidation
}

// NewBroadcaster constructs a Broadcaster on channel.
func NewBroadcaster(client *redis.Client, channel string, logger *slog.Logger) *Broadcaster {
	if channel == "" {
		channel = DefaultInvalidationChannel
	}
	return &Broadcaster{client: client, channel: channel, origin: uuid.NewString(), logger: logger}
}

// Invalidate implements Invalidator by publishing inv to peers.
func (b *Broadcaster) Invalidate(ctx context.Context, inv Invalidation) {
	if b == nil || b.client == nil {
		return
	}
	payload, err := json.Marshal(invalidationMessage{Origin: b.origin, Invalidation: inv})
	if err != nil {
		b.warn("rbac encode invalidation", err)
		return
	}
	if err := b.client.Publish(ctx, b.channel, payload).Err(); err != nil {
		b.warn("rbac publish invalidation", err)
	}
}

// Listen subscribes to the channel and applies peer invalidations to target
// until ctx ends. It returns once the subscription is confirmed.
func (b *Broadcaster) Listen(ctx context.Context, target Invalidator) error {
	if b == nil || b.client == nil {
		return nil
	}
	pubsub := b.client.Subscribe(ctx, b.channel)
	if _, err := pubsub.Receive(ctx); err != nil {
		_ = pubsub.Close()
		return fmt.Errorf("rbac: subscribe %s: %w", b.channel, err)
	}
	go func() {
		defer func() { _ = pubsub.Close() }()
		ch := pubsub.Channel()
		for {
			select {
			case <-ctx.Done():
				return
			case msg, ok := <-ch:
				if !ok {
					return
				}
				var in invalidationMessage
				if err := json.Unmarshal([]byte(msg.Payload), &in); err != nil {
					// Unreadable payloads still mean something changed.
					b.warn("rbac decode invalidation", err)
					target.Invalidate(ctx, AllInvalidation())
					continue
				}
				if in.Origin == b.origin {
					continue
				}
				target.Invalidate(ctx, in.Invalidation)
			}
		}
	}()
	return nil
}

func (b *Broadcaster) warn(msg string, err error) {
	if b.logger != nil {
		b.logger.Warn(msg, slog.String("channel", b.channel), slog.Any("error", err))
	}
}
