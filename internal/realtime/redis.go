package realtime

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"
	"go.uber.org/zap"
)

// RedisBridge fans events out across instances. Publish goes to a Redis
// channel only; Run feeds every message on that channel, our own included,
// into the local Bus.
type RedisBridge struct {
	client  *redis.Client
	channel string
	bus     *Bus
	log     *zap.Logger
}

func NewRedisBridge(client *redis.Client, channel string, bus *Bus, log *zap.Logger) *RedisBridge {
	return &RedisBridge{client: client, channel: channel, bus: bus, log: log}
}

// Publish falls back to local delivery when Redis is unreachable so observers
// on this instance still refetch. The error is returned for the caller to log.
func (r *RedisBridge) Publish(ctx context.Context, event Event) error {
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now().UTC()
	}
	payload, err := encodeEvent(event)
	if err != nil {
		return err
	}
	if err := r.client.Publish(ctx, r.channel, payload).Err(); err != nil {
		_ = r.bus.Publish(ctx, event)
		return fmt.Errorf("publishing event to redis: %w", err)
	}
	return nil
}

// Run blocks until ctx is cancelled or the subscription fails.
func (r *RedisBridge) Run(ctx context.Context) error {
	pubsub := r.client.Subscribe(ctx, r.channel)
	defer pubsub.Close()

	if _, err := pubsub.Receive(ctx); err != nil {
		return fmt.Errorf("subscribing to %s: %w", r.channel, err)
	}
	r.log.Info("realtime redis bridge subscribed", zap.String("channel", r.channel))

	messages := pubsub.Channel()
	for {
		select {
		case <-ctx.Done():
			return nil
		case msg, ok := <-messages:
			if !ok {
				return nil
			}
			r.handle(ctx, msg.Payload)
		}
	}
}

func (r *RedisBridge) handle(ctx context.Context, payload string) {
	event, err := decodeEvent(payload)
	if err != nil {
		r.log.Warn("dropping malformed realtime event", zap.Error(err))
		return
	}
	_ = r.bus.Publish(ctx, event)
}

func encodeEvent(event Event) ([]byte, error) {
	payload, err := json.Marshal(event)
	if err != nil {
		return nil, fmt.Errorf("encoding event: %w", err)
	}
	return payload, nil
}

func decodeEvent(payload string) (Event, error) {
	var event Event
	if err := json.Unmarshal([]byte(payload), &event); err != nil {
		return Event{}, fmt.Errorf("decoding event: %w", err)
	}
	if event.Topic == "" {
		return Event{}, fmt.Errorf("decoding event: missing topic")
	}
	return event, nil
}
