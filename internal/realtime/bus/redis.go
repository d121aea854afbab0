package bus

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/wefthq/weft/internal/common/config"
	"github.com/wefthq/weft/internal/realtime/event"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// RedisBus spans server instances: every publish goes to one Redis topic
// and every instance dispatches what it reads back to its local
// subscribers. The publisher hears its own events through the Redis echo,
// so nothing is dispatched locally at publish time.
type RedisBus struct {
	logger *zap.Logger
	client *redis.Client
	topic  string
	pubsub *redis.PubSub

	// local carries the subscriber bookkeeping; the read loop feeds it.
	local *MemoryBus
}

var _ Bus = (*RedisBus)(nil)

// redisEnvelope wraps an encoded event with its scope for transport.
type redisEnvelope struct {
	Scope string          `json:"scope"`
	Event json.RawMessage `json:"event"`
}

func NewRedisBus(logger *zap.Logger, cfg config.BusRedisConfig) (*RedisBus, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Username: cfg.Username,
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	if err := client.Ping(context.Background()).Err(); err != nil {
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}

	b := &RedisBus{
		logger: logger.Named("bus.redis"),
		client: client,
		topic:  cfg.Topic,
		local:  NewMemoryBus(logger),
	}

	b.pubsub = client.Subscribe(context.Background(), cfg.Topic)
	go b.readLoop()

	return b, nil
}

func (b *RedisBus) Publish(ctx context.Context, scope string, evt *event.Event) error {
	raw, err := event.Marshal(evt)
	if err != nil {
		return err
	}
	data, err := json.Marshal(redisEnvelope{Scope: scope, Event: raw})
	if err != nil {
		return fmt.Errorf("marshal bus envelope: %w", err)
	}
	return b.client.Publish(ctx, b.topic, data).Err()
}

// readLoop dispatches everything published to the topic, by this instance
// or any other, until the pubsub is closed.
func (b *RedisBus) readLoop() {
	for msg := range b.pubsub.Channel() {
		var env redisEnvelope
		if err := json.Unmarshal([]byte(msg.Payload), &env); err != nil {
			b.logger.Error("failed to unmarshal bus envelope",
				zap.Error(err),
				zap.String("payload", msg.Payload))
			continue
		}
		evt, err := event.Unmarshal(env.Event)
		if err != nil {
			b.logger.Error("failed to decode bus event",
				zap.Error(err),
				zap.String("scope", env.Scope))
			continue
		}
		if err := b.local.Publish(context.Background(), env.Scope, evt); err != nil {
			b.logger.Debug("dropping event after close",
				zap.String("scope", env.Scope),
				zap.String("kind", string(evt.Kind)))
		}
	}
}

func (b *RedisBus) Subscribe(scope string, h Handler) func() {
	return b.local.Subscribe(scope, h)
}

func (b *RedisBus) SubscribeAll(h Handler) func() {
	return b.local.SubscribeAll(h)
}

func (b *RedisBus) ClearAll() {
	b.local.ClearAll()
}

func (b *RedisBus) Close() error {
	_ = b.local.Close()
	if b.pubsub != nil {
		if err := b.pubsub.Close(); err != nil {
			return fmt.Errorf("failed to close pubsub: %w", err)
		}
	}
	return b.client.Close()
}
