package channel

import (
	"context"
	"errors"
	"fmt"

	"github.com/redis/go-redis/v9"
)

// DefaultRedisPrefix namespaces every key and pub/sub channel the broker uses.
const DefaultRedisPrefix = "pulsefeed:"

// RedisBroker implements [Broker] on top of Redis.
//
// Topics map to Redis pub/sub channels, stored state to plain string keys
// under "state:", and member sets to Redis sets under "list:". Several
// processes sharing one Redis share last state and subscribers; they do not
// share scheduling or single-flight coordination.
type RedisBroker struct {
	client redis.UniversalClient
	prefix string
}

// RedisOption configures a [RedisBroker].
type RedisOption func(*RedisBroker)

// WithRedisPrefix overrides [DefaultRedisPrefix].
func WithRedisPrefix(prefix string) RedisOption {
	return func(b *RedisBroker) {
		b.prefix = prefix
	}
}

// NewRedisBroker wraps an existing client. Close closes the client.
func NewRedisBroker(client redis.UniversalClient, opts ...RedisOption) *RedisBroker {
	b := &RedisBroker{client: client, prefix: DefaultRedisPrefix}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

func (b *RedisBroker) topicKey(topic string) string { return b.prefix + "topic:" + topic }
func (b *RedisBroker) stateKey(topic string) string { return b.prefix + "state:" + topic }
func (b *RedisBroker) listKey(name string) string   { return b.prefix + "list:" + name }

func (b *RedisBroker) Publish(ctx context.Context, topic string, payload []byte) error {
	if err := b.client.Publish(ctx, b.topicKey(topic), payload).Err(); err != nil {
		return fmt.Errorf("redis publish %s: %w", topic, err)
	}
	return nil
}

// Subscribe opens a Redis subscription and waits for the server to confirm
// it, so a publish issued after Subscribe returns is never missed.
func (b *RedisBroker) Subscribe(ctx context.Context, topic string) (*Subscription, error) {
	pubsub := b.client.Subscribe(ctx, b.topicKey(topic))
	if _, err := pubsub.Receive(ctx); err != nil {
		_ = pubsub.Close()
		return nil, fmt.Errorf("redis subscribe %s: %w", topic, err)
	}

	out := make(chan []byte, subscriberBuffer)
	in := pubsub.Channel()
	go func() {
		defer close(out)
		for msg := range in {
			select {
			case out <- []byte(msg.Payload):
			default:
				// subscriber is slow, drop the message
			}
		}
	}()

	return newSubscription(ctx, out, func() { _ = pubsub.Close() }), nil
}

func (b *RedisBroker) SetState(ctx context.Context, topic string, payload []byte) error {
	if err := b.client.Set(ctx, b.stateKey(topic), payload, 0).Err(); err != nil {
		return fmt.Errorf("redis set state %s: %w", topic, err)
	}
	return nil
}

func (b *RedisBroker) GetState(ctx context.Context, topic string) ([]byte, bool, error) {
	payload, err := b.client.Get(ctx, b.stateKey(topic)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("redis get state %s: %w", topic, err)
	}
	return payload, true, nil
}

func (b *RedisBroker) ListAdd(ctx context.Context, name string, member []byte) error {
	if err := b.client.SAdd(ctx, b.listKey(name), member).Err(); err != nil {
		return fmt.Errorf("redis list add %s: %w", name, err)
	}
	return nil
}

func (b *RedisBroker) ListMembers(ctx context.Context, name string) ([][]byte, error) {
	members, err := b.client.SMembers(ctx, b.listKey(name)).Result()
	if err != nil {
		return nil, fmt.Errorf("redis list members %s: %w", name, err)
	}
	out := make([][]byte, len(members))
	for i, m := range members {
		out[i] = []byte(m)
	}
	return out, nil
}

func (b *RedisBroker) ListRemove(ctx context.Context, name string, members ...[]byte) error {
	if len(members) == 0 {
		return nil
	}
	args := make([]any, len(members))
	for i, m := range members {
		args[i] = m
	}
	if err := b.client.SRem(ctx, b.listKey(name), args...).Err(); err != nil {
		return fmt.Errorf("redis list remove %s: %w", name, err)
	}
	return nil
}

func (b *RedisBroker) ListClear(ctx context.Context, name string) error {
	if err := b.client.Del(ctx, b.listKey(name)).Err(); err != nil {
		return fmt.Errorf("redis list clear %s: %w", name, err)
	}
	return nil
}

func (b *RedisBroker) Close() error {
	return b.client.Close()
}
