package channel

import (
	"context"
	"encoding/json"
	"fmt"
	"hash/fnv"
	"sync"
	"time"
)

// Topic returns the topic name of the channel carrying widgetKind data for
// one integration. Subscribers compute the same name to find the channel.
func Topic(widgetKind, integrationID string) string {
	return "item:" + widgetKind + ":integration:" + integrationID
}

// Timestamped is a channel value together with the time it was stored, so
// consumers can show stale data "as of" UpdatedAt.
type Timestamped[T any] struct {
	Value     T         `json:"value"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// Channel is a typed view of one broker topic.
type Channel[T any] struct {
	broker Broker
	topic  string
	now    func() time.Time
}

// ItemAndIntegration returns the channel for widgetKind data of one integration.
func ItemAndIntegration[T any](broker Broker, widgetKind, integrationID string) *Channel[T] {
	return Named[T](broker, Topic(widgetKind, integrationID))
}

// Named returns a channel on an explicit topic name.
func Named[T any](broker Broker, topic string) *Channel[T] {
	return &Channel[T]{broker: broker, topic: topic, now: time.Now}
}

// Topic returns the channel's topic name.
func (c *Channel[T]) Topic() string {
	return c.topic
}

// publishLocks serializes publishes per topic so that stored state and
// broadcast order agree. Topics share a fixed set of stripes, so the set of
// locks does not grow with the number of topics.
var publishLocks [64]sync.Mutex

func lockStripe(topic string) *sync.Mutex {
	h := fnv.New32a()
	_, _ = h.Write([]byte(topic))
	return &publishLocks[h.Sum32()%uint32(len(publishLocks))]
}

func (c *Channel[T]) lock() func() {
	mu := lockStripe(c.topic)
	mu.Lock()
	return mu.Unlock
}

func (c *Channel[T]) encode(value T) ([]byte, error) {
	payload, err := json.Marshal(Timestamped[T]{Value: value, UpdatedAt: c.now().UTC()})
	if err != nil {
		return nil, &PublishError{Topic: c.topic, Err: fmt.Errorf("encode: %w", err)}
	}
	return payload, nil
}

// Set stores value as the last state without notifying subscribers. It is
// used to pre-warm a channel before anyone listens.
func (c *Channel[T]) Set(ctx context.Context, value T) error {
	payload, err := c.encode(value)
	if err != nil {
		return err
	}

	unlock := c.lock()
	defer unlock()

	if err := c.broker.SetState(ctx, c.topic, payload); err != nil {
		return &PublishError{Topic: c.topic, Err: err}
	}
	return nil
}

// PublishAndUpdateLastState stores value as the last state and then
// broadcasts it. Once it returns, a LastState read observes value or a
// later one.
//
// A broadcast failure after the state write is still reported; the state
// write itself is not rolled back.
func (c *Channel[T]) PublishAndUpdateLastState(ctx context.Context, value T) error {
	payload, err := c.encode(value)
	if err != nil {
		return err
	}

	unlock := c.lock()
	defer unlock()

	if err := c.broker.SetState(ctx, c.topic, payload); err != nil {
		return &PublishError{Topic: c.topic, Err: err}
	}
	if err := c.broker.Publish(ctx, c.topic, payload); err != nil {
		return &PublishError{Topic: c.topic, Err: err}
	}
	return nil
}

// LastState returns the last stored value. The boolean is false when nothing
// has been stored yet.
func (c *Channel[T]) LastState(ctx context.Context) (Timestamped[T], bool, error) {
	var out Timestamped[T]

	payload, ok, err := c.broker.GetState(ctx, c.topic)
	if err != nil || !ok {
		return out, false, err
	}
	if err := json.Unmarshal(payload, &out); err != nil {
		return out, false, fmt.Errorf("decode last state of %s: %w", c.topic, err)
	}
	return out, true, nil
}

// Subscribe streams values published after the call. The returned channel is
// closed when ctx is cancelled or the returned stop function is called.
// Payloads that do not decode as T are skipped.
func (c *Channel[T]) Subscribe(ctx context.Context) (<-chan Timestamped[T], func(), error) {
	sub, err := c.broker.Subscribe(ctx, c.topic)
	if err != nil {
		return nil, nil, err
	}

	out := make(chan Timestamped[T], subscriberBuffer)
	go func() {
		defer close(out)
		for payload := range sub.Messages() {
			var v Timestamped[T]
			if err := json.Unmarshal(payload, &v); err != nil {
				continue
			}
			select {
			case out <- v:
			default:
			}
		}
	}()
	return out, sub.Close, nil
}
