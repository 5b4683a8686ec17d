package channel

import (
	"context"
	"sync"
)

// MemoryBroker is an in-process implementation of [Broker].
//
// State and sets live in maps guarded by a mutex. Subscribers receive payloads
// via buffered channels (buffer size 100). Sends are non-blocking; if a
// subscriber's buffer is full, the payload is dropped for that subscriber so a
// slow consumer never blocks a publishing job.
type MemoryBroker struct {
	mu     sync.RWMutex
	states map[string][]byte
	lists  map[string]map[string]struct{}

	subMu       sync.RWMutex
	subscribers map[string]map[chan []byte]struct{}
	closed      bool
}

// NewMemoryBroker creates an empty [MemoryBroker]. It is immediately ready
// for use.
func NewMemoryBroker() *MemoryBroker {
	return &MemoryBroker{
		states:      make(map[string][]byte),
		lists:       make(map[string]map[string]struct{}),
		subscribers: make(map[string]map[chan []byte]struct{}),
	}
}

// Publish sends payload to every subscriber of topic without blocking.
func (m *MemoryBroker) Publish(ctx context.Context, topic string, payload []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	m.subMu.RLock()
	defer m.subMu.RUnlock()

	if m.closed {
		return ErrBrokerClosed
	}
	for ch := range m.subscribers[topic] {
		select {
		case ch <- clone(payload):
		default:
			// subscriber is slow, drop the message
		}
	}
	return nil
}

// Subscribe registers a subscriber for topic.
//
// The subscription's channel has a buffer of 100 messages. It is closed when
// ctx is cancelled, when [Subscription.Close] is called, or when the broker
// is closed.
func (m *MemoryBroker) Subscribe(ctx context.Context, topic string) (*Subscription, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	ch := make(chan []byte, subscriberBuffer)

	m.subMu.Lock()
	if m.closed {
		m.subMu.Unlock()
		return nil, ErrBrokerClosed
	}
	if m.subscribers[topic] == nil {
		m.subscribers[topic] = make(map[chan []byte]struct{})
	}
	m.subscribers[topic][ch] = struct{}{}
	m.subMu.Unlock()

	return newSubscription(ctx, ch, func() { m.unsubscribe(topic, ch) }), nil
}

// unsubscribe removes ch from topic and closes it. Safe to call with a
// channel that was already removed.
func (m *MemoryBroker) unsubscribe(topic string, ch chan []byte) {
	m.subMu.Lock()
	defer m.subMu.Unlock()

	subs, ok := m.subscribers[topic]
	if !ok {
		return
	}
	if _, ok := subs[ch]; !ok {
		return
	}
	delete(subs, ch)
	close(ch)
	if len(subs) == 0 {
		delete(m.subscribers, topic)
	}
}

// SubscriberCount returns the number of live subscribers of topic.
func (m *MemoryBroker) SubscriberCount(topic string) int {
	m.subMu.RLock()
	defer m.subMu.RUnlock()
	return len(m.subscribers[topic])
}

func (m *MemoryBroker) SetState(ctx context.Context, topic string, payload []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	m.mu.Lock()
	m.states[topic] = clone(payload)
	m.mu.Unlock()
	return nil
}

func (m *MemoryBroker) GetState(ctx context.Context, topic string) ([]byte, bool, error) {
	if err := ctx.Err(); err != nil {
		return nil, false, err
	}

	m.mu.RLock()
	defer m.mu.RUnlock()

	payload, ok := m.states[topic]
	if !ok {
		return nil, false, nil
	}
	return clone(payload), true, nil
}

func (m *MemoryBroker) ListAdd(ctx context.Context, name string, member []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if m.lists[name] == nil {
		m.lists[name] = make(map[string]struct{})
	}
	m.lists[name][string(member)] = struct{}{}
	return nil
}

func (m *MemoryBroker) ListMembers(ctx context.Context, name string) ([][]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	m.mu.RLock()
	defer m.mu.RUnlock()

	members := make([][]byte, 0, len(m.lists[name]))
	for member := range m.lists[name] {
		members = append(members, []byte(member))
	}
	return members, nil
}

func (m *MemoryBroker) ListRemove(ctx context.Context, name string, members ...[]byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	for _, member := range members {
		delete(m.lists[name], string(member))
	}
	if len(m.lists[name]) == 0 {
		delete(m.lists, name)
	}
	return nil
}

func (m *MemoryBroker) ListClear(ctx context.Context, name string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	m.mu.Lock()
	delete(m.lists, name)
	m.mu.Unlock()
	return nil
}

// Close ends every subscription. Further publishes and subscribes fail with
// [ErrBrokerClosed]; stored state remains readable.
func (m *MemoryBroker) Close() error {
	m.subMu.Lock()
	defer m.subMu.Unlock()

	if m.closed {
		return nil
	}
	m.closed = true
	for topic, subs := range m.subscribers {
		for ch := range subs {
			close(ch)
		}
		delete(m.subscribers, topic)
	}
	return nil
}

func clone(b []byte) []byte {
	if b == nil {
		return nil
	}
	out := make([]byte, len(b))
	copy(out, b)
	return out
}
