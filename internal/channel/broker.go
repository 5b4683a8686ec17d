package channel

import (
	"context"
	"sync"
)

// subscriberBuffer is the per-subscriber buffer size. Messages for a
// subscriber whose buffer is full are dropped.
const subscriberBuffer = 100

// Broker is the pub/sub substrate behind every channel.
//
// A Broker has two sides: a publish/subscribe side that fans payloads out to
// live subscribers of a topic, and a key-value side that keeps the last known
// state per topic plus named member sets for bulk collection. Payloads are
// opaque bytes; typing happens in [Channel] and [List].
//
// Broker implementations must be safe for concurrent access.
type Broker interface {
	// Publish delivers payload to all current subscribers of topic.
	// It does not touch the topic's stored state.
	Publish(ctx context.Context, topic string, payload []byte) error

	// Subscribe registers a subscriber for topic. The subscription ends when
	// ctx is cancelled or Close is called.
	Subscribe(ctx context.Context, topic string) (*Subscription, error)

	// SetState replaces the stored state of topic.
	SetState(ctx context.Context, topic string, payload []byte) error

	// GetState returns the stored state of topic. The boolean is false when
	// nothing was ever stored.
	GetState(ctx context.Context, topic string) ([]byte, bool, error)

	// ListAdd adds member to the named set. Adding an existing member is a no-op.
	ListAdd(ctx context.Context, name string, member []byte) error

	// ListMembers returns the members of the named set in no particular order.
	ListMembers(ctx context.Context, name string) ([][]byte, error)

	// ListRemove removes the given members from the named set. Missing
	// members are ignored.
	ListRemove(ctx context.Context, name string, members ...[]byte) error

	// ListClear removes every member of the named set.
	ListClear(ctx context.Context, name string) error

	// Close releases the broker's resources and ends all subscriptions.
	Close() error
}

// Subscription is a live registration on a topic.
type Subscription struct {
	messages <-chan []byte
	closeFn  func()
	once     sync.Once
}

// newSubscription wraps messages and ends the subscription through closeFn
// once ctx is cancelled or Close is called, whichever happens first.
func newSubscription(ctx context.Context, messages <-chan []byte, closeFn func()) *Subscription {
	done := make(chan struct{})
	sub := &Subscription{
		messages: messages,
		closeFn: func() {
			close(done)
			closeFn()
		},
	}
	go func() {
		select {
		case <-ctx.Done():
			sub.Close()
		case <-done:
		}
	}()
	return sub
}

// Messages returns the channel payloads are delivered on. It is closed once
// the subscription ends.
func (s *Subscription) Messages() <-chan []byte {
	return s.messages
}

// Close ends the subscription. Safe to call multiple times.
func (s *Subscription) Close() {
	s.once.Do(s.closeFn)
}
