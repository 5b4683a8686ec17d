package channel

import (
	"context"
	"encoding/json"
	"fmt"
)

// List is a typed set used for bulk collection: many producers add members,
// one job reads them all once per tick and clears the set.
type List[T any] struct {
	broker Broker
	name   string
}

// NewList returns the list stored under name.
func NewList[T any](broker Broker, name string) *List[T] {
	return &List[T]{broker: broker, name: name}
}

// Add inserts value. Values are compared by their JSON encoding, so adding
// an equal value twice keeps a single member.
func (l *List[T]) Add(ctx context.Context, value T) error {
	member, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("encode %s member: %w", l.name, err)
	}
	if err := l.broker.ListAdd(ctx, l.name, member); err != nil {
		return &PublishError{Topic: l.name, Err: err}
	}
	return nil
}

// GetAll returns every member in no particular order.
func (l *List[T]) GetAll(ctx context.Context) ([]T, error) {
	members, err := l.broker.ListMembers(ctx, l.name)
	if err != nil {
		return nil, err
	}

	values := make([]T, 0, len(members))
	for _, member := range members {
		var v T
		if err := json.Unmarshal(member, &v); err != nil {
			return nil, fmt.Errorf("decode %s member: %w", l.name, err)
		}
		values = append(values, v)
	}
	return values, nil
}

// Remove deletes the given values. Values that are not members are ignored.
func (l *List[T]) Remove(ctx context.Context, values ...T) error {
	members := make([][]byte, 0, len(values))
	for _, v := range values {
		member, err := json.Marshal(v)
		if err != nil {
			return fmt.Errorf("encode %s member: %w", l.name, err)
		}
		members = append(members, member)
	}
	return l.broker.ListRemove(ctx, l.name, members...)
}

// Clear removes every member.
func (l *List[T]) Clear(ctx context.Context) error {
	return l.broker.ListClear(ctx, l.name)
}
