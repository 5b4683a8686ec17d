package jobs

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"sync"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"
)

// Failure is one item that failed during [Settle].
type Failure[T any] struct {
	Item T
	Err  error
}

// PanicError is reported for an item whose function panicked.
type PanicError struct {
	CorrelationID string
	Value         any
	Stack         []byte
}

func (e *PanicError) Error() string {
	return fmt.Sprintf("panic: %v (correlation_id: %s)", e.Value, e.CorrelationID)
}

// Settle calls fn for every item, at most limit at a time, and waits for all
// of them. A failing or panicking item never cancels or delays its siblings.
// A limit <= 0 means no limit.
func Settle[T any](ctx context.Context, limit int, items []T, fn func(ctx context.Context, item T) error) []Failure[T] {
	var (
		g        errgroup.Group
		mu       sync.Mutex
		failures []Failure[T]
	)
	if limit > 0 {
		g.SetLimit(limit)
	}

	for _, item := range items {
		g.Go(func() error {
			if err := settleOne(ctx, item, fn); err != nil {
				mu.Lock()
				failures = append(failures, Failure[T]{Item: item, Err: err})
				mu.Unlock()
			}
			return nil
		})
	}
	_ = g.Wait()

	return failures
}

func settleOne[T any](ctx context.Context, item T, fn func(context.Context, T) error) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = &PanicError{CorrelationID: uuid.NewString(), Value: r, Stack: debug.Stack()}
		}
	}()
	return fn(ctx, item)
}

// allFailed returns an error only when there was at least one item and every
// item failed. Partial failure counts as success for the job.
func allFailed[T any](total int, failures []Failure[T]) error {
	if total == 0 || len(failures) < total {
		return nil
	}
	errs := make([]error, len(failures))
	for i, f := range failures {
		errs[i] = f.Err
	}
	return fmt.Errorf("all %d items failed: %w", total, errors.Join(errs...))
}
