package lazy

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"

	"golang.org/x/sync/singleflight"
)

var ErrNoProducer = errors.New("no producer for uninitialized slot")

// Producer computes a value. It may block and it may fail.
type Producer[T any] func(ctx context.Context) (T, error)

// Slot holds a value that is computed at most once at a time from its producer
// on first access. After initialization it is a plain overwritable cell.
type Slot[T any] struct {
	// nil until initialized. Never reverts to nil.
	value   atomic.Pointer[T]
	produce Producer[T]
	group   singleflight.Group
}

const initializationKey = "initialize"

// New creates an uninitialized slot that runs produce on first access
func New[T any](produce Producer[T]) *Slot[T] {
	return &Slot[T]{produce: produce}
}

// NewWithValue creates a slot that is already initialized with value
func NewWithValue[T any](value T) *Slot[T] {
	slot := &Slot[T]{}
	slot.value.Store(&value)
	return slot
}

// Get returns the stored value, running the producer if the slot is not yet initialized.
//
// Concurrent callers on an uninitialized slot share a single producer invocation and
// all receive its result or its error. A failed initialization leaves the slot
// uninitialized, so the next call tries again.
//
// If ctx is done before the shared invocation finishes, Get returns ctx.Err() and the
// invocation keeps running for the remaining callers.
func (s *Slot[T]) Get(ctx context.Context) (T, error) {
	if current := s.value.Load(); current != nil {
		return *current, nil
	}

	return s.initialize(ctx)
}

func (s *Slot[T]) initialize(ctx context.Context) (T, error) {
	var empty T

	if s.produce == nil {
		return empty, ErrNoProducer
	}

	resultChan := s.group.DoChan(initializationKey, func() (any, error) {
		// Someone may have finished initializing between our check and entering the group
		if current := s.value.Load(); current != nil {
			return current, nil
		}

		// The invocation is shared, so it must not be cancelled by the caller that happened to start it
		value, err := s.produce(context.WithoutCancel(ctx))
		if err != nil {
			return nil, err
		}

		s.value.Store(&value)
		return &value, nil
	})

	select {
	case <-ctx.Done():
		return empty, ctx.Err()
	case result := <-resultChan:
		if result.Err != nil {
			return empty, fmt.Errorf("failed to initialize value: %w", result.Err)
		}
		return *result.Val.(*T), nil
	}
}

// Set overwrites the stored value and marks the slot as initialized.
func (s *Slot[T]) Set(value T) {
	s.value.Store(&value)
}

// Initialized reports whether a value has been stored
func (s *Slot[T]) Initialized() bool {
	return s.value.Load() != nil
}
