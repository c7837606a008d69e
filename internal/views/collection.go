// Package views exposes refreshing caches of collections through read-only accessors.
// It is library surface for callers whose cached value is a slice or a map; the snapshot
// service itself caches opaque bodies and does not use it.
// Every call reads the current value of the cache, which may trigger a background refresh.
package views

import (
	"context"
	"errors"
	"fmt"
	"iter"
	"slices"

	"github.com/Amund211/refresher/internal/refresh"
)

var ErrIndexOutOfRange = errors.New("index out of range")

type Collection[T any] struct {
	cache *refresh.Cache[[]T]
}

func NewCollection[T any](cache *refresh.Cache[[]T]) Collection[T] {
	return Collection[T]{cache: cache}
}

func (c Collection[T]) Len(ctx context.Context) (int, error) {
	items, err := c.cache.Value(ctx)
	if err != nil {
		return 0, err
	}
	return len(items), nil
}

// All iterates over the items present when All was called
func (c Collection[T]) All(ctx context.Context) (iter.Seq[T], error) {
	items, err := c.cache.Value(ctx)
	if err != nil {
		return nil, err
	}
	return slices.Values(items), nil
}

type List[T any] struct {
	Collection[T]
}

func NewList[T any](cache *refresh.Cache[[]T]) List[T] {
	return List[T]{Collection: NewCollection(cache)}
}

func (l List[T]) At(ctx context.Context, index int) (T, error) {
	var zero T

	items, err := l.cache.Value(ctx)
	if err != nil {
		return zero, err
	}
	if index < 0 || index >= len(items) {
		return zero, fmt.Errorf("%w: %d not in [0, %d)", ErrIndexOutOfRange, index, len(items))
	}
	return items[index], nil
}
