package views

import (
	"context"
	"iter"
	"maps"
	"slices"

	"github.com/Amund211/refresher/internal/refresh"
)

type Map[K comparable, V any] struct {
	cache *refresh.Cache[map[K]V]
}

func NewMap[K comparable, V any](cache *refresh.Cache[map[K]V]) Map[K, V] {
	return Map[K, V]{cache: cache}
}

func (m Map[K, V]) Len(ctx context.Context) (int, error) {
	values, err := m.cache.Value(ctx)
	if err != nil {
		return 0, err
	}
	return len(values), nil
}

func (m Map[K, V]) Get(ctx context.Context, key K) (V, bool, error) {
	values, err := m.cache.Value(ctx)
	if err != nil {
		var zero V
		return zero, false, err
	}
	value, ok := values[key]
	return value, ok, nil
}

func (m Map[K, V]) Contains(ctx context.Context, key K) (bool, error) {
	_, ok, err := m.Get(ctx, key)
	return ok, err
}

// Keys are returned in unspecified order
func (m Map[K, V]) Keys(ctx context.Context) ([]K, error) {
	values, err := m.cache.Value(ctx)
	if err != nil {
		return nil, err
	}
	return slices.Collect(maps.Keys(values)), nil
}

func (m Map[K, V]) Values(ctx context.Context) ([]V, error) {
	values, err := m.cache.Value(ctx)
	if err != nil {
		return nil, err
	}
	return slices.Collect(maps.Values(values)), nil
}

func (m Map[K, V]) All(ctx context.Context) (iter.Seq2[K, V], error) {
	values, err := m.cache.Value(ctx)
	if err != nil {
		return nil, err
	}
	return maps.All(values), nil
}
