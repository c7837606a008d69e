package cache

import (
	"fmt"
	"slices"
	"sync"
	"time"

	"github.com/Amund211/refresher/internal/refresh"
	"github.com/jellydator/ttlcache/v3"
)

type Factory[T any] func(key string) (*refresh.Cache[T], error)

// Registry holds one refreshing cache per key, created on first use.
// Every hit extends the lifetime of the entry, so only idle keys are evicted.
type Registry[T any] struct {
	cache   *ttlcache.Cache[string, *refresh.Cache[T]]
	factory Factory[T]

	// Serializes creation so concurrent first lookups share one cache
	createLock sync.Mutex
}

func NewRegistry[T any](idleTTL time.Duration, factory Factory[T]) *Registry[T] {
	cache := ttlcache.New[string, *refresh.Cache[T]](
		ttlcache.WithTTL[string, *refresh.Cache[T]](idleTTL),
	)
	go cache.Start()

	return &Registry[T]{
		cache:   cache,
		factory: factory,
	}
}

func (r *Registry[T]) Get(key string) (*refresh.Cache[T], error) {
	if item := r.cache.Get(key); item != nil {
		return item.Value(), nil
	}

	r.createLock.Lock()
	defer r.createLock.Unlock()

	if item := r.cache.Get(key); item != nil {
		return item.Value(), nil
	}

	created, err := r.factory(key)
	if err != nil {
		return nil, fmt.Errorf("failed to create cache for %s: %w", key, err)
	}

	r.cache.Set(key, created, ttlcache.DefaultTTL)
	return created, nil
}

func (r *Registry[T]) Keys() []string {
	keys := r.cache.Keys()
	slices.Sort(keys)
	return keys
}

func (r *Registry[T]) Len() int {
	return r.cache.Len()
}

// Stop halts the eviction loop
func (r *Registry[T]) Stop() {
	r.cache.Stop()
}
