package refresh

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/Amund211/refresher/internal/claim"
	"github.com/Amund211/refresher/internal/lazy"
)

// Cache holds the latest value from a producer and refreshes it in the background
// once it has gone stale.
//
// At most one producer invocation is in flight per Cache, whether it was started by
// a stale read or by Update.
type Cache[T any] struct {
	slot    *lazy.Slot[T]
	claim   claim.Flag
	period  time.Duration
	produce lazy.Producer[T]

	nowFunc func() time.Time
	epoch   time.Time
	// Time of the last refresh attempt, as nanoseconds since epoch
	lastReset atomic.Int64

	hooks hooks[T]
}

type Option func(*options)

type options struct {
	nowFunc func() time.Time
}

func WithNowFunc(nowFunc func() time.Time) Option {
	return func(o *options) {
		o.nowFunc = nowFunc
	}
}

func newCache[T any](period time.Duration, produce lazy.Producer[T], opts []Option) *Cache[T] {
	o := options{nowFunc: time.Now}
	for _, opt := range opts {
		opt(&o)
	}

	return &Cache[T]{
		period:  period,
		produce: produce,
		nowFunc: o.nowFunc,
		epoch:   o.nowFunc(),
	}
}

// New creates a Cache without a value. The first call to Value blocks until the
// producer has returned the initial value.
func New[T any](period time.Duration, produce lazy.Producer[T], opts ...Option) *Cache[T] {
	c := newCache(period, produce, opts)
	c.slot = lazy.New(func(ctx context.Context) (T, error) {
		c.resetClock()
		return produce(ctx)
	})
	return c
}

// NewWithValue creates a Cache holding seed. The seed goes stale one period after creation.
func NewWithValue[T any](seed T, period time.Duration, produce lazy.Producer[T], opts ...Option) *Cache[T] {
	c := newCache(period, produce, opts)
	c.slot = lazy.NewWithValue(seed)
	return c
}

// Value returns the current value without waiting for any refresh.
//
// If the value is stale and no refresh is in flight, a background refresh is started.
// The returned value is always the one held before that refresh.
// Only the very first access of an unseeded Cache can block or return an error.
func (c *Cache[T]) Value(ctx context.Context) (T, error) {
	value, err := c.slot.Get(ctx)
	if err != nil {
		var empty T
		return empty, err
	}

	if !c.Stale() {
		return value, nil
	}

	// Reset before claiming so a burst of stale reads doesn't keep hitting the claim.
	// The claim is what guarantees exclusivity.
	c.resetClock()

	if c.claim.TryClaim() {
		go c.refreshInBackground(context.WithoutCancel(ctx))
	}

	return value, nil
}

func (c *Cache[T]) refreshInBackground(ctx context.Context) {
	defer c.claim.Release()

	c.hooks.refreshStarted(ctx)

	value, err := c.produce(ctx)
	if err != nil {
		c.hooks.refreshFailed(ctx, err)
		return
	}

	c.slot.Set(value)
	c.hooks.refreshSucceeded(ctx, value)
}

// Update runs the producer on the calling goroutine and stores the result.
//
// If a refresh is already in flight Update returns nil immediately without waiting
// for it. Producer errors are returned and leave the previous value in place.
// Update does not fire the refresh hooks.
func (c *Cache[T]) Update(ctx context.Context) error {
	if !c.claim.TryClaim() {
		return nil
	}
	defer c.claim.Release()
	defer c.resetClock()

	// Join the initial production instead of racing it
	if !c.slot.Initialized() {
		if _, err := c.slot.Get(ctx); err != nil {
			return fmt.Errorf("failed to update value: %w", err)
		}
		return nil
	}

	value, err := c.produce(ctx)
	if err != nil {
		return fmt.Errorf("failed to update value: %w", err)
	}

	c.slot.Set(value)
	return nil
}

// Refreshing reports whether a producer invocation is in flight
func (c *Cache[T]) Refreshing() bool {
	return c.claim.Claimed()
}

// Stale reports whether a full period has passed since the last refresh attempt
func (c *Cache[T]) Stale() bool {
	return c.elapsed() >= c.period
}

// Period is how long a value stays fresh after a refresh attempt
func (c *Cache[T]) Period() time.Duration {
	return c.period
}

func (c *Cache[T]) sinceEpoch() time.Duration {
	return c.nowFunc().Sub(c.epoch)
}

func (c *Cache[T]) elapsed() time.Duration {
	return c.sinceEpoch() - time.Duration(c.lastReset.Load())
}

func (c *Cache[T]) resetClock() {
	c.lastReset.Store(int64(c.sinceEpoch()))
}

// OnRefreshStarted registers a hook called before a background refresh runs the producer.
//
// Hooks run synchronously on the refresh goroutine, in registration order. A panicking
// hook is recovered and logged, and the remaining hooks still run. Update fires no hooks.
func (c *Cache[T]) OnRefreshStarted(hook func(ctx context.Context)) (unsubscribe func()) {
	return c.hooks.started.add(hook)
}

// OnRefreshSucceeded registers a hook called on the refresh goroutine with the newly stored value.
// Panics are recovered like in OnRefreshStarted.
func (c *Cache[T]) OnRefreshSucceeded(hook func(ctx context.Context, value T)) (unsubscribe func()) {
	return c.hooks.succeeded.add(hook)
}

// OnRefreshFailed registers a hook called on the refresh goroutine with the producer error.
// The previous value is kept. Panics are recovered like in OnRefreshStarted.
func (c *Cache[T]) OnRefreshFailed(hook func(ctx context.Context, err error)) (unsubscribe func()) {
	return c.hooks.failed.add(hook)
}
