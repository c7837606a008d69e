package ratelimiting

import (
	"context"
	"fmt"

	"github.com/Amund211/refresher/internal/domain"
	"github.com/Amund211/refresher/internal/lazy"
	"golang.org/x/time/rate"
)

// LimitProducer waits for a token from limiter before every call to produce.
//
// Refreshes run detached from any request, so a ctx without a deadline may wait for as
// long as the limiter requires.
func LimitProducer[T any](limiter *rate.Limiter, produce lazy.Producer[T]) lazy.Producer[T] {
	return func(ctx context.Context) (T, error) {
		if err := limiter.Wait(ctx); err != nil {
			var zero T
			return zero, fmt.Errorf("%w: rate limit wait: %w", domain.ErrTemporarilyUnavailable, err)
		}
		return produce(ctx)
	}
}
