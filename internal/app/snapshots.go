package app

import (
	"context"
	"fmt"
	"slices"
	"time"

	"github.com/Amund211/refresher/internal/adapters/cache"
	"github.com/Amund211/refresher/internal/config"
	"github.com/Amund211/refresher/internal/domain"
	"github.com/Amund211/refresher/internal/instrument"
	"github.com/Amund211/refresher/internal/lazy"
	"github.com/Amund211/refresher/internal/ratelimiting"
	"github.com/Amund211/refresher/internal/refresh"
	"golang.org/x/time/rate"
)

type GetSnapshot func(ctx context.Context, source string) (domain.Snapshot, error)
type RefreshSnapshot func(ctx context.Context, source string) error
type ListSources func(ctx context.Context) []string

type snapshotRegistry interface {
	Get(key string) (*refresh.Cache[domain.Snapshot], error)
}

type snapshotFetcher interface {
	ProducerFor(source, url string) lazy.Producer[domain.Snapshot]
}

// BuildSnapshotFactory creates instrumented refreshing caches for the configured sources.
// Fetches for each source are limited by their own limiter built from fetchLimit and fetchBurst.
func BuildSnapshotFactory(
	sources []config.Source,
	fetcher snapshotFetcher,
	inst *instrument.Instrumentation,
	period time.Duration,
	fetchLimit rate.Limit,
	fetchBurst int,
	nowFunc func() time.Time,
) cache.Factory[domain.Snapshot] {
	urlBySource := make(map[string]string, len(sources))
	for _, source := range sources {
		urlBySource[source.Name] = source.URL
	}

	return func(source string) (*refresh.Cache[domain.Snapshot], error) {
		url, ok := urlBySource[source]
		if !ok {
			return nil, fmt.Errorf("%w: %s", domain.ErrSourceNotFound, source)
		}

		produce := ratelimiting.LimitProducer(
			rate.NewLimiter(fetchLimit, fetchBurst),
			fetcher.ProducerFor(source, url),
		)

		snapshots := refresh.New(period, produce, refresh.WithNowFunc(nowFunc))
		instrument.Attach(inst, snapshots, source)
		return snapshots, nil
	}
}

func BuildGetSnapshot(registry snapshotRegistry) GetSnapshot {
	return func(ctx context.Context, source string) (domain.Snapshot, error) {
		snapshots, err := registry.Get(source)
		if err != nil {
			return domain.Snapshot{}, fmt.Errorf("failed to get cache for source: %w", err)
		}

		snapshot, err := snapshots.Value(ctx)
		if err != nil {
			// NOTE: Only the first fetch of a source can fail here
			return domain.Snapshot{}, fmt.Errorf("%w: initial fetch of %s failed: %w", domain.ErrTemporarilyUnavailable, source, err)
		}

		return snapshot, nil
	}
}

// BuildRefreshSnapshot refreshes synchronously.
// When a refresh of the source is already running this returns immediately without error.
func BuildRefreshSnapshot(registry snapshotRegistry) RefreshSnapshot {
	return func(ctx context.Context, source string) error {
		snapshots, err := registry.Get(source)
		if err != nil {
			return fmt.Errorf("failed to get cache for source: %w", err)
		}

		if err := snapshots.Update(ctx); err != nil {
			return fmt.Errorf("failed to refresh %s: %w", source, err)
		}

		return nil
	}
}

func BuildListSources(sources []config.Source) ListSources {
	names := make([]string, len(sources))
	for i, source := range sources {
		names[i] = source.Name
	}
	slices.Sort(names)

	return func(ctx context.Context) []string {
		return slices.Clone(names)
	}
}
