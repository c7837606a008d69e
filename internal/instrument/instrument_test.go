package instrument_test

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"testing"
	"time"

	"github.com/Amund211/refresher/internal/domain"
	"github.com/Amund211/refresher/internal/instrument"
	"github.com/Amund211/refresher/internal/refresh"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/attribute"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
)

func newInstrumentation(t *testing.T) (*instrument.Instrumentation, *sdkmetric.ManualReader) {
	t.Helper()

	reader := sdkmetric.NewManualReader()
	provider := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	t.Cleanup(func() {
		_ = provider.Shutdown(context.Background())
	})

	inst, err := instrument.New(provider.Meter("test"), time.Now)
	require.NoError(t, err)
	return inst, reader
}

func counterValue(t *testing.T, reader *sdkmetric.ManualReader, name, source string) int64 {
	t.Helper()

	var rm metricdata.ResourceMetrics
	require.NoError(t, reader.Collect(context.Background(), &rm))

	total := int64(0)
	for _, scope := range rm.ScopeMetrics {
		for _, m := range scope.Metrics {
			if m.Name != name {
				continue
			}
			sum, ok := m.Data.(metricdata.Sum[int64])
			require.True(t, ok, "metric %s is not an int64 sum", name)
			for _, point := range sum.DataPoints {
				if value, ok := point.Attributes.Value(attribute.Key("source")); ok && value.AsString() == source {
					total += point.Value
				}
			}
		}
	}
	return total
}

func histogramCount(t *testing.T, reader *sdkmetric.ManualReader, name string) uint64 {
	t.Helper()

	var rm metricdata.ResourceMetrics
	require.NoError(t, reader.Collect(context.Background(), &rm))

	count := uint64(0)
	for _, scope := range rm.ScopeMetrics {
		for _, m := range scope.Metrics {
			if m.Name != name {
				continue
			}
			histogram, ok := m.Data.(metricdata.Histogram[float64])
			require.True(t, ok, "metric %s is not a float64 histogram", name)
			for _, point := range histogram.DataPoints {
				count += point.Count
			}
		}
	}
	return count
}

// Trigger one background refresh and wait for it to finish
func refreshOnce[T any](t *testing.T, cache *refresh.Cache[T]) {
	t.Helper()

	_, err := cache.Value(t.Context())
	require.NoError(t, err)
	require.Eventually(t, func() bool {
		return !cache.Refreshing()
	}, time.Second, time.Millisecond)
}

func TestAttach(t *testing.T) {
	t.Parallel()

	t.Run("records successful refreshes", func(t *testing.T) {
		t.Parallel()

		inst, reader := newInstrumentation(t)

		// A zero period makes every read trigger a refresh
		cache := refresh.NewWithValue(0, 0, func(ctx context.Context) (int, error) {
			return 1, nil
		})
		instrument.Attach(inst, cache, "players")

		refreshOnce(t, cache)
		refreshOnce(t, cache)

		require.Equal(t, int64(2), counterValue(t, reader, "refresh/started_count", "players"))
		require.Equal(t, int64(2), counterValue(t, reader, "refresh/succeeded_count", "players"))
		require.Equal(t, int64(0), counterValue(t, reader, "refresh/failed_count", "players"))
		require.Equal(t, uint64(2), histogramCount(t, reader, "refresh/duration_seconds"))
	})

	t.Run("records failed refreshes", func(t *testing.T) {
		t.Parallel()

		inst, reader := newInstrumentation(t)

		attempt := &atomic.Int64{}
		cache := refresh.NewWithValue("seed", 0, func(ctx context.Context) (string, error) {
			if attempt.Add(1)%2 == 0 {
				return "", fmt.Errorf("%w: upstream down", domain.ErrTemporarilyUnavailable)
			}
			return "", errors.New("upstream returned garbage")
		})
		instrument.Attach(inst, cache, "status")

		refreshOnce(t, cache)
		refreshOnce(t, cache)

		require.Equal(t, int64(2), counterValue(t, reader, "refresh/started_count", "status"))
		require.Equal(t, int64(0), counterValue(t, reader, "refresh/succeeded_count", "status"))
		require.Equal(t, int64(2), counterValue(t, reader, "refresh/failed_count", "status"))

		value, err := cache.Value(t.Context())
		require.NoError(t, err)
		require.Equal(t, "seed", value)
	})

	t.Run("detach stops recording", func(t *testing.T) {
		t.Parallel()

		inst, reader := newInstrumentation(t)

		cache := refresh.NewWithValue(0, 0, func(ctx context.Context) (int, error) {
			return 1, nil
		})
		detach := instrument.Attach(inst, cache, "players")

		refreshOnce(t, cache)
		detach()
		refreshOnce(t, cache)

		require.Equal(t, int64(1), counterValue(t, reader, "refresh/started_count", "players"))
		require.Equal(t, int64(1), counterValue(t, reader, "refresh/succeeded_count", "players"))
	})
}
