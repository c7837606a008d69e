package instrument

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/Amund211/refresher/internal/domain"
	"github.com/Amund211/refresher/internal/logging"
	"github.com/Amund211/refresher/internal/refresh"
	"github.com/Amund211/refresher/internal/reporting"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

type refreshMetricsCollection struct {
	startedCount   metric.Int64Counter
	succeededCount metric.Int64Counter
	failedCount    metric.Int64Counter
	duration       metric.Float64Histogram
}

type Instrumentation struct {
	metrics refreshMetricsCollection
	nowFunc func() time.Time
}

func New(meter metric.Meter, nowFunc func() time.Time) (*Instrumentation, error) {
	startedCount, err := meter.Int64Counter(
		"refresh/started_count",
		metric.WithDescription("Background refreshes started"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create started count metric: %w", err)
	}

	succeededCount, err := meter.Int64Counter(
		"refresh/succeeded_count",
		metric.WithDescription("Background refreshes that stored a new value"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create succeeded count metric: %w", err)
	}

	failedCount, err := meter.Int64Counter(
		"refresh/failed_count",
		metric.WithDescription("Background refreshes that kept the previous value"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create failed count metric: %w", err)
	}

	duration, err := meter.Float64Histogram(
		"refresh/duration_seconds",
		metric.WithDescription("Time spent in background refreshes"),
		metric.WithUnit("s"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create duration metric: %w", err)
	}

	return &Instrumentation{
		metrics: refreshMetricsCollection{
			startedCount:   startedCount,
			succeededCount: succeededCount,
			failedCount:    failedCount,
			duration:       duration,
		},
		nowFunc: nowFunc,
	}, nil
}

// Attach observes the background refreshes of cache. Call the returned func to stop.
func Attach[T any](inst *Instrumentation, cache *refresh.Cache[T], name string) func() {
	// Refreshes of one cache never overlap, so one start time is enough
	var startedAt atomic.Int64

	sourceAttribute := metric.WithAttributes(attribute.String("source", name))

	elapsed := func() time.Duration {
		return inst.nowFunc().Sub(time.Unix(0, startedAt.Load()))
	}

	unsubscribeStarted := cache.OnRefreshStarted(func(ctx context.Context) {
		startedAt.Store(inst.nowFunc().UnixNano())
		inst.metrics.startedCount.Add(ctx, 1, sourceAttribute)
		logging.FromContext(ctx).InfoContext(ctx, "Refresh started", slog.String("source", name))
	})

	unsubscribeSucceeded := cache.OnRefreshSucceeded(func(ctx context.Context, _ T) {
		duration := elapsed()
		inst.metrics.succeededCount.Add(ctx, 1, sourceAttribute)
		inst.metrics.duration.Record(ctx, duration.Seconds(), metric.WithAttributes(
			attribute.String("source", name),
			attribute.Bool("success", true),
		))
		logging.FromContext(ctx).InfoContext(ctx, "Refresh succeeded",
			slog.String("source", name),
			slog.Duration("duration", duration),
		)
	})

	unsubscribeFailed := cache.OnRefreshFailed(func(ctx context.Context, err error) {
		duration := elapsed()
		inst.metrics.failedCount.Add(ctx, 1, sourceAttribute)
		inst.metrics.duration.Record(ctx, duration.Seconds(), metric.WithAttributes(
			attribute.String("source", name),
			attribute.Bool("success", false),
		))

		if errors.Is(err, domain.ErrTemporarilyUnavailable) {
			logging.FromContext(ctx).WarnContext(ctx, "Refresh failed, keeping previous value",
				slog.String("source", name),
				slog.String("error", err.Error()),
			)
			return
		}

		reporting.Report(ctx, fmt.Errorf("background refresh of %s failed: %w", name, err), map[string]string{
			"source":   name,
			"duration": duration.String(),
		})
	})

	return func() {
		unsubscribeStarted()
		unsubscribeSucceeded()
		unsubscribeFailed()
	}
}
