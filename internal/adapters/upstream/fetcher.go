package upstream

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/Amund211/refresher/internal/domain"
	"github.com/Amund211/refresher/internal/lazy"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
)

const userAgent = "refresher/1.0"

// Upstream bodies larger than this are rejected
const maxBodySize = 8 << 20

type HttpClient interface {
	Do(req *http.Request) (*http.Response, error)
}

type fetcherMetricsCollection struct {
	requestCount metric.Int64Counter
}

func setupFetcherMetrics(meter metric.Meter) (fetcherMetricsCollection, error) {
	requestCount, err := meter.Int64Counter("upstream/request_count")
	if err != nil {
		return fetcherMetricsCollection{}, fmt.Errorf("failed to create request count metric: %w", err)
	}

	return fetcherMetricsCollection{
		requestCount: requestCount,
	}, nil
}

type Fetcher struct {
	httpClient HttpClient
	nowFunc    func() time.Time

	metrics fetcherMetricsCollection
	tracer  trace.Tracer
}

func NewFetcher(httpClient HttpClient, nowFunc func() time.Time) (*Fetcher, error) {
	const name = "refresher/adapters/upstream"

	metrics, err := setupFetcherMetrics(otel.Meter(name))
	if err != nil {
		return nil, fmt.Errorf("failed to set up metrics: %w", err)
	}

	return &Fetcher{
		httpClient: httpClient,
		nowFunc:    nowFunc,

		metrics: metrics,
		tracer:  otel.Tracer(name),
	}, nil
}

func (f *Fetcher) Fetch(ctx context.Context, source, url string) (domain.Snapshot, error) {
	ctx, span := f.tracer.Start(ctx, "Fetcher.Fetch", trace.WithAttributes(
		attribute.String("source", source),
	))
	defer span.End()

	snapshot, statusCode, err := f.fetch(ctx, source, url)

	f.metrics.requestCount.Add(ctx, 1, metric.WithAttributes(
		attribute.String("source", source),
		attribute.Int("status_code", statusCode),
		attribute.Bool("success", err == nil),
	))

	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return domain.Snapshot{}, err
	}

	span.SetAttributes(attribute.Int("http.response.status_code", statusCode))
	return snapshot, nil
}

func (f *Fetcher) fetch(ctx context.Context, source, url string) (domain.Snapshot, int, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return domain.Snapshot{}, 0, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("User-Agent", userAgent)

	resp, err := f.httpClient.Do(req)
	if err != nil {
		return domain.Snapshot{}, 0, fmt.Errorf("%w: failed to send request: %w", domain.ErrTemporarilyUnavailable, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodySize+1))
	if err != nil {
		return domain.Snapshot{}, resp.StatusCode, fmt.Errorf("%w: failed to read response body: %w", domain.ErrTemporarilyUnavailable, err)
	}
	if len(body) > maxBodySize {
		return domain.Snapshot{}, resp.StatusCode, fmt.Errorf("%w: more than %d bytes from %s", domain.ErrUpstreamTooLarge, maxBodySize, source)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return domain.Snapshot{}, resp.StatusCode, fmt.Errorf("%w: %d from %s", domain.ErrUpstreamStatus, resp.StatusCode, source)
	}

	return domain.Snapshot{
		Source:      source,
		Body:        body,
		StatusCode:  resp.StatusCode,
		ContentType: resp.Header.Get("Content-Type"),
		FetchedAt:   f.nowFunc(),
	}, resp.StatusCode, nil
}

func (f *Fetcher) ProducerFor(source, url string) lazy.Producer[domain.Snapshot] {
	return func(ctx context.Context) (domain.Snapshot, error) {
		return f.Fetch(ctx, source, url)
	}
}
