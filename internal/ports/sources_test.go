package ports_test

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/Amund211/refresher/internal/app"
	"github.com/Amund211/refresher/internal/domain"
	"github.com/Amund211/refresher/internal/ports"
	"github.com/Amund211/refresher/internal/ratelimiting"
	"github.com/stretchr/testify/require"
)

var testLogger = slog.New(slog.NewTextHandler(io.Discard, nil))

func noopMiddleware(h http.HandlerFunc) http.HandlerFunc {
	return h
}

type allowAll struct {
	allow bool
}

func (a allowAll) Consume(key string) bool {
	return a.allow
}

func newRouter(
	getSnapshot app.GetSnapshot,
	refreshSnapshot app.RefreshSnapshot,
	allowRefresh bool,
) *http.ServeMux {
	limiter := ratelimiting.NewRequestBasedRateLimiter(allowAll{allow: allowRefresh}, ratelimiting.IPKeyFunc)

	mux := http.NewServeMux()
	mux.HandleFunc("GET /v1/sources", ports.MakeListSourcesHandler(
		app.BuildListSources(nil), testLogger, noopMiddleware,
	))
	mux.HandleFunc("GET /v1/sources/{name}", ports.MakeGetSourceHandler(getSnapshot, testLogger, noopMiddleware))
	mux.HandleFunc("POST /v1/sources/{name}/refresh", ports.MakeRefreshSourceHandler(
		refreshSnapshot, limiter, testLogger, noopMiddleware,
	))
	return mux
}

func serve(mux http.Handler, method, target string) *httptest.ResponseRecorder {
	w := httptest.NewRecorder()
	mux.ServeHTTP(w, httptest.NewRequest(method, target, nil))
	return w
}

func TestMakeGetSourceHandler(t *testing.T) {
	t.Parallel()

	fetchedAt := time.Date(2026, time.March, 14, 12, 30, 0, 0, time.UTC)

	makeGetSnapshot := func(t *testing.T, snapshot domain.Snapshot, err error) (app.GetSnapshot, *bool) {
		called := false
		return func(ctx context.Context, source string) (domain.Snapshot, error) {
			t.Helper()
			require.Equal(t, "players", source)
			called = true
			return snapshot, err
		}, &called
	}

	t.Run("serves the cached body", func(t *testing.T) {
		t.Parallel()

		getSnapshot, called := makeGetSnapshot(t, domain.Snapshot{
			Source:      "players",
			Body:        []byte(`{"players":[]}`),
			StatusCode:  http.StatusOK,
			ContentType: "application/json",
			FetchedAt:   fetchedAt,
		}, nil)

		w := serve(newRouter(getSnapshot, nil, true), http.MethodGet, "/v1/sources/players")

		require.True(t, *called)
		require.Equal(t, http.StatusOK, w.Code)
		require.Equal(t, `{"players":[]}`, w.Body.String())
		require.Equal(t, "application/json", w.Header().Get("Content-Type"))
		require.Equal(t, "2026-03-14T12:30:00Z", w.Header().Get("X-Refresher-Fetched-At"))
		require.Equal(t, "200", w.Header().Get("X-Refresher-Upstream-Status"))
		require.NotEmpty(t, w.Header().Get("Age"))
	})

	t.Run("missing content type", func(t *testing.T) {
		t.Parallel()

		getSnapshot, _ := makeGetSnapshot(t, domain.Snapshot{
			Source:     "players",
			Body:       []byte{0x01},
			StatusCode: http.StatusNonAuthoritativeInfo,
			FetchedAt:  fetchedAt,
		}, nil)

		w := serve(newRouter(getSnapshot, nil, true), http.MethodGet, "/v1/sources/players")

		require.Equal(t, http.StatusOK, w.Code)
		require.Equal(t, "application/octet-stream", w.Header().Get("Content-Type"))
		require.Equal(t, "203", w.Header().Get("X-Refresher-Upstream-Status"))
	})

	t.Run("unknown source", func(t *testing.T) {
		t.Parallel()

		getSnapshot, called := makeGetSnapshot(t, domain.Snapshot{}, fmt.Errorf("wrapped: %w", domain.ErrSourceNotFound))

		w := serve(newRouter(getSnapshot, nil, true), http.MethodGet, "/v1/sources/players")

		require.True(t, *called)
		require.Equal(t, http.StatusNotFound, w.Code)
		require.JSONEq(t, `{"success":false,"source":"players","cause":"not found"}`, w.Body.String())
	})

	t.Run("initial fetch failed", func(t *testing.T) {
		t.Parallel()

		getSnapshot, _ := makeGetSnapshot(t, domain.Snapshot{}, fmt.Errorf("%w: boom", domain.ErrTemporarilyUnavailable))

		w := serve(newRouter(getSnapshot, nil, true), http.MethodGet, "/v1/sources/players")

		require.Equal(t, http.StatusServiceUnavailable, w.Code)
		require.JSONEq(t, `{"success":false,"source":"players","cause":"temporarily unavailable"}`, w.Body.String())
		require.Equal(t, "application/json", w.Header().Get("Content-Type"))
	})

	t.Run("name too long", func(t *testing.T) {
		t.Parallel()

		getSnapshot := func(ctx context.Context, source string) (domain.Snapshot, error) {
			t.Fatal("should not be called")
			return domain.Snapshot{}, nil
		}

		longName := make([]byte, 101)
		for i := range longName {
			longName[i] = 'a'
		}

		w := serve(newRouter(getSnapshot, nil, true), http.MethodGet, "/v1/sources/"+string(longName))

		require.Equal(t, http.StatusBadRequest, w.Code)
	})
}

func TestMakeRefreshSourceHandler(t *testing.T) {
	t.Parallel()

	makeRefreshSnapshot := func(t *testing.T, err error) (app.RefreshSnapshot, *bool) {
		called := false
		return func(ctx context.Context, source string) error {
			t.Helper()
			require.Equal(t, "players", source)
			called = true
			return err
		}, &called
	}

	t.Run("refreshed", func(t *testing.T) {
		t.Parallel()

		refreshSnapshot, called := makeRefreshSnapshot(t, nil)
		w := serve(newRouter(nil, refreshSnapshot, true), http.MethodPost, "/v1/sources/players/refresh")

		require.True(t, *called)
		require.Equal(t, http.StatusNoContent, w.Code)
		require.Empty(t, w.Body.String())
	})

	t.Run("unknown source", func(t *testing.T) {
		t.Parallel()

		refreshSnapshot, _ := makeRefreshSnapshot(t, domain.ErrSourceNotFound)
		w := serve(newRouter(nil, refreshSnapshot, true), http.MethodPost, "/v1/sources/players/refresh")

		require.Equal(t, http.StatusNotFound, w.Code)
	})

	t.Run("upstream failure", func(t *testing.T) {
		t.Parallel()

		refreshSnapshot, _ := makeRefreshSnapshot(t, fmt.Errorf("%w: 500 from players", domain.ErrUpstreamStatus))
		w := serve(newRouter(nil, refreshSnapshot, true), http.MethodPost, "/v1/sources/players/refresh")

		require.Equal(t, http.StatusBadGateway, w.Code)
		require.JSONEq(t, `{"success":false,"source":"players","cause":"upstream fetch failed"}`, w.Body.String())
	})

	t.Run("temporary failure", func(t *testing.T) {
		t.Parallel()

		refreshSnapshot, _ := makeRefreshSnapshot(t, fmt.Errorf("%w: rate limit wait", domain.ErrTemporarilyUnavailable))
		w := serve(newRouter(nil, refreshSnapshot, true), http.MethodPost, "/v1/sources/players/refresh")

		require.Equal(t, http.StatusBadGateway, w.Code)
	})

	t.Run("rate limited", func(t *testing.T) {
		t.Parallel()

		refreshSnapshot, called := makeRefreshSnapshot(t, nil)
		w := serve(newRouter(nil, refreshSnapshot, false), http.MethodPost, "/v1/sources/players/refresh")

		require.False(t, *called)
		require.Equal(t, http.StatusTooManyRequests, w.Code)
		require.JSONEq(t, `{"success":false,"source":"players","cause":"rate limit exceeded"}`, w.Body.String())
	})

	t.Run("only post is routed", func(t *testing.T) {
		t.Parallel()

		refreshSnapshot, called := makeRefreshSnapshot(t, nil)
		w := serve(newRouter(nil, refreshSnapshot, true), http.MethodGet, "/v1/sources/players/refresh")

		require.False(t, *called)
		require.Equal(t, http.StatusMethodNotAllowed, w.Code)
	})
}

func TestMakeListSourcesHandler(t *testing.T) {
	t.Parallel()

	listSources := func(ctx context.Context) []string {
		return []string{"players", "status"}
	}

	handler := ports.MakeListSourcesHandler(listSources, testLogger, noopMiddleware)
	w := httptest.NewRecorder()
	handler(w, httptest.NewRequest(http.MethodGet, "/v1/sources", nil))

	require.Equal(t, http.StatusOK, w.Code)
	require.JSONEq(t, `{"success":true,"sources":["players","status"]}`, w.Body.String())
}
