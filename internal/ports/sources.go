package ports

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/Amund211/refresher/internal/app"
	"github.com/Amund211/refresher/internal/domain"
	"github.com/Amund211/refresher/internal/logging"
	"github.com/Amund211/refresher/internal/ratelimiting"
	"github.com/Amund211/refresher/internal/reporting"
)

const (
	fetchedAtHeader      = "X-Refresher-Fetched-At"
	upstreamStatusHeader = "X-Refresher-Upstream-Status"
)

type errorResponse struct {
	Success bool   `json:"success"`
	Source  string `json:"source,omitempty"`
	Cause   string `json:"cause"`
}

type sourcesResponse struct {
	Success bool     `json:"success"`
	Sources []string `json:"sources"`
}

func writeJSON(ctx context.Context, w http.ResponseWriter, statusCode int, body any) {
	data, err := json.Marshal(body)
	if err != nil {
		reporting.Report(ctx, fmt.Errorf("failed to marshal response: %w", err))
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusInternalServerError)
		w.Write([]byte(`{"success":false,"cause":"internal server error"}`))
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	w.Write(data)
}

func writeErrorResponse(ctx context.Context, w http.ResponseWriter, source string, cause string, statusCode int) {
	writeJSON(ctx, w, statusCode, errorResponse{
		Success: false,
		Source:  source,
		Cause:   cause,
	})
}

func validSourceName(source string) bool {
	return len(source) > 0 && len(source) <= 100
}

// The request logger already carries the source
func sourceContext(ctx context.Context, source string) context.Context {
	return reporting.AddExtrasToContext(ctx, map[string]string{"source": source})
}

func MakeListSourcesHandler(
	listSources app.ListSources,
	rootLogger *slog.Logger,
	sentryMiddleware func(http.HandlerFunc) http.HandlerFunc,
) http.HandlerFunc {
	middleware := ComposeMiddlewares(
		logging.NewRequestLoggerMiddleware(rootLogger),
		sentryMiddleware,
		buildMetricsMiddleware(),
	)

	return middleware(func(w http.ResponseWriter, r *http.Request) {
		writeJSON(r.Context(), w, http.StatusOK, sourcesResponse{
			Success: true,
			Sources: listSources(r.Context()),
		})
	})
}

func MakeGetSourceHandler(
	getSnapshot app.GetSnapshot,
	rootLogger *slog.Logger,
	sentryMiddleware func(http.HandlerFunc) http.HandlerFunc,
) http.HandlerFunc {
	middleware := ComposeMiddlewares(
		logging.NewRequestLoggerMiddleware(rootLogger),
		sentryMiddleware,
		buildMetricsMiddleware(),
	)

	handler := func(w http.ResponseWriter, r *http.Request) {
		source := r.PathValue("name")
		ctx := sourceContext(r.Context(), source)

		if !validSourceName(source) {
			writeErrorResponse(ctx, w, "", "invalid source name", http.StatusBadRequest)
			return
		}

		snapshot, err := getSnapshot(ctx, source)
		if errors.Is(err, domain.ErrSourceNotFound) {
			writeErrorResponse(ctx, w, source, "not found", http.StatusNotFound)
			return
		} else if err != nil {
			logging.FromContext(ctx).WarnContext(ctx, "Initial fetch failed", slog.String("error", err.Error()))
			writeErrorResponse(ctx, w, source, "temporarily unavailable", http.StatusServiceUnavailable)
			return
		}

		contentType := snapshot.ContentType
		if contentType == "" {
			contentType = "application/octet-stream"
		}

		w.Header().Set("Content-Type", contentType)
		w.Header().Set(fetchedAtHeader, snapshot.FetchedAt.UTC().Format(time.RFC3339Nano))
		w.Header().Set(upstreamStatusHeader, strconv.Itoa(snapshot.StatusCode))
		w.Header().Set("Age", strconv.Itoa(int(snapshot.Age(time.Now()).Seconds())))
		w.WriteHeader(http.StatusOK)
		w.Write(snapshot.Body)
	}

	return middleware(handler)
}

func MakeRefreshSourceHandler(
	refreshSnapshot app.RefreshSnapshot,
	rateLimiter ratelimiting.RequestRateLimiter,
	rootLogger *slog.Logger,
	sentryMiddleware func(http.HandlerFunc) http.HandlerFunc,
) http.HandlerFunc {
	onLimitExceeded := func(w http.ResponseWriter, r *http.Request) {
		writeErrorResponse(r.Context(), w, r.PathValue("name"), "rate limit exceeded", http.StatusTooManyRequests)
	}

	middleware := ComposeMiddlewares(
		logging.NewRequestLoggerMiddleware(rootLogger),
		sentryMiddleware,
		buildMetricsMiddleware(),
		NewRateLimitMiddleware(rateLimiter, onLimitExceeded),
	)

	handler := func(w http.ResponseWriter, r *http.Request) {
		source := r.PathValue("name")
		ctx := sourceContext(r.Context(), source)

		if !validSourceName(source) {
			writeErrorResponse(ctx, w, "", "invalid source name", http.StatusBadRequest)
			return
		}

		err := refreshSnapshot(ctx, source)
		if errors.Is(err, domain.ErrSourceNotFound) {
			writeErrorResponse(ctx, w, source, "not found", http.StatusNotFound)
			return
		} else if err != nil {
			if !errors.Is(err, domain.ErrTemporarilyUnavailable) {
				reporting.Report(ctx, err)
			}
			writeErrorResponse(ctx, w, source, "upstream fetch failed", http.StatusBadGateway)
			return
		}

		w.WriteHeader(http.StatusNoContent)
	}

	return middleware(handler)
}
