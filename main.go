package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/Amund211/refresher/internal/adapters/cache"
	"github.com/Amund211/refresher/internal/adapters/upstream"
	"github.com/Amund211/refresher/internal/app"
	"github.com/Amund211/refresher/internal/config"
	"github.com/Amund211/refresher/internal/domain"
	"github.com/Amund211/refresher/internal/instrument"
	"github.com/Amund211/refresher/internal/logging"
	"github.com/Amund211/refresher/internal/ports"
	"github.com/Amund211/refresher/internal/ratelimiting"
	"github.com/Amund211/refresher/internal/reporting"
	"github.com/Amund211/refresher/internal/telemetry"
	"github.com/google/uuid"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"go.opentelemetry.io/otel"
	"golang.org/x/time/rate"

	// Root certificates for upstream HTTPS in minimal containers
	_ "golang.org/x/crypto/x509roots/fallback"
)

const serviceName = "refresher"

func main() {
	instanceID := uuid.New().String()
	logger := logging.NewLogger(slog.LevelInfo).With("instanceID", instanceID)

	fail := func(msg string, args ...any) {
		logger.Error(msg, args...)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	config, err := config.ConfigFromEnv()
	if err != nil {
		fail("Failed to load config", "error", err.Error())
	}
	logger.Info("Loaded config", "config", config.NonSensitiveString())

	if config.OTelEnabled() {
		shutdown, err := telemetry.SetupOTelSDK(ctx, serviceName)
		if err != nil {
			fail("Failed to set up OpenTelemetry", "error", err.Error())
		}
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := shutdown(shutdownCtx); err != nil {
				logger.Error("Failed to shut down OpenTelemetry", "error", err.Error())
			}
		}()
		logger.Info("Initialized OpenTelemetry")
	}

	sentryMiddleware, flush, err := reporting.NewSentryMiddlewareOrMock(config)
	if err != nil {
		fail("Failed to initialize Sentry", "error", err.Error())
	}
	defer flush()
	logger.Info("Initialized Sentry middleware")

	httpClient := &http.Client{
		Timeout:   10 * time.Second,
		Transport: otelhttp.NewTransport(http.DefaultTransport),
	}
	fetcher, err := upstream.NewFetcher(httpClient, time.Now)
	if err != nil {
		fail("Failed to initialize upstream fetcher", "error", err.Error())
	}

	inst, err := instrument.New(otel.Meter("refresher/instrument"), time.Now)
	if err != nil {
		fail("Failed to initialize refresh instrumentation", "error", err.Error())
	}

	// At most one upstream fetch per second per source, with a small burst for manual refreshes
	snapshotFactory := app.BuildSnapshotFactory(
		config.Sources(),
		fetcher,
		inst,
		config.RefreshPeriod(),
		rate.Limit(1),
		5,
		time.Now,
	)
	registry := cache.NewRegistry[domain.Snapshot](config.IdleTTL(), snapshotFactory)
	defer registry.Stop()

	refreshRateLimiter, stopRefreshRateLimiter := ratelimiting.NewTokenBucketRateLimiter(
		ratelimiting.RefillPerSecond(0.2),
		ratelimiting.BurstSize(5),
	)
	defer stopRefreshRateLimiter()

	getSnapshot := app.BuildGetSnapshot(registry)
	refreshSnapshot := app.BuildRefreshSnapshot(registry)
	listSources := app.BuildListSources(config.Sources())

	mux := http.NewServeMux()

	mux.HandleFunc(
		"GET /v1/sources",
		ports.MakeListSourcesHandler(
			listSources,
			logger.With("port", "listsources"),
			sentryMiddleware,
		),
	)

	mux.HandleFunc(
		"GET /v1/sources/{name}",
		ports.MakeGetSourceHandler(
			getSnapshot,
			logger.With("port", "getsource"),
			sentryMiddleware,
		),
	)

	mux.HandleFunc(
		"POST /v1/sources/{name}/refresh",
		ports.MakeRefreshSourceHandler(
			refreshSnapshot,
			ratelimiting.NewRequestBasedRateLimiter(refreshRateLimiter, ratelimiting.IPKeyFunc),
			logger.With("port", "refreshsource"),
			sentryMiddleware,
		),
	)

	server := &http.Server{
		Addr:              fmt.Sprintf(":%s", config.Port()),
		Handler:           otelhttp.NewHandler(mux, serviceName),
		ReadHeaderTimeout: 10 * time.Second,
	}

	shutdownDone := make(chan struct{})
	go func() {
		defer close(shutdownDone)
		<-ctx.Done()
		logger.Info("Shutting down server")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			logger.Error("Failed to shut down server", "error", err.Error())
		}
	}()

	logger.Info("Init complete")
	err = server.ListenAndServe()
	if errors.Is(err, http.ErrServerClosed) {
		<-shutdownDone
		logger.Info("Server shutdown")
	} else {
		fail("Server error", "error", err.Error())
	}
}
