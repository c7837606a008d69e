package refresh

import (
	"context"
	"fmt"
	"log/slog"
	"slices"
	"sync"

	"github.com/Amund211/refresher/internal/logging"
)

type hookEntry[F any] struct {
	id   uint64
	hook F
}

// hookList keeps hooks in registration order
type hookList[F any] struct {
	lock    sync.RWMutex
	nextID  uint64
	entries []hookEntry[F]
}

func (l *hookList[F]) add(hook F) func() {
	l.lock.Lock()
	defer l.lock.Unlock()

	id := l.nextID
	l.nextID++
	l.entries = append(l.entries, hookEntry[F]{id: id, hook: hook})

	return func() {
		l.lock.Lock()
		defer l.lock.Unlock()

		l.entries = slices.DeleteFunc(l.entries, func(entry hookEntry[F]) bool {
			return entry.id == id
		})
	}
}

func (l *hookList[F]) snapshot() []F {
	l.lock.RLock()
	defer l.lock.RUnlock()

	hooks := make([]F, len(l.entries))
	for i, entry := range l.entries {
		hooks[i] = entry.hook
	}
	return hooks
}

type hooks[T any] struct {
	started   hookList[func(ctx context.Context)]
	succeeded hookList[func(ctx context.Context, value T)]
	failed    hookList[func(ctx context.Context, err error)]
}

func (h *hooks[T]) refreshStarted(ctx context.Context) {
	for _, hook := range h.started.snapshot() {
		callHook(ctx, "started", func() { hook(ctx) })
	}
}

func (h *hooks[T]) refreshSucceeded(ctx context.Context, value T) {
	for _, hook := range h.succeeded.snapshot() {
		callHook(ctx, "succeeded", func() { hook(ctx, value) })
	}
}

func (h *hooks[T]) refreshFailed(ctx context.Context, err error) {
	for _, hook := range h.failed.snapshot() {
		callHook(ctx, "failed", func() { hook(ctx, err) })
	}
}

// callHook runs a single hook. A panicking hook is logged and skipped.
func callHook(ctx context.Context, event string, call func()) {
	defer func() {
		if recovered := recover(); recovered != nil {
			logging.FromContext(ctx).ErrorContext(
				ctx,
				"Refresh hook panicked",
				slog.String("event", event),
				slog.String("panic", fmt.Sprint(recovered)),
			)
		}
	}()

	call()
}
