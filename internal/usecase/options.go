package usecase

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"traininghub-backend/internal/domain"
	"traininghub-backend/pkg/calendar"
)

// Options carries the ambient dependencies shared by every usecase.
type Options struct {
	Clock        calendar.Clock
	Logger       *slog.Logger
	MaxTxRetries int
	RetryBackoff time.Duration
}

func (o Options) withDefaults() Options {
	if o.Clock == nil {
		o.Clock = calendar.SystemClock
	}
	if o.Logger == nil {
		o.Logger = slog.Default()
	}
	if o.MaxTxRetries < 1 {
		o.MaxTxRetries = 3
	}
	if o.RetryBackoff <= 0 {
		o.RetryBackoff = 20 * time.Millisecond
	}
	return o
}

// runAtomic runs fn in one store transaction and retries it when the store
// reports a transient failure. fn must be safe to run more than once.
func runAtomic(ctx context.Context, store domain.Store, opts Options, fn func(tx domain.Store) error) error {
	for attempt := 1; ; attempt++ {
		err := store.Atomic(ctx, fn)
		if err == nil || !domain.IsTransient(err) {
			return err
		}
		if attempt >= opts.MaxTxRetries {
			opts.Logger.Warn("transaction retries exhausted", "attempts", attempt, "error", err)
			return err
		}
		select {
		case <-ctx.Done():
			return fmt.Errorf("%w: %v", domain.ErrTransient, ctx.Err())
		case <-time.After(time.Duration(attempt) * opts.RetryBackoff):
		}
	}
}

// publish sends an event and only logs delivery failures.
func publish(ctx context.Context, publisher domain.EventPublisher, log *slog.Logger, event domain.Event) {
	if publisher == nil {
		return
	}
	if err := publisher.Publish(ctx, event); err != nil {
		log.Warn("event not delivered", "type", event.Type, "error", err)
	}
}
