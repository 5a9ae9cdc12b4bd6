// Package redirect resolves short codes to destinations and schedules the
// click as a side effect.
package redirect

import (
	"context"
	"time"

	"github.com/serroba/shortlink/internal/clicks"
	"github.com/serroba/shortlink/internal/ledger"
	"github.com/serroba/shortlink/internal/shortener"
	"go.uber.org/zap"
)

// Lookup returns a mapping only while it may be redirected to.
// shortener.Service implements it.
type Lookup interface {
	Get(ctx context.Context, code shortener.Code) (*shortener.Mapping, error)
}

type Redirector struct {
	mappings   Lookup
	dispatcher clicks.Dispatcher
	logger     *zap.Logger
	now        func() time.Time
}

func NewRedirector(mappings Lookup, dispatcher clicks.Dispatcher, logger *zap.Logger) *Redirector {
	return &Redirector{
		mappings:   mappings,
		dispatcher: dispatcher,
		logger:     logger,
		now:        time.Now,
	}
}

// Resolve returns the destination for code. Unknown, inactive and expired
// codes fail with an error matching shortener.ErrNotFound and record nothing.
// A mapping without a destination fails with shortener.ErrInvalidState.
//
// The click is dispatched without waiting for it to be recorded, and a
// dispatch failure is logged but never fails the redirect.
func (r *Redirector) Resolve(ctx context.Context, code shortener.Code, meta Metadata) (string, error) {
	mapping, err := r.mappings.Get(ctx, code)
	if err != nil {
		return "", err
	}

	if mapping.OriginalURL == "" {
		return "", shortener.ErrInvalidState
	}

	destination := shortener.EnsureScheme(mapping.OriginalURL)

	r.dispatch(ctx, code, meta)

	return destination, nil
}

func (r *Redirector) dispatch(ctx context.Context, code shortener.Code, meta Metadata) {
	logger := r.logger.With(zap.String("code", string(code)))

	event, err := ledger.NewClickEvent(meta.Click(), r.now())
	if err != nil {
		logger.Error("failed to build click event", zap.Error(err))

		return
	}

	// The task outlives the request.
	ctx = context.WithoutCancel(ctx)

	if err := r.dispatcher.Dispatch(ctx, &clicks.Task{Code: code, Event: event}); err != nil {
		logger.Error("failed to dispatch click", zap.String("event_id", event.ID), zap.Error(err))
	}
}
