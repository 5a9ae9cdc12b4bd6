package handlers

import (
	"context"
	"errors"
	"net/http"

	"github.com/danielgtaylor/huma/v2/sse"
	"github.com/serroba/shortlink/internal/feed"
	"github.com/serroba/shortlink/internal/ledger"
	"github.com/serroba/shortlink/internal/shortener"
	"go.uber.org/zap"
)

const analyticsPageSize = 20

// MappingReader loads a mapping regardless of its expiry.
type MappingReader interface {
	GetByCode(ctx context.Context, code shortener.Code) (*shortener.Mapping, error)
}

// LedgerReader reads ledgers and their event logs.
type LedgerReader interface {
	GetLedger(ctx context.Context, code shortener.Code) (*ledger.Ledger, error)
	ListEvents(ctx context.Context, code shortener.Code, query ledger.EventQuery) (*ledger.EventPage, error)
}

// AnalyticsHandler serves click analytics.
type AnalyticsHandler struct {
	mappings MappingReader
	ledgers  LedgerReader
	feed     feed.Subscriber
	logger   *zap.Logger
	errors   errorResponder
}

// NewAnalyticsHandler creates a new analytics handler.
func NewAnalyticsHandler(
	mappings MappingReader,
	ledgers LedgerReader,
	subscriber feed.Subscriber,
	logger *zap.Logger,
	development bool,
) *AnalyticsHandler {
	return &AnalyticsHandler{
		mappings: mappings,
		ledgers:  ledgers,
		feed:     subscriber,
		logger:   logger,
		errors:   errorResponder{development: development},
	}
}

func (h *AnalyticsHandler) GetAnalytics(ctx context.Context, req *CodeRequest) (*AnalyticsResponse, error) {
	code := shortener.Code(req.Code)

	mapping, err := h.mappings.GetByCode(ctx, code)
	if err != nil {
		return nil, h.fail(code, err)
	}

	l, err := h.ledgers.GetLedger(ctx, code)
	if err != nil {
		return nil, h.fail(code, err)
	}

	page, err := h.ledgers.ListEvents(ctx, code, ledger.EventQuery{Limit: analyticsPageSize})
	if err != nil {
		return nil, h.fail(code, err)
	}

	resp := &AnalyticsResponse{}
	resp.Body.ShortCode = string(mapping.Code)
	resp.Body.OriginalURL = mapping.OriginalURL
	resp.Body.IsActive = mapping.IsActive
	resp.Body.CreatedAt = mapping.CreatedAt
	resp.Body.ExpiresAt = mapping.ExpiresAt
	resp.Body.Clicks = mapping.Clicks
	resp.Body.TotalClicks = l.TotalClicks
	resp.Body.LastClickAt = l.LastClickAt
	resp.Body.EventCount = l.EventCount
	resp.Body.EventsBody = eventsBody(page)

	return resp, nil
}

func (h *AnalyticsHandler) ListEvents(ctx context.Context, req *EventsRequest) (*EventsResponse, error) {
	code := shortener.Code(req.Code)

	page, err := h.ledgers.ListEvents(ctx, code, ledger.EventQuery{Cursor: req.Cursor, Limit: req.Limit})
	if err != nil {
		return nil, h.fail(code, err)
	}

	return &EventsResponse{Body: eventsBody(page)}, nil
}

// Live streams snapshots for a code. The first message is the current
// ledger state, read only after the subscription is registered; later ones
// follow each click until the client goes away.
func (h *AnalyticsHandler) Live(ctx context.Context, req *CodeRequest, send sse.Sender) {
	code := shortener.Code(req.Code)
	logger := h.logger.With(zap.String("code", req.Code))

	updates := make(chan feed.Snapshot, 1)
	failures := make(chan error, 1)

	unsubscribe := h.feed.Subscribe(code,
		func(s feed.Snapshot) { offerLatest(updates, s) },
		func(err error) { offerLatest(failures, err) },
		feed.WithSeedLoader(func(ctx context.Context) (feed.Snapshot, error) {
			return h.currentSnapshot(ctx, code)
		}),
	)
	defer unsubscribe()

	for {
		select {
		case <-ctx.Done():
			return
		case s := <-updates:
			if err := send.Data(s); err != nil {
				logger.Debug("live client gone", zap.Error(err))

				return
			}
		case err := <-failures:
			if errors.Is(err, feed.ErrSeedUnavailable) {
				_ = send.Data(LiveError{Error: h.fail(code, err).Message})

				return
			}

			logger.Warn("live feed interrupted", zap.Error(err))

			if err := send.Data(LiveError{Error: "live feed interrupted, reconnecting"}); err != nil {
				return
			}
		}
	}
}

func (h *AnalyticsHandler) currentSnapshot(ctx context.Context, code shortener.Code) (feed.Snapshot, error) {
	l, err := h.ledgers.GetLedger(ctx, code)
	if err != nil {
		return feed.Snapshot{}, err
	}

	page, err := h.ledgers.ListEvents(ctx, code, ledger.EventQuery{Limit: 1})
	if err != nil {
		return feed.Snapshot{}, err
	}

	var latest *ledger.ClickEvent
	if len(page.Events) > 0 {
		latest = &page.Events[0]
	}

	return feed.SnapshotFromLedger(l, latest), nil
}

func (h *AnalyticsHandler) fail(code shortener.Code, err error) *ErrorModel {
	switch {
	case errors.Is(err, shortener.ErrNotFound), errors.Is(err, ledger.ErrNotFound):
		return newError(http.StatusNotFound, msgNotFound)
	case errors.Is(err, ledger.ErrInvalidCursor):
		return newError(http.StatusBadRequest, msgInvalidCursor)
	default:
		h.logger.Error("failed to read analytics", zap.String("code", string(code)), zap.Error(err))

		return h.errors.serverError(http.StatusInternalServerError, msgInternalError, err)
	}
}

func eventsBody(page *ledger.EventPage) EventsBody {
	events := page.Events
	if events == nil {
		events = []ledger.ClickEvent{}
	}

	return EventsBody{Events: events, NextCursor: page.NextCursor}
}

// offerLatest replaces whatever is buffered in ch with v. Callbacks for one
// subscription never run concurrently, so there is a single writer.
func offerLatest[T any](ch chan T, v T) {
	for {
		select {
		case ch <- v:
			return
		default:
			select {
			case <-ch:
			default:
			}
		}
	}
}
