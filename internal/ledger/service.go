package ledger

import (
	"context"
	"errors"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/serroba/shortlink/internal/shortener"
	"go.uber.org/zap"
)

// Service records clicks and serves ledger reads.
type Service struct {
	store    Store
	mappings shortener.Repository
	drift    prometheus.Counter
	logger   *zap.Logger
	now      func() time.Time
}

// NewService creates a ledger service. drift counts reads whose counters disagree.
func NewService(store Store, mappings shortener.Repository, drift prometheus.Counter, logger *zap.Logger) *Service {
	return &Service{
		store:    store,
		mappings: mappings,
		drift:    drift,
		logger:   logger,
		now:      time.Now,
	}
}

// RecordClick records one new click for code. Each call records a distinct
// event, so a retried call counts twice.
func (s *Service) RecordClick(ctx context.Context, code shortener.Code, click Click) (*Ledger, error) {
	event, err := NewClickEvent(click, s.now())
	if err != nil {
		return nil, err
	}

	return s.Append(ctx, code, event)
}

// Append records a prepared event. Appending the same event twice counts once.
func (s *Service) Append(ctx context.Context, code shortener.Code, event ClickEvent) (*Ledger, error) {
	return s.store.RecordClick(ctx, code, event)
}

// GetLedger returns the ledger for code. Counter disagreement with the
// mapping or the event log is logged and counted but never rewritten.
func (s *Service) GetLedger(ctx context.Context, code shortener.Code) (*Ledger, error) {
	l, err := s.store.GetLedger(ctx, code)
	if err != nil {
		return nil, err
	}

	s.checkConsistency(ctx, l)

	return l, nil
}

// ListEvents pages the event log newest first.
func (s *Service) ListEvents(ctx context.Context, code shortener.Code, query EventQuery) (*EventPage, error) {
	return s.store.ListEvents(ctx, code, query.Normalize())
}

func (s *Service) checkConsistency(ctx context.Context, l *Ledger) {
	if l.EventCount > l.TotalClicks {
		s.reportDrift(l, "events exceed total", zap.Int64("events", l.EventCount))
	}

	if s.mappings == nil {
		return
	}

	mapping, err := s.mappings.GetByCode(ctx, l.Code)
	if err != nil {
		if !errors.Is(err, shortener.ErrNotFound) {
			s.logger.Warn("consistency check skipped",
				zap.String("code", string(l.Code)),
				zap.Error(err),
			)

			return
		}

		s.reportDrift(l, "ledger without mapping")

		return
	}

	if mapping.Clicks != l.TotalClicks {
		s.reportDrift(l, "mapping clicks differ", zap.Int64("clicks", mapping.Clicks))
	}
}

func (s *Service) reportDrift(l *Ledger, reason string, fields ...zap.Field) {
	if s.drift != nil {
		s.drift.Inc()
	}

	s.logger.Warn("click ledger drift",
		append([]zap.Field{
			zap.String("code", string(l.Code)),
			zap.String("reason", reason),
			zap.Int64("totalClicks", l.TotalClicks),
		}, fields...)...,
	)
}
