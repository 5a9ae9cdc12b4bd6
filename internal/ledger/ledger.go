// Package ledger records click events and keeps the per-code click total.
package ledger

import (
	"context"
	"errors"
	"time"

	"github.com/serroba/shortlink/internal/shortener"
)

var (
	ErrNotFound = errors.New("click ledger not found")

	// ErrTargetMissing is returned when a click is recorded for a code that has no mapping.
	ErrTargetMissing = errors.New("no mapping for short code")

	ErrPersistence = shortener.ErrPersistence
)

// Ledger is the authoritative click aggregate for one short code.
type Ledger struct {
	Code        shortener.Code
	TotalClicks int64
	CreatedAt   time.Time
	LastClickAt *time.Time

	// EventCount is the number of events currently retained in the log.
	// It is lower than TotalClicks once the log has been capped.
	EventCount int64
}

// EventQuery pages the event log newest first.
type EventQuery struct {
	Cursor string
	Limit  int
}

// EventPage is one page of the event log. NextCursor is empty on the last page.
type EventPage struct {
	Events     []ClickEvent
	NextCursor string
}

const (
	DefaultPageSize = 50
	MaxPageSize     = 500
)

// Normalize clamps the page size.
func (q EventQuery) Normalize() EventQuery {
	switch {
	case q.Limit <= 0:
		q.Limit = DefaultPageSize
	case q.Limit > MaxPageSize:
		q.Limit = MaxPageSize
	}

	return q
}

// Store persists ledgers and their event logs.
type Store interface {
	// RecordClick atomically increments the mapping's clicks and the ledger's
	// total and appends event. A missing ledger is created in the same unit.
	// Returns ErrTargetMissing when code has no mapping. Recording an event
	// whose ID is already in the log changes nothing.
	RecordClick(ctx context.Context, code shortener.Code, event ClickEvent) (*Ledger, error)

	// GetLedger returns ErrNotFound if code has no ledger.
	GetLedger(ctx context.Context, code shortener.Code) (*Ledger, error)

	ListEvents(ctx context.Context, code shortener.Code, query EventQuery) (*EventPage, error)
}
