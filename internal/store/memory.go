package store

import (
	"context"
	"slices"
	"sync"

	"github.com/serroba/shortlink/internal/ledger"
	"github.com/serroba/shortlink/internal/shortener"
)

// DefaultEventLogCap bounds how many click events are retained per code.
const DefaultEventLogCap = 10000

// MemoryStore is an in-memory implementation of shortener.Repository and ledger.Store.
// A single mutex makes every click increment-and-append serializable.
type MemoryStore struct {
	mu       sync.RWMutex
	urls     map[shortener.Code]shortener.Mapping
	ledgers  map[shortener.Code]ledger.Ledger
	events   map[shortener.Code][]ledger.ClickEvent // oldest first
	eventCap int

	// ids holds the IDs of the retained events of each code.
	ids map[shortener.Code]map[string]struct{}
}

// NewMemoryStore creates a new in-memory store retaining at most eventCap
// events per code. A non-positive cap uses DefaultEventLogCap.
func NewMemoryStore(eventCap int) *MemoryStore {
	if eventCap <= 0 {
		eventCap = DefaultEventLogCap
	}

	return &MemoryStore{
		urls:     make(map[shortener.Code]shortener.Mapping),
		ledgers:  make(map[shortener.Code]ledger.Ledger),
		events:   make(map[shortener.Code][]ledger.ClickEvent),
		eventCap: eventCap,
		ids:      make(map[shortener.Code]map[string]struct{}),
	}
}

func (m *MemoryStore) Create(_ context.Context, mapping *shortener.Mapping) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.urls[mapping.Code]; ok {
		return shortener.ErrCodeTaken
	}

	m.urls[mapping.Code] = *mapping
	m.ledgers[mapping.Code] = ledger.Ledger{
		Code:      mapping.Code,
		CreatedAt: mapping.CreatedAt,
	}

	return nil
}

// Restore stores a mapping as-is without touching its ledger. It is meant for
// importing existing data and for tests.
func (m *MemoryStore) Restore(mapping *shortener.Mapping) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.urls[mapping.Code] = *mapping
}

func (m *MemoryStore) GetByCode(_ context.Context, code shortener.Code) (*shortener.Mapping, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	mapping, ok := m.urls[code]
	if !ok {
		return nil, shortener.ErrNotFound
	}

	return &mapping, nil
}

func (m *MemoryStore) RecordClick(
	_ context.Context, code shortener.Code, event ledger.ClickEvent,
) (*ledger.Ledger, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	mapping, ok := m.urls[code]
	if !ok {
		return nil, ledger.ErrTargetMissing
	}

	l, ok := m.ledgers[code]
	if !ok {
		l = ledger.Ledger{Code: code, CreatedAt: event.Timestamp}
	}

	events := m.events[code]

	ids := m.ids[code]
	if ids == nil {
		ids = make(map[string]struct{})
		m.ids[code] = ids
	}

	if _, seen := ids[event.ID]; seen {
		l.EventCount = int64(len(events))

		return &l, nil
	}

	ts := event.Timestamp
	mapping.Clicks++
	mapping.LastClickAt = &ts
	l.TotalClicks++
	l.LastClickAt = &ts

	events = append(events, event)
	ids[event.ID] = struct{}{}

	if over := len(events) - m.eventCap; over > 0 {
		for _, evicted := range events[:over] {
			delete(ids, evicted.ID)
		}

		events = slices.Delete(events, 0, over)
	}

	l.EventCount = int64(len(events))

	m.urls[code] = mapping
	m.ledgers[code] = l
	m.events[code] = events

	return &l, nil
}

func (m *MemoryStore) GetLedger(_ context.Context, code shortener.Code) (*ledger.Ledger, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	l, ok := m.ledgers[code]
	if !ok {
		return nil, ledger.ErrNotFound
	}

	l.EventCount = int64(len(m.events[code]))

	return &l, nil
}

func (m *MemoryStore) ListEvents(
	_ context.Context, code shortener.Code, query ledger.EventQuery,
) (*ledger.EventPage, error) {
	query = query.Normalize()

	m.mu.RLock()
	defer m.mu.RUnlock()

	if _, ok := m.ledgers[code]; !ok {
		return nil, ledger.ErrNotFound
	}

	events := slices.Clone(m.events[code])
	slices.SortStableFunc(events, func(a, b ledger.ClickEvent) int {
		switch {
		case b.Before(a.Timestamp, a.ID):
			return -1
		case a.Before(b.Timestamp, b.ID):
			return 1
		default:
			return 0
		}
	})

	if query.Cursor != "" {
		ts, id, err := ledger.DecodeCursor(query.Cursor)
		if err != nil {
			return nil, err
		}

		idx := slices.IndexFunc(events, func(e ledger.ClickEvent) bool { return e.Before(ts, id) })
		if idx < 0 {
			idx = len(events)
		}

		events = events[idx:]
	}

	page := &ledger.EventPage{}
	if len(events) > query.Limit {
		events = events[:query.Limit]
		page.NextCursor = ledger.EncodeCursor(events[len(events)-1])
	}

	page.Events = events

	return page, nil
}

// Compile-time checks.
var (
	_ shortener.Repository = (*MemoryStore)(nil)
	_ ledger.Store         = (*MemoryStore)(nil)
)
