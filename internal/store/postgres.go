package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/serroba/shortlink/internal/ledger"
	"github.com/serroba/shortlink/internal/shortener"
)

// PostgresStore is a PostgreSQL implementation of shortener.Repository and ledger.Store.
// Mappings live in urls, ledgers in analytics and events in click_events.
type PostgresStore struct {
	pool *pgxpool.Pool
}

// NewPostgresStore creates a new PostgreSQL-backed store.
func NewPostgresStore(pool *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{pool: pool}
}

var errDuplicateEvent = errors.New("duplicate click event")

func (p *PostgresStore) Create(ctx context.Context, mapping *shortener.Mapping) error {
	err := pgx.BeginFunc(ctx, p.pool, func(tx pgx.Tx) error {
		tag, err := tx.Exec(ctx, `
			INSERT INTO urls (short_code, original_url, created_at, clicks, is_active, expires_at)
			VALUES ($1, $2, $3, $4, $5, $6)
			ON CONFLICT (short_code) DO NOTHING
		`,
			string(mapping.Code),
			mapping.OriginalURL,
			mapping.CreatedAt,
			mapping.Clicks,
			mapping.IsActive,
			mapping.ExpiresAt,
		)
		if err != nil {
			return err
		}

		if tag.RowsAffected() == 0 {
			return shortener.ErrCodeTaken
		}

		_, err = tx.Exec(ctx, `
			INSERT INTO analytics (short_code, total_clicks, created_at)
			VALUES ($1, 0, $2)
		`, string(mapping.Code), mapping.CreatedAt)

		return err
	})

	if err != nil && !errors.Is(err, shortener.ErrCodeTaken) {
		return persistence("create mapping", err)
	}

	return err
}

func (p *PostgresStore) GetByCode(ctx context.Context, code shortener.Code) (*shortener.Mapping, error) {
	query := `
		SELECT short_code, original_url, created_at, clicks, is_active, expires_at, last_click_at
		FROM urls
		WHERE short_code = $1
	`

	var m shortener.Mapping

	err := p.pool.QueryRow(ctx, query, string(code)).Scan(
		&m.Code,
		&m.OriginalURL,
		&m.CreatedAt,
		&m.Clicks,
		&m.IsActive,
		&m.ExpiresAt,
		&m.LastClickAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, shortener.ErrNotFound
		}

		return nil, persistence("get mapping", err)
	}

	return &m, nil
}

// RecordClick runs the increment-and-append in one transaction. The row lock
// taken by the UPDATE on urls serializes concurrent clicks for the same code.
func (p *PostgresStore) RecordClick(
	ctx context.Context, code shortener.Code, event ledger.ClickEvent,
) (*ledger.Ledger, error) {
	var l ledger.Ledger

	err := pgx.BeginFunc(ctx, p.pool, func(tx pgx.Tx) error {
		var clicks int64

		err := tx.QueryRow(ctx, `
			UPDATE urls SET clicks = clicks + 1, last_click_at = $2
			WHERE short_code = $1
			RETURNING clicks
		`, string(code), event.Timestamp).Scan(&clicks)
		if err != nil {
			if errors.Is(err, pgx.ErrNoRows) {
				return ledger.ErrTargetMissing
			}

			return err
		}

		tag, err := tx.Exec(ctx, `
			INSERT INTO click_events (short_code, id, ts, user_agent, referer, ip, session_id, click_source)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
			ON CONFLICT (short_code, id) DO NOTHING
		`,
			string(code),
			event.ID,
			event.Timestamp,
			event.UserAgent,
			event.Referer,
			event.IP,
			event.SessionID,
			string(event.ClickSource),
		)
		if err != nil {
			return err
		}

		if tag.RowsAffected() == 0 {
			return errDuplicateEvent
		}

		err = tx.QueryRow(ctx, `
			INSERT INTO analytics (short_code, total_clicks, event_count, created_at, last_click_at)
			VALUES ($1, 1, 1, $2, $2)
			ON CONFLICT (short_code) DO UPDATE
			SET total_clicks = analytics.total_clicks + 1,
			    event_count = analytics.event_count + 1,
			    last_click_at = EXCLUDED.last_click_at
			RETURNING short_code, total_clicks, created_at, last_click_at, event_count
		`, string(code), event.Timestamp).Scan(&l.Code, &l.TotalClicks, &l.CreatedAt, &l.LastClickAt, &l.EventCount)
	})

	switch {
	case err == nil:
		return &l, nil
	case errors.Is(err, errDuplicateEvent):
		return p.GetLedger(ctx, code)
	case errors.Is(err, ledger.ErrTargetMissing):
		return nil, err
	default:
		return nil, persistence("record click", err)
	}
}

func (p *PostgresStore) GetLedger(ctx context.Context, code shortener.Code) (*ledger.Ledger, error) {
	query := `
		SELECT a.short_code, a.total_clicks, a.created_at, a.last_click_at, a.event_count
		FROM analytics a
		WHERE a.short_code = $1
	`

	var l ledger.Ledger

	err := p.pool.QueryRow(ctx, query, string(code)).Scan(
		&l.Code,
		&l.TotalClicks,
		&l.CreatedAt,
		&l.LastClickAt,
		&l.EventCount,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ledger.ErrNotFound
		}

		return nil, persistence("get ledger", err)
	}

	return &l, nil
}

func (p *PostgresStore) ListEvents(
	ctx context.Context, code shortener.Code, query ledger.EventQuery,
) (*ledger.EventPage, error) {
	query = query.Normalize()

	if _, err := p.GetLedger(ctx, code); err != nil {
		return nil, err
	}

	// Far-future sentinel so the first page uses the same keyset predicate.
	before, beforeID := time.Date(9999, 1, 1, 0, 0, 0, 0, time.UTC), ""

	if query.Cursor != "" {
		var err error

		before, beforeID, err = ledger.DecodeCursor(query.Cursor)
		if err != nil {
			return nil, err
		}
	}

	rows, err := p.pool.Query(ctx, `
		SELECT id, ts, user_agent, referer, ip, session_id, click_source
		FROM click_events
		WHERE short_code = $1 AND (ts, id) < ($2, $3)
		ORDER BY ts DESC, id DESC
		LIMIT $4
	`, string(code), before, beforeID, query.Limit+1)
	if err != nil {
		return nil, persistence("list events", err)
	}

	events, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (ledger.ClickEvent, error) {
		var (
			e      ledger.ClickEvent
			source string
		)

		err := row.Scan(&e.ID, &e.Timestamp, &e.UserAgent, &e.Referer, &e.IP, &e.SessionID, &source)
		e.ClickSource = ledger.ClickSource(source)

		return e, err
	})
	if err != nil {
		return nil, persistence("scan events", err)
	}

	page := &ledger.EventPage{}
	if len(events) > query.Limit {
		events = events[:query.Limit]
		page.NextCursor = ledger.EncodeCursor(events[len(events)-1])
	}

	page.Events = events

	return page, nil
}

func persistence(op string, err error) error {
	return fmt.Errorf("%s: %w: %w", op, ledger.ErrPersistence, err)
}

// Compile-time checks.
var (
	_ shortener.Repository = (*PostgresStore)(nil)
	_ ledger.Store         = (*PostgresStore)(nil)
)
