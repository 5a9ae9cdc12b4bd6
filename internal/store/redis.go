package store

import (
	"context"
	"errors"
	"strconv"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/serroba/shortlink/internal/ledger"
	"github.com/serroba/shortlink/internal/shortener"
)

// RedisStore is a Redis implementation of shortener.Repository and ledger.Store.
//
// Keys per code:
//   - url:<code>       hash holding the mapping
//   - analytics:<code> hash holding the ledger aggregate
//   - clicks:<code>    stream holding the event log, capped with MAXLEN ~
//   - clickid:<code>:<id> marker used to ignore replayed events
type RedisStore struct {
	client   *redis.Client
	eventCap int64
	dedupTTL time.Duration
}

// NewRedisStore creates a new Redis-backed store retaining roughly eventCap
// events per code.
func NewRedisStore(client *redis.Client, eventCap int) *RedisStore {
	if eventCap <= 0 {
		eventCap = DefaultEventLogCap
	}

	return &RedisStore{
		client:   client,
		eventCap: int64(eventCap),
		dedupTTL: 24 * time.Hour,
	}
}

const targetMissingReply = "TARGET_MISSING"

// recordClickScript increments both counters and appends the event as one
// atomic unit. A replayed event ID returns the current state unchanged.
//
// KEYS: url, analytics, clicks stream, event id marker
// ARGV: ts, cap, id, ua, referer, ip, session, source, dedup ttl seconds
var recordClickScript = redis.NewScript(`
if redis.call('EXISTS', KEYS[1]) == 0 then
	return redis.error_reply('` + targetMissingReply + `')
end
if redis.call('SET', KEYS[4], 1, 'NX', 'EX', ARGV[9]) then
	redis.call('HINCRBY', KEYS[1], 'clicks', 1)
	redis.call('HSET', KEYS[1], 'last_click_at', ARGV[1])
	redis.call('HINCRBY', KEYS[2], 'total_clicks', 1)
	redis.call('HSETNX', KEYS[2], 'created_at', ARGV[1])
	redis.call('HSET', KEYS[2], 'last_click_at', ARGV[1])
	redis.call('XADD', KEYS[3], 'MAXLEN', '~', ARGV[2], '*',
		'id', ARGV[3], 'ts', ARGV[1], 'ua', ARGV[4], 'ref', ARGV[5],
		'ip', ARGV[6], 'sid', ARGV[7], 'src', ARGV[8])
end
local l = redis.call('HMGET', KEYS[2], 'total_clicks', 'created_at', 'last_click_at')
return {l[1], l[2], l[3] or '', redis.call('XLEN', KEYS[3])}
`)

func urlKey(code shortener.Code) string       { return "url:" + string(code) }
func analyticsKey(code shortener.Code) string { return "analytics:" + string(code) }
func clicksKey(code shortener.Code) string    { return "clicks:" + string(code) }

func eventMarkerKey(code shortener.Code, id string) string {
	return "clickid:" + string(code) + ":" + id
}

func (r *RedisStore) Create(ctx context.Context, mapping *shortener.Mapping) error {
	key := urlKey(mapping.Code)

	err := r.client.Watch(ctx, func(tx *redis.Tx) error {
		n, err := tx.Exists(ctx, key).Result()
		if err != nil {
			return err
		}

		if n > 0 {
			return shortener.ErrCodeTaken
		}

		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.HSet(ctx, key, map[string]interface{}{
				"code":         string(mapping.Code),
				"original_url": mapping.OriginalURL,
				"created_at":   mapping.CreatedAt.UnixNano(),
				"clicks":       mapping.Clicks,
				"is_active":    mapping.IsActive,
				"expires_at":   mapping.ExpiresAt.UnixNano(),
			})
			pipe.HSet(ctx, analyticsKey(mapping.Code), map[string]interface{}{
				"total_clicks": 0,
				"created_at":   mapping.CreatedAt.UnixNano(),
			})

			return nil
		})

		return err
	}, key)

	switch {
	case err == nil, errors.Is(err, shortener.ErrCodeTaken):
		return err
	case errors.Is(err, redis.TxFailedErr):
		// Someone else wrote the key between WATCH and EXEC.
		return shortener.ErrCodeTaken
	default:
		return persistence("create mapping", err)
	}
}

func (r *RedisStore) GetByCode(ctx context.Context, code shortener.Code) (*shortener.Mapping, error) {
	fields, err := r.client.HGetAll(ctx, urlKey(code)).Result()
	if err != nil {
		return nil, persistence("get mapping", err)
	}

	if len(fields) == 0 {
		return nil, shortener.ErrNotFound
	}

	active, _ := strconv.ParseBool(fields["is_active"])
	clicks, _ := strconv.ParseInt(fields["clicks"], 10, 64)

	return &shortener.Mapping{
		Code:        code,
		OriginalURL: fields["original_url"],
		CreatedAt:   parseNanos(fields["created_at"]),
		Clicks:      clicks,
		IsActive:    active,
		ExpiresAt:   parseNanos(fields["expires_at"]),
		LastClickAt: parseOptionalNanos(fields["last_click_at"]),
	}, nil
}

func (r *RedisStore) RecordClick(
	ctx context.Context, code shortener.Code, event ledger.ClickEvent,
) (*ledger.Ledger, error) {
	keys := []string{
		urlKey(code),
		analyticsKey(code),
		clicksKey(code),
		eventMarkerKey(code, event.ID),
	}

	res, err := recordClickScript.Run(ctx, r.client, keys,
		event.Timestamp.UnixNano(),
		r.eventCap,
		event.ID,
		event.UserAgent,
		event.Referer,
		event.IP,
		event.SessionID,
		string(event.ClickSource),
		int64(r.dedupTTL/time.Second),
	).Slice()
	if err != nil {
		if strings.Contains(err.Error(), targetMissingReply) {
			return nil, ledger.ErrTargetMissing
		}

		return nil, persistence("record click", err)
	}

	if len(res) != 4 {
		return nil, persistence("record click", errors.New("unexpected script reply"))
	}

	total, _ := strconv.ParseInt(toString(res[0]), 10, 64)
	kept, _ := res[3].(int64)

	return &ledger.Ledger{
		Code:        code,
		TotalClicks: total,
		CreatedAt:   parseNanos(toString(res[1])),
		LastClickAt: parseOptionalNanos(toString(res[2])),
		EventCount:  kept,
	}, nil
}

func (r *RedisStore) GetLedger(ctx context.Context, code shortener.Code) (*ledger.Ledger, error) {
	pipe := r.client.Pipeline()
	fieldsCmd := pipe.HGetAll(ctx, analyticsKey(code))
	lenCmd := pipe.XLen(ctx, clicksKey(code))

	if _, err := pipe.Exec(ctx); err != nil {
		return nil, persistence("get ledger", err)
	}

	fields := fieldsCmd.Val()
	if len(fields) == 0 {
		return nil, ledger.ErrNotFound
	}

	total, _ := strconv.ParseInt(fields["total_clicks"], 10, 64)

	return &ledger.Ledger{
		Code:        code,
		TotalClicks: total,
		CreatedAt:   parseNanos(fields["created_at"]),
		LastClickAt: parseOptionalNanos(fields["last_click_at"]),
		EventCount:  lenCmd.Val(),
	}, nil
}

// ListEvents pages the stream newest first. Cursors are stream entry IDs.
func (r *RedisStore) ListEvents(
	ctx context.Context, code shortener.Code, query ledger.EventQuery,
) (*ledger.EventPage, error) {
	query = query.Normalize()

	exists, err := r.client.Exists(ctx, analyticsKey(code)).Result()
	if err != nil {
		return nil, persistence("list events", err)
	}

	if exists == 0 {
		return nil, ledger.ErrNotFound
	}

	end := "+"
	if query.Cursor != "" {
		if !validStreamID(query.Cursor) {
			return nil, ledger.ErrInvalidCursor
		}

		end = "(" + query.Cursor
	}

	entries, err := r.client.XRevRangeN(ctx, clicksKey(code), end, "-", int64(query.Limit)+1).Result()
	if err != nil {
		return nil, persistence("list events", err)
	}

	page := &ledger.EventPage{}
	if len(entries) > query.Limit {
		entries = entries[:query.Limit]
		page.NextCursor = entries[len(entries)-1].ID
	}

	page.Events = make([]ledger.ClickEvent, 0, len(entries))
	for _, entry := range entries {
		page.Events = append(page.Events, ledger.ClickEvent{
			ID:          toString(entry.Values["id"]),
			Timestamp:   parseNanos(toString(entry.Values["ts"])),
			UserAgent:   toString(entry.Values["ua"]),
			Referer:     toString(entry.Values["ref"]),
			IP:          toString(entry.Values["ip"]),
			SessionID:   toString(entry.Values["sid"]),
			ClickSource: ledger.ClickSource(toString(entry.Values["src"])),
		})
	}

	return page, nil
}

func validStreamID(id string) bool {
	ms, seq, ok := strings.Cut(id, "-")
	if !ok {
		return false
	}

	_, errMs := strconv.ParseUint(ms, 10, 64)
	_, errSeq := strconv.ParseUint(seq, 10, 64)

	return errMs == nil && errSeq == nil
}

func toString(v interface{}) string {
	s, _ := v.(string)

	return s
}

func parseNanos(s string) time.Time {
	nanos, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return time.Time{}
	}

	return time.Unix(0, nanos).UTC()
}

func parseOptionalNanos(s string) *time.Time {
	if s == "" {
		return nil
	}

	t := parseNanos(s)

	return &t
}

// Compile-time checks.
var (
	_ shortener.Repository = (*RedisStore)(nil)
	_ ledger.Store         = (*RedisStore)(nil)
)
