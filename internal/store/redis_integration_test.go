//go:build integration

package store_test

import (
	"context"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/serroba/shortlink/internal/ledger"
	"github.com/serroba/shortlink/internal/shortener"
	"github.com/serroba/shortlink/internal/store"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func getRedisAddr() string {
	if addr := os.Getenv("REDIS_ADDR"); addr != "" {
		return addr
	}

	return "localhost:6379"
}

func newRedisClient(t *testing.T) *redis.Client {
	t.Helper()

	client := redis.NewClient(&redis.Options{Addr: getRedisAddr()})
	t.Cleanup(func() { _ = client.Close() })

	if err := client.Ping(context.Background()).Err(); err != nil {
		t.Skipf("Redis not available: %v", err)
	}

	return client
}

func cleanupCode(t *testing.T, client *redis.Client, code string) {
	t.Helper()

	ctx := context.Background()
	keys, _ := client.Keys(ctx, "clickid:"+code+":*").Result()
	keys = append(keys, "url:"+code, "analytics:"+code, "clicks:"+code, "cache:url:"+code)

	t.Cleanup(func() { client.Del(ctx, keys...) })
	client.Del(ctx, keys...)
}

func TestRedisStoreIntegration(t *testing.T) {
	client := newRedisClient(t)
	ctx := context.Background()
	s := store.NewRedisStore(client, 0)
	now := time.Now().UTC()

	create := func(t *testing.T, code shortener.Code) {
		t.Helper()
		cleanupCode(t, client, string(code))
		require.NoError(t, s.Create(ctx, shortener.NewMapping(code, "https://example.com", now, shortener.DefaultTTL)))
	}

	click := func(t *testing.T) ledger.ClickEvent {
		t.Helper()

		event, err := ledger.NewClickEvent(ledger.Click{UserAgent: "it", IP: "10.0.0.1"}, time.Now())
		require.NoError(t, err)

		return event
	}

	t.Run("create and get by code", func(t *testing.T) {
		create(t, "it0001")

		got, err := s.GetByCode(ctx, "it0001")
		require.NoError(t, err)
		assert.Equal(t, "https://example.com", got.OriginalURL)
		assert.True(t, got.IsActive)
		assert.True(t, got.ExpiresAt.Equal(now.Add(shortener.DefaultTTL)))
	})

	t.Run("create rejects a taken code", func(t *testing.T) {
		create(t, "it0002")

		err := s.Create(ctx, shortener.NewMapping("it0002", "https://other.com", now, time.Hour))

		require.ErrorIs(t, err, shortener.ErrCodeTaken)
	})

	t.Run("record click on unknown code", func(t *testing.T) {
		cleanupCode(t, client, "ghost1")

		_, err := s.RecordClick(ctx, "ghost1", click(t))
		require.ErrorIs(t, err, ledger.ErrTargetMissing)

		_, err = s.GetLedger(ctx, "ghost1")
		require.ErrorIs(t, err, ledger.ErrNotFound)
	})

	t.Run("concurrent clicks are serialized", func(t *testing.T) {
		const n = 100

		create(t, "it0003")

		var wg sync.WaitGroup

		for range n {
			wg.Add(1)

			go func() {
				defer wg.Done()

				_, err := s.RecordClick(ctx, "it0003", click(t))
				assert.NoError(t, err)
			}()
		}

		wg.Wait()

		l, err := s.GetLedger(ctx, "it0003")
		require.NoError(t, err)
		assert.Equal(t, int64(n), l.TotalClicks)
		assert.Equal(t, int64(n), l.EventCount)

		m, err := s.GetByCode(ctx, "it0003")
		require.NoError(t, err)
		assert.Equal(t, int64(n), m.Clicks)
	})

	t.Run("replayed event counts once", func(t *testing.T) {
		create(t, "it0004")
		event := click(t)

		_, err := s.RecordClick(ctx, "it0004", event)
		require.NoError(t, err)

		l, err := s.RecordClick(ctx, "it0004", event)
		require.NoError(t, err)
		assert.Equal(t, int64(1), l.TotalClicks)
	})

	t.Run("lists events newest first", func(t *testing.T) {
		create(t, "it0005")

		var ids []string

		for range 3 {
			event := click(t)
			ids = append(ids, event.ID)

			_, err := s.RecordClick(ctx, "it0005", event)
			require.NoError(t, err)
		}

		first, err := s.ListEvents(ctx, "it0005", ledger.EventQuery{Limit: 2})
		require.NoError(t, err)
		require.Len(t, first.Events, 2)
		assert.Equal(t, ids[2], first.Events[0].ID)
		assert.Equal(t, ids[1], first.Events[1].ID)

		rest, err := s.ListEvents(ctx, "it0005", ledger.EventQuery{Limit: 2, Cursor: first.NextCursor})
		require.NoError(t, err)
		require.Len(t, rest.Events, 1)
		assert.Equal(t, ids[0], rest.Events[0].ID)
		assert.Empty(t, rest.NextCursor)

		_, err = s.ListEvents(ctx, "it0005", ledger.EventQuery{Cursor: "not-a-stream-id"})
		require.ErrorIs(t, err, ledger.ErrInvalidCursor)
	})
}

func TestRedisCacheRepositoryIntegration(t *testing.T) {
	client := newRedisClient(t)
	ctx := context.Background()
	backing := store.NewMemoryStore(0)
	cached := store.NewRedisCacheRepository(backing, client, time.Hour)

	cleanupCode(t, client, "cache1")

	mapping := shortener.NewMapping("cache1", "https://example.com", time.Now().UTC(), shortener.DefaultTTL)
	require.NoError(t, cached.Create(ctx, mapping))

	exists, err := client.Exists(ctx, "cache:url:cache1").Result()
	require.NoError(t, err)
	assert.Equal(t, int64(1), exists, "create writes through to the cache")

	got, err := cached.GetByCode(ctx, "cache1")
	require.NoError(t, err)
	assert.Equal(t, mapping.OriginalURL, got.OriginalURL)
	assert.True(t, got.ExpiresAt.Equal(mapping.ExpiresAt))

	_, err = cached.GetByCode(ctx, "missing")
	require.ErrorIs(t, err, shortener.ErrNotFound)
}

func TestRateLimitRedisStoreIntegration(t *testing.T) {
	client := newRedisClient(t)
	ctx := context.Background()
	s := store.NewRateLimitRedisStore(client)
	key := "it:" + time.Now().Format(time.RFC3339Nano)

	t.Cleanup(func() { client.Del(ctx, "ratelimit:"+key) })

	for i := range 3 {
		count, err := s.Record(ctx, key, time.Minute)
		require.NoError(t, err)
		assert.Equal(t, int64(i+1), count)
	}

	time.Sleep(60 * time.Millisecond)

	count, err := s.Record(ctx, key, 50*time.Millisecond)
	require.NoError(t, err)
	assert.Equal(t, int64(1), count, "entries older than the window are pruned")
}
