package shortener_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/serroba/shortlink/internal/shortener"
	"github.com/serroba/shortlink/internal/store"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var fixedNow = time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)

func clock() time.Time { return fixedNow }

// sequence returns the given codes in order, then repeats the last one.
func sequence(codes ...string) shortener.CodeGenerator {
	i := 0

	return func() string {
		code := codes[min(i, len(codes)-1)]
		i++

		return code
	}
}

type brokenRepository struct{}

func (brokenRepository) Create(context.Context, *shortener.Mapping) error {
	return errors.Join(shortener.ErrPersistence, errors.New("disk full"))
}

func (brokenRepository) GetByCode(context.Context, shortener.Code) (*shortener.Mapping, error) {
	return nil, shortener.ErrPersistence
}

func TestService_Shorten(t *testing.T) {
	ctx := context.Background()

	t.Run("stores a normalized url under a new code", func(t *testing.T) {
		repo := store.NewMemoryStore(0)
		svc := shortener.NewService(repo, sequence("abc123"), shortener.WithClock(clock))

		mapping, err := svc.Shorten(ctx, "example.com", 0)

		require.NoError(t, err)
		assert.Equal(t, shortener.Code("abc123"), mapping.Code)
		assert.Equal(t, "https://example.com", mapping.OriginalURL)
		assert.True(t, mapping.IsActive)
		assert.Zero(t, mapping.Clicks)
		assert.Equal(t, fixedNow, mapping.CreatedAt)
		assert.Equal(t, fixedNow.Add(shortener.DefaultTTL), mapping.ExpiresAt)

		stored, err := repo.GetByCode(ctx, "abc123")
		require.NoError(t, err)
		assert.Equal(t, mapping.OriginalURL, stored.OriginalURL)
	})

	t.Run("regenerates on collision", func(t *testing.T) {
		repo := store.NewMemoryStore(0)
		svc := shortener.NewService(repo, sequence("taken1", "taken1", "fresh1"), shortener.WithClock(clock))

		_, err := svc.Shorten(ctx, "https://first.example", 0)
		require.NoError(t, err)

		mapping, err := svc.Shorten(ctx, "https://second.example", 0)

		require.NoError(t, err)
		assert.Equal(t, shortener.Code("fresh1"), mapping.Code)

		first, _ := repo.GetByCode(ctx, "taken1")
		assert.Equal(t, "https://first.example", first.OriginalURL, "existing mapping is untouched")
	})

	t.Run("fails closed when every attempt collides", func(t *testing.T) {
		repo := store.NewMemoryStore(0)
		svc := shortener.NewService(repo, sequence("same01"), shortener.WithMaxAttempts(3))

		_, err := svc.Shorten(ctx, "https://a.example", 0)
		require.NoError(t, err)

		_, err = svc.Shorten(ctx, "https://b.example", 0)

		require.ErrorIs(t, err, shortener.ErrGenerationFailed)
	})

	t.Run("applies a custom ttl", func(t *testing.T) {
		svc := shortener.NewService(store.NewMemoryStore(0), sequence("ttl001"), shortener.WithClock(clock))

		mapping, err := svc.Shorten(ctx, "https://example.com", 2*time.Hour)

		require.NoError(t, err)
		assert.Equal(t, fixedNow.Add(2*time.Hour), mapping.ExpiresAt)
	})

	t.Run("rejects invalid urls", func(t *testing.T) {
		svc := shortener.NewService(store.NewMemoryStore(0), sequence("bad001"))

		_, err := svc.Shorten(ctx, "not a url", 0)

		require.ErrorIs(t, err, shortener.ErrInvalidURL)
	})

	t.Run("propagates persistence errors without retrying", func(t *testing.T) {
		calls := 0
		gen := func() string {
			calls++

			return "abc123"
		}
		svc := shortener.NewService(brokenRepository{}, gen)

		_, err := svc.Shorten(ctx, "https://example.com", 0)

		require.ErrorIs(t, err, shortener.ErrPersistence)
		assert.Equal(t, 1, calls)
	})
}

func TestService_Create(t *testing.T) {
	ctx := context.Background()
	svc := shortener.NewService(store.NewMemoryStore(0), sequence("unused"), shortener.WithClock(clock))

	mapping, err := svc.Create(ctx, "abc123", "https://example.com")

	require.NoError(t, err)
	assert.Zero(t, mapping.Clicks)
	assert.True(t, mapping.IsActive)
	assert.Equal(t, fixedNow.Add(30*24*time.Hour), mapping.ExpiresAt)

	_, err = svc.Create(ctx, "abc123", "https://other.example")
	require.ErrorIs(t, err, shortener.ErrCodeTaken)

	_, err = shortener.NewService(brokenRepository{}, sequence("x")).Create(ctx, "abc123", "https://example.com")
	require.ErrorIs(t, err, shortener.ErrPersistence)
}

func TestService_Get(t *testing.T) {
	ctx := context.Background()

	t.Run("returns an active unexpired mapping", func(t *testing.T) {
		repo := store.NewMemoryStore(0)
		repo.Restore(shortener.NewMapping("abc123", "https://example.com", fixedNow, time.Hour))
		svc := shortener.NewService(repo, sequence("x"), shortener.WithClock(clock))

		got, err := svc.Get(ctx, "abc123")

		require.NoError(t, err)
		assert.Equal(t, "https://example.com", got.OriginalURL)
	})

	t.Run("unknown code", func(t *testing.T) {
		svc := shortener.NewService(store.NewMemoryStore(0), sequence("x"))

		_, err := svc.Get(ctx, "nope00")

		require.ErrorIs(t, err, shortener.ErrNotFound)
	})

	t.Run("inactive mapping is not found", func(t *testing.T) {
		repo := store.NewMemoryStore(0)
		mapping := shortener.NewMapping("abc123", "https://example.com", fixedNow, time.Hour)
		mapping.IsActive = false
		repo.Restore(mapping)
		svc := shortener.NewService(repo, sequence("x"), shortener.WithClock(clock))

		_, err := svc.Get(ctx, "abc123")

		require.ErrorIs(t, err, shortener.ErrInactive)
		require.ErrorIs(t, err, shortener.ErrNotFound)
	})

	t.Run("expired mapping is not found", func(t *testing.T) {
		repo := store.NewMemoryStore(0)
		repo.Restore(shortener.NewMapping("abc123", "https://example.com", fixedNow.Add(-2*time.Hour), time.Hour))
		svc := shortener.NewService(repo, sequence("x"), shortener.WithClock(clock))

		_, err := svc.Get(ctx, "abc123")

		require.ErrorIs(t, err, shortener.ErrExpired)
		require.ErrorIs(t, err, shortener.ErrNotFound)
	})

	t.Run("expiry instant is exclusive", func(t *testing.T) {
		repo := store.NewMemoryStore(0)
		repo.Restore(shortener.NewMapping("abc123", "https://example.com", fixedNow.Add(-time.Hour), time.Hour))
		svc := shortener.NewService(repo, sequence("x"), shortener.WithClock(clock))

		_, err := svc.Get(ctx, "abc123")

		require.ErrorIs(t, err, shortener.ErrExpired)
	})
}
