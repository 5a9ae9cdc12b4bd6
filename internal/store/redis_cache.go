package store

import (
	"context"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/serroba/shortlink/internal/shortener"
)

// RedisCacheRepository wraps a Repository with Redis caching for reads.
// Only the redirect-relevant fields are cached; Clicks on a cached mapping
// is whatever it was when the entry was filled.
type RedisCacheRepository struct {
	store  shortener.Repository
	client *redis.Client
	prefix string
	ttl    time.Duration
}

// NewRedisCacheRepository creates a new Redis-cached repository decorator.
func NewRedisCacheRepository(
	store shortener.Repository, client *redis.Client, ttl time.Duration,
) *RedisCacheRepository {
	return &RedisCacheRepository{
		store:  store,
		client: client,
		prefix: "cache:url:",
		ttl:    ttl,
	}
}

// Create stores a mapping in the underlying store and updates the cache.
func (r *RedisCacheRepository) Create(ctx context.Context, mapping *shortener.Mapping) error {
	if err := r.store.Create(ctx, mapping); err != nil {
		return err
	}

	// Write-through: update cache after successful save
	r.cacheMapping(ctx, mapping)

	return nil
}

// GetByCode retrieves a mapping by its code, checking cache first.
func (r *RedisCacheRepository) GetByCode(ctx context.Context, code shortener.Code) (*shortener.Mapping, error) {
	if mapping, err := r.getFromCache(ctx, code); err == nil {
		return mapping, nil
	}

	// Cache miss - fetch from store
	mapping, err := r.store.GetByCode(ctx, code)
	if err != nil {
		return nil, err
	}

	r.cacheMapping(ctx, mapping)

	return mapping, nil
}

func (r *RedisCacheRepository) getFromCache(ctx context.Context, code shortener.Code) (*shortener.Mapping, error) {
	result, err := r.client.HGetAll(ctx, r.prefix+string(code)).Result()
	if err != nil {
		return nil, err
	}

	if len(result) == 0 {
		return nil, shortener.ErrNotFound
	}

	active, _ := strconv.ParseBool(result["is_active"])
	clicks, _ := strconv.ParseInt(result["clicks"], 10, 64)

	return &shortener.Mapping{
		Code:        shortener.Code(result["code"]),
		OriginalURL: result["original_url"],
		CreatedAt:   parseNanos(result["created_at"]),
		Clicks:      clicks,
		IsActive:    active,
		ExpiresAt:   parseNanos(result["expires_at"]),
	}, nil
}

func (r *RedisCacheRepository) cacheMapping(ctx context.Context, mapping *shortener.Mapping) {
	pipe := r.client.Pipeline()
	key := r.prefix + string(mapping.Code)

	pipe.HSet(ctx, key, map[string]interface{}{
		"code":         string(mapping.Code),
		"original_url": mapping.OriginalURL,
		"created_at":   mapping.CreatedAt.UnixNano(),
		"clicks":       mapping.Clicks,
		"is_active":    mapping.IsActive,
		"expires_at":   mapping.ExpiresAt.UnixNano(),
	})

	ttl := r.ttl
	if remaining := time.Until(mapping.ExpiresAt); remaining > 0 && (ttl <= 0 || remaining < ttl) {
		ttl = remaining
	}

	if ttl > 0 {
		pipe.Expire(ctx, key, ttl)
	}

	_, _ = pipe.Exec(ctx)
}

// Shutdown is a no-op for RedisCacheRepository (client managed externally).
func (r *RedisCacheRepository) Shutdown() error {
	return nil
}

// Compile-time check.
var _ shortener.Repository = (*RedisCacheRepository)(nil)
