package container

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/ThreeDotsLabs/watermill-redisstream/pkg/redisstream"
	"github.com/danielgtaylor/huma/v2"
	"github.com/danielgtaylor/huma/v2/adapters/humachi"
	_ "github.com/danielgtaylor/huma/v2/formats/cbor" // CBOR format support for huma
	"github.com/go-chi/chi/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
	"github.com/samber/do"
	"github.com/serroba/shortlink/internal/clicks"
	"github.com/serroba/shortlink/internal/feed"
	"github.com/serroba/shortlink/internal/handlers"
	"github.com/serroba/shortlink/internal/health"
	"github.com/serroba/shortlink/internal/ledger"
	"github.com/serroba/shortlink/internal/messaging"
	"github.com/serroba/shortlink/internal/metrics"
	"github.com/serroba/shortlink/internal/middleware"
	"github.com/serroba/shortlink/internal/ratelimit"
	"github.com/serroba/shortlink/internal/redirect"
	"github.com/serroba/shortlink/internal/shortener"
	"github.com/serroba/shortlink/internal/store"
	"go.uber.org/zap"
)

const (
	consumerGroup  = "click-recorder"
	connectTimeout = 5 * time.Second
)

var errUnknownBackend = errors.New("unknown backend")

// RedisClient wraps redis.Client with a Shutdown method for do.
type RedisClient struct {
	*redis.Client
}

// Shutdown closes the Redis connection.
func (c *RedisClient) Shutdown() error {
	return c.Close()
}

// PostgresPool wraps pgxpool.Pool with a Shutdown method for do.
type PostgresPool struct {
	*pgxpool.Pool
}

// Shutdown closes every pooled connection.
func (p *PostgresPool) Shutdown() error {
	p.Close()

	return nil
}

// Storage is a backend holding both mappings and click ledgers.
type Storage interface {
	shortener.Repository
	ledger.Store
}

// Feed is a live feed transport.
type Feed interface {
	feed.Publisher
	feed.Subscriber
	Shutdown() error
}

// LoggerPackage provides the zap logger.
func LoggerPackage(i *do.Injector) {
	do.Provide(i, func(i *do.Injector) (*zap.Logger, error) {
		opts := do.MustInvoke[*Options](i)

		if opts.LogFormat == "console" {
			return zap.NewDevelopment()
		}

		return zap.NewProduction()
	})
}

// MetricsPackage provides the Prometheus collectors.
func MetricsPackage(i *do.Injector) {
	do.Provide(i, func(_ *do.Injector) (*metrics.Metrics, error) {
		return metrics.New(), nil
	})
}

// RedisPackage provides the Redis client. It only connects when first used.
func RedisPackage(i *do.Injector) {
	do.Provide(i, func(i *do.Injector) (*RedisClient, error) {
		opts := do.MustInvoke[*Options](i)

		return &RedisClient{Client: redis.NewClient(&redis.Options{Addr: opts.RedisAddr})}, nil
	})
}

// PostgresPackage provides the connection pool with migrations applied.
func PostgresPackage(i *do.Injector) {
	do.Provide(i, func(i *do.Injector) (*PostgresPool, error) {
		opts := do.MustInvoke[*Options](i)
		logger := do.MustInvoke[*zap.Logger](i)

		ctx, cancel := context.WithTimeout(context.Background(), connectTimeout)
		defer cancel()

		pool, err := pgxpool.New(ctx, opts.DatabaseURL)
		if err != nil {
			return nil, fmt.Errorf("connect postgres: %w", err)
		}

		if err := pool.Ping(ctx); err != nil {
			pool.Close()

			return nil, fmt.Errorf("ping postgres: %w", err)
		}

		if err := store.Migrate(ctx, pool); err != nil {
			pool.Close()

			return nil, err
		}

		logger.Info("postgres ready")

		return &PostgresPool{Pool: pool}, nil
	})
}

// RepositoryPackage provides the storage backend, the mapping repository
// (cached by Redis in front of PostgreSQL) and the domain services on top.
func RepositoryPackage(i *do.Injector) {
	do.Provide(i, func(i *do.Injector) (Storage, error) {
		opts := do.MustInvoke[*Options](i)

		switch opts.Store {
		case BackendMemory:
			return store.NewMemoryStore(opts.EventLogCap), nil
		case BackendRedis:
			return store.NewRedisStore(do.MustInvoke[*RedisClient](i).Client, opts.EventLogCap), nil
		case BackendPostgres:
			pool, err := do.Invoke[*PostgresPool](i)
			if err != nil {
				return nil, err
			}

			return store.NewPostgresStore(pool.Pool), nil
		default:
			return nil, fmt.Errorf("%w: store %q", errUnknownBackend, opts.Store)
		}
	})

	do.Provide(i, func(i *do.Injector) (shortener.Repository, error) {
		opts := do.MustInvoke[*Options](i)

		storage, err := do.Invoke[Storage](i)
		if err != nil {
			return nil, err
		}

		ttl, err := opts.cacheTTL()
		if err != nil {
			return nil, err
		}

		if opts.Store != BackendPostgres || ttl <= 0 {
			return storage, nil
		}

		return store.NewRedisCacheRepository(storage, do.MustInvoke[*RedisClient](i).Client, ttl), nil
	})

	do.Provide(i, func(i *do.Injector) (*shortener.Service, error) {
		opts := do.MustInvoke[*Options](i)

		ttl, err := opts.mappingTTL()
		if err != nil {
			return nil, err
		}

		gen, err := shortener.NewCodeGenerator(opts.CodeLength)
		if err != nil {
			return nil, err
		}

		repo, err := do.Invoke[shortener.Repository](i)
		if err != nil {
			return nil, err
		}

		return shortener.NewService(repo, gen, shortener.WithTTL(ttl)), nil
	})

	do.Provide(i, func(i *do.Injector) (*ledger.Service, error) {
		storage, err := do.Invoke[Storage](i)
		if err != nil {
			return nil, err
		}

		m := do.MustInvoke[*metrics.Metrics](i)

		// Drift checks read the mapping from storage, never from the cache.
		return ledger.NewService(storage, storage, m.LedgerDrift, do.MustInvoke[*zap.Logger](i)), nil
	})
}

// FeedPackage provides the live feed transport.
func FeedPackage(i *do.Injector) {
	do.Provide(i, func(i *do.Injector) (Feed, error) {
		opts := do.MustInvoke[*Options](i)

		switch opts.Feed {
		case BackendMemory:
			return feed.NewHub(), nil
		case BackendRedis:
			m := do.MustInvoke[*metrics.Metrics](i)
			logger := do.MustInvoke[*zap.Logger](i)

			return feed.NewRedisFeed(do.MustInvoke[*RedisClient](i).Client, m.FeedReconnects, logger), nil
		default:
			return nil, fmt.Errorf("%w: feed %q", errUnknownBackend, opts.Feed)
		}
	})
}

// PublisherGroupPackage provides the Redis Streams publisher.
func PublisherGroupPackage(i *do.Injector) {
	do.Provide(i, func(i *do.Injector) (*messaging.PublisherGroup, error) {
		client := do.MustInvoke[*RedisClient](i)
		logger := do.MustInvoke[*zap.Logger](i)

		publisher, err := redisstream.NewPublisher(redisstream.PublisherConfig{
			Client: client.Client,
		}, messaging.NewZapLoggerAdapter(logger))
		if err != nil {
			return nil, fmt.Errorf("create publisher: %w", err)
		}

		return messaging.NewPublisherGroup(publisher), nil
	})
}

// ClicksPackage provides the click processor and the dispatcher the
// redirector hands clicks to.
func ClicksPackage(i *do.Injector) {
	do.Provide(i, func(i *do.Injector) (*clicks.Processor, error) {
		opts := do.MustInvoke[*Options](i)

		timeout, err := opts.clickTimeout()
		if err != nil {
			return nil, err
		}

		recorder, err := do.Invoke[*ledger.Service](i)
		if err != nil {
			return nil, err
		}

		publisher, err := do.Invoke[Feed](i)
		if err != nil {
			return nil, err
		}

		var deadLetters messaging.Publish[clicks.DeadLetter]

		if opts.Dispatch == DispatchQueue {
			group, err := do.Invoke[*messaging.PublisherGroup](i)
			if err != nil {
				return nil, err
			}

			deadLetters = clicks.NewDeadLetterPublisher(group.Publisher())
		}

		return clicks.NewProcessor(
			recorder,
			publisher,
			deadLetters,
			do.MustInvoke[*metrics.Metrics](i),
			do.MustInvoke[*zap.Logger](i),
			clicks.Config{Timeout: timeout, Attempts: opts.ClickAttempts},
		), nil
	})

	do.Provide(i, func(i *do.Injector) (clicks.Dispatcher, error) {
		opts := do.MustInvoke[*Options](i)
		logger := do.MustInvoke[*zap.Logger](i)

		switch opts.Dispatch {
		case DispatchWorker:
			processor, err := do.Invoke[*clicks.Processor](i)
			if err != nil {
				return nil, err
			}

			m := do.MustInvoke[*metrics.Metrics](i)

			return clicks.NewWorker(processor, opts.Workers, opts.QueueSize, m.ClicksDropped.Inc, logger), nil
		case DispatchQueue:
			if err := opts.checkDispatch(); err != nil {
				return nil, err
			}

			group, err := do.Invoke[*messaging.PublisherGroup](i)
			if err != nil {
				return nil, err
			}

			return clicks.NewQueueDispatcher(group.Publisher()), nil
		default:
			return nil, fmt.Errorf("%w: dispatch %q", errUnknownBackend, opts.Dispatch)
		}
	})
}

// ConsumerGroupPackage provides the queue consumers recording click tasks.
func ConsumerGroupPackage(i *do.Injector) {
	do.Provide(i, func(i *do.Injector) (*messaging.ConsumerGroup, error) {
		if err := do.MustInvoke[*Options](i).checkDispatch(); err != nil {
			return nil, err
		}

		client := do.MustInvoke[*RedisClient](i)
		logger := do.MustInvoke[*zap.Logger](i)

		subscriber, err := redisstream.NewSubscriber(redisstream.SubscriberConfig{
			Client:        client.Client,
			ConsumerGroup: consumerGroup,
		}, messaging.NewZapLoggerAdapter(logger))
		if err != nil {
			return nil, fmt.Errorf("create subscriber: %w", err)
		}

		processor, err := do.Invoke[*clicks.Processor](i)
		if err != nil {
			_ = subscriber.Close()

			return nil, err
		}

		group := messaging.NewConsumerGroup(subscriber, logger)
		group.Add(messaging.NewConsumer[clicks.Task](subscriber, clicks.TopicRequested, processor.Process, logger))

		return group, nil
	})
}

// RateLimitPackage provides the policy limiter. Counters live in Redis
// unless the whole service runs in memory.
func RateLimitPackage(i *do.Injector) {
	do.Provide(i, func(i *do.Injector) (*ratelimit.PolicyLimiter, error) {
		opts := do.MustInvoke[*Options](i)

		var rs ratelimit.Store = store.NewRateLimitMemoryStore()
		if opts.Store != BackendMemory {
			rs = store.NewRateLimitRedisStore(do.MustInvoke[*RedisClient](i).Client)
		}

		return ratelimit.NewPolicyLimiter(rs, ratelimit.DefaultPolicy()), nil
	})
}

// HTTPPackage provides the router and the API with every route registered.
func HTTPPackage(i *do.Injector) {
	do.Provide(i, func(i *do.Injector) (*chi.Mux, error) {
		router := chi.NewMux()
		router.Handle("/metrics", do.MustInvoke[*metrics.Metrics](i).Handler())

		return router, nil
	})

	do.Provide(i, func(i *do.Injector) (huma.API, error) {
		opts := do.MustInvoke[*Options](i)
		logger := do.MustInvoke[*zap.Logger](i)
		router := do.MustInvoke[*chi.Mux](i)

		handlers.UseErrorModel()

		api := humachi.New(router, huma.DefaultConfig("Shortlink", "1.0.0"))

		limiter, err := do.Invoke[*ratelimit.PolicyLimiter](i)
		if err != nil {
			return nil, err
		}

		api.UseMiddleware(
			middleware.RequestMeta(api),
			middleware.PolicyRateLimiter(api, limiter, ratelimit.NewOperationScopeResolver(), logger),
		)

		svc, err := do.Invoke[*shortener.Service](i)
		if err != nil {
			return nil, err
		}

		dispatcher, err := do.Invoke[clicks.Dispatcher](i)
		if err != nil {
			return nil, err
		}

		// Analytics reads the store directly; the cached repository holds
		// mappings with the click count of when they were cached.
		mappings, err := do.Invoke[Storage](i)
		if err != nil {
			return nil, err
		}

		ledgers, err := do.Invoke[*ledger.Service](i)
		if err != nil {
			return nil, err
		}

		liveFeed, err := do.Invoke[Feed](i)
		if err != nil {
			return nil, err
		}

		m := do.MustInvoke[*metrics.Metrics](i)
		redirector := redirect.NewRedirector(svc, dispatcher, logger)

		health.RegisterRoutes(api, healthHandler(i, opts))
		handlers.RegisterAnalyticsRoutes(api,
			handlers.NewAnalyticsHandler(mappings, ledgers, liveFeed, logger, opts.Development))
		handlers.RegisterRoutes(api,
			handlers.NewURLHandler(svc, redirector, opts.PublicBaseURL(), m, logger, opts.Development))

		return api, nil
	})
}

// healthHandler checks only the backends the options actually use.
func healthHandler(i *do.Injector, opts *Options) *health.Handler {
	var redisChecker, postgresChecker health.Checker

	if opts.Store != BackendMemory || opts.Feed == BackendRedis || opts.Dispatch == DispatchQueue {
		redisChecker = health.NewRedisChecker(do.MustInvoke[*RedisClient](i).Client)
	}

	if opts.Store == BackendPostgres {
		postgresChecker = health.NewPostgresChecker(do.MustInvoke[*PostgresPool](i).Pool)
	}

	return health.NewHandler(redisChecker, postgresChecker)
}
