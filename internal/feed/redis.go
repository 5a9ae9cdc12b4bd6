package feed

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"
	"github.com/serroba/shortlink/internal/shortener"
	"go.uber.org/zap"
)

// Reconnect backoff for RedisFeed subscriptions.
const (
	ReconnectInitialInterval = 250 * time.Millisecond
	ReconnectMaxInterval     = 10 * time.Second
	ReconnectJitter          = 0.5

	// ConfirmTimeout bounds how long Subscribe waits for Redis to confirm.
	ConfirmTimeout = 2 * time.Second
)

// NewReconnectBackOff retries forever, doubling from ReconnectInitialInterval
// up to ReconnectMaxInterval with ±50% jitter.
func NewReconnectBackOff() backoff.BackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = ReconnectInitialInterval
	b.MaxInterval = ReconnectMaxInterval
	b.RandomizationFactor = ReconnectJitter
	b.Multiplier = 2
	b.MaxElapsedTime = 0
	b.Reset()

	return b
}

// RedisFeed carries changes over Redis pub/sub so every server replica sees
// every click. One channel per code.
type RedisFeed struct {
	client     *redis.Client
	logger     *zap.Logger
	reconnects prometheus.Counter
	newBackOff func() backoff.BackOff
	confirm    time.Duration

	mu   sync.Mutex
	subs map[*subscription]struct{}
}

// RedisFeedOption configures a RedisFeed.
type RedisFeedOption func(*RedisFeed)

// WithBackOff replaces NewReconnectBackOff.
func WithBackOff(fn func() backoff.BackOff) RedisFeedOption {
	return func(r *RedisFeed) {
		r.newBackOff = fn
	}
}

// WithConfirmTimeout replaces ConfirmTimeout.
func WithConfirmTimeout(d time.Duration) RedisFeedOption {
	return func(r *RedisFeed) {
		r.confirm = d
	}
}

// NewRedisFeed creates a Redis pub/sub feed. reconnects may be nil.
func NewRedisFeed(
	client *redis.Client, reconnects prometheus.Counter, logger *zap.Logger, opts ...RedisFeedOption,
) *RedisFeed {
	r := &RedisFeed{
		client:     client,
		logger:     logger,
		reconnects: reconnects,
		newBackOff: NewReconnectBackOff,
		confirm:    ConfirmTimeout,
		subs:       make(map[*subscription]struct{}),
	}

	for _, opt := range opts {
		opt(r)
	}

	return r
}

func channel(code shortener.Code) string {
	return "feed:" + string(code)
}

func (r *RedisFeed) Publish(ctx context.Context, change Change) error {
	payload, err := json.Marshal(change)
	if err != nil {
		return err
	}

	return r.client.Publish(ctx, channel(change.Code), payload).Err()
}

func (r *RedisFeed) Subscribe(
	code shortener.Code, onUpdate func(Snapshot), onError func(error), opts ...SubscribeOption,
) func() {
	s := newSubscription(onUpdate, onError, opts...)

	r.mu.Lock()
	r.subs[s] = struct{}{}
	r.mu.Unlock()

	s.spawn(func() { r.listenLoop(s, code) })

	// Return once changes published from here on reach the subscription.
	timer := time.NewTimer(r.confirm)
	select {
	case <-s.ready:
	case <-timer.C:
		r.logger.Warn("live feed subscription not confirmed yet", zap.String("code", string(code)))
	}

	timer.Stop()

	return func() {
		s.close()

		r.mu.Lock()
		delete(r.subs, s)
		r.mu.Unlock()
	}
}

// listenLoop keeps one pub/sub connection alive until the subscription closes.
func (r *RedisFeed) listenLoop(s *subscription, code shortener.Code) {
	logger := r.logger.With(zap.String("code", string(code)))
	b := r.newBackOff()

	for {
		err := r.listen(s, code, b)
		if s.ctx.Err() != nil {
			return
		}

		s.fail(err)

		if r.reconnects != nil {
			r.reconnects.Inc()
		}

		wait := b.NextBackOff()
		logger.Warn("live feed disconnected", zap.Error(err), zap.Duration("retry_in", wait))

		timer := time.NewTimer(wait)
		select {
		case <-s.ctx.Done():
			timer.Stop()

			return
		case <-timer.C:
		}
	}
}

func (r *RedisFeed) listen(s *subscription, code shortener.Code, b backoff.BackOff) error {
	pubsub := r.client.Subscribe(s.ctx, channel(code))
	defer pubsub.Close()

	// Wait for the subscription confirmation before counting as connected.
	if _, err := pubsub.Receive(s.ctx); err != nil {
		return err
	}

	s.markReady()
	b.Reset()

	for {
		msg, err := pubsub.ReceiveMessage(s.ctx)
		if err != nil {
			return err
		}

		var change Change
		if err := json.Unmarshal([]byte(msg.Payload), &change); err != nil {
			r.logger.Warn("ignoring malformed feed message", zap.String("channel", msg.Channel), zap.Error(err))

			continue
		}

		s.deliver(change)
	}
}

// Shutdown closes every open subscription.
func (r *RedisFeed) Shutdown() error {
	r.mu.Lock()
	subs := r.subs
	r.subs = make(map[*subscription]struct{})
	r.mu.Unlock()

	for s := range subs {
		s.close()
	}

	return nil
}

var (
	_ Publisher  = (*RedisFeed)(nil)
	_ Subscriber = (*RedisFeed)(nil)
)
