package clicks

import (
	"context"
	"errors"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/serroba/shortlink/internal/feed"
	"github.com/serroba/shortlink/internal/ledger"
	"github.com/serroba/shortlink/internal/messaging"
	"github.com/serroba/shortlink/internal/metrics"
	"github.com/serroba/shortlink/internal/shortener"
	"go.uber.org/zap"
)

const (
	DefaultTimeout  = 3 * time.Second
	DefaultAttempts = 3
)

// Recorder appends a prepared click event and reads the ledger back.
// ledger.Service implements it.
type Recorder interface {
	Append(ctx context.Context, code shortener.Code, event ledger.ClickEvent) (*ledger.Ledger, error)
	GetLedger(ctx context.Context, code shortener.Code) (*ledger.Ledger, error)
}

// Config tunes a Processor. Zero values use the defaults.
type Config struct {
	Timeout  time.Duration
	Attempts int

	// RetryInterval is the first wait between attempts; it doubles after each.
	RetryInterval time.Duration
}

// Processor records tasks and announces them on the live feed.
type Processor struct {
	recorder    Recorder
	feed        feed.Publisher
	deadLetters messaging.Publish[DeadLetter]
	metrics     *metrics.Metrics
	logger      *zap.Logger
	cfg         Config
	now         func() time.Time
}

// NewProcessor creates a processor. publisher and deadLetters may be nil.
func NewProcessor(
	recorder Recorder,
	publisher feed.Publisher,
	deadLetters messaging.Publish[DeadLetter],
	m *metrics.Metrics,
	logger *zap.Logger,
	cfg Config,
) *Processor {
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}

	if cfg.Attempts <= 0 {
		cfg.Attempts = DefaultAttempts
	}

	if cfg.RetryInterval <= 0 {
		cfg.RetryInterval = 100 * time.Millisecond
	}

	return &Processor{
		recorder:    recorder,
		feed:        publisher,
		deadLetters: deadLetters,
		metrics:     m,
		logger:      logger,
		cfg:         cfg,
		now:         time.Now,
	}
}

// Process records task. It only returns an error when ctx ends before the
// task was settled, so queue consumers redeliver it; a task that fails every
// attempt is dead-lettered and reported as handled.
func (p *Processor) Process(ctx context.Context, task *Task) error {
	logger := p.logger.With(
		zap.String("code", string(task.Code)),
		zap.String("event_id", task.Event.ID),
	)

	p.announce(ctx, feed.Change{Kind: feed.ChangePending, Code: task.Code, Event: &task.Event}, logger)

	var (
		result   *ledger.Ledger
		attempts int
	)

	record := func() error {
		attempts++

		attemptCtx, cancel := context.WithTimeout(ctx, p.cfg.Timeout)
		defer cancel()

		l, err := p.recorder.Append(attemptCtx, task.Code, task.Event)
		if err == nil {
			result = l

			return nil
		}

		p.metrics.ClicksFailed.Inc()

		if errors.Is(err, ledger.ErrTargetMissing) {
			return backoff.Permanent(err)
		}

		logger.Warn("click attempt failed", zap.Int("attempt", attempts), zap.Error(err))

		return err
	}

	err := backoff.Retry(record, backoff.WithContext(
		backoff.WithMaxRetries(p.retryBackOff(), uint64(p.cfg.Attempts-1)), ctx))
	if err != nil {
		// The pending prediction already went out; replace it with what
		// the ledger holds.
		defer p.correct(ctx, task.Code, logger)

		if ctx.Err() != nil {
			return ctx.Err()
		}

		p.deadLetter(ctx, task, err, attempts, logger)

		return nil
	}

	p.metrics.ClicksRecorded.Inc()

	snapshot := feed.SnapshotFromLedger(result, &task.Event)
	p.announce(ctx, feed.Change{
		Kind:     feed.ChangeCommitted,
		Code:     task.Code,
		Snapshot: &snapshot,
		Event:    &task.Event,
	}, logger)

	return nil
}

func (p *Processor) retryBackOff() *backoff.ExponentialBackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = p.cfg.RetryInterval
	b.MaxInterval = 10 * p.cfg.RetryInterval
	b.MaxElapsedTime = 0
	b.Reset()

	return b
}

func (p *Processor) announce(ctx context.Context, change feed.Change, logger *zap.Logger) {
	if p.feed == nil {
		return
	}

	if err := p.feed.Publish(ctx, change); err != nil {
		logger.Warn("failed to publish feed change", zap.String("kind", string(change.Kind)), zap.Error(err))
	}
}

// correct announces the committed ledger state after a click was not
// recorded. It runs even when ctx has ended.
func (p *Processor) correct(ctx context.Context, code shortener.Code, logger *zap.Logger) {
	if p.feed == nil {
		return
	}

	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), p.cfg.Timeout)
	defer cancel()

	l, err := p.recorder.GetLedger(ctx, code)
	if err != nil {
		logger.Warn("failed to read ledger for feed correction", zap.Error(err))

		return
	}

	snapshot := feed.SnapshotFromLedger(l, nil)
	p.announce(ctx, feed.Change{Kind: feed.ChangeCommitted, Code: code, Snapshot: &snapshot}, logger)
}

func (p *Processor) deadLetter(ctx context.Context, task *Task, cause error, attempts int, logger *zap.Logger) {
	p.metrics.ClicksDeadLettered.Inc()

	logger.Error("click dropped after retries",
		zap.Int("attempts", attempts),
		zap.Time("clicked_at", task.Event.Timestamp),
		zap.Error(cause),
	)

	if p.deadLetters == nil {
		return
	}

	letter := &DeadLetter{
		Task:     *task,
		Error:    cause.Error(),
		Attempts: attempts,
		FailedAt: p.now().UTC(),
	}

	if err := p.deadLetters(ctx, letter); err != nil {
		logger.Error("failed to publish dead letter", zap.Error(err))
	}
}
