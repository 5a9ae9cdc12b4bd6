package clicks

import (
	"context"
	"sync"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

const (
	DefaultWorkers   = 4
	DefaultQueueSize = 1024
)

// TaskProcessor is implemented by Processor.
type TaskProcessor interface {
	Process(ctx context.Context, task *Task) error
}

// Worker is an in-process Dispatcher backed by a bounded queue and a fixed
// pool of goroutines.
type Worker struct {
	processor TaskProcessor
	logger    *zap.Logger
	onDrop    func()

	mu     sync.RWMutex
	closed bool
	queue  chan *Task

	group  *errgroup.Group
	cancel context.CancelFunc
}

// NewWorker starts workers goroutines draining a queue of queueSize tasks.
// onDrop, if set, runs for every task rejected by Dispatch.
func NewWorker(processor TaskProcessor, workers, queueSize int, onDrop func(), logger *zap.Logger) *Worker {
	if workers <= 0 {
		workers = DefaultWorkers
	}

	if queueSize <= 0 {
		queueSize = DefaultQueueSize
	}

	ctx, cancel := context.WithCancel(context.Background())
	group, ctx := errgroup.WithContext(ctx)

	w := &Worker{
		processor: processor,
		logger:    logger,
		onDrop:    onDrop,
		queue:     make(chan *Task, queueSize),
		group:     group,
		cancel:    cancel,
	}

	for range workers {
		group.Go(func() error {
			w.drain(ctx)

			return nil
		})
	}

	return w
}

func (w *Worker) drain(ctx context.Context) {
	for task := range w.queue {
		if err := w.processor.Process(ctx, task); err != nil {
			w.logger.Error("click task aborted",
				zap.String("code", string(task.Code)),
				zap.String("event_id", task.Event.ID),
				zap.Error(err),
			)
		}
	}
}

// Dispatch enqueues task without blocking. It fails with ErrQueueFull when
// the queue is saturated and ErrClosed after Shutdown.
func (w *Worker) Dispatch(_ context.Context, task *Task) error {
	w.mu.RLock()
	defer w.mu.RUnlock()

	if w.closed {
		return ErrClosed
	}

	select {
	case w.queue <- task:
		return nil
	default:
		if w.onDrop != nil {
			w.onDrop()
		}

		return ErrQueueFull
	}
}

// Pending returns the number of queued tasks.
func (w *Worker) Pending() int {
	return len(w.queue)
}

// Shutdown stops accepting tasks and waits until every queued task is processed.
func (w *Worker) Shutdown() error {
	w.mu.Lock()
	if w.closed {
		w.mu.Unlock()

		return nil
	}

	w.closed = true
	close(w.queue)
	w.mu.Unlock()

	err := w.group.Wait()
	w.cancel()

	return err
}

var _ Dispatcher = (*Worker)(nil)
