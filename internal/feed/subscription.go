package feed

import (
	"context"
	"fmt"
	"slices"
	"sync"
	"time"
)

// maxQueued bounds the changes buffered for a slow subscriber. The oldest
// entries go first.
const maxQueued = 64

type item struct {
	change *Change
	err    error
}

// subscription decouples transports from callbacks. Transports deliver into
// a queue without blocking; one goroutine drains it and invokes callbacks.
type subscription struct {
	onUpdate func(Snapshot)
	onError  func(error)

	qmu    sync.Mutex
	queue  []item
	signal chan struct{}

	// mu is held while a callback runs; closed is only set under it.
	mu     sync.Mutex
	closed bool

	// last is owned by the run goroutine.
	last *Snapshot

	loadSeed  func(ctx context.Context) (Snapshot, error)
	ready     chan struct{}
	readyOnce sync.Once

	ctx       context.Context
	cancel    context.CancelFunc
	wg        sync.WaitGroup
	closeOnce sync.Once
}

func newSubscription(onUpdate func(Snapshot), onError func(error), opts ...SubscribeOption) *subscription {
	ctx, cancel := context.WithCancel(context.Background())

	s := &subscription{
		onUpdate: onUpdate,
		onError:  onError,
		signal:   make(chan struct{}, 1),
		ready:    make(chan struct{}),
		ctx:      ctx,
		cancel:   cancel,
	}

	for _, opt := range opts {
		opt(s)
	}

	s.spawn(s.run)

	return s
}

// spawn runs fn on a goroutine that close waits for.
func (s *subscription) spawn(fn func()) {
	s.wg.Add(1)

	go func() {
		defer s.wg.Done()
		fn()
	}()
}

// markReady tells the run goroutine the transport receives changes.
func (s *subscription) markReady() {
	s.readyOnce.Do(func() { close(s.ready) })
}

func (s *subscription) deliver(change Change) {
	s.enqueue(item{change: &change})
}

func (s *subscription) fail(err error) {
	s.enqueue(item{err: err})
}

func (s *subscription) enqueue(it item) {
	s.qmu.Lock()

	if it.change != nil && it.change.Kind == ChangeCommitted {
		// A committed snapshot supersedes every queued update.
		s.queue = slices.DeleteFunc(s.queue, func(q item) bool { return q.change != nil })
	}

	s.queue = append(s.queue, it)
	if len(s.queue) > maxQueued {
		s.queue = slices.Delete(s.queue, 0, len(s.queue)-maxQueued)
	}

	s.qmu.Unlock()

	select {
	case s.signal <- struct{}{}:
	default:
	}
}

func (s *subscription) pop() (item, bool) {
	s.qmu.Lock()
	defer s.qmu.Unlock()

	if len(s.queue) == 0 {
		return item{}, false
	}

	it := s.queue[0]
	s.queue = s.queue[1:]

	return it, true
}

func (s *subscription) run() {
	if s.loadSeed != nil && !s.seed() {
		return
	}

	for {
		select {
		case <-s.ctx.Done():
			return
		case <-s.signal:
		}

		for {
			if s.ctx.Err() != nil {
				return
			}

			it, ok := s.pop()
			if !ok {
				break
			}

			s.dispatch(it)
		}
	}
}

// seed loads the first snapshot once the transport is ready, or after
// SeedWait when it never confirms. It reports whether to keep running.
func (s *subscription) seed() bool {
	timer := time.NewTimer(SeedWait)
	defer timer.Stop()

	select {
	case <-s.ctx.Done():
		return false
	case <-s.ready:
	case <-timer.C:
	}

	snapshot, err := s.loadSeed(s.ctx)
	if err != nil {
		if s.ctx.Err() == nil {
			s.invoke(func() {
				if s.onError != nil {
					s.onError(fmt.Errorf("%w: %w", ErrSeedUnavailable, err))
				}
			})
		}

		return false
	}

	snapshot.Pending = false
	s.last = &snapshot
	s.invoke(func() { s.onUpdate(snapshot) })

	return true
}

func (s *subscription) dispatch(it item) {
	if it.err != nil {
		s.invoke(func() {
			if s.onError != nil {
				s.onError(it.err)
			}
		})

		return
	}

	snapshot, ok := s.apply(it.change)
	if !ok {
		return
	}

	s.invoke(func() { s.onUpdate(snapshot) })
}

// apply turns a change into the snapshot to show.
func (s *subscription) apply(change *Change) (Snapshot, bool) {
	switch change.Kind {
	case ChangeCommitted:
		if change.Snapshot == nil {
			return Snapshot{}, false
		}

		snapshot := *change.Snapshot
		snapshot.Pending = false

		if s.last != nil && !s.last.Pending && snapshot.TotalClicks < s.last.TotalClicks {
			// Late delivery of an older commit.
			return Snapshot{}, false
		}

		s.last = &snapshot

		return snapshot, true
	case ChangePending:
		if s.last == nil {
			return Snapshot{}, false
		}

		predicted := *s.last
		predicted.TotalClicks++
		predicted.Pending = true

		if change.Event != nil {
			ts := change.Event.Timestamp
			predicted.LastClickAt = &ts
			predicted.LatestEvent = change.Event
		}

		s.last = &predicted

		return predicted, true
	default:
		return Snapshot{}, false
	}
}

func (s *subscription) invoke(fn func()) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return
	}

	fn()
}

// close stops callbacks and waits for every goroutine of the subscription.
func (s *subscription) close() {
	s.closeOnce.Do(func() {
		s.mu.Lock()
		s.closed = true
		s.mu.Unlock()

		s.cancel()
		s.wg.Wait()
	})
}
