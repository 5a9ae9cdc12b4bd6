package feed

import (
	"context"
	"sync"

	"github.com/serroba/shortlink/internal/shortener"
)

// Hub is an in-process Publisher and Subscriber. It only reaches subscribers
// of the same process.
type Hub struct {
	mu   sync.RWMutex
	subs map[shortener.Code]map[*subscription]struct{}
}

func NewHub() *Hub {
	return &Hub{subs: make(map[shortener.Code]map[*subscription]struct{})}
}

func (h *Hub) Publish(_ context.Context, change Change) error {
	h.mu.RLock()
	defer h.mu.RUnlock()

	for s := range h.subs[change.Code] {
		s.deliver(change)
	}

	return nil
}

func (h *Hub) Subscribe(
	code shortener.Code, onUpdate func(Snapshot), onError func(error), opts ...SubscribeOption,
) func() {
	s := newSubscription(onUpdate, onError, opts...)

	h.mu.Lock()
	if h.subs[code] == nil {
		h.subs[code] = make(map[*subscription]struct{})
	}

	h.subs[code][s] = struct{}{}
	h.mu.Unlock()

	s.markReady()

	return func() {
		h.remove(code, s)
		s.close()
	}
}

func (h *Hub) remove(code shortener.Code, s *subscription) {
	h.mu.Lock()
	defer h.mu.Unlock()

	delete(h.subs[code], s)

	if len(h.subs[code]) == 0 {
		delete(h.subs, code)
	}
}

// Subscribers returns how many subscriptions are open for code.
func (h *Hub) Subscribers(code shortener.Code) int {
	h.mu.RLock()
	defer h.mu.RUnlock()

	return len(h.subs[code])
}

// Shutdown closes every open subscription.
func (h *Hub) Shutdown() error {
	h.mu.Lock()
	all := h.subs
	h.subs = make(map[shortener.Code]map[*subscription]struct{})
	h.mu.Unlock()

	for _, set := range all {
		for s := range set {
			s.close()
		}
	}

	return nil
}

var (
	_ Publisher  = (*Hub)(nil)
	_ Subscriber = (*Hub)(nil)
)
