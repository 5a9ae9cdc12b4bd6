// Package feed streams click snapshots for a short code to live subscribers.
//
// Publishers emit two kinds of changes per click: a pending change as soon as
// the click is dispatched and a committed change carrying the ledger state
// once it is recorded. Subscribers only ever see absolute snapshots, so
// receiving both for one click is harmless.
package feed

import (
	"context"
	"errors"
	"time"

	"github.com/serroba/shortlink/internal/ledger"
	"github.com/serroba/shortlink/internal/shortener"
)

// ErrSeedUnavailable wraps the error of a seed loader. The subscription
// delivers nothing after it.
var ErrSeedUnavailable = errors.New("seed snapshot unavailable")

// SeedWait bounds how long a seed loader waits for the transport to confirm
// the subscription.
const SeedWait = 2 * time.Second

// Snapshot is the state of one code as shown to a subscriber.
type Snapshot struct {
	Code        shortener.Code     `json:"shortCode"`
	TotalClicks int64              `json:"totalClicks"`
	LastClickAt *time.Time         `json:"lastClickAt,omitempty"`
	LatestEvent *ledger.ClickEvent `json:"latestEvent,omitempty"`

	// Pending is true for a predicted snapshot not yet confirmed by the ledger.
	Pending bool `json:"pending"`
}

// SnapshotFromLedger builds a confirmed snapshot. latest may be nil.
func SnapshotFromLedger(l *ledger.Ledger, latest *ledger.ClickEvent) Snapshot {
	return Snapshot{
		Code:        l.Code,
		TotalClicks: l.TotalClicks,
		LastClickAt: l.LastClickAt,
		LatestEvent: latest,
	}
}

type ChangeKind string

const (
	ChangePending   ChangeKind = "pending"
	ChangeCommitted ChangeKind = "committed"
)

// Change is what travels over a transport.
type Change struct {
	Kind ChangeKind     `json:"kind"`
	Code shortener.Code `json:"code"`

	// Snapshot is set on committed changes.
	Snapshot *Snapshot `json:"snapshot,omitempty"`

	Event *ledger.ClickEvent `json:"event,omitempty"`
}

// Publisher fans a change out to the subscribers of its code.
type Publisher interface {
	Publish(ctx context.Context, change Change) error
}

// Subscriber registers callbacks for one code.
//
// The returned function unsubscribes: once it returns, neither callback
// fires again and every resource held by the subscription is released. It
// is safe to call more than once but must not be called from inside a
// callback.
type Subscriber interface {
	Subscribe(code shortener.Code, onUpdate func(Snapshot), onError func(error), opts ...SubscribeOption) (unsubscribe func())
}

// SubscribeOption configures a subscription.
type SubscribeOption func(*subscription)

// WithSeed sets the snapshot pending changes are predicted from until the
// first committed change arrives. Without a seed, pending changes received
// before any committed one are dropped.
func WithSeed(snapshot Snapshot) SubscribeOption {
	return func(s *subscription) {
		seed := snapshot
		s.last = &seed
	}
}

// WithSeedLoader loads the seed once the transport has registered the
// subscription, so no commit can fall between the read and the registration.
// The loaded snapshot is delivered as the first update. Changes received
// while it loads are applied after it.
func WithSeedLoader(load func(ctx context.Context) (Snapshot, error)) SubscribeOption {
	return func(s *subscription) {
		s.loadSeed = load
	}
}
