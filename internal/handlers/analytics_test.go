package handlers_test

import (
	"bufio"
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/serroba/shortlink/internal/feed"
	"github.com/serroba/shortlink/internal/handlers"
	"github.com/serroba/shortlink/internal/ledger"
	"github.com/serroba/shortlink/internal/shortener"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type analyticsBody struct {
	ShortCode   string              `json:"shortCode"`
	Clicks      int64               `json:"clicks"`
	TotalClicks int64               `json:"totalClicks"`
	EventCount  int64               `json:"eventCount"`
	LastClickAt *time.Time          `json:"lastClickAt"`
	Events      []ledger.ClickEvent `json:"events"`
	NextCursor  string              `json:"nextCursor"`
}

func recordClicks(t *testing.T, f *fixture, code shortener.Code, n int) {
	t.Helper()

	for i := range n {
		_, err := f.ledger.RecordClick(t.Context(), code, ledger.Click{UserAgent: "ua", IP: "10.0.0." + string(rune('1'+i))})
		require.NoError(t, err)
	}
}

func TestGetAnalytics(t *testing.T) {
	t.Run("reports mapping and ledger", func(t *testing.T) {
		f := newFixture(t, fixtureOptions{})
		require.NoError(t, f.store.Create(t.Context(), shortener.NewMapping("abc123", "https://example.com", time.Now(), time.Hour)))
		recordClicks(t, f, "abc123", 3)

		resp := f.api.Get("/analytics/abc123")

		require.Equal(t, http.StatusOK, resp.Code)

		body := decode[analyticsBody](t, resp.Body.Bytes())
		assert.Equal(t, "abc123", body.ShortCode)
		assert.Equal(t, int64(3), body.Clicks)
		assert.Equal(t, int64(3), body.TotalClicks)
		assert.Equal(t, int64(3), body.EventCount)
		assert.NotNil(t, body.LastClickAt)
		assert.Len(t, body.Events, 3)
		assert.Empty(t, body.NextCursor)
	})

	t.Run("new mapping has an empty ledger", func(t *testing.T) {
		f := newFixture(t, fixtureOptions{})
		require.NoError(t, f.store.Create(t.Context(), shortener.NewMapping("abc123", "https://example.com", time.Now(), time.Hour)))

		resp := f.api.Get("/analytics/abc123")

		require.Equal(t, http.StatusOK, resp.Code)

		body := decode[analyticsBody](t, resp.Body.Bytes())
		assert.Zero(t, body.TotalClicks)
		assert.NotNil(t, body.Events)
		assert.Empty(t, body.Events)
	})

	t.Run("unknown code is 404", func(t *testing.T) {
		f := newFixture(t, fixtureOptions{})

		resp := f.api.Get("/analytics/nope00")

		require.Equal(t, http.StatusNotFound, resp.Code)
		assert.Equal(t, "Short code not found", decode[errorBody](t, resp.Body.Bytes()).Error)
	})
}

func TestListEvents(t *testing.T) {
	t.Run("pages newest first", func(t *testing.T) {
		f := newFixture(t, fixtureOptions{})
		require.NoError(t, f.store.Create(t.Context(), shortener.NewMapping("abc123", "https://example.com", time.Now(), time.Hour)))
		recordClicks(t, f, "abc123", 3)

		first := f.api.Get("/analytics/abc123/events?limit=2")
		require.Equal(t, http.StatusOK, first.Code)

		page1 := decode[analyticsBody](t, first.Body.Bytes())
		require.Len(t, page1.Events, 2)
		require.NotEmpty(t, page1.NextCursor)
		assert.Equal(t, "10.0.0.3", page1.Events[0].IP)

		second := f.api.Get("/analytics/abc123/events?limit=2&cursor=" + page1.NextCursor)
		require.Equal(t, http.StatusOK, second.Code)

		page2 := decode[analyticsBody](t, second.Body.Bytes())
		require.Len(t, page2.Events, 1)
		assert.Equal(t, "10.0.0.1", page2.Events[0].IP)
		assert.Empty(t, page2.NextCursor)
	})

	t.Run("bad cursor is 400", func(t *testing.T) {
		f := newFixture(t, fixtureOptions{})
		require.NoError(t, f.store.Create(t.Context(), shortener.NewMapping("abc123", "https://example.com", time.Now(), time.Hour)))

		resp := f.api.Get("/analytics/abc123/events?cursor=garbage!")

		require.Equal(t, http.StatusBadRequest, resp.Code)
		assert.Equal(t, "Invalid cursor", decode[errorBody](t, resp.Body.Bytes()).Error)
	})

	t.Run("limit above the maximum is rejected", func(t *testing.T) {
		f := newFixture(t, fixtureOptions{})

		resp := f.api.Get("/analytics/abc123/events?limit=1000")

		assert.Equal(t, http.StatusUnprocessableEntity, resp.Code)
	})
}

// sseReader yields the data lines of an event stream.
type sseReader struct {
	scanner *bufio.Scanner
}

func (r *sseReader) next(t *testing.T) (string, string) {
	t.Helper()

	var event string

	for r.scanner.Scan() {
		line := r.scanner.Text()

		switch {
		case strings.HasPrefix(line, "event:"):
			event = strings.TrimSpace(strings.TrimPrefix(line, "event:"))
		case strings.HasPrefix(line, "data:"):
			return event, strings.TrimSpace(strings.TrimPrefix(line, "data:"))
		}
	}

	t.Fatalf("stream ended: %v", r.scanner.Err())

	return "", ""
}

func openLive(t *testing.T, f *fixture, code string) (*sseReader, context.CancelFunc) {
	t.Helper()

	srv := httptest.NewServer(f.router)
	t.Cleanup(srv.Close)

	ctx, cancel := context.WithTimeout(t.Context(), 5*time.Second)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, srv.URL+"/analytics/"+code+"/live", nil)
	require.NoError(t, err)

	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	t.Cleanup(func() { _ = resp.Body.Close() })

	require.Equal(t, http.StatusOK, resp.StatusCode)

	return &sseReader{scanner: bufio.NewScanner(resp.Body)}, cancel
}

func TestLive(t *testing.T) {
	t.Run("streams the current snapshot then updates", func(t *testing.T) {
		f := newFixture(t, fixtureOptions{})
		require.NoError(t, f.store.Create(t.Context(), shortener.NewMapping("abc123", "https://example.com", time.Now(), time.Hour)))
		recordClicks(t, f, "abc123", 2)

		stream, cancel := openLive(t, f, "abc123")
		defer cancel()

		event, data := stream.next(t)
		assert.Equal(t, "snapshot", event)
		assert.Contains(t, data, `"totalClicks":2`)
		assert.Contains(t, data, `"pending":false`)

		require.NoError(t, f.hub.Publish(t.Context(), feed.Change{
			Kind:  feed.ChangePending,
			Code:  "abc123",
			Event: &ledger.ClickEvent{ID: "e3", Timestamp: time.Now()},
		}))

		_, data = stream.next(t)
		assert.Contains(t, data, `"totalClicks":3`)
		assert.Contains(t, data, `"pending":true`)

		require.NoError(t, f.hub.Publish(t.Context(), feed.Change{
			Kind:     feed.ChangeCommitted,
			Code:     "abc123",
			Snapshot: &feed.Snapshot{Code: "abc123", TotalClicks: 3},
		}))

		_, data = stream.next(t)
		assert.Contains(t, data, `"totalClicks":3`)
		assert.Contains(t, data, `"pending":false`)
	})

	t.Run("a click committed while the seed is read still arrives", func(t *testing.T) {
		f := newFixture(t, fixtureOptions{ledgers: func(f *fixture) handlers.LedgerReader {
			return &racingLedger{LedgerReader: f.ledger, commit: func(ctx context.Context) {
				l, err := f.ledger.RecordClick(ctx, "abc123", ledger.Click{UserAgent: "ua", IP: "10.0.0.9"})
				assert.NoError(t, err)

				snapshot := feed.SnapshotFromLedger(l, nil)
				assert.NoError(t, f.hub.Publish(ctx, feed.Change{Kind: feed.ChangeCommitted, Code: "abc123", Snapshot: &snapshot}))
			}}
		}})
		require.NoError(t, f.store.Create(t.Context(), shortener.NewMapping("abc123", "https://example.com", time.Now(), time.Hour)))
		recordClicks(t, f, "abc123", 2)

		stream, cancel := openLive(t, f, "abc123")
		defer cancel()

		// The stream either shows the stale seed and then the commit, or
		// only the newer state when it replaced the seed in flight.
		_, data := stream.next(t)
		if strings.Contains(data, `"totalClicks":2`) {
			_, data = stream.next(t)
		}

		assert.Contains(t, data, `"totalClicks":3`)
		assert.Contains(t, data, `"pending":false`)
	})

	t.Run("unsubscribes when the client leaves", func(t *testing.T) {
		f := newFixture(t, fixtureOptions{})
		require.NoError(t, f.store.Create(t.Context(), shortener.NewMapping("abc123", "https://example.com", time.Now(), time.Hour)))

		stream, cancel := openLive(t, f, "abc123")
		_, _ = stream.next(t)

		require.Equal(t, 1, f.hub.Subscribers("abc123"))

		cancel()

		require.Eventually(t, func() bool {
			return f.hub.Subscribers("abc123") == 0
		}, 2*time.Second, 10*time.Millisecond)
	})

	t.Run("unknown code sends an error event", func(t *testing.T) {
		f := newFixture(t, fixtureOptions{})

		stream, cancel := openLive(t, f, "nope00")
		defer cancel()

		event, data := stream.next(t)
		assert.Equal(t, "error", event)
		assert.Contains(t, data, "Short code not found")
	})
}

// racingLedger commits a click right after the first ledger read, as a
// concurrent redirect would.
type racingLedger struct {
	handlers.LedgerReader

	once   sync.Once
	commit func(ctx context.Context)
}

func (r *racingLedger) GetLedger(ctx context.Context, code shortener.Code) (*ledger.Ledger, error) {
	l, err := r.LedgerReader.GetLedger(ctx, code)
	r.once.Do(func() { r.commit(ctx) })

	return l, err
}
