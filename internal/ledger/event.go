package ledger

import (
	"encoding/base64"
	"errors"
	"strconv"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
)

const (
	maxHeaderLength = 200
	maxIPLength     = 15
)

// ClickSource tags where a click came from.
type ClickSource string

const (
	SourceRedirect    ClickSource = "redirect"
	SourceTest        ClickSource = "test"
	SourceInteraction ClickSource = "interaction"
)

// ParseClickSource maps a free-form tag to a known source, defaulting to redirect.
func ParseClickSource(s string) ClickSource {
	switch ClickSource(strings.ToLower(strings.TrimSpace(s))) {
	case SourceTest:
		return SourceTest
	case SourceInteraction:
		return SourceInteraction
	default:
		return SourceRedirect
	}
}

// Click is the request metadata a click is recorded from.
type Click struct {
	UserAgent string
	Referer   string
	IP        string
	SessionID string
	Source    ClickSource
}

// ClickEvent is one immutable entry of the event log.
type ClickEvent struct {
	ID          string      `json:"id"`
	Timestamp   time.Time   `json:"timestamp"`
	UserAgent   string      `json:"userAgent"`
	Referer     string      `json:"referer"`
	IP          string      `json:"ip"`
	SessionID   string      `json:"sessionId,omitempty"`
	ClickSource ClickSource `json:"clickSource,omitempty"`
}

// NewClickEvent stamps click with a time-ordered ID and the server time.
func NewClickEvent(click Click, now time.Time) (ClickEvent, error) {
	id, err := uuid.NewV7()
	if err != nil {
		return ClickEvent{}, err
	}

	source := click.Source
	if source == "" {
		source = SourceRedirect
	}

	return ClickEvent{
		ID:          id.String(),
		Timestamp:   now.UTC(),
		UserAgent:   truncate(click.UserAgent, maxHeaderLength),
		Referer:     truncate(click.Referer, maxHeaderLength),
		IP:          truncate(click.IP, maxIPLength),
		SessionID:   truncate(click.SessionID, maxHeaderLength),
		ClickSource: source,
	}, nil
}

// truncate cuts s to at most n bytes without splitting a rune.
func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}

	s = s[:n]
	for !utf8.ValidString(s) {
		s = s[:len(s)-1]
	}

	return s
}

var ErrInvalidCursor = errors.New("invalid cursor")

// EncodeCursor builds an opaque cursor from an event's ordering key.
func EncodeCursor(event ClickEvent) string {
	raw := strconv.FormatInt(event.Timestamp.UnixNano(), 10) + ":" + event.ID

	return base64.RawURLEncoding.EncodeToString([]byte(raw))
}

// DecodeCursor reverses EncodeCursor.
func DecodeCursor(cursor string) (time.Time, string, error) {
	raw, err := base64.RawURLEncoding.DecodeString(cursor)
	if err != nil {
		return time.Time{}, "", ErrInvalidCursor
	}

	ts, id, ok := strings.Cut(string(raw), ":")
	if !ok || id == "" {
		return time.Time{}, "", ErrInvalidCursor
	}

	nanos, err := strconv.ParseInt(ts, 10, 64)
	if err != nil {
		return time.Time{}, "", ErrInvalidCursor
	}

	return time.Unix(0, nanos).UTC(), id, nil
}

// Before reports whether e sorts before the (ts, id) key.
func (e ClickEvent) Before(ts time.Time, id string) bool {
	if !e.Timestamp.Equal(ts) {
		return e.Timestamp.Before(ts)
	}

	return e.ID < id
}
