package handlers

import (
	"time"

	"github.com/serroba/shortlink/internal/ledger"
)

// CreateShortURLRequest is the request body for creating a short URL.
type CreateShortURLRequest struct {
	Body struct {
		URL string `doc:"The URL to shorten" example:"https://example.com/very/long/path" json:"url" required:"false"`
		TTL string `doc:"How long the short URL stays valid, between 1h and 8760h" example:"72h" json:"ttl,omitempty" required:"false"`
	}
}

// CreateShortURLResponse is the response for a successfully created short URL.
type CreateShortURLResponse struct {
	Headers struct {
		Location string `doc:"The short URL location" header:"Location"`
	}
	Body struct {
		ShortURL    string    `doc:"The full short URL" example:"http://localhost:8888/abc123"       json:"shortUrl"`
		OriginalURL string    `doc:"The original URL"   example:"https://example.com/very/long/path" json:"originalUrl"`
		ShortCode   string    `doc:"The short code"     example:"abc123"                             json:"shortCode"`
		CreatedAt   time.Time `doc:"Creation time"                                                   json:"createdAt"`
		ExpiresAt   time.Time `doc:"Expiry time"                                                     json:"expiresAt"`
	}
}

// CodeRequest addresses one short code.
type CodeRequest struct {
	Code string `doc:"The short code" example:"abc123" maxLength:"64" path:"shortCode"`
}

// RedirectResponse is the JSON redirect contract.
type RedirectResponse struct {
	Body struct {
		RedirectURL string `doc:"The destination to redirect to" example:"https://example.com" json:"redirectUrl"`
	}
}

// BrowserRedirectResponse sends the client straight to the destination.
type BrowserRedirectResponse struct {
	Status   int
	Location string `header:"Location"`
}

// EventsRequest pages the click event log.
type EventsRequest struct {
	Code   string `doc:"The short code" example:"abc123" maxLength:"64" path:"shortCode"`
	Cursor string `doc:"Opaque cursor from a previous page" query:"cursor"`
	Limit  int    `default:"50" doc:"Page size" maximum:"500" minimum:"1" query:"limit"`
}

// EventsBody is one page of click events, newest first.
type EventsBody struct {
	Events     []ledger.ClickEvent `json:"events"`
	NextCursor string              `json:"nextCursor,omitempty"`
}

// EventsResponse is the response for the event log endpoint.
type EventsResponse struct {
	Body EventsBody
}

// AnalyticsResponse combines a mapping, its ledger and the latest events.
type AnalyticsResponse struct {
	Body struct {
		ShortCode   string     `json:"shortCode"`
		OriginalURL string     `json:"originalUrl"`
		IsActive    bool       `json:"isActive"`
		CreatedAt   time.Time  `json:"createdAt"`
		ExpiresAt   time.Time  `json:"expiresAt"`
		Clicks      int64      `doc:"Click count stored on the mapping" json:"clicks"`
		TotalClicks int64      `doc:"Click count from the ledger" json:"totalClicks"`
		LastClickAt *time.Time `json:"lastClickAt,omitempty"`
		EventCount  int64      `doc:"Events retained in the log" json:"eventCount"`

		EventsBody
	}
}

// LiveError is sent on the live stream when the feed transport fails.
type LiveError struct {
	Error string `json:"error"`
}
