package handlers

import (
	"net/http"
	"time"

	"github.com/danielgtaylor/huma/v2"
	"github.com/danielgtaylor/huma/v2/sse"
	"github.com/serroba/shortlink/internal/feed"
	"github.com/serroba/shortlink/internal/ratelimit"
)

// RegisterRoutes registers all URL shortener routes with per-endpoint rate limit configuration.
func RegisterRoutes(api huma.API, urlHandler *URLHandler) {
	huma.Register(api, huma.Operation{
		OperationID: "create-short-url",
		Method:      http.MethodPost,
		Path:        "/shorten",
		Summary:     "Create short URL",
		Description: "Stores the URL under a new random short code.",
		Tags:        []string{"URLs"},
		Metadata: map[string]any{
			ratelimit.MetadataKey: ratelimit.EndpointConfig{Scope: ratelimit.ScopeWrite},
		},
	}, urlHandler.CreateShortURL)

	huma.Register(api, huma.Operation{
		OperationID: "get-redirect",
		Method:      http.MethodGet,
		Path:        "/redirect/{shortCode}",
		Summary:     "Resolve short code",
		Description: "Returns the destination for a short code and records the click.",
		Tags:        []string{"URLs"},
		Metadata: map[string]any{
			ratelimit.MetadataKey: ratelimit.EndpointConfig{Scope: ratelimit.ScopeRead},
		},
	}, urlHandler.GetRedirect)

	huma.Register(api, huma.Operation{
		OperationID: "redirect",
		Method:      http.MethodGet,
		Path:        "/{shortCode}",
		Summary:     "Redirect to original URL",
		Description: "Redirects to the original URL associated with the short code.",
		Tags:        []string{"URLs"},
		Metadata: map[string]any{
			ratelimit.MetadataKey: ratelimit.EndpointConfig{Scope: ratelimit.ScopeRead},
		},
	}, urlHandler.RedirectToURL)
}

// RegisterAnalyticsRoutes registers the analytics read and live endpoints.
func RegisterAnalyticsRoutes(api huma.API, h *AnalyticsHandler) {
	huma.Register(api, huma.Operation{
		OperationID: "get-analytics",
		Method:      http.MethodGet,
		Path:        "/analytics/{shortCode}",
		Summary:     "Click analytics",
		Description: "Returns the mapping, its click ledger and the latest click events.",
		Tags:        []string{"Analytics"},
	}, h.GetAnalytics)

	huma.Register(api, huma.Operation{
		OperationID: "list-click-events",
		Method:      http.MethodGet,
		Path:        "/analytics/{shortCode}/events",
		Summary:     "Click events",
		Description: "Pages the click event log newest first.",
		Tags:        []string{"Analytics"},
	}, h.ListEvents)

	sse.Register(api, huma.Operation{
		OperationID: "live-analytics",
		Method:      http.MethodGet,
		Path:        "/analytics/{shortCode}/live",
		Summary:     "Live click feed",
		Description: "Streams click snapshots as server-sent events.",
		Tags:        []string{"Analytics"},
		Metadata: map[string]any{
			ratelimit.MetadataKey: ratelimit.EndpointConfig{
				Limits: []ratelimit.LimitConfig{{Window: time.Minute, Max: 30}},
			},
		},
	}, map[string]any{
		"snapshot": feed.Snapshot{},
		"error":    LiveError{},
	}, h.Live)
}
