package middleware

import (
	"github.com/danielgtaylor/huma/v2"
	"github.com/serroba/shortlink/internal/redirect"
)

// Request headers read into redirect.Metadata besides the standard ones.
const (
	HeaderSessionID   = "X-Session-ID"
	HeaderClickSource = "X-Click-Source"
)

// RequestMeta stores the request's redirect.Metadata in its context.
func RequestMeta(_ huma.API) func(ctx huma.Context, next func(huma.Context)) {
	return func(ctx huma.Context, next func(huma.Context)) {
		meta := metadataOf(ctx)

		next(huma.WithContext(ctx, redirect.WithMetadata(ctx.Context(), meta)))
	}
}

func metadataOf(ctx huma.Context) redirect.Metadata {
	return redirect.Metadata{
		UserAgent:    ctx.Header("User-Agent"),
		Referer:      ctx.Header("Referer"),
		ForwardedFor: ctx.Header("X-Forwarded-For"),
		RealIP:       ctx.Header("X-Real-IP"),
		RemoteAddr:   ctx.RemoteAddr(),
		SessionID:    ctx.Header(HeaderSessionID),
		Source:       ctx.Header(HeaderClickSource),
	}
}
