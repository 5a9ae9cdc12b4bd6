package redirect

import (
	"context"
	"net"
	"strings"

	"github.com/serroba/shortlink/internal/ledger"
)

// Metadata is what a redirect knows about the request that triggered it.
type Metadata struct {
	UserAgent    string
	Referer      string
	ForwardedFor string
	RealIP       string
	RemoteAddr   string
	SessionID    string
	Source       string
}

// ClientIP returns the first X-Forwarded-For entry, then X-Real-IP, then
// the host part of the peer address.
func (m Metadata) ClientIP() string {
	if m.ForwardedFor != "" {
		first, _, _ := strings.Cut(m.ForwardedFor, ",")
		if ip := strings.TrimSpace(first); ip != "" {
			return ip
		}
	}

	if ip := strings.TrimSpace(m.RealIP); ip != "" {
		return ip
	}

	host, _, err := net.SplitHostPort(m.RemoteAddr)
	if err != nil {
		return m.RemoteAddr
	}

	return host
}

// Click converts the metadata into the fields a click event records.
func (m Metadata) Click() ledger.Click {
	return ledger.Click{
		UserAgent: m.UserAgent,
		Referer:   m.Referer,
		IP:        m.ClientIP(),
		SessionID: m.SessionID,
		Source:    ledger.ParseClickSource(m.Source),
	}
}

type metadataKey struct{}

// WithMetadata stores request metadata in ctx.
func WithMetadata(ctx context.Context, meta Metadata) context.Context {
	return context.WithValue(ctx, metadataKey{}, meta)
}

// MetadataFromContext returns the metadata stored by WithMetadata, or the zero value.
func MetadataFromContext(ctx context.Context) Metadata {
	if v, ok := ctx.Value(metadataKey{}).(Metadata); ok {
		return v
	}

	return Metadata{}
}
