package shortener

import "time"

// Code represents a short URL code.
type Code string

// DefaultTTL is how long a new mapping stays resolvable.
const DefaultTTL = 30 * 24 * time.Hour

// Mapping associates a short code with its destination and lifecycle flags.
type Mapping struct {
	Code        Code
	OriginalURL string
	CreatedAt   time.Time
	Clicks      int64 // denormalized copy of the ledger's total
	IsActive    bool
	ExpiresAt   time.Time
	LastClickAt *time.Time
}

// NewMapping returns an active mapping with no clicks that expires after ttl.
func NewMapping(code Code, originalURL string, now time.Time, ttl time.Duration) *Mapping {
	return &Mapping{
		Code:        code,
		OriginalURL: originalURL,
		CreatedAt:   now,
		IsActive:    true,
		ExpiresAt:   now.Add(ttl),
	}
}

// Expired reports whether the mapping is past its expiry at now.
func (m *Mapping) Expired(now time.Time) bool {
	return !now.Before(m.ExpiresAt)
}
