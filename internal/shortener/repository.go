package shortener

import (
	"context"
	"errors"
	"fmt"
)

var (
	ErrNotFound = errors.New("short code not found")

	// ErrExpired and ErrInactive both match ErrNotFound so callers that only
	// care about "do not redirect" can treat them alike.
	ErrExpired  = fmt.Errorf("%w: expired", ErrNotFound)
	ErrInactive = fmt.Errorf("%w: inactive", ErrNotFound)

	ErrCodeTaken        = errors.New("short code already taken")
	ErrGenerationFailed = errors.New("failed to generate unique short code")
	ErrInvalidURL       = errors.New("invalid url")
	ErrInvalidState     = errors.New("mapping has no destination url")
	ErrPersistence      = errors.New("persistence failure")
)

// Repository persists mappings.
type Repository interface {
	// Create stores a new mapping together with its empty click ledger.
	// Returns ErrCodeTaken if the code is already in use.
	Create(ctx context.Context, mapping *Mapping) error

	// GetByCode returns the stored mapping regardless of its lifecycle flags.
	// Returns ErrNotFound if no mapping exists.
	GetByCode(ctx context.Context, code Code) (*Mapping, error)
}
