package shortener

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// DefaultMaxAttempts bounds how many codes are tried before giving up.
const DefaultMaxAttempts = 10

// Service creates and looks up mappings.
type Service struct {
	store        Repository
	generateCode CodeGenerator
	ttl          time.Duration
	maxAttempts  int
	now          func() time.Time
}

// Option configures a Service.
type Option func(*Service)

// WithTTL overrides DefaultTTL for new mappings.
func WithTTL(ttl time.Duration) Option {
	return func(s *Service) {
		if ttl > 0 {
			s.ttl = ttl
		}
	}
}

// WithMaxAttempts overrides DefaultMaxAttempts.
func WithMaxAttempts(n int) Option {
	return func(s *Service) {
		if n > 0 {
			s.maxAttempts = n
		}
	}
}

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option {
	return func(s *Service) {
		s.now = now
	}
}

// NewService creates a mapping service.
func NewService(store Repository, generator CodeGenerator, opts ...Option) *Service {
	s := &Service{
		store:        store,
		generateCode: generator,
		ttl:          DefaultTTL,
		maxAttempts:  DefaultMaxAttempts,
		now:          time.Now,
	}

	for _, opt := range opts {
		opt(s)
	}

	return s
}

// Shorten validates rawURL and stores it under a freshly generated code.
// A ttl of zero uses the service default.
func (s *Service) Shorten(ctx context.Context, rawURL string, ttl time.Duration) (*Mapping, error) {
	originalURL, err := NormalizeURL(rawURL)
	if err != nil {
		return nil, err
	}

	if ttl <= 0 {
		ttl = s.ttl
	}

	for range s.maxAttempts {
		mapping := NewMapping(Code(s.generateCode()), originalURL, s.now(), ttl)

		err = s.store.Create(ctx, mapping)
		if err == nil {
			return mapping, nil
		}

		if !errors.Is(err, ErrCodeTaken) {
			return nil, err
		}
	}

	return nil, fmt.Errorf("%w after %d attempts", ErrGenerationFailed, s.maxAttempts)
}

// Create stores originalURL under an explicit code with the default ttl.
func (s *Service) Create(ctx context.Context, code Code, originalURL string) (*Mapping, error) {
	mapping := NewMapping(code, originalURL, s.now(), s.ttl)

	if err := s.store.Create(ctx, mapping); err != nil {
		return nil, err
	}

	return mapping, nil
}

// Get returns the mapping for code only while it is active and unexpired.
// Inactive and expired mappings are reported as ErrInactive and ErrExpired,
// both of which match ErrNotFound.
func (s *Service) Get(ctx context.Context, code Code) (*Mapping, error) {
	mapping, err := s.store.GetByCode(ctx, code)
	if err != nil {
		return nil, err
	}

	if !mapping.IsActive {
		return nil, ErrInactive
	}

	if mapping.Expired(s.now()) {
		return nil, ErrExpired
	}

	return mapping, nil
}
