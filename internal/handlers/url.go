package handlers

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/serroba/shortlink/internal/metrics"
	"github.com/serroba/shortlink/internal/redirect"
	"github.com/serroba/shortlink/internal/shortener"
	"go.uber.org/zap"
)

const (
	minTTL = time.Hour
	maxTTL = 8760 * time.Hour
)

// Shortener creates mappings.
type Shortener interface {
	Shorten(ctx context.Context, rawURL string, ttl time.Duration) (*shortener.Mapping, error)
}

// Resolver turns a short code into its destination.
type Resolver interface {
	Resolve(ctx context.Context, code shortener.Code, meta redirect.Metadata) (string, error)
}

// URLHandler handles URL shortening and redirect operations.
type URLHandler struct {
	shortener Shortener
	resolver  Resolver
	baseURL   string
	metrics   *metrics.Metrics
	logger    *zap.Logger
	errors    errorResponder
}

// NewURLHandler creates a new URL handler.
func NewURLHandler(
	s Shortener,
	resolver Resolver,
	baseURL string,
	m *metrics.Metrics,
	logger *zap.Logger,
	development bool,
) *URLHandler {
	return &URLHandler{
		shortener: s,
		resolver:  resolver,
		baseURL:   strings.TrimRight(baseURL, "/"),
		metrics:   m,
		logger:    logger,
		errors:    errorResponder{development: development},
	}
}

func (h *URLHandler) CreateShortURL(ctx context.Context, req *CreateShortURLRequest) (*CreateShortURLResponse, error) {
	ttl, err := parseTTL(req.Body.TTL)
	if err != nil {
		return nil, newError(http.StatusBadRequest, err.Error())
	}

	mapping, err := h.shortener.Shorten(ctx, req.Body.URL, ttl)
	if err != nil {
		if errors.Is(err, shortener.ErrInvalidURL) {
			return nil, newError(http.StatusBadRequest, err.Error())
		}

		h.logger.Error("failed to shorten url", zap.Error(err))

		return nil, h.errors.serverError(http.StatusInternalServerError, msgShortenFailed, err)
	}

	h.metrics.Shortened.Inc()

	shortURL := fmt.Sprintf("%s/%s", h.baseURL, mapping.Code)

	resp := &CreateShortURLResponse{}
	resp.Headers.Location = shortURL
	resp.Body.ShortURL = shortURL
	resp.Body.OriginalURL = mapping.OriginalURL
	resp.Body.ShortCode = string(mapping.Code)
	resp.Body.CreatedAt = mapping.CreatedAt
	resp.Body.ExpiresAt = mapping.ExpiresAt

	return resp, nil
}

// GetRedirect returns the destination as JSON.
func (h *URLHandler) GetRedirect(ctx context.Context, req *CodeRequest) (*RedirectResponse, error) {
	destination, err := h.resolve(ctx, req.Code)
	if err != nil {
		return nil, err
	}

	resp := &RedirectResponse{}
	resp.Body.RedirectURL = destination

	return resp, nil
}

// RedirectToURL answers with a 302 to the destination.
func (h *URLHandler) RedirectToURL(ctx context.Context, req *CodeRequest) (*BrowserRedirectResponse, error) {
	destination, err := h.resolve(ctx, req.Code)
	if err != nil {
		return nil, err
	}

	return &BrowserRedirectResponse{Status: http.StatusFound, Location: destination}, nil
}

func (h *URLHandler) resolve(ctx context.Context, code string) (string, error) {
	destination, err := h.resolver.Resolve(ctx, shortener.Code(code), redirect.MetadataFromContext(ctx))

	outcome := metrics.OutcomeResolved

	switch {
	case err == nil:
	case errors.Is(err, shortener.ErrExpired):
		outcome, err = metrics.OutcomeExpired, newError(http.StatusNotFound, msgExpired)
	case errors.Is(err, shortener.ErrNotFound):
		outcome, err = metrics.OutcomeNotFound, newError(http.StatusNotFound, msgNotFound)
	case errors.Is(err, shortener.ErrInvalidState):
		h.logger.Error("mapping has no destination", zap.String("code", code))

		outcome, err = metrics.OutcomeInvalid, newError(http.StatusInternalServerError, msgInvalidURL)
	default:
		h.logger.Error("failed to resolve short code", zap.String("code", code), zap.Error(err))

		outcome, err = metrics.OutcomeError, h.errors.serverError(http.StatusInternalServerError, msgInternalError, err)
	}

	h.metrics.Redirects.WithLabelValues(outcome).Inc()

	return destination, err
}

func parseTTL(raw string) (time.Duration, error) {
	if raw == "" {
		return 0, nil
	}

	ttl, err := time.ParseDuration(raw)
	if err != nil {
		return 0, fmt.Errorf("invalid ttl %q", raw)
	}

	if ttl < minTTL || ttl > maxTTL {
		return 0, fmt.Errorf("ttl must be between %s and %s", minTTL, maxTTL)
	}

	return ttl, nil
}
