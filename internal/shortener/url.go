package shortener

import (
	"fmt"
	"net/url"
	"strings"
)

const maxURLLength = 2048

// EnsureScheme prepends https:// to a URL that has no http or https scheme.
func EnsureScheme(rawURL string) string {
	lower := strings.ToLower(rawURL)
	if strings.HasPrefix(lower, "http://") || strings.HasPrefix(lower, "https://") {
		return rawURL
	}

	return "https://" + rawURL
}

// NormalizeURL trims the input, adds a scheme if missing and validates the result.
func NormalizeURL(rawURL string) (string, error) {
	rawURL = strings.TrimSpace(rawURL)
	if rawURL == "" {
		return "", fmt.Errorf("%w: url is required", ErrInvalidURL)
	}

	if len(rawURL) > maxURLLength {
		return "", fmt.Errorf("%w: url is too long (max %d characters)", ErrInvalidURL, maxURLLength)
	}

	if strings.ContainsAny(rawURL, " \t\r\n") {
		return "", fmt.Errorf("%w: url must not contain whitespace", ErrInvalidURL)
	}

	normalized := EnsureScheme(rawURL)

	u, err := url.Parse(normalized)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrInvalidURL, err)
	}

	if u.Hostname() == "" {
		return "", fmt.Errorf("%w: url must contain a valid host", ErrInvalidURL)
	}

	return normalized, nil
}
