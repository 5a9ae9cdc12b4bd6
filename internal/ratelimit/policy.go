package ratelimit

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// LimitConfig allows at most Max requests per sliding Window.
type LimitConfig struct {
	Max    int64
	Window time.Duration
}

func (c LimitConfig) String() string {
	return fmt.Sprintf("%d/%s", c.Max, c.Window)
}

// ParseLimit parses "<max>/<window>", e.g. "30/1m".
func ParseLimit(s string) (LimitConfig, error) {
	maxPart, windowPart, ok := strings.Cut(strings.TrimSpace(s), "/")
	if !ok {
		return LimitConfig{}, fmt.Errorf("rate limit %q: expected <max>/<window>", s)
	}

	limit, err := strconv.ParseInt(maxPart, 10, 64)
	if err != nil || limit <= 0 {
		return LimitConfig{}, fmt.Errorf("rate limit %q: invalid max", s)
	}

	window, err := time.ParseDuration(windowPart)
	if err != nil || window <= 0 {
		return LimitConfig{}, fmt.Errorf("rate limit %q: invalid window", s)
	}

	return LimitConfig{Max: limit, Window: window}, nil
}

// Policy maps each scope to the limits enforced on it. A request must stay
// under every limit of every scope it resolves to.
type Policy struct {
	Limits map[Scope][]LimitConfig
}

// DefaultPolicy is generous on redirects and strict on writes.
func DefaultPolicy() *Policy {
	return &Policy{
		Limits: map[Scope][]LimitConfig{
			ScopeGlobal: {
				{Max: 1000, Window: time.Minute},
			},
			ScopeRead: {
				{Max: 600, Window: time.Minute},
			},
			ScopeWrite: {
				{Max: 30, Window: time.Minute},
				{Max: 500, Window: time.Hour},
			},
		},
	}
}

// With returns a copy of p with scope's limits replaced.
func (p *Policy) With(scope Scope, limits ...LimitConfig) *Policy {
	out := &Policy{Limits: make(map[Scope][]LimitConfig, len(p.Limits)+1)}
	for s, l := range p.Limits {
		out.Limits[s] = l
	}

	out.Limits[scope] = limits

	return out
}
