package ratelimit

import (
	"context"
	"fmt"
)

// LimitExceeded contains information about which limit was exceeded.
type LimitExceeded struct {
	Scope  Scope
	Config LimitConfig
	Count  int64
}

// PolicyLimiter enforces a Policy with a sliding window per client, scope and window.
type PolicyLimiter struct {
	store  Store
	policy *Policy
}

// NewPolicyLimiter creates a new policy-based rate limiter.
func NewPolicyLimiter(store Store, policy *Policy) *PolicyLimiter {
	return &PolicyLimiter{
		store:  store,
		policy: policy,
	}
}

// Allow records the request against every limit of every scope. The returned
// LimitExceeded is nil when the request is allowed.
func (l *PolicyLimiter) Allow(ctx context.Context, clientKey string, scopes []Scope) (bool, *LimitExceeded, error) {
	for _, scope := range scopes {
		for _, limit := range l.policy.Limits[scope] {
			exceeded, err := l.record(ctx, clientKey+":"+string(scope), scope, limit)
			if err != nil || exceeded != nil {
				return false, exceeded, err
			}
		}
	}

	return true, nil, nil
}

// AllowCustom applies endpoint-specific limits, keyed by the route template
// so all requests matching one route share a counter per client.
func (l *PolicyLimiter) AllowCustom(
	ctx context.Context, clientKey, route string, limits []LimitConfig,
) (bool, *LimitExceeded, error) {
	for _, limit := range limits {
		exceeded, err := l.record(ctx, clientKey+":custom:"+route, ScopeCustom, limit)
		if err != nil || exceeded != nil {
			return false, exceeded, err
		}
	}

	return true, nil, nil
}

func (l *PolicyLimiter) record(ctx context.Context, base string, scope Scope, limit LimitConfig) (*LimitExceeded, error) {
	key := fmt.Sprintf("%s:%d", base, limit.Window.Milliseconds())

	count, err := l.store.Record(ctx, key, limit.Window)
	if err != nil {
		return nil, err
	}

	if count > limit.Max {
		return &LimitExceeded{Scope: scope, Config: limit, Count: count}, nil
	}

	return nil, nil
}
