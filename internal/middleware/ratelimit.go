package middleware

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"net/http"

	"github.com/danielgtaylor/huma/v2"
	"github.com/serroba/shortlink/internal/ratelimit"
	"go.uber.org/zap"
)

// PolicyRateLimiter returns a Huma middleware that applies policy-based rate limiting.
//
// An operation can carry a ratelimit.EndpointConfig under ratelimit.MetadataKey
// to disable limiting, override its scope, or replace the policy with its
// own limits.
func PolicyRateLimiter(
	api huma.API,
	limiter *ratelimit.PolicyLimiter,
	resolver ratelimit.ScopeResolver,
	logger *zap.Logger,
) func(ctx huma.Context, next func(huma.Context)) {
	return func(ctx huma.Context, next func(huma.Context)) {
		cfg := ratelimit.GetEndpointConfig(ctx)
		if cfg != nil && cfg.Disabled {
			next(ctx)

			return
		}

		key := clientKey(ctx)
		path := operationPath(ctx)

		var (
			allowed  bool
			exceeded *ratelimit.LimitExceeded
			err      error
		)

		if cfg != nil && len(cfg.Limits) > 0 {
			allowed, exceeded, err = limiter.AllowCustom(ctx.Context(), key, path, cfg.Limits)
		} else {
			allowed, exceeded, err = limiter.Allow(ctx.Context(), key, resolver.Resolve(ctx))
		}

		if err != nil {
			logger.Error("rate limit check failed", zap.String("path", path), zap.Error(err))
			_ = huma.WriteErr(api, ctx, http.StatusInternalServerError, "Internal server error", err)

			return
		}

		if !allowed {
			rejectRequest(api, ctx, exceeded, path, logger)

			return
		}

		next(ctx)
	}
}

// clientKey identifies a client by IP and User-Agent without storing either.
func clientKey(ctx huma.Context) string {
	meta := metadataOf(ctx)
	hash := sha256.Sum256([]byte(meta.ClientIP() + "|" + meta.UserAgent))

	return hex.EncodeToString(hash[:])
}

func operationPath(ctx huma.Context) string {
	if op := ctx.Operation(); op != nil {
		return op.Path
	}

	return ctx.URL().Path
}

func rejectRequest(api huma.API, ctx huma.Context, exceeded *ratelimit.LimitExceeded, path string, logger *zap.Logger) {
	msg := "Rate limit exceeded"

	if exceeded != nil {
		msg = fmt.Sprintf("Rate limit exceeded: %d/%d requests in %s",
			exceeded.Count, exceeded.Config.Max, exceeded.Config.Window)

		ctx.SetHeader("Retry-After", fmt.Sprintf("%.0f", exceeded.Config.Window.Seconds()))

		logger.Warn("rate limit exceeded",
			zap.String("path", path),
			zap.String("method", ctx.Method()),
			zap.String("scope", string(exceeded.Scope)),
			zap.Int64("count", exceeded.Count),
			zap.Int64("max", exceeded.Config.Max),
			zap.Duration("window", exceeded.Config.Window),
			zap.String("client_ip", metadataOf(ctx).ClientIP()),
		)
	}

	_ = huma.WriteErr(api, ctx, http.StatusTooManyRequests, msg)
}
