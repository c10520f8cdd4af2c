package peer

import (
	"context"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/time/rate"
)

// LoggingInterceptor logs the method, duration, and error (if any) of each
// inbound request dispatch. Adapted from
// middleware/logging_middleware.go's before/after timing pattern.
func LoggingInterceptor(logger zerolog.Logger) Interceptor {
	return func(next Handler) Handler {
		return func(ctx context.Context, params any) (any, error) {
			start := time.Now()
			result, err := next(ctx, params)
			event := logger.Info().
				Str("method", MethodFromContext(ctx)).
				Dur("duration", time.Since(start))
			if err != nil {
				event.Err(err).Msg("rpc request failed")
			} else {
				event.Msg("rpc request handled")
			}
			return result, err
		}
	}
}

// RateLimitInterceptor throttles inbound request dispatch with a token
// bucket, adapted from middleware/rate_limit_middleware.go onto a single
// Peer's provider dispatch instead of a whole server.
func RateLimitInterceptor(r float64, burst int) Interceptor {
	limiter := rate.NewLimiter(rate.Limit(r), burst)
	return func(next Handler) Handler {
		return func(ctx context.Context, params any) (any, error) {
			if !limiter.Allow() {
				return nil, &ValidationError{Method: MethodFromContext(ctx), Issues: []string{"rate limit exceeded"}}
			}
			return next(ctx, params)
		}
	}
}

// TimeoutInterceptor bounds how long a single handler invocation may run,
// adapted from middleware/timeout_middleware.go.
func TimeoutInterceptor(timeout time.Duration) Interceptor {
	return func(next Handler) Handler {
		return func(ctx context.Context, params any) (any, error) {
			ctx, cancel := context.WithTimeout(ctx, timeout)
			defer cancel()

			type outcome struct {
				result any
				err    error
			}
			done := make(chan outcome, 1)
			go func() {
				result, err := next(ctx, params)
				done <- outcome{result, err}
			}()

			select {
			case o := <-done:
				return o.result, o.err
			case <-ctx.Done():
				return nil, ctx.Err()
			}
		}
	}
}
