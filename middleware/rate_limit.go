package middleware

import (
	"context"
	"errors"

	"golang.org/x/time/rate"

	"tcplink/message"
)

// ErrRateLimited is returned when the token bucket is empty.
var ErrRateLimited = errors.New("middleware: rate limit exceeded")

// RateLimit rejects requests beyond r per second with bursts of up to burst,
// using a token bucket shared across all connections.
func RateLimit(r float64, burst int) Middleware {
	limiter := rate.NewLimiter(rate.Limit(r), burst)
	return func(next HandlerFunc) HandlerFunc {
		return func(ctx context.Context, req message.Message) (message.Message, error) {
			if !limiter.Allow() {
				return nil, ErrRateLimited
			}
			return next(ctx, req)
		}
	}
}
