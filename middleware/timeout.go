package middleware

import (
	"context"
	"time"

	"tcplink/message"
)

type handlerResult struct {
	resp message.Message
	err  error
}

// Timeout bounds handler execution time. On expiry the exchange fails with
// context.DeadlineExceeded; the handler goroutine is left to finish on its
// own, its result discarded.
func Timeout(timeout time.Duration) Middleware {
	return func(next HandlerFunc) HandlerFunc {
		return func(ctx context.Context, req message.Message) (message.Message, error) {
			ctx, cancel := context.WithTimeout(ctx, timeout)
			defer cancel()

			done := make(chan handlerResult, 1)
			go func() {
				resp, err := next(ctx, req)
				done <- handlerResult{resp: resp, err: err}
			}()

			select {
			case result := <-done:
				return result.resp, result.err
			case <-ctx.Done():
				return nil, ctx.Err()
			}
		}
	}
}
