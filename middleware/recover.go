package middleware

import (
	"context"
	"fmt"

	"tcplink/message"
)

// Recover converts a handler panic into an ordinary handler error so a
// misbehaving handler takes down only its own connection, never the accept
// loop.
func Recover() Middleware {
	return func(next HandlerFunc) HandlerFunc {
		return func(ctx context.Context, req message.Message) (resp message.Message, err error) {
			defer func() {
				if r := recover(); r != nil {
					resp = nil
					err = fmt.Errorf("middleware: handler panic: %v", r)
				}
			}()
			return next(ctx, req)
		}
	}
}
