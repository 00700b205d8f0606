// Package middleware provides composable wrappers around a server handler.
//
// A Middleware wraps a HandlerFunc and returns a new one, onion-style:
//
//	Chain(A, B, C)(handler) → A(B(C(handler)))
//
// Execution order: A.before → B.before → C.before → handler → C.after →
// B.after → A.after.
package middleware

import (
	"context"

	"tcplink/message"
)

// HandlerFunc turns a request message into a response message. It is the
// shape of both the application handler and every wrapped stage.
type HandlerFunc func(ctx context.Context, req message.Message) (message.Message, error)

// Middleware wraps a handler with additional behavior.
type Middleware func(next HandlerFunc) HandlerFunc

// Chain combines multiple middlewares into one, applied in the order given.
func Chain(middlewares ...Middleware) Middleware {
	return func(next HandlerFunc) HandlerFunc {
		for i := len(middlewares) - 1; i >= 0; i-- {
			next = middlewares[i](next)
		}
		return next
	}
}
