// Package middleware wraps the request dispatcher in an onion of cross-cutting
// concerns (logging, metrics, rate limiting).
//
// A HandlerFunc returning nil means "no response": the connection handler then
// writes nothing and keeps reading.
package middleware

import (
	"context"

	"echo-rpc/message"
)

type HandlerFunc func(ctx context.Context, req *message.Request) *message.Response

type Middleware func(next HandlerFunc) HandlerFunc

// Chain composes middlewares into one. The first argument is outermost.
//
//	Chain(A, B, C)(h) == A(B(C(h)))
func Chain(middlewares ...Middleware) Middleware {
	return func(next HandlerFunc) HandlerFunc {
		for i := len(middlewares) - 1; i >= 0; i-- {
			next = middlewares[i](next)
		}
		return next
	}
}
