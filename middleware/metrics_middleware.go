package middleware

import (
	"context"
	"time"

	"echo-rpc/message"
	"echo-rpc/metrics"
)

// Metrics counts requests and dispatch latency per variant.
func Metrics(m *metrics.Metrics) Middleware {
	return func(next HandlerFunc) HandlerFunc {
		return func(ctx context.Context, req *message.Request) *message.Response {
			start := time.Now()
			resp := next(ctx, req)
			m.Request(req.Kind(), time.Since(start))
			return resp
		}
	}
}
