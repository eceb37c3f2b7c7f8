package middleware

import (
	"context"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"echo-rpc/message"
	"echo-rpc/metrics"
)

// RateLimit drops requests beyond r per second (with the given burst) using a
// token bucket shared by all connections. A dropped request gets no response,
// the same treatment as an empty envelope.
func RateLimit(r float64, burst int, logger *zap.Logger, m *metrics.Metrics) Middleware {
	if logger == nil {
		logger = zap.NewNop()
	}
	limiter := rate.NewLimiter(rate.Limit(r), burst)
	return func(next HandlerFunc) HandlerFunc {
		return func(ctx context.Context, req *message.Request) *message.Response {
			if !limiter.Allow() {
				logger.Warn("rate limit exceeded, dropping request", zap.String("request", req.Kind()))
				m.RateLimited()
				return nil
			}
			return next(ctx, req)
		}
	}
}
