package middleware

import (
	"context"
	"time"

	"go.uber.org/zap"

	"echo-rpc/message"
)

// Logging records each dispatched request at debug level.
func Logging(logger *zap.Logger) Middleware {
	if logger == nil {
		logger = zap.NewNop()
	}
	return func(next HandlerFunc) HandlerFunc {
		return func(ctx context.Context, req *message.Request) *message.Response {
			start := time.Now()
			resp := next(ctx, req)
			logger.Debug("request dispatched",
				zap.String("request", req.Kind()),
				zap.String("response", resp.Kind()),
				zap.Duration("duration", time.Since(start)),
			)
			return resp
		}
	}
}
