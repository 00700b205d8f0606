package middleware

import (
	"context"
	"time"

	"go.uber.org/zap"

	"tcplink/message"
)

// Logging logs every exchange: request tag, duration, and outcome.
func Logging(logger *zap.Logger) Middleware {
	return func(next HandlerFunc) HandlerFunc {
		return func(ctx context.Context, req message.Message) (message.Message, error) {
			start := time.Now()
			resp, err := next(ctx, req)
			duration := time.Since(start)

			if err != nil {
				logger.Warn("exchange failed",
					zap.String("tag", req.Tag()),
					zap.Duration("duration", duration),
					zap.Error(err))
				return resp, err
			}

			logger.Info("exchange handled",
				zap.String("tag", req.Tag()),
				zap.String("response_tag", resp.Tag()),
				zap.Duration("duration", duration))
			return resp, nil
		}
	}
}
