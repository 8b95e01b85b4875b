package middleware

import (
	"context"
	"time"

	"go.uber.org/zap"

	"dubbo-client/errors"
	"dubbo-client/processor"
)

// Accounting logs one line per call with its cost and outcome: the
// service, elapsed microseconds, calling app, method, group, version,
// provider address and "ok" or the error message.
func Accounting(logger *zap.Logger) Middleware {
	if logger == nil {
		logger = zap.NewNop()
	}
	return func(next HandlerFunc) HandlerFunc {
		return func(ctx context.Context, inv *Invocation) (*processor.Result, error) {
			start := time.Now()
			res, err := next(ctx, inv)
			msg, target := "ok", ""
			if err != nil {
				msg, target = errors.Message(err), errors.AddrOf(err)
			} else if res != nil {
				target = res.Provider
			}
			logger.Info("consumer call",
				zap.String("service", inv.Service),
				zap.Int64("cost_us", time.Since(start).Microseconds()),
				zap.String("app", inv.App),
				zap.String("method", inv.Method),
				zap.String("group", inv.Group),
				zap.String("version", inv.Version),
				zap.String("target", target),
				zap.String("msg", msg))
			return res, err
		}
	}
}
