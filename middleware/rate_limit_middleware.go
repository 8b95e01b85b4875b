package middleware

import (
	"context"

	"golang.org/x/time/rate"

	"dubbo-client/errors"
	"dubbo-client/processor"
)

// RateLimit 创建一个基于令牌桶算法的限流中间件
// Calls over the limit fail at once without reaching a provider.
func RateLimit(r float64, burst int) Middleware {
	limiter := rate.NewLimiter(rate.Limit(r), burst)
	return func(next HandlerFunc) HandlerFunc {
		return func(ctx context.Context, inv *Invocation) (*processor.Result, error) {
			if !limiter.Allow() {
				return nil, errors.E("middleware.RateLimit", errors.Str("rate limit exceeded"))
			}
			return next(ctx, inv)
		}
	}
}
