package middleware

import (
	"context"
	"time"

	"dubbo-client/errors"
	"dubbo-client/processor"
)

// Timeout bounds the whole call, including discovery, by timeout. The
// deadline is also visible to the executor through ctx.
func Timeout(timeout time.Duration) Middleware {
	return func(next HandlerFunc) HandlerFunc {
		return func(ctx context.Context, inv *Invocation) (*processor.Result, error) {
			ctx, cancel := context.WithTimeout(ctx, timeout)
			defer cancel()

			type result struct {
				res *processor.Result
				err error
			}
			done := make(chan result, 1)
			go func() {
				res, err := next(ctx, inv)
				done <- result{res, err}
			}()

			select {
			case r := <-done:
				return r.res, r.err
			case <-ctx.Done():
				return nil, errors.E("middleware.Timeout", errors.ReceiveTimeout, errors.Str("request timed out"))
			}
		}
	}
}
