// Package middleware wraps client invocations with cross-cutting
// behaviour: accounting logs, rate limiting and call timeouts.
package middleware

import (
	"context"

	"dubbo-client/processor"
)

// Invocation describes one client call as seen by the middleware.
type Invocation struct {
	Service string
	Method  string
	Group   string
	Version string
	App     string // calling application, for accounting
	Args    []any
}

type HandlerFunc func(ctx context.Context, inv *Invocation) (*processor.Result, error)

type Middleware func(next HandlerFunc) HandlerFunc

// Chain 将多个中间件组合成一个中间件
// The first middleware is the outermost.
func Chain(middlewares ...Middleware) Middleware {
	return func(next HandlerFunc) HandlerFunc {
		for i := len(middlewares) - 1; i >= 0; i-- {
			next = middlewares[i](next)
		}
		return next
	}
}
