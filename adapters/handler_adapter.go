// File: adapters/handler_adapter.go
// Package adapters
// Author: momentics <momentics@gmail.com>
//
// HandlerFunc glue, middleware chains, and the bridge that runs a handler
// chain as a runtime Task.

package adapters

import (
	"fmt"
	"runtime/debug"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/momentics/hioload-rt/api"
	"github.com/momentics/hioload-rt/core/session"
	"github.com/momentics/hioload-rt/core/task"
	"github.com/momentics/hioload-rt/facade"
)

// HandlerFunc converts a function into an api.Handler.
type HandlerFunc func(ctx api.Context, data any) (any, error)

// Handle calls the underlying function.
func (f HandlerFunc) Handle(ctx api.Context, data any) (any, error) {
	return f(ctx, data)
}

// Middleware decorates a Handler.
type Middleware func(api.Handler) api.Handler

// MiddlewareHandler wraps a base Handler and applies middleware in chain.
// The first middleware added is the outermost.
type MiddlewareHandler struct {
	handler    api.Handler
	middleware []Middleware
}

// NewMiddlewareHandler creates a new MiddlewareHandler for the given base handler.
func NewMiddlewareHandler(handler api.Handler) *MiddlewareHandler {
	return &MiddlewareHandler{handler: handler}
}

// Use appends a middleware to the chain.
func (m *MiddlewareHandler) Use(mw Middleware) *MiddlewareHandler {
	m.middleware = append(m.middleware, mw)
	return m
}

// Handle applies all middleware then calls the base handler.
func (m *MiddlewareHandler) Handle(ctx api.Context, data any) (any, error) {
	handler := m.handler
	for i := len(m.middleware) - 1; i >= 0; i-- {
		handler = m.middleware[i](handler)
	}
	return handler.Handle(ctx, data)
}

// LoggingMiddleware logs each invocation at debug level and failures at
// warn, using the Context's logger when it has one.
func LoggingMiddleware(fallback *logrus.Entry) Middleware {
	return func(next api.Handler) api.Handler {
		return HandlerFunc(func(ctx api.Context, data any) (any, error) {
			log := fallback
			if sc, ok := ctx.(*session.Context); ok && sc.Valid() {
				log = sc.Logger()
			} else if log == nil {
				log = logrus.NewEntry(logrus.StandardLogger())
			}
			start := time.Now()
			out, err := next.Handle(ctx, data)
			entry := log.WithFields(logrus.Fields{"input": fmt.Sprintf("%T", data), "elapsed": time.Since(start)})
			if err != nil {
				entry.WithError(err).Warn("handler failed")
			} else {
				entry.Debug("handler done")
			}
			return out, err
		})
	}
}

// RecoveryMiddleware turns a panic into a *api.TaskFailure carrying the
// Context's trace id.
func RecoveryMiddleware(next api.Handler) api.Handler {
	return HandlerFunc(func(ctx api.Context, data any) (out any, err error) {
		defer func() {
			if r := recover(); r != nil {
				out, err = nil, &api.TaskFailure{TraceID: ctx.TraceID(), Panic: r, Stack: debug.Stack()}
			}
		}()
		return next.Handle(ctx, data)
	})
}

// Serve runs h for data as a Task on rt. The handler gets ctx, or a fresh
// ingress Context when ctx is nil.
func Serve(rt *facade.Runtime, ctx *session.Context, h api.Handler, data any) (*task.Task[any], error) {
	return facade.Submit(rt, ctx, func(c *session.Context) (any, error) {
		return h.Handle(c, data)
	})
}
