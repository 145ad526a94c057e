// File: api/context.go
// Package api
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Per-unit-of-work context contract consumed by loggers and middleware.
// Not compatible with standard context.Context.

package api

// Context is a move-only key/value carrier with a trace identifier.
type Context interface {
	// Set assigns a value for a key.
	Set(key string, value any)
	// Get fetches a value, returning (value, exists).
	Get(key string) (any, bool)
	// Delete removes a value/key.
	Delete(key string)
	// Keys returns all present keys.
	Keys() []string
	// TraceID returns the identifier assigned at ingress.
	TraceID() string
}
