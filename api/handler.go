// File: api/handler.go
// Package api defines Handler interface.
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0

package api

// Handler processes one unit of host work (a request, a middleware step)
// with the Context that entered the system with it.
type Handler interface {
	Handle(ctx Context, data any) (any, error)
}
