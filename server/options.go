// File: server/options.go
// Package server defines functional options for the observability Server.
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0

package server

import (
	"net/http"

	"github.com/sirupsen/logrus"
)

// ServerOption customizes server initialization.
type ServerOption func(*Server)

// WithMiddleware attaches router middleware in FIFO order, after the
// built-in request id, recovery and logging middleware.
func WithMiddleware(mw ...func(http.Handler) http.Handler) ServerOption {
	return func(s *Server) {
		s.middleware = append(s.middleware, mw...)
	}
}

// WithLogger overrides the request logger. It defaults to the runtime's.
func WithLogger(l *logrus.Logger) ServerOption {
	return func(s *Server) {
		s.log = l.WithField("component", "server")
	}
}
