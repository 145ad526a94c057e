// File: server/types.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0

package server

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/sirupsen/logrus"

	"github.com/momentics/hioload-rt/facade"
)

// Config holds the observability listener parameters.
type Config struct {
	ListenAddr        string        // TCP bind address, e.g. ":9090"
	ReadHeaderTimeout time.Duration // header read deadline per request
	WriteTimeout      time.Duration // response write deadline
	ShutdownTimeout   time.Duration // graceful shutdown timeout
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		ListenAddr:        ":9090",
		ReadHeaderTimeout: 10 * time.Second,
		WriteTimeout:      30 * time.Second,
		ShutdownTimeout:   10 * time.Second,
	}
}

// Server serves a Runtime's health, stats, debug probes and metrics.
type Server struct {
	cfg        *Config
	rt         *facade.Runtime
	router     *chi.Mux
	log        *logrus.Entry
	middleware []func(http.Handler) http.Handler
}
