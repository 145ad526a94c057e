// File: server/server.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// HTTP surface over a Runtime:
//
//	GET /healthz    200 while healthy, 503 when degraded or not running
//	GET /v1/stats   StatsSnapshot as JSON
//	GET /v1/debug   every debug probe as JSON
//	GET /v1/config  resolved runtime configuration
//	GET /metrics    Prometheus exposition of the runtime registry

package server

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"

	"github.com/momentics/hioload-rt/facade"
)

// NewServer builds the router for rt.
func NewServer(rt *facade.Runtime, cfg *Config, opts ...ServerOption) *Server {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	s := &Server{
		cfg:    cfg,
		rt:     rt,
		router: chi.NewRouter(),
		log:    rt.Logger().WithField("component", "server"),
	}
	for _, o := range opts {
		o(s)
	}

	s.router.Use(middleware.RequestID)
	s.router.Use(middleware.Recoverer)
	s.router.Use(s.loggingMiddleware)
	for _, mw := range s.middleware {
		s.router.Use(mw)
	}
	s.routes()
	return s
}

func (s *Server) routes() {
	s.router.Get("/healthz", s.handleHealthz)
	s.router.Handle("/metrics", promhttp.HandlerFor(s.rt.Registry(), promhttp.HandlerOpts{}))
	s.router.Route("/v1", func(r chi.Router) {
		r.Get("/stats", s.handleStats)
		r.Get("/debug", s.handleDebug)
		r.Get("/config", s.handleConfig)
	})
}

// Router returns the chi router for additional routes.
func (s *Server) Router() *chi.Mux {
	return s.router
}

// ServeHTTP implements http.Handler.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

func (s *Server) handleHealthz(w http.ResponseWriter, _ *http.Request) {
	status := http.StatusOK
	if !s.rt.Healthy() {
		status = http.StatusServiceUnavailable
	}
	writeJSON(w, status, map[string]string{
		"status": string(s.rt.Stats().Health),
		"state":  s.rt.State().String(),
	})
}

func (s *Server) handleStats(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.rt.Stats())
}

func (s *Server) handleDebug(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.rt.DumpState())
}

func (s *Server) handleConfig(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.rt.Config())
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// loggingMiddleware logs each request at debug level.
func (s *Server) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)

		next.ServeHTTP(ww, r)

		s.log.WithFields(logrus.Fields{
			"method":     r.Method,
			"path":       r.URL.Path,
			"status":     ww.Status(),
			"elapsed":    time.Since(start),
			"request_id": middleware.GetReqID(r.Context()),
		}).Debug("request")
	})
}
