// File: core/session/context.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Context is the per-unit-of-work carrier: a trace id assigned once at
// ingress, a typed key/value store, a weak back-reference to the logger
// sink, and the affinity hints the scheduler reads.
//
// A Context has a single owner. Move hands ownership to a new handle and
// invalidates the old one; any later use of the old handle panics with
// ErrMoved.

package session

import (
	"errors"
	"io"
	"sync/atomic"
	"time"
	"weak"

	"github.com/oklog/ulid/v2"
	"github.com/sirupsen/logrus"

	"github.com/momentics/hioload-rt/api"
)

// ErrMoved is the panic value raised when a moved-from Context is used.
var ErrMoved = errors.New("session: context used after move")

// NoWorker marks a Context without a preferred worker.
const NoWorker = -1

var discard = &logrus.Logger{Out: io.Discard, Formatter: new(logrus.TextFormatter), Hooks: make(logrus.LevelHooks), Level: logrus.PanicLevel}

type state struct {
	traceID   string
	store     *store
	logger    weak.Pointer[logrus.Logger]
	hasLogger bool
	node      int
	priority  api.Priority
	preferred atomic.Int32
}

// Context implements api.Context.
type Context struct {
	s atomic.Pointer[state]
}

var _ api.Context = (*Context)(nil)

// Option configures a new Context.
type Option func(*state)

// WithTraceID overrides the generated trace id.
func WithTraceID(id string) Option {
	return func(s *state) { s.traceID = id }
}

// WithLogger links the Context to l without keeping l alive.
func WithLogger(l *logrus.Logger) Option {
	return func(s *state) {
		if l != nil {
			s.logger = weak.Make(l)
			s.hasLogger = true
		}
	}
}

// WithIngressNode records the NUMA node the work arrived on.
func WithIngressNode(node int) Option {
	return func(s *state) { s.node = node }
}

// WithPriority sets the scheduling priority.
func WithPriority(p api.Priority) Option {
	return func(s *state) { s.priority = p }
}

// WithPreferredWorker seeds the worker affinity hint.
func WithPreferredWorker(id int) Option {
	return func(s *state) { s.preferred.Store(int32(id)) }
}

// New creates a Context at ingress.
func New(opts ...Option) *Context {
	s := &state{store: newStore(), node: -1}
	s.preferred.Store(NoWorker)
	for _, opt := range opts {
		opt(s)
	}
	if s.traceID == "" {
		s.traceID = ulid.Make().String()
	}
	c := &Context{}
	c.s.Store(s)
	return c
}

func (c *Context) state() *state {
	s := c.s.Load()
	if s == nil {
		panic(ErrMoved)
	}
	return s
}

// Move transfers ownership to the returned handle. c is unusable afterwards.
func (c *Context) Move() *Context {
	s := c.s.Swap(nil)
	if s == nil {
		panic(ErrMoved)
	}
	n := &Context{}
	n.s.Store(s)
	return n
}

// Valid reports whether c still owns its state.
func (c *Context) Valid() bool { return c != nil && c.s.Load() != nil }

// Fork creates an independent Context for spawned work. It shares the
// trace id, logger, and hints; only entries stored with SetPropagated are
// copied.
func (c *Context) Fork() *Context {
	s := c.state()
	f := &state{
		traceID:   s.traceID,
		store:     s.store.propagated(),
		logger:    s.logger,
		hasLogger: s.hasLogger,
		node:      s.node,
		priority:  s.priority,
	}
	f.preferred.Store(s.preferred.Load())
	n := &Context{}
	n.s.Store(f)
	return n
}

// Set assigns a value for key.
func (c *Context) Set(key string, value any) { c.state().store.set(key, value, false) }

// SetPropagated assigns a value that Fork carries into child contexts.
func (c *Context) SetPropagated(key string, value any) { c.state().store.set(key, value, true) }

// Get fetches a value.
func (c *Context) Get(key string) (any, bool) { return c.state().store.get(key) }

// Delete removes key.
func (c *Context) Delete(key string) { c.state().store.delete(key) }

// Expire sets a time-to-live on an existing key.
func (c *Context) Expire(key string, ttl time.Duration) bool {
	return c.state().store.expire(key, ttl)
}

// Keys returns all live keys in sorted order.
func (c *Context) Keys() []string { return c.state().store.keys() }

// TraceID returns the id assigned at ingress.
func (c *Context) TraceID() string { return c.state().traceID }

// Logger returns an entry tagged with the trace id. If the sink has been
// collected, output is discarded.
func (c *Context) Logger() *logrus.Entry {
	s := c.state()
	l := discard
	if s.hasLogger {
		if p := s.logger.Value(); p != nil {
			l = p
		}
	}
	return l.WithField("trace_id", s.traceID)
}

// PreferredWorker returns the worker that last ran work for c, or NoWorker.
func (c *Context) PreferredWorker() int { return int(c.state().preferred.Load()) }

// SetPreferredWorker records the worker affinity hint.
func (c *Context) SetPreferredWorker(id int) { c.state().preferred.Store(int32(id)) }

// IngressNode returns the NUMA node recorded at ingress, or -1.
func (c *Context) IngressNode() int { return c.state().node }

// Priority returns the scheduling priority.
func (c *Context) Priority() api.Priority { return c.state().priority }

// Value returns the value under key if it holds a T.
func Value[T any](c *Context, key string) (T, bool) {
	v, ok := c.Get(key)
	if !ok {
		var zero T
		return zero, false
	}
	t, ok := v.(T)
	return t, ok
}
