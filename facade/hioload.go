// File: facade/hioload.go
// Unified facade layer for hioload-rt.
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Runtime aggregates the scheduler, the reactor loops, statistics and
// debug probes behind one object with an explicit lifecycle:
//
//	Created -> Starting -> Running (<-> Degraded) -> Draining -> Stopped
//
// A failed Start leaves the Runtime Stopped. Degraded is a substate of
// Running: work is still accepted but health is reported as degraded.

package facade

import (
	"context"
	"errors"
	"fmt"
	"os"
	"runtime"
	"sync"
	"sync/atomic"
	"time"

	catrate "github.com/joeycumines/go-catrate"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"github.com/momentics/hioload-rt/affinity"
	"github.com/momentics/hioload-rt/api"
	"github.com/momentics/hioload-rt/control"
	"github.com/momentics/hioload-rt/core/session"
	"github.com/momentics/hioload-rt/internal/concurrency"
	"github.com/momentics/hioload-rt/reactor"
)

// State is the Runtime lifecycle state.
type State int32

const (
	StateCreated State = iota
	StateStarting
	StateRunning
	StateDegraded
	StateDraining
	StateStopped
)

func (s State) String() string {
	switch s {
	case StateCreated:
		return "created"
	case StateStarting:
		return "starting"
	case StateRunning:
		return "running"
	case StateDegraded:
		return "degraded"
	case StateDraining:
		return "draining"
	default:
		return "stopped"
	}
}

// MetricsNamespace prefixes every exported Prometheus metric.
const MetricsNamespace = "hioload_rt"

// stopGrace bounds the wait for workers to exit once draining is over.
const stopGrace = 250 * time.Millisecond

var errAlreadyStarted = errors.New("facade: runtime already started")

// FailureHandler observes failed submitted Tasks and systemic faults. For
// systemic faults traceID is empty.
type FailureHandler func(traceID string, err error)

// Option configures a Runtime.
type Option func(*Runtime)

// WithLogger sets the logger for runtime components and new Contexts.
// Without it a logger is built from the config at Start.
func WithLogger(l *logrus.Logger) Option {
	return func(rt *Runtime) {
		rt.logger = l
		rt.ownLogger = false
	}
}

// WithFailureHandler sets the handler for failed Tasks and faults.
func WithFailureHandler(fn FailureHandler) Option {
	return func(rt *Runtime) { rt.onFailure = fn }
}

// WithRegisterer additionally registers the runtime's collector on reg,
// e.g. prometheus.DefaultRegisterer.
func WithRegisterer(reg prometheus.Registerer) Option {
	return func(rt *Runtime) { rt.registerer = reg }
}

// WithTopology overrides NUMA discovery.
func WithTopology(t affinity.Topology) Option {
	return func(rt *Runtime) { rt.topology = &t }
}

// Runtime is the embeddable execution runtime.
type Runtime struct {
	logger    *logrus.Logger
	ownLogger bool
	log       *logrus.Entry

	onFailure  FailureHandler
	registerer prometheus.Registerer
	registry   *prometheus.Registry
	topology   *affinity.Topology

	// mu serializes Start and Shutdown.
	mu    sync.Mutex
	state atomic.Int32
	cfg   control.RuntimeConfig
	snap  atomic.Pointer[control.RuntimeConfig]

	stats  *control.RuntimeStats
	probes *control.DebugProbes

	sched    *concurrency.Scheduler
	backends []api.Backend
	loops    []*reactor.Loop
	group    errgroup.Group
	cancel   context.CancelFunc

	outstanding atomic.Int64
	waits       sync.Map // *waiter -> struct{}
	slotsMu     sync.Mutex
	slots       map[waitSlot]*waiter
	rejects     *catrate.Limiter
}

// New returns a Runtime in the Created state.
func New(opts ...Option) *Runtime {
	rt := &Runtime{
		logger:    control.NewLogger(os.Stderr, control.DefaultLogLevel, false),
		ownLogger: true,
		registry:  prometheus.NewRegistry(),
		stats:     control.NewRuntimeStats(),
		probes:    control.NewDebugProbes(),
		slots:     make(map[waitSlot]*waiter),
		rejects: catrate.NewLimiter(map[time.Duration]int{
			time.Second: 1,
			time.Minute: 10,
		}),
	}
	for _, opt := range opts {
		opt(rt)
	}
	rt.log = rt.logger.WithField("component", "runtime")
	rt.state.Store(int32(StateCreated))
	return rt
}

// State returns the lifecycle state.
func (rt *Runtime) State() State { return State(rt.state.Load()) }

// Healthy reports Running without degradation.
func (rt *Runtime) Healthy() bool { return rt.State() == StateRunning }

// Config returns the resolved configuration. It is the zero value before
// Start.
func (rt *Runtime) Config() control.RuntimeConfig {
	if c := rt.snap.Load(); c != nil {
		return *c
	}
	return control.RuntimeConfig{}
}

// Stats returns a snapshot of the runtime statistics.
func (rt *Runtime) Stats() control.StatsSnapshot { return rt.stats.Snapshot() }

// DumpState evaluates every debug probe.
func (rt *Runtime) DumpState() map[string]any { return rt.probes.DumpState() }

// Probes returns the debug probe registry.
func (rt *Runtime) Probes() *control.DebugProbes { return rt.probes }

// Registry returns the runtime's own Prometheus registry.
func (rt *Runtime) Registry() *prometheus.Registry { return rt.registry }

// Logger returns the runtime logger.
func (rt *Runtime) Logger() *logrus.Logger { return rt.logger }

// NewContext creates an ingress Context whose logger is the runtime's.
func (rt *Runtime) NewContext(opts ...session.Option) *session.Context {
	return session.New(append([]session.Option{session.WithLogger(rt.logger)}, opts...)...)
}

// Start validates cfg and brings up the scheduler and reactors. On error
// every partially built component is released and the Runtime is Stopped.
func (rt *Runtime) Start(cfg control.RuntimeConfig) error {
	rt.mu.Lock()
	defer rt.mu.Unlock()
	switch rt.State() {
	case StateCreated:
	case StateStopped:
		return api.ErrRuntimeClosed
	default:
		return errAlreadyStarted
	}
	rt.state.Store(int32(StateStarting))

	if err := rt.start(cfg.Resolved()); err != nil {
		rt.stats.SetHealth(api.HealthStopped)
		rt.state.Store(int32(StateStopped))
		rt.log.WithError(err).Error("runtime start failed")
		return err
	}
	rt.state.Store(int32(StateRunning))
	rt.log.WithFields(logrus.Fields{
		"workers":  rt.cfg.WorkerCount,
		"reactors": rt.cfg.ReactorCount,
		"backend":  rt.backends[0].Kind(),
		"policy":   rt.cfg.SchedulingPolicy,
	}).Info("runtime started")
	return nil
}

func (rt *Runtime) start(cfg control.RuntimeConfig) error {
	if err := cfg.Validate(); err != nil {
		return err
	}
	rt.cfg = cfg
	rt.snap.Store(&cfg)
	if rt.ownLogger {
		lvl, _ := control.ParseLogLevel(cfg.LogLevel)
		rt.logger.SetLevel(lvl)
		if cfg.LogJSON {
			rt.logger.SetFormatter(&logrus.JSONFormatter{})
		}
	}

	topo := affinity.Flat(runtime.NumCPU())
	switch {
	case rt.topology != nil:
		topo = *rt.topology
	case cfg.NUMAAffinity:
		topo = affinity.Discover()
	}

	sched, err := concurrency.NewScheduler(concurrency.Config{
		Workers:           cfg.WorkerCount,
		Policy:            cfg.SchedulingPolicy,
		NUMA:              cfg.NUMAAffinity,
		Topology:          topo,
		MaxQueueDepth:     cfg.Performance.MaxQueueDepth,
		BatchSize:         cfg.Performance.BatchSize,
		IdlePollInterval:  cfg.Performance.IdlePollInterval,
		AgingThreshold:    cfg.Performance.AgingThreshold,
		MaxRestarts:       cfg.Recovery.MaxWorkerRestarts,
		RestartBackoff:    cfg.Recovery.RestartBackoff,
		MaxRestartBackoff: cfg.Recovery.MaxRestartBackoff,
		BackoffMultiplier: cfg.Recovery.BackoffMultiplier,
		HeartbeatTimeout:  cfg.Recovery.HeartbeatTimeout,
		OnFault:           rt.workerFault,
	}, rt.stats, logrus.NewEntry(rt.logger))
	if err != nil {
		return &api.ConfigError{Field: "scheduling_policy", Value: cfg.SchedulingPolicy, Reason: "scheduler", Err: err}
	}

	for i := 0; i < cfg.ReactorCount; i++ {
		b, err := reactor.New(cfg.BackendKind)
		if err != nil {
			rt.closeBackends()
			return err
		}
		rt.backends = append(rt.backends, b)
		rt.loops = append(rt.loops, reactor.NewLoop(i, b, rt.dispatchInternal, cfg.Performance.PollTimeout, logrus.NewEntry(rt.logger)))
	}

	if err := sched.Start(); err != nil {
		rt.closeBackends()
		return err
	}
	rt.sched = sched

	ctx, cancel := context.WithCancel(context.Background())
	rt.cancel = cancel
	for _, l := range rt.loops {
		rt.group.Go(func() error {
			err := l.Run(ctx)
			if err != nil {
				rt.degrade(fmt.Errorf("reactor backend %s failed: %w", l.Backend().Kind(), err))
			}
			return err
		})
	}

	rt.stats.BindQueueDepths(sched.QueueDepths)
	rt.stats.BindRegistrations(rt.registrations)
	rt.stats.SetHealth(api.HealthOK)
	rt.registerProbes()

	collector := control.NewCollector(MetricsNamespace, rt.stats)
	if err := rt.registry.Register(collector); err != nil {
		rt.log.WithError(err).Warn("metrics collector not registered")
	}
	if rt.registerer != nil {
		if err := rt.registerer.Register(collector); err != nil {
			rt.log.WithError(err).Warn("metrics collector not registered on external registerer")
		}
	}
	return nil
}

func (rt *Runtime) registerProbes() {
	control.RegisterPlatformProbes(rt.probes)
	rt.probes.RegisterProbe("runtime.state", func() any { return rt.State().String() })
	rt.probes.RegisterProbe("runtime.outstanding", func() any { return rt.outstanding.Load() })
	rt.probes.RegisterProbe("runtime.config", func() any { return rt.Config().Map() })
	rt.probes.RegisterProbe("scheduler.workers", func() any { return rt.sched.Workers() })
	rt.probes.RegisterProbe("scheduler.shared_queues", func() any {
		inj, ovf := rt.sched.InjectorDepth()
		return map[string]int{"injector": inj, "overflow": ovf, "capacity": rt.sched.Capacity()}
	})
	rt.probes.RegisterProbe("scheduler.restarts", func() any { return rt.sched.Restarts() })
	rt.probes.RegisterProbe("reactors", func() any {
		out := make([]map[string]any, len(rt.loops))
		for i, l := range rt.loops {
			out[i] = map[string]any{
				"backend":       string(l.Backend().Kind()),
				"registrations": l.Backend().Registrations(),
				"events":        l.Events(),
			}
		}
		return out
	})
}

func (rt *Runtime) registrations() int {
	n := 0
	for _, b := range rt.backends {
		n += b.Registrations()
	}
	return n
}

// workerFault runs on the scheduler supervisor.
func (rt *Runtime) workerFault(f *api.WorkerFault) {
	rt.stats.RecordFault(f)
	if f.Exhausted {
		rt.degrade(f)
	}
}

// degrade moves Running to Degraded and reports err to the host.
func (rt *Runtime) degrade(err error) {
	if rt.state.CompareAndSwap(int32(StateRunning), int32(StateDegraded)) {
		rt.stats.SetHealth(api.HealthDegraded)
	}
	rt.log.WithError(err).Error("runtime degraded")
	if rt.onFailure != nil {
		rt.onFailure("", err)
	}
}

func (rt *Runtime) accepting() bool {
	s := rt.State()
	return s == StateRunning || s == StateDegraded
}

// Shutdown drains the Runtime: intake stops, in-flight Tasks get up to
// timeout to finish, the rest are cancelled, then workers and reactors
// are joined and backends closed. Only the first call does work; when the
// drain timed out it returns an error wrapping api.ErrDrainTimeout.
func (rt *Runtime) Shutdown(timeout time.Duration) error {
	rt.mu.Lock()
	defer rt.mu.Unlock()
	switch rt.State() {
	case StateStopped:
		return nil
	case StateCreated:
		rt.state.Store(int32(StateStopped))
		rt.stats.SetHealth(api.HealthStopped)
		return nil
	}
	rt.state.Store(int32(StateDraining))
	rt.log.WithField("timeout", timeout).Info("runtime draining")
	rt.sched.BeginDrain()

	deadline := time.Now().Add(timeout)
	drained := rt.waitIdle(deadline)

	rt.cancelWaits()
	stopBy := deadline
	if floor := time.Now().Add(stopGrace); stopBy.Before(floor) {
		stopBy = floor
	}
	ctx, cancel := context.WithDeadline(context.Background(), stopBy)
	cancelled := rt.sched.Stop(ctx)
	cancel()

	for _, l := range rt.loops {
		l.Stop()
	}
	rt.cancel()
	_ = rt.group.Wait()
	rt.closeBackends()

	rt.stats.SetHealth(api.HealthStopped)
	rt.state.Store(int32(StateStopped))
	rt.log.WithFields(logrus.Fields{"drained": drained, "cancelled": cancelled}).Info("runtime stopped")
	if !drained {
		return fmt.Errorf("%w: %d tasks cancelled", api.ErrDrainTimeout, cancelled)
	}
	return nil
}

// waitIdle polls until nothing is outstanding or the deadline passes.
func (rt *Runtime) waitIdle(deadline time.Time) bool {
	tick := time.NewTicker(rt.cfg.Performance.IdlePollInterval)
	defer tick.Stop()
	for {
		if rt.outstanding.Load() == 0 && rt.sched.Idle() {
			return true
		}
		if !time.Now().Before(deadline) {
			return false
		}
		<-tick.C
	}
}

func (rt *Runtime) closeBackends() {
	for _, b := range rt.backends {
		if err := b.Close(); err != nil {
			rt.log.WithError(err).WithField("backend", b.Kind()).Warn("backend close failed")
		}
	}
}

// dispatchInternal schedules reactor continuations. They are never
// rejected.
func (rt *Runtime) dispatchInternal(fn func()) {
	rt.sched.Dispatch(concurrency.NewJob(func(int) { fn() }, nil))
}

// InjectWorkerFault makes worker id exit as if it crashed once its current
// job returns. It is meant for fault drills and tests.
func (rt *Runtime) InjectWorkerFault(id int) bool {
	if !rt.accepting() {
		return false
	}
	return rt.sched.InjectFault(id)
}

// logRejected logs a backpressure rejection at a bounded rate.
func (rt *Runtime) logRejected(err error) {
	if _, ok := rt.rejects.Allow("backpressure"); ok {
		rt.log.WithError(err).Warn("submission rejected")
	}
}

var _ api.GracefulShutdown = (*Runtime)(nil)
