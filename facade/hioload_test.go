package facade_test

import (
	"context"
	"errors"
	"runtime"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/momentics/hioload-rt/api"
	"github.com/momentics/hioload-rt/control"
	"github.com/momentics/hioload-rt/core/session"
	"github.com/momentics/hioload-rt/core/task"
	"github.com/momentics/hioload-rt/facade"
)

func testConfig(workers int) control.RuntimeConfig {
	cfg := control.DefaultRuntimeConfig()
	cfg.WorkerCount = workers
	cfg.Performance.IdlePollInterval = time.Millisecond
	cfg.Performance.PollTimeout = 10 * time.Millisecond
	cfg.Recovery.RestartBackoff = time.Millisecond
	cfg.Recovery.MaxRestartBackoff = 10 * time.Millisecond
	return cfg
}

func startRuntime(t *testing.T, cfg control.RuntimeConfig, opts ...facade.Option) *facade.Runtime {
	t.Helper()
	logger, _ := test.NewNullLogger()
	rt := facade.New(append([]facade.Option{facade.WithLogger(logger)}, opts...)...)
	require.NoError(t, rt.Start(cfg))
	t.Cleanup(func() { _ = rt.Shutdown(time.Second) })
	return rt
}

// occupy blocks one worker until the returned release is called.
func occupy(t *testing.T, rt *facade.Runtime) (release func()) {
	t.Helper()
	started, gate := make(chan struct{}), make(chan struct{})
	_, err := facade.Submit(rt, nil, func(*session.Context) (int, error) {
		close(started)
		<-gate
		return 0, nil
	})
	require.NoError(t, err)
	<-started
	var once sync.Once
	release = func() { once.Do(func() { close(gate) }) }
	t.Cleanup(release)
	return release
}

func TestLifecycle(t *testing.T) {
	logger, _ := test.NewNullLogger()
	rt := facade.New(facade.WithLogger(logger))
	assert.Equal(t, facade.StateCreated, rt.State())

	_, err := facade.Submit(rt, nil, func(*session.Context) (int, error) { return 1, nil })
	assert.ErrorIs(t, err, api.ErrRuntimeClosed)

	require.NoError(t, rt.Start(testConfig(2)))
	assert.Equal(t, facade.StateRunning, rt.State())
	assert.True(t, rt.Healthy())
	assert.Equal(t, 2, rt.Config().WorkerCount)

	tk, err := facade.Submit(rt, nil, func(*session.Context) (string, error) { return "ok", nil })
	require.NoError(t, err)
	v, err := tk.Await(t.Context())
	require.NoError(t, err)
	assert.Equal(t, "ok", v)

	require.NoError(t, rt.Shutdown(time.Second))
	assert.Equal(t, facade.StateStopped, rt.State())
	assert.Equal(t, api.HealthStopped, rt.Stats().Health)
	require.NoError(t, rt.Shutdown(time.Second), "second shutdown is a no-op")

	_, err = facade.Submit(rt, nil, func(*session.Context) (int, error) { return 1, nil })
	assert.ErrorIs(t, err, api.ErrRuntimeClosed)
	assert.ErrorIs(t, rt.Start(testConfig(1)), api.ErrRuntimeClosed)
}

func TestStartRejectsInvalidConfig(t *testing.T) {
	rt := facade.New()
	cfg := testConfig(1)
	cfg.SchedulingPolicy = "fifo"
	err := rt.Start(cfg)
	require.ErrorIs(t, err, api.ErrConfig)
	var ce *api.ConfigError
	require.ErrorAs(t, err, &ce)
	assert.Equal(t, "scheduling_policy", ce.Field)
	assert.Equal(t, facade.StateStopped, rt.State())
}

func TestStartUnavailableBackendIsSetupError(t *testing.T) {
	if runtime.GOOS != "linux" {
		t.Skip("kqueue is available here")
	}
	rt := facade.New()
	cfg := testConfig(1)
	cfg.BackendKind = api.BackendKqueue
	err := rt.Start(cfg)
	require.ErrorIs(t, err, api.ErrBackendSetup)
	var se *api.BackendSetupError
	require.ErrorAs(t, err, &se)
	assert.Equal(t, facade.StateStopped, rt.State())
}

func TestSuspendedTasksDoNotHoldWorkers(t *testing.T) {
	rt := startRuntime(t, testConfig(2))

	begin := time.Now()
	tasks := make([]*task.Task[int], 100)
	for i := range tasks {
		var err error
		tasks[i], err = facade.SubmitAsync(rt, nil, func(c *session.Context) *task.Task[int] {
			return task.Then(task.After(rt.Dispatcher(c), time.Millisecond), func(struct{}) (int, error) {
				return i, nil
			})
		})
		require.NoError(t, err)
	}
	all, err := task.All(task.Inline, tasks...).Await(t.Context())
	require.NoError(t, err)
	assert.Less(t, time.Since(begin), 100*time.Millisecond)
	for i, v := range all {
		assert.Equal(t, i, v)
	}
	assert.EqualValues(t, 100, rt.Stats().TotalCompleted)
}

func TestBlockingTasksRunInParallel(t *testing.T) {
	cfg := testConfig(2)
	cfg.SchedulingPolicy = api.PolicyWorkStealing
	rt := startRuntime(t, cfg)

	var running, peak atomic.Int32
	var workers sync.Map
	begin := time.Now()
	tasks := make([]*task.Task[int], 100)
	for i := range tasks {
		var err error
		tasks[i], err = facade.Submit(rt, nil, func(c *session.Context) (int, error) {
			n := running.Add(1)
			for p := peak.Load(); n > p && !peak.CompareAndSwap(p, n); p = peak.Load() {
			}
			workers.Store(c.PreferredWorker(), true)
			time.Sleep(time.Millisecond)
			running.Add(-1)
			return i, nil
		})
		require.NoError(t, err)
	}
	all, err := task.All(task.Inline, tasks...).Await(t.Context())
	elapsed := time.Since(begin)
	require.NoError(t, err)

	seen := make(map[int]bool, len(all))
	for i, v := range all {
		assert.Equal(t, i, v)
		assert.False(t, seen[v], "duplicate result %d", v)
		seen[v] = true
	}
	assert.Len(t, seen, 100)
	assert.EqualValues(t, 2, peak.Load(), "both workers must run tasks at once")
	nworkers := 0
	workers.Range(func(any, any) bool { nworkers++; return true })
	assert.Equal(t, 2, nworkers)
	// 100 sequential 1ms sleeps take at least 100ms.
	assert.Less(t, elapsed, 100*time.Millisecond)
}

func TestBackpressureIsSynchronous(t *testing.T) {
	cfg := testConfig(1)
	cfg.Performance.MaxQueueDepth = 4
	rt := startRuntime(t, cfg)
	release := occupy(t, rt)

	var ran atomic.Int64
	accepted, rejected := 0, 0
	for i := 0; i < 64; i++ {
		_, err := facade.Submit(rt, nil, func(*session.Context) (int, error) {
			ran.Add(1)
			return 0, nil
		})
		if err != nil {
			require.ErrorIs(t, err, api.ErrBackpressure)
			var bp *api.BackpressureError
			require.ErrorAs(t, err, &bp)
			rejected++
			continue
		}
		accepted++
	}
	require.Positive(t, rejected)
	assert.EqualValues(t, rejected, rt.Stats().TotalRejected)

	release()
	require.Eventually(t, func() bool { return ran.Load() == int64(accepted) }, time.Second, time.Millisecond)
	time.Sleep(10 * time.Millisecond)
	assert.EqualValues(t, accepted, ran.Load(), "rejected work never runs")
}

func TestFailureHandlerAndStats(t *testing.T) {
	type failure struct {
		trace string
		err   error
	}
	failures := make(chan failure, 4)
	rt := startRuntime(t, testConfig(2), facade.WithFailureHandler(func(trace string, err error) {
		failures <- failure{trace, err}
	}))

	ctx := rt.NewContext()
	boom := errors.New("boom")
	tk, err := facade.Submit(rt, ctx, func(*session.Context) (int, error) { return 0, boom })
	require.NoError(t, err)
	_, err = tk.Await(t.Context())
	require.ErrorIs(t, err, boom)

	f := <-failures
	assert.Equal(t, ctx.TraceID(), f.trace)
	assert.ErrorIs(t, f.err, boom)

	tk, err = facade.Submit(rt, nil, func(*session.Context) (int, error) { panic("kaboom") })
	require.NoError(t, err)
	_, err = tk.Await(t.Context())
	require.ErrorIs(t, err, api.ErrTaskFailure)
	<-failures

	require.Eventually(t, func() bool { return rt.Stats().TotalFailed == 2 }, time.Second, time.Millisecond)
}

func TestCancelBeforeRun(t *testing.T) {
	rt := startRuntime(t, testConfig(1))
	release := occupy(t, rt)

	var ran atomic.Bool
	tk, err := facade.Submit(rt, nil, func(*session.Context) (int, error) {
		ran.Store(true)
		return 1, nil
	})
	require.NoError(t, err)
	assert.True(t, tk.Cancel())
	release()

	_, err = tk.Await(t.Context())
	require.ErrorIs(t, err, api.ErrCancelled)
	require.Eventually(t, func() bool { return rt.Stats().TotalCancelled == 1 }, time.Second, time.Millisecond)
	assert.False(t, ran.Load())
}

func TestContextTravelsWithTask(t *testing.T) {
	rt := startRuntime(t, testConfig(2))

	ctx := rt.NewContext()
	ctx.Set("user_id", 42)
	moved := ctx.Move()
	assert.False(t, ctx.Valid())

	tk, err := facade.Submit(rt, moved, func(c *session.Context) (int, error) {
		v, _ := session.Value[int](c, "user_id")
		return v, nil
	})
	require.NoError(t, err)
	v, err := tk.Await(t.Context())
	require.NoError(t, err)
	assert.Equal(t, 42, v)
	assert.GreaterOrEqual(t, moved.PreferredWorker(), 0)
	assert.Less(t, moved.PreferredWorker(), 2)
}

func TestWorkerFaultRecovers(t *testing.T) {
	cfg := testConfig(1)
	rt := startRuntime(t, cfg)
	release := occupy(t, rt)

	const n = 20
	tasks := make([]*task.Task[int], n)
	for i := range tasks {
		var err error
		tasks[i], err = facade.Submit(rt, nil, func(*session.Context) (int, error) { return i, nil })
		require.NoError(t, err)
	}
	require.True(t, rt.InjectWorkerFault(0))
	release()

	for i, tk := range tasks {
		v, err := tk.Await(t.Context())
		require.NoError(t, err)
		assert.Equal(t, i, v)
	}
	require.Eventually(t, func() bool { return rt.Stats().WorkerRestarts == 1 }, time.Second, time.Millisecond)
	snap := rt.Stats()
	assert.EqualValues(t, 1, snap.WorkerFaults)
	assert.Equal(t, api.HealthOK, snap.Health)
	assert.True(t, rt.Healthy())
}

// spendRestartBudget faults worker id once and waits for its replacement,
// leaving a budget of one exhausted.
func spendRestartBudget(t *testing.T, rt *facade.Runtime, id int) {
	t.Helper()
	require.True(t, rt.InjectWorkerFault(id))
	require.Eventually(t, func() bool { return rt.Stats().WorkerRestarts == 1 }, time.Second, time.Millisecond)
}

func TestRestartExhaustionDegrades(t *testing.T) {
	cfg := testConfig(2)
	cfg.Recovery.MaxWorkerRestarts = 1
	faults := make(chan error, 4)
	rt := startRuntime(t, cfg, facade.WithFailureHandler(func(trace string, err error) {
		if trace == "" {
			faults <- err
		}
	}))

	spendRestartBudget(t, rt, 0)
	require.Eventually(t, func() bool { return rt.InjectWorkerFault(0) }, time.Second, time.Millisecond)
	var wf *api.WorkerFault
	for wf == nil || !wf.Exhausted {
		select {
		case err := <-faults:
			require.ErrorAs(t, err, &wf)
		case <-time.After(time.Second):
			t.Fatal("no exhausted fault reported")
		}
	}

	require.Eventually(t, func() bool { return rt.State() == facade.StateDegraded }, time.Second, time.Millisecond)
	assert.False(t, rt.Healthy())
	assert.Equal(t, api.HealthDegraded, rt.Stats().Health)

	tk, err := facade.Submit(rt, nil, func(*session.Context) (int, error) { return 7, nil })
	require.NoError(t, err, "a degraded runtime still accepts work")
	v, err := tk.Await(t.Context())
	require.NoError(t, err)
	assert.Equal(t, 7, v)
}

func TestLosingLastWorkerFailsWork(t *testing.T) {
	cfg := testConfig(1)
	cfg.Recovery.MaxWorkerRestarts = 1
	rt := startRuntime(t, cfg)
	spendRestartBudget(t, rt, 0)

	release := occupy(t, rt)
	queued := make([]*task.Task[int], 3)
	for i := range queued {
		var err error
		queued[i], err = facade.Submit(rt, nil, func(*session.Context) (int, error) { return i, nil })
		require.NoError(t, err)
	}
	require.True(t, rt.InjectWorkerFault(0))
	release()

	for _, tk := range queued {
		ctx, cancel := context.WithTimeout(t.Context(), time.Second)
		_, err := tk.Await(ctx)
		cancel()
		require.ErrorIs(t, err, api.ErrWorkerFault)
		var wf *api.WorkerFault
		require.ErrorAs(t, err, &wf)
		assert.True(t, wf.Exhausted)
	}
	require.Eventually(t, func() bool { return rt.State() == facade.StateDegraded }, time.Second, time.Millisecond)

	_, err := facade.Submit(rt, nil, func(*session.Context) (int, error) { return 0, nil })
	assert.ErrorIs(t, err, api.ErrWorkerFault)
	require.Eventually(t, func() bool { return rt.Stats().TotalFailed == 3 }, time.Second, time.Millisecond)
}

func TestShutdownDrainTimeout(t *testing.T) {
	logger, _ := test.NewNullLogger()
	rt := facade.New(facade.WithLogger(logger))
	require.NoError(t, rt.Start(testConfig(1)))
	release := occupy(t, rt)
	defer release()

	queued, err := facade.Submit(rt, nil, func(*session.Context) (int, error) { return 1, nil })
	require.NoError(t, err)

	err = rt.Shutdown(20 * time.Millisecond)
	require.ErrorIs(t, err, api.ErrDrainTimeout)
	assert.Equal(t, facade.StateStopped, rt.State())

	_, err = queued.Await(t.Context())
	assert.ErrorIs(t, err, api.ErrCancelled)
	require.NoError(t, rt.Shutdown(time.Second))
}

func TestShutdownWaitsForInFlight(t *testing.T) {
	logger, _ := test.NewNullLogger()
	rt := facade.New(facade.WithLogger(logger))
	require.NoError(t, rt.Start(testConfig(2)))

	var done atomic.Int64
	for i := 0; i < 10; i++ {
		_, err := facade.Submit(rt, nil, func(*session.Context) (int, error) {
			time.Sleep(5 * time.Millisecond)
			done.Add(1)
			return 0, nil
		})
		require.NoError(t, err)
	}
	require.NoError(t, rt.Shutdown(5*time.Second))
	assert.EqualValues(t, 10, done.Load())
}

func TestDumpState(t *testing.T) {
	rt := startRuntime(t, testConfig(2))
	state := rt.DumpState()
	assert.Equal(t, "running", state["runtime.state"])
	assert.Contains(t, state, "scheduler.workers")
	assert.Contains(t, state, "reactors")
	assert.Contains(t, state, "platform.cpus")

	families, err := rt.Registry().Gather()
	require.NoError(t, err)
	assert.NotEmpty(t, families)
}
