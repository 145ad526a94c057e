package adapters_test

import (
	"bytes"
	"errors"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/momentics/hioload-rt/adapters"
	"github.com/momentics/hioload-rt/affinity"
	"github.com/momentics/hioload-rt/api"
	"github.com/momentics/hioload-rt/control"
	"github.com/momentics/hioload-rt/core/session"
	"github.com/momentics/hioload-rt/facade"
)

func startRuntime(t *testing.T) *facade.Runtime {
	t.Helper()
	logger, _ := test.NewNullLogger()
	rt := facade.New(facade.WithLogger(logger))
	cfg := control.DefaultRuntimeConfig()
	cfg.WorkerCount = 2
	cfg.Performance.IdlePollInterval = time.Millisecond
	require.NoError(t, rt.Start(cfg))
	t.Cleanup(func() { _ = rt.Shutdown(time.Second) })
	return rt
}

func TestControlAdapter(t *testing.T) {
	rt := startRuntime(t)
	ctrl := adapters.NewControlAdapter(rt)

	assert.Equal(t, 2, ctrl.GetConfig()["worker_count"])
	assert.Equal(t, api.HealthOK, ctrl.Health())

	ctrl.RegisterDebugProbe("custom", func() any { return "here" })
	stats := ctrl.Stats()
	assert.Equal(t, "here", stats["debug.custom"])
	assert.Contains(t, stats, "total_submitted")
	assert.Contains(t, stats, "per_worker_queue_depth")
}

func TestExecutorAdapter(t *testing.T) {
	rt := startRuntime(t)
	exec := adapters.NewExecutorAdapter(rt)
	assert.Equal(t, 2, exec.NumWorkers())

	done := make(chan struct{})
	require.NoError(t, exec.Submit(func() { close(done) }))
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("task did not run")
	}

	require.NoError(t, rt.Shutdown(time.Second))
	assert.ErrorIs(t, exec.Submit(func() {}), api.ErrRuntimeClosed)
}

func TestContextAdapter(t *testing.T) {
	rt := startRuntime(t)
	ctx := adapters.NewContextAdapter(rt).NewContext()
	ctx.Set("k", "v")
	v, ok := ctx.Get("k")
	assert.True(t, ok)
	assert.Equal(t, "v", v)
	assert.Len(t, ctx.TraceID(), 26)
}

func TestServeWithMiddleware(t *testing.T) {
	rt := startRuntime(t)
	var order []string
	tag := func(name string) adapters.Middleware {
		return func(next api.Handler) api.Handler {
			return adapters.HandlerFunc(func(ctx api.Context, data any) (any, error) {
				order = append(order, name)
				return next.Handle(ctx, data)
			})
		}
	}
	h := adapters.NewMiddlewareHandler(adapters.HandlerFunc(func(ctx api.Context, data any) (any, error) {
		order = append(order, "handler")
		return data.(int) * 2, nil
	})).Use(tag("outer")).Use(tag("inner"))

	tk, err := adapters.Serve(rt, nil, h, 21)
	require.NoError(t, err)
	v, err := tk.Await(t.Context())
	require.NoError(t, err)
	assert.Equal(t, 42, v)
	assert.Equal(t, []string{"outer", "inner", "handler"}, order)
}

func TestRecoveryMiddleware(t *testing.T) {
	rt := startRuntime(t)
	ctx := rt.NewContext()
	h := adapters.NewMiddlewareHandler(adapters.HandlerFunc(func(api.Context, any) (any, error) {
		panic("bad input")
	})).Use(adapters.RecoveryMiddleware)

	tk, err := adapters.Serve(rt, ctx, h, nil)
	require.NoError(t, err)
	_, err = tk.Await(t.Context())
	var tf *api.TaskFailure
	require.True(t, errors.As(err, &tf))
	assert.Equal(t, ctx.TraceID(), tf.TraceID)
	assert.Equal(t, "bad input", tf.Panic)
}

func TestLoggingMiddlewareUsesContextLogger(t *testing.T) {
	var buf bytes.Buffer
	logger := control.NewLogger(&buf, "debug", true)
	ctx := session.New(session.WithLogger(logger))

	h := adapters.LoggingMiddleware(nil)(adapters.HandlerFunc(func(api.Context, any) (any, error) {
		return nil, errors.New("nope")
	}))
	_, err := h.Handle(ctx, "payload")
	require.Error(t, err)
	assert.Contains(t, buf.String(), ctx.TraceID())
	assert.Contains(t, buf.String(), "handler failed")
	assert.Equal(t, logrus.DebugLevel, logger.GetLevel())
}

func TestAffinityAdapterValidation(t *testing.T) {
	a := adapters.NewAffinityAdapterFor(affinity.Topology{Nodes: []affinity.Node{{ID: 0, CPUs: []int{0}}}})
	assert.ErrorIs(t, a.Pin(-1, -1), api.ErrInvalidArgument)
	assert.ErrorIs(t, a.Pin(-1, 3), api.ErrInvalidArgument)
	assert.False(t, a.Descriptor().Pinned)
}
