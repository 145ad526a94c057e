package session_test

import (
	"bytes"
	"runtime"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/momentics/hioload-rt/api"
	"github.com/momentics/hioload-rt/core/session"
)

func TestValueSurvivesMove(t *testing.T) {
	ctx := session.New()
	ctx.Set("user_id", 42)

	moved := ctx.Move()
	v, ok := session.Value[int](moved, "user_id")
	require.True(t, ok)
	assert.Equal(t, 42, v)

	_, ok = session.Value[string](moved, "user_id")
	assert.False(t, ok, "wrong type must not match")
}

func TestMovedFromHandlePanics(t *testing.T) {
	ctx := session.New()
	trace := ctx.TraceID()
	moved := ctx.Move()

	assert.False(t, ctx.Valid())
	assert.True(t, moved.Valid())
	assert.Equal(t, trace, moved.TraceID())
	assert.PanicsWithValue(t, session.ErrMoved, func() { ctx.Get("x") })
	assert.PanicsWithValue(t, session.ErrMoved, func() { ctx.Move() })
}

func TestTraceIDAssignedOnce(t *testing.T) {
	a, b := session.New(), session.New()
	assert.Len(t, a.TraceID(), 26)
	assert.NotEqual(t, a.TraceID(), b.TraceID())
	assert.Equal(t, "fixed", session.New(session.WithTraceID("fixed")).TraceID())
}

func TestKeysAndDelete(t *testing.T) {
	ctx := session.New()
	ctx.Set("b", 2)
	ctx.Set("a", 1)
	assert.Equal(t, []string{"a", "b"}, ctx.Keys())

	ctx.Delete("a")
	_, ok := ctx.Get("a")
	assert.False(t, ok)
	assert.Equal(t, []string{"b"}, ctx.Keys())
}

func TestExpire(t *testing.T) {
	ctx := session.New()
	ctx.Set("a", 1)
	require.True(t, ctx.Expire("a", time.Millisecond))
	assert.False(t, ctx.Expire("missing", time.Millisecond))
	time.Sleep(5 * time.Millisecond)
	_, ok := ctx.Get("a")
	assert.False(t, ok)
	assert.Empty(t, ctx.Keys())
}

func TestForkCopiesPropagatedOnly(t *testing.T) {
	ctx := session.New(session.WithPriority(api.PriorityHigh), session.WithIngressNode(1))
	ctx.Set("local", 1)
	ctx.SetPropagated("tenant", "acme")
	ctx.SetPreferredWorker(3)

	child := ctx.Fork()
	assert.Equal(t, ctx.TraceID(), child.TraceID())
	assert.Equal(t, api.PriorityHigh, child.Priority())
	assert.Equal(t, 1, child.IngressNode())
	assert.Equal(t, 3, child.PreferredWorker())

	_, ok := child.Get("local")
	assert.False(t, ok)
	v, ok := session.Value[string](child, "tenant")
	require.True(t, ok)
	assert.Equal(t, "acme", v)

	child.Set("tenant", "other")
	v, _ = session.Value[string](ctx, "tenant")
	assert.Equal(t, "acme", v)
}

func TestHints(t *testing.T) {
	ctx := session.New()
	assert.Equal(t, session.NoWorker, ctx.PreferredWorker())
	assert.Equal(t, -1, ctx.IngressNode())
	assert.Equal(t, api.PriorityNormal, ctx.Priority())

	ctx = session.New(session.WithPreferredWorker(2))
	assert.Equal(t, 2, ctx.PreferredWorker())
}

func TestLoggerCarriesTraceID(t *testing.T) {
	var buf bytes.Buffer
	l := logrus.New()
	l.SetOutput(&buf)
	l.SetFormatter(&logrus.JSONFormatter{})

	ctx := session.New(session.WithLogger(l))
	ctx.Logger().Info("hello")
	assert.Contains(t, buf.String(), ctx.TraceID())
	runtime.KeepAlive(l)
}

func TestLoggerWithoutSinkDiscards(t *testing.T) {
	ctx := session.New()
	assert.NotPanics(t, func() { ctx.Logger().Error("dropped") })
}
