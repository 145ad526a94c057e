// Package benchmarks
// Author: momentics <momentics@gmail.com>
//
// Performance benchmarks for hioload-rt components.

package benchmarks

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/sirupsen/logrus/hooks/test"

	"github.com/momentics/hioload-rt/api"
	"github.com/momentics/hioload-rt/control"
	"github.com/momentics/hioload-rt/core/session"
	"github.com/momentics/hioload-rt/core/task"
	"github.com/momentics/hioload-rt/facade"
	"github.com/momentics/hioload-rt/internal/concurrency"
)

func quiet() *logrus.Logger {
	l, _ := test.NewNullLogger()
	return l
}

// BenchmarkLockFreeQueueThroughput tests the bounded MPMC queue under
// parallel producers and consumers.
func BenchmarkLockFreeQueueThroughput(b *testing.B) {
	q := concurrency.NewLockFreeQueue[int](1024)

	b.ResetTimer()
	b.RunParallel(func(pb *testing.PB) {
		i := 0
		for pb.Next() {
			if !q.Enqueue(i) {
				q.Dequeue()
				q.Enqueue(i)
			}
			i++
		}
	})
}

// BenchmarkTaskContinuation measures settle plus inline continuation.
func BenchmarkTaskContinuation(b *testing.B) {
	inline := task.DispatcherFunc(func(fn func()) { fn() })
	b.ReportAllocs()
	for i := 0; i < b.N; i++ {
		t := task.New[int](inline)
		next := task.Then(t, func(v int) (int, error) { return v + 1, nil })
		t.Complete(i)
		<-next.Done()
	}
}

func benchScheduler(b *testing.B, policy api.SchedulingPolicy) {
	s, err := concurrency.NewScheduler(concurrency.Config{
		Workers:          4,
		Policy:           policy,
		MaxQueueDepth:    4096,
		IdlePollInterval: time.Millisecond,
	}, concurrency.NilMetrics{}, logrus.NewEntry(quiet()))
	if err != nil {
		b.Fatal(err)
	}
	if err := s.Start(); err != nil {
		b.Fatal(err)
	}
	defer func() {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		s.Stop(ctx)
	}()

	var wg sync.WaitGroup
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		wg.Add(1)
		j := concurrency.NewJob(func(int) { wg.Done() }, func(error) { wg.Done() })
		for s.Submit(j) != nil {
			time.Sleep(time.Microsecond)
		}
	}
	wg.Wait()
}

// BenchmarkSchedulerSubmit compares the scheduling policies end to end.
func BenchmarkSchedulerSubmit(b *testing.B) {
	for _, p := range []api.SchedulingPolicy{api.PolicyRoundRobin, api.PolicyWorkStealing, api.PolicyPriority} {
		b.Run(string(p), func(b *testing.B) { benchScheduler(b, p) })
	}
}

// BenchmarkFacadeIntegration tests end-to-end Submit and Await through
// the runtime.
func BenchmarkFacadeIntegration(b *testing.B) {
	cfg := control.DefaultRuntimeConfig()
	cfg.WorkerCount = 4
	cfg.Performance.BatchSize = 16
	cfg.Performance.PollTimeout = 10 * time.Millisecond
	rt := facade.New(facade.WithLogger(quiet()))
	if err := rt.Start(cfg); err != nil {
		b.Fatal(err)
	}
	defer func() { _ = rt.Shutdown(time.Second) }()

	ctx := context.Background()
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		t, err := facade.Submit(rt, nil, func(*session.Context) (int, error) { return i, nil })
		if err != nil {
			b.Fatal(err)
		}
		if _, err := t.Await(ctx); err != nil {
			b.Fatal(err)
		}
	}
}
