package concurrency

import (
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/momentics/hioload-rt/api"
)

func TestLockFreeQueueBounds(t *testing.T) {
	q := NewLockFreeQueue[int](3)
	require.Equal(t, 3, q.Cap())
	for round := 0; round < 3; round++ {
		for i := 0; i < 3; i++ {
			require.True(t, q.Enqueue(i))
		}
		assert.False(t, q.Enqueue(99), "ring slack must not admit past the requested capacity")
		assert.Equal(t, 3, q.Len())
		for i := 0; i < 3; i++ {
			v, ok := q.Dequeue()
			require.True(t, ok)
			assert.Equal(t, i, v)
		}
		_, ok := q.Dequeue()
		assert.False(t, ok)
	}
}

func TestLockFreeQueueConcurrent(t *testing.T) {
	const producers, perProducer = 4, 5000
	q := NewLockFreeQueue[int](64)
	var sum, got atomic.Int64
	var wg sync.WaitGroup
	for p := 0; p < producers; p++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 1; i <= perProducer; i++ {
				for !q.Enqueue(i) {
					time.Sleep(time.Microsecond)
				}
			}
		}()
	}
	done := make(chan struct{})
	var cwg sync.WaitGroup
	for c := 0; c < 4; c++ {
		cwg.Add(1)
		go func() {
			defer cwg.Done()
			for {
				if v, ok := q.Dequeue(); ok {
					sum.Add(int64(v))
					got.Add(1)
					continue
				}
				select {
				case <-done:
					if q.Len() == 0 {
						return
					}
				default:
				}
			}
		}()
	}
	wg.Wait()
	close(done)
	cwg.Wait()
	assert.Equal(t, int64(producers*perProducer), got.Load())
	assert.Equal(t, int64(producers*perProducer*(perProducer+1)/2), sum.Load())
}

func job(p api.Priority) *Job {
	j := NewJob(func(int) {}, nil)
	j.Priority = p
	return j
}

func TestRunQueuePriorityBands(t *testing.T) {
	rq := newRunQueue(0, true)
	now := time.Now()
	low, normal, high := job(api.PriorityLow), job(api.PriorityNormal), job(api.PriorityHigh)
	rq.push(low, now, false)
	rq.push(normal, now, false)
	rq.push(high, now, false)

	assert.Same(t, high, rq.pop(now, 0))
	assert.Same(t, normal, rq.pop(now, 0))
	assert.Same(t, low, rq.pop(now, 0))
	assert.Nil(t, rq.pop(now, 0))
}

func TestRunQueueUnbandedIsFIFO(t *testing.T) {
	rq := newRunQueue(0, false)
	now := time.Now()
	low, high := job(api.PriorityLow), job(api.PriorityHigh)
	rq.push(low, now, false)
	rq.push(high, now, false)
	assert.Same(t, low, rq.pop(now, time.Millisecond))
}

func TestRunQueueAgingPromotes(t *testing.T) {
	rq := newRunQueue(0, true)
	start := time.Now()
	starved := job(api.PriorityLow)
	early := job(api.PriorityNormal)
	rq.push(starved, start, false)
	rq.push(early, start, false)

	later := start.Add(50 * time.Millisecond)
	assert.Same(t, early, rq.pop(later, 10*time.Millisecond))

	// The low job was promoted and now runs ahead of newer normal work.
	fresh := job(api.PriorityNormal)
	rq.push(fresh, later, false)
	assert.Same(t, starved, rq.pop(later, 10*time.Millisecond))
	assert.Same(t, fresh, rq.pop(later, 10*time.Millisecond))
}

func TestRunQueueWithoutAgingStarvesLow(t *testing.T) {
	rq := newRunQueue(0, true)
	start := time.Now()
	starved := job(api.PriorityLow)
	rq.push(starved, start, false)
	fresh := job(api.PriorityNormal)
	rq.push(fresh, start.Add(time.Second), false)
	assert.Same(t, fresh, rq.pop(start.Add(time.Second), 0))
}

func TestRunQueueCapacityAndForce(t *testing.T) {
	rq := newRunQueue(1, false)
	now := time.Now()
	assert.True(t, rq.push(job(api.PriorityNormal), now, false))
	assert.True(t, rq.full())
	assert.False(t, rq.push(job(api.PriorityNormal), now, false))
	assert.True(t, rq.push(job(api.PriorityNormal), now, true))
	assert.Equal(t, 2, rq.len())
}

func TestRunQueueStealHalf(t *testing.T) {
	rq := newRunQueue(0, false)
	now := time.Now()
	for i := 0; i < 10; i++ {
		rq.push(job(api.PriorityNormal), now, false)
	}
	assert.Len(t, rq.steal(0), 5)
	assert.Equal(t, 5, rq.len())
	assert.Len(t, rq.steal(2), 2)
	assert.Equal(t, 3, rq.len())
	assert.Len(t, rq.drain(), 3)
	assert.Nil(t, rq.steal(4))
}

func TestBackoffGrowsAndCaps(t *testing.T) {
	s := &Scheduler{cfg: Config{
		RestartBackoff:    10 * time.Millisecond,
		MaxRestartBackoff: 50 * time.Millisecond,
		BackoffMultiplier: 2,
	}}
	at := time.Now()
	var got []time.Duration
	for i := 0; i < 5; i++ {
		got = append(got, s.backoff(at))
		at = at.Add(time.Millisecond)
	}
	assert.Equal(t, []time.Duration{10, 20, 40, 50, 50}, scale(got, time.Millisecond))

	// A quiet period longer than the ceiling resets the sequence.
	assert.Equal(t, 10*time.Millisecond, s.backoff(at.Add(time.Second)))
}

func scale(ds []time.Duration, unit time.Duration) []time.Duration {
	out := make([]time.Duration, len(ds))
	for i, d := range ds {
		out[i] = d / unit
	}
	return out
}
