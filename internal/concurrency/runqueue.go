// File: internal/concurrency/runqueue.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Per-worker run queue: one FIFO band per priority under a single mutex.
// Owner pops, thieves steal from the same end; contention is limited to
// the owner and at most one thief at a time.

package concurrency

import (
	"sync"
	"time"

	"github.com/eapache/queue"

	"github.com/momentics/hioload-rt/api"
)

const (
	bandHigh = iota
	bandNormal
	bandLow
	numBands
)

func bandOf(p api.Priority) int {
	switch p {
	case api.PriorityHigh:
		return bandHigh
	case api.PriorityLow:
		return bandLow
	default:
		return bandNormal
	}
}

type runQueue struct {
	mu       sync.Mutex
	bands    [numBands]*queue.Queue
	n        int
	capacity int
	banded   bool
}

// newRunQueue creates a queue that holds at most capacity externally
// submitted jobs. Only a banded queue orders by priority.
func newRunQueue(capacity int, banded bool) *runQueue {
	rq := &runQueue{capacity: capacity, banded: banded}
	for i := range rq.bands {
		rq.bands[i] = queue.New()
	}
	return rq
}

// push appends j. With force the capacity bound is ignored.
func (rq *runQueue) push(j *Job, now time.Time, force bool) bool {
	rq.mu.Lock()
	defer rq.mu.Unlock()
	if !force && rq.capacity > 0 && rq.n >= rq.capacity {
		return false
	}
	rq.add(j, now)
	return true
}

func (rq *runQueue) add(j *Job, now time.Time) {
	j.band = bandNormal
	if rq.banded {
		j.band = bandOf(j.Priority)
	}
	if j.enqueued.IsZero() {
		j.enqueued = now
	}
	rq.bands[j.band].Add(j)
	rq.n++
}

// pushAll appends jobs regardless of capacity.
func (rq *runQueue) pushAll(jobs []*Job, now time.Time) {
	rq.mu.Lock()
	defer rq.mu.Unlock()
	for _, j := range jobs {
		rq.add(j, now)
	}
}

// pop returns the head of the highest non-empty band. Jobs that waited
// longer than aging in a lower band are promoted one band first.
func (rq *runQueue) pop(now time.Time, aging time.Duration) *Job {
	rq.mu.Lock()
	defer rq.mu.Unlock()
	if rq.n == 0 {
		return nil
	}
	if rq.banded && aging > 0 {
		rq.promote(now, aging)
	}
	for _, b := range rq.bands {
		if b.Length() > 0 {
			rq.n--
			return b.Remove().(*Job)
		}
	}
	return nil
}

func (rq *runQueue) promote(now time.Time, aging time.Duration) {
	for band := bandNormal; band < numBands; band++ {
		src, dst := rq.bands[band], rq.bands[band-1]
		for src.Length() > 0 {
			j := src.Peek().(*Job)
			if now.Sub(j.enqueued) < aging {
				break
			}
			src.Remove()
			j.band = band - 1
			j.enqueued = now
			dst.Add(j)
		}
	}
}

// steal removes up to half of the queue, at most limit jobs, highest band
// first.
func (rq *runQueue) steal(limit int) []*Job {
	rq.mu.Lock()
	defer rq.mu.Unlock()
	want := (rq.n + 1) / 2
	if limit > 0 && want > limit {
		want = limit
	}
	if want == 0 {
		return nil
	}
	out := make([]*Job, 0, want)
	for _, b := range rq.bands {
		for b.Length() > 0 && len(out) < want {
			out = append(out, b.Remove().(*Job))
		}
	}
	rq.n -= len(out)
	return out
}

// drain removes everything.
func (rq *runQueue) drain() []*Job {
	rq.mu.Lock()
	defer rq.mu.Unlock()
	out := make([]*Job, 0, rq.n)
	for _, b := range rq.bands {
		for b.Length() > 0 {
			out = append(out, b.Remove().(*Job))
		}
	}
	rq.n = 0
	return out
}

func (rq *runQueue) len() int {
	rq.mu.Lock()
	defer rq.mu.Unlock()
	return rq.n
}

func (rq *runQueue) full() bool {
	rq.mu.Lock()
	defer rq.mu.Unlock()
	return rq.capacity > 0 && rq.n >= rq.capacity
}

// fifo is an unbounded mutex-guarded queue.
type fifo struct {
	mu sync.Mutex
	q  *queue.Queue
}

func newFIFO() *fifo { return &fifo{q: queue.New()} }

func (f *fifo) push(jobs ...*Job) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, j := range jobs {
		f.q.Add(j)
	}
}

func (f *fifo) pop() *Job {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.q.Length() == 0 {
		return nil
	}
	return f.q.Remove().(*Job)
}

func (f *fifo) len() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.q.Length()
}

func (f *fifo) drain() []*Job {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]*Job, 0, f.q.Length())
	for f.q.Length() > 0 {
		out = append(out, f.q.Remove().(*Job))
	}
	return out
}
