// File: internal/concurrency/lock_free_queue.go
// Package concurrency provides a lock-free queue for the scheduler injector.
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Bounded multi-producer/multi-consumer ring (Vyukov). Every cell carries a
// sequence number; producers and consumers claim positions with CAS on
// padded head/tail counters. The ring is sized to a power of two, but
// admission is capped at the requested capacity.

package concurrency

import "sync/atomic"

type cell[T any] struct {
	seq atomic.Uint64
	val T
}

// LockFreeQueue is a bounded MPMC queue.
type LockFreeQueue[T any] struct {
	_     [64]byte
	tail  atomic.Uint64
	_     [56]byte
	head  atomic.Uint64
	_     [56]byte
	mask  uint64
	limit uint64
	cells []cell[T]
}

// NewLockFreeQueue creates a queue holding at most capacity items
// (minimum 1).
func NewLockFreeQueue[T any](capacity int) *LockFreeQueue[T] {
	capacity = max(capacity, 1)
	size := 2
	for size < capacity {
		size <<= 1
	}
	q := &LockFreeQueue[T]{mask: uint64(size - 1), limit: uint64(capacity), cells: make([]cell[T], size)}
	for i := range q.cells {
		q.cells[i].seq.Store(uint64(i))
	}
	return q
}

// Enqueue adds val; returns false if full.
func (q *LockFreeQueue[T]) Enqueue(val T) bool {
	pos := q.tail.Load()
	for {
		// head only grows, so occupancy at the CAS is at most pos-head.
		if int64(pos-q.head.Load()) >= int64(q.limit) {
			return false
		}
		c := &q.cells[pos&q.mask]
		seq := c.seq.Load()
		switch diff := int64(seq) - int64(pos); {
		case diff == 0:
			if q.tail.CompareAndSwap(pos, pos+1) {
				c.val = val
				c.seq.Store(pos + 1)
				return true
			}
			pos = q.tail.Load()
		case diff < 0:
			return false
		default:
			pos = q.tail.Load()
		}
	}
}

// Dequeue removes and returns an item; ok false if empty.
func (q *LockFreeQueue[T]) Dequeue() (item T, ok bool) {
	pos := q.head.Load()
	for {
		c := &q.cells[pos&q.mask]
		seq := c.seq.Load()
		switch diff := int64(seq) - int64(pos+1); {
		case diff == 0:
			if q.head.CompareAndSwap(pos, pos+1) {
				item = c.val
				var zero T
				c.val = zero
				c.seq.Store(pos + q.mask + 1)
				return item, true
			}
			pos = q.head.Load()
		case diff < 0:
			return item, false
		default:
			pos = q.head.Load()
		}
	}
}

// Len returns an approximate item count.
func (q *LockFreeQueue[T]) Len() int {
	n := int64(q.tail.Load()) - int64(q.head.Load())
	if n < 0 {
		return 0
	}
	return int(n)
}

// Cap returns the admission bound.
func (q *LockFreeQueue[T]) Cap() int { return int(q.limit) }
