// File: internal/concurrency/lock_free_queue.go
// Package concurrency provides a lock-free queue for executors.
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Bounded MPMC ring buffer with a per-slot sequence counter (Vyukov-style):
// a producer that wins the CAS on tail still has to publish the slot's
// sequence number before a consumer is allowed to read it, and a consumer
// that wins the CAS on head waits on that same sequence rather than reading
// the slot the instant head advances. Executor.run wires several consumer
// goroutines onto one queue, so a plain CAS-reserve-then-write/read pair
// (correct for SPSC, not for MPMC) lets a consumer observe a slot the
// producer reserved but has not finished writing.

package concurrency

import "sync/atomic"

type queueSlot[T any] struct {
	sequence atomic.Uint64
	value    T
}

// lockFreeQueue is a bounded ring buffer safe for any number of concurrent
// producers and consumers.
type lockFreeQueue[T any] struct {
	mask  uint64
	slots []queueSlot[T]
	head  atomic.Uint64
	tail  atomic.Uint64
}

// NewLockFreeQueue creates a new queue with capacity rounded to power of two.
func NewLockFreeQueue[T any](capacity int) *lockFreeQueue[T] {
	size := 1
	for size < capacity {
		size <<= 1
	}
	q := &lockFreeQueue[T]{mask: uint64(size - 1), slots: make([]queueSlot[T], size)}
	for i := range q.slots {
		q.slots[i].sequence.Store(uint64(i))
	}
	return q
}

// Enqueue adds val; returns false if full.
func (q *lockFreeQueue[T]) Enqueue(val T) bool {
	for {
		tail := q.tail.Load()
		slot := &q.slots[tail&q.mask]
		seq := slot.sequence.Load()
		switch diff := int64(seq) - int64(tail); {
		case diff == 0:
			if q.tail.CompareAndSwap(tail, tail+1) {
				slot.value = val
				slot.sequence.Store(tail + 1)
				return true
			}
		case diff < 0:
			return false // queue is full
		default:
			// another producer already claimed this tail; retry with a fresh load
		}
	}
}

// Dequeue removes and returns an item; ok false if empty.
func (q *lockFreeQueue[T]) Dequeue() (item T, ok bool) {
	for {
		head := q.head.Load()
		slot := &q.slots[head&q.mask]
		seq := slot.sequence.Load()
		switch diff := int64(seq) - int64(head+1); {
		case diff == 0:
			if q.head.CompareAndSwap(head, head+1) {
				item = slot.value
				slot.sequence.Store(head + q.mask + 1)
				return item, true
			}
		case diff < 0:
			return item, false // queue is empty
		default:
			// another consumer already claimed this head; retry with a fresh load
		}
	}
}
