// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// NUMA-aware executor backed by a CAS-based MPMC lockFreeQueue for task
// dispatch; spawnLocked/Resize bookkeeping is the only part guarded by mu.

package concurrency

import (
	"runtime"
	"sync"

	"github.com/ratnadeepb/vdataplane/api"
)

var _ api.Executor = (*Executor)(nil)

const executorQueueCapacity = 4096

type Executor struct {
	mu       sync.Mutex
	q        *lockFreeQueue[func()]
	numaNode int
	workers  []worker
	stop     chan struct{}
}

type worker struct {
	stop chan struct{}
}

// NewExecutor starts numWorkers goroutines pulling tasks off a shared queue.
// numaNode is advisory bookkeeping; pinning the worker goroutines themselves
// is the caller's responsibility via affinity.ThreadPin.
func NewExecutor(numWorkers, numaNode int) *Executor {
	e := &Executor{
		q:        NewLockFreeQueue[func()](executorQueueCapacity),
		numaNode: numaNode,
		stop:     make(chan struct{}),
	}
	for i := 0; i < numWorkers; i++ {
		e.spawnLocked()
	}
	return e
}

func (e *Executor) spawnLocked() {
	w := worker{stop: make(chan struct{})}
	e.workers = append(e.workers, w)
	go e.run(w)
}

func (e *Executor) run(w worker) {
	for {
		select {
		case <-w.stop:
			return
		case <-e.stop:
			return
		default:
			if task, ok := e.q.Dequeue(); ok {
				task()
			} else {
				runtime.Gosched()
			}
		}
	}
}

// Submit schedules task for execution. Satisfies api.Executor.
func (e *Executor) Submit(task func()) error {
	select {
	case <-e.stop:
		return ErrExecutorClosed
	default:
	}
	if !e.q.Enqueue(task) {
		return ErrQueueFull
	}
	return nil
}

// NumWorkers returns current number of active worker routines.
func (e *Executor) NumWorkers() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.workers)
}

// Resize adjusts worker concurrency. Growing spawns new workers; shrinking
// stops the most recently spawned ones.
func (e *Executor) Resize(newCount int) {
	e.mu.Lock()
	defer e.mu.Unlock()
	cur := len(e.workers)
	if newCount > cur {
		for i := 0; i < newCount-cur; i++ {
			e.spawnLocked()
		}
		return
	}
	for i := cur; i > newCount; i-- {
		w := e.workers[len(e.workers)-1]
		e.workers = e.workers[:len(e.workers)-1]
		close(w.stop)
	}
}

func (e *Executor) Close() {
	close(e.stop)
}
