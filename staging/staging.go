// File: staging/staging.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Queue is an unbounded, mutex-guarded MPMC staging queue backed by
// eapache/queue, typed over *mbuf.Mbuf. It is accessed concurrently from
// both the RX and TX loops and so wraps every operation in a mutex.

package staging

import (
	"sync"

	"github.com/eapache/queue"

	"github.com/ratnadeepb/vdataplane/mbuf"
)

// Queue is one of the engine's three staging queues: OUT_PKTS,
// TO_PACKETISER, FROM_PACKETISER.
type Queue struct {
	mu sync.Mutex
	q  *queue.Queue
}

// New returns an empty queue.
func New() *Queue {
	return &Queue{q: queue.New()}
}

// Push enqueues a buffer.
func (s *Queue) Push(m *mbuf.Mbuf) {
	s.mu.Lock()
	s.q.Add(m)
	s.mu.Unlock()
}

// Pop dequeues a buffer, ok=false if the queue is empty.
func (s *Queue) Pop() (*mbuf.Mbuf, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.q.Length() == 0 {
		return nil, false
	}
	item := s.q.Remove()
	m, ok := item.(*mbuf.Mbuf)
	return m, ok
}

// PopBurst dequeues up to n buffers, best effort.
func (s *Queue) PopBurst(n int) []*mbuf.Mbuf {
	s.mu.Lock()
	defer s.mu.Unlock()
	avail := s.q.Length()
	if avail > n {
		avail = n
	}
	out := make([]*mbuf.Mbuf, 0, avail)
	for i := 0; i < avail; i++ {
		item := s.q.Remove()
		if m, ok := item.(*mbuf.Mbuf); ok {
			out = append(out, m)
		}
	}
	return out
}

// Len returns the current queue depth.
func (s *Queue) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.q.Length()
}
