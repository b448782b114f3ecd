// File: channel/registry.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Registry (the RingClientMap) is an engine-process-local index over
// Channels, sharded to reduce lock contention between the RX loop (which
// looks up a channel per staged descriptor) and control-plane goroutines
// adding/removing NF clients. Grounded on control.ConfigStore's
// RWMutex-guarded map style, generalized to 16 shards.

package channel

import (
	"sync"
)

const shardCount = 16

type shard struct {
	mu sync.RWMutex
	m  map[uint16]*Channel
}

// Registry indexes live Channels by client id. It never owns shared-memory
// lifetime decisions beyond process-local bookkeeping: Insert/Remove only
// track which ids this engine process currently knows about.
type Registry struct {
	shards [shardCount]*shard
}

// NewRegistry constructs an empty registry.
func NewRegistry() *Registry {
	r := &Registry{}
	for i := range r.shards {
		r.shards[i] = &shard{m: make(map[uint16]*Channel)}
	}
	return r
}

func (r *Registry) shardFor(id uint16) *shard {
	return r.shards[id%shardCount]
}

// Insert adds ch under its ID, idempotently: re-inserting an id that is
// already present keeps the existing entry and ignores ch, without error.
func (r *Registry) Insert(ch *Channel) {
	s := r.shardFor(ch.ID)
	s.mu.Lock()
	if _, exists := s.m[ch.ID]; !exists {
		s.m[ch.ID] = ch
	}
	s.mu.Unlock()
}

// Lookup returns the channel for id, if known to this registry.
func (r *Registry) Lookup(id uint16) (*Channel, bool) {
	s := r.shardFor(id)
	s.mu.RLock()
	ch, ok := s.m[id]
	s.mu.RUnlock()
	return ch, ok
}

// Remove drops id from the registry. It is best-effort: removing an
// unknown id is a no-op, and Remove does not close the channel's rings
// (the caller, typically the engine's client-teardown path, does that).
func (r *Registry) Remove(id uint16) {
	s := r.shardFor(id)
	s.mu.Lock()
	delete(s.m, id)
	s.mu.Unlock()
}

// Len returns the total number of registered channels.
func (r *Registry) Len() int {
	total := 0
	for _, s := range r.shards {
		s.mu.RLock()
		total += len(s.m)
		s.mu.RUnlock()
	}
	return total
}

// Each calls fn for every registered channel. fn must not call back into
// Insert/Remove on the same registry.
func (r *Registry) Each(fn func(*Channel)) {
	for _, s := range r.shards {
		s.mu.RLock()
		for _, ch := range s.m {
			fn(ch)
		}
		s.mu.RUnlock()
	}
}
