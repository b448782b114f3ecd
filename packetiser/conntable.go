// File: packetiser/conntable.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0

package packetiser

import (
	"sync"
	"time"

	"github.com/ratnadeepb/vdataplane/netutil"
)

// ConnState tracks the TCP sequencing state the packetiser needs to relay
// retransmissions and reorder decisions back toward the engine.
type ConnState struct {
	Seq      uint32
	Ack      uint32
	Window   uint16
	LastSeen time.Time
}

// ConnTable is a five-tuple-keyed connection tracker, guarded by a single
// RWMutex — the packetiser's decode loop is the only writer, so contention
// is limited to readers (debug probes, tests).
type ConnTable struct {
	mu    sync.RWMutex
	conns map[netutil.FiveTuple]*ConnState
}

// NewConnTable returns an empty table.
func NewConnTable() *ConnTable {
	return &ConnTable{conns: make(map[netutil.FiveTuple]*ConnState)}
}

// Update records the latest sequence/ack/window observed for tuple.
func (t *ConnTable) Update(tuple netutil.FiveTuple, seq, ack uint32, window uint16, now time.Time) {
	t.mu.Lock()
	defer t.mu.Unlock()
	cs, ok := t.conns[tuple]
	if !ok {
		cs = &ConnState{}
		t.conns[tuple] = cs
	}
	cs.Seq = seq
	cs.Ack = ack
	cs.Window = window
	cs.LastSeen = now
}

// Lookup returns a copy of the tracked state for tuple, if any.
func (t *ConnTable) Lookup(tuple netutil.FiveTuple) (ConnState, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	cs, ok := t.conns[tuple]
	if !ok {
		return ConnState{}, false
	}
	return *cs, true
}

// Len returns the number of tracked connections.
func (t *ConnTable) Len() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.conns)
}

// Evict removes any connection whose LastSeen is older than before and
// returns how many were removed. The packetiser does not call it on its own;
// entries stay until a caller evicts them.
func (t *ConnTable) Evict(before time.Time) int {
	t.mu.Lock()
	defer t.mu.Unlock()
	removed := 0
	for k, cs := range t.conns {
		if cs.LastSeen.Before(before) {
			delete(t.conns, k)
			removed++
		}
	}
	return removed
}
