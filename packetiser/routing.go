// File: packetiser/routing.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// RoutingTable is the bidirectional client-id <-> IPv4 map consulted when
// routing traffic toward an attached NF.

package packetiser

import "sync"

// RoutingTable maps NF client ids to the IPv4 address they own and back.
type RoutingTable struct {
	mu        sync.RWMutex
	idToAddr  map[uint16][4]byte
	addrToID  map[[4]byte]uint16
}

// NewRoutingTable returns an empty bidirectional map.
func NewRoutingTable() *RoutingTable {
	return &RoutingTable{
		idToAddr: make(map[uint16][4]byte),
		addrToID: make(map[[4]byte]uint16),
	}
}

// Bind associates id with addr, replacing any prior binding for either
// side.
func (t *RoutingTable) Bind(id uint16, addr [4]byte) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if old, ok := t.idToAddr[id]; ok {
		delete(t.addrToID, old)
	}
	if oldID, ok := t.addrToID[addr]; ok {
		delete(t.idToAddr, oldID)
	}
	t.idToAddr[id] = addr
	t.addrToID[addr] = id
}

// Unbind removes id's binding, if any.
func (t *RoutingTable) Unbind(id uint16) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if addr, ok := t.idToAddr[id]; ok {
		delete(t.addrToID, addr)
		delete(t.idToAddr, id)
	}
}

// AddrFor returns the IPv4 address bound to id.
func (t *RoutingTable) AddrFor(id uint16) ([4]byte, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	addr, ok := t.idToAddr[id]
	return addr, ok
}

// IDFor returns the client id bound to addr.
func (t *RoutingTable) IDFor(addr [4]byte) (uint16, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	id, ok := t.addrToID[addr]
	return id, ok
}
