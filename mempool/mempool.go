// File: mempool/mempool.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Pool is a fixed-capacity, lock-free buffer allocator backed by a named
// shm.Region. The free list is a Treiber stack embedded at the head of the
// region: a single packed (generation<<32|index) word mutated with
// atomic.CompareAndSwapUint64 directly on mapped memory, so concurrent
// allocation/free is safe not just between goroutines in one process but
// between any two processes that mapped the same region name.

package mempool

import (
	"errors"
	"fmt"
	"sync/atomic"
	"unsafe"

	"github.com/ratnadeepb/vdataplane/shm"
)

var (
	ErrPoolEmpty    = errors.New("mempool: pool exhausted")
	ErrBadIndex     = errors.New("mempool: index out of range")
	ErrBulkTooLarge = errors.New("mempool: bulk request exceeds pool capacity")
)

const (
	nilIndex     = 0xFFFFFFFF
	poolHeaderSz = 8 // one atomic uint64 free-list head

	// Per-slot fixed header: dataOff, dataLen, pktLen, state, next, _reserved.
	slotHeaderSz = 24

	stateFree      = uint32(0)
	stateAllocated = uint32(1)
)

// Pool is a shared, index-addressed buffer allocator.
type Pool struct {
	region   *shm.Region
	name     string
	capacity uint32
	bufSize  uint32
	slotSize uint32
}

func packHead(generation uint32, index uint32) uint64 {
	return uint64(generation)<<32 | uint64(index)
}

func unpackHead(v uint64) (generation uint32, index uint32) {
	return uint32(v >> 32), uint32(v)
}

func regionSize(capacity, bufSize uint32) int {
	return poolHeaderSz + int(capacity)*(slotHeaderSz+int(bufSize))
}

// Create allocates a brand-new pool region of `capacity` slots, each able to
// hold a payload of `bufSize` bytes, and initializes the free list so every
// slot starts free, chained in index order.
func Create(name string, capacity, bufSize uint32) (*Pool, error) {
	if capacity == 0 {
		return nil, fmt.Errorf("mempool: capacity must be > 0")
	}
	region, err := shm.Create(name, regionSize(capacity, bufSize))
	if err != nil {
		return nil, err
	}
	p := &Pool{region: region, name: name, capacity: capacity, bufSize: bufSize, slotSize: slotHeaderSz + bufSize}
	for i := uint32(0); i < capacity; i++ {
		next := i + 1
		if next == capacity {
			next = nilIndex
		}
		p.setNext(i, next)
		p.setState(i, stateFree)
	}
	p.headPtr().Store(packHead(0, 0))
	return p, nil
}

// Open attaches to an existing pool region by name, e.g. from a second
// process that knows the capacity/bufSize agreed upon out of band.
func Open(name string, capacity, bufSize uint32) (*Pool, error) {
	region, err := shm.Open(name, regionSize(capacity, bufSize))
	if err != nil {
		return nil, err
	}
	return &Pool{region: region, name: name, capacity: capacity, bufSize: bufSize, slotSize: slotHeaderSz + bufSize}, nil
}

// Close unmaps the pool's region. It does not free slots or unlink the
// backing file; the owning process does that via shm.Unlink at shutdown.
func (p *Pool) Close() error { return p.region.Close() }

func (p *Pool) Name() string     { return p.name }
func (p *Pool) Capacity() uint32 { return p.capacity }
func (p *Pool) BufSize() uint32  { return p.bufSize }

func (p *Pool) headPtr() *atomic.Uint64 {
	return (*atomic.Uint64)(unsafe.Pointer(&p.region.Bytes()[0]))
}

func (p *Pool) slotOffset(index uint32) int {
	return poolHeaderSz + int(index)*int(p.slotSize)
}

func (p *Pool) u32ptr(index uint32, fieldOff int) *atomic.Uint32 {
	off := p.slotOffset(index) + fieldOff
	return (*atomic.Uint32)(unsafe.Pointer(&p.region.Bytes()[off]))
}

func (p *Pool) nextPtr(index uint32) *atomic.Uint32  { return p.u32ptr(index, 16) }
func (p *Pool) statePtr(index uint32) *atomic.Uint32 { return p.u32ptr(index, 12) }

func (p *Pool) setNext(index, next uint32) { p.nextPtr(index).Store(next) }
func (p *Pool) setState(index, st uint32)  { p.statePtr(index).Store(st) }

// dataOff/dataLen/pktLen accessors used by the mbuf package.
func (p *Pool) DataOffPtr(index uint32) *atomic.Uint32 { return p.u32ptr(index, 0) }
func (p *Pool) DataLenPtr(index uint32) *atomic.Uint32 { return p.u32ptr(index, 4) }
func (p *Pool) PktLenPtr(index uint32) *atomic.Uint32  { return p.u32ptr(index, 8) }

// Payload returns the byte slice backing a slot's payload region.
func (p *Pool) Payload(index uint32) []byte {
	off := p.slotOffset(index) + slotHeaderSz
	return p.region.Bytes()[off : off+int(p.bufSize) : off+int(p.bufSize)]
}

// Alloc removes one slot from the free list, marks it allocated, and
// returns its index. Returns ErrPoolEmpty if the free list is exhausted.
func (p *Pool) Alloc() (uint32, error) {
	head := p.headPtr()
	for {
		old := head.Load()
		gen, idx := unpackHead(old)
		if idx == nilIndex {
			return 0, ErrPoolEmpty
		}
		next := p.nextPtr(idx).Load()
		newHead := packHead(gen+1, next)
		if head.CompareAndSwap(old, newHead) {
			p.setState(idx, stateAllocated)
			p.DataOffPtr(idx).Store(0)
			p.DataLenPtr(idx).Store(0)
			p.PktLenPtr(idx).Store(0)
			return idx, nil
		}
	}
}

// Free returns a slot to the free list.
func (p *Pool) Free(index uint32) error {
	if index >= p.capacity {
		return ErrBadIndex
	}
	p.setState(index, stateFree)
	head := p.headPtr()
	for {
		old := head.Load()
		gen, idx := unpackHead(old)
		p.setNext(index, idx)
		newHead := packHead(gen+1, index)
		if head.CompareAndSwap(old, newHead) {
			return nil
		}
	}
}

// AllocBulk allocates n slots, all-or-nothing: on partial failure every
// slot already taken is pushed back onto the free list before returning
// the error.
func (p *Pool) AllocBulk(n int) ([]uint32, error) {
	if uint32(n) > p.capacity {
		return nil, ErrBulkTooLarge
	}
	out := make([]uint32, 0, n)
	for i := 0; i < n; i++ {
		idx, err := p.Alloc()
		if err != nil {
			for _, taken := range out {
				_ = p.Free(taken)
			}
			return nil, err
		}
		out = append(out, idx)
	}
	return out, nil
}

// FreeBulk frees every index in indexes.
func (p *Pool) FreeBulk(indexes []uint32) error {
	for _, idx := range indexes {
		if err := p.Free(idx); err != nil {
			return err
		}
	}
	return nil
}

// IsAllocated reports whether a slot is currently checked out. Used by
// tests asserting the conservation invariant.
func (p *Pool) IsAllocated(index uint32) bool {
	return p.statePtr(index).Load() == stateAllocated
}
