// File: ring/ring.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Ring is a fixed-capacity (power-of-two), single-producer/single-consumer
// circular buffer of uint64 slots living in a named shm.Region — plain
// head/tail atomics, no CAS needed for SPSC — backed by shared memory so a
// ring named "C2E-<id>"/"E2C-<id>" can be opened independently by the
// engine and packetiser processes.
//
// A uint64 slot carries whatever the channel layer puts in it — the engine
// and packetiser put a pool-relative mbuf index there; ring itself is payload
// agnostic.

package ring

import (
	"errors"
	"fmt"
	"sync/atomic"
	"unsafe"

	"github.com/ratnadeepb/vdataplane/shm"
)

var (
	ErrNoSpace         = errors.New("ring: insufficient space")
	ErrNoEntries       = errors.New("ring: no entries available")
	ErrNotPowerOfTwo   = errors.New("ring: capacity must be a power of two")
	ErrAlreadyBound    = errors.New("ring: producer or consumer already bound")
)

const headerSize = 24 // boundProducer(4) boundConsumer(4) head(8) tail(8)

// Ring is a shared-memory SPSC ring of uint64 values.
type Ring struct {
	region   *shm.Region
	capacity uint32
	mask     uint64
}

func regionSize(capacity uint32) int {
	return headerSize + int(capacity)*8
}

func isPow2(n uint32) bool { return n != 0 && n&(n-1) == 0 }

// Create allocates a new ring region of the given power-of-two capacity.
func Create(name string, capacity uint32) (*Ring, error) {
	if !isPow2(capacity) {
		return nil, ErrNotPowerOfTwo
	}
	region, err := shm.Create(name, regionSize(capacity))
	if err != nil {
		return nil, err
	}
	return &Ring{region: region, capacity: capacity, mask: uint64(capacity - 1)}, nil
}

// Open attaches to an existing ring region by name.
func Open(name string, capacity uint32) (*Ring, error) {
	if !isPow2(capacity) {
		return nil, ErrNotPowerOfTwo
	}
	region, err := shm.Open(name, regionSize(capacity))
	if err != nil {
		return nil, err
	}
	return &Ring{region: region, capacity: capacity, mask: uint64(capacity - 1)}, nil
}

// Name mirrors the channel naming convention "C2E-<id>"/"E2C-<id>".
func Name(kind string, id uint16) string {
	return fmt.Sprintf("%s-%d", kind, id)
}

func (r *Ring) Close() error { return r.region.Close() }

func (r *Ring) boundProducerPtr() *atomic.Uint32 {
	return (*atomic.Uint32)(unsafe.Pointer(&r.region.Bytes()[0]))
}
func (r *Ring) boundConsumerPtr() *atomic.Uint32 {
	return (*atomic.Uint32)(unsafe.Pointer(&r.region.Bytes()[4]))
}
func (r *Ring) headPtr() *atomic.Uint64 {
	return (*atomic.Uint64)(unsafe.Pointer(&r.region.Bytes()[8]))
}
func (r *Ring) tailPtr() *atomic.Uint64 {
	return (*atomic.Uint64)(unsafe.Pointer(&r.region.Bytes()[16]))
}

func (r *Ring) slotPtr(pos uint64) *atomic.Uint64 {
	off := headerSize + int(pos&r.mask)*8
	return (*atomic.Uint64)(unsafe.Pointer(&r.region.Bytes()[off]))
}

// BindProducer claims the producer side of the ring exactly once.
func (r *Ring) BindProducer() error {
	if !r.boundProducerPtr().CompareAndSwap(0, 1) {
		return ErrAlreadyBound
	}
	return nil
}

// BindConsumer claims the consumer side of the ring exactly once.
func (r *Ring) BindConsumer() error {
	if !r.boundConsumerPtr().CompareAndSwap(0, 1) {
		return ErrAlreadyBound
	}
	return nil
}

// Len returns the current occupied slot count.
func (r *Ring) Len() int {
	return int(r.tailPtr().Load() - r.headPtr().Load())
}

// Cap returns the fixed ring capacity.
func (r *Ring) Cap() int { return int(r.capacity) }

// EnqueueOne pushes a single value. Producer-only; safe with exactly one
// concurrent consumer calling Dequeue*.
func (r *Ring) EnqueueOne(v uint64) error {
	head := r.headPtr().Load()
	tail := r.tailPtr().Load()
	if tail-head >= uint64(r.capacity) {
		return ErrNoSpace
	}
	r.slotPtr(tail).Store(v)
	r.tailPtr().Store(tail + 1)
	return nil
}

// DequeueOne pops a single value. Consumer-only.
func (r *Ring) DequeueOne() (uint64, error) {
	head := r.headPtr().Load()
	tail := r.tailPtr().Load()
	if head >= tail {
		return 0, ErrNoEntries
	}
	v := r.slotPtr(head).Load()
	r.headPtr().Store(head + 1)
	return v, nil
}

// EnqueueBulk pushes all values or none: it checks capacity up front and
// writes nothing if the full batch would not fit.
func (r *Ring) EnqueueBulk(values []uint64) error {
	head := r.headPtr().Load()
	tail := r.tailPtr().Load()
	if tail-head+uint64(len(values)) > uint64(r.capacity) {
		return ErrNoSpace
	}
	for i, v := range values {
		r.slotPtr(tail + uint64(i)).Store(v)
	}
	r.tailPtr().Store(tail + uint64(len(values)))
	return nil
}

// DequeueBurst pops up to n values, best effort, returning however many
// were actually available (0..n).
func (r *Ring) DequeueBurst(n int) []uint64 {
	head := r.headPtr().Load()
	tail := r.tailPtr().Load()
	avail := tail - head
	if uint64(n) < avail {
		avail = uint64(n)
	}
	out := make([]uint64, avail)
	for i := uint64(0); i < avail; i++ {
		out[i] = r.slotPtr(head + i).Load()
	}
	r.headPtr().Store(head + avail)
	return out
}
