// File: mbuf/mbuf.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Mbuf is a lightweight per-process handle onto a pool slot: {pool, index}.
// It holds no pointer into shared memory — Go pointers cannot cross process
// boundaries — so every accessor resolves index against the pool's
// shared-memory slot table on each call. Two processes holding the same
// (pool name, index) pair observe identical bytes.

package mbuf

import (
	"errors"

	"github.com/ratnadeepb/vdataplane/mempool"
)

var (
	ErrOutOfBounds = errors.New("mbuf: offset/length out of bounds")
	ErrNoTailroom  = errors.New("mbuf: insufficient tailroom")
)

// DefaultHeadroom is reserved at the front of every freshly allocated
// buffer so Ethernet/IP/TCP headers can be prepended without a copy.
const DefaultHeadroom = 128

// Mbuf is a packet buffer descriptor.
type Mbuf struct {
	pool  *mempool.Pool
	index uint32
}

// Alloc checks out a fresh slot from pool and initializes it with
// DefaultHeadroom of reserved space and zero data length.
func Alloc(pool *mempool.Pool) (*Mbuf, error) {
	idx, err := pool.Alloc()
	if err != nil {
		return nil, err
	}
	m := &Mbuf{pool: pool, index: idx}
	headroom := uint32(DefaultHeadroom)
	if headroom > pool.BufSize() {
		headroom = 0
	}
	pool.DataOffPtr(idx).Store(headroom)
	pool.DataLenPtr(idx).Store(0)
	pool.PktLenPtr(idx).Store(0)
	return m, nil
}

// AllocRaw checks out a fresh slot with zero headroom, for the RX path
// where an incoming frame is written starting at offset zero.
func AllocRaw(pool *mempool.Pool) (*Mbuf, error) {
	idx, err := pool.Alloc()
	if err != nil {
		return nil, err
	}
	pool.DataOffPtr(idx).Store(0)
	pool.DataLenPtr(idx).Store(0)
	pool.PktLenPtr(idx).Store(0)
	return &Mbuf{pool: pool, index: idx}, nil
}

// AllocBulk checks out n slots at once, all-or-nothing.
func AllocBulk(pool *mempool.Pool, n int) ([]*Mbuf, error) {
	indexes, err := pool.AllocBulk(n)
	if err != nil {
		return nil, err
	}
	out := make([]*Mbuf, 0, n)
	for _, idx := range indexes {
		headroom := uint32(DefaultHeadroom)
		if headroom > pool.BufSize() {
			headroom = 0
		}
		pool.DataOffPtr(idx).Store(headroom)
		pool.DataLenPtr(idx).Store(0)
		pool.PktLenPtr(idx).Store(0)
		out = append(out, &Mbuf{pool: pool, index: idx})
	}
	return out, nil
}

// FromIndex wraps an already-allocated slot without reinitializing it —
// used when a peer process hands over a (pool, index) pair over a ring.
func FromIndex(pool *mempool.Pool, index uint32) *Mbuf {
	return &Mbuf{pool: pool, index: index}
}

// Index returns the pool-relative slot index, the value actually carried
// across process boundaries on a ring.
func (m *Mbuf) Index() uint32 { return m.index }

// Pool returns the owning pool.
func (m *Mbuf) Pool() *mempool.Pool { return m.pool }

// Free returns the slot to its pool's free list.
func (m *Mbuf) Free() error { return m.pool.Free(m.index) }

// FreeBulk releases bufs back to their owning pools. It groups consecutive
// runs of the same pool as it walks the input and issues one
// mempool.Pool.FreeBulk call per run, rather than per-buffer Free calls, so
// mixed-pool batches (as can occur once more than one mempool is in use)
// still get the benefit of bulk release wherever the input is
// same-pool-contiguous. The first error encountered aborts the walk; bufs
// already released before that point are not re-queued.
func FreeBulk(bufs []*Mbuf) error {
	i := 0
	for i < len(bufs) {
		pool := bufs[i].pool
		j := i + 1
		for j < len(bufs) && bufs[j].pool == pool {
			j++
		}
		indexes := make([]uint32, 0, j-i)
		for _, m := range bufs[i:j] {
			indexes = append(indexes, m.index)
		}
		if err := pool.FreeBulk(indexes); err != nil {
			return err
		}
		i = j
	}
	return nil
}

// DataOff returns the current headroom (offset of live data in the slot).
func (m *Mbuf) DataOff() uint32 { return m.pool.DataOffPtr(m.index).Load() }

// DataLen returns the length of this segment's live data.
func (m *Mbuf) DataLen() uint32 { return m.pool.DataLenPtr(m.index).Load() }

// PktLen returns the total packet length (mirrors DataLen: segment
// chaining is not implemented, every Mbuf is a single segment).
func (m *Mbuf) PktLen() uint32 { return m.pool.PktLenPtr(m.index).Load() }

// Headroom returns bytes available for prepending.
func (m *Mbuf) Headroom() uint32 { return m.DataOff() }

// Tailroom returns bytes available for appending.
func (m *Mbuf) Tailroom() uint32 {
	return m.pool.BufSize() - m.DataOff() - m.DataLen()
}

// Bytes returns the live data region as a zero-copy slice into shared
// memory.
func (m *Mbuf) Bytes() []byte {
	off := m.DataOff()
	n := m.DataLen()
	buf := m.pool.Payload(m.index)
	return buf[off : off+n : off+n]
}

// ReadAt returns a zero-copy slice of n bytes starting at offset within
// the live data region.
func (m *Mbuf) ReadAt(offset, n uint32) ([]byte, error) {
	if offset+n > m.DataLen() {
		return nil, ErrOutOfBounds
	}
	off := m.DataOff() + offset
	buf := m.pool.Payload(m.index)
	return buf[off : off+n : off+n], nil
}

// WriteSlice copies data into the live data region at offset, which must
// lie within the current data length.
func (m *Mbuf) WriteSlice(offset uint32, data []byte) error {
	if offset+uint32(len(data)) > m.DataLen() {
		return ErrOutOfBounds
	}
	off := m.DataOff() + offset
	buf := m.pool.Payload(m.index)
	copy(buf[off:off+uint32(len(data))], data)
	return nil
}

// Extend grows the data region by length bytes, shifting any bytes after
// offset to the right. Used to make room to prepend/insert headers.
func (m *Mbuf) Extend(offset, length uint32) error {
	if length == 0 {
		return nil
	}
	dataLen := m.DataLen()
	if offset > dataLen {
		return ErrOutOfBounds
	}
	if length > m.Tailroom() {
		return ErrNoTailroom
	}
	dataOff := m.DataOff()
	buf := m.pool.Payload(m.index)
	src := buf[dataOff+offset : dataOff+dataLen]
	dst := buf[dataOff+offset+length : dataOff+dataLen+length]
	copy(dst, src)
	m.pool.DataLenPtr(m.index).Add(length)
	m.pool.PktLenPtr(m.index).Add(length)
	return nil
}

// Shrink removes length bytes starting at offset, shifting trailing bytes
// left.
func (m *Mbuf) Shrink(offset, length uint32) error {
	if length == 0 {
		return nil
	}
	dataLen := m.DataLen()
	if offset+length > dataLen {
		return ErrOutOfBounds
	}
	dataOff := m.DataOff()
	buf := m.pool.Payload(m.index)
	dst := buf[dataOff+offset : dataOff+dataLen-length]
	src := buf[dataOff+offset+length : dataOff+dataLen]
	copy(dst, src)
	m.pool.DataLenPtr(m.index).Add(^uint32(length - 1)) // -length
	m.pool.PktLenPtr(m.index).Add(^uint32(length - 1))
	return nil
}

// Resize applies a signed delta at offset: positive extends, negative
// shrinks.
func (m *Mbuf) Resize(offset uint32, delta int) error {
	if delta >= 0 {
		return m.Extend(offset, uint32(delta))
	}
	return m.Shrink(offset, uint32(-delta))
}

// Truncate sets the data length directly to toLen, which must not exceed
// the current data length (truncate never grows a buffer).
func (m *Mbuf) Truncate(toLen uint32) error {
	if toLen > m.DataLen() {
		return ErrOutOfBounds
	}
	m.pool.DataLenPtr(m.index).Store(toLen)
	m.pool.PktLenPtr(m.index).Store(toLen)
	return nil
}

// Append grows the data region at the tail and copies data into the new
// space in one step.
func (m *Mbuf) Append(data []byte) error {
	off := m.DataLen()
	if err := m.Extend(off, uint32(len(data))); err != nil {
		return err
	}
	return m.WriteSlice(off, data)
}

// Prepend reserves length bytes of headroom at the front of the data
// region for a caller to fill via WriteSlice(0, header).
func (m *Mbuf) Prepend(length uint32) error {
	headroom := m.Headroom()
	if length > headroom {
		return ErrNoTailroom
	}
	m.pool.DataOffPtr(m.index).Add(^uint32(length - 1)) // -length
	m.pool.DataLenPtr(m.index).Add(length)
	m.pool.PktLenPtr(m.index).Add(length)
	return nil
}
