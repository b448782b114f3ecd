// File: memenpsf/memenpsf.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Interface is the shared-memory IPC mechanism used between the multiplexer
// and NF processes: two fixed-size SPSC rings of 24-byte elements in one
// anonymous memfd, passed from client to server over a Unix socket via
// SCM_RIGHTS, plus a 4-byte control message sent after every ring mutation
// (new_client/new_srv style handshake, shm_open_anonymous + ftruncate +
// mmap, WRITE/READ/ERR opcodes), built on golang.org/x/sys/unix for the raw
// socket and SCM_RIGHTS plumbing.

package memenpsf

import (
	"errors"
	"fmt"
	"net"
	"sync/atomic"
	"unsafe"

	"golang.org/x/sys/unix"
)

// ElemSize is the width of one connection-identifier element.
const ElemSize = 24

// MaxCapacity caps ring capacity at 256 so a single byte can index every
// slot in the control message, rather than silently truncating a larger
// index.
const MaxCapacity = 256

const (
	opWrite byte = 1
	opRead  byte = 2
	opErr   byte = 100
)

var (
	ErrCapacityTooLarge = errors.New("memenpsf: capacity exceeds MaxCapacity")
	ErrNoSpace          = errors.New("memenpsf: ring full")
	ErrNoEntries        = errors.New("memenpsf: ring empty")
)

const ringHeaderSize = 8 // head uint32, tail uint32

func ringBytes(capacity int) int {
	return ringHeaderSize + capacity*ElemSize
}

// Interface is one end (client or server) of a memenpsf connection.
type Interface struct {
	conn     *net.UnixConn
	data     []byte
	capacity int
	isServer bool
	memfd    int
}

// NewClient creates the backing memfd, maps it, and sends the fd to the
// peer at the other end of conn. The client's logical write ring is the
// first half of the region (c2s), its read ring the second half (s2c).
func NewClient(conn *net.UnixConn, capacity int) (*Interface, error) {
	if capacity <= 0 || capacity > MaxCapacity {
		return nil, ErrCapacityTooLarge
	}
	size := 2 * ringBytes(capacity)
	fd, err := unix.MemfdCreate("vdataplane-memenpsf", 0)
	if err != nil {
		return nil, fmt.Errorf("memenpsf: memfd_create: %w", err)
	}
	if err := unix.Ftruncate(fd, int64(size)); err != nil {
		unix.Close(fd)
		return nil, fmt.Errorf("memenpsf: ftruncate: %w", err)
	}
	data, err := unix.Mmap(fd, 0, size, unix.PROT_READ|unix.PROT_WRITE, unix.MAP_SHARED)
	if err != nil {
		unix.Close(fd)
		return nil, fmt.Errorf("memenpsf: mmap: %w", err)
	}
	rights := unix.UnixRights(fd)
	if _, _, err := conn.WriteMsgUnix(nil, rights, nil); err != nil {
		unix.Munmap(data)
		unix.Close(fd)
		return nil, fmt.Errorf("memenpsf: send fd: %w", err)
	}
	return &Interface{conn: conn, data: data, capacity: capacity, isServer: false, memfd: fd}, nil
}

// NewServer receives the fd sent by NewClient over conn and maps the same
// memory region. The server's write ring is the second half (s2c), its
// read ring the first half (c2s) — mirroring the client.
func NewServer(conn *net.UnixConn, capacity int) (*Interface, error) {
	if capacity <= 0 || capacity > MaxCapacity {
		return nil, ErrCapacityTooLarge
	}
	oob := make([]byte, unix.CmsgSpace(4))
	_, oobn, _, _, err := conn.ReadMsgUnix(nil, oob)
	if err != nil {
		return nil, fmt.Errorf("memenpsf: recv fd: %w", err)
	}
	cmsgs, err := unix.ParseSocketControlMessage(oob[:oobn])
	if err != nil {
		return nil, fmt.Errorf("memenpsf: parse control message: %w", err)
	}
	if len(cmsgs) == 0 {
		return nil, fmt.Errorf("memenpsf: no control message received")
	}
	fds, err := unix.ParseUnixRights(&cmsgs[0])
	if err != nil || len(fds) == 0 {
		return nil, fmt.Errorf("memenpsf: parse unix rights: %w", err)
	}
	fd := fds[0]
	size := 2 * ringBytes(capacity)
	data, err := unix.Mmap(fd, 0, size, unix.PROT_READ|unix.PROT_WRITE, unix.MAP_SHARED)
	if err != nil {
		unix.Close(fd)
		return nil, fmt.Errorf("memenpsf: mmap: %w", err)
	}
	return &Interface{conn: conn, data: data, capacity: capacity, isServer: true, memfd: fd}, nil
}

// Close unmaps the shared region and closes the local memfd duplicate.
func (ifc *Interface) Close() error {
	err := unix.Munmap(ifc.data)
	unix.Close(ifc.memfd)
	return err
}

func (ifc *Interface) txOffset() int {
	if ifc.isServer {
		return ringBytes(ifc.capacity)
	}
	return 0
}

func (ifc *Interface) rxOffset() int {
	if ifc.isServer {
		return 0
	}
	return ringBytes(ifc.capacity)
}

func (ifc *Interface) headPtr(ringOff int) *atomic.Uint32 {
	return (*atomic.Uint32)(unsafe.Pointer(&ifc.data[ringOff]))
}
func (ifc *Interface) tailPtr(ringOff int) *atomic.Uint32 {
	return (*atomic.Uint32)(unsafe.Pointer(&ifc.data[ringOff+4]))
}

func (ifc *Interface) slot(ringOff int, pos uint32) []byte {
	off := ringOff + ringHeaderSize + int(pos%uint32(ifc.capacity))*ElemSize
	return ifc.data[off : off+ElemSize]
}

// sendControl writes the 4-byte (reserved, opcode, widx, ridx) message
// sent for every ring mutation.
func (ifc *Interface) sendControl(opcode byte, widx, ridx uint32) error {
	msg := [4]byte{0, opcode, byte(widx), byte(ridx)}
	_, err := ifc.conn.Write(msg[:])
	return err
}

// Xmit enqueues one element onto the write ring and signals the peer.
func (ifc *Interface) Xmit(elem [ElemSize]byte) error {
	off := ifc.txOffset()
	head := ifc.headPtr(off).Load()
	tail := ifc.tailPtr(off).Load()
	if tail-head >= uint32(ifc.capacity) {
		ifc.sendControl(opErr, tail, head)
		return ErrNoSpace
	}
	copy(ifc.slot(off, tail), elem[:])
	ifc.tailPtr(off).Store(tail + 1)
	return ifc.sendControl(opWrite, tail+1, head)
}

// Recv dequeues one element from the read ring and signals the peer.
func (ifc *Interface) Recv() ([ElemSize]byte, error) {
	var out [ElemSize]byte
	off := ifc.rxOffset()
	head := ifc.headPtr(off).Load()
	tail := ifc.tailPtr(off).Load()
	if head >= tail {
		return out, ErrNoEntries
	}
	copy(out[:], ifc.slot(off, head))
	ifc.headPtr(off).Store(head + 1)
	if err := ifc.sendControl(opRead, tail, head+1); err != nil {
		return out, err
	}
	return out, nil
}

// RecvVectored drains up to n elements from the read ring in one pass and
// signals the peer with a single opRead control message carrying the final
// head index, rather than one message per element.
func (ifc *Interface) RecvVectored(n int) [][ElemSize]byte {
	off := ifc.rxOffset()
	head := ifc.headPtr(off).Load()
	tail := ifc.tailPtr(off).Load()

	out := make([][ElemSize]byte, 0, n)
	for len(out) < n && head < tail {
		var elem [ElemSize]byte
		copy(elem[:], ifc.slot(off, head))
		out = append(out, elem)
		head++
	}
	if len(out) == 0 {
		return out
	}
	ifc.headPtr(off).Store(head)
	ifc.sendControl(opRead, tail, head)
	return out
}

// ReadControl blocks for the next control message from the peer, returning
// its opcode and the write/read indexes it carried. Callers that want
// edge-triggered wakeup instead of polling the ring use this.
func (ifc *Interface) ReadControl() (opcode byte, widx, ridx byte, err error) {
	var buf [4]byte
	if _, err := ifc.conn.Read(buf[:]); err != nil {
		return 0, 0, 0, err
	}
	return buf[1], buf[2], buf[3], nil
}
