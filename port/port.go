// File: port/port.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Port wraps a non-blocking AF_PACKET raw socket bound to one network
// interface: the practical Go rendition of "kernel-bypass NIC access" in an
// environment without a DPDK cgo binding, built on golang.org/x/sys/unix
// socket primitives with AF_PACKET framing and mempool-backed receive
// buffers.

package port

import (
	"encoding/binary"
	"fmt"
	"net"
	"sync/atomic"

	"golang.org/x/sys/unix"

	"github.com/ratnadeepb/vdataplane/api"
	"github.com/ratnadeepb/vdataplane/mbuf"
	"github.com/ratnadeepb/vdataplane/mempool"
)

// MaxBurst bounds how many frames a single Receive call will pull off the
// socket.
const MaxBurst = 32

// RSSKey is the symmetric RSS-flavored hash key used for flow classification.
// AF_PACKET has no native RSS knob to program it into, so it is recorded
// here purely as part of the port's capability snapshot.
var RSSKey = [40]byte{
	0x6d, 0x5a, 0x56, 0xda, 0x25, 0x5b, 0x0e, 0xc2,
	0x41, 0x67, 0x25, 0x3d, 0x43, 0xa3, 0x8f, 0xb0,
	0xd0, 0xca, 0x2b, 0xcb, 0xae, 0x7b, 0x30, 0xb4,
	0x77, 0xcb, 0x2d, 0xa3, 0x80, 0x30, 0xf2, 0x0c,
	0x6a, 0x42, 0xb7, 0x3b, 0xbe, 0xac, 0x01, 0xfa,
}

// Config configures a Port at construction time.
type Config struct {
	IfaceName string
	RxQueues  int
	TxQueues  int
	Promisc   bool
	Pool      *mempool.Pool
}

// Capabilities snapshots what the port negotiated at configure time.
type Capabilities struct {
	IfaceName string
	IfIndex   int
	MAC       net.HardwareAddr
	RxQueues  int
	TxQueues  int
	Promisc   bool
	RSSKey    [40]byte
}

// Port is a configured, startable NIC handle.
type Port struct {
	cfg   Config
	iface *net.Interface
	fd    int
	caps  Capabilities
	state atomic.Int32
}

func htons(v uint16) uint16 {
	var b [2]byte
	binary.BigEndian.PutUint16(b[:], v)
	return binary.LittleEndian.Uint16(b[:])
}

// New configures (but does not yet start) a port bound to cfg.IfaceName.
// RX/TX queue counts are rounded up to an even number.
func New(cfg Config) (*Port, error) {
	iface, err := net.InterfaceByName(cfg.IfaceName)
	if err != nil {
		return nil, fmt.Errorf("port: lookup interface %s: %w", cfg.IfaceName, err)
	}
	if cfg.RxQueues%2 != 0 {
		cfg.RxQueues++
	}
	if cfg.TxQueues%2 != 0 {
		cfg.TxQueues++
	}
	if cfg.RxQueues == 0 {
		cfg.RxQueues = 2
	}
	if cfg.TxQueues == 0 {
		cfg.TxQueues = 2
	}

	fd, err := unix.Socket(unix.AF_PACKET, unix.SOCK_RAW|unix.SOCK_NONBLOCK, int(htons(unix.ETH_P_ALL)))
	if err != nil {
		return nil, fmt.Errorf("port: socket: %w", err)
	}
	addr := &unix.SockaddrLinklayer{
		Protocol: htons(unix.ETH_P_ALL),
		Ifindex:  iface.Index,
	}
	if err := unix.Bind(fd, addr); err != nil {
		unix.Close(fd)
		return nil, fmt.Errorf("port: bind to %s: %w", cfg.IfaceName, err)
	}
	if cfg.Promisc {
		mreq := unix.PacketMreq{
			Ifindex: int32(iface.Index),
			Type:    unix.PACKET_MR_PROMISC,
		}
		if err := unix.SetsockoptPacketMreq(fd, unix.SOL_PACKET, unix.PACKET_ADD_MEMBERSHIP, &mreq); err != nil {
			unix.Close(fd)
			return nil, fmt.Errorf("port: set promiscuous on %s: %w", cfg.IfaceName, err)
		}
	}

	p := &Port{
		cfg:   cfg,
		iface: iface,
		fd:    fd,
		caps: Capabilities{
			IfaceName: cfg.IfaceName,
			IfIndex:   iface.Index,
			MAC:       iface.HardwareAddr,
			RxQueues:  cfg.RxQueues,
			TxQueues:  cfg.TxQueues,
			Promisc:   cfg.Promisc,
			RSSKey:    RSSKey,
		},
	}
	p.state.Store(int32(api.StateConfiguring))
	return p, nil
}

// Capabilities returns the port's negotiated configuration snapshot.
func (p *Port) Capabilities() Capabilities { return p.caps }

// State reports the port's current lifecycle state.
func (p *Port) State() api.PortState { return api.PortState(p.state.Load()) }

// Start marks the port ready for traffic. With AF_PACKET the socket is
// already live after New; Start exists so the engine's lifecycle keeps a
// configure/start/stop sequencing.
func (p *Port) Start() error {
	p.state.Store(int32(api.StateActive))
	return nil
}

// Stop closes the underlying socket.
func (p *Port) Stop() error {
	p.state.Store(int32(api.StateDraining))
	err := unix.Close(p.fd)
	p.state.Store(int32(api.StateClosed))
	return err
}

// Receive pulls up to MaxBurst frames off the wire into freshly allocated
// mbufs from pool. queue is accepted for API symmetry with the multi-queue
// model; AF_PACKET sockets in this implementation are single-queue.
func (p *Port) Receive(_ int, pool *mempool.Pool) ([]*mbuf.Mbuf, error) {
	out := make([]*mbuf.Mbuf, 0, MaxBurst)
	scratch := make([]byte, 65536)
	for len(out) < MaxBurst {
		n, _, err := unix.Recvfrom(p.fd, scratch, 0)
		if err != nil {
			if err == unix.EAGAIN || err == unix.EWOULDBLOCK {
				break
			}
			return out, fmt.Errorf("port: recvfrom: %w", err)
		}
		if n == 0 {
			break
		}
		m, err := mbuf.AllocRaw(pool)
		if err != nil {
			// Out of buffers: stop pulling more frames this burst, the
			// frame already read from the kernel is dropped.
			break
		}
		if err := m.Append(scratch[:n]); err != nil {
			m.Free()
			continue
		}
		out = append(out, m)
	}
	return out, nil
}

// Send submits bufs to the wire on queue, returning the count accepted.
// The caller owns and must free any buffers beyond the returned count.
func (p *Port) Send(bufs []*mbuf.Mbuf, _ int) (int, error) {
	addr := &unix.SockaddrLinklayer{
		Protocol: htons(unix.ETH_P_ALL),
		Ifindex:  p.caps.IfIndex,
	}
	sent := 0
	for _, m := range bufs {
		if err := unix.Sendto(p.fd, m.Bytes(), 0, addr); err != nil {
			if err == unix.EAGAIN || err == unix.EWOULDBLOCK {
				break
			}
			return sent, fmt.Errorf("port: sendto: %w", err)
		}
		sent++
	}
	return sent, nil
}
