// File: packetiser/packetiser.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Packetiser is the secondary process: it attaches to the shared mempool
// and its fixed channel (client id 1), dials the primary engine's startup
// barrier once, then runs a burst loop decoding headers with gopacket,
// updating the connection table, and forwarding descriptors back to the
// engine.

package packetiser

import (
	"fmt"
	"net"
	"time"

	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"

	"github.com/agilira/go-timecache"

	"github.com/ratnadeepb/vdataplane/channel"
	"github.com/ratnadeepb/vdataplane/control"
	"github.com/ratnadeepb/vdataplane/mbuf"
	"github.com/ratnadeepb/vdataplane/mempool"
	"github.com/ratnadeepb/vdataplane/netutil"
)

// ClientID is the packetiser's fixed channel identifier, reserving id 1
// (NF clients are allocated starting at 2, see IDAllocator).
const ClientID uint16 = 1

// Config configures a Packetiser instance.
type Config struct {
	MempoolName   string
	MempoolCap    uint32
	MempoolBuf    uint32
	RingCapacity  uint32
	BarrierAddr   string
	BurstSize     int
}

// Packetiser is the secondary process' runtime state.
type Packetiser struct {
	cfg     Config
	pool    *mempool.Pool
	ch      *channel.Channel
	conns   *ConnTable
	ids     *IDAllocator
	routes  *RoutingTable
	metrics *control.MetricsRegistry
	clock   *timecache.TimeCache
	stop    chan struct{}
}

// New opens the shared mempool and the fixed packetiser channel, both of
// which must already have been created by the primary engine.
func New(cfg Config) (*Packetiser, error) {
	pool, err := mempool.Open(cfg.MempoolName, cfg.MempoolCap, cfg.MempoolBuf)
	if err != nil {
		return nil, fmt.Errorf("packetiser: open mempool: %w", err)
	}
	ch, err := channel.Lookup(ClientID, cfg.RingCapacity)
	if err != nil {
		pool.Close()
		return nil, fmt.Errorf("packetiser: lookup channel: %w", err)
	}
	clock, err := timecache.NewWithResolution(time.Millisecond)
	if err != nil {
		pool.Close()
		ch.Close()
		return nil, fmt.Errorf("packetiser: start time cache: %w", err)
	}
	return &Packetiser{
		cfg:     cfg,
		pool:    pool,
		ch:      ch,
		conns:   NewConnTable(),
		ids:     NewIDAllocator(),
		routes:  NewRoutingTable(),
		metrics: control.NewMetricsRegistry(),
		clock:   clock,
		stop:    make(chan struct{}),
	}, nil
}

// DialBarrier connects once to the primary engine's startup barrier and
// waits for its one-byte reply before returning, enforcing
// packetiser-waits-for-engine startup ordering.
func (p *Packetiser) DialBarrier() error {
	conn, err := net.Dial("tcp", p.cfg.BarrierAddr)
	if err != nil {
		return fmt.Errorf("packetiser: dial barrier %s: %w", p.cfg.BarrierAddr, err)
	}
	defer conn.Close()
	if _, err := conn.Write([]byte{0}); err != nil {
		return fmt.Errorf("packetiser: write barrier request: %w", err)
	}
	ack := make([]byte, 1)
	if _, err := conn.Read(ack); err != nil {
		return fmt.Errorf("packetiser: read barrier reply: %w", err)
	}
	return nil
}

// Run drives the decode/track/forward loop until Stop is called.
func (p *Packetiser) Run() {
	for {
		select {
		case <-p.stop:
			return
		default:
			p.step()
		}
	}
}

func (p *Packetiser) step() {
	indexes := p.ch.E2C.DequeueBurst(p.cfg.BurstSize)
	if len(indexes) == 0 {
		return
	}
	forward := make([]uint64, 0, len(indexes))
	for _, idx := range indexes {
		m := mbuf.FromIndex(p.pool, uint32(idx))
		p.process(m)
		forward = append(forward, idx)
	}
	for len(forward) > 0 {
		if err := p.ch.C2E.EnqueueBulk(forward); err == nil {
			break
		}
		// Ring momentarily full: drop the newest half of this burst's
		// worth of forwarding and retry with the rest, rather than
		// blocking the decode loop indefinitely.
		if len(forward) == 1 {
			p.metrics.Set("packetiser.forward_drops", 1)
			break
		}
		forward = forward[:len(forward)/2]
	}
}

func (p *Packetiser) process(m *mbuf.Mbuf) {
	pkt := gopacket.NewPacket(m.Bytes(), layers.LayerTypeEthernet, gopacket.NoCopy)
	tuple, ok := netutil.ExtractFiveTuple(pkt)
	if !ok {
		return
	}
	tcpLayer := pkt.Layer(layers.LayerTypeTCP)
	if tcpLayer == nil {
		return
	}
	tcp, _ := tcpLayer.(*layers.TCP)
	p.conns.Update(tuple, uint32(tcp.Seq), uint32(tcp.Ack), tcp.Window, p.clock.CachedTime())
}

// Conns exposes the connection table for inspection/testing.
func (p *Packetiser) Conns() *ConnTable { return p.conns }

// IDs exposes the client-id allocator for NF attach/detach handling.
func (p *Packetiser) IDs() *IDAllocator { return p.ids }

// Routes exposes the client-id <-> IPv4 routing table.
func (p *Packetiser) Routes() *RoutingTable { return p.routes }

// Stop halts Run and releases the time cache.
func (p *Packetiser) Stop() {
	close(p.stop)
	p.clock.Stop()
}
