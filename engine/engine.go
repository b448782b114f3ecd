// File: engine/engine.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Engine is the primary packet engine: it owns the port, the shared
// mempool, the packetiser/NF channel registry, the ARP/ICMP responder, and
// the three staging queues, and runs dedicated RX/TX goroutines pinned to
// configured cores. Lifecycle: New(cfg) / Start() / Stop().

package engine

import (
	"context"
	"fmt"
	"log"
	"runtime"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"

	"github.com/ratnadeepb/vdataplane/affinity"
	"github.com/ratnadeepb/vdataplane/api"
	"github.com/ratnadeepb/vdataplane/arpicmp"
	"github.com/ratnadeepb/vdataplane/channel"
	"github.com/ratnadeepb/vdataplane/control"
	"github.com/ratnadeepb/vdataplane/mbuf"
	"github.com/ratnadeepb/vdataplane/mempool"
	"github.com/ratnadeepb/vdataplane/packetiser"
	"github.com/ratnadeepb/vdataplane/port"
	"github.com/ratnadeepb/vdataplane/staging"
)

var _ api.GracefulShutdown = (*Engine)(nil)

// Engine is the primary process' runtime state.
type Engine struct {
	cfg Config

	pool      *mempool.Pool
	port      *port.Port
	registry  *channel.Registry
	responder *arpicmp.Server

	outPkts        *staging.Queue
	toPacketiser   *staging.Queue
	fromPacketiser *staging.Queue

	ctl *control.Facade

	startedAt  time.Time
	packetsIn  atomic.Uint64
	packetsOut atomic.Uint64
	bytesIn    atomic.Uint64
	bytesOut   atomic.Uint64

	shuttingDown atomic.Bool
	wg           sync.WaitGroup
}

// BuildVersion is overridable at link time via -ldflags to stamp the
// running binary's version into ServiceInfo.
var BuildVersion = "dev"

// New builds an engine from cfg: creates the mempool, the port, the
// packetiser channel, and the ARP/ICMP responder's local binding.
func New(cfg Config) (*Engine, error) {
	if cfg.OutPktsCapacity <= 0 {
		cfg.OutPktsCapacity = 4096
	}

	pool, err := mempool.Create(cfg.MempoolName, cfg.MempoolCap, cfg.MempoolBuf)
	if err != nil {
		return nil, fmt.Errorf("engine: create mempool: %w", err)
	}
	p, err := port.New(port.Config{
		IfaceName: cfg.IfaceName,
		RxQueues:  len(cfg.RxCores),
		TxQueues:  len(cfg.TxCores),
		Promisc:   cfg.Promisc,
		Pool:      pool,
	})
	if err != nil {
		pool.Close()
		return nil, fmt.Errorf("engine: configure port: %w", err)
	}

	registry := channel.NewRegistry()
	pktCh, err := channel.CreateWithCapacity(packetiser.ClientID, cfg.RingCapacity)
	if err != nil {
		pool.Close()
		p.Stop()
		return nil, fmt.Errorf("engine: create packetiser channel: %w", err)
	}
	registry.Insert(pktCh)

	responder := arpicmp.NewServer()
	if cfg.LocalIPv4 != "" {
		responder.Bind(cfg.LocalIPv4, p.Capabilities().MAC)
	}

	e := &Engine{
		cfg:            cfg,
		pool:           pool,
		port:           p,
		registry:       registry,
		responder:      responder,
		outPkts:        staging.New(),
		toPacketiser:   staging.New(),
		fromPacketiser: staging.New(),
		ctl:            control.NewFacade(),
		startedAt:      time.Now(),
	}
	e.registerDebugProbes()
	return e, nil
}

func (e *Engine) registerDebugProbes() {
	e.ctl.RegisterDebugProbe("engine.out_pkts_len", func() any { return e.outPkts.Len() })
	e.ctl.RegisterDebugProbe("engine.to_packetiser_len", func() any { return e.toPacketiser.Len() })
	e.ctl.RegisterDebugProbe("engine.from_packetiser_len", func() any { return e.fromPacketiser.Len() })
	e.ctl.RegisterDebugProbe("engine.channels", func() any { return e.registry.Len() })
}

// Control exposes the engine's configuration, metrics and debug probes as
// a single api.Control value, e.g. for a --debug CLI dump.
func (e *Engine) Control() *control.Facade { return e.ctl }

// Registry exposes the channel registry, used by an attach handler to
// register new NF channels as they come up.
func (e *Engine) Registry() *channel.Registry { return e.registry }

// Metrics returns a point-in-time snapshot of traffic counters in the
// standard api.APIMetrics layout, for health endpoints and CLI dumps.
func (e *Engine) Metrics() api.APIMetrics {
	return api.APIMetrics{
		NumChannels:     e.registry.Len(),
		NumPackets:      e.packetsIn.Load() + e.packetsOut.Load(),
		InboundTraffic:  e.bytesIn.Load(),
		OutboundTraffic: e.bytesOut.Load(),
		StartedAt:       e.startedAt,
	}
}

// ServiceInfo reports descriptive build/runtime info for external tools.
func (e *Engine) ServiceInfo() api.ServiceInfo {
	return api.ServiceInfo{
		Name:      "vdataplane-engine",
		Version:   BuildVersion,
		Build:     runtime.Version(),
		StartedAt: e.startedAt,
	}
}

// Start starts the port and waits for the packetiser's startup barrier
// handshake, returning its error if ctx ends first; it then launches the
// pinned RX and TX loops and the packetiser pump loop.
func (e *Engine) Start(ctx context.Context) error {
	if err := e.port.Start(); err != nil {
		return fmt.Errorf("engine: start port: %w", err)
	}
	if err := e.WaitForPacketiser(ctx); err != nil {
		return fmt.Errorf("engine: barrier handshake: %w", err)
	}

	for i, core := range e.cfg.RxCores {
		e.wg.Add(1)
		go e.rxLoop(i, core)
	}
	for i, core := range e.cfg.TxCores {
		e.wg.Add(1)
		go e.txLoop(i, core)
	}
	e.wg.Add(1)
	go e.packetiserPumpLoop()

	if e.cfg.Debug {
		log.Printf("engine: started on %s with %d rx core(s), %d tx core(s)",
			e.cfg.IfaceName, len(e.cfg.RxCores), len(e.cfg.TxCores))
	}
	return nil
}

// Stop signals every loop to exit and waits for them to return. Buffers
// still in flight at shutdown are deliberately leaked rather than
// reclaimed.
func (e *Engine) Stop() error {
	e.shuttingDown.Store(true)
	e.wg.Wait()
	if err := e.port.Stop(); err != nil {
		return err
	}
	if e.cfg.Debug {
		log.Printf("engine: stopped; %d buffers left in flight were not reclaimed",
			e.outPkts.Len()+e.toPacketiser.Len()+e.fromPacketiser.Len())
	}
	return nil
}

// Shutdown satisfies api.GracefulShutdown; it is equivalent to Stop.
func (e *Engine) Shutdown() error { return e.Stop() }

func pinOrLog(cpu int, debug bool) {
	runtime.LockOSThread()
	pin := affinity.NewThreadPin()
	if err := pin.Pin(cpu, -1); err != nil && debug {
		log.Printf("engine: pin to cpu %d failed: %v", cpu, err)
	}
}

// outPktsSaturated reports whether OUT_PKTS is within one burst of its
// configured capacity, the soft cap at which RX stops pulling new frames
// for that iteration rather than letting TX fall further behind.
func (e *Engine) outPktsSaturated() bool {
	return e.outPkts.Len()+e.cfg.BurstSize > e.cfg.OutPktsCapacity
}

func (e *Engine) rxLoop(queue, core int) {
	defer e.wg.Done()
	pinOrLog(core, e.cfg.Debug)
	for !e.shuttingDown.Load() {
		if e.outPktsSaturated() {
			e.ctl.Metrics.Set("engine.rx_backpressure", 1)
			runtime.Gosched()
			continue
		}
		bufs, err := e.port.Receive(queue, e.pool)
		if err != nil {
			if e.cfg.Debug {
				log.Printf("engine: rx queue %d: %v", queue, err)
			}
			continue
		}
		for _, m := range bufs {
			e.packetsIn.Add(1)
			e.bytesIn.Add(uint64(m.PktLen()))
			e.classifyAndRoute(m)
		}
	}
}

func (e *Engine) classifyAndRoute(m *mbuf.Mbuf) {
	pkt := gopacket.NewPacket(m.Bytes(), layers.LayerTypeEthernet, gopacket.NoCopy)
	switch e.responder.Classify(pkt) {
	case arpicmp.VerdictARPRequest:
		e.ctl.Metrics.Set("engine.arp_requests", 1)
		reply, err := e.responder.BuildARPReply(pkt)
		if err != nil {
			m.Free()
			return
		}
		e.stageReply(reply)
		m.Free()
	case arpicmp.VerdictICMPEchoRequest:
		e.ctl.Metrics.Set("engine.icmp_echo_requests", 1)
		reply, err := e.responder.BuildICMPReply(pkt)
		if err != nil {
			m.Free()
			return
		}
		e.stageReply(reply)
		m.Free()
	case arpicmp.VerdictDataPacket:
		e.toPacketiser.Push(m)
	default:
		m.Free()
	}
}

func (e *Engine) stageReply(payload []byte) {
	rm, err := mbuf.AllocRaw(e.pool)
	if err != nil {
		e.ctl.Metrics.Set("engine.mempool_empty", 1)
		return
	}
	if err := rm.Append(payload); err != nil {
		rm.Free()
		return
	}
	e.outPkts.Push(rm)
}

// packetiserPumpLoop moves descriptors between the staging queues and the
// packetiser's C2E/E2C rings, retrying on back-pressure rather than
// blocking the RX/TX loops.
func (e *Engine) packetiserPumpLoop() {
	defer e.wg.Done()
	ch, ok := e.registry.Lookup(packetiser.ClientID)
	if !ok {
		return
	}
	for !e.shuttingDown.Load() {
		moved := false
		if m, ok := e.toPacketiser.Pop(); ok {
			if err := ch.E2C.EnqueueOne(uint64(m.Index())); err != nil {
				e.toPacketiser.Push(m)
				e.ctl.Metrics.Set("engine.e2c_ring_full", 1)
			} else {
				moved = true
			}
		}
		for _, idx := range ch.C2E.DequeueBurst(e.cfg.BurstSize) {
			e.fromPacketiser.Push(mbuf.FromIndex(e.pool, uint32(idx)))
			moved = true
		}
		if !moved {
			runtime.Gosched()
		}
	}
}

func (e *Engine) txLoop(queue, core int) {
	defer e.wg.Done()
	pinOrLog(core, e.cfg.Debug)
	for !e.shuttingDown.Load() {
		bufs := e.outPkts.PopBurst(e.cfg.BurstSize)
		bufs = append(bufs, e.fromPacketiser.PopBurst(e.cfg.BurstSize)...)
		if len(bufs) == 0 {
			runtime.Gosched()
			continue
		}
		sent, err := e.port.Send(bufs, queue)
		if err != nil && e.cfg.Debug {
			log.Printf("engine: tx queue %d: %v", queue, err)
		}
		freed := make([]*mbuf.Mbuf, 0, len(bufs))
		for i, m := range bufs {
			if i < sent {
				e.packetsOut.Add(1)
				e.bytesOut.Add(uint64(m.PktLen()))
			}
			// Buffers the port refused are freed along with the sent ones.
			freed = append(freed, m)
		}
		if len(freed) > 0 {
			if err := mbuf.FreeBulk(freed); err != nil && e.cfg.Debug {
				log.Printf("engine: tx queue %d: free_bulk: %v", queue, err)
			}
		}
	}
}
