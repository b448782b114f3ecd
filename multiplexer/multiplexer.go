// File: multiplexer/multiplexer.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Multiplexer is the NF multiplexer: it accepts memenpsf connections from
// NF processes over a well-known Unix socket, reads a fixed-width service
// name, and maintains a per-service channel pair. Routing policy (which
// five-tuple goes to which service) lives in a control.ConfigStore so it
// can be hot-reloaded without restarting the multiplexer.

package multiplexer

import (
	"errors"
	"fmt"
	"net"
	"strings"
	"sync"

	"github.com/ratnadeepb/vdataplane/control"
	"github.com/ratnadeepb/vdataplane/internal/concurrency"
	"github.com/ratnadeepb/vdataplane/memenpsf"
	"github.com/ratnadeepb/vdataplane/netutil"
)

// handshakeWorkers bounds how many NF connections can be mid-handshake
// (service-name read + memenpsf accept) at once.
const handshakeWorkers = 4

// DefaultSocketPath is the well-known rendezvous socket for NF attachment.
const DefaultSocketPath = "/tmp/fd-passrd.socket"

// ServiceNameLen is the fixed, NUL-padded service-name field width read
// from every new connection before the memenpsf handshake.
const ServiceNameLen = 30

// DefaultRingCapacity is the memenpsf ring capacity offered to NFs.
const DefaultRingCapacity = 128

var (
	ErrUnknownService = errors.New("multiplexer: unknown service")
	ErrChannelFull    = errors.New("multiplexer: outbound channel full")
)

// ServiceChannels holds one NF's live memenpsf interface plus the
// in-process channels pumping descriptors to/from it.
type ServiceChannels struct {
	Name        string
	Iface       *memenpsf.Interface
	ToService   chan [memenpsf.ElemSize]byte
	FromService chan [memenpsf.ElemSize]byte
	stop        chan struct{}
}

// Multiplexer owns the Unix-socket listener and the live service table.
type Multiplexer struct {
	mu        sync.RWMutex
	services  map[string]*ServiceChannels
	listener  *net.UnixListener
	routes    *control.ConfigStore
	capacity  int
	handshake *concurrency.Executor
}

// New constructs a multiplexer that will listen on socketPath once Start is
// called, consulting routes for hot-reloadable five-tuple routing policy.
func New(routes *control.ConfigStore) *Multiplexer {
	return &Multiplexer{
		services:  make(map[string]*ServiceChannels),
		routes:    routes,
		capacity:  DefaultRingCapacity,
		handshake: concurrency.NewExecutor(handshakeWorkers, 0),
	}
}

// Start listens on socketPath and accepts NF connections in a background
// goroutine, returning immediately; Stop ends the accept loop. This
// mirrors engine.Engine's Start/Stop pairing.
func (m *Multiplexer) Start(socketPath string) error {
	if socketPath == "" {
		socketPath = DefaultSocketPath
	}
	_ = unixRemoveStale(socketPath)
	addr, err := net.ResolveUnixAddr("unix", socketPath)
	if err != nil {
		return fmt.Errorf("multiplexer: resolve %s: %w", socketPath, err)
	}
	ln, err := net.ListenUnix("unix", addr)
	if err != nil {
		return fmt.Errorf("multiplexer: listen %s: %w", socketPath, err)
	}
	m.listener = ln
	go m.acceptLoop()
	return nil
}

// Stop closes the listener and every registered service's interface.
func (m *Multiplexer) Stop() error {
	var err error
	if m.listener != nil {
		err = m.listener.Close()
	}
	m.mu.Lock()
	for _, sc := range m.services {
		close(sc.stop)
		sc.Iface.Close()
	}
	m.services = make(map[string]*ServiceChannels)
	m.mu.Unlock()
	m.handshake.Close()
	return err
}

func (m *Multiplexer) acceptLoop() {
	for {
		conn, err := m.listener.AcceptUnix()
		if err != nil {
			return
		}
		c := conn
		if err := m.handshake.Submit(func() { m.handleConn(c) }); err != nil {
			c.Close()
		}
	}
}

func (m *Multiplexer) handleConn(conn *net.UnixConn) {
	var nameBuf [ServiceNameLen]byte
	if _, err := conn.Read(nameBuf[:]); err != nil {
		conn.Close()
		return
	}
	name := strings.TrimRight(string(nameBuf[:]), "\x00")
	if name == "" {
		conn.Close()
		return
	}
	ifc, err := memenpsf.NewServer(conn, m.capacity)
	if err != nil {
		conn.Close()
		return
	}
	sc := &ServiceChannels{
		Name:        name,
		Iface:       ifc,
		ToService:   make(chan [memenpsf.ElemSize]byte, m.capacity),
		FromService: make(chan [memenpsf.ElemSize]byte, m.capacity),
		stop:        make(chan struct{}),
	}
	m.mu.Lock()
	m.services[name] = sc
	m.mu.Unlock()

	go m.pumpOut(sc)
	go m.pumpIn(sc)
}

func (m *Multiplexer) pumpOut(sc *ServiceChannels) {
	for {
		select {
		case <-sc.stop:
			return
		case elem := <-sc.ToService:
			if err := sc.Iface.Xmit(elem); err != nil {
				return
			}
		}
	}
}

func (m *Multiplexer) pumpIn(sc *ServiceChannels) {
	for {
		select {
		case <-sc.stop:
			return
		default:
			elem, err := sc.Iface.Recv()
			if err != nil {
				continue
			}
			select {
			case sc.FromService <- elem:
			case <-sc.stop:
				return
			}
		}
	}
}

// Send pushes elem onto the named service's outbound queue.
func (m *Multiplexer) Send(service string, elem [memenpsf.ElemSize]byte) error {
	m.mu.RLock()
	sc, ok := m.services[service]
	m.mu.RUnlock()
	if !ok {
		return ErrUnknownService
	}
	select {
	case sc.ToService <- elem:
		return nil
	default:
		return ErrChannelFull
	}
}

// ServiceFor consults the hot-reloadable routing policy for the service
// name owning tuple's traffic.
func (m *Multiplexer) ServiceFor(tuple netutil.FiveTuple) (string, bool) {
	key := routeKey(tuple)
	snap := m.routes.GetSnapshot()
	v, ok := snap[key]
	if !ok {
		return "", false
	}
	name, ok := v.(string)
	return name, ok
}

// SetRoute installs or updates the service routing policy for tuple,
// taking effect immediately via ConfigStore's hot-reload hooks.
func (m *Multiplexer) SetRoute(tuple netutil.FiveTuple, service string) {
	m.routes.SetConfig(map[string]any{routeKey(tuple): service})
}

func routeKey(tuple netutil.FiveTuple) string {
	return "route:" + tuple.String()
}

func unixRemoveStale(path string) error {
	return removeIfSocket(path)
}
