// File: cmd/nfclient/main.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// nfclient is a minimal NF: it attaches to the multiplexer's well-known
// Unix socket via memenpsf, logs descriptor throughput, and echoes every
// descriptor it receives back to the engine, exercising the full
// multiplexer<->NF path end to end.

package main

import (
	"flag"
	"log"
	"net"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/ratnadeepb/vdataplane/memenpsf"
	"github.com/ratnadeepb/vdataplane/multiplexer"
)

func main() {
	os.Exit(run())
}

func run() int {
	socketPath := flag.String("socket", multiplexer.DefaultSocketPath, "multiplexer rendezvous socket")
	serviceName := flag.String("service", "basic-monitor", "service name to register as")
	ringCapacity := flag.Int("ring-capacity", multiplexer.DefaultRingCapacity, "memenpsf ring capacity")
	debug := flag.Bool("debug", false, "log every descriptor echoed")
	flag.Parse()

	addr, err := net.ResolveUnixAddr("unix", *socketPath)
	if err != nil {
		log.Printf("nfclient: resolve %s: %v", *socketPath, err)
		return 1
	}
	conn, err := net.DialUnix("unix", nil, addr)
	if err != nil {
		log.Printf("nfclient: dial %s: %v", *socketPath, err)
		return 1
	}
	defer conn.Close()

	var nameBuf [multiplexer.ServiceNameLen]byte
	copy(nameBuf[:], *serviceName)
	if _, err := conn.Write(nameBuf[:]); err != nil {
		log.Printf("nfclient: send service name: %v", err)
		return 1
	}

	ifc, err := memenpsf.NewClient(conn, *ringCapacity)
	if err != nil {
		log.Printf("nfclient: memenpsf handshake: %v", err)
		return 1
	}
	defer ifc.Close()

	stop := make(chan struct{})
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	go func() {
		<-sigCh
		close(stop)
	}()

	var count uint64
	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-stop:
			log.Printf("nfclient: shutting down, echoed %d descriptors", count)
			return 0
		case <-ticker.C:
			if *debug {
				log.Printf("nfclient: %d descriptors echoed so far", count)
			}
		default:
			elem, err := ifc.Recv()
			if err != nil {
				continue
			}
			if err := ifc.Xmit(elem); err != nil {
				log.Printf("nfclient: echo failed: %v", err)
				continue
			}
			count++
		}
	}
}
