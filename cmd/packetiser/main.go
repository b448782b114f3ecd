// File: cmd/packetiser/main.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Entrypoint for the secondary packetiser process.

package main

import (
	"flag"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/ratnadeepb/vdataplane/packetiser"
)

func main() {
	os.Exit(run())
}

func run() int {
	procType := flag.String("proc-type", "secondary", "process role: secondary")
	mempoolName := flag.String("mempool-name", "vdataplane-engine-pool", "shared mempool name to attach to")
	mempoolSize := flag.Uint("mempool-size", 4096, "mempool capacity in buffers (must match the engine)")
	bufSize := flag.Uint("mempool-buf-size", 2048, "mempool buffer size in bytes (must match the engine)")
	ringCapacity := flag.Uint("ring-capacity", 512, "packetiser ring capacity (must match the engine)")
	barrierAddr := flag.String("barrier-addr", ":5555", "engine's startup barrier address")
	burstSize := flag.Int("burst-size", 32, "descriptors dequeued per loop iteration")
	debug := flag.Bool("debug", false, "enable verbose lifecycle and error logging")
	flag.Parse()

	if *procType != "secondary" {
		log.Printf("packetiser: unexpected --proc-type=%s, this binary only runs the secondary role", *procType)
		return 1
	}

	p, err := packetiser.New(packetiser.Config{
		MempoolName:  *mempoolName,
		MempoolCap:   uint32(*mempoolSize),
		MempoolBuf:   uint32(*bufSize),
		RingCapacity: uint32(*ringCapacity),
		BarrierAddr:  *barrierAddr,
		BurstSize:    *burstSize,
	})
	if err != nil {
		log.Printf("packetiser: initialization failed: %v", err)
		return 1
	}

	if err := p.DialBarrier(); err != nil {
		log.Printf("packetiser: barrier handshake failed: %v", err)
		return 1
	}
	if *debug {
		log.Printf("packetiser: attached to mempool %s, running", *mempoolName)
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	go p.Run()
	<-sigCh
	p.Stop()
	return 0
}
