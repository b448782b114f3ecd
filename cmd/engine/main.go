// File: cmd/engine/main.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Entrypoint for the primary packet engine process.

package main

import (
	"context"
	"flag"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/ratnadeepb/vdataplane/engine"
)

func main() {
	os.Exit(run())
}

func run() int {
	cfg := engine.DefaultConfig()

	procType := flag.String("proc-type", "primary", "process role: primary")
	iface := flag.String("iface", cfg.IfaceName, "network interface to bind")
	workers := flag.Int("workers", 1, "number of RX/TX core pairs")
	mempoolSize := flag.Uint("mempool-size", uint(cfg.MempoolCap), "mempool capacity in buffers")
	ringCapacity := flag.Uint("ring-capacity", uint(cfg.RingCapacity), "packetiser ring capacity (power of two)")
	outPktsCapacity := flag.Int("out-pkts-capacity", cfg.OutPktsCapacity, "soft capacity of the OUT_PKTS staging queue before RX applies back-pressure")
	barrierAddr := flag.String("barrier-addr", cfg.BarrierAddr, "TCP address for the packetiser startup barrier")
	localIPv4 := flag.String("local-ipv4", "", "local IPv4 address the ARP/ICMP responder answers for")
	debug := flag.Bool("debug", false, "enable verbose lifecycle and error logging")
	flag.Parse()

	if *procType != "primary" {
		log.Printf("engine: unexpected --proc-type=%s, this binary only runs the primary role", *procType)
		return 1
	}

	cfg.IfaceName = *iface
	cfg.MempoolCap = uint32(*mempoolSize)
	cfg.RingCapacity = uint32(*ringCapacity)
	cfg.OutPktsCapacity = *outPktsCapacity
	cfg.BarrierAddr = *barrierAddr
	cfg.LocalIPv4 = *localIPv4
	cfg.Debug = *debug
	cfg.RxCores = coreList(*workers, 0)
	cfg.TxCores = coreList(*workers, *workers)

	e, err := engine.New(cfg)
	if err != nil {
		log.Printf("engine: initialization failed: %v", err)
		return 1
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if err := e.Start(ctx); err != nil {
		log.Printf("engine: start failed: %v", err)
		return 1
	}
	if cfg.Debug {
		info := e.ServiceInfo()
		log.Printf("engine: %s %s (%s) started", info.Name, info.Version, info.Build)
	}

	<-ctx.Done()
	if err := e.Stop(); err != nil {
		log.Printf("engine: stop failed: %v", err)
		return 1
	}
	if cfg.Debug {
		m := e.Metrics()
		log.Printf("engine: shutdown metrics: %d channels, %d packets, %d bytes in, %d bytes out",
			m.NumChannels, m.NumPackets, m.InboundTraffic, m.OutboundTraffic)
	}
	return 0
}

func coreList(n, offset int) []int {
	cores := make([]int, n)
	for i := range cores {
		cores[i] = offset + i
	}
	return cores
}
