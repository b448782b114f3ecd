// File: engine/config.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Config is a plain struct with a constructor filling in sane defaults,
// handed to New.

package engine

// Config configures a primary engine instance.
type Config struct {
	IfaceName       string
	MempoolName     string
	MempoolCap      uint32
	MempoolBuf      uint32
	RingCapacity    uint32
	BurstSize       int
	OutPktsCapacity int
	RxCores         []int
	TxCores         []int
	BarrierAddr     string
	LocalIPv4       string
	Promisc         bool
	Debug           bool
}

// DefaultConfig returns a Config usable for local testing: one RX core,
// one TX core, a modest mempool and burst size.
func DefaultConfig() Config {
	return Config{
		IfaceName:       "eth0",
		MempoolName:     "vdataplane-engine-pool",
		MempoolCap:      4096,
		MempoolBuf:      2048,
		RingCapacity:    512,
		BurstSize:       32,
		OutPktsCapacity: 4096,
		RxCores:         []int{0},
		TxCores:         []int{1},
		BarrierAddr:     ":5555",
		Promisc:         true,
	}
}
