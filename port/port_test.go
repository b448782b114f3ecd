package port

import (
	"testing"

	"github.com/ratnadeepb/vdataplane/api"
)

func newLoopbackPort(t *testing.T, cfg Config) *Port {
	t.Helper()
	cfg.IfaceName = "lo"
	p, err := New(cfg)
	if err != nil {
		t.Skipf("skipping: opening an AF_PACKET socket requires privileges unavailable here: %v", err)
	}
	return p
}

func TestNewRoundsOddQueueCountsUp(t *testing.T) {
	p := newLoopbackPort(t, Config{RxQueues: 1, TxQueues: 3})
	defer p.Stop()

	caps := p.Capabilities()
	if caps.RxQueues != 2 {
		t.Fatalf("RxQueues = %d, want 2 (rounded up from 1)", caps.RxQueues)
	}
	if caps.TxQueues != 4 {
		t.Fatalf("TxQueues = %d, want 4 (rounded up from 3)", caps.TxQueues)
	}
}

func TestNewDefaultsZeroQueueCountsToTwo(t *testing.T) {
	p := newLoopbackPort(t, Config{})
	defer p.Stop()

	caps := p.Capabilities()
	if caps.RxQueues != 2 || caps.TxQueues != 2 {
		t.Fatalf("Capabilities() = %+v, want RxQueues=2 TxQueues=2", caps)
	}
}

func TestStateTransitionsThroughLifecycle(t *testing.T) {
	p := newLoopbackPort(t, Config{})

	if p.State() != api.StateConfiguring {
		t.Fatalf("State() after New = %v, want StateConfiguring", p.State())
	}
	if err := p.Start(); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if p.State() != api.StateActive {
		t.Fatalf("State() after Start = %v, want StateActive", p.State())
	}
	if err := p.Stop(); err != nil {
		t.Fatalf("Stop: %v", err)
	}
	if p.State() != api.StateClosed {
		t.Fatalf("State() after Stop = %v, want StateClosed", p.State())
	}
}

func TestCapabilitiesReflectConfig(t *testing.T) {
	p := newLoopbackPort(t, Config{Promisc: false})
	defer p.Stop()

	caps := p.Capabilities()
	if caps.IfaceName != "lo" {
		t.Fatalf("IfaceName = %q, want lo", caps.IfaceName)
	}
	if caps.RSSKey != RSSKey {
		t.Fatal("expected Capabilities().RSSKey to match the package RSSKey constant")
	}
}
