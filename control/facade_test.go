package control

import (
	"testing"
	"time"
)

func TestNewFacadeRegistersPlatformProbes(t *testing.T) {
	f := NewFacade()
	dump := f.Debug.DumpState()
	if _, ok := dump["platform.cpus"]; !ok {
		t.Fatal("expected NewFacade to register the platform.cpus debug probe")
	}
}

func TestFacadeConfigRoundTrip(t *testing.T) {
	f := NewFacade()
	if err := f.SetConfig(map[string]any{"k": "v"}); err != nil {
		t.Fatalf("SetConfig: %v", err)
	}
	if got := f.GetConfig()["k"]; got != "v" {
		t.Fatalf("GetConfig()[\"k\"] = %v, want v", got)
	}
}

func TestFacadeStatsAndDebugProbe(t *testing.T) {
	f := NewFacade()
	f.Metrics.Set("m", 1)
	if got := f.Stats()["m"]; got != 1 {
		t.Fatalf("Stats()[\"m\"] = %v, want 1", got)
	}

	f.RegisterDebugProbe("custom", func() any { return "ok" })
	if got := f.Debug.DumpState()["custom"]; got != "ok" {
		t.Fatalf("DumpState()[\"custom\"] = %v, want ok", got)
	}
}

func TestFacadeOnReloadFires(t *testing.T) {
	f := NewFacade()
	fired := make(chan struct{}, 1)
	f.OnReload(func() { fired <- struct{}{} })
	f.SetConfig(map[string]any{"a": 1})

	select {
	case <-fired:
	case <-time.After(time.Second):
		t.Fatal("OnReload hook registered via Facade was not invoked after SetConfig")
	}
}
