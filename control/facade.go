// control/facade.go
// Author: momentics <momentics@gmail.com>
//
// Facade combines ConfigStore, MetricsRegistry and DebugProbes behind the
// single api.Control contract as a direct implementation, rather than a
// separate hand-written adapter layer.

package control

import "github.com/ratnadeepb/vdataplane/api"

var _ api.Control = (*Facade)(nil)

// Facade exposes configuration, metrics and debug probes through one
// api.Control value.
type Facade struct {
	Config  *ConfigStore
	Metrics *MetricsRegistry
	Debug   *DebugProbes
}

// NewFacade wires up a fresh ConfigStore/MetricsRegistry/DebugProbes trio,
// registering the platform-specific debug probes (e.g. CPU count) up front.
func NewFacade() *Facade {
	f := &Facade{
		Config:  NewConfigStore(),
		Metrics: NewMetricsRegistry(),
		Debug:   NewDebugProbes(),
	}
	RegisterPlatformProbes(f.Debug)
	return f
}

func (f *Facade) GetConfig() map[string]any { return f.Config.GetSnapshot() }

func (f *Facade) SetConfig(cfg map[string]any) error {
	f.Config.SetConfig(cfg)
	return nil
}

func (f *Facade) Stats() map[string]any { return f.Metrics.GetSnapshot() }

func (f *Facade) OnReload(fn func()) { f.Config.OnReload(fn) }

func (f *Facade) RegisterDebugProbe(name string, fn func() any) { f.Debug.RegisterProbe(name, fn) }
