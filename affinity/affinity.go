// File: affinity/affinity.go
// Author: momentics <momentics@gmail.com>
//
// Platform-neutral API for CPU affinity. Platform-specific implementations are located
// in separate files (affinity_linux.go, affinity_windows.go, etc.) guarded by build tags.

package affinity

import "github.com/ratnadeepb/vdataplane/api"

var _ api.Affinity = (*ThreadPin)(nil)

// SetAffinity pins current OS thread to a given logical CPU/core on supported platforms.
// On unsupported platforms returns an error.
func SetAffinity(cpuID int) error {
	return setAffinityPlatform(cpuID)
}

// ThreadPin is a per-goroutine api.Affinity handle for a poll loop pinned to
// one OS thread; callers must have already called runtime.LockOSThread.
type ThreadPin struct {
	cpuID  int
	pinned bool
}

// NewThreadPin returns an unpinned handle for scope ScopeThread.
func NewThreadPin() *ThreadPin {
	return &ThreadPin{cpuID: -1}
}

// Pin binds the calling OS thread to cpuID; the numaID argument is ignored,
// as Linux pthread affinity has no NUMA-node call of its own.
func (t *ThreadPin) Pin(cpuID, _ int) error {
	if err := setAffinityPlatform(cpuID); err != nil {
		return err
	}
	t.cpuID = cpuID
	t.pinned = true
	return nil
}

// Unpin clears the recorded binding; it does not affect the OS thread's
// actual affinity mask, which only a further Pin call can change.
func (t *ThreadPin) Unpin() error {
	t.pinned = false
	return nil
}

// Get reports the last CPU passed to Pin; NUMA id is always -1.
func (t *ThreadPin) Get() (cpuID, numaID int, err error) {
	if !t.pinned {
		return -1, -1, nil
	}
	return t.cpuID, -1, nil
}

// Scope reports ScopeThread: the binding affects one OS thread.
func (t *ThreadPin) Scope() api.AffinityScope { return api.ScopeThread }

// ImmutableDescriptor snapshots the current binding state.
func (t *ThreadPin) ImmutableDescriptor() api.AffinityDescriptor {
	return api.AffinityDescriptor{
		CPUID:  t.cpuID,
		NUMAID: -1,
		Scope:  api.ScopeThread,
		Pinned: t.pinned,
	}
}
