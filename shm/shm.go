// File: shm/shm.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Named shared-memory regions backing the mempool and ring packages.
// Stands in for a hugetlbfs mount: BaseDir defaults to /dev/shm/vdataplane
// and is configurable for deployments that mount real hugepages there.

package shm

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"golang.org/x/sys/unix"
)

// ErrExists is returned by Create when a region of the given name already
// exists, rather than silently truncating and replacing it.
var ErrExists = errors.New("shm: region already exists")

// BaseDir is the directory under which named regions are created. It is a
// package variable rather than a hardcoded constant so tests can redirect
// it to a scratch directory.
var (
	baseDirMu sync.RWMutex
	baseDir   = "/dev/shm/vdataplane"
)

// SetBaseDir overrides the directory used for subsequent Create/Open calls.
func SetBaseDir(dir string) {
	baseDirMu.Lock()
	baseDir = dir
	baseDirMu.Unlock()
}

func currentBaseDir() string {
	baseDirMu.RLock()
	defer baseDirMu.RUnlock()
	return baseDir
}

// Region is a memory-mapped, named, fixed-size shared region.
type Region struct {
	name string
	size int
	data []byte
	f    *os.File
}

func pathFor(name string) string {
	return filepath.Join(currentBaseDir(), name)
}

// Create makes a new region of the given size, failing with ErrExists if a
// region of that name already exists. Zero-initialized, MAP_SHARED so any other process (or this one,
// via Open) mapping the same name observes writes immediately.
func Create(name string, size int) (*Region, error) {
	if size <= 0 {
		return nil, fmt.Errorf("shm: invalid size %d for region %q", size, name)
	}
	dir := currentBaseDir()
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("shm: mkdir %s: %w", dir, err)
	}
	path := pathFor(name)
	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE|os.O_EXCL, 0o644)
	if err != nil {
		if os.IsExist(err) {
			return nil, fmt.Errorf("shm: create %s: %w", path, ErrExists)
		}
		return nil, fmt.Errorf("shm: create %s: %w", path, err)
	}
	return mapRegion(name, size, f)
}

// Open maps an existing region previously created with Create (in this
// process or another one sharing the same BaseDir).
func Open(name string, size int) (*Region, error) {
	path := pathFor(name)
	f, err := os.OpenFile(path, os.O_RDWR, 0o644)
	if err != nil {
		return nil, fmt.Errorf("shm: open %s: %w", path, err)
	}
	return mapRegion(name, size, f)
}

func mapRegion(name string, size int, f *os.File) (*Region, error) {
	if err := unix.Ftruncate(int(f.Fd()), int64(size)); err != nil {
		f.Close()
		return nil, fmt.Errorf("shm: ftruncate %s: %w", name, err)
	}
	data, err := unix.Mmap(int(f.Fd()), 0, size, unix.PROT_READ|unix.PROT_WRITE, unix.MAP_SHARED)
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("shm: mmap %s: %w", name, err)
	}
	return &Region{name: name, size: size, data: data, f: f}, nil
}

// Name returns the region's registry name.
func (r *Region) Name() string { return r.name }

// Size returns the mapped size in bytes.
func (r *Region) Size() int { return r.size }

// Bytes exposes the mapped memory directly. Callers use atomic/unsafe
// access to coordinate across processes; Region itself applies no locking.
func (r *Region) Bytes() []byte { return r.data }

// Close unmaps and closes the backing file descriptor. The backing file on
// disk (or /dev/shm) is left in place so other processes may still Open it.
func (r *Region) Close() error {
	var err error
	if r.data != nil {
		err = unix.Munmap(r.data)
		r.data = nil
	}
	if r.f != nil {
		if cerr := r.f.Close(); cerr != nil && err == nil {
			err = cerr
		}
	}
	return err
}

// Unlink removes the backing file from the named-region directory. Callers
// that own the region's lifetime (typically the engine, which creates
// pools and rings) call this at shutdown; Open()ers never unlink.
func Unlink(name string) error {
	return os.Remove(pathFor(name))
}
