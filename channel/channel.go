// File: channel/channel.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Channel pairs one C2E-<id> ring (client-to-engine) with one E2C-<id> ring
// (engine-to-client) under a single client id, giving each client a named
// per-client ring-pair.

package channel

import (
	"fmt"

	"github.com/ratnadeepb/vdataplane/ring"
)

const (
	kindC2E = "C2E"
	kindE2C = "E2C"
)

// DefaultRingCapacity is the fixed ring size used unless a caller
// overrides it via CreateWithCapacity.
const DefaultRingCapacity = 512

// Channel is a bound pair of rings identified by a client id.
type Channel struct {
	ID  uint16
	C2E *ring.Ring // client writes, engine reads
	E2C *ring.Ring // engine writes, client reads
}

// Create allocates a fresh ring pair for id, sized to DefaultRingCapacity.
func Create(id uint16) (*Channel, error) {
	return CreateWithCapacity(id, DefaultRingCapacity)
}

// CreateWithCapacity allocates a fresh ring pair for id with a caller
// supplied (power-of-two) capacity.
func CreateWithCapacity(id uint16, capacity uint32) (*Channel, error) {
	c2e, err := ring.Create(ring.Name(kindC2E, id), capacity)
	if err != nil {
		return nil, fmt.Errorf("channel: create %s ring: %w", ring.Name(kindC2E, id), err)
	}
	e2c, err := ring.Create(ring.Name(kindE2C, id), capacity)
	if err != nil {
		c2e.Close()
		return nil, fmt.Errorf("channel: create %s ring: %w", ring.Name(kindE2C, id), err)
	}
	return &Channel{ID: id, C2E: c2e, E2C: e2c}, nil
}

// Lookup opens both rings of an existing channel. It fails unless both
// rings exist — a channel is never half-present.
func Lookup(id uint16, capacity uint32) (*Channel, error) {
	c2e, err := ring.Open(ring.Name(kindC2E, id), capacity)
	if err != nil {
		return nil, fmt.Errorf("channel: open %s ring: %w", ring.Name(kindC2E, id), err)
	}
	e2c, err := ring.Open(ring.Name(kindE2C, id), capacity)
	if err != nil {
		c2e.Close()
		return nil, fmt.Errorf("channel: open %s ring: %w", ring.Name(kindE2C, id), err)
	}
	return &Channel{ID: id, C2E: c2e, E2C: e2c}, nil
}

// Close unmaps both rings.
func (c *Channel) Close() error {
	err1 := c.C2E.Close()
	err2 := c.E2C.Close()
	if err1 != nil {
		return err1
	}
	return err2
}
