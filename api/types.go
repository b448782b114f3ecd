// File: api/types.go
// Author: momentics <momentics@gmail.com>
//
// Shared API-level type declarations, DTOs, and constants.

package api

import "time"

// PortState enumerates the lifecycle state of a port or channel endpoint.
type PortState int

const (
	StateUnknown PortState = iota
	StateConfiguring
	StateActive
	StateDraining
	StateClosed
)

func (s PortState) String() string {
	switch s {
	case StateConfiguring:
		return "configuring"
	case StateActive:
		return "active"
	case StateDraining:
		return "draining"
	case StateClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// APIMetrics provides a standard layout for service health/statistics reporting.
type APIMetrics struct {
	NumChannels     int
	NumPackets      uint64
	InboundTraffic  uint64 // bytes received
	OutboundTraffic uint64 // bytes sent
	StartedAt       time.Time
}

// ServiceInfo exposes descriptive build- and runtime info for external tools.
type ServiceInfo struct {
	Name      string
	Version   string
	Build     string
	StartedAt time.Time
}
