// File: api/shutdown.go
// Package api defines unified graceful shutdown contract.
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0

package api

// GracefulShutdown is implemented by components that need an orderly,
// idempotent stop distinct from process termination.
type GracefulShutdown interface {
	Shutdown() error
}
