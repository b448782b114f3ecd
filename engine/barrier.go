// File: engine/barrier.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// WaitForPacketiser is the startup barrier: a plain TCP listener standing
// in for a REP-socket style handshake — only the request/reply barrier
// semantics matter, not the transport. It accepts exactly one connection,
// reads whatever the packetiser sends, and replies with a single zero
// byte before closing.

package engine

import (
	"context"
	"fmt"
	"net"

	"github.com/ratnadeepb/vdataplane/api"
)

// WaitForPacketiser blocks until the packetiser dials in, or ctx is
// canceled.
func (e *Engine) WaitForPacketiser(ctx context.Context) error {
	ln, err := net.Listen("tcp", e.cfg.BarrierAddr)
	if err != nil {
		return fmt.Errorf("engine: listen barrier %s: %w", e.cfg.BarrierAddr, err)
	}
	defer ln.Close()

	type result struct {
		conn api.NetConn
		err  error
	}
	acceptCh := make(chan result, 1)
	go func() {
		conn, err := ln.Accept()
		acceptCh <- result{conn, err}
	}()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case r := <-acceptCh:
		if r.err != nil {
			return fmt.Errorf("engine: accept barrier connection: %w", r.err)
		}
		defer r.conn.Close()
		req := make([]byte, 1)
		if _, err := r.conn.Read(req); err != nil {
			return fmt.Errorf("engine: read barrier request: %w", err)
		}
		if _, err := r.conn.Write([]byte{0}); err != nil {
			return fmt.Errorf("engine: write barrier reply: %w", err)
		}
		return nil
	}
}
