package memenpsf

import (
	"net"
	"path/filepath"
	"testing"
	"time"
)

func unixConnPair(t *testing.T) (client, server *net.UnixConn) {
	t.Helper()
	sockPath := filepath.Join(t.TempDir(), "memenpsf-test.sock")
	addr, err := net.ResolveUnixAddr("unix", sockPath)
	if err != nil {
		t.Fatalf("ResolveUnixAddr: %v", err)
	}
	ln, err := net.ListenUnix("unix", addr)
	if err != nil {
		t.Fatalf("ListenUnix: %v", err)
	}
	t.Cleanup(func() { ln.Close() })

	serverCh := make(chan *net.UnixConn, 1)
	errCh := make(chan error, 1)
	go func() {
		c, err := ln.AcceptUnix()
		if err != nil {
			errCh <- err
			return
		}
		serverCh <- c
	}()

	clientConn, err := net.DialUnix("unix", nil, addr)
	if err != nil {
		t.Fatalf("DialUnix: %v", err)
	}

	select {
	case c := <-serverCh:
		return clientConn, c
	case err := <-errCh:
		t.Fatalf("AcceptUnix: %v", err)
	}
	return nil, nil
}

func TestNewClientNewServerHandshake(t *testing.T) {
	clientConn, serverConn := unixConnPair(t)
	defer clientConn.Close()
	defer serverConn.Close()

	var cliIfc *Interface
	var cliErr error
	done := make(chan struct{})
	go func() {
		cliIfc, cliErr = NewClient(clientConn, 8)
		close(done)
	}()

	srvIfc, err := NewServer(serverConn, 8)
	if err != nil {
		t.Fatalf("NewServer: %v", err)
	}
	<-done
	if cliErr != nil {
		t.Fatalf("NewClient: %v", cliErr)
	}
	defer cliIfc.Close()
	defer srvIfc.Close()
}

func TestXmitRecvRoundTrip(t *testing.T) {
	clientConn, serverConn := unixConnPair(t)
	defer clientConn.Close()
	defer serverConn.Close()

	var cliIfc *Interface
	var cliErr error
	done := make(chan struct{})
	go func() {
		cliIfc, cliErr = NewClient(clientConn, 4)
		close(done)
	}()
	srvIfc, err := NewServer(serverConn, 4)
	if err != nil {
		t.Fatalf("NewServer: %v", err)
	}
	<-done
	if cliErr != nil {
		t.Fatalf("NewClient: %v", cliErr)
	}
	defer cliIfc.Close()
	defer srvIfc.Close()

	var elem [ElemSize]byte
	copy(elem[:], "hello-memenpsf")

	// Client writes to its c2s ring; drain the control message the
	// server side doesn't need to read (it's async signaling only).
	if err := cliIfc.Xmit(elem); err != nil {
		t.Fatalf("client Xmit: %v", err)
	}
	// Drain the WRITE control message so it doesn't wedge the next
	// sendControl-adjacent Read on this connection in other tests.
	var ctl [4]byte
	if _, err := serverConn.Read(ctl[:]); err != nil {
		t.Fatalf("read control message: %v", err)
	}

	got, err := srvIfc.Recv()
	if err != nil {
		t.Fatalf("server Recv: %v", err)
	}
	if got != elem {
		t.Fatalf("Recv() = %v, want %v", got, elem)
	}
}

func TestCapacityRejected(t *testing.T) {
	clientConn, serverConn := unixConnPair(t)
	defer clientConn.Close()
	defer serverConn.Close()

	if _, err := NewClient(clientConn, 0); err != ErrCapacityTooLarge {
		t.Fatalf("NewClient(0) = %v, want ErrCapacityTooLarge", err)
	}
	if _, err := NewClient(clientConn, MaxCapacity+1); err != ErrCapacityTooLarge {
		t.Fatalf("NewClient(MaxCapacity+1) = %v, want ErrCapacityTooLarge", err)
	}
	if _, err := NewServer(serverConn, 0); err != ErrCapacityTooLarge {
		t.Fatalf("NewServer(0) = %v, want ErrCapacityTooLarge", err)
	}
}

func TestRecvVectoredDrainsWithSingleControlMessage(t *testing.T) {
	clientConn, serverConn := unixConnPair(t)
	defer clientConn.Close()
	defer serverConn.Close()

	var cliIfc *Interface
	var cliErr error
	done := make(chan struct{})
	go func() {
		cliIfc, cliErr = NewClient(clientConn, 4)
		close(done)
	}()
	srvIfc, err := NewServer(serverConn, 4)
	if err != nil {
		t.Fatalf("NewServer: %v", err)
	}
	<-done
	if cliErr != nil {
		t.Fatalf("NewClient: %v", cliErr)
	}
	defer cliIfc.Close()
	defer srvIfc.Close()

	var a, b [ElemSize]byte
	copy(a[:], "first")
	copy(b[:], "second")

	if err := cliIfc.Xmit(a); err != nil {
		t.Fatalf("client Xmit(a): %v", err)
	}
	var ctl [4]byte
	if _, err := serverConn.Read(ctl[:]); err != nil {
		t.Fatalf("read first WRITE control message: %v", err)
	}
	if err := cliIfc.Xmit(b); err != nil {
		t.Fatalf("client Xmit(b): %v", err)
	}
	if _, err := serverConn.Read(ctl[:]); err != nil {
		t.Fatalf("read second WRITE control message: %v", err)
	}

	got := srvIfc.RecvVectored(8)
	if len(got) != 2 || got[0] != a || got[1] != b {
		t.Fatalf("RecvVectored() = %v, want [a, b]", got)
	}

	// Exactly one READ control message should have been emitted, carrying
	// ridx=2 (the final head index after draining both elements).
	type readResult struct {
		n   int
		buf [4]byte
		err error
	}
	readCh := make(chan readResult, 1)
	go func() {
		var buf [4]byte
		n, err := clientConn.Read(buf[:])
		readCh <- readResult{n, buf, err}
	}()

	select {
	case r := <-readCh:
		if r.err != nil {
			t.Fatalf("read READ control message: %v", r.err)
		}
		if r.buf[1] != opRead {
			t.Fatalf("control opcode = %d, want opRead (%d)", r.buf[1], opRead)
		}
		if r.buf[3] != 2 {
			t.Fatalf("control ridx = %d, want 2", r.buf[3])
		}
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for the single READ control message")
	}

	// No second control message should follow; confirm the connection has
	// nothing further buffered within a short window.
	clientConn.SetReadDeadline(time.Now().Add(50 * time.Millisecond))
	var extra [4]byte
	if _, err := clientConn.Read(extra[:]); err == nil {
		t.Fatal("expected exactly one READ control message, got a second one")
	}
	clientConn.SetReadDeadline(time.Time{})
}

func TestRecvOnEmptyRingReturnsErrNoEntries(t *testing.T) {
	clientConn, serverConn := unixConnPair(t)
	defer clientConn.Close()
	defer serverConn.Close()

	var cliIfc *Interface
	done := make(chan struct{})
	go func() {
		cliIfc, _ = NewClient(clientConn, 4)
		close(done)
	}()
	srvIfc, err := NewServer(serverConn, 4)
	if err != nil {
		t.Fatalf("NewServer: %v", err)
	}
	<-done
	defer cliIfc.Close()
	defer srvIfc.Close()

	if _, err := srvIfc.Recv(); err != ErrNoEntries {
		t.Fatalf("Recv on empty ring = %v, want ErrNoEntries", err)
	}
}
