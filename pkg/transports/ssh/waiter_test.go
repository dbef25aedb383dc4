package ssh

import (
	"context"
	"net"
	"testing"
	"time"
)

func fastWaitOptions() WaitOptions {
	return WaitOptions{
		Interval:    10 * time.Millisecond,
		Timeout:     500 * time.Millisecond,
		DialTimeout: 100 * time.Millisecond,
	}
}

func TestWaitForReadyListeningPort(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("failed to listen: %v", err)
	}
	defer ln.Close()
	go func() {
		for {
			conn, err := ln.Accept()
			if err != nil {
				return
			}
			_ = conn.Close()
		}
	}()

	if err := WaitForReady(context.Background(), ln.Addr().String(), fastWaitOptions()); err != nil {
		t.Fatalf("expected listening port to be ready: %v", err)
	}
}

func TestWaitForReadyTimesOut(t *testing.T) {
	// A listener that was closed leaves a port nothing accepts on.
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("failed to listen: %v", err)
	}
	address := ln.Addr().String()
	_ = ln.Close()

	if err := WaitForReady(context.Background(), address, fastWaitOptions()); err == nil {
		t.Fatal("expected timeout for closed port")
	}
}

func TestWaitForReadyHonorsContext(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("failed to listen: %v", err)
	}
	address := ln.Addr().String()
	_ = ln.Close()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	opts := fastWaitOptions()
	opts.Timeout = 10 * time.Second
	if err := WaitForReady(ctx, address, opts); err != context.Canceled {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
}
