package spark

import (
	"context"
	"net"
	"testing"
	"time"
)

func TestEndpoint_Serve_ExchangesHello(t *testing.T) {
	srv, cli := net.Pipe()
	a := NewEndpoint(srv, 65536, "login/1.0")
	b := NewEndpoint(cli, 65536, "gateway/1.0")
	defer a.Close()
	defer b.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go a.Serve(ctx)
	go b.Serve(ctx)

	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) {
		if a.PeerBanner() == "gateway/1.0" && b.PeerBanner() == "login/1.0" {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("banners not exchanged: a.peer=%q b.peer=%q", a.PeerBanner(), b.PeerBanner())
}

func TestEndpoint_Close_IsIdempotentAndStopsServe(t *testing.T) {
	srv, cli := net.Pipe()
	a := NewEndpoint(srv, 65536, "a")
	b := NewEndpoint(cli, 65536, "b")
	defer b.Close()

	done := make(chan error, 1)
	go func() { done <- a.Serve(context.Background()) }()

	time.Sleep(10 * time.Millisecond)
	if err := a.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if err := a.Close(); err != nil {
		t.Fatalf("second Close: %v", err)
	}

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Serve did not return after Close")
	}
}

func TestEndpoint_OpenChannel_ReservedIDRejected(t *testing.T) {
	srv, cli := net.Pipe()
	a := NewEndpoint(srv, 65536, "a")
	b := NewEndpoint(cli, 65536, "b")
	defer a.Close()
	defer b.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go a.Serve(ctx)
	go b.Serve(ctx)

	if _, err := a.OpenChannel(context.Background(), "anything", "", ControlChannel, nil); err != ErrChannelIDReserved {
		t.Fatalf("err = %v, want ErrChannelIDReserved", err)
	}
}
