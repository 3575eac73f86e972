package spark

import (
	"bytes"
	"net"
	"testing"
	"time"

	"github.com/google/uuid"
)

func TestFrameConn_RoundTrip(t *testing.T) {
	srv, cli := net.Pipe()
	defer srv.Close()
	defer cli.Close()

	server := newFrameConn(srv, 4096)
	client := newFrameConn(cli, 4096)

	token := uuid.New()
	payload := []byte("hello spark")

	done := make(chan error, 1)
	go func() { done <- server.writeMessage(3, token, true, payload) }()

	msg, err := client.readMessage()
	if err != nil {
		t.Fatalf("readMessage: %v", err)
	}
	if err := <-done; err != nil {
		t.Fatalf("writeMessage: %v", err)
	}

	if msg.channel != 3 {
		t.Fatalf("channel = %d, want 3", msg.channel)
	}
	if msg.token != token {
		t.Fatalf("token = %v, want %v", msg.token, token)
	}
	if !msg.response {
		t.Fatal("response flag not set")
	}
	if !bytes.Equal(msg.payload, payload) {
		t.Fatalf("payload = %q, want %q", msg.payload, payload)
	}
}

func TestFrameConn_OversizeRejected(t *testing.T) {
	srv, cli := net.Pipe()
	defer srv.Close()
	defer cli.Close()

	server := newFrameConn(srv, 4)
	client := newFrameConn(cli, 4)

	go server.writeMessage(0, uuid.Nil, false, []byte("too big"))

	if _, err := client.readMessage(); err == nil {
		t.Fatal("expected oversize error, got nil")
	}
}

func TestFrameConn_ConcurrentWritesDoNotInterleave(t *testing.T) {
	srv, cli := net.Pipe()
	defer srv.Close()
	defer cli.Close()

	server := newFrameConn(srv, 4096)
	client := newFrameConn(cli, 4096)

	const n = 10
	go func() {
		for i := 0; i < n; i++ {
			go server.writeMessage(byte(i), uuid.Nil, false, []byte{byte(i)})
		}
	}()

	seen := make(map[byte]bool)
	deadline := time.Now().Add(2 * time.Second)
	for len(seen) < n && time.Now().Before(deadline) {
		msg, err := client.readMessage()
		if err != nil {
			t.Fatalf("readMessage: %v", err)
		}
		if len(msg.payload) != 1 || msg.payload[0] != msg.channel {
			t.Fatalf("corrupted frame: channel=%d payload=%x", msg.channel, msg.payload)
		}
		seen[msg.channel] = true
	}
	if len(seen) != n {
		t.Fatalf("received %d distinct frames, want %d", len(seen), n)
	}
}
