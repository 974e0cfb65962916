package transport

import (
	"net"
	"testing"
	"time"
)

func TestStreamChannelRoundTrip(t *testing.T) {
	a, b := net.Pipe()
	defer a.Close()
	defer b.Close()

	ca := NewStreamChannel(a)
	cb := NewStreamChannel(b)

	msg := []byte("hello sync peer")
	done := make(chan error, 1)
	go func() { done <- ca.Send(msg) }()

	got, err := cb.Receive()
	if err != nil {
		t.Fatalf("Receive: %v", err)
	}
	if err := <-done; err != nil {
		t.Fatalf("Send: %v", err)
	}
	if string(got) != string(msg) {
		t.Fatalf("got %q, want %q", got, msg)
	}
}

func TestStreamChannelPreservesBoundaries(t *testing.T) {
	a, b := net.Pipe()
	defer a.Close()
	defer b.Close()

	ca := NewStreamChannel(a)
	cb := NewStreamChannel(b)

	msgs := [][]byte{[]byte("one"), []byte("two"), []byte("three")}
	go func() {
		for _, m := range msgs {
			if err := ca.Send(m); err != nil {
				return
			}
		}
	}()

	for _, want := range msgs {
		got, err := cb.Receive()
		if err != nil {
			t.Fatalf("Receive: %v", err)
		}
		if string(got) != string(want) {
			t.Fatalf("got %q, want %q", got, want)
		}
	}
}

func TestPacketChannelRoundTrip(t *testing.T) {
	connA, err := net.ListenPacket("udp", "127.0.0.1:0")
	if err != nil {
		t.Skipf("no UDP available in this sandbox: %v", err)
	}
	defer connA.Close()
	connB, err := net.ListenPacket("udp", "127.0.0.1:0")
	if err != nil {
		t.Skipf("no UDP available in this sandbox: %v", err)
	}
	defer connB.Close()

	ca := NewPacketChannel(connA, connB.LocalAddr())
	cb := NewPacketChannel(connB, connA.LocalAddr())

	msg := []byte("hello over udp")
	if err := ca.Send(msg); err != nil {
		t.Fatalf("Send: %v", err)
	}

	connB.SetReadDeadline(time.Now().Add(2 * time.Second))
	got, err := cb.Receive()
	if err != nil {
		t.Fatalf("Receive: %v", err)
	}
	if string(got) != string(msg) {
		t.Fatalf("got %q, want %q", got, msg)
	}
}

func TestPacketChannelRejectsOversizedMessage(t *testing.T) {
	connA, err := net.ListenPacket("udp", "127.0.0.1:0")
	if err != nil {
		t.Skipf("no UDP available in this sandbox: %v", err)
	}
	defer connA.Close()

	ca := NewPacketChannel(connA, connA.LocalAddr())
	if err := ca.Send(make([]byte, MaxDatagramSize+1)); err == nil {
		t.Fatal("expected oversized message to be rejected")
	}
}
