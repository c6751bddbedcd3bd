package webrtc

import (
	"testing"

	"redalf.de/corestream/pkg/metrics"
	"redalf.de/corestream/pkg/udpalloc"
)

func TestNewMuxesICEThroughAllocator(t *testing.T) {
	alloc, err := udpalloc.NewAllocator(41000, 41010, metrics.New("test"))
	if err != nil {
		t.Fatalf("new allocator: %v", err)
	}

	conn, err := New(Config{Publish: false, Allocator: alloc})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer conn.Close()

	if conn.releasePort == nil {
		t.Fatal("expected New to capture the allocator's release func")
	}
}

func TestNewFallsBackToEphemeralRangeWithoutAllocator(t *testing.T) {
	conn, err := New(Config{Publish: false, UDPPortMin: 42000, UDPPortMax: 42010})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer conn.Close()

	if conn.releasePort != nil {
		t.Fatal("expected no releasePort when falling back to SetEphemeralUDPPortRange")
	}
}
