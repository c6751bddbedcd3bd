package webrtc

import (
	"testing"

	"github.com/pion/rtp"
)

func TestRTXBufferStoreAndGet(t *testing.T) {
	b := NewRTXBuffer()
	pkt := &rtp.Packet{Header: rtp.Header{SequenceNumber: 100}, Payload: []byte{1, 2, 3}}
	b.Store(pkt)

	got, ok := b.Get(100)
	if !ok || got != pkt {
		t.Fatal("expected stored packet to be retrievable by sequence number")
	}

	if _, ok := b.Get(101); ok {
		t.Fatal("expected a sequence number never stored to miss")
	}
}

func TestRTXBufferRingOverwriteInvalidatesStaleSlot(t *testing.T) {
	b := NewRTXBuffer()
	const wrapped = uint16(1 + rtxBufferSize)
	first := &rtp.Packet{Header: rtp.Header{SequenceNumber: 1}}
	second := &rtp.Packet{Header: rtp.Header{SequenceNumber: wrapped}}
	b.Store(first)
	b.Store(second)

	if _, ok := b.Get(1); ok {
		t.Fatal("expected the original sequence number's ring slot to be considered stale after overwrite")
	}
	got, ok := b.Get(wrapped)
	if !ok || got != second {
		t.Fatal("expected the newer packet to occupy the shared ring slot")
	}
}

func TestPLICoalescerFiresOnceUntilFlushed(t *testing.T) {
	calls := 0
	c := NewPLICoalescer(func() { calls++ })

	c.Flush() // nothing requested yet
	if calls != 0 {
		t.Fatalf("expected no fire before any Request, got %d", calls)
	}

	c.Request()
	c.Request()
	c.Flush()
	if calls != 1 {
		t.Fatalf("expected exactly one coalesced fire, got %d", calls)
	}

	c.Flush()
	if calls != 1 {
		t.Fatalf("expected no additional fire without a new Request, got %d", calls)
	}
}
