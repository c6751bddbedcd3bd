package webrtc

import "testing"

func TestNackGeneratorBuildsNilWhenNothingMissing(t *testing.T) {
	n := NewNackGenerator(42)
	if n.Build() != nil {
		t.Fatal("expected nil NACK when nothing is missing")
	}
}

func TestNackGeneratorTracksAndClearsMissing(t *testing.T) {
	n := NewNackGenerator(42)
	n.MarkMissing(5)
	n.MarkMissing(6)

	if n.Build() == nil {
		t.Fatal("expected a NACK packet once sequence numbers are missing")
	}

	n.MarkReceived(5)
	n.MarkReceived(6)
	if n.Build() != nil {
		t.Fatal("expected no NACK once all missing sequence numbers arrived")
	}
}
