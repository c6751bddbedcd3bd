package webrtc

import (
	"net"
	"testing"
)

func mustParseIP(s string) net.IP {
	ip := net.ParseIP(s)
	if ip == nil {
		panic("invalid test IP: " + s)
	}
	return ip
}

func TestDiscoverCandidatesPrefersFixedList(t *testing.T) {
	ips, err := DiscoverCandidates(CandidateDiscoveryConfig{Fixed: []string{"203.0.113.10"}})
	if err != nil {
		t.Fatalf("DiscoverCandidates failed: %v", err)
	}
	if len(ips) != 1 || ips[0] != "203.0.113.10" {
		t.Fatalf("expected the fixed list verbatim, got %+v", ips)
	}
}

func TestDiscoverCandidatesErrorsWithNoSource(t *testing.T) {
	_, err := DiscoverCandidates(CandidateDiscoveryConfig{})
	if err == nil {
		t.Fatal("expected an error when no candidate source is configured at all")
	}
}

func TestIsPrivateRecognizesRFC1918(t *testing.T) {
	if !isPrivate(mustParseIP("192.168.1.1")) {
		t.Fatal("expected 192.168.1.1 to be classified private")
	}
	if isPrivate(mustParseIP("8.8.8.8")) {
		t.Fatal("expected 8.8.8.8 to not be classified private")
	}
}
