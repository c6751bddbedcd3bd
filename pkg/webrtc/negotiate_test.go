package webrtc

import (
	"testing"

	"github.com/pion/webrtc/v4"
)

func TestParseExtmap(t *testing.T) {
	id, uri, ok := parseExtmap("3 http://www.webrtc.org/experiments/rtp-hdrext/transport-wide-cc-02")
	if !ok || id != 3 {
		t.Fatalf("expected id 3, got %d ok=%v", id, ok)
	}
	if uri == "" {
		t.Fatal("expected a non-empty uri")
	}
}

func TestParseExtmapRejectsMalformed(t *testing.T) {
	if _, _, ok := parseExtmap("not-a-valid-extmap-line"); ok {
		t.Fatal("expected malformed extmap value to be rejected")
	}
}

func TestParseOfferDetectsActiveSetupAndExtensions(t *testing.T) {
	sdpBody := "v=0\r\n" +
		"o=- 0 0 IN IP4 127.0.0.1\r\n" +
		"s=-\r\n" +
		"t=0 0\r\n" +
		"m=video 9 UDP/TLS/RTP/SAVPF 96\r\n" +
		"c=IN IP4 0.0.0.0\r\n" +
		"a=setup:active\r\n" +
		"a=extmap:3 http://www.webrtc.org/experiments/rtp-hdrext/transport-wide-cc-02\r\n"

	offer, err := ParseOffer(webrtc.SessionDescription{Type: webrtc.SDPTypeOffer, SDP: sdpBody})
	if err != nil {
		t.Fatalf("ParseOffer failed: %v", err)
	}
	if !offer.DTLSActive {
		t.Fatal("expected a=setup:active to be detected")
	}
	if offer.TransportCC != 3 {
		t.Fatalf("expected transport-cc extmap id 3, got %d", offer.TransportCC)
	}
}
