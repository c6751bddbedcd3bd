package webrtc

import (
	"sync"

	"github.com/pion/rtcp"
)

// NackGenerator tracks gaps a JitterBuffer reports and turns them into
// RTCP TransportLayerNack feedback the publisher pipeline sends back
// to the remote peer — the spec's step 5, corestream's own code
// (pion's ConfigureNack interceptor handles the *responder* side of
// retransmission automatically; this is the requester side tracking
// what's actually missing on ingest).
type NackGenerator struct {
	ssrc uint32

	mu      sync.Mutex
	missing map[uint16]struct{}
}

// NewNackGenerator creates a generator for RTP packets carrying ssrc.
func NewNackGenerator(ssrc uint32) *NackGenerator {
	return &NackGenerator{ssrc: ssrc, missing: make(map[uint16]struct{})}
}

// MarkMissing records a sequence number the jitter buffer flushed a
// gap around, the candidate for a future NACK.
func (n *NackGenerator) MarkMissing(seq uint16) {
	n.mu.Lock()
	n.missing[seq] = struct{}{}
	n.mu.Unlock()
}

// MarkReceived clears a sequence number once it actually arrives, late
// or not, so a tardy packet doesn't trigger a needless retransmit
// request.
func (n *NackGenerator) MarkReceived(seq uint16) {
	n.mu.Lock()
	delete(n.missing, seq)
	n.mu.Unlock()
}

// Build returns an RTCP NACK packet for everything still outstanding,
// or nil if nothing is missing. Intended to be called periodically
// (the caller registers it on a runtime.Hourglass).
func (n *NackGenerator) Build() rtcp.Packet {
	n.mu.Lock()
	defer n.mu.Unlock()

	if len(n.missing) == 0 {
		return nil
	}

	seqs := make([]uint16, 0, len(n.missing))
	for seq := range n.missing {
		seqs = append(seqs, seq)
	}

	pairs := rtcp.NackPairsFromSequenceNumbers(seqs)
	return &rtcp.TransportLayerNack{
		MediaSSRC: n.ssrc,
		Nacks:     pairs,
	}
}
