package webrtc

import (
	"github.com/pion/rtp"
)

// JitterBuffer reorders RTP packets that arrive out of sequence-number
// order within a bounded window, the publisher pipeline's step 4
// (§4.3) that corestream owns outright rather than delegating to pion.
// It is deliberately simple: a small lookahead window, not a full
// playout-delay estimator.
type JitterBuffer struct {
	window  int
	next    uint16
	started bool
	pending map[uint16]*rtp.Packet
}

// NewJitterBuffer creates a buffer that holds up to window
// out-of-order packets before force-flushing the oldest.
func NewJitterBuffer(window int) *JitterBuffer {
	if window <= 0 {
		window = 32
	}
	return &JitterBuffer{window: window, pending: make(map[uint16]*rtp.Packet, window)}
}

// Push admits pkt and returns the run of packets now ready for
// delivery in sequence order (possibly empty, possibly more than one
// if pkt fills a gap), plus any sequence numbers just declared lost
// because the buffer grew past its window waiting for them.
func (j *JitterBuffer) Push(pkt *rtp.Packet) (ready []*rtp.Packet, nowMissing []uint16) {
	if !j.started {
		j.started = true
		j.next = pkt.SequenceNumber
	}

	if seqLess(pkt.SequenceNumber, j.next) {
		// duplicate or too-late arrival of something already flushed
		return nil, nil
	}

	j.pending[pkt.SequenceNumber] = pkt
	ready = j.drain()

	for len(j.pending) > j.window {
		nowMissing = append(nowMissing, j.next)
		j.next++
		ready = append(ready, j.drain()...)
	}

	return ready, nowMissing
}

// drain flushes the contiguous run starting at j.next.
func (j *JitterBuffer) drain() []*rtp.Packet {
	var out []*rtp.Packet
	for {
		p, ok := j.pending[j.next]
		if !ok {
			break
		}
		delete(j.pending, j.next)
		out = append(out, p)
		j.next++
	}
	return out
}

// seqLess compares RTP sequence numbers respecting 16-bit wraparound.
func seqLess(a, b uint16) bool {
	return int16(a-b) < 0
}
