package webrtc

import (
	"sync"

	"github.com/pion/rtp"
)

// rtxBufferSize bounds the retransmit window: a subscriber NACKing a
// packet older than this has fallen too far behind to usefully repair.
const rtxBufferSize = 512

// RTXBuffer is the subscriber egress side's retransmit cache: every
// packet sent to a subscriber is kept here briefly so an RTCP NACK
// from that subscriber can be answered by resending the original
// packet, rather than corestream re-deriving it from the GOP cache
// (which only holds keyframe-aligned spans, not arbitrary sequence
// numbers).
type RTXBuffer struct {
	mu   sync.Mutex
	ring [rtxBufferSize]*rtp.Packet
}

// NewRTXBuffer creates an empty buffer.
func NewRTXBuffer() *RTXBuffer { return &RTXBuffer{} }

// Store records pkt as just sent.
func (b *RTXBuffer) Store(pkt *rtp.Packet) {
	b.mu.Lock()
	b.ring[pkt.SequenceNumber%rtxBufferSize] = pkt
	b.mu.Unlock()
}

// Get returns the packet for seq if it's still in the window and its
// sequence number matches (a ring slot may have been overwritten by a
// newer packet that wrapped onto the same index).
func (b *RTXBuffer) Get(seq uint16) (*rtp.Packet, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()

	pkt := b.ring[seq%rtxBufferSize]
	if pkt == nil || pkt.SequenceNumber != seq {
		return nil, false
	}
	return pkt, true
}

// PLICoalescer collapses bursts of PLI/FIR requests from many
// subscribers of the same Source into a single upstream keyframe
// request per window, the ~500ms coalescing window named in §4.3,
// driven by a runtime.Hourglass tick rather than a dedicated timer per
// subscriber.
type PLICoalescer struct {
	mu      sync.Mutex
	pending bool
	fire    func()
}

// NewPLICoalescer creates a coalescer that calls fire at most once per
// Flush-interval window.
func NewPLICoalescer(fire func()) *PLICoalescer {
	return &PLICoalescer{fire: fire}
}

// Request marks that at least one subscriber asked for a keyframe
// since the last Flush.
func (c *PLICoalescer) Request() {
	c.mu.Lock()
	c.pending = true
	c.mu.Unlock()
}

// Flush fires the callback once if any Request arrived since the last
// Flush, then resets. Register this on a ~500ms runtime.Hourglass
// period.
func (c *PLICoalescer) Flush() {
	c.mu.Lock()
	due := c.pending
	c.pending = false
	c.mu.Unlock()

	if due {
		c.fire()
	}
}
