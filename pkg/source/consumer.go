package source

import (
	"sync"

	"redalf.de/corestream/pkg/mediapacket"
)

// Consumer is one egress session's delivery queue: the teacher's
// SubscriberSession grown to carry typed media packets, a jitter mode
// and a pause flag (§4.2).
type Consumer struct {
	ID     string
	Jitter JitterMode

	queue chan *mediapacket.Packet

	mu     sync.Mutex
	paused bool
	closed bool
}

func newConsumer(id string, cfg Config) *Consumer {
	size := cfg.QueueSize
	if size <= 0 {
		size = 256
	}
	return &Consumer{
		ID:     id,
		Jitter: cfg.JitterDefault,
		queue:  make(chan *mediapacket.Packet, size),
	}
}

// enqueue delivers pkt, dropping the oldest queued packet if the
// consumer can't keep up (teacher's drop-oldest policy, generalized
// from raw bytes to *mediapacket.Packet, §5).
func (c *Consumer) enqueue(pkt *mediapacket.Packet) {
	c.mu.Lock()
	paused := c.paused
	closed := c.closed
	c.mu.Unlock()
	if closed {
		pkt.Release()
		return
	}
	if paused {
		pkt.Release()
		return
	}

	select {
	case c.queue <- pkt:
		return
	default:
	}
	select {
	case old := <-c.queue:
		old.Release()
	default:
	}
	select {
	case c.queue <- pkt:
	default:
		pkt.Release()
	}
}

// Recv returns the consumer's delivery channel for a reader loop to
// range over until it's closed.
func (c *Consumer) Recv() <-chan *mediapacket.Packet { return c.queue }

// Pause stops further delivery without losing the consumer's
// registration (used while a WebRTC ICE restart or RTMP reconnection
// is in flight).
func (c *Consumer) Pause(p bool) {
	c.mu.Lock()
	c.paused = p
	c.mu.Unlock()
}

func (c *Consumer) close() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	c.mu.Unlock()
	close(c.queue)
	for pkt := range c.queue {
		pkt.Release()
	}
}
