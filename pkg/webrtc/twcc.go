package webrtc

import (
	"sync"
	"time"
)

// TWCCTracker records sequence numbers and arrival times on ingest and
// reports received/expected counts and a loss ratio, the stats half of
// step 6 (§4.3) — pion's ConfigureTWCCSender interceptor builds and
// sends the actual feedback packets. PublisherSession feeds it each
// packet's RTP sequence number (not the transport-cc extension value),
// and no admin or stats path reads its Snapshot.
type TWCCTracker struct {
	mu       sync.Mutex
	arrivals map[uint16]time.Time
	lowest   uint16
	highest  uint16
	count    int
}

// NewTWCCTracker creates an empty tracker.
func NewTWCCTracker() *TWCCTracker {
	return &TWCCTracker{arrivals: make(map[uint16]time.Time)}
}

// Record notes the arrival of sequence number seq.
func (t *TWCCTracker) Record(seq uint16, at time.Time) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.count == 0 {
		t.lowest, t.highest = seq, seq
	} else {
		if seqLess(seq, t.lowest) {
			t.lowest = seq
		}
		if seqLess(t.highest, seq) {
			t.highest = seq
		}
	}
	t.arrivals[seq] = at
	t.count++
}

// Snapshot reports the observed packet count and the loss ratio over
// the [lowest, highest] span seen so far.
func (t *TWCCTracker) Snapshot() (received int, expected int, lossRatio float64) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.count == 0 {
		return 0, 0, 0
	}
	expected = int(t.highest-t.lowest) + 1
	received = len(t.arrivals)
	if expected == 0 {
		return received, expected, 0
	}
	lost := expected - received
	if lost < 0 {
		lost = 0
	}
	return received, expected, float64(lost) / float64(expected)
}

// Prune drops arrival records older than maxAge, bounding memory for
// long-lived sessions. Intended for periodic runtime.Hourglass use.
func (t *TWCCTracker) Prune(maxAge time.Duration) {
	t.mu.Lock()
	defer t.mu.Unlock()

	cutoff := time.Now().Add(-maxAge)
	for seq, at := range t.arrivals {
		if at.Before(cutoff) {
			delete(t.arrivals, seq)
		}
	}
}
