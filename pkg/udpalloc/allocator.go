// Package udpalloc reserves RTP/RTCP UDP port pairs for WebRTC
// candidates out of a configured range, grown from the teacher's
// allocator.go (originally sized for RTSP's UDP transport mode, now
// the port source pkg/webrtc hands to DiscoverCandidates). Metrics are
// injected via *metrics.Registry instead of the teacher's
// package-level metrics calls (§5's "never package-level globals"
// fix, same as pkg/metrics itself).
package udpalloc

import (
	"errors"
	"fmt"
	"net"
	"sync"

	"redalf.de/corestream/pkg/metrics"
)

// Allocator reserves even RTP/RTCP port pairs from a configurable
// range. It binds UDP sockets at allocation time to avoid races
// between two callers picking the same port.
type Allocator struct {
	start int
	end   int
	reg   *metrics.Registry

	mu       sync.Mutex
	reserved map[int]net.PacketConn
}

// NewAllocator creates an allocator for the inclusive port range
// [start,end]. reg may be nil, in which case reservations simply
// aren't recorded (useful in tests that don't care about metrics).
func NewAllocator(start, end int, reg *metrics.Registry) (*Allocator, error) {
	if start <= 0 || end <= 0 || start > end {
		return nil, fmt.Errorf("udpalloc: invalid port range [%d, %d]", start, end)
	}
	if start%2 != 0 {
		start++ // always start on an even RTP port
	}
	return &Allocator{start: start, end: end, reg: reg, reserved: make(map[int]net.PacketConn)}, nil
}

// ReservePair finds an available even base port p in the range, binds
// RTP (p) and RTCP (p+1) and returns the base port and a release
// function. The caller must call release when done; it is safe to
// call more than once.
func (a *Allocator) ReservePair() (int, func(), error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	for p := a.start; p <= a.end; p += 2 {
		if _, ok := a.reserved[p]; ok {
			continue
		}

		rtpConn, err := net.ListenPacket("udp", fmt.Sprintf(":%d", p))
		if err != nil {
			continue
		}
		rtcpConn, err := net.ListenPacket("udp", fmt.Sprintf(":%d", p+1))
		if err != nil {
			rtpConn.Close()
			continue
		}

		a.reserved[p] = rtpConn
		a.reserved[p+1] = rtcpConn
		if a.reg != nil {
			a.reg.IncAllocatorReservations()
			a.reg.IncAllocatorReservedPairs()
		}

		var once sync.Once
		release := func() {
			once.Do(func() {
				a.mu.Lock()
				defer a.mu.Unlock()
				if c, ok := a.reserved[p]; ok {
					c.Close()
					delete(a.reserved, p)
				}
				if c, ok := a.reserved[p+1]; ok {
					c.Close()
					delete(a.reserved, p+1)
				}
				if a.reg != nil {
					a.reg.DecAllocatorReservedPairs()
				}
			})
		}
		return p, release, nil
	}
	return 0, nil, errors.New("udpalloc: no available ports in range")
}

// GetConn returns the previously reserved PacketConn for a given port
// if present. The returned net.PacketConn must NOT be closed by the
// caller; the allocator owns its lifecycle.
func (a *Allocator) GetConn(port int) (net.PacketConn, bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	c, ok := a.reserved[port]
	return c, ok
}
