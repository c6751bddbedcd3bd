// Package mediapacket is the FLV/RTMP media packet data model shared by
// the source hub, RTMP ingress/egress, and the RTMP-facing bridges.
// Packets are reference-counted and copy-on-share: the payload is
// immutable once wrapped, so fanning a packet out to many consumers
// never copies the backing bytes (§3, §9 "arena for packets").
package mediapacket

import "sync/atomic"

// Type discriminates the three RTMP message kinds the source cares
// about.
type Type int

const (
	TypeAudio Type = iota
	TypeVideo
	TypeScript
)

func (t Type) String() string {
	switch t {
	case TypeAudio:
		return "audio"
	case TypeVideo:
		return "video"
	case TypeScript:
		return "script"
	default:
		return "unknown"
	}
}

// Packet is an immutable, reference-counted media packet. Copies made
// with Retain share the same backing payload slice; the payload must
// never be mutated after New returns.
type Packet struct {
	Type      Type
	DTS       uint32
	Keyframe  bool
	Sequence  bool // true for AAC/AVC/HEVC sequence headers
	Payload   []byte
	refs      *int32
}

// New wraps payload into a Packet with an initial refcount of 1. The
// caller must not mutate payload afterwards.
func New(t Type, dts uint32, payload []byte) *Packet {
	refs := int32(1)
	return &Packet{Type: t, DTS: dts, Payload: payload, refs: &refs}
}

// Retain increments the packet's refcount and returns a shallow copy
// that shares the same backing payload — the "copies share the buffer"
// contract in §3.
func (p *Packet) Retain() *Packet {
	atomic.AddInt32(p.refs, 1)
	cp := *p
	return &cp
}

// Release decrements the refcount. When it reaches zero the payload is
// eligible for pool reuse (§9); corestream does not force a specific
// pool implementation here, callers that pool buffers should check
// Released().
func (p *Packet) Release() {
	atomic.AddInt32(p.refs, -1)
}

// Released reports whether every Retain has been matched by a Release.
func (p *Packet) Released() bool {
	return atomic.LoadInt32(p.refs) <= 0
}

// WithDTS returns a shallow copy of p with a rewritten DTS, sharing the
// same payload — used by jitter correction, which rewrites timestamps
// but never touches payload bytes.
func (p *Packet) WithDTS(dts uint32) *Packet {
	cp := p.Retain()
	cp.DTS = dts
	return cp
}
