// Package rtpdata is the RTP packet data model shared by the WebRTC
// connection and the RTMP<->RTC bridges: a pion/rtp.Packet plus the
// payload-variant discriminator and shared backing buffer described in
// §3 and §9 ("the payload type variant is discriminated by a small
// enum to avoid virtual dispatch per packet").
package rtpdata

import "github.com/pion/rtp"

// PayloadVariant discriminates how a packet's payload should be
// interpreted without a type switch on every hot-path packet.
type PayloadVariant int

const (
	VariantRaw PayloadVariant = iota
	VariantNALU
	VariantSTAPA
	VariantFUA
	VariantHEVCUnit
	VariantHEVCAP
	VariantHEVCFU
)

// Packet wraps a pion/rtp.Packet with the payload variant and a shared
// backing buffer. Copies share bytes, not headers: rewriting SSRC/PT
// for a subscriber never touches the payload slice.
type Packet struct {
	rtp.Packet
	Variant PayloadVariant
}

// Clone returns a copy whose Header can be rewritten independently
// (SSRC, PT, sequence) while Payload continues to reference the same
// backing array.
func (p *Packet) Clone() *Packet {
	cp := &Packet{Packet: p.Packet, Variant: p.Variant}
	cp.Payload = p.Payload // share, do not copy
	return cp
}

// Track describes one negotiated media track (§3).
type Direction int

const (
	DirectionSendOnly Direction = iota
	DirectionRecvOnly
	DirectionSendRecv
	DirectionInactive
)

type Track struct {
	SSRC      uint32
	MID       string
	PT        uint8
	Codec     string
	Direction Direction
	RTXSSRC   uint32
	FECSSRC   uint32
}

// HasRTX reports whether the track negotiated a retransmission SSRC.
func (t Track) HasRTX() bool { return t.RTXSSRC != 0 }
