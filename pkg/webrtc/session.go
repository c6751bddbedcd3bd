package webrtc

import (
	"context"
	"time"

	"github.com/pion/rtcp"
	"github.com/pion/rtp"
	"github.com/pion/webrtc/v4"

	"redalf.de/corestream/pkg/log"
	"redalf.de/corestream/pkg/mediapacket"
	"redalf.de/corestream/pkg/runtime"
	"redalf.de/corestream/pkg/source"
)

// PublisherSession ingests RTP from a WHIP-style WebRTC publish and
// forwards it into a source.Source, wired the way an RTMP ingest
// wires into Session.forward (pkg/rtmp/session.go) — this is the
// "rc" side of the same fan-out hub, sharing the Source/Consumer
// model rather than a parallel one.
type PublisherSession struct {
	conn   *Connection
	src    *source.Source
	worker *runtime.Worker
}

// NewPublisherSession wires conn's incoming tracks into src.
func NewPublisherSession(conn *Connection, src *source.Source, worker *runtime.Worker) *PublisherSession {
	p := &PublisherSession{conn: conn, src: src, worker: worker}
	conn.PC().OnTrack(func(track *webrtc.TrackRemote, _ *webrtc.RTPReceiver) {
		typ := mediapacket.TypeAudio
		if track.Kind() == webrtc.RTPCodecTypeVideo {
			typ = mediapacket.TypeVideo
		}
		worker.Spawn(conn.pcContext(), func(ctx context.Context) {
			p.readTrack(ctx, track, typ)
		})
	})
	return p
}

func (p *PublisherSession) readTrack(ctx context.Context, track *webrtc.TrackRemote, typ mediapacket.Type) {
	jb := NewJitterBuffer(32)
	nack := NewNackGenerator(uint32(track.SSRC()))
	twcc := NewTWCCTracker()

	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		pkt, _, err := track.ReadRTP()
		if err != nil {
			log.Debug("webrtc: track read ended", "err", err)
			return
		}

		twcc.Record(pkt.SequenceNumber, time.Now())
		ready, missing := jb.Push(pkt)
		for _, r := range ready {
			p.publish(r, typ)
		}
		for _, seq := range missing {
			nack.MarkMissing(seq)
		}
		nack.MarkReceived(pkt.SequenceNumber)
		if n := nack.Build(); n != nil {
			_ = p.conn.PC().WriteRTCP([]rtcp.Packet{n})
		}
	}
}

func (p *PublisherSession) publish(pkt *rtp.Packet, typ mediapacket.Type) {
	out := mediapacket.New(typ, pkt.Timestamp, pkt.Payload)
	out.Keyframe = typ == mediapacket.TypeVideo && isRTPKeyframe(pkt.Payload)
	p.src.Publish(out, "h264-rtp", false)
	out.Release()
}

// isRTPKeyframe inspects an H.264 RTP payload (single NALU, STAP-A or
// FU-A) for an IDR slice, the same NALU-type classification
// pkg/bridge's RtcToRtmp.translate relies on for FU-A/STAP-A framing.
func isRTPKeyframe(payload []byte) bool {
	if len(payload) == 0 {
		return false
	}
	switch payload[0] & 0x1f {
	case 5: // IDR single NALU
		return true
	case 28: // FU-A
		return len(payload) > 1 && payload[1]&0x1f == 5
	case 24: // STAP-A: scan each embedded NALU's type byte
		buf := payload[1:]
		for len(buf) > 2 {
			sz := int(buf[0])<<8 | int(buf[1])
			buf = buf[2:]
			if sz <= 0 || sz > len(buf) {
				break
			}
			if buf[0]&0x1f == 5 {
				return true
			}
			buf = buf[sz:]
		}
		return false
	default:
		return false
	}
}

// SubscriberSession drains a source.Consumer and writes RTP onto a
// local track sent to a WHEP-style WebRTC subscriber, rewriting SSRC
// and sequence number the way a live egress always must when
// multiplexing one Source across independently-negotiated tracks.
type SubscriberSession struct {
	conn     *Connection
	consumer *source.Consumer
	track    *webrtc.TrackLocalStaticRTP
	rtx      *RTXBuffer
	pli      *PLICoalescer

	seq  uint16
	ssrc uint32
}

// NewSubscriberSession creates a video track (id "corestream-video",
// stream id the consumer's ID) and registers it with conn for sending.
func NewSubscriberSession(conn *Connection, consumer *source.Consumer, ssrc uint32, codec webrtc.RTPCodecCapability) (*SubscriberSession, error) {
	track, err := webrtc.NewTrackLocalStaticRTP(codec, "corestream-video", consumer.ID)
	if err != nil {
		return nil, err
	}
	if _, err := conn.PC().AddTrack(track); err != nil {
		return nil, err
	}

	s := &SubscriberSession{
		conn:     conn,
		consumer: consumer,
		track:    track,
		rtx:      NewRTXBuffer(),
		ssrc:     ssrc,
	}
	s.pli = NewPLICoalescer(s.requestUpstreamKeyframe)
	return s, nil
}

// Run pumps consumer packets onto the local track until ctx is done or
// the consumer closes.
func (s *SubscriberSession) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case pkt, ok := <-s.consumer.Recv():
			if !ok {
				return
			}
			s.write(pkt)
			pkt.Release()
		}
	}
}

func (s *SubscriberSession) write(pkt *mediapacket.Packet) {
	out := &rtp.Packet{
		Header: rtp.Header{
			Version:        2,
			Timestamp:      pkt.DTS,
			SequenceNumber: s.seq,
			SSRC:           s.ssrc,
		},
		Payload: pkt.Payload,
	}
	s.seq++
	s.rtx.Store(out)
	if err := s.track.WriteRTP(out); err != nil {
		log.Debug("webrtc: subscriber write failed", "err", err)
	}
}

// HandleNack answers a subscriber's retransmit request from the RTX
// buffer where possible.
func (s *SubscriberSession) HandleNack(n *rtcp.TransportLayerNack) {
	for _, pair := range n.Nacks {
		for _, seq := range pair.PacketList() {
			if pkt, ok := s.rtx.Get(seq); ok {
				_ = s.track.WriteRTP(pkt)
			}
		}
	}
}

// HandlePLI records a keyframe request for the coalescer to flush at
// most once per window.
func (s *SubscriberSession) HandlePLI() {
	s.pli.Request()
}

func (s *SubscriberSession) requestUpstreamKeyframe() {
	ssrc := s.ssrc
	_ = s.conn.PC().WriteRTCP([]rtcp.Packet{&rtcp.PictureLossIndication{MediaSSRC: ssrc}})
}
