package bridge

import (
	"context"

	"redalf.de/corestream/pkg/mediapacket"
	"redalf.de/corestream/pkg/rtpdata"
	"redalf.de/corestream/pkg/runtime"
	"redalf.de/corestream/pkg/source"
)

// RtcToRtmp reassembles a WebRTC publisher's RTP payloads (FU-A/STAP-A)
// back into AnnexB access units for RTMP subscribers, the inverse of
// RtmpToRtc.
type RtcToRtmp struct {
	*base
	fua rtpdata.FUAReassembler
}

func NewRtcToRtmp(manager *source.Manager, worker *runtime.Worker) *RtcToRtmp {
	return &RtcToRtmp{base: newBase("rtc->rtmp", manager, worker, "rtmp")}
}

func (b *RtcToRtmp) Attach(ctx context.Context, src *source.Source) error {
	if err := b.base.setup(src, "rtmp", "bridge:"+b.Name()); err != nil {
		return err
	}
	b.base.task = b.base.worker.Spawn(ctx, b.pump)
	return nil
}

func (b *RtcToRtmp) pump(ctx context.Context) {
	defer b.base.sibling.RemovePublisher()
	for {
		select {
		case <-ctx.Done():
			return
		case pkt, ok := <-b.base.consumer.Recv():
			if !ok {
				return
			}
			b.translate(pkt)
			pkt.Release()
		}
	}
}

func (b *RtcToRtmp) translate(pkt *mediapacket.Packet) {
	payload := pkt.Payload
	if len(payload) < 1 {
		return
	}
	nalType := payload[0] & 0x1f
	switch nalType {
	case 28: // FU-A
		nalu, done, err := b.fua.Push(payload)
		if err != nil || !done {
			return
		}
		b.publish(nalu, pkt.DTS, pkt.Keyframe)
	case 24: // STAP-A
		nalus, err := rtpdata.DepacketizeSTAPA(payload)
		if err != nil {
			return
		}
		b.publish(rtpdata.JoinAnnexB(nalus), pkt.DTS, pkt.Keyframe)
	default:
		b.publish(rtpdata.JoinAnnexB([][]byte{payload}), pkt.DTS, pkt.Keyframe)
	}
}

func (b *RtcToRtmp) publish(annexB []byte, dts uint32, keyframe bool) {
	out := mediapacket.New(mediapacket.TypeVideo, dts, annexB)
	out.Keyframe = keyframe
	b.base.sibling.Publish(out, "h264-annexb", false)
	out.Release()
}

// SrtToRtmp forwards an SRT caller's demuxed MPEG-TS elementary
// streams into an RTMP-flavored sibling source unchanged; SRT's
// payload is already AnnexB once demuxed by pkg/srt, so no
// repacketization is needed here.
type SrtToRtmp struct{ *base }

func NewSrtToRtmp(manager *source.Manager, worker *runtime.Worker) *SrtToRtmp {
	return &SrtToRtmp{base: newBase("srt->rtmp", manager, worker, "rtmp")}
}

func (b *SrtToRtmp) Attach(ctx context.Context, src *source.Source) error {
	return b.base.attach(ctx, src, "rtmp", "bridge:"+b.Name())
}

// SrtToRtc repacketizes an SRT caller's AnnexB access units into RTP,
// reusing RtmpToRtc's repacketization since the input shape (AnnexB
// mediapacket.Packet) is identical once pkg/srt has demuxed the
// MPEG-TS payload.
type SrtToRtc struct {
	*RtmpToRtc
}

func NewSrtToRtc(manager *source.Manager, worker *runtime.Worker, ssrc uint32) *SrtToRtc {
	r := NewRtmpToRtc(manager, worker, ssrc)
	r.base.name = "srt->rtc"
	return &SrtToRtc{RtmpToRtc: r}
}

// RtspToRtmp forwards a gortsplib-ingested RTP source into an
// AnnexB-flavored RTMP sibling source; reuses RtcToRtmp's FU-A/STAP-A
// reassembly since gortsplib delivers the same RTP payload shapes.
type RtspToRtmp struct {
	*RtcToRtmp
}

func NewRtspToRtmp(manager *source.Manager, worker *runtime.Worker) *RtspToRtmp {
	r := NewRtcToRtmp(manager, worker)
	r.base.name = "rtsp->rtmp"
	return &RtspToRtmp{RtcToRtmp: r}
}
