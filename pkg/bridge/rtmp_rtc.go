package bridge

import (
	"context"

	"redalf.de/corestream/pkg/mediapacket"
	"redalf.de/corestream/pkg/rtpdata"
	"redalf.de/corestream/pkg/runtime"
	"redalf.de/corestream/pkg/source"
)

// RtmpToRtc repacketizes an RTMP ingest source's H.264 AnnexB access
// units into RTP (STAP-A for parameter sets, FU-A for large frames) so
// a WebRTC subscriber can consume the same live stream (§4.3's "RTMP
// <-> RTC bridge").
type RtmpToRtc struct {
	*base
	ssrc uint32
	seq  uint16
}

// NewRtmpToRtc creates a bridge that will publish into a sibling
// "rtc/<app>/<stream>" source once Attach is called.
func NewRtmpToRtc(manager *source.Manager, worker *runtime.Worker, ssrc uint32) *RtmpToRtc {
	return &RtmpToRtc{base: newBase("rtmp->rtc", manager, worker, "rtc"), ssrc: ssrc}
}

// Attach wires the bridge to src and starts its pump task.
func (r *RtmpToRtc) Attach(ctx context.Context, src *source.Source) error {
	if err := r.base.setup(src, "rtc", "bridge:"+r.Name()); err != nil {
		return err
	}
	r.base.task = r.base.worker.Spawn(ctx, r.pump)
	return nil
}

func (r *RtmpToRtc) pump(ctx context.Context) {
	defer r.base.sibling.RemovePublisher()
	for {
		select {
		case <-ctx.Done():
			return
		case pkt, ok := <-r.base.consumer.Recv():
			if !ok {
				return
			}
			r.repacketize(pkt)
			pkt.Release()
		}
	}
}

// repacketize converts one AnnexB access unit into one or more RTP
// payloads and republishes each as a mediapacket.Packet carrying the
// rtpdata payload variant hint, so pkg/webrtc's subscriber pipeline
// can frame them directly without re-parsing AnnexB.
func (r *RtmpToRtc) repacketize(pkt *mediapacket.Packet) {
	if pkt.Type != mediapacket.TypeVideo {
		return // audio bridging is explicit-transcode-only and out of scope here
	}
	nalus := rtpdata.SplitAnnexB(pkt.Payload)
	if len(nalus) == 0 {
		return
	}

	var small [][]byte
	for _, n := range nalus {
		if len(n) <= rtpdata.MaxPayload {
			small = append(small, n)
			continue
		}
		r.flushSmall(&small, pkt)
		frags, err := rtpdata.PacketizeFUA(n, rtpdata.MaxPayload)
		if err != nil {
			continue
		}
		for _, f := range frags {
			r.publishRTP(f, pkt.DTS, pkt.Keyframe)
		}
	}
	r.flushSmall(&small, pkt)
}

func (r *RtmpToRtc) flushSmall(small *[][]byte, pkt *mediapacket.Packet) {
	if len(*small) == 0 {
		return
	}
	if len(*small) == 1 {
		r.publishRTP((*small)[0], pkt.DTS, pkt.Keyframe)
	} else if payload, err := rtpdata.PacketizeSTAPA(*small); err == nil {
		r.publishRTP(payload, pkt.DTS, pkt.Keyframe)
	}
	*small = (*small)[:0]
}

func (r *RtmpToRtc) publishRTP(payload []byte, dts uint32, keyframe bool) {
	r.seq++
	out := mediapacket.New(mediapacket.TypeVideo, dts, payload)
	out.Keyframe = keyframe
	r.base.sibling.Publish(out, "h264-rtp", false)
	out.Release()
}
