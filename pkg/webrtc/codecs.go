package webrtc

import (
	"time"

	"github.com/pion/webrtc/v4"

	"redalf.de/corestream/pkg/udpalloc"
)

// Config configures a Connection.
type Config struct {
	ICEServers  []webrtc.ICEServer
	Publish     bool // true: this Connection ingests from the remote peer
	STUNTimeout time.Duration
	HEVC        bool // opt-in per spec's "HEVC opt-in" codec allow-list bullet
	UDPPortMin  uint16
	UDPPortMax  uint16

	// Allocator, when set, reserves the connection's RTP/RTCP port
	// pair through pkg/udpalloc and muxes ICE candidates over the
	// bound socket instead of letting pion open its own ephemeral
	// port per candidate. Falls back to UDPPortMin/UDPPortMax via
	// pion's own SetEphemeralUDPPortRange when nil.
	Allocator *udpalloc.Allocator
}

// allowedVideoCodecs is the spec's codec allow-list: H.264
// constrained-baseline first (broadest browser support), HEVC only
// when the deployment opts in.
func allowedVideoCodecs(hevc bool) []webrtc.RTPCodecParameters {
	codecs := []webrtc.RTPCodecParameters{
		{
			RTPCodecCapability: webrtc.RTPCodecCapability{
				MimeType:    webrtc.MimeTypeH264,
				ClockRate:   90000,
				SDPFmtpLine: "level-asymmetry-allowed=1;packetization-mode=1;profile-level-id=42e01f",
			},
			PayloadType: 96,
		},
		{
			RTPCodecCapability: webrtc.RTPCodecCapability{
				MimeType:    webrtc.MimeTypeH264,
				ClockRate:   90000,
				SDPFmtpLine: "level-asymmetry-allowed=1;packetization-mode=0;profile-level-id=42e01f",
			},
			PayloadType: 98,
		},
	}
	if hevc {
		codecs = append(codecs, webrtc.RTPCodecParameters{
			RTPCodecCapability: webrtc.RTPCodecCapability{MimeType: "video/H265", ClockRate: 90000},
			PayloadType:        100,
		})
	}
	return codecs
}

// allowedAudioCodecs: Opus with FEC enabled, the spec's only audio
// entry in the allow-list.
func allowedAudioCodecs() []webrtc.RTPCodecParameters {
	return []webrtc.RTPCodecParameters{
		{
			RTPCodecCapability: webrtc.RTPCodecCapability{
				MimeType:    webrtc.MimeTypeOpus,
				ClockRate:   48000,
				Channels:    2,
				SDPFmtpLine: "minptime=10;useinbandfec=1",
			},
			PayloadType: 111,
		},
	}
}

// registerCodecs registers the allow-list against the media engine.
// Publish and subscribe sessions share the same list: the intersection
// with whatever the remote SDP actually offers happens naturally
// during SetRemoteDescription, pion only ever negotiates codecs both
// sides registered.
func registerCodecs(me *webrtc.MediaEngine, hevc bool) error {
	for _, c := range allowedVideoCodecs(hevc) {
		if err := me.RegisterCodec(c, webrtc.RTPCodecTypeVideo); err != nil {
			return err
		}
	}
	for _, c := range allowedAudioCodecs() {
		if err := me.RegisterCodec(c, webrtc.RTPCodecTypeAudio); err != nil {
			return err
		}
	}
	return nil
}
