// Package config holds the typed configuration corestream is
// constructed from. Parsing and hot-reload of an operator-facing
// config format are out of scope for the engine (an external
// collaborator's job, per the system's scope); this package only
// carries the fields the engine's collaborators need, merged from a
// JSON file with flag overrides the way the teacher's cmd/rtsper did.
package config

import (
	"encoding/json"
	"os"
	"time"
)

// Duration wraps time.Duration so it marshals to/from JSON as a
// human string ("20s") instead of an opaque integer of nanoseconds.
type Duration struct{ time.Duration }

// MarshalJSON implements json.Marshaler.
func (d Duration) MarshalJSON() ([]byte, error) {
	return json.Marshal(d.Duration.String())
}

// UnmarshalJSON implements json.Unmarshaler.
func (d *Duration) UnmarshalJSON(b []byte) error {
	var s string
	if err := json.Unmarshal(b, &s); err != nil {
		return err
	}
	parsed, err := time.ParseDuration(s)
	if err != nil {
		return err
	}
	d.Duration = parsed
	return nil
}

// Admission configures the publish-token manager and per-URL
// consumer/producer limits (§4.5, §5).
type Admission struct {
	MaxPublishers          int      `json:"max_publishers"`
	MaxSubscribersPerTopic int      `json:"max_subscribers_per_stream"`
	SourceGracePeriod      Duration `json:"source_grace_period"`
}

// Queues configures consumer/bridge FIFO sizing and overflow policy
// (§3, §5).
type Queues struct {
	PublisherQueueSize  int    `json:"publisher_queue_size"`
	SubscriberQueueSize int    `json:"subscriber_queue_size"`
	OverflowPolicy      string `json:"overflow_policy"` // "drop-oldest" | "disconnect"
	GOPCacheFrames       int    `json:"gop_cache_frames"`
	JitterMode          string `json:"jitter_mode"` // "full" | "zero" | "off"
}

// RTMP configures the RTMP ingress/egress listeners (§4.4.1, §6).
type RTMP struct {
	ListenAddr     string   `json:"listen_addr"`
	TLSListenAddr  string   `json:"tls_listen_addr"`
	TLSCertFile    string   `json:"tls_cert_file"`
	TLSKeyFile     string   `json:"tls_key_file"`
	ChunkSize      int      `json:"chunk_size"`
	FirstPacketTO  Duration `json:"first_packet_timeout"`
	SteadyStateTO  Duration `json:"steady_state_timeout"`
}

// SRT configures the SRT ingress adapter (§4.4.2).
type SRT struct {
	ListenAddr string `json:"listen_addr"`
}

// RTSP configures the RTSP ingress/egress (§4.4.3), grown from the
// teacher's publisher/subscriber dual-port layout.
type RTSP struct {
	PublishPort   int `json:"publish_port"`
	SubscribePort int `json:"subscribe_port"`
}

// WebRTC configures the ICE-lite connection and HTTP signalling API
// (§4.3, §6).
type WebRTC struct {
	APIAddr           string   `json:"api_addr"`
	ICELite           bool     `json:"ice_lite"`
	DTLSRoleActive    bool     `json:"dtls_role_active"`
	FixedCandidates   []string `json:"fixed_candidates"`
	PreferInternetIPs bool     `json:"prefer_internet_ips"`
	EnableIPv6        bool     `json:"enable_ipv6"`
	EnableHEVC        bool     `json:"enable_hevc"`
	UDPPortMin        int      `json:"udp_port_min"`
	UDPPortMax        int      `json:"udp_port_max"`
	StunTimeout       Duration `json:"stun_timeout"`
	PLICoalesceWindow Duration `json:"pli_coalesce_window"`
	NACKMaxRetries    int      `json:"nack_max_retries"`
}

// HLS configures the segmenter (§4.4.4).
type HLS struct {
	Fragment        Duration `json:"fragment"`
	Window          Duration `json:"window"`
	AofRatio        float64  `json:"aof_ratio"`
	WaitKeyframe    bool     `json:"wait_keyframe"`
	TSFloor         bool     `json:"ts_floor"`
	FragmentsPerKey int      `json:"fragments_per_key"`
}

// Admin configures the HTTP control/admin API (§4.6, §6).
type Admin struct {
	ListenAddr string   `json:"listen_addr"`
	Hooks      []string `json:"hooks"`
}

// Metrics configures the statistics registry's OTLP export (§4.6).
type Metrics struct {
	OTLPEndpoint string `json:"otlp_endpoint"`
}

// Config is the root configuration the engine is constructed from.
type Config struct {
	Workers   int       `json:"workers"`
	Admission Admission `json:"admission"`
	Queues    Queues    `json:"queues"`
	RTMP      RTMP      `json:"rtmp"`
	SRT       SRT       `json:"srt"`
	RTSP      RTSP      `json:"rtsp"`
	WebRTC    WebRTC    `json:"webrtc"`
	HLS       HLS       `json:"hls"`
	Admin     Admin     `json:"admin"`
	Metrics   Metrics   `json:"metrics"`
	LogLevel  string    `json:"log_level"`
	LogFile   string    `json:"log_file"`
}

// Default returns a Config populated with the same defaults the spec
// names explicitly (chunk size 60000, stun timeout 30s, source grace
// window 10s, ...).
func Default() Config {
	return Config{
		Workers: 1,
		Admission: Admission{
			MaxPublishers:          1024,
			MaxSubscribersPerTopic: 4096,
			SourceGracePeriod:      Duration{10 * time.Second},
		},
		Queues: Queues{
			PublisherQueueSize:  1024,
			SubscriberQueueSize: 256,
			OverflowPolicy:      "drop-oldest",
			GOPCacheFrames:      0,
			JitterMode:          "full",
		},
		RTMP: RTMP{
			ListenAddr:    ":1935",
			ChunkSize:     60000,
			FirstPacketTO: Duration{20 * time.Second},
			SteadyStateTO: Duration{5 * time.Second},
		},
		SRT: SRT{ListenAddr: ":10080"},
		RTSP: RTSP{PublishPort: 9191, SubscribePort: 9192},
		WebRTC: WebRTC{
			APIAddr:           ":1985",
			ICELite:           true,
			PreferInternetIPs: true,
			UDPPortMin:        20000,
			UDPPortMax:        20100,
			StunTimeout:       Duration{30 * time.Second},
			PLICoalesceWindow: Duration{500 * time.Millisecond},
			NACKMaxRetries:    10,
		},
		HLS: HLS{
			Fragment:        Duration{5 * time.Second},
			Window:          Duration{30 * time.Second},
			AofRatio:        2.0,
			WaitKeyframe:    true,
			TSFloor:         true,
			FragmentsPerKey: 0,
		},
		Admin:    Admin{ListenAddr: ":8080"},
		LogLevel: "info",
	}
}

// Load reads path as JSON over Default(), matching the teacher's
// flags-override-file merge policy in cmd/rtsper/main.go — fields
// absent from the file keep the default; a field present in the file
// overrides it, even with a zero value.
func Load(path string) (Config, error) {
	cfg := Default()
	if path == "" {
		return cfg, nil
	}
	b, err := os.ReadFile(path)
	if err != nil {
		return cfg, err
	}
	if err := json.Unmarshal(b, &cfg); err != nil {
		return cfg, err
	}
	return cfg, nil
}
