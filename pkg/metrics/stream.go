package metrics

import (
	"math"
	"sync"
	"time"
)

// emaShort and emaLong are the half-lives of the two windows §4.6 asks for: a fast 30s average
// that reacts to bitrate changes within a few seconds, and a 5m average
// that smooths over GOP-sized bursts.
const (
	emaShort = 30 * time.Second
	emaLong  = 5 * time.Minute
)

// ema is an exponential moving average of a bytes-per-second rate,
// sampled at irregular intervals: each addRate weights the new sample
// by how much wall-clock time elapsed since the last one, so a burst
// of packets arriving close together doesn't skew the average the way
// a fixed-N ring buffer would.
type ema struct {
	halfLife time.Duration
	value    float64
	last     time.Time
}

func (e *ema) addRate(rate float64, now time.Time) {
	if e.last.IsZero() {
		e.value = rate
		e.last = now
		return
	}
	dt := now.Sub(e.last)
	if dt <= 0 {
		return
	}
	e.last = now
	alpha := 1 - math.Pow(2, -float64(dt)/float64(e.halfLife))
	e.value += alpha * (rate - e.value)
}

// CodecInfo records the codec metadata a session learns from its
// sequence header (OnVideoInfo/OnAudioInfo, §4.6).
type CodecInfo struct {
	VideoCodec string
	Width      int
	Height     int
	AudioCodec string
	SampleRate int
	Channels   int
}

// StreamStats is one publisher's running counters: bitrate EMAs,
// subscriber count and the codec metadata learned from its sequence
// header.
type StreamStats struct {
	mu sync.Mutex

	Vhost  string
	Stream string

	bytesShort ema
	bytesLong  ema
	lastPacket time.Time

	subscribers int
	codec       CodecInfo
	startedAt   time.Time
}

// OnPacket records n bytes dispatched at "now", folding the
// instantaneous bytes/sec rate since the previous packet into both
// bitrate EMAs.
func (s *StreamStats) OnPacket(n int, now time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.lastPacket.IsZero() {
		dt := now.Sub(s.lastPacket)
		if dt > 0 {
			rate := float64(n) / dt.Seconds()
			s.bytesShort.addRate(rate, now)
			s.bytesLong.addRate(rate, now)
		}
	}
	s.lastPacket = now
}

// OnVideoInfo records video codec metadata parsed from the sequence
// header.
func (s *StreamStats) OnVideoInfo(codec string, width, height int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.codec.VideoCodec, s.codec.Width, s.codec.Height = codec, width, height
}

// OnAudioInfo records audio codec metadata parsed from the sequence
// header.
func (s *StreamStats) OnAudioInfo(codec string, sampleRate, channels int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.codec.AudioCodec, s.codec.SampleRate, s.codec.Channels = codec, sampleRate, channels
}

func (s *StreamStats) AddSubscribers(delta int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.subscribers += delta
}

// Snapshot returns a point-in-time, allocation-cheap copy for the JSON
// dump endpoint.
func (s *StreamStats) Snapshot() StreamSnapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	return StreamSnapshot{
		Vhost:         s.Vhost,
		Stream:        s.Stream,
		Kbps30s:       s.bytesShort.value * 8 / 1000,
		Kbps5m:        s.bytesLong.value * 8 / 1000,
		Subscribers:   s.subscribers,
		Codec:         s.codec,
		UptimeSeconds: time.Since(s.startedAt).Seconds(),
	}
}

// StreamSnapshot is the JSON-serializable view of a StreamStats.
type StreamSnapshot struct {
	Vhost         string    `json:"vhost"`
	Stream        string    `json:"stream"`
	Kbps30s       float64   `json:"kbps_30s"`
	Kbps5m        float64   `json:"kbps_5m"`
	Subscribers   int       `json:"subscribers"`
	Codec         CodecInfo `json:"codec"`
	UptimeSeconds float64   `json:"uptime_seconds"`
}

// streamTable is the Registry's live stream-record table, keyed by
// "vhost/stream".
type streamTable struct {
	mu      sync.Mutex
	entries map[string]*StreamStats
}

func newStreamTable() *streamTable {
	return &streamTable{entries: make(map[string]*StreamStats)}
}

// Stream returns the StreamStats for vhost/stream, creating one the
// first time it's asked for (mirrors source.Manager's FetchOrCreate
// idiom: a record exists for as long as anything still references it).
func (r *Registry) Stream(vhost, stream string) *StreamStats {
	key := vhost + "/" + stream
	r.streams.mu.Lock()
	defer r.streams.mu.Unlock()
	if s, ok := r.streams.entries[key]; ok {
		return s
	}
	s := &StreamStats{
		Vhost: vhost, Stream: stream, startedAt: time.Now(),
		bytesShort: ema{halfLife: emaShort},
		bytesLong:  ema{halfLife: emaLong},
	}
	r.streams.entries[key] = s
	return s
}

// RemoveStream drops the record once the publisher disconnects; the
// admin dump simply stops listing it.
func (r *Registry) RemoveStream(vhost, stream string) {
	r.streams.mu.Lock()
	defer r.streams.mu.Unlock()
	delete(r.streams.entries, vhost+"/"+stream)
}

// Streams snapshots every live stream record.
func (r *Registry) Streams() []StreamSnapshot {
	r.streams.mu.Lock()
	defer r.streams.mu.Unlock()
	out := make([]StreamSnapshot, 0, len(r.streams.entries))
	for _, s := range r.streams.entries {
		out = append(out, s.Snapshot())
	}
	return out
}
