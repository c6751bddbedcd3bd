// Package source is the per-stream fan-out hub every ingest protocol
// publishes into and every egress protocol reads from. It generalizes
// the teacher's pkg/topic Manager/Topic pair (publisher/subscriber
// registration, drop-oldest dispatch, grace-timer disposal) from a
// single RTSP-flavored queue of raw bytes into a protocol-agnostic hub
// of *mediapacket.Packet with a GOP cache and sequence-header replay
// (§4.2).
package source

import (
	"sync"
	"time"

	"github.com/cespare/xxhash/v2"
	"github.com/google/uuid"

	"redalf.de/corestream/pkg/errs"
	"redalf.de/corestream/pkg/mediapacket"
	"redalf.de/corestream/pkg/streamurl"
)

// JitterMode controls how a Consumer's dispatch loop paces delivery.
type JitterMode int

const (
	// JitterFull paces delivery against wall-clock DTS (ATC-style).
	JitterFull JitterMode = iota
	// JitterZero delivers packets as fast as they arrive.
	JitterZero
	// JitterOff disables any pacing or jitter correction.
	JitterOff
)

// Config configures a Manager and the Sources it creates.
type Config struct {
	Stripes       int           // shard count for the manager's internal maps
	GOPCacheSize  int           // max packets retained per source's GOP cache; 0 disables
	QueueSize     int           // per-consumer bounded channel depth
	GracePeriod   time.Duration // disposal delay once publisher+consumers are both gone
	JitterDefault JitterMode
}

// DefaultConfig mirrors the teacher's PublisherGracePeriod/queue-size
// defaults, generalized to the spec's >=10s grace window.
func DefaultConfig() Config {
	return Config{
		Stripes:       16,
		GOPCacheSize:  256,
		QueueSize:     256,
		GracePeriod:   10 * time.Second,
		JitterDefault: JitterFull,
	}
}

// Manager owns every live Source, sharded into stripes keyed by
// xxhash of the canonical stream URL to bound per-stripe lock
// contention — the xxhash dependency the teacher used for rendezvous
// cluster hashing, repurposed here for in-process sharding now that
// the clustering feature itself is out of scope (see DESIGN.md).
type Manager struct {
	cfg       Config
	stripes   []*stripe
	onPublish []func(*Source)
}

type stripe struct {
	mu      sync.Mutex
	sources map[string]*Source
}

// NewManager creates a Manager with cfg. cfg.Stripes is clamped to at
// least 1.
func NewManager(cfg Config) *Manager {
	n := cfg.Stripes
	if n < 1 {
		n = 1
	}
	m := &Manager{cfg: cfg, stripes: make([]*stripe, n)}
	for i := range m.stripes {
		m.stripes[i] = &stripe{sources: make(map[string]*Source)}
	}
	return m
}

// SetOnPublish registers fn to run, in its own goroutine, every time a
// Source transitions from unpublished to published. Egress sinks that
// should auto-attach on publish (HLS, cross-protocol bridges) hang off
// this instead of polling Manager for new sources; every registered fn
// runs, in registration order, for each publish.
func (m *Manager) SetOnPublish(fn func(*Source)) {
	m.onPublish = append(m.onPublish, fn)
}

func (m *Manager) fireOnPublish(s *Source) {
	for _, fn := range m.onPublish {
		fn(s)
	}
}

func (m *Manager) stripeFor(key string) *stripe {
	h := xxhash.Sum64String(key)
	return m.stripes[h%uint64(len(m.stripes))]
}

// FetchOrCreate returns the Source for u, creating it if absent. A
// Source returned this way is guaranteed live: if it was mid-disposal
// its grace timer is cancelled.
func (m *Manager) FetchOrCreate(u streamurl.URL) *Source {
	key := u.Canonical()
	st := m.stripeFor(key)

	st.mu.Lock()
	defer st.mu.Unlock()

	if s, ok := st.sources[key]; ok {
		s.cancelDisposal()
		return s
	}
	s := newSource(key, u, m.cfg, func() { m.remove(key) })
	s.onPublish = m.fireOnPublish
	st.sources[key] = s
	return s
}

// Fetch returns the existing Source for u without creating one.
func (m *Manager) Fetch(u streamurl.URL) (*Source, bool) {
	key := u.Canonical()
	st := m.stripeFor(key)
	st.mu.Lock()
	defer st.mu.Unlock()
	s, ok := st.sources[key]
	return s, ok
}

func (m *Manager) remove(key string) {
	st := m.stripeFor(key)
	st.mu.Lock()
	defer st.mu.Unlock()
	delete(st.sources, key)
}

// Count returns the number of live sources across all stripes.
func (m *Manager) Count() int {
	n := 0
	for _, st := range m.stripes {
		st.mu.Lock()
		n += len(st.sources)
		st.mu.Unlock()
	}
	return n
}

// Shutdown disposes every live source immediately.
func (m *Manager) Shutdown() {
	for _, st := range m.stripes {
		st.mu.Lock()
		for _, s := range st.sources {
			s.closeNow()
		}
		st.sources = make(map[string]*Source)
		st.mu.Unlock()
	}
}

// seqHeaders caches the sequence-header packets (AAC/AVC/HEVC config
// records) that must be replayed to any consumer attaching after they
// were first seen, since they only arrive once per publish.
type seqHeaders struct {
	mu      sync.Mutex
	byCodec map[string]*mediapacket.Packet
}

func newSeqHeaders() *seqHeaders { return &seqHeaders{byCodec: make(map[string]*mediapacket.Packet)} }

func (h *seqHeaders) set(codec string, p *mediapacket.Packet) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if old, ok := h.byCodec[codec]; ok {
		old.Release()
	}
	h.byCodec[codec] = p.Retain()
}

func (h *seqHeaders) snapshot() []*mediapacket.Packet {
	h.mu.Lock()
	defer h.mu.Unlock()
	out := make([]*mediapacket.Packet, 0, len(h.byCodec))
	for _, p := range h.byCodec {
		out = append(out, p.Retain())
	}
	return out
}

// Source is one stream's live fan-out point: one publisher (at most),
// any number of consumers, a GOP cache seeded from the most recent
// keyframe, and a sequence-header cache replayed to late joiners.
type Source struct {
	Key string
	URL streamurl.URL

	// Protocol names the ingest protocol currently holding the publish
	// slot ("rtmp", "rtsp", "srt", "rtc"), set by the ingest handler
	// right after SetPublisher succeeds. pkg/bridge uses it to pick the
	// right translator and to know which wire family a Source's
	// packets are already in (§4.2, §4.3).
	Protocol string

	cfg Config

	mu          sync.RWMutex
	hasPub      bool
	pubID       string
	consumers   map[string]*Consumer
	gop         []*mediapacket.Packet
	seq         *seqHeaders
	disposeT    *time.Timer
	closed      bool
	onDisposed  func()
	onPublish   func(*Source)
}

func newSource(key string, u streamurl.URL, cfg Config, onDisposed func()) *Source {
	return &Source{
		Key:        key,
		URL:        u,
		cfg:        cfg,
		consumers:  make(map[string]*Consumer),
		seq:        newSeqHeaders(),
		onDisposed: onDisposed,
	}
}

// SetPublisher marks the source as actively published by id, cancelling
// any pending disposal grace timer (teacher: SetPublisher stops
// graceTimer).
func (s *Source) SetPublisher(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.hasPub {
		return errs.ErrStreamBusy
	}
	s.hasPub = true
	s.pubID = id
	s.stopDisposalLocked()
	if s.onPublish != nil {
		go s.onPublish(s)
	}
	return nil
}

// RemovePublisher clears the publisher and, if no consumers remain
// either, arms the disposal grace timer.
func (s *Source) RemovePublisher() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.hasPub {
		return
	}
	s.hasPub = false
	s.pubID = ""
	s.armDisposalIfIdleLocked()
}

// HasPublisher reports whether a publisher currently holds the source.
func (s *Source) HasPublisher() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.hasPub
}

// Publish pushes a packet through the GOP cache, sequence-header
// cache and every attached consumer's queue. Callers retain ownership
// of pkt; Publish takes its own reference.
func (s *Source) Publish(pkt *mediapacket.Packet, codec string, isSeqHeader bool) {
	if isSeqHeader {
		s.seq.set(codec, pkt)
	}
	s.mu.Lock()
	if s.cfg.GOPCacheSize > 0 && !isSeqHeader {
		if pkt.Keyframe {
			s.resetGOPLocked()
		}
		if len(s.gop) < s.cfg.GOPCacheSize {
			s.gop = append(s.gop, pkt.Retain())
		}
	}
	consumers := make([]*Consumer, 0, len(s.consumers))
	for _, c := range s.consumers {
		consumers = append(consumers, c)
	}
	s.mu.Unlock()

	for _, c := range consumers {
		c.enqueue(pkt.Retain())
	}
}

func (s *Source) resetGOPLocked() {
	for _, p := range s.gop {
		p.Release()
	}
	s.gop = s.gop[:0]
}

// Attach creates and registers a new Consumer, replaying cached
// sequence headers and the current GOP cache before returning it, so
// the consumer's reader sees a decodable stream from the first frame
// (§8 scenario 1).
func (s *Source) Attach() *Consumer {
	c := newConsumer(uuid.NewString(), s.cfg)

	s.mu.Lock()
	s.consumers[c.ID] = c
	s.stopDisposalLocked()
	gopSnapshot := make([]*mediapacket.Packet, len(s.gop))
	for i, p := range s.gop {
		gopSnapshot[i] = p.Retain()
	}
	s.mu.Unlock()

	for _, p := range s.seq.snapshot() {
		c.enqueue(p)
	}
	for _, p := range gopSnapshot {
		c.enqueue(p)
	}
	return c
}

// Detach removes and closes a consumer, arming disposal if the source
// is now idle.
func (s *Source) Detach(id string) {
	s.mu.Lock()
	c, ok := s.consumers[id]
	if ok {
		delete(s.consumers, id)
	}
	s.armDisposalIfIdleLocked()
	s.mu.Unlock()
	if ok {
		c.close()
	}
}

// ConsumerCount returns the number of attached consumers.
func (s *Source) ConsumerCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.consumers)
}

func (s *Source) armDisposalIfIdleLocked() {
	if s.hasPub || len(s.consumers) > 0 || s.closed {
		return
	}
	s.stopDisposalLocked()
	grace := s.cfg.GracePeriod
	if grace <= 0 {
		grace = 10 * time.Second
	}
	s.disposeT = time.AfterFunc(grace, s.closeNow)
}

func (s *Source) stopDisposalLocked() {
	if s.disposeT != nil {
		s.disposeT.Stop()
		s.disposeT = nil
	}
}

func (s *Source) cancelDisposal() {
	s.mu.Lock()
	s.stopDisposalLocked()
	s.mu.Unlock()
}

func (s *Source) closeNow() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	s.stopDisposalLocked()
	s.resetGOPLocked()
	consumers := make([]*Consumer, 0, len(s.consumers))
	for _, c := range s.consumers {
		consumers = append(consumers, c)
	}
	s.consumers = make(map[string]*Consumer)
	s.mu.Unlock()

	for _, c := range consumers {
		c.close()
	}
	if s.onDisposed != nil {
		s.onDisposed()
	}
}
