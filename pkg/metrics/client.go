package metrics

import (
	"sync"
	"time"
)

// ClientRecord is one connected client's admin-visible identity, kept
// from OnClient until the matching OnDisconnect (§4.6).
type ClientRecord struct {
	ID        string
	Protocol  string // "rtmp", "webrtc", "srt", "rtsp", "hls"
	Role      string // "publisher" or "subscriber"
	RemoteIP  string
	Vhost     string
	Stream    string
	ConnectedAt time.Time
}

// ClientSnapshot is the JSON-serializable view of a ClientRecord.
type ClientSnapshot struct {
	ID            string  `json:"id"`
	Protocol      string  `json:"protocol"`
	Role          string  `json:"role"`
	RemoteIP      string  `json:"remote_ip"`
	Vhost         string  `json:"vhost"`
	Stream        string  `json:"stream"`
	UptimeSeconds float64 `json:"uptime_seconds"`
}

type clientTable struct {
	mu      sync.Mutex
	entries map[string]*ClientRecord
}

func newClientTable() *clientTable {
	return &clientTable{entries: make(map[string]*ClientRecord)}
}

// OnClient registers a newly connected client. None of the session
// types in this module (RTMP, WebRTC, RTSP, HLS sink) calls it; only
// clients registered by a direct caller appear in the table and gauges.
func (r *Registry) OnClient(rec ClientRecord) {
	rec.ConnectedAt = time.Now()
	r.clients.mu.Lock()
	r.clients.entries[rec.ID] = &rec
	r.clients.mu.Unlock()

	if rec.Role == "publisher" {
		r.AddActivePublishers(1)
		r.IncTotalPublishers()
	} else {
		r.AddActiveSubscribers(1)
		r.IncTotalSubscribers()
	}
}

// OnDisconnect removes the client record and decrements the matching
// gauge. An id with no matching OnClient is ignored.
func (r *Registry) OnDisconnect(id string) {
	r.clients.mu.Lock()
	rec, ok := r.clients.entries[id]
	delete(r.clients.entries, id)
	r.clients.mu.Unlock()
	if !ok {
		return
	}

	if rec.Role == "publisher" {
		r.AddActivePublishers(-1)
	} else {
		r.AddActiveSubscribers(-1)
	}
}

// Clients snapshots every connected client record.
func (r *Registry) Clients() []ClientSnapshot {
	r.clients.mu.Lock()
	defer r.clients.mu.Unlock()
	out := make([]ClientSnapshot, 0, len(r.clients.entries))
	now := time.Now()
	for _, rec := range r.clients.entries {
		out = append(out, ClientSnapshot{
			ID: rec.ID, Protocol: rec.Protocol, Role: rec.Role,
			RemoteIP: rec.RemoteIP, Vhost: rec.Vhost, Stream: rec.Stream,
			UptimeSeconds: now.Sub(rec.ConnectedAt).Seconds(),
		})
	}
	return out
}
