package metrics

import (
	"encoding/json"
	"net/http"
)

// Dump is the JSON document served by the admin API's metrics dump
// endpoint (§4.6, §6): every live stream and connected client this
// Registry's worker currently knows about.
type Dump struct {
	Worker  string           `json:"worker"`
	Streams []StreamSnapshot `json:"streams"`
	Clients []ClientSnapshot `json:"clients"`
}

// Snapshot assembles the current Dump.
func (r *Registry) Snapshot() Dump {
	return Dump{Worker: r.id, Streams: r.Streams(), Clients: r.Clients()}
}

// DumpHandler serves the Registry's Snapshot as JSON, for
// pkg/admin to mount alongside the Prometheus scrape endpoint.
func (r *Registry) DumpHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, req *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		if err := json.NewEncoder(w).Encode(r.Snapshot()); err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
		}
	}
}
