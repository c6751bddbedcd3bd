// Package admin is the HTTP control surface grown from the teacher's
// 17-line status-only pkg/admin: a manager status dump, WHIP-style
// WebRTC publish/play endpoints backed by pkg/webrtc, the outbound
// control-API hook client (on_connect/on_publish/.../on_dvr), and the
// GB28181 publish contract (interface only — no implementation, that
// protocol is an external collaborator's responsibility per spec).
package admin

import (
	"encoding/json"
	"net/http"

	"redalf.de/corestream/pkg/metrics"
	"redalf.de/corestream/pkg/source"
)

// Status is the manager-level snapshot served at /status, generalized
// from the teacher's topic.Manager.Status() to source.Manager.
type Status struct {
	Sources int `json:"sources"`
}

// StatusHandler serves mgr's live source count as JSON.
func StatusHandler(mgr *source.Manager) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(Status{Sources: mgr.Count()})
	}
}

// MetricsDumpHandler mounts reg's JSON statistics dump (see
// pkg/metrics.Registry.DumpHandler) under the admin mux.
func MetricsDumpHandler(reg *metrics.Registry) http.HandlerFunc {
	return reg.DumpHandler()
}
