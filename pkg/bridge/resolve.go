package bridge

import (
	"hash/fnv"

	"redalf.de/corestream/pkg/source"
	"redalf.de/corestream/pkg/streamurl"
)

// Fetch looks up the Source that should serve a subscriber wanting
// protoPrefix's wire family for u: the protocol-prefixed sibling a
// bridge publishes into, if one is live, otherwise the canonical
// Source itself (the common case where the subscriber's protocol
// matches the publisher's). This is what every egress handler should
// call instead of Manager.Fetch directly, so a stream published on one
// protocol is reachable by a subscriber on another (§4.2, §4.3, §8
// scenario 3).
func Fetch(manager *source.Manager, u streamurl.URL, protoPrefix string) (*source.Source, bool) {
	if sib, ok := manager.Fetch(siblingURL(u, protoPrefix)); ok && sib.HasPublisher() {
		return sib, true
	}
	return manager.Fetch(u)
}

// SSRCFor derives a deterministic, non-zero RTP SSRC from a Source's
// canonical key, so repeated bridge attachment for the same stream
// (e.g. a publisher reconnect) doesn't need a counter or randomness.
func SSRCFor(key string) uint32 {
	h := fnv.New32a()
	_, _ = h.Write([]byte(key))
	v := h.Sum32()
	if v == 0 {
		v = 1
	}
	return v
}
