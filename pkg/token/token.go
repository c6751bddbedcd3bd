// Package token implements publish-token admission: the cross-protocol
// mutual-exclusion lock on a canonical stream URL that lets an RTMP
// publisher, a WebRTC WHIP publisher and an SRT caller contend for the
// same stream identity and have exactly one of them win (§4.5).
package token

import (
	"sync"
	"time"

	"redalf.de/corestream/pkg/errs"
	"redalf.de/corestream/pkg/streamurl"
)

// Token represents one held publish slot.
type Token struct {
	Key       string
	Holder    string // opaque session id of the current publisher
	AcquiredAt time.Time
}

type entry struct {
	holder     string
	acquiredAt time.Time
	graceUntil time.Time // zero unless the previous holder just released
}

// Manager arbitrates publish admission across protocols. All methods
// are safe for concurrent use; a Manager instance is shared by every
// listener/bridge in a Worker (§4.5, §5).
type Manager struct {
	mu      sync.Mutex
	entries map[string]*entry
	grace   time.Duration
}

// New creates a Manager. grace is the disposal window during which a
// just-released key still reports busy, so a flapping publisher
// reconnect doesn't race a stale teardown (§4.2's "grace period");
// pass 0 to disable.
func New(grace time.Duration) *Manager {
	return &Manager{entries: make(map[string]*entry), grace: grace}
}

// Acquire attempts to take the publish token for u on behalf of
// holder (an opaque session id, typically the protocol + connection
// id). It fails with errs.ErrStreamBusy if another holder already
// owns the key or the key is still within its grace window.
func (m *Manager) Acquire(u streamurl.URL, holder string) (*Token, error) {
	key := u.Canonical()
	now := time.Now()

	m.mu.Lock()
	defer m.mu.Unlock()

	if e, ok := m.entries[key]; ok {
		if e.holder == holder {
			return &Token{Key: key, Holder: holder, AcquiredAt: e.acquiredAt}, nil
		}
		if !e.graceUntil.IsZero() && now.After(e.graceUntil) {
			delete(m.entries, key)
		} else {
			return nil, errs.ErrStreamBusy
		}
	}

	m.entries[key] = &entry{holder: holder, acquiredAt: now}
	return &Token{Key: key, Holder: holder, AcquiredAt: now}, nil
}

// Release gives up the token. If the manager has a nonzero grace
// period, the key stays reserved (still reporting busy to other
// holders) until the grace window elapses, after which Acquire or Sweep
// clears it.
func (m *Manager) Release(tok *Token) {
	m.mu.Lock()
	defer m.mu.Unlock()

	e, ok := m.entries[tok.Key]
	if !ok || e.holder != tok.Holder {
		return
	}
	if m.grace <= 0 {
		delete(m.entries, tok.Key)
		return
	}
	e.graceUntil = time.Now().Add(m.grace)
}

// Sweep removes entries whose grace window has fully elapsed. Intended
// to be registered on a runtime.Hourglass.
func (m *Manager) Sweep() {
	now := time.Now()
	m.mu.Lock()
	defer m.mu.Unlock()
	for k, e := range m.entries {
		if !e.graceUntil.IsZero() && now.After(e.graceUntil) {
			delete(m.entries, k)
		}
	}
}

// Holder reports the current holder of key, if any, and whether the
// key is in its post-release grace window.
func (m *Manager) Holder(u streamurl.URL) (holder string, inGrace bool, ok bool) {
	key := u.Canonical()
	m.mu.Lock()
	defer m.mu.Unlock()
	e, exists := m.entries[key]
	if !exists {
		return "", false, false
	}
	return e.holder, !e.graceUntil.IsZero(), true
}

// Count returns the number of held/grace-pending tokens.
func (m *Manager) Count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.entries)
}
