package token

import (
	"testing"
	"time"

	"redalf.de/corestream/pkg/errs"
	"redalf.de/corestream/pkg/streamurl"
)

func mustURL(t *testing.T, raw string) streamurl.URL {
	t.Helper()
	u, err := streamurl.Parse(raw)
	if err != nil {
		t.Fatalf("Parse(%q) failed: %v", raw, err)
	}
	return u
}

func TestAcquireThenBusyForOtherHolder(t *testing.T) {
	m := New(0)
	u := mustURL(t, "live/foo")

	tok, err := m.Acquire(u, "rtmp-1")
	if err != nil {
		t.Fatalf("first acquire failed: %v", err)
	}
	if tok.Holder != "rtmp-1" {
		t.Fatalf("unexpected holder %q", tok.Holder)
	}

	_, err = m.Acquire(u, "webrtc-1")
	if errs.KindOf(err) != errs.KindAdmission {
		t.Fatalf("expected admission error, got %v", err)
	}
}

func TestReacquireBySameHolderSucceeds(t *testing.T) {
	m := New(0)
	u := mustURL(t, "live/foo")
	if _, err := m.Acquire(u, "rtmp-1"); err != nil {
		t.Fatal(err)
	}
	if _, err := m.Acquire(u, "rtmp-1"); err != nil {
		t.Fatalf("expected same-holder reacquire to succeed, got %v", err)
	}
}

func TestReleaseWithoutGraceFreesImmediately(t *testing.T) {
	m := New(0)
	u := mustURL(t, "live/foo")
	tok, _ := m.Acquire(u, "rtmp-1")
	m.Release(tok)

	if _, err := m.Acquire(u, "webrtc-1"); err != nil {
		t.Fatalf("expected free acquisition after release, got %v", err)
	}
}

func TestReleaseWithGraceKeepsBusyUntilSweep(t *testing.T) {
	m := New(50 * time.Millisecond)
	u := mustURL(t, "live/foo")
	tok, _ := m.Acquire(u, "rtmp-1")
	m.Release(tok)

	if _, err := m.Acquire(u, "webrtc-1"); errs.KindOf(err) != errs.KindAdmission {
		t.Fatalf("expected busy during grace window, got %v", err)
	}

	time.Sleep(60 * time.Millisecond)
	m.Sweep()

	if _, err := m.Acquire(u, "webrtc-1"); err != nil {
		t.Fatalf("expected acquisition to succeed after grace swept, got %v", err)
	}
}

func TestHolderReportsState(t *testing.T) {
	m := New(time.Second)
	u := mustURL(t, "live/foo")

	if _, _, ok := m.Holder(u); ok {
		t.Fatal("expected no holder for unacquired key")
	}

	tok, _ := m.Acquire(u, "rtmp-1")
	holder, inGrace, ok := m.Holder(u)
	if !ok || holder != "rtmp-1" || inGrace {
		t.Fatalf("unexpected holder state: holder=%q inGrace=%v ok=%v", holder, inGrace, ok)
	}

	m.Release(tok)
	_, inGrace, ok = m.Holder(u)
	if !ok || !inGrace {
		t.Fatalf("expected in-grace holder entry after release, ok=%v inGrace=%v", ok, inGrace)
	}
}
