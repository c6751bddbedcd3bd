package source

import (
	"testing"
	"time"

	"redalf.de/corestream/pkg/mediapacket"
	"redalf.de/corestream/pkg/streamurl"
)

func mustURL(t *testing.T, raw string) streamurl.URL {
	t.Helper()
	u, err := streamurl.Parse(raw)
	if err != nil {
		t.Fatalf("Parse(%q): %v", raw, err)
	}
	return u
}

func testConfig() Config {
	return Config{Stripes: 4, GOPCacheSize: 8, QueueSize: 8, GracePeriod: 30 * time.Millisecond}
}

func TestFetchOrCreateReturnsSameSource(t *testing.T) {
	m := NewManager(testConfig())
	u := mustURL(t, "live/foo")
	s1 := m.FetchOrCreate(u)
	s2 := m.FetchOrCreate(u)
	if s1 != s2 {
		t.Fatal("expected the same Source instance for the same URL")
	}
	if m.Count() != 1 {
		t.Fatalf("expected 1 source, got %d", m.Count())
	}
}

func TestSetOnPublishFiresForNewlyPublishedSource(t *testing.T) {
	m := NewManager(testConfig())
	got := make(chan *Source, 1)
	m.SetOnPublish(func(s *Source) { got <- s })

	s := m.FetchOrCreate(mustURL(t, "live/foo"))
	if err := s.SetPublisher("rtmp-1"); err != nil {
		t.Fatalf("SetPublisher failed: %v", err)
	}

	select {
	case fired := <-got:
		if fired != s {
			t.Fatal("expected onPublish to fire with the published Source")
		}
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for onPublish callback")
	}
}

func TestSecondPublisherRejected(t *testing.T) {
	m := NewManager(testConfig())
	s := m.FetchOrCreate(mustURL(t, "live/foo"))
	if err := s.SetPublisher("rtmp-1"); err != nil {
		t.Fatalf("first SetPublisher failed: %v", err)
	}
	if err := s.SetPublisher("rtmp-2"); err == nil {
		t.Fatal("expected second SetPublisher to fail")
	}
}

func TestLateConsumerReceivesSeqHeaderAndGOP(t *testing.T) {
	m := NewManager(testConfig())
	s := m.FetchOrCreate(mustURL(t, "live/foo"))
	_ = s.SetPublisher("rtmp-1")

	seq := mediapacket.New(mediapacket.TypeVideo, 0, []byte{0xAA})
	seq.Sequence = true
	s.Publish(seq, "avc", true)
	seq.Release()

	kf := mediapacket.New(mediapacket.TypeVideo, 10, []byte{0xBB})
	kf.Keyframe = true
	s.Publish(kf, "avc", false)
	kf.Release()

	c := s.Attach()
	defer s.Detach(c.ID)

	var got []*mediapacket.Packet
	for i := 0; i < 2; i++ {
		select {
		case p := <-c.Recv():
			got = append(got, p)
		case <-time.After(time.Second):
			t.Fatalf("timed out waiting for packet %d", i)
		}
	}
	if len(got) != 2 {
		t.Fatalf("expected 2 packets (seq header + GOP frame), got %d", len(got))
	}
	if !got[0].Sequence {
		t.Fatal("expected the sequence header to be replayed first")
	}
	if !got[1].Keyframe {
		t.Fatal("expected the keyframe to follow the sequence header")
	}
	for _, p := range got {
		p.Release()
	}
}

func TestDisposalGraceWindowRecycled(t *testing.T) {
	m := NewManager(testConfig())
	u := mustURL(t, "live/foo")
	s := m.FetchOrCreate(u)
	_ = s.SetPublisher("rtmp-1")
	s.RemovePublisher()

	// reattach within the grace window should return the same source
	s2 := m.FetchOrCreate(u)
	if s != s2 {
		t.Fatal("expected grace window to keep the same source alive")
	}
}

func TestDisposalFiresAfterGraceWithNoActivity(t *testing.T) {
	m := NewManager(testConfig())
	u := mustURL(t, "live/foo")
	s := m.FetchOrCreate(u)
	_ = s.SetPublisher("rtmp-1")
	s.RemovePublisher()

	time.Sleep(80 * time.Millisecond)

	if m.Count() != 0 {
		t.Fatalf("expected source disposed after grace window, manager still has %d", m.Count())
	}
	s2 := m.FetchOrCreate(u)
	if s2 == s {
		t.Fatal("expected a fresh source after disposal")
	}
}

func TestEnqueueDropsOldestWhenFull(t *testing.T) {
	cfg := testConfig()
	cfg.QueueSize = 2
	m := NewManager(cfg)
	s := m.FetchOrCreate(mustURL(t, "live/foo"))
	c := s.Attach()
	defer s.Detach(c.ID)

	for i := 0; i < 5; i++ {
		p := mediapacket.New(mediapacket.TypeVideo, uint32(i), []byte{byte(i)})
		c.enqueue(p)
	}
	if len(c.queue) > cfg.QueueSize {
		t.Fatalf("expected queue bounded at %d, got %d", cfg.QueueSize, len(c.queue))
	}
	for len(c.queue) > 0 {
		(<-c.queue).Release()
	}
}
