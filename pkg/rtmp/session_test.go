package rtmp

import (
	"testing"
	"time"

	"redalf.de/corestream/pkg/mediapacket"
	"redalf.de/corestream/pkg/source"
	"redalf.de/corestream/pkg/token"
)

func newTestSession() *Session {
	sources := source.NewManager(source.Config{Stripes: 2, GOPCacheSize: 4, QueueSize: 8, GracePeriod: 10 * time.Millisecond})
	tokens := token.New(0)
	return NewSession(nil, "test-cid", sources, tokens)
}

func TestHandlePublishAcquiresTokenAndSource(t *testing.T) {
	s := newTestSession()
	values := []Value{"publish", float64(1), nil, "live/foo", "live"}
	if err := s.handlePublish(values, &Message{}); err != nil {
		t.Fatalf("handlePublish failed: %v", err)
	}
	if !s.publishing || s.src == nil || s.token == nil {
		t.Fatal("expected publishing session with source and token set")
	}
	if !s.src.HasPublisher() {
		t.Fatal("expected source to report a publisher")
	}
}

func TestHandlePublishRejectsSecondPublisherForSameStream(t *testing.T) {
	sources := source.NewManager(source.Config{Stripes: 2, GOPCacheSize: 4, QueueSize: 8, GracePeriod: 10 * time.Millisecond})
	tokens := token.New(0)
	s1 := NewSession(nil, "cid-1", sources, tokens)
	s2 := NewSession(nil, "cid-2", sources, tokens)

	values := []Value{"publish", float64(1), nil, "live/foo", "live"}
	if err := s1.handlePublish(values, &Message{}); err != nil {
		t.Fatalf("first publish failed: %v", err)
	}
	if err := s2.handlePublish(values, &Message{}); err == nil {
		t.Fatal("expected second publisher to be rejected")
	}
}

func TestHandlePlayRequiresActivePublisher(t *testing.T) {
	s := newTestSession()
	values := []Value{"play", float64(1), nil, "live/foo"}
	if err := s.handlePlay(values, &Message{}); err == nil {
		t.Fatal("expected play with no publisher to fail")
	}
}

func TestHandlePlayAttachesConsumerAfterPublish(t *testing.T) {
	sources := source.NewManager(source.Config{Stripes: 2, GOPCacheSize: 4, QueueSize: 8, GracePeriod: 10 * time.Millisecond})
	tokens := token.New(0)
	pub := NewSession(nil, "pub-cid", sources, tokens)
	sub := NewSession(nil, "sub-cid", sources, tokens)

	if err := pub.handlePublish([]Value{"publish", float64(1), nil, "live/foo", "live"}, &Message{}); err != nil {
		t.Fatalf("publish failed: %v", err)
	}
	if err := sub.handlePlay([]Value{"play", float64(1), nil, "live/foo"}, &Message{}); err != nil {
		t.Fatalf("play failed: %v", err)
	}
	if sub.consumer == nil {
		t.Fatal("expected play to attach a consumer")
	}
}

func TestForwardClassifiesVideoCodecAndKeyframe(t *testing.T) {
	s := newTestSession()
	if err := s.handlePublish([]Value{"publish", float64(1), nil, "live/foo", "live"}, &Message{}); err != nil {
		t.Fatalf("publish failed: %v", err)
	}
	// FLV video tag: frame type 1 (keyframe) << 4 | codec id 7 (AVC), AVC packet type 1 (NALU)
	payload := []byte{0x17, 0x01, 0x00, 0x00, 0x00}
	s.forward(mediapacket.TypeVideo, &Message{Timestamp: 10, Payload: payload})
	if codecOf(mediapacket.TypeVideo, payload) != "avc" {
		t.Fatalf("expected avc codec classification, got %q", codecOf(mediapacket.TypeVideo, payload))
	}
	if !isKeyframe(payload) {
		t.Fatal("expected payload to be classified as keyframe")
	}
}
