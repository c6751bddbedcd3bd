package mediapacket

import "testing"

func TestRetainReleaseSharesPayload(t *testing.T) {
	p := New(TypeVideo, 100, []byte{1, 2, 3})
	cp := p.Retain()
	if &cp.Payload[0] != &p.Payload[0] {
		t.Fatal("expected Retain to share the backing payload")
	}
	if p.Released() {
		t.Fatal("expected packet not released after Retain")
	}
	p.Release()
	if p.Released() {
		t.Fatal("expected refcount 1 remaining after single release")
	}
	cp.Release()
	if !p.Released() {
		t.Fatal("expected packet released after matching releases")
	}
}

func TestWithDTSPreservesPayload(t *testing.T) {
	p := New(TypeAudio, 10, []byte{9, 9})
	p2 := p.WithDTS(20)
	if p2.DTS != 20 {
		t.Fatalf("expected DTS 20, got %d", p2.DTS)
	}
	if &p2.Payload[0] != &p.Payload[0] {
		t.Fatal("expected WithDTS to share payload bytes")
	}
}

func TestTypeString(t *testing.T) {
	cases := map[Type]string{TypeAudio: "audio", TypeVideo: "video", TypeScript: "script"}
	for typ, want := range cases {
		if got := typ.String(); got != want {
			t.Fatalf("Type(%d).String() = %q, want %q", typ, got, want)
		}
	}
}
