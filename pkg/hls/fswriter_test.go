package hls

import (
	"os"
	"path/filepath"
	"testing"

	"redalf.de/corestream/pkg/paths"
)

func TestFSWriterOpenSegmentCreatesFile(t *testing.T) {
	dir := t.TempDir()
	w := NewFSWriter(dir, paths.Vars{Vhost: "__defaultVhost__", App: "live", Stream: "foo"})

	wc, uri, err := w.OpenSegment(3)
	if err != nil {
		t.Fatalf("OpenSegment failed: %v", err)
	}
	defer wc.Close()
	if uri != "foo-3.ts" {
		t.Fatalf("unexpected segment uri %q", uri)
	}

	if _, err := wc.Write([]byte("payload")); err != nil {
		t.Fatalf("write failed: %v", err)
	}
	wc.Close()

	full := filepath.Join(dir, "__defaultVhost__", "live", "foo-3.ts")
	b, err := os.ReadFile(full)
	if err != nil {
		t.Fatalf("expected segment file at %q: %v", full, err)
	}
	if string(b) != "payload" {
		t.Fatalf("unexpected segment contents: %q", b)
	}
}

func TestFSWriterWritePlaylistIsAtomic(t *testing.T) {
	dir := t.TempDir()
	w := NewFSWriter(dir, paths.Vars{Vhost: "v", App: "a", Stream: "s"})

	if err := w.WritePlaylist([]byte("#EXTM3U\n")); err != nil {
		t.Fatalf("WritePlaylist failed: %v", err)
	}

	full := filepath.Join(dir, "v", "a", "s.m3u8")
	b, err := os.ReadFile(full)
	if err != nil {
		t.Fatalf("expected playlist at %q: %v", full, err)
	}
	if string(b) != "#EXTM3U\n" {
		t.Fatalf("unexpected playlist contents: %q", b)
	}
	if _, err := os.Stat(full + ".tmp"); !os.IsNotExist(err) {
		t.Fatalf("expected temp playlist file to be renamed away, got err=%v", err)
	}
}

func TestFSWriterOnHLSInvokesCallback(t *testing.T) {
	dir := t.TempDir()
	var got Segment
	w := NewFSWriter(dir, paths.Vars{Vhost: "v", App: "a", Stream: "s"})
	w.OnSegmentClosed = func(seg Segment) { got = seg }

	w.OnHLS(Segment{SequenceNo: 5, URI: "s-5.ts"})
	if got.SequenceNo != 5 || got.URI != "s-5.ts" {
		t.Fatalf("unexpected callback segment: %+v", got)
	}
}
