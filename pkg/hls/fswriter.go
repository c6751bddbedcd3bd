package hls

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"redalf.de/corestream/pkg/log"
	"redalf.de/corestream/pkg/paths"
)

// FSWriter is the default SegmentWriter: it renders paths.DefaultHLSSegment/
// DefaultHLSPlaylist (or an operator-supplied template) under Dir, and
// atomically renames the playlist into place so a reader never observes a
// half-written m3u8 (§4.4.4's "temp file + rename" carve-out).
type FSWriter struct {
	Dir              string
	SegmentTemplate  string
	PlaylistTemplate string
	Vars             paths.Vars // Vhost/App/Stream are fixed per Muxer instance
	OnSegmentClosed  func(Segment)
}

// NewFSWriter returns an FSWriter defaulting to SRS's own path layouts
// rooted at dir.
func NewFSWriter(dir string, vars paths.Vars) *FSWriter {
	return &FSWriter{
		Dir:              dir,
		SegmentTemplate:  paths.DefaultHLSSegment,
		PlaylistTemplate: paths.DefaultHLSPlaylist,
		Vars:             vars,
	}
}

// OpenSegment implements SegmentWriter.
func (w *FSWriter) OpenSegment(seq int) (WriteCloser, string, error) {
	v := w.Vars
	v.SeqNo = seq
	v.At = time.Now()
	rel := paths.Format(w.SegmentTemplate, v)
	full := filepath.Join(w.Dir, rel)
	if err := os.MkdirAll(filepath.Dir(full), 0o755); err != nil {
		return nil, "", fmt.Errorf("hls: mkdir segment dir: %w", err)
	}
	f, err := os.Create(full)
	if err != nil {
		return nil, "", fmt.Errorf("hls: create segment file: %w", err)
	}
	return f, filepath.Base(rel), nil
}

// WritePlaylist implements SegmentWriter via a temp-file-then-rename swap
// so concurrent readers never see a truncated playlist.
func (w *FSWriter) WritePlaylist(body []byte) error {
	v := w.Vars
	v.At = time.Now()
	rel := paths.Format(w.PlaylistTemplate, v)
	full := filepath.Join(w.Dir, rel)
	if err := os.MkdirAll(filepath.Dir(full), 0o755); err != nil {
		return fmt.Errorf("hls: mkdir playlist dir: %w", err)
	}

	tmp := full + ".tmp"
	if err := os.WriteFile(tmp, body, 0o644); err != nil {
		return fmt.Errorf("hls: write temp playlist: %w", err)
	}
	if err := os.Rename(tmp, full); err != nil {
		return fmt.Errorf("hls: rename playlist into place: %w", err)
	}
	return nil
}

// OnHLS implements SegmentWriter, firing the configured callback (the
// admin on_hls hook, typically) once a segment closes.
func (w *FSWriter) OnHLS(seg Segment) {
	log.Debug("hls: segment closed", "seq", seg.SequenceNo, "uri", seg.URI, "duration", seg.Duration)
	if w.OnSegmentClosed != nil {
		w.OnSegmentClosed(seg)
	}
}
