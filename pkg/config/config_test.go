package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestLoadEmptyPathReturnsDefault(t *testing.T) {
	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.RTMP.ChunkSize != 60000 {
		t.Fatalf("expected default chunk size 60000, got %d", cfg.RTMP.ChunkSize)
	}
}

func TestLoadMergesOverFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "cfg.json")
	if err := os.WriteFile(path, []byte(`{"rtmp":{"chunk_size":128}}`), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.RTMP.ChunkSize != 128 {
		t.Fatalf("expected overridden chunk size 128, got %d", cfg.RTMP.ChunkSize)
	}
	if cfg.WebRTC.StunTimeout.Duration != 30*time.Second {
		t.Fatalf("expected untouched default stun timeout, got %v", cfg.WebRTC.StunTimeout.Duration)
	}
}

func TestDurationRoundTrip(t *testing.T) {
	d := Duration{20 * time.Second}
	b, err := d.MarshalJSON()
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	var d2 Duration
	if err := d2.UnmarshalJSON(b); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if d2.Duration != d.Duration {
		t.Fatalf("round-trip mismatch: %v != %v", d2.Duration, d.Duration)
	}
}
