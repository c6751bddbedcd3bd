package paths

import (
	"strings"
	"testing"
	"time"
)

func TestFormatSubstitutesAllPlaceholders(t *testing.T) {
	at := time.Date(2024, 3, 7, 13, 5, 9, 123_000_000, time.UTC)
	v := Vars{Vhost: "__defaultVhost__", App: "live", Stream: "foo", SeqNo: 42, At: at}

	got := Format(DefaultDVRPath, v)
	want := "./__defaultVhost__/live/foo/2024/03/07/13.05.09.123.flv"
	if got != want {
		t.Fatalf("Format() = %q, want %q", got, want)
	}
}

func TestFormatSegmentPath(t *testing.T) {
	v := Vars{Vhost: "live", App: "app1", Stream: "stream1", SeqNo: 7}
	got := Format(DefaultHLSSegment, v)
	if got != "./live/app1/stream1-7.ts" {
		t.Fatalf("unexpected segment path: %q", got)
	}
}

func TestFormatLeavesUnknownPlaceholdersAlone(t *testing.T) {
	got := Format("[vhost]/[unknown]/[stream]", Vars{Vhost: "v", Stream: "s"})
	if !strings.Contains(got, "[unknown]") {
		t.Fatalf("expected unknown placeholder preserved, got %q", got)
	}
}
