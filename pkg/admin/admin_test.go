package admin

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"redalf.de/corestream/pkg/bridge"
	"redalf.de/corestream/pkg/source"
	"redalf.de/corestream/pkg/streamurl"
)

func TestStatusHandlerReportsSourceCount(t *testing.T) {
	mgr := source.NewManager(source.Config{Stripes: 1, GOPCacheSize: 4, QueueSize: 8, GracePeriod: 10 * time.Millisecond})
	u, err := streamurl.Parse("live/foo")
	if err != nil {
		t.Fatalf("Parse failed: %v", err)
	}
	mgr.FetchOrCreate(u)

	req := httptest.NewRequest(http.MethodGet, "/status", nil)
	rec := httptest.NewRecorder()
	StatusHandler(mgr)(rec, req)

	var st Status
	if err := json.NewDecoder(rec.Body).Decode(&st); err != nil {
		t.Fatalf("decode status: %v", err)
	}
	if st.Sources != 1 {
		t.Fatalf("expected 1 source, got %d", st.Sources)
	}
}

func whipBody(t *testing.T, req whipRequest) *bytes.Reader {
	t.Helper()
	b, err := json.Marshal(req)
	if err != nil {
		t.Fatalf("marshal whip request: %v", err)
	}
	return bytes.NewReader(b)
}

func TestPublishHandlerRejectsMissingStreamURL(t *testing.T) {
	s := &WHIPServer{}
	body := whipBody(t, whipRequest{SDP: "v=0"})
	req := httptest.NewRequest(http.MethodPost, "/rtc/v1/publish/", body)
	rec := httptest.NewRecorder()
	s.PublishHandler()(rec, req)

	var resp whipResponse
	if err := json.NewDecoder(rec.Body).Decode(&resp); err != nil {
		t.Fatalf("decode whip response: %v", err)
	}
	if resp.Code != whipCodeBadRequest {
		t.Fatalf("expected code %d for a missing streamurl, got %d", whipCodeBadRequest, resp.Code)
	}
}

func TestPlayHandlerReturnsStreamBusyCodeForUnknownStream(t *testing.T) {
	mgr := source.NewManager(source.Config{Stripes: 1, GOPCacheSize: 4, QueueSize: 8, GracePeriod: 10 * time.Millisecond})
	s := &WHIPServer{Sources: mgr}

	body := whipBody(t, whipRequest{StreamURL: "live/missing", SDP: "v=0"})
	req := httptest.NewRequest(http.MethodPost, "/rtc/v1/play/", body)
	rec := httptest.NewRecorder()
	s.PlayHandler()(rec, req)

	var resp whipResponse
	if err := json.NewDecoder(rec.Body).Decode(&resp); err != nil {
		t.Fatalf("decode whip response: %v", err)
	}
	if resp.Code != whipCodeStreamBusy {
		t.Fatalf("expected code %d for an unpublished stream, got %d", whipCodeStreamBusy, resp.Code)
	}
}

func TestSSRCForNeverZero(t *testing.T) {
	if v := bridge.SSRCFor(""); v == 0 {
		t.Fatal("expected an empty key to still map to a nonzero ssrc")
	}
}
