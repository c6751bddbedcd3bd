package bridge

import (
	"bytes"
	"context"
	"testing"
	"time"

	"redalf.de/corestream/pkg/mediapacket"
	"redalf.de/corestream/pkg/rtpdata"
	"redalf.de/corestream/pkg/runtime"
	"redalf.de/corestream/pkg/source"
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

func testSourceManager() *source.Manager {
	return source.NewManager(source.Config{Stripes: 2, GOPCacheSize: 4, QueueSize: 16, GracePeriod: 50 * time.Millisecond})
}

func TestRtmpToRtcRepacketizesLargeNALU(t *testing.T) {
	mgr := testSourceManager()
	worker := runtime.NewWorker()
	ingest := mgr.FetchOrCreate(mustURL(t, "live/foo"))
	if err := ingest.SetPublisher("rtmp-1"); err != nil {
		t.Fatal(err)
	}

	br := NewRtmpToRtc(mgr, worker, 0xdeadbeef)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	if err := br.Attach(ctx, ingest); err != nil {
		t.Fatalf("Attach failed: %v", err)
	}
	defer br.Close()

	rtcSrc, ok := mgr.Fetch(siblingURL(ingest.URL, "rtc"))
	if !ok {
		t.Fatal("expected sibling rtc source to exist")
	}
	consumer := rtcSrc.Attach()
	defer rtcSrc.Detach(consumer.ID)

	big := make([]byte, 3000)
	for i := range big {
		big[i] = byte(i)
	}
	big[0] = 0x65 // IDR NAL header
	annexB := rtpdata.JoinAnnexB([][]byte{big})

	pkt := mediapacket.New(mediapacket.TypeVideo, 1, annexB)
	pkt.Keyframe = true
	ingest.Publish(pkt, "h264-annexb", false)
	pkt.Release()

	select {
	case rtp := <-consumer.Recv():
		if len(rtp.Payload) == 0 {
			t.Fatal("expected non-empty RTP payload")
		}
		rtp.Release()
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for repacketized RTP payload")
	}
}

func TestRtcToRtmpReassemblesFUA(t *testing.T) {
	mgr := testSourceManager()
	worker := runtime.NewWorker()
	ingest := mgr.FetchOrCreate(mustURL(t, "live/bar"))
	if err := ingest.SetPublisher("rtc-1"); err != nil {
		t.Fatal(err)
	}

	br := NewRtcToRtmp(mgr, worker)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	if err := br.Attach(ctx, ingest); err != nil {
		t.Fatalf("Attach failed: %v", err)
	}
	defer br.Close()

	rtmpSrc, ok := mgr.Fetch(siblingURL(ingest.URL, "rtmp"))
	if !ok {
		t.Fatal("expected sibling rtmp source to exist")
	}
	consumer := rtmpSrc.Attach()
	defer rtmpSrc.Detach(consumer.ID)

	nalu := append([]byte{0x65}, bytes.Repeat([]byte{0xAB}, 2500)...)
	frags, err := rtpdata.PacketizeFUA(nalu, rtpdata.MaxPayload)
	if err != nil {
		t.Fatal(err)
	}
	for _, f := range frags {
		p := mediapacket.New(mediapacket.TypeVideo, 1, f)
		ingest.Publish(p, "h264-rtp", false)
		p.Release()
	}

	select {
	case out := <-consumer.Recv():
		defer out.Release()
		if !bytes.Contains(out.Payload, []byte{0x65}) {
			t.Fatal("expected reassembled AnnexB payload to contain the NAL header byte")
		}
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for reassembled AnnexB packet")
	}
}
