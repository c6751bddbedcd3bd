package hls

import (
	"context"
	"testing"
	"time"

	"redalf.de/corestream/pkg/source"
	"redalf.de/corestream/pkg/streamurl"
)

func TestSinkDrainsSourceIntoMuxer(t *testing.T) {
	u, err := streamurl.Parse("live/foo")
	if err != nil {
		t.Fatalf("Parse failed: %v", err)
	}
	mgr := source.NewManager(source.Config{Stripes: 1, GOPCacheSize: 4, QueueSize: 8, GracePeriod: 10 * time.Millisecond})
	src := mgr.FetchOrCreate(u)
	if err := src.SetPublisher("test"); err != nil {
		t.Fatalf("SetPublisher failed: %v", err)
	}

	w := &memWriter{}
	sink := Attach(src, New(DefaultConfig(), w))

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		sink.Run(ctx)
		close(done)
	}()

	src.Publish(videoPkt(0, true), "h264", false)
	src.Publish(videoPkt(50, false), "h264", false)

	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("expected sink.Run to return after context cancellation")
	}
}
