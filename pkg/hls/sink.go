package hls

import (
	"context"

	"redalf.de/corestream/pkg/log"
	"redalf.de/corestream/pkg/source"
)

// Sink attaches a Muxer to a source.Source as an ordinary consumer,
// the same fan-out path RTMP/RTC/SRT egress already use — HLS is just
// another Consumer of the hub, not a special-cased path.
type Sink struct {
	muxer    *Muxer
	source   *source.Source
	consumer *source.Consumer
}

// Attach registers a new consumer on src and returns a Sink ready to
// be run.
func Attach(src *source.Source, muxer *Muxer) *Sink {
	return &Sink{muxer: muxer, source: src, consumer: src.Attach()}
}

// Run drains the consumer into the muxer until ctx is cancelled or the
// source detaches it, then flushes the final segment.
func (s *Sink) Run(ctx context.Context) {
	defer func() {
		s.source.Detach(s.consumer.ID)
		if err := s.muxer.Close(); err != nil {
			log.Warn("hls: final segment flush failed", "err", err)
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return
		case pkt, ok := <-s.consumer.Recv():
			if !ok {
				return
			}
			if err := s.muxer.Write(pkt); err != nil {
				log.Warn("hls: segment write failed", "err", err)
			}
			pkt.Release()
		}
	}
}
