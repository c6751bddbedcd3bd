// Package rtsp adapts the teacher's gortsplib ServerHandler wiring
// (pkg/rtspsrv) to route through source.Manager and token.Manager
// instead of the old single-protocol topic.Manager, so an RTSP
// publisher contends for the same publish-token as RTMP/WebRTC/SRT
// publishers and its packets reach the same fan-out hub (§4.4.3).
package rtsp

import (
	"context"
	"fmt"
	"regexp"
	"strings"
	"sync"

	"github.com/aler9/gortsplib"
	"github.com/aler9/gortsplib/pkg/base"
	"github.com/pion/rtp"

	"redalf.de/corestream/pkg/bridge"
	"redalf.de/corestream/pkg/log"
	"redalf.de/corestream/pkg/mediapacket"
	"redalf.de/corestream/pkg/runtime"
	"redalf.de/corestream/pkg/source"
	"redalf.de/corestream/pkg/streamurl"
	"redalf.de/corestream/pkg/token"
)

var pathNameRe = regexp.MustCompile(`^[A-Za-z0-9_/-]+$`)

// Server runs the publisher-facing and subscriber-facing RTSP
// listeners gortsplib's model expects (teacher's split pub/sub port
// design, kept as-is — gortsplib's ServerStream model maps one stream
// to one announce, and separating ports avoids a publisher's ANNOUNCE
// colliding with a subscriber's DESCRIBE on busy deployments).
type Server struct {
	sources *source.Manager
	tokens  *token.Manager
	worker  *runtime.Worker
	pubPort int
	subPort int

	mu     sync.Mutex
	pubSrv *gortsplib.Server
	subSrv *gortsplib.Server
}

// NewServer creates a Server routing through sources/tokens. worker
// runs the per-session goroutines that pump a cross-protocol bridge's
// sibling Source into a synthesized ServerStream (§4.2, §4.4.3).
func NewServer(sources *source.Manager, tokens *token.Manager, worker *runtime.Worker, pubPort, subPort int) *Server {
	return &Server{sources: sources, tokens: tokens, worker: worker, pubPort: pubPort, subPort: subPort}
}

// Start launches both listeners in background goroutines.
func (s *Server) Start(ctx context.Context) error {
	h := &handler{
		sources:  s.sources,
		tokens:   s.tokens,
		worker:   s.worker,
		streams:  make(map[string]*gortsplib.ServerStream),
		sessions: make(map[*gortsplib.ServerSession]*sessionState),
	}

	pubSrv := &gortsplib.Server{Handler: h, RTSPAddress: fmt.Sprintf(":%d", s.pubPort)}
	subSrv := &gortsplib.Server{Handler: h, RTSPAddress: fmt.Sprintf(":%d", s.subPort)}

	s.mu.Lock()
	s.pubSrv, s.subSrv = pubSrv, subSrv
	s.mu.Unlock()

	go func() {
		log.Info("rtsp: starting publisher listener", "port", s.pubPort)
		if err := pubSrv.Start(); err != nil {
			log.Error("rtsp: publisher listener stopped", "err", err)
		}
	}()
	go func() {
		log.Info("rtsp: starting subscriber listener", "port", s.subPort)
		if err := subSrv.Start(); err != nil {
			log.Error("rtsp: subscriber listener stopped", "err", err)
		}
	}()
	return nil
}

// Close stops both listeners.
func (s *Server) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.pubSrv != nil {
		s.pubSrv.Close()
	}
	if s.subSrv != nil {
		s.subSrv.Close()
	}
}

type sessionState struct {
	url       streamurl.URL
	isPub     bool
	tok       *token.Token
	src       *source.Source
	consumer  *source.Consumer
}

// handler implements gortsplib.ServerHandler, the teacher's
// serverHandler grown to track the generalized Source/token per
// session instead of a bare topic name string.
type handler struct {
	sources *source.Manager
	tokens  *token.Manager
	worker  *runtime.Worker

	mu       sync.Mutex
	streams  map[string]*gortsplib.ServerStream // keyed by streamurl.Canonical()
	sessions map[*gortsplib.ServerSession]*sessionState
}

// ensureStream returns the ServerStream and backing Source to read u
// from, synthesizing a ServerStream from a bridge-produced "rc/<app>"
// sibling the first time an RTSP client plays a stream published over
// a different protocol — RTSP's OnAnnounce is the only other place a
// ServerStream gets created, and that only happens for natively
// RTSP-published streams (§4.2's cross-protocol fan-out, §8 scenario
// 3's WebRTC-and-RTMP case generalized to RTSP egress).
func (h *handler) ensureStream(u streamurl.URL) (*gortsplib.ServerStream, *source.Source, bool) {
	key := u.Canonical()
	h.mu.Lock()
	st := h.streams[key]
	h.mu.Unlock()
	if st != nil {
		src, ok := h.sources.Fetch(u)
		return st, src, ok
	}

	sib, ok := bridge.Fetch(h.sources, u, "rtc")
	if !ok || !sib.HasPublisher() || sib.Protocol == "rtsp" {
		return nil, nil, false
	}

	track := &gortsplib.TrackH264{PayloadType: 96, PacketizationMode: 1}
	newSt := gortsplib.NewServerStream(gortsplib.Tracks{track})

	h.mu.Lock()
	if existing := h.streams[key]; existing != nil {
		h.mu.Unlock()
		return existing, sib, true
	}
	h.streams[key] = newSt
	h.mu.Unlock()

	consumer := sib.Attach()
	h.worker.Spawn(context.Background(), func(ctx context.Context) {
		h.pumpBridgedStream(ctx, key, newSt, sib, consumer)
	})
	return newSt, sib, true
}

// pumpBridgedStream drains a bridge sibling's Consumer into the
// synthesized ServerStream's single H.264 track until the consumer
// closes, the way OnPacketRTP drains a native publisher directly, then
// forgets the synthesized stream so the next play re-synthesizes a
// fresh one against whatever is publishing by then.
func (h *handler) pumpBridgedStream(ctx context.Context, key string, st *gortsplib.ServerStream, sib *source.Source, consumer *source.Consumer) {
	defer sib.Detach(consumer.ID)
	defer func() {
		h.mu.Lock()
		if h.streams[key] == st {
			delete(h.streams, key)
		}
		h.mu.Unlock()
	}()
	var seq uint16
	for {
		select {
		case <-ctx.Done():
			return
		case pkt, ok := <-consumer.Recv():
			if !ok {
				return
			}
			seq++
			st.WritePacketRTP(0, &rtp.Packet{
				Header:  rtp.Header{Version: 2, PayloadType: 96, SequenceNumber: seq, Timestamp: pkt.DTS},
				Payload: pkt.Payload,
			})
			pkt.Release()
		}
	}
}

func (h *handler) OnConnOpen(ctx *gortsplib.ServerHandlerOnConnOpenCtx) {
	log.Debug("rtsp: connection opened", "addr", ctx.Conn.NetConn().RemoteAddr())
}

func (h *handler) OnConnClose(ctx *gortsplib.ServerHandlerOnConnCloseCtx) {
	log.Debug("rtsp: connection closed", "addr", ctx.Conn.NetConn().RemoteAddr())
}

func pathToURL(path string) (streamurl.URL, error) {
	return streamurl.Parse(strings.TrimPrefix(path, "/"))
}

func (h *handler) OnDescribe(ctx *gortsplib.ServerHandlerOnDescribeCtx) (*base.Response, *gortsplib.ServerStream, error) {
	u, err := pathToURL(ctx.Path)
	if err != nil {
		return &base.Response{StatusCode: base.StatusBadRequest}, nil, nil
	}
	st, _, ok := h.ensureStream(u)
	if !ok {
		return &base.Response{StatusCode: base.StatusNotFound}, nil, nil
	}
	return &base.Response{StatusCode: base.StatusOK}, st, nil
}

func (h *handler) OnAnnounce(ctx *gortsplib.ServerHandlerOnAnnounceCtx) (*base.Response, error) {
	u, err := pathToURL(ctx.Path)
	if err != nil || !pathNameRe.MatchString(u.Canonical()) {
		return &base.Response{StatusCode: base.StatusBadRequest}, nil
	}

	pubID := fmt.Sprintf("rtsp:%p", ctx.Session)
	tok, err := h.tokens.Acquire(u, pubID)
	if err != nil {
		return &base.Response{StatusCode: base.StatusBadRequest}, nil
	}
	src := h.sources.FetchOrCreate(u)
	if err := src.SetPublisher(pubID); err != nil {
		h.tokens.Release(tok)
		return &base.Response{StatusCode: base.StatusBadRequest}, nil
	}
	src.Protocol = "rtsp"

	st := gortsplib.NewServerStream(ctx.Tracks)
	h.mu.Lock()
	h.streams[u.Canonical()] = st
	h.sessions[ctx.Session] = &sessionState{url: u, isPub: true, tok: tok, src: src}
	h.mu.Unlock()
	return &base.Response{StatusCode: base.StatusOK}, nil
}

func (h *handler) OnRecord(ctx *gortsplib.ServerHandlerOnRecordCtx) (*base.Response, error) {
	return &base.Response{StatusCode: base.StatusOK}, nil
}

func (h *handler) OnPacketRTP(ctx *gortsplib.ServerHandlerOnPacketRTPCtx) {
	h.mu.Lock()
	st := h.sessions[ctx.Session]
	h.mu.Unlock()
	if st == nil || !st.isPub {
		return
	}

	h.mu.Lock()
	stream := h.streams[st.url.Canonical()]
	h.mu.Unlock()
	if stream != nil {
		stream.WritePacketRTP(ctx.TrackID, ctx.Packet)
	}

	pkt := mediapacket.New(mediapacket.TypeVideo, ctx.Packet.Timestamp, ctx.Packet.Payload)
	st.src.Publish(pkt, "rtp", false)
	pkt.Release()
}

func (h *handler) OnSetup(ctx *gortsplib.ServerHandlerOnSetupCtx) (*base.Response, *gortsplib.ServerStream, error) {
	u, err := pathToURL(ctx.Path)
	if err != nil {
		return &base.Response{StatusCode: base.StatusBadRequest}, nil, nil
	}
	st, _, ok := h.ensureStream(u)
	if !ok {
		return &base.Response{StatusCode: base.StatusNotFound}, nil, nil
	}
	return &base.Response{StatusCode: base.StatusOK}, st, nil
}

func (h *handler) OnPlay(ctx *gortsplib.ServerHandlerOnPlayCtx) (*base.Response, error) {
	u, err := pathToURL(ctx.Path)
	if err != nil {
		return &base.Response{StatusCode: base.StatusBadRequest}, nil
	}
	_, src, ok := h.ensureStream(u)
	if !ok {
		return &base.Response{StatusCode: base.StatusServiceUnavailable}, nil
	}
	consumer := src.Attach()

	h.mu.Lock()
	h.sessions[ctx.Session] = &sessionState{url: u, isPub: false, src: src, consumer: consumer}
	h.mu.Unlock()
	return &base.Response{StatusCode: base.StatusOK}, nil
}

func (h *handler) OnSessionClose(ctx *gortsplib.ServerHandlerOnSessionCloseCtx) {
	h.mu.Lock()
	st := h.sessions[ctx.Session]
	delete(h.sessions, ctx.Session)
	h.mu.Unlock()
	if st == nil {
		return
	}
	if st.isPub {
		st.src.RemovePublisher()
		if st.tok != nil {
			h.tokens.Release(st.tok)
		}
		h.mu.Lock()
		delete(h.streams, st.url.Canonical())
		h.mu.Unlock()
	} else if st.consumer != nil {
		st.src.Detach(st.consumer.ID)
	}
}
