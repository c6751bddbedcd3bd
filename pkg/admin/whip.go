package admin

import (
	"context"
	"encoding/json"
	"io"
	"net/http"

	"github.com/google/uuid"
	"github.com/pion/webrtc/v4"

	"redalf.de/corestream/pkg/bridge"
	"redalf.de/corestream/pkg/errs"
	"redalf.de/corestream/pkg/log"
	"redalf.de/corestream/pkg/runtime"
	"redalf.de/corestream/pkg/source"
	"redalf.de/corestream/pkg/streamurl"
	"redalf.de/corestream/pkg/token"
	"redalf.de/corestream/pkg/udpalloc"
	corewebrtc "redalf.de/corestream/pkg/webrtc"
)

// WHIP response codes, named off the spec's `code == 0` success /
// `code == StreamBusy` conflict contract (§6, §8 scenario 2).
const (
	whipCodeOK          = 0
	whipCodeBadRequest  = 400
	whipCodeStreamBusy  = 1002
	whipCodeServerError = 500
)

// whipRequest is the documented WHIP/WHEP signalling body: `{api, tid,
// streamurl, sdp, clientip?, codec?}` (§6).
type whipRequest struct {
	API       string `json:"api"`
	TID       string `json:"tid"`
	StreamURL string `json:"streamurl"`
	SDP       string `json:"sdp"`
	ClientIP  string `json:"clientip,omitempty"`
	Codec     string `json:"codec,omitempty"`
}

// whipResponse is the documented WHIP/WHEP signalling response:
// `{code, sdp, sessionid, simulator}` (§6).
type whipResponse struct {
	Code      int    `json:"code"`
	SDP       string `json:"sdp,omitempty"`
	SessionID string `json:"sessionid,omitempty"`
	Simulator string `json:"simulator,omitempty"`
}

// WHIPServer wires the WebRTC HTTP API (§6): POST /rtc/v1/publish/ and
// POST /rtc/v1/play/, each taking the documented JSON signalling body
// and returning the documented JSON response, backed by pkg/webrtc and
// pkg/source the same way every other ingest/egress protocol is.
type WHIPServer struct {
	Sources    *source.Manager
	Tokens     *token.Manager
	Worker     *runtime.Worker
	ICE        []webrtc.ICEServer
	HEVC       bool
	UDPPortMin uint16
	UDPPortMax uint16

	// Allocator, when set, reserves each peer connection's RTP/RTCP
	// UDP port pair through pkg/udpalloc instead of leaving pion to
	// open an ephemeral port per ICE candidate.
	Allocator *udpalloc.Allocator
}

func (s *WHIPServer) connConfig(publish bool) corewebrtc.Config {
	return corewebrtc.Config{
		ICEServers: s.ICE, Publish: publish, HEVC: s.HEVC,
		UDPPortMin: s.UDPPortMin, UDPPortMax: s.UDPPortMax,
		Allocator: s.Allocator,
	}
}

// PublishHandler accepts a WHIP offer, admits the publisher through
// the token Manager the same way RTMP/SRT ingest does, and wires the
// resulting tracks into a source.Source.
func (s *WHIPServer) PublishHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		req, err := readWHIPRequest(r)
		if err != nil {
			writeWHIPError(w, err)
			return
		}

		u, err := streamurl.Parse(req.StreamURL)
		if err != nil {
			writeWHIPError(w, errs.Wrap(errs.KindProtocol, err, "admin: invalid streamurl"))
			return
		}

		sessionID := uuid.NewString()
		tok, err := s.Tokens.Acquire(u, sessionID)
		if err != nil {
			writeWHIPError(w, err)
			return
		}

		conn, err := corewebrtc.New(s.connConfig(true))
		if err != nil {
			s.Tokens.Release(tok)
			writeWHIPError(w, errs.Wrap(errs.KindFatal, err, "admin: set up peer connection"))
			return
		}

		src := s.Sources.FetchOrCreate(u)
		if err := src.SetPublisher(sessionID); err != nil {
			s.Tokens.Release(tok)
			writeWHIPError(w, err)
			return
		}
		src.Protocol = "rtc"

		offer := webrtc.SessionDescription{Type: webrtc.SDPTypeOffer, SDP: req.SDP}
		parsed, err := corewebrtc.ParseOffer(offer)
		if err != nil {
			s.Tokens.Release(tok)
			src.RemovePublisher()
			writeWHIPError(w, errs.Wrap(errs.KindProtocol, err, "admin: parse whip offer"))
			return
		}

		answer, err := corewebrtc.Negotiate(r.Context(), conn, parsed)
		if err != nil {
			s.Tokens.Release(tok)
			src.RemovePublisher()
			writeWHIPError(w, errs.Wrap(errs.KindFatal, err, "admin: negotiate whip offer"))
			return
		}

		corewebrtc.NewPublisherSession(conn, src, s.Worker)

		go func() {
			<-conn.Closed()
			src.RemovePublisher()
			s.Tokens.Release(tok)
			log.Info("whip: publisher session ended", "stream", u.Canonical())
		}()

		writeWHIPResponse(w, whipResponse{Code: whipCodeOK, SDP: answer.SDP, SessionID: sessionID, Simulator: simulatorURL(u)})
	}
}

// PlayHandler accepts a WHIP-style play offer and attaches the caller
// as an ordinary source.Consumer. bridge.Fetch prefers a bridge's "rtc"
// sibling over the canonical Source, so a stream published over RTMP,
// SRT or RTSP is still playable here (§4.2, §4.3, §8 scenario 3). The
// subscriber's dispatch loop runs for the lifetime of the peer
// connection, not the HTTP request, so it is spawned against a context
// tied to conn.Closed() rather than r.Context().
func (s *WHIPServer) PlayHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		req, err := readWHIPRequest(r)
		if err != nil {
			writeWHIPError(w, err)
			return
		}

		u, err := streamurl.Parse(req.StreamURL)
		if err != nil {
			writeWHIPError(w, errs.Wrap(errs.KindProtocol, err, "admin: invalid streamurl"))
			return
		}

		src, ok := bridge.Fetch(s.Sources, u, "rtc")
		if !ok {
			writeWHIPError(w, errs.New(errs.KindAdmission, "admin: no active publisher for stream"))
			return
		}

		conn, err := corewebrtc.New(s.connConfig(false))
		if err != nil {
			writeWHIPError(w, errs.Wrap(errs.KindFatal, err, "admin: set up peer connection"))
			return
		}

		offer := webrtc.SessionDescription{Type: webrtc.SDPTypeOffer, SDP: req.SDP}
		parsed, err := corewebrtc.ParseOffer(offer)
		if err != nil {
			writeWHIPError(w, errs.Wrap(errs.KindProtocol, err, "admin: parse whip offer"))
			return
		}

		answer, err := corewebrtc.Negotiate(r.Context(), conn, parsed)
		if err != nil {
			writeWHIPError(w, errs.Wrap(errs.KindFatal, err, "admin: negotiate whip offer"))
			return
		}

		sessionID := uuid.NewString()
		consumer := src.Attach()
		ssrc := bridge.SSRCFor(sessionID)
		sub, err := corewebrtc.NewSubscriberSession(conn, consumer, ssrc, webrtc.RTPCodecCapability{
			MimeType: webrtc.MimeTypeH264, ClockRate: 90000,
		})
		if err != nil {
			src.Detach(consumer.ID)
			writeWHIPError(w, errs.Wrap(errs.KindFatal, err, "admin: create subscriber session"))
			return
		}

		runCtx, cancel := context.WithCancel(context.Background())
		go func() {
			<-conn.Closed()
			cancel()
		}()
		s.Worker.Spawn(runCtx, func(ctx context.Context) {
			defer src.Detach(consumer.ID)
			sub.Run(ctx)
		})

		writeWHIPResponse(w, whipResponse{Code: whipCodeOK, SDP: answer.SDP, SessionID: sessionID, Simulator: simulatorURL(u)})
	}
}

// simulatorURL is a human-debuggable link back to the play endpoint
// for the stream just negotiated, echoed in the `simulator` field the
// way SRS's own WHIP API does for its browser test player.
func simulatorURL(u streamurl.URL) string {
	return "/rtc/v1/play/?streamurl=" + u.Canonical()
}

func readWHIPRequest(r *http.Request) (whipRequest, error) {
	var req whipRequest
	body, err := io.ReadAll(io.LimitReader(r.Body, 1<<20))
	if err != nil {
		return req, errs.Wrap(errs.KindProtocol, err, "admin: read whip request body")
	}
	if err := json.Unmarshal(body, &req); err != nil {
		return req, errs.Wrap(errs.KindProtocol, err, "admin: decode whip request body")
	}
	if req.SDP == "" || req.StreamURL == "" {
		return req, errs.New(errs.KindProtocol, "admin: whip request missing sdp or streamurl")
	}
	return req, nil
}

func writeWHIPResponse(w http.ResponseWriter, resp whipResponse) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_ = json.NewEncoder(w).Encode(resp)
}

// writeWHIPError always answers with the documented JSON envelope
// (§6), mapping admission conflicts onto the StreamBusy code the
// spec's scenario 2 checks for and everything else onto a generic
// client/server error code.
func writeWHIPError(w http.ResponseWriter, err error) {
	code := whipCodeServerError
	switch errs.KindOf(err) {
	case errs.KindAdmission:
		code = whipCodeStreamBusy
	case errs.KindProtocol:
		code = whipCodeBadRequest
	}
	log.Warn("whip: request failed", "err", err)
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_ = json.NewEncoder(w).Encode(whipResponse{Code: code})
}
