package webrtc

import (
	"context"
	"strings"

	"github.com/pion/sdp/v3"
	"github.com/pion/webrtc/v4"

	"redalf.de/corestream/pkg/errs"
	"redalf.de/corestream/pkg/log"
)

// Offer is a parsed remote SDP offer plus the attributes corestream's
// negotiation policy cares about.
type Offer struct {
	SDP         webrtc.SessionDescription
	DTLSActive  bool // remote set "a=setup:active"
	TransportCC int  // negotiated extmap id for transport-cc, 0 if absent
	AudioLevel  int  // negotiated extmap id for audio-level, 0 if absent
}

// ParseOffer inspects the raw SDP for the bits negotiation policy
// needs before handing it to pion: the remote's DTLS setup role (so
// the answer can mirror it per spec) and any extension ids the remote
// already assigned, which the answer must inherit rather than
// reassign (§4.3's "extension id inheritance" bullet).
func ParseOffer(sd webrtc.SessionDescription) (*Offer, error) {
	var parsed sdp.SessionDescription
	if err := parsed.Unmarshal([]byte(sd.SDP)); err != nil {
		return nil, errs.Wrap(errs.KindProtocol, err, "webrtc: parse offer sdp")
	}

	o := &Offer{SDP: sd}
	for _, media := range parsed.MediaDescriptions {
		for _, attr := range media.Attributes {
			switch attr.Key {
			case "setup":
				if attr.Value == "active" {
					o.DTLSActive = true
				}
			case "extmap":
				id, uri, ok := parseExtmap(attr.Value)
				if !ok {
					continue
				}
				switch {
				case strings.Contains(uri, "transport-wide-cc"):
					o.TransportCC = id
				case strings.Contains(uri, "ssrc-audio-level"):
					o.AudioLevel = id
				}
			}
		}
	}
	return o, nil
}

func parseExtmap(value string) (id int, uri string, ok bool) {
	fields := strings.Fields(value)
	if len(fields) < 2 {
		return 0, "", false
	}
	idStr := strings.SplitN(fields[0], "/", 2)[0]
	n := 0
	for _, r := range idStr {
		if r < '0' || r > '9' {
			return 0, "", false
		}
		n = n*10 + int(r-'0')
	}
	return n, fields[1], true
}

// dtlsRole mirrors the remote's setup attribute: "actpass" from the
// remote is answered "passive" unless the deployment is explicitly
// configured active, per spec. Pion's own answer generation already
// defaults to this, this just makes the policy explicit and testable.
func dtlsRole(o *Offer, forceActive bool) webrtc.DTLSRole {
	if forceActive {
		return webrtc.DTLSRoleClient
	}
	if o.DTLSActive {
		// remote is active, we must be passive (a=setup:passive -> server)
		return webrtc.DTLSRoleServer
	}
	return webrtc.DTLSRoleServer
}

// Negotiate drives the full offer/answer exchange against conn: set
// the remote description, create a local answer, wait for ICE
// gathering to complete (trickle-less, matching the WHIP-style flow
// the session grounding uses), and return the final answer SDP.
func Negotiate(ctx context.Context, conn *Connection, offer *Offer) (*webrtc.SessionDescription, error) {
	pc := conn.PC()

	// Pion itself picks the answer's a=setup line; this only records
	// the policy decision the spec names (actpass mirrors to passive
	// unless forced active) so it's visible in logs during negotiation
	// debugging.
	log.Debug("webrtc: dtls role decision", "role", dtlsRole(offer, false).String())

	if err := pc.SetRemoteDescription(offer.SDP); err != nil {
		return nil, errs.Wrap(errs.KindProtocol, err, "webrtc: set remote description")
	}

	answer, err := pc.CreateAnswer(nil)
	if err != nil {
		return nil, errs.Wrap(errs.KindProtocol, err, "webrtc: create answer")
	}

	gatherComplete := webrtc.GatheringCompletePromise(pc)
	if err := pc.SetLocalDescription(answer); err != nil {
		return nil, errs.Wrap(errs.KindProtocol, err, "webrtc: set local description")
	}

	select {
	case <-gatherComplete:
	case <-ctx.Done():
		return nil, errs.Wrap(errs.KindTimeout, ctx.Err(), "webrtc: ice gathering")
	}

	final := pc.LocalDescription()
	return final, nil
}
