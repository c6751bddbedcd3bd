// Package srt adapts SRT caller connections into corestream's source
// hub. The SRT transport itself — handshake, congestion control, ARQ —
// is delegated to an external collaborator (no pure-Go SRT control
// stack exists in the corpus; see DESIGN.md), so this package only
// owns: parsing the caller's streamid, and the 0x47 sync-byte check on
// the 188-byte MPEG-TS payload the caller delivers once connected
// (§4.4.2). It does not demux that payload; see Demuxer.
package srt

import (
	"strings"

	"github.com/bluenviron/mediacommon/v2/pkg/formats/mpegts"

	"redalf.de/corestream/pkg/errs"
	"redalf.de/corestream/pkg/streamurl"
)

// Mode is the SRT streamid's requested role.
type Mode int

const (
	ModeRequest Mode = iota
	ModePublish
)

// StreamID is a parsed SRT streamid, conventionally
// "#!::r=app/stream,m=request|publish[,k=v]*".
type StreamID struct {
	URL    streamurl.URL
	Mode   Mode
	Params map[string]string
}

// ParseStreamID parses the SRT streamid query-string-like format.
func ParseStreamID(raw string) (*StreamID, error) {
	raw = strings.TrimSpace(raw)
	if !strings.HasPrefix(raw, "#!::") {
		return nil, errs.New(errs.KindProtocol, "srt: streamid missing #!:: prefix")
	}
	body := strings.TrimPrefix(raw, "#!::")

	params := make(map[string]string)
	for _, kv := range strings.Split(body, ",") {
		if kv == "" {
			continue
		}
		parts := strings.SplitN(kv, "=", 2)
		if len(parts) != 2 {
			return nil, errs.New(errs.KindProtocol, "srt: malformed streamid parameter")
		}
		params[parts[0]] = parts[1]
	}

	r, ok := params["r"]
	if !ok || r == "" {
		return nil, errs.New(errs.KindProtocol, "srt: streamid missing resource (r=)")
	}
	u, err := streamurl.Parse(r)
	if err != nil {
		return nil, errs.Wrap(errs.KindProtocol, err, "srt: invalid resource in streamid")
	}

	mode := ModeRequest
	if params["m"] == "publish" {
		mode = ModePublish
	}

	return &StreamID{URL: u, Mode: mode, Params: params}, nil
}

// Demuxer holds a mediacommon TS reader and an onData callback field.
// It has no method that reads from the reader, so nothing is decoded
// and onData is never invoked.
type Demuxer struct {
	reader *mpegts.Reader
	onData func(pid int, pkt []byte)
}

// NewDemuxer wraps mediacommon's TS reader and leaves onData unset.
func NewDemuxer(r *mpegts.Reader) *Demuxer {
	return &Demuxer{reader: r}
}

// ValidateSyncByte reports whether buf begins with a valid MPEG-TS
// sync byte, the cheap framing check named in §4.4.2 before handing a
// caller's payload to the TS reader.
func ValidateSyncByte(buf []byte) bool {
	return len(buf) > 0 && buf[0] == 0x47
}
