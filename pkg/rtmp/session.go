package rtmp

import (
	"context"
	"net"
	"time"

	"redalf.de/corestream/pkg/bridge"
	"redalf.de/corestream/pkg/errs"
	"redalf.de/corestream/pkg/log"
	"redalf.de/corestream/pkg/mediapacket"
	"redalf.de/corestream/pkg/runtime"
	"redalf.de/corestream/pkg/source"
	"redalf.de/corestream/pkg/streamurl"
	"redalf.de/corestream/pkg/token"
)

const (
	msgTypeAudio        = 8
	msgTypeVideo        = 9
	msgTypeAMF0Command  = 20
	msgTypeAMF0Metadata = 18
)

// Session drives one accepted RTMP connection end to end: handshake,
// the connect/createStream/publish-or-play command sequence, then the
// steady-state media loop, exactly mirroring the teacher's per-protocol
// session-object pattern.
type Session struct {
	conn    net.Conn
	cid     string
	sources *source.Manager
	tokens  *token.Manager

	chunkSize uint32
	streamURL streamurl.URL
	publishing bool
	token     *token.Token
	src       *source.Source
	consumer  *source.Consumer
}

// NewSession wraps an accepted connection with the dependencies it
// needs to admit publishers and subscribers.
func NewSession(conn net.Conn, cid string, sources *source.Manager, tokens *token.Manager) *Session {
	return &Session{conn: conn, cid: cid, sources: sources, tokens: tokens, chunkSize: DefaultChunkSize}
}

// Serve runs the session to completion: handshake, command negotiation,
// then either the publisher ingest loop or the subscriber egress loop.
func (s *Session) Serve(ctx context.Context) error {
	ctx, _ = runtime.WithCID(ctx, s.cid)

	if err := ServerHandshake(ctx, s.conn); err != nil {
		return err
	}

	reader := NewChunkReader(s.conn)
	writer := NewChunkWriter(s.conn)
	if err := writer.SetChunkSize(ctx, s.chunkSize); err != nil {
		return err
	}

	for {
		msg, err := reader.ReadMessage(ctx)
		if err != nil {
			return err
		}
		if msg.TypeID != msgTypeAMF0Command {
			continue
		}
		done, err := s.handleCommand(ctx, msg, writer)
		if err != nil {
			return err
		}
		if done {
			break
		}
	}

	if s.publishing {
		return s.ingestLoop(ctx, reader)
	}
	return s.egressLoop(ctx, writer)
}

// handleCommand dispatches one AMF0 command message, returning done=true
// once the session has transitioned into its steady-state media loop
// (after a successful publish or play).
func (s *Session) handleCommand(ctx context.Context, msg *Message, writer *ChunkWriter) (bool, error) {
	values, err := DecodeAll(msg.Payload)
	if err != nil {
		return false, err
	}
	if len(values) < 1 {
		return false, errs.New(errs.KindProtocol, "rtmp: empty command message")
	}
	name, _ := values[0].(string)

	switch name {
	case "connect":
		return false, s.replyResult(ctx, writer, msg, 1)
	case "createStream":
		txn, _ := asNumber(values, 1)
		return false, s.replyCreateStream(ctx, writer, msg, txn)
	case "publish":
		return true, s.handlePublish(values, msg)
	case "play":
		return true, s.handlePlay(values, msg)
	case "FCPublish", "releaseStream":
		return false, nil
	default:
		log.Pithy("rtmp.unhandled_command", time.Minute, "rtmp: ignoring unhandled command", "name", name)
		return false, nil
	}
}

func asNumber(values []Value, i int) (float64, bool) {
	if i >= len(values) {
		return 0, false
	}
	n, ok := values[i].(float64)
	return n, ok
}

func (s *Session) replyResult(ctx context.Context, writer *ChunkWriter, msg *Message, txn float64) error {
	var payload []byte
	payload = EncodeString(payload, "_result")
	payload = EncodeNumber(payload, txn)
	payload = EncodeObject(payload)
	payload = EncodeNull(payload)
	return writer.WriteMessage(ctx, &Message{CSID: msg.CSID, TypeID: msgTypeAMF0Command, StreamID: msg.StreamID, Payload: payload})
}

func (s *Session) replyCreateStream(ctx context.Context, writer *ChunkWriter, msg *Message, txn float64) error {
	var payload []byte
	payload = EncodeString(payload, "_result")
	payload = EncodeNumber(payload, txn)
	payload = EncodeNull(payload)
	payload = EncodeNumber(payload, 1) // stream id
	return writer.WriteMessage(ctx, &Message{CSID: msg.CSID, TypeID: msgTypeAMF0Command, StreamID: msg.StreamID, Payload: payload})
}

func (s *Session) handlePublish(values []Value, msg *Message) error {
	name, _ := stringAt(values, 3)
	if name == "" {
		return errs.New(errs.KindProtocol, "rtmp: publish with empty stream name")
	}
	u, err := streamurl.Parse(name)
	if err != nil {
		return errs.Wrap(errs.KindProtocol, err, "rtmp: invalid publish stream name")
	}
	tok, err := s.tokens.Acquire(u, "rtmp:"+s.cid)
	if err != nil {
		return err
	}
	src := s.sources.FetchOrCreate(u)
	if err := src.SetPublisher("rtmp:" + s.cid); err != nil {
		s.tokens.Release(tok)
		return err
	}
	src.Protocol = "rtmp"
	s.streamURL = u
	s.token = tok
	s.src = src
	s.publishing = true
	return nil
}

func (s *Session) handlePlay(values []Value, msg *Message) error {
	name, _ := stringAt(values, 3)
	if name == "" {
		return errs.New(errs.KindProtocol, "rtmp: play with empty stream name")
	}
	u, err := streamurl.Parse(name)
	if err != nil {
		return errs.Wrap(errs.KindProtocol, err, "rtmp: invalid play stream name")
	}
	src, ok := bridge.Fetch(s.sources, u, "rtmp")
	if !ok {
		return errs.New(errs.KindAdmission, "rtmp: no active publisher for stream")
	}
	s.streamURL = u
	s.src = src
	s.consumer = src.Attach()
	s.publishing = false
	return nil
}

func stringAt(values []Value, i int) (string, bool) {
	if i >= len(values) {
		return "", false
	}
	v, ok := values[i].(string)
	return v, ok
}

// ingestLoop reads audio/video messages from a publisher and forwards
// them into the session's Source until the connection errs or closes.
func (s *Session) ingestLoop(ctx context.Context, reader *ChunkReader) error {
	defer s.teardown()
	for {
		msg, err := reader.ReadMessage(ctx)
		if err != nil {
			return err
		}
		switch msg.TypeID {
		case msgTypeAudio:
			s.forward(mediapacket.TypeAudio, msg)
		case msgTypeVideo:
			s.forward(mediapacket.TypeVideo, msg)
		case msgTypeAMF0Metadata:
			s.forward(mediapacket.TypeScript, msg)
		}
	}
}

func (s *Session) forward(t mediapacket.Type, msg *Message) {
	pkt := mediapacket.New(t, msg.Timestamp, msg.Payload)
	pkt.Keyframe = t == mediapacket.TypeVideo && isKeyframe(msg.Payload)
	pkt.Sequence = isSequenceHeader(t, msg.Payload)
	s.src.Publish(pkt, codecOf(t, msg.Payload), pkt.Sequence)
	pkt.Release()
}

func isKeyframe(payload []byte) bool {
	return len(payload) > 0 && payload[0]>>4 == 1
}

func isSequenceHeader(t mediapacket.Type, payload []byte) bool {
	if t == mediapacket.TypeVideo {
		return len(payload) > 1 && payload[1] == 0
	}
	if t == mediapacket.TypeAudio {
		return len(payload) > 1 && payload[0]>>4 == 10 && payload[1] == 0
	}
	return false
}

func codecOf(t mediapacket.Type, payload []byte) string {
	if t == mediapacket.TypeVideo && len(payload) > 0 {
		switch payload[0] & 0x0f {
		case 7:
			return "avc"
		case 12:
			return "hevc"
		}
	}
	if t == mediapacket.TypeAudio && len(payload) > 0 {
		if payload[0]>>4 == 10 {
			return "aac"
		}
	}
	return "unknown"
}

// egressLoop streams the attached consumer's packets to a subscriber
// as RTMP audio/video messages.
func (s *Session) egressLoop(ctx context.Context, writer *ChunkWriter) error {
	defer s.teardown()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case pkt, ok := <-s.consumer.Recv():
			if !ok {
				return errs.New(errs.KindGraceful, "rtmp: source closed")
			}
			typeID := uint8(msgTypeVideo)
			if pkt.Type == mediapacket.TypeAudio {
				typeID = msgTypeAudio
			}
			err := writer.WriteMessage(ctx, &Message{CSID: 4, Timestamp: pkt.DTS, TypeID: typeID, StreamID: 1, Payload: pkt.Payload})
			pkt.Release()
			if err != nil {
				return err
			}
		}
	}
}

func (s *Session) teardown() {
	if s.publishing && s.src != nil {
		s.src.RemovePublisher()
	}
	if !s.publishing && s.src != nil && s.consumer != nil {
		s.src.Detach(s.consumer.ID)
	}
	if s.token != nil {
		s.tokens.Release(s.token)
	}
}
