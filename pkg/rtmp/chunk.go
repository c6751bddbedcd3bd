package rtmp

import (
	"context"
	"encoding/binary"
	"net"

	"redalf.de/corestream/pkg/errs"
	"redalf.de/corestream/pkg/runtime"
)

// DefaultChunkSize is the default outgoing chunk size (§4.4.1: "default
// 60000, peer minimum 128").
const DefaultChunkSize = 60000

// PeerMinChunkSize is the floor a peer may negotiate down to.
const PeerMinChunkSize = 128

const extendedTimestampMarker = 0xFFFFFF

// Message is one fully assembled RTMP message (a complete Type 8/9/20
// payload reassembled from one or more chunks).
type Message struct {
	CSID      uint32
	Timestamp uint32
	TypeID    uint8
	StreamID  uint32
	Payload   []byte
}

// header is the per-CSID state ChunkReader needs to interpret FMT 1/2/3
// chunks, mirroring the teacher's ChunkHeader "previous header" carry.
type header struct {
	timestamp uint32
	delta     uint32
	length    uint32
	typeID    uint8
	streamID  uint32
}

// ChunkReader assembles chunk-stream bytes from conn into complete
// Messages, maintaining one header + in-progress payload buffer per
// chunk stream id.
type ChunkReader struct {
	conn      net.Conn
	chunkSize uint32
	prev      map[uint32]*header
	partial   map[uint32][]byte
}

// NewChunkReader creates a reader with the RTMP default chunk size
// (128 bytes) until a Set Chunk Size control message changes it.
func NewChunkReader(conn net.Conn) *ChunkReader {
	return &ChunkReader{
		conn:      conn,
		chunkSize: 128,
		prev:      make(map[uint32]*header),
		partial:   make(map[uint32][]byte),
	}
}

// SetChunkSize updates the negotiated chunk size (from a peer's Set
// Chunk Size control message).
func (r *ChunkReader) SetChunkSize(n uint32) {
	if n >= PeerMinChunkSize {
		r.chunkSize = n
	}
}

// ReadMessage blocks until one complete Message has been assembled
// from the chunk stream, dispatching control messages (Set Chunk Size)
// transparently.
func (r *ChunkReader) ReadMessage(ctx context.Context) (*Message, error) {
	for {
		csid, fmtv, err := r.readBasicHeader(ctx)
		if err != nil {
			return nil, err
		}
		h, err := r.readMessageHeader(ctx, csid, fmtv)
		if err != nil {
			return nil, err
		}

		buf := r.partial[csid]
		remaining := int(h.length) - len(buf)
		take := remaining
		if take > int(r.chunkSize) {
			take = int(r.chunkSize)
		}
		chunk := make([]byte, take)
		if _, err := readFull(ctx, r.conn, chunk); err != nil {
			return nil, err
		}
		buf = append(buf, chunk...)

		if len(buf) < int(h.length) {
			r.partial[csid] = buf
			continue
		}
		delete(r.partial, csid)

		if h.typeID == 1 { // Set Chunk Size
			if len(buf) >= 4 {
				r.SetChunkSize(binary.BigEndian.Uint32(buf) &^ 0x80000000)
			}
			continue
		}

		return &Message{CSID: csid, Timestamp: h.timestamp, TypeID: h.typeID, StreamID: h.streamID, Payload: buf}, nil
	}
}

func (r *ChunkReader) readBasicHeader(ctx context.Context) (csid uint32, fmtv uint8, err error) {
	var b [1]byte
	if _, err = readFull(ctx, r.conn, b[:]); err != nil {
		return 0, 0, err
	}
	fmtv = b[0] >> 6
	raw := b[0] & 0x3F
	switch raw {
	case 0:
		var b1 [1]byte
		if _, err = readFull(ctx, r.conn, b1[:]); err != nil {
			return 0, 0, err
		}
		csid = uint32(b1[0]) + 64
	case 1:
		var b2 [2]byte
		if _, err = readFull(ctx, r.conn, b2[:]); err != nil {
			return 0, 0, err
		}
		csid = uint32(b2[0]) + 64 + uint32(b2[1])<<8
	default:
		csid = uint32(raw)
	}
	return csid, fmtv, nil
}

func (r *ChunkReader) readMessageHeader(ctx context.Context, csid uint32, fmtv uint8) (*header, error) {
	prev := r.prev[csid]
	if prev == nil {
		prev = &header{}
		r.prev[csid] = prev
	}
	h := *prev

	switch fmtv {
	case 0:
		buf := make([]byte, 11)
		if _, err := readFull(ctx, r.conn, buf); err != nil {
			return nil, err
		}
		h.timestamp = readUint24(buf[0:3])
		h.length = readUint24(buf[3:6])
		h.typeID = buf[6]
		h.streamID = binary.LittleEndian.Uint32(buf[7:11])
		h.delta = 0
		if h.timestamp == extendedTimestampMarker {
			ext, err := r.readExtendedTimestamp(ctx)
			if err != nil {
				return nil, err
			}
			h.timestamp = ext
		}
	case 1:
		buf := make([]byte, 7)
		if _, err := readFull(ctx, r.conn, buf); err != nil {
			return nil, err
		}
		delta := readUint24(buf[0:3])
		h.length = readUint24(buf[3:6])
		h.typeID = buf[6]
		if delta == extendedTimestampMarker {
			ext, err := r.readExtendedTimestamp(ctx)
			if err != nil {
				return nil, err
			}
			delta = ext
		}
		h.delta = delta
		h.timestamp = prev.timestamp + delta
	case 2:
		buf := make([]byte, 3)
		if _, err := readFull(ctx, r.conn, buf); err != nil {
			return nil, err
		}
		delta := readUint24(buf)
		if delta == extendedTimestampMarker {
			ext, err := r.readExtendedTimestamp(ctx)
			if err != nil {
				return nil, err
			}
			delta = ext
		}
		h.delta = delta
		h.timestamp = prev.timestamp + delta
	case 3:
		if prev.delta != 0 {
			h.timestamp = prev.timestamp + prev.delta
		}
		// length/typeID/streamID inherited unchanged
	}

	*r.prev[csid] = h
	return &h, nil
}

func (r *ChunkReader) readExtendedTimestamp(ctx context.Context) (uint32, error) {
	var buf [4]byte
	if _, err := readFull(ctx, r.conn, buf[:]); err != nil {
		return 0, err
	}
	return binary.BigEndian.Uint32(buf[:]), nil
}

func readUint24(b []byte) uint32 {
	return uint32(b[0])<<16 | uint32(b[1])<<8 | uint32(b[2])
}

// ChunkWriter fragments outgoing Messages into chunks of at most
// chunkSize bytes, always as FMT 0 (simplicity over bandwidth; the
// teacher's repos show FMT compression is an optimization, not a
// correctness requirement — every RTMP client tolerates a FMT0-only
// stream).
type ChunkWriter struct {
	conn      net.Conn
	chunkSize uint32
}

// NewChunkWriter creates a writer at the RTMP protocol default chunk
// size (128 bytes). Call SetChunkSize to negotiate a larger size — that
// sends a Set Chunk Size control message the peer's ChunkReader picks
// up automatically, keeping both sides' framing in sync (real wire
// chunk boundaries are a function of whichever chunk size the sender
// last announced, not a value each side can choose independently).
func NewChunkWriter(conn net.Conn) *ChunkWriter {
	return &ChunkWriter{conn: conn, chunkSize: PeerMinChunkSize}
}

// SetChunkSize changes the outgoing fragmentation size and sends a Set
// Chunk Size control message to the peer.
func (w *ChunkWriter) SetChunkSize(ctx context.Context, n uint32) error {
	if n < PeerMinChunkSize {
		return errs.New(errs.KindProtocol, "rtmp: chunk size below peer minimum")
	}
	w.chunkSize = n
	payload := make([]byte, 4)
	binary.BigEndian.PutUint32(payload, n)
	return w.WriteMessage(ctx, &Message{CSID: 2, TypeID: 1, Payload: payload})
}

// WriteMessage fragments and writes msg as a sequence of FMT0 + FMT3
// chunks.
func (w *ChunkWriter) WriteMessage(ctx context.Context, msg *Message) error {
	first := true
	offset := 0
	for offset < len(msg.Payload) || (offset == 0 && len(msg.Payload) == 0) {
		var basic []byte
		if first {
			basic = encodeBasicHeader(0, msg.CSID)
		} else {
			basic = encodeBasicHeader(3, msg.CSID)
		}

		var out []byte
		out = append(out, basic...)
		if first {
			mh := make([]byte, 11)
			putUint24(mh[0:3], msg.Timestamp)
			putUint24(mh[3:6], uint32(len(msg.Payload)))
			mh[6] = msg.TypeID
			binary.LittleEndian.PutUint32(mh[7:11], msg.StreamID)
			out = append(out, mh...)
		}

		take := len(msg.Payload) - offset
		if take > int(w.chunkSize) {
			take = int(w.chunkSize)
		}
		out = append(out, msg.Payload[offset:offset+take]...)

		if _, err := runtime.Write(ctx, w.conn, out); err != nil {
			return err
		}
		offset += take
		first = false
		if len(msg.Payload) == 0 {
			break
		}
	}
	return nil
}

func encodeBasicHeader(fmtv uint8, csid uint32) []byte {
	switch {
	case csid < 64:
		return []byte{fmtv<<6 | byte(csid)}
	case csid < 320:
		return []byte{fmtv << 6, byte(csid - 64)}
	default:
		v := csid - 64
		return []byte{fmtv<<6 | 1, byte(v), byte(v >> 8)}
	}
}

func putUint24(b []byte, v uint32) {
	b[0] = byte(v >> 16)
	b[1] = byte(v >> 8)
	b[2] = byte(v)
}
