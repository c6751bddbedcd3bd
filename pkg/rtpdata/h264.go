package rtpdata

import (
	"bytes"
	"encoding/binary"
	"errors"
)

// MaxPayload is the default FU-A fragmentation threshold named in
// §4.3 ("FU-A for fragments larger than MAX_PAYLOAD (1200 bytes by
// default)").
const MaxPayload = 1200

var annexBStartCode3 = []byte{0, 0, 1}
var annexBStartCode4 = []byte{0, 0, 0, 1}

// SplitAnnexB splits an AnnexB byte stream into its constituent NALUs,
// stripping start codes.
func SplitAnnexB(b []byte) [][]byte {
	var nalus [][]byte
	start := -1
	i := 0
	for i < len(b) {
		if match4(b, i) {
			if start >= 0 {
				nalus = append(nalus, trimTrailingZero(b[start:i]))
			}
			i += 4
			start = i
			continue
		}
		if match3(b, i) {
			if start >= 0 {
				nalus = append(nalus, trimTrailingZero(b[start:i]))
			}
			i += 3
			start = i
			continue
		}
		i++
	}
	if start >= 0 && start < len(b) {
		nalus = append(nalus, trimTrailingZero(b[start:]))
	}
	return nalus
}

func match3(b []byte, i int) bool {
	return i+3 <= len(b) && bytes.Equal(b[i:i+3], annexBStartCode3)
}

func match4(b []byte, i int) bool {
	return i+4 <= len(b) && bytes.Equal(b[i:i+4], annexBStartCode4)
}

func trimTrailingZero(b []byte) []byte {
	for len(b) > 0 && b[len(b)-1] == 0 {
		b = b[:len(b)-1]
	}
	return b
}

// JoinAnnexB reassembles NALUs into an AnnexB byte stream using
// 4-byte start codes.
func JoinAnnexB(nalus [][]byte) []byte {
	var out bytes.Buffer
	for _, n := range nalus {
		out.Write(annexBStartCode4)
		out.Write(n)
	}
	return out.Bytes()
}

// PacketizeSTAPA combines SPS/PPS (or any set of small NALUs whose
// total size stays under MaxPayload) into one STAP-A payload, per
// §4.3 ("H.264 AnnexB NALUs -> STAP-A for SPS/PPS").
func PacketizeSTAPA(nalus [][]byte) ([]byte, error) {
	if len(nalus) == 0 {
		return nil, errors.New("rtpdata: no NALUs to packetize")
	}
	var out bytes.Buffer
	out.WriteByte(24) // STAP-A NAL unit type
	for _, n := range nalus {
		if len(n) == 0 {
			continue
		}
		var size [2]byte
		binary.BigEndian.PutUint16(size[:], uint16(len(n)))
		out.Write(size[:])
		out.Write(n)
	}
	return out.Bytes(), nil
}

// DepacketizeSTAPA reverses PacketizeSTAPA.
func DepacketizeSTAPA(payload []byte) ([][]byte, error) {
	if len(payload) < 1 {
		return nil, errors.New("rtpdata: empty STAP-A payload")
	}
	var nalus [][]byte
	b := payload[1:]
	for len(b) > 2 {
		size := binary.BigEndian.Uint16(b[:2])
		b = b[2:]
		if int(size) > len(b) {
			return nil, errors.New("rtpdata: STAP-A size exceeds remaining payload")
		}
		nalus = append(nalus, b[:size])
		b = b[size:]
	}
	return nalus, nil
}

// PacketizeFUA splits a single NALU larger than maxPayload into a
// sequence of FU-A fragment payloads.
func PacketizeFUA(nalu []byte, maxPayload int) ([][]byte, error) {
	if len(nalu) < 1 {
		return nil, errors.New("rtpdata: empty NALU")
	}
	if maxPayload <= 2 {
		maxPayload = MaxPayload
	}
	header := nalu[0]
	nalType := header & 0x1f
	nri := header & 0x60
	payload := nalu[1:]

	fuIndicator := nri | 28 // FU-A type
	chunkSize := maxPayload - 2
	var out [][]byte
	for i := 0; i < len(payload); i += chunkSize {
		end := i + chunkSize
		if end > len(payload) {
			end = len(payload)
		}
		fuHeader := nalType
		if i == 0 {
			fuHeader |= 0x80 // start bit
		}
		if end == len(payload) {
			fuHeader |= 0x40 // end bit
		}
		frag := make([]byte, 0, 2+(end-i))
		frag = append(frag, fuIndicator, fuHeader)
		frag = append(frag, payload[i:end]...)
		out = append(out, frag)
	}
	return out, nil
}

// FUAReassembler reassembles a sequence of FU-A fragments back into a
// single AnnexB NALU, lossless for conformant (non-interleaved) FU-A
// streams per §8's round-trip law.
type FUAReassembler struct {
	buf     bytes.Buffer
	started bool
}

// Push feeds one FU-A fragment payload. It returns the reassembled
// NALU (without start code) and true once the end fragment arrives.
func (r *FUAReassembler) Push(payload []byte) ([]byte, bool, error) {
	if len(payload) < 2 {
		return nil, false, errors.New("rtpdata: FU-A payload too short")
	}
	fuIndicator := payload[0]
	fuHeader := payload[1]
	start := fuHeader&0x80 != 0
	end := fuHeader&0x40 != 0
	nalType := fuHeader & 0x1f
	nri := fuIndicator & 0x60

	if start {
		r.buf.Reset()
		r.buf.WriteByte(nri | nalType)
		r.started = true
	}
	if !r.started {
		return nil, false, errors.New("rtpdata: FU-A fragment received before start")
	}
	r.buf.Write(payload[2:])
	if end {
		r.started = false
		out := make([]byte, r.buf.Len())
		copy(out, r.buf.Bytes())
		return out, true, nil
	}
	return nil, false, nil
}
