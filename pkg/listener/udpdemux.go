package listener

import "net"

// DatagramClass classifies one inbound UDP datagram by its first-byte
// range per §4.3 bullet 1: STUN, DTLS and RTP/RTCP share a single
// WebRTC port and are told apart without a wire-format parse.
type DatagramClass int

const (
	ClassUnknown DatagramClass = iota
	ClassSTUN
	ClassDTLS
	ClassRTP
)

// ClassifyDatagram inspects the first byte of an inbound UDP payload:
// 0-3 is STUN (the two top bits of a STUN header's type field are
// always zero), 20-63 is a DTLS content-type byte, 128-191 is the RTP/
// RTCP version-2 marker bits set.
func ClassifyDatagram(b []byte) DatagramClass {
	if len(b) == 0 {
		return ClassUnknown
	}
	switch v := b[0]; {
	case v <= 3:
		return ClassSTUN
	case v >= 20 && v <= 63:
		return ClassDTLS
	case v >= 128 && v <= 191:
		return ClassRTP
	default:
		return ClassUnknown
	}
}

// Handler receives one classified datagram from its source address.
type Handler func(addr net.Addr, payload []byte)

// UDPDemux reads datagrams off a single net.PacketConn (the port every
// WebRTC peer connection's ICE candidate advertises) and dispatches
// each to the handler registered for its class, so STUN binding
// requests, DTLS handshake records and SRTP media all share one socket
// the way a browser's ICE-lite expectations require.
type UDPDemux struct {
	conn     net.PacketConn
	handlers map[DatagramClass]Handler
}

// NewUDPDemux wraps conn with no handlers registered; unregistered
// classes are dropped silently (the STUN/DTLS/RTP split is exhaustive
// per RFC 7983, so ClassUnknown only occurs for garbage on the wire).
func NewUDPDemux(conn net.PacketConn) *UDPDemux {
	return &UDPDemux{conn: conn, handlers: make(map[DatagramClass]Handler)}
}

// Handle registers fn for datagrams classified as class.
func (d *UDPDemux) Handle(class DatagramClass, fn Handler) {
	d.handlers[class] = fn
}

// Serve reads datagrams until conn is closed or read fails, dispatching
// each synchronously to its class's handler; handlers that need to do
// more than a quick demux should hand off to their own goroutine.
func (d *UDPDemux) Serve() error {
	buf := make([]byte, 2048)
	for {
		n, addr, err := d.conn.ReadFrom(buf)
		if err != nil {
			return err
		}
		class := ClassifyDatagram(buf[:n])
		if h, ok := d.handlers[class]; ok {
			payload := append([]byte(nil), buf[:n]...)
			h(addr, payload)
		}
	}
}

func (d *UDPDemux) Close() error { return d.conn.Close() }
