package listener

import (
	"io"
	"net"
	"testing"
	"time"
)

func TestTCPMuxDetectsTLSClientHello(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen failed: %v", err)
	}
	defer ln.Close()

	mux := NewTCPMux(ln, time.Second)

	go func() {
		c, err := net.Dial("tcp", ln.Addr().String())
		if err != nil {
			return
		}
		defer c.Close()
		c.Write([]byte{0x16, 0x03, 0x01, 0x00, 0x05})
	}()

	conn, isTLS, err := mux.Accept()
	if err != nil {
		t.Fatalf("Accept failed: %v", err)
	}
	defer conn.Close()
	if !isTLS {
		t.Fatal("expected TLS ClientHello to be detected")
	}
}

func TestTCPMuxPassesThroughPlainRTMP(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen failed: %v", err)
	}
	defer ln.Close()

	mux := NewTCPMux(ln, time.Second)

	go func() {
		c, err := net.Dial("tcp", ln.Addr().String())
		if err != nil {
			return
		}
		defer c.Close()
		c.Write([]byte{0x03, 0x00, 0x00, 0x00, 0x00})
	}()

	conn, isTLS, err := mux.Accept()
	if err != nil {
		t.Fatalf("Accept failed: %v", err)
	}
	defer conn.Close()
	if isTLS {
		t.Fatal("expected a plain RTMP handshake byte not to be classified as TLS")
	}

	buf := make([]byte, 5)
	n, err := io.ReadFull(conn, buf)
	if err != nil {
		t.Fatalf("read failed: %v", err)
	}
	if n != 5 || buf[0] != 0x03 {
		t.Fatalf("expected the peeked byte replayed first, got %v", buf[:n])
	}
}

func TestClassifyDatagram(t *testing.T) {
	cases := []struct {
		name string
		b    []byte
		want DatagramClass
	}{
		{"stun", []byte{0x00, 0x01}, ClassSTUN},
		{"dtls", []byte{20, 0xfe}, ClassDTLS},
		{"dtls-high", []byte{63}, ClassDTLS},
		{"rtp", []byte{128}, ClassRTP},
		{"rtp-high", []byte{191}, ClassRTP},
		{"unknown", []byte{200}, ClassUnknown},
		{"empty", []byte{}, ClassUnknown},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			if got := ClassifyDatagram(c.b); got != c.want {
				t.Fatalf("ClassifyDatagram(%v) = %v, want %v", c.b, got, c.want)
			}
		})
	}
}

func TestUDPDemuxDispatchesByClass(t *testing.T) {
	serverConn, err := net.ListenPacket("udp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen failed: %v", err)
	}
	d := NewUDPDemux(serverConn)
	defer d.Close()

	got := make(chan DatagramClass, 1)
	d.Handle(ClassRTP, func(addr net.Addr, payload []byte) { got <- ClassRTP })
	d.Handle(ClassSTUN, func(addr net.Addr, payload []byte) { got <- ClassSTUN })

	go d.Serve()

	clientConn, err := net.Dial("udp", serverConn.LocalAddr().String())
	if err != nil {
		t.Fatalf("dial failed: %v", err)
	}
	defer clientConn.Close()
	clientConn.Write([]byte{128, 0, 0, 0})

	select {
	case class := <-got:
		if class != ClassRTP {
			t.Fatalf("expected ClassRTP dispatch, got %v", class)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for dispatch")
	}
}
