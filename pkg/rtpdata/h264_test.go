package rtpdata

import (
	"bytes"
	"testing"
)

func TestSplitJoinAnnexBRoundTrip(t *testing.T) {
	sps := []byte{0x67, 0x42, 0x00, 0x1f}
	pps := []byte{0x68, 0xce, 0x3c, 0x80}
	idr := []byte{0x65, 0x01, 0x02, 0x03, 0x04}

	stream := JoinAnnexB([][]byte{sps, pps, idr})
	nalus := SplitAnnexB(stream)
	if len(nalus) != 3 {
		t.Fatalf("expected 3 NALUs, got %d", len(nalus))
	}
	for i, want := range [][]byte{sps, pps, idr} {
		if !bytes.Equal(nalus[i], want) {
			t.Fatalf("NALU %d mismatch: got %x want %x", i, nalus[i], want)
		}
	}
}

func TestSTAPARoundTrip(t *testing.T) {
	sps := []byte{0x67, 0x42, 0x00, 0x1f, 0xaa}
	pps := []byte{0x68, 0xce, 0x3c, 0x80}

	payload, err := PacketizeSTAPA([][]byte{sps, pps})
	if err != nil {
		t.Fatalf("PacketizeSTAPA failed: %v", err)
	}
	got, err := DepacketizeSTAPA(payload)
	if err != nil {
		t.Fatalf("DepacketizeSTAPA failed: %v", err)
	}
	if len(got) != 2 || !bytes.Equal(got[0], sps) || !bytes.Equal(got[1], pps) {
		t.Fatalf("STAP-A round trip mismatch: %x", got)
	}
}

func TestFUARoundTrip(t *testing.T) {
	nalType := byte(0x05) // IDR
	nri := byte(0x60)
	payload := make([]byte, 3000)
	for i := range payload {
		payload[i] = byte(i)
	}
	nalu := append([]byte{nri | nalType}, payload...)

	frags, err := PacketizeFUA(nalu, MaxPayload)
	if err != nil {
		t.Fatalf("PacketizeFUA failed: %v", err)
	}
	if len(frags) < 2 {
		t.Fatalf("expected multiple fragments for a %d-byte NALU, got %d", len(nalu), len(frags))
	}

	var r FUAReassembler
	var reassembled []byte
	for i, f := range frags {
		out, done, err := r.Push(f)
		if err != nil {
			t.Fatalf("fragment %d: push failed: %v", i, err)
		}
		if done {
			reassembled = out
		}
	}
	if reassembled == nil {
		t.Fatal("expected reassembly to complete on the final fragment")
	}
	if !bytes.Equal(reassembled, nalu) {
		t.Fatalf("FU-A round trip mismatch: got %d bytes, want %d", len(reassembled), len(nalu))
	}
}

func TestFUAFragmentBeforeStartErrors(t *testing.T) {
	var r FUAReassembler
	// end-only fragment with no preceding start fragment
	_, _, err := r.Push([]byte{0x60, 0x45, 0x01, 0x02})
	if err == nil {
		t.Fatal("expected error for FU-A fragment received before start")
	}
}
