package rtmp

import (
	"bytes"
	"context"
	"net"
	"testing"
	"time"
)

func TestChunkWriterReaderRoundTrip(t *testing.T) {
	a, b := net.Pipe()
	defer a.Close()
	defer b.Close()

	writer := NewChunkWriter(a)
	reader := NewChunkReader(b)

	payload := bytes.Repeat([]byte{0x42}, 300) // forces fragmentation at small chunk sizes
	msg := &Message{CSID: 4, Timestamp: 1000, TypeID: msgTypeVideo, StreamID: 1, Payload: payload}

	errc := make(chan error, 1)
	go func() { errc <- writer.WriteMessage(context.Background(), msg) }()

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	got, err := reader.ReadMessage(ctx)
	if err != nil {
		t.Fatalf("ReadMessage failed: %v", err)
	}
	if writeErr := <-errc; writeErr != nil {
		t.Fatalf("WriteMessage failed: %v", writeErr)
	}

	if got.TypeID != msgTypeVideo || got.Timestamp != 1000 || got.StreamID != 1 {
		t.Fatalf("unexpected message header: %+v", got)
	}
	if !bytes.Equal(got.Payload, payload) {
		t.Fatalf("payload mismatch: got %d bytes, want %d", len(got.Payload), len(payload))
	}
}

func TestChunkWriterFragmentsAtConfiguredSize(t *testing.T) {
	a, b := net.Pipe()
	defer a.Close()
	defer b.Close()

	writer := NewChunkWriter(a)
	writer.chunkSize = 128
	reader := NewChunkReader(b)
	reader.SetChunkSize(128)

	payload := bytes.Repeat([]byte{0x01, 0x02}, 200) // 400 bytes > 128
	msg := &Message{CSID: 6, Timestamp: 5, TypeID: msgTypeAudio, StreamID: 1, Payload: payload}

	errc := make(chan error, 1)
	go func() { errc <- writer.WriteMessage(context.Background(), msg) }()

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	got, err := reader.ReadMessage(ctx)
	if err != nil {
		t.Fatalf("ReadMessage failed: %v", err)
	}
	if err := <-errc; err != nil {
		t.Fatalf("WriteMessage failed: %v", err)
	}
	if !bytes.Equal(got.Payload, payload) {
		t.Fatal("payload mismatch after multi-chunk reassembly")
	}
}

func TestEncodeBasicHeaderRanges(t *testing.T) {
	cases := []struct {
		csid uint32
		want int
	}{
		{2, 1},
		{63, 1},
		{64, 2},
		{319, 2},
		{320, 3},
		{65599, 3},
	}
	for _, c := range cases {
		got := encodeBasicHeader(0, c.csid)
		if len(got) != c.want {
			t.Errorf("encodeBasicHeader(0, %d) len = %d, want %d", c.csid, len(got), c.want)
		}
	}
}
