package runtime

import (
	"context"
	"net"
	"testing"
	"time"

	"redalf.de/corestream/pkg/errs"
)

func TestReadWriteRoundTrip(t *testing.T) {
	a, b := net.Pipe()
	defer a.Close()
	defer b.Close()

	ctx := context.Background()
	go func() {
		_, _ = Write(ctx, a, []byte("hello"))
	}()

	buf := make([]byte, 5)
	n, err := Read(ctx, b, buf)
	if err != nil {
		t.Fatalf("Read failed: %v", err)
	}
	if string(buf[:n]) != "hello" {
		t.Fatalf("got %q, want hello", buf[:n])
	}
}

func TestReadReturnsTimeoutOnContextCancellation(t *testing.T) {
	a, b := net.Pipe()
	defer a.Close()
	defer b.Close()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	buf := make([]byte, 16)
	_, err := Read(ctx, b, buf)
	if err == nil {
		t.Fatal("expected error on cancelled context")
	}
	if errs.KindOf(err) != errs.KindTimeout {
		t.Fatalf("expected KindTimeout, got %v", errs.KindOf(err))
	}
}

func TestBurstStopsOnFalse(t *testing.T) {
	calls := 0
	err := Burst(context.Background(), 3, func() (bool, error) {
		calls++
		return calls < 7, nil
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if calls != 7 {
		t.Fatalf("expected 7 calls, got %d", calls)
	}
}

func TestBurstStopsOnContextCancel(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	calls := 0
	err := Burst(ctx, 10, func() (bool, error) {
		calls++
		time.Sleep(5 * time.Millisecond)
		return true, nil
	})
	if err == nil {
		t.Fatal("expected context deadline error")
	}
}
