package runtime

import (
	"context"
	"sync/atomic"
	"testing"
	"time"
)

// TestHourglassTickRates is spec.md §8 scenario 6: register a 20ms and
// a 100ms handler, run for 2s, and expect roughly 100 and 20 ticks
// respectively, neither drifting by more than ±2 ticks.
func TestHourglassTickRates(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping 2s timing test in short mode")
	}
	h := NewHourglass(10 * time.Millisecond)

	var fast, slow int64
	h.Register(20*time.Millisecond, func() { atomic.AddInt64(&fast, 1) })
	h.Register(100*time.Millisecond, func() { atomic.AddInt64(&slow, 1) })

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	h.Run(ctx)

	gotFast := atomic.LoadInt64(&fast)
	gotSlow := atomic.LoadInt64(&slow)

	if gotFast < 98 || gotFast > 102 {
		t.Errorf("20ms handler: got %d ticks, want ~100 (±2)", gotFast)
	}
	if gotSlow < 18 || gotSlow > 22 {
		t.Errorf("100ms handler: got %d ticks, want ~20 (±2)", gotSlow)
	}
}

func TestHourglassRegisterBelowBaseClampsToBase(t *testing.T) {
	h := NewHourglass(50 * time.Millisecond)
	var n int64
	h.Register(5*time.Millisecond, func() { atomic.AddInt64(&n, 1) })

	// a single base tick should fire the handler exactly once, since
	// its period was clamped up to the base.
	h.tick(50 * time.Millisecond)
	if atomic.LoadInt64(&n) != 1 {
		t.Fatalf("expected exactly 1 fire per base tick, got %d", n)
	}
}

func TestHourglassStopsOnCancel(t *testing.T) {
	h := NewHourglass(5 * time.Millisecond)
	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan struct{})
	go func() {
		h.Run(ctx)
		close(done)
	}()

	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Run did not return after context cancellation")
	}
}
