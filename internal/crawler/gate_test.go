package crawler

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestGateAcquireBlocksAtLimit(t *testing.T) {
	g := NewGate(2)
	ctx := context.Background()

	if err := g.Acquire(ctx); err != nil {
		t.Fatalf("Acquire failed: %v", err)
	}
	if err := g.Acquire(ctx); err != nil {
		t.Fatalf("Acquire failed: %v", err)
	}

	acquired := make(chan struct{})
	go func() {
		_ = g.Acquire(ctx)
		close(acquired)
	}()

	select {
	case <-acquired:
		t.Fatal("Acquire should block while the gate is full")
	case <-time.After(50 * time.Millisecond):
	}

	g.Release()

	select {
	case <-acquired:
	case <-time.After(time.Second):
		t.Fatal("Acquire should proceed after Release")
	}

	if g.Open() != 2 {
		t.Errorf("Expected 2 open slots, got %d", g.Open())
	}
}

func TestGateAcquireCancelled(t *testing.T) {
	g := NewGate(1)
	g.Hold()

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	if err := g.Acquire(ctx); !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("Expected deadline exceeded, got %v", err)
	}
	if g.Open() != 1 {
		t.Errorf("Cancelled Acquire must not take a slot, open=%d", g.Open())
	}
}

func TestGateHoldOverCommits(t *testing.T) {
	g := NewGate(1)
	if err := g.Acquire(context.Background()); err != nil {
		t.Fatalf("Acquire failed: %v", err)
	}

	g.Hold()
	g.Hold()
	if g.Open() != 3 {
		t.Errorf("Expected Hold to exceed the limit, open=%d", g.Open())
	}

	g.Release()
	g.Release()
	g.Release()
	if !g.Idle() {
		t.Errorf("Expected idle gate, open=%d", g.Open())
	}

	// Extra releases never go negative
	g.Release()
	if g.Open() != 0 {
		t.Errorf("Expected 0 open slots, got %d", g.Open())
	}
}

func TestNewGateMinimumLimit(t *testing.T) {
	g := NewGate(0)
	if err := g.Acquire(context.Background()); err != nil {
		t.Fatalf("Expected a zero limit to admit one holder: %v", err)
	}
}
