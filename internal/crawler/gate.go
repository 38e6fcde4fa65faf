package crawler

import (
	"context"
	"sync"
)

// Gate counts in-flight work: page fetches and suspended discoveries.
// Acquire blocks while the count is at the limit; Hold takes a slot
// without blocking and may push the count past it.
type Gate struct {
	mu    sync.Mutex
	open  int
	limit int
	wake  chan struct{}
}

// NewGate creates a gate admitting limit concurrent Acquire holders
func NewGate(limit int) *Gate {
	if limit < 1 {
		limit = 1
	}
	return &Gate{limit: limit, wake: make(chan struct{})}
}

// Acquire takes a slot, waiting for one to free up
func (g *Gate) Acquire(ctx context.Context) error {
	for {
		g.mu.Lock()
		if g.open < g.limit {
			g.open++
			g.mu.Unlock()
			return nil
		}
		wake := g.wake
		g.mu.Unlock()

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-wake:
		}
	}
}

// Hold takes a slot without waiting
func (g *Gate) Hold() {
	g.mu.Lock()
	g.open++
	g.mu.Unlock()
}

// Release frees a slot and wakes waiters
func (g *Gate) Release() {
	g.mu.Lock()
	if g.open > 0 {
		g.open--
	}
	close(g.wake)
	g.wake = make(chan struct{})
	g.mu.Unlock()
}

// Open returns the number of slots in use
func (g *Gate) Open() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.open
}

// Idle reports whether no work is in flight
func (g *Gate) Idle() bool {
	return g.Open() == 0
}
