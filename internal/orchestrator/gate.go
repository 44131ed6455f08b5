package orchestrator

import (
	"context"
	"sync"
)

// gate implements cooperative pause/resume: workers block in wait() while
// paused, and proceed once resume() is called. Starts open (running).
type gate struct {
	mu     sync.Mutex
	ch     chan struct{}
	paused bool
}

func newGate() *gate {
	ch := make(chan struct{})
	close(ch) // closed channel = not blocking = running
	return &gate{ch: ch}
}

// wait blocks the caller while the gate is paused, returning early if
// ctx is canceled so a paused session can still be torn down.
func (g *gate) wait(ctx context.Context) error {
	g.mu.Lock()
	ch := g.ch
	g.mu.Unlock()
	select {
	case <-ch:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (g *gate) pause() {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.paused {
		return
	}
	g.paused = true
	g.ch = make(chan struct{})
}

func (g *gate) resume() {
	g.mu.Lock()
	defer g.mu.Unlock()
	if !g.paused {
		return
	}
	g.paused = false
	close(g.ch)
}
