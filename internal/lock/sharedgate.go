package lock

import (
	"context"
	"sync"
)

// SharedGate tracks a count of active holders and lets other code wait until
// the count returns to zero. It is the drain primitive behind graceful
// shutdown of lock-guarded work.
type SharedGate struct {
	mu      sync.Mutex
	holders int
	done    chan struct{} // closed while holders == 0
}

func NewSharedGate() *SharedGate {
	done := make(chan struct{})
	close(done)
	return &SharedGate{done: done}
}

// Enter registers a holder. Wait() will block until every holder leaves.
func (g *SharedGate) Enter() {
	g.mu.Lock()
	g.holders++
	if g.holders == 1 {
		g.done = make(chan struct{})
	}
	g.mu.Unlock()
}

// Leave unregisters a holder; the last one out releases all waiters.
func (g *SharedGate) Leave() {
	g.mu.Lock()
	if g.holders > 0 {
		g.holders--
		if g.holders == 0 {
			close(g.done)
		}
	}
	g.mu.Unlock()
}

// Wait blocks until all active holders leave, or ctx is done.
func (g *SharedGate) Wait(ctx context.Context) error {
	g.mu.Lock()
	done := g.done
	g.mu.Unlock()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
