package transport

import (
	"context"
	"sync"
)

type gateState int

const (
	gatePending gateState = iota
	gateReady
	gateFailed
)

// readyGate settles exactly once, either ready or failed.
type readyGate struct {
	once  sync.Once
	done  chan struct{}
	mu    sync.Mutex
	state gateState
	err   error
}

func newReadyGate() *readyGate {
	return &readyGate{done: make(chan struct{})}
}

func (g *readyGate) resolve() {
	g.settle(gateReady, nil)
}

// fail is a no-op once the gate has settled.
func (g *readyGate) fail(err error) {
	g.settle(gateFailed, err)
}

func (g *readyGate) settle(state gateState, err error) {
	g.once.Do(func() {
		g.mu.Lock()
		g.state = state
		g.err = err
		g.mu.Unlock()
		close(g.done)
	})
}

func (g *readyGate) current() gateState {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.state
}

func (g *readyGate) wait(ctx context.Context) error {
	select {
	case <-g.done:
		g.mu.Lock()
		defer g.mu.Unlock()
		return g.err
	case <-ctx.Done():
		return ctx.Err()
	}
}
