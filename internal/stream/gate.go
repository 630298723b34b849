package stream

import "sync"

// gate runs fn once every named leg has arrived. A leg arriving twice or
// an unknown leg is ignored; a gate with no legs fires on creation.
type gate struct {
	mu      sync.Mutex
	pending map[string]struct{}
	fired   bool
	fn      func()
}

func newGate(fn func(), legs ...string) *gate {
	g := &gate{pending: make(map[string]struct{}, len(legs)), fn: fn}
	for _, leg := range legs {
		g.pending[leg] = struct{}{}
	}
	if len(g.pending) == 0 {
		g.fired = true
		fn()
	}
	return g
}

// arrive marks leg complete and fires fn on the caller's goroutine when it
// was the last one outstanding.
func (g *gate) arrive(leg string) {
	g.mu.Lock()
	if _, ok := g.pending[leg]; !ok || g.fired {
		g.mu.Unlock()
		return
	}
	delete(g.pending, leg)
	fire := len(g.pending) == 0
	if fire {
		g.fired = true
	}
	g.mu.Unlock()
	if fire {
		g.fn()
	}
}
