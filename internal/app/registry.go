package app

import "sync"

// FlowRegistry enforces at-most-one orchestration flow per access code.
// Acquire is an atomic check-and-insert; a second start for a running code
// must be treated as a logged no-op, never a queued second run. The registry
// is injected, not package-global, so independent orchestrators (and tests)
// do not leak into each other.
type FlowRegistry struct {
	mu      sync.Mutex
	running map[string]struct{}
}

func NewFlowRegistry() *FlowRegistry {
	return &FlowRegistry{running: make(map[string]struct{})}
}

// Acquire reserves the access code, reporting false if a flow already holds it.
func (r *FlowRegistry) Acquire(accessCode string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.running[accessCode]; ok {
		return false
	}
	r.running[accessCode] = struct{}{}
	return true
}

// Release frees the access code so a future re-run (differed mode) can start.
func (r *FlowRegistry) Release(accessCode string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.running, accessCode)
}

// Running reports whether a flow currently holds the access code.
func (r *FlowRegistry) Running(accessCode string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.running[accessCode]
	return ok
}
