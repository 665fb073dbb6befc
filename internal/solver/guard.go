package solver

import "sync"

// Guard serializes transaction submission across every executor sharing it.
// Commits acquire it for exactly the submission critical section; it is
// never held while polling.
type Guard struct {
	mu sync.Mutex
}

func NewGuard() *Guard {
	return &Guard{}
}

// Do runs fn while holding the guard.
func (g *Guard) Do(fn func() error) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	return fn()
}
