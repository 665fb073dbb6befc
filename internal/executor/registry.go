package executor

import (
	"context"
	"log"
	"sync"

	"github.com/smart-transaction/stxn-poc-solvers/internal/observability"
)

// Registry tracks the set of live executor goroutines. It is a join-set
// for lifecycle accounting, not a supervisor: a finished executor is never
// restarted.
type Registry struct {
	wg     sync.WaitGroup
	mu     sync.Mutex
	active int
}

func NewRegistry() *Registry {
	return &Registry{}
}

// Spawn starts the executor on its own goroutine.
func (r *Registry) Spawn(ctx context.Context, e *Executor) {
	r.mu.Lock()
	r.active++
	observability.Default.SetGauge("executors_active", nil, float64(r.active))
	r.mu.Unlock()
	observability.Default.IncCounter("executors_spawned_total", map[string]string{"app": e.sol.App()}, 1)

	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		log.Printf("executor %s started app=%s seq=%s", e.id, e.sol.App(), e.sequence)
		final := e.Run(ctx)
		log.Printf("executor %s finished app=%s status=%s", e.id, e.sol.App(), final)
		observability.Default.IncCounter("executors_finished_total", map[string]string{
			"app":    e.sol.App(),
			"status": string(final),
		}, 1)
		r.mu.Lock()
		r.active--
		observability.Default.SetGauge("executors_active", nil, float64(r.active))
		r.mu.Unlock()
	}()
}

// Active reports how many executors are currently running.
func (r *Registry) Active() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.active
}

// Wait blocks until every spawned executor has finished.
func (r *Registry) Wait() {
	r.wg.Wait()
}
