// Package executor drives one solver through its condition/commit protocol
// on a fixed tick, bounded by the solver's deadline.
package executor

import (
	"context"
	"log"
	"math/big"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"

	"github.com/smart-transaction/stxn-poc-solvers/internal/observability"
	"github.com/smart-transaction/stxn-poc-solvers/internal/solver"
	"github.com/smart-transaction/stxn-poc-solvers/internal/stats"
)

// Options configures one timer executor.
type Options struct {
	Tick  time.Duration
	Stats *stats.Aggregator
}

const defaultTick = 2 * time.Second

// Executor owns one solver instance from spawn to a terminal state. Every
// state transition is published to the stats aggregator; publication is
// best-effort and never blocks the protocol loop.
type Executor struct {
	id        uuid.UUID
	sol       solver.Solver
	sequence  string
	params    map[string]string
	createdAt time.Time
	tick      time.Duration
	stats     *stats.Aggregator
}

func New(sol solver.Solver, sequence *big.Int, params map[string]string, opts Options) *Executor {
	tick := opts.Tick
	if tick <= 0 {
		tick = defaultTick
	}
	seq := ""
	if sequence != nil {
		seq = sequence.String()
	}
	return &Executor{
		id:        uuid.New(),
		sol:       sol,
		sequence:  seq,
		params:    params,
		createdAt: time.Now().UTC(),
		tick:      tick,
		stats:     opts.Stats,
	}
}

func (e *Executor) ID() uuid.UUID {
	return e.id
}

// Run drives the solver until a terminal state and returns it. A canceled
// context abandons the executor without a terminal record; there is no
// graceful drain.
func (e *Executor) Run(ctx context.Context) stats.Status {
	deadline, err := e.sol.Deadline()
	if err != nil {
		e.publish(stats.StatusFailed, stats.TxNotExecuted, "invalid deadline: "+err.Error(), 0)
		return stats.StatusFailed
	}

	for {
		remaining := time.Until(deadline)
		if remaining <= 0 {
			e.publish(stats.StatusTimeout, stats.TxNotExecuted, "deadline elapsed before commit", 0)
			return stats.StatusTimeout
		}

		out, err := e.sol.PollStep(ctx)
		if err != nil {
			// Step errors are transient; keep polling until the deadline.
			e.publish(stats.StatusRunning, stats.TxStepFailed, err.Error(), remaining)
			if !e.sleep(ctx) {
				return stats.StatusRunning
			}
			continue
		}
		if !out.Triggered {
			e.publish(stats.StatusRunning, stats.TxStepPending, out.Message, out.Remaining)
			if !e.sleep(ctx) {
				return stats.StatusRunning
			}
			continue
		}

		e.publish(stats.StatusRunning, stats.TxPending, out.Message, remaining)
		commitCtx, span := observability.StartSpan(ctx, "solver.commit",
			attribute.String("app", e.sol.App()),
			attribute.String("executor_id", e.id.String()),
		)
		res, err := e.sol.Commit(commitCtx)
		span.End()
		observability.Default.IncCounter("commits_attempted_total", map[string]string{"app": e.sol.App()}, 1)
		switch {
		case err == nil && res.Confirmed:
			e.publish(stats.StatusSucceeded, stats.TxSucceeded, res.Message, 0)
			return stats.StatusSucceeded
		case e.sol.RetryCommit():
			msg := res.Message
			if err != nil {
				msg = err.Error()
			}
			e.publish(stats.StatusRunning, stats.TxFailed, msg, remaining)
			if !e.sleep(ctx) {
				return stats.StatusRunning
			}
		default:
			msg := res.Message
			if err != nil {
				msg = err.Error()
			}
			e.publish(stats.StatusFailed, stats.TxFailed, msg, 0)
			return stats.StatusFailed
		}
	}
}

func (e *Executor) sleep(ctx context.Context) bool {
	select {
	case <-ctx.Done():
		return false
	case <-time.After(e.tick):
		return true
	}
}

func (e *Executor) publish(status stats.Status, tx stats.TxStatus, message string, remaining time.Duration) {
	if e.stats == nil {
		return
	}
	now := time.Now().UTC()
	rec := stats.Record{
		ExecutorID: e.id,
		Sequence:   e.sequence,
		App:        e.sol.App(),
		Status:     status,
		TxStatus:   tx,
		Message:    message,
		Params:     e.params,
		CreatedAt:  e.createdAt,
		UpdatedAt:  now,
		ElapsedSec: now.Sub(e.createdAt).Seconds(),
		RemainSec:  remaining.Seconds(),
	}
	if rec.RemainSec < 0 {
		rec.RemainSec = 0
	}
	if !e.stats.Publish(rec) {
		log.Printf("executor %s dropped status record app=%s status=%s", e.id, rec.App, status)
	}
}
