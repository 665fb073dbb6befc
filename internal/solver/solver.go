// Package solver defines the condition/commit protocol shared by all
// transaction policies, the shared commit guard, and the two concrete
// policies: cron-scheduled batch disbursement and price-triggered limit
// orders.
package solver

import (
	"context"
	"fmt"
	"time"

	"github.com/smart-transaction/stxn-poc-solvers/internal/chain"
	"github.com/smart-transaction/stxn-poc-solvers/internal/reports"
)

// Application names, hashed into routing selectors.
const (
	AppScheduler  = "CLEANAPP.SCHEDULER"
	AppLimitOrder = "FLASHLIQUIDITY.LIMITORDER"
)

// StepOutcome is one condition evaluation: whether the commit condition now
// holds, a diagnostic message, and time left before the deadline.
type StepOutcome struct {
	Triggered bool
	Message   string
	Remaining time.Duration
}

// CommitOutcome is the result of a commit attempt that produced a receipt.
// Confirmed is false when the transaction mined but logically failed.
type CommitOutcome struct {
	Confirmed bool
	TxHash    chain.Hash
	Message   string
}

// Solver is one business policy bound to one triggering event.
//
// Deadline is fixed at construction; PollStep evaluates the condition
// without side effects beyond shared-state reads; Commit performs the one
// on-chain state change and is the only path that consumes the reports
// ledger. RetryCommit decides whether a failed commit degrades back to
// polling (until the deadline) or terminates the executor.
type Solver interface {
	App() string
	Deadline() (time.Time, error)
	PollStep(ctx context.Context) (StepOutcome, error)
	Commit(ctx context.Context) (CommitOutcome, error)
	RetryCommit() bool
}

// Config carries the per-application static state cloned by reference into
// every spawned solver: the chain client, contract addressing, the shared
// commit guard, and the shared reports ledger.
type Config struct {
	Client      chain.Client
	Laminator   chain.Address
	CallBreaker chain.Address
	SolverAddr  chain.Address
	Contracts   map[string]chain.Address
	Guard       *Guard
	Ledger      *reports.Ledger
	GasLimit    uint64

	// SettlementWindow bounds how long a scheduled batch may wait past its
	// trigger time before the executor times out.
	SettlementWindow time.Duration
	MaxBatchSize     int
}

func (c *Config) contract(name string) (chain.Address, error) {
	addr, ok := c.Contracts[name]
	if !ok || addr.IsZero() {
		return chain.Address{}, fmt.Errorf("contract %q is not configured", name)
	}
	return addr, nil
}

// New constructs the policy registered for app from an accepted event.
// The policy set is closed; an unknown name is a configuration error.
func New(app string, cfg *Config, ev chain.Event) (Solver, error) {
	switch app {
	case AppScheduler:
		return NewBatchSolver(cfg, ev)
	case AppLimitOrder:
		return NewLimitOrderSolver(cfg, ev)
	default:
		return nil, fmt.Errorf("unknown application %q", app)
	}
}
