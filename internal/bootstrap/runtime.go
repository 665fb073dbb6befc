// Package bootstrap assembles the process from configuration: shared
// ledger and guard, stats aggregator, listener bindings, and the HTTP
// server.
package bootstrap

import (
	"fmt"

	"github.com/smart-transaction/stxn-poc-solvers/internal/api"
	"github.com/smart-transaction/stxn-poc-solvers/internal/chain"
	"github.com/smart-transaction/stxn-poc-solvers/internal/config"
	"github.com/smart-transaction/stxn-poc-solvers/internal/executor"
	"github.com/smart-transaction/stxn-poc-solvers/internal/listener"
	"github.com/smart-transaction/stxn-poc-solvers/internal/reports"
	"github.com/smart-transaction/stxn-poc-solvers/internal/solver"
	"github.com/smart-transaction/stxn-poc-solvers/internal/stats"
)

type Runtime struct {
	Ledger   *reports.Ledger
	Stats    *stats.Aggregator
	Registry *executor.Registry
	Listener *listener.Listener
	Server   *api.Server
}

func New(cfg config.Config, client chain.Client) (*Runtime, error) {
	laminator, err := chain.ParseAddress(cfg.Laminator)
	if err != nil {
		return nil, fmt.Errorf("laminator address: %w", err)
	}
	callBreaker, err := chain.ParseAddress(cfg.CallBreaker)
	if err != nil {
		return nil, fmt.Errorf("call breaker address: %w", err)
	}
	solverAddr, err := chain.ParseAddress(cfg.SolverAddr)
	if err != nil {
		return nil, fmt.Errorf("solver address: %w", err)
	}
	contracts := make(map[string]chain.Address, len(cfg.Contracts))
	for name, raw := range cfg.Contracts {
		addr, err := chain.ParseAddress(raw)
		if err != nil {
			return nil, fmt.Errorf("contract %q: %w", name, err)
		}
		contracts[name] = addr
	}

	ledger := reports.NewLedger()
	guard := solver.NewGuard()
	agg := stats.NewAggregator(cfg.StatsBuffer)
	registry := executor.NewRegistry()

	shared := &solver.Config{
		Client:           client,
		Laminator:        laminator,
		CallBreaker:      callBreaker,
		SolverAddr:       solverAddr,
		Contracts:        contracts,
		Guard:            guard,
		Ledger:           ledger,
		GasLimit:         cfg.GasLimit,
		SettlementWindow: cfg.SettlementWindow.Std(),
		MaxBatchSize:     cfg.MaxBatchSize,
	}

	bindings := make([]listener.Binding, 0, len(cfg.Apps))
	for _, app := range cfg.Apps {
		bindings = append(bindings, listener.Binding{
			App:        app.Name,
			Config:     shared,
			StickyKeys: app.StickyKeys,
		})
	}

	opts := listener.Options{
		Mode:       listener.Mode(cfg.ListenerMode),
		TargetApp:  cfg.TargetApp,
		FromLatest: cfg.FromLatest,
		FromBlock:  cfg.FromBlock,
		Tick:       cfg.Tick.Std(),
	}
	if opts.Mode == listener.ModeCallTarget {
		target, err := chain.ParseAddress(cfg.TargetContract)
		if err != nil {
			return nil, fmt.Errorf("target contract: %w", err)
		}
		opts.Target = target
	}

	return &Runtime{
		Ledger:   ledger,
		Stats:    agg,
		Registry: registry,
		Listener: listener.New(client, bindings, registry, agg, opts),
		Server: api.NewServer(ledger, agg, api.Options{
			ReportRatePerSec: cfg.ReportRatePerSec,
			ReportBurst:      cfg.ReportBurst,
		}),
	}, nil
}
