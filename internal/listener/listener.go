// Package listener turns scheduled-call events from the ledger into running
// timer executors.
package listener

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"go.opentelemetry.io/otel/attribute"

	"github.com/smart-transaction/stxn-poc-solvers/internal/chain"
	"github.com/smart-transaction/stxn-poc-solvers/internal/codec"
	"github.com/smart-transaction/stxn-poc-solvers/internal/executor"
	"github.com/smart-transaction/stxn-poc-solvers/internal/observability"
	"github.com/smart-transaction/stxn-poc-solvers/internal/solver"
	"github.com/smart-transaction/stxn-poc-solvers/internal/stats"
)

// Mode selects the admission filter.
type Mode string

const (
	// ModeSelector admits events whose selector is bound in the table.
	ModeSelector Mode = "selector"
	// ModeCallTarget admits events whose first scheduled call references a
	// known downstream contract, regardless of selector.
	ModeCallTarget Mode = "call-target"
)

// Binding attaches one application's solver configuration to the listener.
// StickyKeys are parameter names whose last non-empty value is cached and
// substituted into follow-up events with empty payloads.
type Binding struct {
	App        string
	Config     *solver.Config
	StickyKeys []string
}

// Options configures subscription start and admission behavior.
type Options struct {
	Mode       Mode
	Target     chain.Address
	TargetApp  string
	FromLatest bool
	FromBlock  uint64
	Tick       time.Duration
}

// Listener owns one subscription for the life of the process. It never
// unsubscribes; a stream error is fatal and surfaces from Run.
type Listener struct {
	client   chain.Client
	bindings map[chain.Selector]Binding
	registry *executor.Registry
	stats    *stats.Aggregator
	opts     Options
	sticky   map[chain.Selector]map[string][]byte
}

func New(client chain.Client, bindings []Binding, registry *executor.Registry, agg *stats.Aggregator, opts Options) *Listener {
	if opts.Mode == "" {
		opts.Mode = ModeSelector
	}
	table := make(map[chain.Selector]Binding, len(bindings))
	for _, b := range bindings {
		table[codec.AppSelector(b.App)] = b
	}
	return &Listener{
		client:   client,
		bindings: table,
		registry: registry,
		stats:    agg,
		opts:     opts,
		sticky:   make(map[chain.Selector]map[string][]byte),
	}
}

// Run subscribes and processes event batches until the stream fails or ctx
// is canceled. Any stream error other than cancellation is returned and
// must end the process: event delivery has no fallback.
func (l *Listener) Run(ctx context.Context) error {
	fromBlock := l.opts.FromBlock
	if l.opts.FromLatest {
		head, err := l.client.BlockNumber(ctx)
		if err != nil {
			return fmt.Errorf("read head block: %w", err)
		}
		fromBlock = head
	}
	stream, err := l.client.SubscribeCalls(ctx, fromBlock)
	if err != nil {
		return fmt.Errorf("subscribe from block %d: %w", fromBlock, err)
	}
	log.Printf("solver listener subscribed from block %d mode=%s", fromBlock, l.opts.Mode)

	for {
		events, err := stream.Next(ctx)
		if err != nil {
			if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
				return nil
			}
			return fmt.Errorf("event stream failed: %w", err)
		}
		for _, ev := range events {
			l.handle(ctx, ev)
		}
	}
}

func (l *Listener) handle(ctx context.Context, ev chain.Event) {
	ctx, span := observability.StartSpan(ctx, "listener.handle",
		attribute.String("selector", ev.Selector.Hex()),
	)
	defer span.End()

	binding, ok := l.admit(ev)
	if !ok {
		observability.Default.IncCounter("events_dropped_total", map[string]string{"reason": "no_binding"}, 1)
		return
	}
	ev = l.applySticky(ev, binding)

	sol, err := solver.New(binding.App, binding.Config, ev)
	if err != nil {
		// Construction failure drops the event, never the listener.
		log.Printf("listener dropped event app=%s seq=%s: %v", binding.App, ev.Sequence, err)
		observability.Default.IncCounter("events_dropped_total", map[string]string{"reason": dropReason(err)}, 1)
		return
	}
	observability.Default.IncCounter("events_admitted_total", map[string]string{"app": binding.App}, 1)
	exec := executor.New(sol, ev.Sequence, paramMap(ev), executor.Options{Tick: l.opts.Tick, Stats: l.stats})
	l.registry.Spawn(ctx, exec)
}

func (l *Listener) admit(ev chain.Event) (Binding, bool) {
	if l.opts.Mode == ModeCallTarget {
		if len(ev.Calls) == 0 || ev.Calls[0].Addr != l.opts.Target {
			return Binding{}, false
		}
		b, ok := l.bindings[codec.AppSelector(l.opts.TargetApp)]
		return b, ok
	}
	b, ok := l.bindings[ev.Selector]
	return b, ok
}

// applySticky caches the last non-empty value of each tracked key and
// substitutes it when a follow-up event arrives with an empty payload. This
// lets one full schedule definition drive a stream of abbreviated trigger
// events.
func (l *Listener) applySticky(ev chain.Event, binding Binding) chain.Event {
	if len(binding.StickyKeys) == 0 {
		return ev
	}
	cache := l.sticky[ev.Selector]
	if cache == nil {
		cache = make(map[string][]byte)
		l.sticky[ev.Selector] = cache
	}
	for _, key := range binding.StickyKeys {
		value, present := ev.Param(key)
		if present && len(value) > 0 {
			cached := make([]byte, len(value))
			copy(cached, value)
			cache[key] = cached
			continue
		}
		cached, ok := cache[key]
		if !ok {
			continue
		}
		ev = setParam(ev, key, cached)
	}
	return ev
}

func setParam(ev chain.Event, key string, value []byte) chain.Event {
	params := make([]chain.Param, 0, len(ev.Params)+1)
	replaced := false
	for _, p := range ev.Params {
		if p.Name == key {
			params = append(params, chain.Param{Name: key, Value: value})
			replaced = true
			continue
		}
		params = append(params, p)
	}
	if !replaced {
		params = append(params, chain.Param{Name: key, Value: value})
	}
	ev.Params = params
	return ev
}

func paramMap(ev chain.Event) map[string]string {
	if len(ev.Params) == 0 {
		return nil
	}
	out := make(map[string]string, len(ev.Params))
	for _, p := range ev.Params {
		out[p.Name] = string(p.Value)
	}
	return out
}

func dropReason(err error) string {
	var paramErr *solver.ParamError
	var selErr *solver.SelectorMismatchError
	switch {
	case errors.As(err, &paramErr):
		return "param_error"
	case errors.As(err, &selErr):
		return "selector_mismatch"
	default:
		return "construct_failed"
	}
}
