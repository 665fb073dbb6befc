package solver

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"strconv"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/smart-transaction/stxn-poc-solvers/internal/chain"
	"github.com/smart-transaction/stxn-poc-solvers/internal/codec"
	"github.com/smart-transaction/stxn-poc-solvers/internal/reports"
)

// Event parameter keys understood by the scheduled-batch policy.
const (
	ParamCron     = "CRON"
	ParamPayout   = "PAYOUT"
	ParamMaxBatch = "MAX_BATCH"
)

// ContractDisbursal names the settlement contract in Config.Contracts.
const ContractDisbursal = "disbursal"

const (
	defaultMaxBatchSize     = 100
	defaultSettlementWindow = 24 * time.Hour
)

var errTxNotConfirmed = errors.New("transaction mined with failure status")

// BatchSolver pays out the accumulated reports ledger for one schedule. It
// triggers when the cron time has passed with a non-empty ledger, or as
// soon as the ledger reaches the maximum batch size; an empty ledger at
// trigger time is never committed.
type BatchSolver struct {
	cfg      *Config
	sequence *big.Int
	schedule string
	payout   chain.Address
	trigger  time.Time
	deadline time.Time
	maxBatch int

	now func() time.Time
}

func NewBatchSolver(cfg *Config, ev chain.Event) (*BatchSolver, error) {
	if ev.Selector != codec.AppSelector(AppScheduler) {
		return nil, &SelectorMismatchError{App: AppScheduler, Got: ev.Selector}
	}
	if ev.Sequence == nil {
		return nil, paramErrorf("sequence", "event carries no sequence number")
	}
	expr, ok := ev.ParamString(ParamCron)
	if !ok || expr == "" {
		return nil, paramErrorf(ParamCron, "required")
	}
	sched, err := cron.ParseStandard(expr)
	if err != nil {
		return nil, paramErrorf(ParamCron, "invalid cron expression %q: %v", expr, err)
	}
	payoutRaw, ok := ev.ParamString(ParamPayout)
	if !ok || payoutRaw == "" {
		return nil, paramErrorf(ParamPayout, "required")
	}
	payout, err := chain.ParseAddress(payoutRaw)
	if err != nil {
		return nil, paramErrorf(ParamPayout, "%v", err)
	}
	maxBatch := cfg.MaxBatchSize
	if maxBatch <= 0 {
		maxBatch = defaultMaxBatchSize
	}
	if raw, ok := ev.ParamString(ParamMaxBatch); ok && raw != "" {
		v, err := strconv.Atoi(raw)
		if err != nil || v <= 0 {
			return nil, paramErrorf(ParamMaxBatch, "must be a positive integer, got %q", raw)
		}
		maxBatch = v
	}
	window := cfg.SettlementWindow
	if window <= 0 {
		window = defaultSettlementWindow
	}
	now := time.Now().UTC()
	trigger := sched.Next(now)
	return &BatchSolver{
		cfg:      cfg,
		sequence: new(big.Int).Set(ev.Sequence),
		schedule: expr,
		payout:   payout,
		trigger:  trigger,
		deadline: trigger.Add(window),
		maxBatch: maxBatch,
		now:      time.Now,
	}, nil
}

func (b *BatchSolver) App() string {
	return AppScheduler
}

// ScheduleKey is the reports-ledger partition this batch settles.
func (b *BatchSolver) ScheduleKey() string {
	return b.schedule
}

func (b *BatchSolver) Deadline() (time.Time, error) {
	if b.trigger.IsZero() {
		return time.Time{}, paramErrorf(ParamCron, "schedule %q yields no next trigger", b.schedule)
	}
	return b.deadline, nil
}

func (b *BatchSolver) PollStep(_ context.Context) (StepOutcome, error) {
	now := b.now().UTC()
	size := b.cfg.Ledger.Size(b.schedule)
	remaining := b.deadline.Sub(now)
	switch {
	case size >= b.maxBatch:
		return StepOutcome{
			Triggered: true,
			Message:   fmt.Sprintf("batch full: %d pending reports", size),
			Remaining: remaining,
		}, nil
	case !now.Before(b.trigger) && size > 0:
		return StepOutcome{
			Triggered: true,
			Message:   fmt.Sprintf("schedule due with %d pending reports", size),
			Remaining: remaining,
		}, nil
	case !now.Before(b.trigger):
		return StepOutcome{
			Message:   "schedule due but no pending reports",
			Remaining: remaining,
		}, nil
	default:
		return StepOutcome{
			Message:   fmt.Sprintf("%d pending reports, trigger in %s", size, b.trigger.Sub(now).Round(time.Second)),
			Remaining: remaining,
		}, nil
	}
}

// Commit releases the deferred call and settles every pending report in one
// batched transaction. The ledger lock is held from the read through the
// clear so a concurrent ingestion cannot be lost; the commit guard is held
// across the whole submission.
func (b *BatchSolver) Commit(ctx context.Context) (CommitOutcome, error) {
	disbursal, err := b.cfg.contract(ContractDisbursal)
	if err != nil {
		return CommitOutcome{}, &ExecError{Op: "resolve disbursal contract", Err: err}
	}
	var outcome CommitOutcome
	err = b.cfg.Guard.Do(func() error {
		return b.cfg.Ledger.Consume(b.schedule, func(entries []reports.Entry) error {
			payload := b.buildBatch(disbursal, entries)
			pending, err := b.cfg.Client.Send(ctx, b.cfg.CallBreaker, payload, b.cfg.GasLimit)
			if err != nil {
				return &ExecError{Op: "submit disbursal batch", Err: err}
			}
			receipt, err := pending.Await(ctx)
			if err != nil {
				return &ExecError{Op: "await disbursal receipt", Err: err}
			}
			outcome = CommitOutcome{
				Confirmed: receipt.OK(),
				TxHash:    receipt.TxHash,
				Message:   fmt.Sprintf("disbursed %d accounts in tx %s", len(entries), receipt.TxHash.Hex()),
			}
			if !receipt.OK() {
				outcome.Message = fmt.Sprintf("disbursal tx %s reverted", receipt.TxHash.Hex())
				return errTxNotConfirmed
			}
			return nil
		})
	})
	if err != nil && !errors.Is(err, errTxNotConfirmed) {
		return CommitOutcome{}, err
	}
	return outcome, nil
}

// A failed batch commit is terminal; the untouched ledger is picked up by
// the next scheduled event.
func (b *BatchSolver) RetryCommit() bool {
	return false
}

func (b *BatchSolver) buildBatch(disbursal chain.Address, entries []reports.Entry) []byte {
	receivers := codec.EncodeUint(big.NewInt(int64(len(entries))))
	amounts := codec.EncodeUint(big.NewInt(int64(len(entries))))
	for _, e := range entries {
		receivers = append(receivers, codec.EncodeAddress(e.Account)...)
		amounts = append(amounts, codec.EncodeUint(e.Amount)...)
	}
	calls := []chain.CallObject{
		{
			Amount:    new(big.Int),
			Gas:       new(big.Int).SetUint64(b.cfg.GasLimit),
			Addr:      b.cfg.Laminator,
			Callvalue: codec.EncodeCall("pull(uint256)", codec.EncodeUint(b.sequence)),
		},
		{
			Amount:    new(big.Int),
			Gas:       new(big.Int).SetUint64(b.cfg.GasLimit),
			Addr:      disbursal,
			Callvalue: codec.EncodeCall("disburse(address,address[],uint256[])", codec.EncodeAddress(b.payout), receivers, amounts),
		},
	}
	order := []uint64{0, 1}
	returns := [][]byte{nil, nil}
	return codec.EncodeCall("executeAndVerify(bytes,bytes,bytes)",
		codec.EncodeCallObjects(calls),
		codec.EncodeReturns(returns),
		codec.EncodeOrder(order),
	)
}
