package solver

import (
	"context"
	"fmt"
	"math/big"
	"strconv"
	"strings"
	"time"

	"github.com/smart-transaction/stxn-poc-solvers/internal/chain"
	"github.com/smart-transaction/stxn-poc-solvers/internal/codec"
)

// Event parameter keys understood by the limit-order policy.
const (
	ParamGiveToken   = "GIVE_TOKEN"
	ParamTakeToken   = "TAKE_TOKEN"
	ParamBuyPrice    = "BUY_PRICE"
	ParamSlippageBps = "SLIPPAGE_BPS"
	ParamTimeLimit   = "TIME_LIMIT_SEC"
	ParamAmountIn    = "AMOUNT_IN"
	ParamFlashLoan   = "FLASH_LOAN"
)

// Contract names the limit-order policy resolves from Config.Contracts.
const (
	ContractPool      = "pool"
	ContractFlashLoan = "flashloan"
)

const defaultSlippageBps = 50

// LimitOrderSolver fills one buy order once the pool price reaches the
// target. The fill is a single batched transaction: both token approvals,
// liquidity provision, a slippage check, liquidity withdrawal, and the
// release of the deferred call, in a fixed execution order.
type LimitOrderSolver struct {
	cfg       *Config
	sequence  *big.Int
	giveToken chain.Address
	takeToken chain.Address
	buyPrice  *big.Int
	slippage  int64
	amountIn  *big.Int
	flashLoan bool
	deadline  time.Time
}

func NewLimitOrderSolver(cfg *Config, ev chain.Event) (*LimitOrderSolver, error) {
	if ev.Selector != codec.AppSelector(AppLimitOrder) {
		return nil, &SelectorMismatchError{App: AppLimitOrder, Got: ev.Selector}
	}
	if ev.Sequence == nil {
		return nil, paramErrorf("sequence", "event carries no sequence number")
	}
	giveToken, err := addressParam(ev, ParamGiveToken)
	if err != nil {
		return nil, err
	}
	takeToken, err := addressParam(ev, ParamTakeToken)
	if err != nil {
		return nil, err
	}
	buyPrice, err := uintParam(ev, ParamBuyPrice)
	if err != nil {
		return nil, err
	}
	amountIn, err := uintParam(ev, ParamAmountIn)
	if err != nil {
		return nil, err
	}
	slippage := int64(defaultSlippageBps)
	if raw, ok := ev.ParamString(ParamSlippageBps); ok && raw != "" {
		v, err := strconv.ParseInt(raw, 10, 64)
		if err != nil || v < 0 || v > 10_000 {
			return nil, paramErrorf(ParamSlippageBps, "must be 0..10000, got %q", raw)
		}
		slippage = v
	}
	limitRaw, ok := ev.ParamString(ParamTimeLimit)
	if !ok || limitRaw == "" {
		return nil, paramErrorf(ParamTimeLimit, "required")
	}
	limitSec, err := strconv.ParseInt(limitRaw, 10, 64)
	if err != nil || limitSec <= 0 {
		return nil, paramErrorf(ParamTimeLimit, "must be a positive number of seconds, got %q", limitRaw)
	}
	flashLoan := false
	if raw, ok := ev.ParamString(ParamFlashLoan); ok && raw != "" {
		flashLoan = strings.EqualFold(raw, "true") || raw == "1"
	}
	return &LimitOrderSolver{
		cfg:       cfg,
		sequence:  new(big.Int).Set(ev.Sequence),
		giveToken: giveToken,
		takeToken: takeToken,
		buyPrice:  buyPrice,
		slippage:  slippage,
		amountIn:  amountIn,
		flashLoan: flashLoan,
		deadline:  time.Now().UTC().Add(time.Duration(limitSec) * time.Second),
	}, nil
}

func addressParam(ev chain.Event, key string) (chain.Address, error) {
	raw, ok := ev.ParamString(key)
	if !ok || raw == "" {
		return chain.Address{}, paramErrorf(key, "required")
	}
	addr, err := chain.ParseAddress(raw)
	if err != nil {
		return chain.Address{}, paramErrorf(key, "%v", err)
	}
	return addr, nil
}

func uintParam(ev chain.Event, key string) (*big.Int, error) {
	raw, ok := ev.ParamString(key)
	if !ok || raw == "" {
		return nil, paramErrorf(key, "required")
	}
	v, ok := new(big.Int).SetString(strings.TrimSpace(raw), 10)
	if !ok || v.Sign() <= 0 {
		return nil, paramErrorf(key, "must be a positive integer, got %q", raw)
	}
	if v.BitLen() > 256 {
		return nil, paramErrorf(key, "must fit in 256 bits")
	}
	return v, nil
}

func (o *LimitOrderSolver) App() string {
	return AppLimitOrder
}

func (o *LimitOrderSolver) Deadline() (time.Time, error) {
	return o.deadline, nil
}

func (o *LimitOrderSolver) PollStep(ctx context.Context) (StepOutcome, error) {
	pool, err := o.cfg.contract(ContractPool)
	if err != nil {
		return StepOutcome{}, &ExecError{Op: "resolve pool contract", Err: err}
	}
	payload := codec.EncodeCall("getPrice(address,address)",
		codec.EncodeAddress(o.giveToken),
		codec.EncodeAddress(o.takeToken),
	)
	raw, err := o.cfg.Client.Call(ctx, pool, payload)
	if err != nil {
		return StepOutcome{}, &ExecError{Op: "query pool price", Err: err}
	}
	price, err := codec.DecodeUint(raw)
	if err != nil {
		return StepOutcome{}, &ExecError{Op: "decode pool price", Err: err}
	}
	remaining := time.Until(o.deadline)
	if price.Cmp(o.buyPrice) <= 0 {
		return StepOutcome{
			Triggered: true,
			Message:   fmt.Sprintf("price %s at or below target %s", price, o.buyPrice),
			Remaining: remaining,
		}, nil
	}
	return StepOutcome{
		Message:   fmt.Sprintf("price %s above target %s", price, o.buyPrice),
		Remaining: remaining,
	}, nil
}

func (o *LimitOrderSolver) Commit(ctx context.Context) (CommitOutcome, error) {
	pool, err := o.cfg.contract(ContractPool)
	if err != nil {
		return CommitOutcome{}, &ExecError{Op: "resolve pool contract", Err: err}
	}
	target := o.cfg.CallBreaker
	payload := o.buildFill(pool)
	if o.flashLoan {
		lender, err := o.cfg.contract(ContractFlashLoan)
		if err != nil {
			return CommitOutcome{}, &ExecError{Op: "resolve flash loan contract", Err: err}
		}
		payload = codec.EncodeCall("flashLoanAndExecute(address,uint256,bytes)",
			codec.EncodeAddress(o.giveToken),
			codec.EncodeUint(o.amountIn),
			codec.EncodeBytes(payload),
		)
		target = lender
	}
	var outcome CommitOutcome
	err = o.cfg.Guard.Do(func() error {
		pending, err := o.cfg.Client.Send(ctx, target, payload, o.cfg.GasLimit)
		if err != nil {
			return &ExecError{Op: "submit limit order fill", Err: err}
		}
		receipt, err := pending.Await(ctx)
		if err != nil {
			return &ExecError{Op: "await fill receipt", Err: err}
		}
		outcome = CommitOutcome{
			Confirmed: receipt.OK(),
			TxHash:    receipt.TxHash,
			Message:   fmt.Sprintf("order filled in tx %s", receipt.TxHash.Hex()),
		}
		if !receipt.OK() {
			outcome.Message = fmt.Sprintf("fill tx %s reverted", receipt.TxHash.Hex())
		}
		return nil
	})
	if err != nil {
		return CommitOutcome{}, err
	}
	return outcome, nil
}

// A failed fill keeps polling: the price may cross the target again before
// the deadline.
func (o *LimitOrderSolver) RetryCommit() bool {
	return true
}

// buildFill assembles the six-call fill batch. Index 0 releases the
// deferred call but executes fourth; the slippage check expects a success
// word back; the withdrawal pays out to the configured solver account.
func (o *LimitOrderSolver) buildFill(pool chain.Address) []byte {
	gas := new(big.Int).SetUint64(o.cfg.GasLimit)
	calls := []chain.CallObject{
		{
			Amount:    new(big.Int),
			Gas:       gas,
			Addr:      o.cfg.Laminator,
			Callvalue: codec.EncodeCall("pull(uint256)", codec.EncodeUint(o.sequence)),
		},
		{
			Amount:    new(big.Int),
			Gas:       gas,
			Addr:      o.giveToken,
			Callvalue: codec.EncodeCall("approve(address,uint256)", codec.EncodeAddress(pool), codec.EncodeUint(o.amountIn)),
		},
		{
			Amount:    new(big.Int),
			Gas:       gas,
			Addr:      o.takeToken,
			Callvalue: codec.EncodeCall("approve(address,uint256)", codec.EncodeAddress(pool), codec.EncodeUint(o.amountIn)),
		},
		{
			Amount:    new(big.Int),
			Gas:       gas,
			Addr:      pool,
			Callvalue: codec.EncodeCall("provideLiquidity(address,address,uint256)",
				codec.EncodeAddress(o.giveToken),
				codec.EncodeAddress(o.takeToken),
				codec.EncodeUint(o.amountIn),
			),
		},
		{
			Amount:    new(big.Int),
			Gas:       gas,
			Addr:      o.cfg.CallBreaker,
			Callvalue: codec.EncodeCall("verifySlippage(uint256,uint256)",
				codec.EncodeUint(o.buyPrice),
				codec.EncodeUint(big.NewInt(o.slippage)),
			),
		},
		{
			Amount:    new(big.Int),
			Gas:       gas,
			Addr:      pool,
			Callvalue: codec.EncodeCall("withdrawLiquidity(address,address,address)",
				codec.EncodeAddress(o.giveToken),
				codec.EncodeAddress(o.takeToken),
				codec.EncodeAddress(o.cfg.SolverAddr),
			),
		},
	}
	order := []uint64{1, 2, 3, 0, 4, 5}
	returns := [][]byte{nil, nil, nil, nil, codec.EncodeUint(big.NewInt(1)), nil}
	return codec.EncodeCall("executeAndVerify(bytes,bytes,bytes)",
		codec.EncodeCallObjects(calls),
		codec.EncodeReturns(returns),
		codec.EncodeOrder(order),
	)
}
