package solver

import (
	"bytes"
	"context"
	"math/big"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/smart-transaction/stxn-poc-solvers/internal/codec"
)

func limitOrderParams() map[string]string {
	return map[string]string{
		ParamGiveToken: "0x1212121212121212121212121212121212121212",
		ParamTakeToken: "0x3434343434343434343434343434343434343434",
		ParamBuyPrice:  "100",
		ParamAmountIn:  "1000000",
		ParamTimeLimit: "3600",
	}
}

func newTestLimitOrder(t *testing.T, client *fakeClient, params map[string]string) *LimitOrderSolver {
	t.Helper()
	cfg := testConfig(t, client)
	o, err := NewLimitOrderSolver(cfg, testEvent(AppLimitOrder, 9, params))
	require.NoError(t, err)
	return o
}

func TestNewLimitOrderRequiresAllParams(t *testing.T) {
	cfg := testConfig(t, &fakeClient{})
	for _, missing := range []string{ParamGiveToken, ParamTakeToken, ParamBuyPrice, ParamAmountIn, ParamTimeLimit} {
		params := limitOrderParams()
		delete(params, missing)
		_, err := NewLimitOrderSolver(cfg, testEvent(AppLimitOrder, 9, params))
		var paramErr *ParamError
		require.ErrorAs(t, err, &paramErr, "expected ParamError without %s", missing)
		require.Equal(t, missing, paramErr.Key)
	}
}

func TestNewLimitOrderRejectsOverwideAmounts(t *testing.T) {
	cfg := testConfig(t, &fakeClient{})
	over := new(big.Int).Lsh(big.NewInt(1), 256)
	for _, key := range []string{ParamBuyPrice, ParamAmountIn} {
		params := limitOrderParams()
		params[key] = over.String()

		_, err := NewLimitOrderSolver(cfg, testEvent(AppLimitOrder, 9, params))
		var paramErr *ParamError
		require.ErrorAs(t, err, &paramErr, "expected ParamError for oversized %s", key)
		require.Equal(t, key, paramErr.Key)
	}
}

func TestNewLimitOrderRejectsBadSlippage(t *testing.T) {
	cfg := testConfig(t, &fakeClient{})
	params := limitOrderParams()
	params[ParamSlippageBps] = "20000"

	_, err := NewLimitOrderSolver(cfg, testEvent(AppLimitOrder, 9, params))
	var paramErr *ParamError
	require.ErrorAs(t, err, &paramErr)
}

func TestNewLimitOrderRefusesForeignSelector(t *testing.T) {
	cfg := testConfig(t, &fakeClient{})
	ev := testEvent(AppLimitOrder, 9, limitOrderParams())
	ev.Selector = codec.AppSelector(AppScheduler)

	_, err := NewLimitOrderSolver(cfg, ev)
	var selErr *SelectorMismatchError
	require.ErrorAs(t, err, &selErr)
}

func TestLimitOrderPollStepAboveTarget(t *testing.T) {
	client := &fakeClient{callResults: [][]byte{codec.EncodeUint(big.NewInt(120))}}
	o := newTestLimitOrder(t, client, limitOrderParams())

	out, err := o.PollStep(context.Background())
	require.NoError(t, err)
	require.False(t, out.Triggered)
	require.Contains(t, out.Message, "above target")
}

func TestLimitOrderPollStepAtOrBelowTarget(t *testing.T) {
	for _, price := range []int64{100, 95} {
		client := &fakeClient{callResults: [][]byte{codec.EncodeUint(big.NewInt(price))}}
		o := newTestLimitOrder(t, client, limitOrderParams())

		out, err := o.PollStep(context.Background())
		require.NoError(t, err)
		require.True(t, out.Triggered, "price %d should trigger", price)
	}
}

func TestLimitOrderPollStepWrapsCallError(t *testing.T) {
	client := &fakeClient{callErr: context.DeadlineExceeded}
	o := newTestLimitOrder(t, client, limitOrderParams())

	_, err := o.PollStep(context.Background())
	var execErr *ExecError
	require.ErrorAs(t, err, &execErr)
}

func TestLimitOrderCommitSubmitsFillBatch(t *testing.T) {
	client := &fakeClient{receiptStatus: []uint64{1}}
	o := newTestLimitOrder(t, client, limitOrderParams())

	out, err := o.Commit(context.Background())
	require.NoError(t, err)
	require.True(t, out.Confirmed)
	require.Equal(t, 1, client.sentCount())
	require.Equal(t, o.cfg.CallBreaker, client.sent[0].To)
	require.Equal(t, codec.MethodID("executeAndVerify(bytes,bytes,bytes)"), client.sent[0].Payload[:4])
	require.True(t, bytes.Contains(client.sent[0].Payload, codec.EncodeAddress(o.cfg.SolverAddr)),
		"the withdrawal call must pay out to the solver account")
}

func TestLimitOrderCommitRevertIsNotConfirmed(t *testing.T) {
	client := &fakeClient{receiptStatus: []uint64{0}}
	o := newTestLimitOrder(t, client, limitOrderParams())

	out, err := o.Commit(context.Background())
	require.NoError(t, err)
	require.False(t, out.Confirmed)
	require.True(t, o.RetryCommit(), "a failed fill keeps polling until the deadline")
}

func TestLimitOrderFlashLoanRoutesThroughLender(t *testing.T) {
	client := &fakeClient{receiptStatus: []uint64{1}}
	params := limitOrderParams()
	params[ParamFlashLoan] = "true"
	o := newTestLimitOrder(t, client, params)

	out, err := o.Commit(context.Background())
	require.NoError(t, err)
	require.True(t, out.Confirmed)
	require.Equal(t, o.cfg.Contracts[ContractFlashLoan], client.sent[0].To)
	require.Equal(t, codec.MethodID("flashLoanAndExecute(address,uint256,bytes)"), client.sent[0].Payload[:4])
}
