package solver

import (
	"context"
	"errors"
	"math/big"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/smart-transaction/stxn-poc-solvers/internal/chain"
	"github.com/smart-transaction/stxn-poc-solvers/internal/codec"
	"github.com/smart-transaction/stxn-poc-solvers/internal/reports"
)

type sentTx struct {
	To      chain.Address
	Payload []byte
	Gas     uint64
}

// fakeClient scripts read results and records submissions. Receipts are
// served from receiptStatus in submission order.
type fakeClient struct {
	mu            sync.Mutex
	callResults   [][]byte
	callErr       error
	sendErr       error
	awaitErr      error
	receiptStatus []uint64
	sent          []sentTx
}

func (f *fakeClient) BlockNumber(context.Context) (uint64, error) {
	return 100, nil
}

func (f *fakeClient) SubscribeCalls(context.Context, uint64) (chain.EventStream, error) {
	return nil, errors.New("fake client has no stream")
}

func (f *fakeClient) Call(_ context.Context, _ chain.Address, _ []byte) ([]byte, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.callErr != nil {
		return nil, f.callErr
	}
	if len(f.callResults) == 0 {
		return nil, errors.New("no scripted call result")
	}
	out := f.callResults[0]
	if len(f.callResults) > 1 {
		f.callResults = f.callResults[1:]
	}
	return out, nil
}

func (f *fakeClient) Send(_ context.Context, to chain.Address, payload []byte, gasLimit uint64) (chain.PendingTx, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.sendErr != nil {
		return nil, f.sendErr
	}
	f.sent = append(f.sent, sentTx{To: to, Payload: payload, Gas: gasLimit})
	status := uint64(1)
	if len(f.receiptStatus) > 0 {
		status = f.receiptStatus[0]
		if len(f.receiptStatus) > 1 {
			f.receiptStatus = f.receiptStatus[1:]
		}
	}
	var hash chain.Hash
	hash[0] = byte(len(f.sent))
	return &fakeTx{receipt: chain.Receipt{TxHash: hash, Status: status, Block: 101}, err: f.awaitErr}, nil
}

func (f *fakeClient) sentCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.sent)
}

type fakeTx struct {
	receipt chain.Receipt
	err     error
}

func (f *fakeTx) Hash() chain.Hash {
	return f.receipt.TxHash
}

func (f *fakeTx) Await(context.Context) (chain.Receipt, error) {
	if f.err != nil {
		return chain.Receipt{}, f.err
	}
	return f.receipt, nil
}

func testAddr(t *testing.T, hex string) chain.Address {
	t.Helper()
	a, err := chain.ParseAddress(hex)
	require.NoError(t, err)
	return a
}

func testConfig(t *testing.T, client chain.Client) *Config {
	t.Helper()
	return &Config{
		Client:      client,
		Laminator:   testAddr(t, "0xaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaa"),
		CallBreaker: testAddr(t, "0xbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbb"),
		SolverAddr:  testAddr(t, "0xcccccccccccccccccccccccccccccccccccccccc"),
		Contracts: map[string]chain.Address{
			ContractDisbursal: testAddr(t, "0xdddddddddddddddddddddddddddddddddddddddd"),
			ContractPool:      testAddr(t, "0xeeeeeeeeeeeeeeeeeeeeeeeeeeeeeeeeeeeeeeee"),
			ContractFlashLoan: testAddr(t, "0xffffffffffffffffffffffffffffffffffffffff"),
		},
		Guard:    NewGuard(),
		Ledger:   reports.NewLedger(),
		GasLimit: 500_000,
	}
}

func testEvent(app string, seq int64, params map[string]string) chain.Event {
	ev := chain.Event{
		Sequence: big.NewInt(seq),
		Selector: codec.AppSelector(app),
	}
	for name, value := range params {
		ev.Params = append(ev.Params, chain.Param{Name: name, Value: []byte(value)})
	}
	return ev
}
