package jsonrpc

import (
	"context"
	"encoding/hex"
	"encoding/json"
	"math/big"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/smart-transaction/stxn-poc-solvers/internal/chain"
	"github.com/smart-transaction/stxn-poc-solvers/internal/codec"
)

type rpcCall struct {
	Method string `json:"method"`
	Params []any  `json:"params"`
	ID     uint64 `json:"id"`
}

// fakeNode answers each JSON-RPC method from a queue of scripted results,
// falling back to a repeatable result once the queue drains.
type fakeNode struct {
	t       *testing.T
	mu      sync.Mutex
	results map[string][]string // method -> raw json results, popped in order
	repeat  map[string]string   // method -> result once the queue is empty
	calls   []rpcCall
}

func (n *fakeNode) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	var call rpcCall
	if err := json.NewDecoder(r.Body).Decode(&call); err != nil {
		n.t.Errorf("decode rpc request: %v", err)
		return
	}

	n.mu.Lock()
	n.calls = append(n.calls, call)
	result, ok := "", false
	if queue := n.results[call.Method]; len(queue) > 0 {
		result, ok = queue[0], true
		n.results[call.Method] = queue[1:]
	} else if fallback, has := n.repeat[call.Method]; has {
		result, ok = fallback, true
	}
	n.mu.Unlock()

	if !ok {
		n.t.Errorf("unexpected rpc method %s", call.Method)
		result = `null`
	}
	w.Header().Set("Content-Type", "application/json")
	_, _ = w.Write([]byte(`{"jsonrpc":"2.0","id":1,"result":` + result + `}`))
}

func (n *fakeNode) callAt(i int) rpcCall {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.calls[i]
}

func (n *fakeNode) callCount() int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return len(n.calls)
}

func newTestClient(t *testing.T, node *fakeNode) *Client {
	t.Helper()
	srv := httptest.NewServer(node)
	t.Cleanup(srv.Close)
	laminator, err := chain.ParseAddress("0xaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaa")
	require.NoError(t, err)
	from, err := chain.ParseAddress("0xbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbb")
	require.NoError(t, err)
	client, err := Dial(Options{
		Endpoint:     srv.URL,
		FromAccount:  from,
		Laminator:    laminator,
		PollInterval: 5 * time.Millisecond,
		HTTPClient:   srv.Client(),
	})
	require.NoError(t, err)
	return client
}

func TestDialRequiresEndpoint(t *testing.T) {
	_, err := Dial(Options{})
	require.Error(t, err)
}

func TestBlockNumber(t *testing.T) {
	node := &fakeNode{t: t, results: map[string][]string{
		"eth_blockNumber": {`"0x1a4"`},
	}}
	client := newTestClient(t, node)

	n, err := client.BlockNumber(context.Background())
	require.NoError(t, err)
	require.Equal(t, uint64(420), n)
}

func TestCallEncodesPayload(t *testing.T) {
	node := &fakeNode{t: t, results: map[string][]string{
		"eth_call": {`"0x` + hex.EncodeToString(codec.EncodeUint(big.NewInt(99))) + `"`},
	}}
	client := newTestClient(t, node)

	to, err := chain.ParseAddress("0xcccccccccccccccccccccccccccccccccccccccc")
	require.NoError(t, err)
	out, err := client.Call(context.Background(), to, []byte{0xde, 0xad})
	require.NoError(t, err)

	got, err := codec.DecodeUint(out)
	require.NoError(t, err)
	require.Equal(t, int64(99), got.Int64())

	require.Equal(t, 1, node.callCount())
	arg, ok := node.callAt(0).Params[0].(map[string]any)
	require.True(t, ok)
	require.Equal(t, to.Hex(), arg["to"])
	require.Equal(t, "0xdead", arg["data"])
}

func TestSendAndAwaitReceipt(t *testing.T) {
	txHash := `"0x1122222222222222222222222222222222222222222222222222222222222222"`
	node := &fakeNode{t: t, results: map[string][]string{
		"eth_sendTransaction": {txHash},
		"eth_getTransactionReceipt": {
			`null`,
			`{"status":"0x1","blockNumber":"0x10"}`,
		},
	}}
	client := newTestClient(t, node)

	to, err := chain.ParseAddress("0xcccccccccccccccccccccccccccccccccccccccc")
	require.NoError(t, err)
	tx, err := client.Send(context.Background(), to, []byte{0x01}, 500_000)
	require.NoError(t, err)

	sent, ok := node.callAt(0).Params[0].(map[string]any)
	require.True(t, ok)
	require.Equal(t, "0xbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbb", sent["from"])
	require.Equal(t, "0x7a120", sent["gas"])

	receipt, err := tx.Await(context.Background())
	require.NoError(t, err)
	require.True(t, receipt.OK())
	require.Equal(t, uint64(0x10), receipt.Block)
	require.Equal(t, tx.Hash(), receipt.TxHash)
}

func TestAwaitRespectsContext(t *testing.T) {
	node := &fakeNode{
		t:       t,
		results: map[string][]string{"eth_sendTransaction": {`"0x1122222222222222222222222222222222222222222222222222222222222222"`}},
		repeat:  map[string]string{"eth_getTransactionReceipt": `null`},
	}
	client := newTestClient(t, node)

	to, err := chain.ParseAddress("0xcccccccccccccccccccccccccccccccccccccccc")
	require.NoError(t, err)
	tx, err := client.Send(context.Background(), to, nil, 100_000)
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err = tx.Await(ctx)
	require.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestLogPollerDecodesEvents(t *testing.T) {
	payer, err := chain.ParseAddress("0xdddddddddddddddddddddddddddddddddddddddd")
	require.NoError(t, err)
	ev := chain.Event{
		Sequence: big.NewInt(7),
		Selector: codec.AppSelector("CLEANAPP.SCHEDULER"),
		Params: []chain.Param{
			{Name: "CRON", Value: []byte("*/5 * * * *")},
			{Name: "PAYOUT", Value: payer[:]},
		},
	}
	logJSON := `{"address":"0xaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaa",` +
		`"data":"0x` + hex.EncodeToString(codec.EncodeEventData(ev)) + `",` +
		`"blockNumber":"0x2a"}`

	node := &fakeNode{
		t: t,
		results: map[string][]string{"eth_getLogs": {
			`[]`,
			`[` + logJSON + `]`,
		}},
		repeat: map[string]string{"eth_getLogs": `[]`},
	}
	client := newTestClient(t, node)

	stream, err := client.SubscribeCalls(context.Background(), 40)
	require.NoError(t, err)

	events, err := stream.Next(context.Background())
	require.NoError(t, err)
	require.Len(t, events, 1)
	got := events[0]
	require.Equal(t, int64(7), got.Sequence.Int64())
	require.Equal(t, ev.Selector, got.Selector)
	cron, ok := got.ParamString("CRON")
	require.True(t, ok)
	require.Equal(t, "*/5 * * * *", cron)
	require.Equal(t, uint64(0x2a), got.Block)
	require.Equal(t, "0xaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaa", got.Emitter.Hex())

	// The first getLogs round filters from the subscription block.
	require.GreaterOrEqual(t, node.callCount(), 2)
	filter, ok := node.callAt(0).Params[0].(map[string]any)
	require.True(t, ok)
	require.Equal(t, "0x28", filter["fromBlock"])
	require.Equal(t, client.source.Hex(), filter["address"])

	// The cursor moved past the delivered block.
	seen := node.callCount()
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err = stream.Next(ctx)
	require.ErrorIs(t, err, context.DeadlineExceeded)
	require.Greater(t, node.callCount(), seen)
	filter, ok = node.callAt(seen).Params[0].(map[string]any)
	require.True(t, ok)
	require.Equal(t, "0x2b", filter["fromBlock"])
}

func TestRPCErrorSurfaces(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"jsonrpc":"2.0","id":1,"error":{"code":-32000,"message":"out of gas"}}`))
	}))
	t.Cleanup(srv.Close)
	client, err := Dial(Options{Endpoint: srv.URL, HTTPClient: srv.Client()})
	require.NoError(t, err)

	_, err = client.BlockNumber(context.Background())
	require.Error(t, err)
	require.Contains(t, err.Error(), "out of gas")
}
