// Package jsonrpc implements the chain client capability over a node's
// HTTP JSON-RPC endpoint. Event subscription is log polling; transaction
// signing is delegated to the node's managed account.
package jsonrpc

import (
	"bytes"
	"context"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"sync/atomic"
	"time"

	"golang.org/x/crypto/sha3"

	"github.com/smart-transaction/stxn-poc-solvers/internal/chain"
	"github.com/smart-transaction/stxn-poc-solvers/internal/codec"
)

// scheduledCallTopic is the topic-0 of the laminator's scheduled-call log.
var scheduledCallTopic = eventTopic("CallScheduled(bytes)")

func eventTopic(signature string) string {
	h := sha3.NewLegacyKeccak256()
	h.Write([]byte(signature))
	return "0x" + hex.EncodeToString(h.Sum(nil))
}

type Options struct {
	Endpoint     string
	FromAccount  chain.Address
	Laminator    chain.Address
	PollInterval time.Duration
	HTTPClient   *http.Client
}

type Client struct {
	endpoint string
	from     chain.Address
	source   chain.Address
	poll     time.Duration
	httpc    *http.Client
	nextID   atomic.Uint64
}

func Dial(opts Options) (*Client, error) {
	if opts.Endpoint == "" {
		return nil, fmt.Errorf("chain endpoint is required")
	}
	httpc := opts.HTTPClient
	if httpc == nil {
		httpc = &http.Client{Timeout: 30 * time.Second}
	}
	poll := opts.PollInterval
	if poll <= 0 {
		poll = 1500 * time.Millisecond
	}
	return &Client{
		endpoint: opts.Endpoint,
		from:     opts.FromAccount,
		source:   opts.Laminator,
		poll:     poll,
		httpc:    httpc,
	}, nil
}

type rpcRequest struct {
	JSONRPC string `json:"jsonrpc"`
	ID      uint64 `json:"id"`
	Method  string `json:"method"`
	Params  []any  `json:"params"`
}

type rpcError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

type rpcResponse struct {
	Result json.RawMessage `json:"result"`
	Error  *rpcError       `json:"error"`
}

func (c *Client) call(ctx context.Context, method string, params []any, out any) error {
	body, err := json.Marshal(rpcRequest{
		JSONRPC: "2.0",
		ID:      c.nextID.Add(1),
		Method:  method,
		Params:  params,
	})
	if err != nil {
		return fmt.Errorf("marshal %s request: %w", method, err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("build %s request: %w", method, err)
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := c.httpc.Do(req)
	if err != nil {
		return fmt.Errorf("%s: %w", method, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("%s: unexpected HTTP status %d", method, resp.StatusCode)
	}
	var rr rpcResponse
	if err := json.NewDecoder(resp.Body).Decode(&rr); err != nil {
		return fmt.Errorf("decode %s response: %w", method, err)
	}
	if rr.Error != nil {
		return fmt.Errorf("%s: rpc error %d: %s", method, rr.Error.Code, rr.Error.Message)
	}
	if out == nil {
		return nil
	}
	if err := json.Unmarshal(rr.Result, out); err != nil {
		return fmt.Errorf("decode %s result: %w", method, err)
	}
	return nil
}

func (c *Client) BlockNumber(ctx context.Context) (uint64, error) {
	var raw string
	if err := c.call(ctx, "eth_blockNumber", []any{}, &raw); err != nil {
		return 0, err
	}
	return parseHexUint(raw)
}

func (c *Client) Call(ctx context.Context, to chain.Address, payload []byte) ([]byte, error) {
	var raw string
	params := []any{
		map[string]string{"to": to.Hex(), "data": "0x" + hex.EncodeToString(payload)},
		"latest",
	}
	if err := c.call(ctx, "eth_call", params, &raw); err != nil {
		return nil, err
	}
	return hex.DecodeString(strings.TrimPrefix(raw, "0x"))
}

func (c *Client) Send(ctx context.Context, to chain.Address, payload []byte, gasLimit uint64) (chain.PendingTx, error) {
	var raw string
	tx := map[string]string{
		"from": c.from.Hex(),
		"to":   to.Hex(),
		"gas":  "0x" + strconv.FormatUint(gasLimit, 16),
		"data": "0x" + hex.EncodeToString(payload),
	}
	if err := c.call(ctx, "eth_sendTransaction", []any{tx}, &raw); err != nil {
		return nil, err
	}
	hash, err := chain.ParseHash(raw)
	if err != nil {
		return nil, fmt.Errorf("parse submitted tx hash: %w", err)
	}
	return &pendingTx{client: c, hash: hash}, nil
}

type pendingTx struct {
	client *Client
	hash   chain.Hash
}

func (p *pendingTx) Hash() chain.Hash {
	return p.hash
}

type rawReceipt struct {
	Status      string `json:"status"`
	BlockNumber string `json:"blockNumber"`
}

// Await polls for the transaction receipt until it appears or ctx ends.
func (p *pendingTx) Await(ctx context.Context) (chain.Receipt, error) {
	for {
		var raw *rawReceipt
		if err := p.client.call(ctx, "eth_getTransactionReceipt", []any{p.hash.Hex()}, &raw); err != nil {
			return chain.Receipt{}, err
		}
		if raw != nil {
			status, err := parseHexUint(raw.Status)
			if err != nil {
				return chain.Receipt{}, fmt.Errorf("parse receipt status: %w", err)
			}
			block, err := parseHexUint(raw.BlockNumber)
			if err != nil {
				return chain.Receipt{}, fmt.Errorf("parse receipt block: %w", err)
			}
			return chain.Receipt{TxHash: p.hash, Status: status, Block: block}, nil
		}
		select {
		case <-ctx.Done():
			return chain.Receipt{}, ctx.Err()
		case <-time.After(p.client.poll):
		}
	}
}

func (c *Client) SubscribeCalls(_ context.Context, fromBlock uint64) (chain.EventStream, error) {
	return &logPoller{client: c, next: fromBlock}, nil
}

type rawLog struct {
	Address     string `json:"address"`
	Data        string `json:"data"`
	BlockNumber string `json:"blockNumber"`
}

// logPoller delivers scheduled-call logs in block order by repeated
// eth_getLogs range queries. It never resubscribes; any query error ends
// the stream.
type logPoller struct {
	client *Client
	next   uint64
}

func (p *logPoller) Next(ctx context.Context) ([]chain.Event, error) {
	for {
		filter := map[string]any{
			"fromBlock": "0x" + strconv.FormatUint(p.next, 16),
			"toBlock":   "latest",
			"topics":    []any{scheduledCallTopic},
		}
		if !p.client.source.IsZero() {
			filter["address"] = p.client.source.Hex()
		}
		var logs []rawLog
		if err := p.client.call(ctx, "eth_getLogs", []any{filter}, &logs); err != nil {
			return nil, err
		}
		if len(logs) == 0 {
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(p.client.poll):
			}
			continue
		}
		events := make([]chain.Event, 0, len(logs))
		for _, lg := range logs {
			ev, err := decodeLog(lg)
			if err != nil {
				return nil, fmt.Errorf("decode scheduled-call log: %w", err)
			}
			events = append(events, ev)
			if ev.Block >= p.next {
				p.next = ev.Block + 1
			}
		}
		return events, nil
	}
}

func decodeLog(lg rawLog) (chain.Event, error) {
	data, err := hex.DecodeString(strings.TrimPrefix(lg.Data, "0x"))
	if err != nil {
		return chain.Event{}, fmt.Errorf("log data is not hex: %w", err)
	}
	ev, err := codec.DecodeEventData(data)
	if err != nil {
		return chain.Event{}, err
	}
	if ev.Emitter, err = chain.ParseAddress(lg.Address); err != nil {
		return chain.Event{}, err
	}
	if ev.Block, err = parseHexUint(lg.BlockNumber); err != nil {
		return chain.Event{}, err
	}
	return ev, nil
}

func parseHexUint(raw string) (uint64, error) {
	trimmed := strings.TrimPrefix(strings.TrimSpace(raw), "0x")
	if trimmed == "" {
		return 0, fmt.Errorf("empty hex quantity")
	}
	return strconv.ParseUint(trimmed, 16, 64)
}
