package chain

import "context"

// Client is the capability surface the solvers need from a ledger node:
// reading the head block, subscribing to scheduled-call events, read-only
// contract calls, and transaction submission.
type Client interface {
	BlockNumber(ctx context.Context) (uint64, error)
	SubscribeCalls(ctx context.Context, fromBlock uint64) (EventStream, error)
	Call(ctx context.Context, to Address, payload []byte) ([]byte, error)
	Send(ctx context.Context, to Address, payload []byte, gasLimit uint64) (PendingTx, error)
}

// EventStream delivers scheduled-call events in block order. Next blocks
// until at least one event is available or the stream fails; a stream error
// is not recoverable.
type EventStream interface {
	Next(ctx context.Context) ([]Event, error)
}

// PendingTx is a submitted, not yet mined transaction.
type PendingTx interface {
	Hash() Hash
	Await(ctx context.Context) (Receipt, error)
}
