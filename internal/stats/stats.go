// Package stats collects executor status records over a channel and serves
// point-in-time snapshots.
package stats

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Status is the lifecycle state of one executor.
type Status string

const (
	StatusRunning   Status = "Running"
	StatusSucceeded Status = "Succeeded"
	StatusFailed    Status = "Failed"
	StatusTimeout   Status = "Timeout"
)

// TxStatus describes where the commit pipeline currently stands.
type TxStatus string

const (
	TxNotExecuted TxStatus = "NotExecuted"
	TxStepPending TxStatus = "StepPending"
	TxStepFailed  TxStatus = "StepFailed"
	TxPending     TxStatus = "TransactionPending"
	TxFailed      TxStatus = "TransactionFailed"
	TxSucceeded   TxStatus = "TransactionSucceeded"
)

// Record is one executor state transition. The aggregator keeps only the
// latest record per executor identity.
type Record struct {
	ExecutorID uuid.UUID         `json:"executor_id"`
	Sequence   string            `json:"sequence"`
	App        string            `json:"app"`
	Status     Status            `json:"status"`
	TxStatus   TxStatus          `json:"tx_status"`
	Message    string            `json:"message,omitempty"`
	Params     map[string]string `json:"params,omitempty"`
	CreatedAt  time.Time         `json:"created_at"`
	UpdatedAt  time.Time         `json:"updated_at"`
	ElapsedSec float64           `json:"elapsed_sec"`
	RemainSec  float64           `json:"remaining_sec"`
}

// Aggregator is the single consumer of the status channel. Publishers are
// fire-and-forget: a full channel drops the record rather than blocking an
// executor's retry loop.
type Aggregator struct {
	ch     chan Record
	mu     sync.Mutex
	latest map[uuid.UUID]Record
}

func NewAggregator(buffer int) *Aggregator {
	if buffer <= 0 {
		buffer = 256
	}
	return &Aggregator{
		ch:     make(chan Record, buffer),
		latest: make(map[uuid.UUID]Record),
	}
}

// Publish offers a record to the aggregator without blocking. Returns false
// if the channel was full and the record was dropped.
func (a *Aggregator) Publish(rec Record) bool {
	select {
	case a.ch <- rec:
		return true
	default:
		return false
	}
}

// Run drains the channel until ctx is canceled.
func (a *Aggregator) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case rec := <-a.ch:
			a.mu.Lock()
			a.latest[rec.ExecutorID] = rec
			a.mu.Unlock()
		}
	}
}

// Snapshot lists the latest record per executor ordered by creation time,
// optionally restricted to one status. Records are never evicted; the map
// is bounded by process lifetime.
func (a *Aggregator) Snapshot(filter Status) []Record {
	a.mu.Lock()
	out := make([]Record, 0, len(a.latest))
	for _, rec := range a.latest {
		if filter != "" && rec.Status != filter {
			continue
		}
		out = append(out, rec)
	}
	a.mu.Unlock()
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ExecutorID.String() < out[j].ExecutorID.String()
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out
}
