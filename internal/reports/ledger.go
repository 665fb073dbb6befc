// Package reports holds the in-memory pending-disbursement ledger. Amounts
// accumulate per account under a schedule key until a successful commit
// consumes them.
package reports

import (
	"errors"
	"fmt"
	"math/big"
	"sort"
	"sync"

	"github.com/smart-transaction/stxn-poc-solvers/internal/chain"
)

// DefaultScheduleKey partitions ingestions that do not name a schedule.
const DefaultScheduleKey = "default"

// maxAmountBits bounds amounts to one chain word; anything wider could not
// be encoded into a settlement call.
const maxAmountBits = 256

var (
	errNonPositiveAmount = errors.New("amount must be positive")
	errAmountTooWide     = errors.New("amount exceeds 256 bits")
)

// Entry is one account's accumulated pending amount.
type Entry struct {
	Account chain.Address
	Amount  *big.Int
}

// Stats is a point-in-time summary across every schedule key.
type Stats struct {
	AccountCount int      `json:"account_count"`
	TotalAmount  *big.Int `json:"-"`
}

// Ledger is the shared pending-amount accumulator. All operations take one
// mutex; Consume holds it across the read-then-clear of a successful commit
// so no concurrent ingestion is lost between the two.
type Ledger struct {
	mu        sync.Mutex
	schedules map[string]map[chain.Address]*big.Int
}

func NewLedger() *Ledger {
	return &Ledger{schedules: make(map[string]map[chain.Address]*big.Int)}
}

// Ingest adds amount to the account's running total under scheduleKey,
// creating the entry if absent. The amount and the resulting total must
// both fit in one chain word.
func (l *Ledger) Ingest(scheduleKey string, account chain.Address, amount *big.Int) error {
	if amount == nil || amount.Sign() <= 0 {
		return errNonPositiveAmount
	}
	if scheduleKey == "" {
		scheduleKey = DefaultScheduleKey
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	accounts := l.schedules[scheduleKey]
	if accounts == nil {
		accounts = make(map[chain.Address]*big.Int)
		l.schedules[scheduleKey] = accounts
	}
	total := accounts[account]
	if total == nil {
		total = new(big.Int)
		accounts[account] = total
	}
	next := new(big.Int).Add(total, amount)
	if next.BitLen() > maxAmountBits {
		return errAmountTooWide
	}
	total.Set(next)
	return nil
}

// Size reports how many accounts currently hold a pending amount under
// scheduleKey.
func (l *Ledger) Size(scheduleKey string) int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.schedules[scheduleKey])
}

// Consume passes the schedule's current entries, ordered by account, to fn
// while holding the ledger lock. If fn returns nil the entries are cleared;
// on error they are left untouched for a later attempt. fn is not invoked
// for an empty schedule.
func (l *Ledger) Consume(scheduleKey string, fn func(entries []Entry) error) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	accounts := l.schedules[scheduleKey]
	if len(accounts) == 0 {
		return fmt.Errorf("schedule %q has no pending reports", scheduleKey)
	}
	entries := make([]Entry, 0, len(accounts))
	for account, amount := range accounts {
		entries = append(entries, Entry{Account: account, Amount: new(big.Int).Set(amount)})
	}
	sort.Slice(entries, func(i, j int) bool {
		return entries[i].Account.Hex() < entries[j].Account.Hex()
	})
	if err := fn(entries); err != nil {
		return err
	}
	delete(l.schedules, scheduleKey)
	return nil
}

// Snapshot copies the schedule's current entries without clearing them.
func (l *Ledger) Snapshot(scheduleKey string) []Entry {
	l.mu.Lock()
	defer l.mu.Unlock()
	accounts := l.schedules[scheduleKey]
	entries := make([]Entry, 0, len(accounts))
	for account, amount := range accounts {
		entries = append(entries, Entry{Account: account, Amount: new(big.Int).Set(amount)})
	}
	sort.Slice(entries, func(i, j int) bool {
		return entries[i].Account.Hex() < entries[j].Account.Hex()
	})
	return entries
}

// Stats totals pending amounts across all schedule keys.
func (l *Ledger) Stats() Stats {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := Stats{TotalAmount: new(big.Int)}
	for _, accounts := range l.schedules {
		out.AccountCount += len(accounts)
		for _, amount := range accounts {
			out.TotalAmount.Add(out.TotalAmount, amount)
		}
	}
	return out
}
