package solver

import (
	"fmt"

	"github.com/smart-transaction/stxn-poc-solvers/internal/chain"
)

// ParamError reports a missing or malformed event parameter. It aborts
// solver construction or the current cycle, never the process.
type ParamError struct {
	Key    string
	Reason string
}

func (e *ParamError) Error() string {
	return fmt.Sprintf("bad parameter %q: %s", e.Key, e.Reason)
}

func paramErrorf(key, format string, args ...any) *ParamError {
	return &ParamError{Key: key, Reason: fmt.Sprintf(format, args...)}
}

// ExecError reports a failed downstream read or write call. Retryable on
// the next tick.
type ExecError struct {
	Op  string
	Err error
}

func (e *ExecError) Error() string {
	return fmt.Sprintf("%s failed: %v", e.Op, e.Err)
}

func (e *ExecError) Unwrap() error {
	return e.Err
}

// SelectorMismatchError reports an event routed to a policy whose selector
// does not match. Construction is refused.
type SelectorMismatchError struct {
	App string
	Got chain.Selector
}

func (e *SelectorMismatchError) Error() string {
	return fmt.Sprintf("event selector %s does not identify %s", e.Got.Hex(), e.App)
}
