package chain

import (
	"encoding/hex"
	"fmt"
	"math/big"
	"strings"
)

// Address is a 20-byte chain account or contract identity.
type Address [20]byte

// Selector is a 32-byte application selector, the hash of an application name.
type Selector [32]byte

// Hash is a 32-byte transaction or block hash.
type Hash [32]byte

func (a Address) Hex() string {
	return "0x" + hex.EncodeToString(a[:])
}

func (a Address) IsZero() bool {
	return a == Address{}
}

func (s Selector) Hex() string {
	return "0x" + hex.EncodeToString(s[:])
}

func (h Hash) Hex() string {
	return "0x" + hex.EncodeToString(h[:])
}

// ParseAddress accepts a 0x-prefixed or bare 40-hex-digit address.
func ParseAddress(raw string) (Address, error) {
	var a Address
	trimmed := strings.TrimPrefix(strings.TrimSpace(raw), "0x")
	if len(trimmed) != 2*len(a) {
		return a, fmt.Errorf("address must be %d hex digits, got %q", 2*len(a), raw)
	}
	b, err := hex.DecodeString(trimmed)
	if err != nil {
		return a, fmt.Errorf("invalid address %q: %w", raw, err)
	}
	copy(a[:], b)
	return a, nil
}

func ParseHash(raw string) (Hash, error) {
	var h Hash
	trimmed := strings.TrimPrefix(strings.TrimSpace(raw), "0x")
	if len(trimmed) != 2*len(h) {
		return h, fmt.Errorf("hash must be %d hex digits, got %q", 2*len(h), raw)
	}
	b, err := hex.DecodeString(trimmed)
	if err != nil {
		return h, fmt.Errorf("invalid hash %q: %w", raw, err)
	}
	copy(h[:], b)
	return h, nil
}

// Param is one named value carried by a scheduled-call event. Values are
// opaque bytes; policies decide how to interpret them.
type Param struct {
	Name  string
	Value []byte
}

// CallObject is one call inside a batched transaction: target, value to
// attach, gas to forward, and the encoded calldata.
type CallObject struct {
	Salt      *big.Int
	Amount    *big.Int
	Gas       *big.Int
	Addr      Address
	Callvalue []byte
}

// Event is an immutable record of a deferred call queued on the ledger.
// Sequence identifies the call within its queue; Selector routes it to a
// policy; Calls carries the scheduled call objects for structural inspection.
type Event struct {
	Sequence *big.Int
	Selector Selector
	Params   []Param
	Calls    []CallObject
	Emitter  Address
	Block    uint64
}

// Param returns the value for name and whether it was present.
func (e Event) Param(name string) ([]byte, bool) {
	for _, p := range e.Params {
		if p.Name == name {
			return p.Value, true
		}
	}
	return nil, false
}

// ParamString is Param with the value interpreted as UTF-8 text.
func (e Event) ParamString(name string) (string, bool) {
	v, ok := e.Param(name)
	if !ok {
		return "", false
	}
	return string(v), true
}

// Receipt is the mined outcome of a submitted transaction. Status follows
// chain convention: nonzero means the transaction executed successfully.
type Receipt struct {
	TxHash Hash
	Status uint64
	Block  uint64
}

func (r Receipt) OK() bool {
	return r.Status != 0
}
