package codec

import (
	"fmt"
	"math/big"

	"github.com/smart-transaction/stxn-poc-solvers/internal/chain"
)

// EncodeCallObjects renders a batch of call objects: a count word followed
// by each call's salt, amount, gas, target word, and calldata bytes.
func EncodeCallObjects(calls []chain.CallObject) []byte {
	out := EncodeUint(big.NewInt(int64(len(calls))))
	for _, c := range calls {
		out = append(out, EncodeUint(c.Salt)...)
		out = append(out, EncodeUint(c.Amount)...)
		out = append(out, EncodeUint(c.Gas)...)
		out = append(out, EncodeAddress(c.Addr)...)
		out = append(out, EncodeBytes(c.Callvalue)...)
	}
	return out
}

// EncodeOrder renders an execution-order vector as count + index words.
func EncodeOrder(order []uint64) []byte {
	out := EncodeUint(big.NewInt(int64(len(order))))
	for _, idx := range order {
		out = append(out, EncodeUint(new(big.Int).SetUint64(idx))...)
	}
	return out
}

// EncodeReturns renders the expected return-value template for a batch:
// count + one bytes element per call slot.
func EncodeReturns(returns [][]byte) []byte {
	out := EncodeUint(big.NewInt(int64(len(returns))))
	for _, r := range returns {
		out = append(out, EncodeBytes(r)...)
	}
	return out
}

// EncodeEventData flattens a scheduled-call event into log data bytes.
// Layout: sequence word, selector word, param count + (name, value) byte
// pairs, call count + call objects.
func EncodeEventData(ev chain.Event) []byte {
	out := EncodeUint(ev.Sequence)
	out = append(out, ev.Selector[:]...)
	out = append(out, EncodeUint(big.NewInt(int64(len(ev.Params))))...)
	for _, p := range ev.Params {
		out = append(out, EncodeString(p.Name)...)
		out = append(out, EncodeBytes(p.Value)...)
	}
	out = append(out, EncodeCallObjects(ev.Calls)...)
	return out
}

// DecodeEventData parses log data produced in the EncodeEventData layout.
func DecodeEventData(data []byte) (chain.Event, error) {
	r := &wordReader{buf: data}
	var ev chain.Event

	seq, err := r.uint("sequence")
	if err != nil {
		return ev, err
	}
	ev.Sequence = seq

	sel, err := r.word("selector")
	if err != nil {
		return ev, err
	}
	copy(ev.Selector[:], sel)

	nParams, err := r.count("param count")
	if err != nil {
		return ev, err
	}
	for i := 0; i < nParams; i++ {
		name, err := r.bytes("param name")
		if err != nil {
			return ev, err
		}
		value, err := r.bytes("param value")
		if err != nil {
			return ev, err
		}
		ev.Params = append(ev.Params, chain.Param{Name: string(name), Value: value})
	}

	nCalls, err := r.count("call count")
	if err != nil {
		return ev, err
	}
	for i := 0; i < nCalls; i++ {
		var c chain.CallObject
		if c.Salt, err = r.uint("call salt"); err != nil {
			return ev, err
		}
		if c.Amount, err = r.uint("call amount"); err != nil {
			return ev, err
		}
		if c.Gas, err = r.uint("call gas"); err != nil {
			return ev, err
		}
		addrWord, err := r.word("call target")
		if err != nil {
			return ev, err
		}
		if c.Addr, err = DecodeAddress(addrWord); err != nil {
			return ev, err
		}
		if c.Callvalue, err = r.bytes("call data"); err != nil {
			return ev, err
		}
		ev.Calls = append(ev.Calls, c)
	}
	return ev, nil
}

type wordReader struct {
	buf []byte
	off int
}

func (r *wordReader) word(what string) ([]byte, error) {
	if r.off+wordSize > len(r.buf) {
		return nil, fmt.Errorf("truncated event data reading %s at offset %d", what, r.off)
	}
	w := r.buf[r.off : r.off+wordSize]
	r.off += wordSize
	return w, nil
}

func (r *wordReader) uint(what string) (*big.Int, error) {
	w, err := r.word(what)
	if err != nil {
		return nil, err
	}
	return new(big.Int).SetBytes(w), nil
}

func (r *wordReader) count(what string) (int, error) {
	v, err := r.uint(what)
	if err != nil {
		return 0, err
	}
	if !v.IsInt64() || v.Int64() < 0 || v.Int64() > int64(len(r.buf)/wordSize) {
		return 0, fmt.Errorf("implausible %s %s", what, v)
	}
	return int(v.Int64()), nil
}

func (r *wordReader) bytes(what string) ([]byte, error) {
	v, err := r.uint(what + " length")
	if err != nil {
		return nil, err
	}
	if !v.IsInt64() || v.Int64() < 0 || v.Int64() > int64(len(r.buf)-r.off) {
		return nil, fmt.Errorf("implausible %s length %s", what, v)
	}
	n := int(v.Int64())
	end := r.off + padded(n)
	if end > len(r.buf) {
		return nil, fmt.Errorf("truncated event data reading %s at offset %d", what, r.off)
	}
	out := make([]byte, n)
	copy(out, r.buf[r.off:r.off+n])
	r.off = end
	return out, nil
}
