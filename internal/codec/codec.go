// Package codec encodes and decodes the binary payloads exchanged with the
// ledger: 32-byte-word call arguments, batched call objects, scheduled-call
// event data, and Keccak-based selectors.
package codec

import (
	"fmt"
	"math/big"

	"golang.org/x/crypto/sha3"

	"github.com/smart-transaction/stxn-poc-solvers/internal/chain"
)

const wordSize = 32

// Keccak256 returns the Keccak-256 digest of data.
func Keccak256(data []byte) [32]byte {
	var out [32]byte
	h := sha3.NewLegacyKeccak256()
	h.Write(data)
	copy(out[:], h.Sum(nil))
	return out
}

// AppSelector hashes an application name into its routing selector.
func AppSelector(app string) chain.Selector {
	return chain.Selector(Keccak256(EncodeString(app)))
}

// MethodID returns the 4-byte dispatch prefix for a method signature,
// e.g. "pull(uint256)".
func MethodID(signature string) []byte {
	sum := Keccak256([]byte(signature))
	return sum[:4]
}

// EncodeUint renders v as a left-padded 32-byte big-endian word.
// v must be non-negative and fit in 256 bits.
func EncodeUint(v *big.Int) []byte {
	out := make([]byte, wordSize)
	if v == nil {
		return out
	}
	v.FillBytes(out)
	return out
}

// DecodeUint reads a 32-byte word as an unsigned integer.
func DecodeUint(b []byte) (*big.Int, error) {
	if len(b) < wordSize {
		return nil, fmt.Errorf("uint word too short: %d bytes", len(b))
	}
	return new(big.Int).SetBytes(b[:wordSize]), nil
}

// EncodeAddress left-pads an address into a 32-byte word.
func EncodeAddress(a chain.Address) []byte {
	out := make([]byte, wordSize)
	copy(out[wordSize-len(a):], a[:])
	return out
}

// DecodeAddress reads an address from the low bytes of a 32-byte word.
func DecodeAddress(b []byte) (chain.Address, error) {
	var a chain.Address
	if len(b) < wordSize {
		return a, fmt.Errorf("address word too short: %d bytes", len(b))
	}
	copy(a[:], b[wordSize-len(a):wordSize])
	return a, nil
}

// EncodeBytes renders b as a length word followed by the data padded up to
// a word boundary.
func EncodeBytes(b []byte) []byte {
	out := make([]byte, 0, wordSize+padded(len(b)))
	out = append(out, EncodeUint(big.NewInt(int64(len(b))))...)
	out = append(out, b...)
	out = append(out, make([]byte, padded(len(b))-len(b))...)
	return out
}

// EncodeString is EncodeBytes over the UTF-8 bytes of s.
func EncodeString(s string) []byte {
	return EncodeBytes([]byte(s))
}

// EncodeCall assembles calldata: the 4-byte method id followed by the
// pre-encoded argument words in order.
func EncodeCall(signature string, args ...[]byte) []byte {
	out := MethodID(signature)
	for _, a := range args {
		out = append(out, a...)
	}
	return out
}

func padded(n int) int {
	if n%wordSize == 0 {
		return n
	}
	return n + wordSize - n%wordSize
}
