// Package bignum centralises exact-integer handling for base-unit balances.
//
// Every balance, amount and diff in this module flows through *big.Int.
// Floating point is never used: base-unit balances routinely exceed 2^63
// (24-decimal yoctoNEAR amounts) and any float round-trip would silently
// corrupt the ledger.
package bignum

import (
	"fmt"
	"math/big"
)

// Zero returns a fresh zero-valued integer. Callers must not share the
// returned pointer across mutations; big.Int values in this package are
// always treated as immutable once constructed.
func Zero() *big.Int { return new(big.Int) }

// Parse decodes a decimal base-10 string into a *big.Int. Empty strings
// are treated as zero, matching the "absent key means unknown, not zero"
// distinction living one level up in Snapshot rather than here.
func Parse(s string) (*big.Int, error) {
	if s == "" {
		return Zero(), nil
	}
	n, ok := new(big.Int).SetString(s, 10)
	if !ok {
		return nil, fmt.Errorf("bignum: %q is not a valid base-10 integer", s)
	}
	return n, nil
}

// MustParse is Parse but panics on malformed input; reserved for constants
// and tests where the string is a compile-time literal.
func MustParse(s string) *big.Int {
	n, err := Parse(s)
	if err != nil {
		panic(err)
	}
	return n
}

// String renders n as a base-10 decimal string. A nil n is treated as zero.
func String(n *big.Int) string {
	if n == nil {
		return "0"
	}
	return n.String()
}

// Sub returns a-b without mutating either argument.
func Sub(a, b *big.Int) *big.Int {
	return new(big.Int).Sub(orZero(a), orZero(b))
}

// Add returns a+b without mutating either argument.
func Add(a, b *big.Int) *big.Int {
	return new(big.Int).Add(orZero(a), orZero(b))
}

// Abs returns |n| without mutating n.
func Abs(n *big.Int) *big.Int {
	return new(big.Int).Abs(orZero(n))
}

// Equal reports whether a and b represent the same integer, treating nil
// as zero.
func Equal(a, b *big.Int) bool {
	return orZero(a).Cmp(orZero(b)) == 0
}

// IsZero reports whether n is nil or exactly zero.
func IsZero(n *big.Int) bool {
	return orZero(n).Sign() == 0
}

// Sign mirrors big.Int.Sign but tolerates nil.
func Sign(n *big.Int) int {
	return orZero(n).Sign()
}

func orZero(n *big.Int) *big.Int {
	if n == nil {
		return Zero()
	}
	return n
}
