// Package ledger defines the on-disk History document of spec.md §6 and
// the conversions between it and the in-memory domain types used by
// search/transfer/staking/reconcile, plus the atomic single-writer
// persistence spec.md §5 describes (temp-file-then-rename).
package ledger

import (
	"encoding/json"
	"math/big"

	"github.com/pkg/errors"
)

// BigInt wraps math/big.Int so it marshals as a JSON string rather than
// big.Int's own MarshalJSON (a bare JSON number) — spec.md §6 is
// explicit that big-integer fields are decimal strings so that no
// precision is lost and no reader can be tempted to decode them through
// a float64, per spec.md §9.
type BigInt struct {
	*big.Int
}

// NewBigInt wraps n. A nil n wraps as zero.
func NewBigInt(n *big.Int) BigInt {
	if n == nil {
		return BigInt{new(big.Int)}
	}
	return BigInt{n}
}

// ParseBigInt parses a decimal string into a BigInt.
func ParseBigInt(s string) (BigInt, error) {
	if s == "" {
		return BigInt{new(big.Int)}, nil
	}
	n, ok := new(big.Int).SetString(s, 10)
	if !ok {
		return BigInt{}, errors.Errorf("ledger: %q is not a valid base-10 integer", s)
	}
	return BigInt{n}, nil
}

func (b BigInt) MarshalJSON() ([]byte, error) {
	if b.Int == nil {
		return json.Marshal("0")
	}
	return json.Marshal(b.Int.String())
}

func (b *BigInt) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return errors.Wrap(err, "ledger: balance field must be a decimal string")
	}
	parsed, err := ParseBigInt(s)
	if err != nil {
		return err
	}
	*b = parsed
	return nil
}
