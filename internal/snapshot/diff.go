package snapshot

import (
	"math/big"

	"github.com/petersalomonsen/near-ledger-reconciler/internal/bignum"
)

// AssetDelta is the per-asset {start, end, diff} triple of spec.md §3.
type AssetDelta struct {
	Start *big.Int
	End   *big.Int
	Diff  *big.Int
}

// Change is the structured delta between two snapshots over the same
// key-set, spec.md §3/§4.2. Change Detector (C2) is a pure function: no
// I/O, no mutation of its inputs.
type Change struct {
	NativeChanged  bool
	Native         AssetDelta
	TokensChanged  map[string]AssetDelta
	IntentsChanged map[string]AssetDelta
	StakingChanged map[string]AssetDelta
	HasChanges     bool
}

// Diff computes the Change between before and after. Missing keys in
// either side are treated as "0" for the purpose of the diff only, per
// spec.md §4.2 — this never mutates before/after, unlike Normalize.
func Diff(before, after *Snapshot) Change {
	c := Change{
		TokensChanged:  map[string]AssetDelta{},
		IntentsChanged: map[string]AssetDelta{},
		StakingChanged: map[string]AssetDelta{},
	}

	if before.Native != nil || after.Native != nil {
		d := delta(before.Native, after.Native)
		if !bignum.IsZero(d.Diff) {
			c.NativeChanged = true
			c.HasChanges = true
		}
		c.Native = d
	}

	diffDimension(before.FungibleTokens, after.FungibleTokens, c.TokensChanged, &c.HasChanges)
	diffDimension(before.IntentsTokens, after.IntentsTokens, c.IntentsChanged, &c.HasChanges)
	diffDimension(before.StakingPools, after.StakingPools, c.StakingChanged, &c.HasChanges)

	return c
}

func diffDimension(before, after map[string]*big.Int, out map[string]AssetDelta, hasChanges *bool) {
	seen := map[string]struct{}{}
	for k := range before {
		seen[k] = struct{}{}
	}
	for k := range after {
		seen[k] = struct{}{}
	}
	for _, k := range sortedKeys(seen) {
		d := delta(before[k], after[k])
		if !bignum.IsZero(d.Diff) {
			out[k] = d
			*hasChanges = true
		}
	}
}

func delta(before, after *big.Int) AssetDelta {
	start := zeroIfNil(before)
	end := zeroIfNil(after)
	return AssetDelta{Start: start, End: end, Diff: bignum.Sub(end, start)}
}

func zeroIfNil(n *big.Int) *big.Int {
	if n == nil {
		return bignum.Zero()
	}
	return n
}

// Equal reports structural equality between two snapshots restricted to
// the given asset filter, used by the Search Engine's bisection compare
// step (spec.md §4.3 step 1/4). Equality ignores map key-insertion order
// and treats a missing key as "0", mirroring Diff's semantics — but,
// per spec.md §9, this must never be used for persistence decisions,
// only for "did anything change" bisection control flow.
func Equal(a, b *Snapshot, filter Filter) bool {
	if filter.Native && !bignum.Equal(a.Native, b.Native) {
		return false
	}
	for _, k := range filter.FungibleTokens {
		if !bignum.Equal(a.FungibleTokens[k], b.FungibleTokens[k]) {
			return false
		}
	}
	for _, k := range filter.IntentsTokens {
		if !bignum.Equal(a.IntentsTokens[k], b.IntentsTokens[k]) {
			return false
		}
	}
	for _, k := range filter.StakingPools {
		if !bignum.Equal(a.StakingPools[k], b.StakingPools[k]) {
			return false
		}
	}
	if filter.DiscoverFT {
		if !mapKeysAndValuesEqual(a.FungibleTokens, b.FungibleTokens) {
			return false
		}
	}
	if filter.DiscoverIntents {
		if !mapKeysAndValuesEqual(a.IntentsTokens, b.IntentsTokens) {
			return false
		}
	}
	return true
}

func mapKeysAndValuesEqual(a, b map[string]*big.Int) bool {
	seen := map[string]struct{}{}
	for k := range a {
		seen[k] = struct{}{}
	}
	for k := range b {
		seen[k] = struct{}{}
	}
	for k := range seen {
		if !bignum.Equal(a[k], b[k]) {
			return false
		}
	}
	return true
}
