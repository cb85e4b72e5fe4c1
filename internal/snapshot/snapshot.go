package snapshot

import "math/big"

// Snapshot is the immutable point-in-time balance record of spec.md §3.
// A key's presence in one of the maps means "this asset was queried at
// this block"; absence means unknown, never zero. Native is a pointer so
// that "native not requested" (nil) is distinguishable from "native is
// zero" (non-nil, zero value).
type Snapshot struct {
	Account        string
	Block          uint64
	Native         *big.Int
	FungibleTokens map[string]*big.Int
	IntentsTokens  map[string]*big.Int
	StakingPools   map[string]*big.Int
}

// New returns an empty snapshot for account at block, with no asset
// dimension populated yet. Callers fill in dimensions directly, matching
// the explicit-query-only invariant.
func New(account string, block uint64) *Snapshot {
	return &Snapshot{
		Account:        account,
		Block:          block,
		FungibleTokens: map[string]*big.Int{},
		IntentsTokens:  map[string]*big.Int{},
		StakingPools:   map[string]*big.Int{},
	}
}

// Clone performs a deep copy so callers may hand out a Snapshot without
// the receiver being able to mutate the cached original.
func (s *Snapshot) Clone() *Snapshot {
	out := New(s.Account, s.Block)
	if s.Native != nil {
		out.Native = new(big.Int).Set(s.Native)
	}
	copyMap := func(dst, src map[string]*big.Int) {
		for k, v := range src {
			dst[k] = new(big.Int).Set(v)
		}
	}
	copyMap(out.FungibleTokens, s.FungibleTokens)
	copyMap(out.IntentsTokens, s.IntentsTokens)
	copyMap(out.StakingPools, s.StakingPools)
	return out
}

// dimension returns the map holding the keys of the given asset kind
// (FungibleTokens, IntentsTokens or StakingPools), used by Normalize.
func (s *Snapshot) dimension(kind AssetKind) map[string]*big.Int {
	switch kind {
	case FungibleToken:
		return s.FungibleTokens
	case MultiToken:
		return s.IntentsTokens
	case StakedWith:
		return s.StakingPools
	default:
		return nil
	}
}

// Normalize mutates a and b in place so that fungible-token, intents and
// staking key sets are identical on both sides, filling the missing side
// with "0" per spec.md §3's normalization invariant. Native is normalized
// too: if either side queried native and the other didn't, the other is
// filled with zero. This is a persistence-time operation only — change
// detection (Diff) already treats missing keys as zero without mutating
// anything, per spec.md §9's note that snapshot identity must not be
// conflated with persisted normalization.
func Normalize(a, b *Snapshot) {
	if a.Native != nil && b.Native == nil {
		b.Native = new(big.Int)
	}
	if b.Native != nil && a.Native == nil {
		a.Native = new(big.Int)
	}
	for _, kind := range []AssetKind{FungibleToken, MultiToken, StakedWith} {
		da, db := a.dimension(kind), b.dimension(kind)
		for k := range da {
			if _, ok := db[k]; !ok {
				db[k] = new(big.Int)
			}
		}
		for k := range db {
			if _, ok := da[k]; !ok {
				da[k] = new(big.Int)
			}
		}
	}
}
