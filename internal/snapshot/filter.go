package snapshot

// Filter selects which asset dimensions a query or comparison should
// touch. It is the "(account, filter)" immutable handle spec.md §9
// recommends bundling to stop the recursive filter parameter from being
// silently dropped at a leaf call: every C1 call and every C3 recursion
// level takes one of these instead of separate booleans/slices, and
// there is exactly one construction site per top-level search so there's
// nowhere for a leaf helper to "forget" to forward it.
type Filter struct {
	Native bool

	// FungibleTokens/IntentsTokens are explicit asset lists to query, as
	// explicit keys even if zero. A nil IntentsTokens combined with
	// DiscoverIntents means "enumerate"; Reader reads fungible-token
	// balances only for the contracts listed in FungibleTokens.
	FungibleTokens []string
	IntentsTokens  []string

	// DiscoverIntents requests enumeration of the account's intents
	// positions at query time rather than an explicit list, spec.md
	// §4.1. Reader has no fungible-token enumeration and does not act on
	// DiscoverFT; Equal uses DiscoverFT to compare every FT key present
	// on either snapshot.
	DiscoverFT      bool
	DiscoverIntents bool

	StakingPools []string
}

// IsEmpty reports whether the filter requests nothing at all.
func (f Filter) IsEmpty() bool {
	return !f.Native && !f.DiscoverFT && !f.DiscoverIntents &&
		len(f.FungibleTokens) == 0 && len(f.IntentsTokens) == 0 && len(f.StakingPools) == 0
}

// Only returns a filter restricted to a single asset.
func Only(a AssetID) Filter {
	switch a.Kind {
	case Native:
		return Filter{Native: true}
	case FungibleToken:
		return Filter{FungibleTokens: []string{a.String()}}
	case MultiToken:
		return Filter{IntentsTokens: []string{a.String()}}
	case StakedWith:
		return Filter{StakingPools: []string{a.Pool}}
	default:
		return Filter{}
	}
}

// Merge returns the union of f and other.
func (f Filter) Merge(other Filter) Filter {
	out := f
	out.Native = f.Native || other.Native
	out.DiscoverFT = f.DiscoverFT || other.DiscoverFT
	out.DiscoverIntents = f.DiscoverIntents || other.DiscoverIntents
	out.FungibleTokens = unionStrings(f.FungibleTokens, other.FungibleTokens)
	out.IntentsTokens = unionStrings(f.IntentsTokens, other.IntentsTokens)
	out.StakingPools = unionStrings(f.StakingPools, other.StakingPools)
	return out
}

func unionStrings(a, b []string) []string {
	if len(a) == 0 && len(b) == 0 {
		return nil
	}
	seen := map[string]struct{}{}
	out := make([]string, 0, len(a)+len(b))
	for _, s := range append(append([]string{}, a...), b...) {
		if _, ok := seen[s]; ok {
			continue
		}
		seen[s] = struct{}{}
		out = append(out, s)
	}
	return out
}
