// Package snapshot implements the Balance Snapshot Reader (C1) and Change
// Detector (C2) described in spec.md §4.1-4.2: point-in-time balance
// queries across native, fungible-token, intents and staking dimensions,
// plus the pure structural diff between two snapshots.
package snapshot

import (
	"fmt"
	"sort"
	"strings"
)

// AssetKind tags the union described in spec.md §3.
type AssetKind int

const (
	Native AssetKind = iota
	FungibleToken
	MultiToken
	StakedWith
)

func (k AssetKind) String() string {
	switch k {
	case Native:
		return "native"
	case FungibleToken:
		return "ft"
	case MultiToken:
		return "mt"
	case StakedWith:
		return "staking"
	default:
		return "unknown"
	}
}

// MultiToken prefixes, spec.md §3.
const (
	PrefixNEP141 = "nep141"
	PrefixNEP245 = "nep245"
)

// AssetID is the tagged-union asset identifier of spec.md §3. The zero
// value is the Native asset.
type AssetID struct {
	Kind     AssetKind
	Contract string // FungibleToken contract id, or MultiToken prefix's contract id
	Prefix   string // MultiToken prefix: nep141 or nep245
	SubID    string // MultiToken sub-id, optional
	Pool     string // StakedWith pool id
}

// NewNative returns the canonical native-asset identifier.
func NewNative() AssetID { return AssetID{Kind: Native} }

// NewFT returns a fungible-token asset identifier.
func NewFT(contract string) AssetID {
	return AssetID{Kind: FungibleToken, Contract: contract}
}

// NewMT returns a multi-token (intents) asset identifier. subID may be
// empty for nep141-backed intents positions, which carry no sub id.
func NewMT(prefix, contract, subID string) AssetID {
	return AssetID{Kind: MultiToken, Prefix: prefix, Contract: contract, SubID: subID}
}

// NewStaking returns a staking-pool asset identifier.
func NewStaking(pool string) AssetID {
	return AssetID{Kind: StakedWith, Pool: pool}
}

// String renders the canonical string form used as a map key, matching
// the wire vocabulary spec.md §3/§4.5 uses directly: "near",
// "<contract>", "nep141:<contract>", "nep245:<contract>:<subID>",
// "<pool>".
func (a AssetID) String() string {
	switch a.Kind {
	case Native:
		return "near"
	case FungibleToken:
		return a.Contract
	case MultiToken:
		if a.SubID != "" {
			return fmt.Sprintf("%s:%s:%s", a.Prefix, a.Contract, a.SubID)
		}
		return fmt.Sprintf("%s:%s", a.Prefix, a.Contract)
	case StakedWith:
		return a.Pool
	default:
		return ""
	}
}

// ParseAssetID inverts AssetID.String for the Native ("near"),
// MultiToken and FungibleToken forms (StakedWith is context-dependent:
// a pool id parses as a FungibleToken, since the string alone does not
// say which map the key came from; callers that need that distinction
// track it structurally instead, see Snapshot).
func ParseAssetID(s string) AssetID {
	if s == "near" {
		return NewNative()
	}
	if strings.HasPrefix(s, PrefixNEP141+":") || strings.HasPrefix(s, PrefixNEP245+":") {
		parts := strings.SplitN(s, ":", 3)
		prefix := parts[0]
		contract := ""
		subID := ""
		if len(parts) > 1 {
			contract = parts[1]
		}
		if len(parts) > 2 {
			subID = parts[2]
		}
		return NewMT(prefix, contract, subID)
	}
	return NewFT(s)
}

// sortedKeys returns the keys of m in ascending order, for deterministic
// iteration (JSON field order, log output, test expectations).
func sortedKeys(m map[string]struct{}) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}
