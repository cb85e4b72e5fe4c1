package ledger

import (
	"math/big"

	"github.com/petersalomonsen/near-ledger-reconciler/internal/bignum"
	domainsnap "github.com/petersalomonsen/near-ledger-reconciler/internal/snapshot"
	domaintransfer "github.com/petersalomonsen/near-ledger-reconciler/internal/transfer"
)

// SnapshotFromDomain converts the in-memory query result into its wire
// form. Native is only populated when the domain snapshot actually
// queried it, preserving the "absent means unknown" invariant up to the
// point Normalize is applied (see NormalizeWire).
func SnapshotFromDomain(s *domainsnap.Snapshot) Snapshot {
	out := Snapshot{
		FungibleTokens: map[string]BigInt{},
		IntentsTokens:  map[string]BigInt{},
		StakingPools:   map[string]BigInt{},
	}
	if s.Native != nil {
		b := NewBigInt(s.Native)
		out.Native = &b
	}
	for k, v := range s.FungibleTokens {
		out.FungibleTokens[k] = NewBigInt(v)
	}
	for k, v := range s.IntentsTokens {
		out.IntentsTokens[k] = NewBigInt(v)
	}
	for k, v := range s.StakingPools {
		out.StakingPools[k] = NewBigInt(v)
	}
	return out
}

// NormalizeWire applies spec.md §3's normalization invariant directly on
// the wire-level Snapshot pair (used once a TransactionEntry's before/after
// are about to be persisted).
func NormalizeWire(a, b *Snapshot) {
	if a.Native != nil && b.Native == nil {
		zero := NewBigInt(nil)
		b.Native = &zero
	}
	if b.Native != nil && a.Native == nil {
		zero := NewBigInt(nil)
		a.Native = &zero
	}
	normalizeDimension(a.FungibleTokens, b.FungibleTokens)
	normalizeDimension(a.IntentsTokens, b.IntentsTokens)
	normalizeDimension(a.StakingPools, b.StakingPools)
}

func normalizeDimension(a, b map[string]BigInt) {
	for k := range a {
		if _, ok := b[k]; !ok {
			b[k] = NewBigInt(nil)
		}
	}
	for k := range b {
		if _, ok := a[k]; !ok {
			a[k] = NewBigInt(nil)
		}
	}
}

// ChangesFromDomain converts a snapshot.Change into its wire form.
func ChangesFromDomain(c domainsnap.Change) Changes {
	out := Changes{
		NearChanged:    c.NativeChanged,
		TokensChanged:  map[string]AssetDelta{},
		IntentsChanged: map[string]AssetDelta{},
		StakingChanged: map[string]AssetDelta{},
	}
	if c.NativeChanged {
		d := deltaFromDomain(c.Native)
		out.NearDiff = &d.Diff
	}
	for k, v := range c.TokensChanged {
		out.TokensChanged[k] = deltaFromDomain(v)
	}
	for k, v := range c.IntentsChanged {
		out.IntentsChanged[k] = deltaFromDomain(v)
	}
	for k, v := range c.StakingChanged {
		out.StakingChanged[k] = deltaFromDomain(v)
	}
	return out
}

func deltaFromDomain(d domainsnap.AssetDelta) AssetDelta {
	return AssetDelta{Start: NewBigInt(d.Start), End: NewBigInt(d.End), Diff: NewBigInt(d.Diff)}
}

// TransferFromDomain converts a transfer.Detail into its wire form.
func TransferFromDomain(d domaintransfer.Detail) TransferDetail {
	return TransferDetail{
		Type:         string(d.Type),
		Direction:    string(d.Direction),
		Amount:       NewBigInt(d.Amount),
		Counterparty: d.Counterparty,
		TokenID:      d.TokenID,
		Memo:         d.Memo,
		TxHash:       d.TxHash,
		ReceiptID:    d.ReceiptID,
	}
}

// TransfersFromDomain converts a slice, preserving nil vs. empty.
func TransfersFromDomain(details []domaintransfer.Detail) []TransferDetail {
	if details == nil {
		return nil
	}
	out := make([]TransferDetail, 0, len(details))
	for _, d := range details {
		out = append(out, TransferFromDomain(d))
	}
	return out
}

// AsBigIntOrZero returns n's value, treating a nil pointer as zero.
func AsBigIntOrZero(n *BigInt) *big.Int {
	if n == nil || n.Int == nil {
		return bignum.Zero()
	}
	return n.Int
}
