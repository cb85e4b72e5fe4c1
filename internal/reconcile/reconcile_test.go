package reconcile

import (
	"testing"

	"github.com/petersalomonsen/near-ledger-reconciler/internal/bignum"
	"github.com/petersalomonsen/near-ledger-reconciler/internal/ledger"
)

func entryWithNear(block uint64, before, after string) ledger.TransactionEntry {
	b := ledger.NewBigInt(bignum.MustParse(before))
	a := ledger.NewBigInt(bignum.MustParse(after))
	return ledger.TransactionEntry{
		Block:             block,
		TransactionHashes: []string{"tx"},
		BalanceBefore:     ledger.Snapshot{Native: &b},
		BalanceAfter:      ledger.Snapshot{Native: &a},
		Changes:           ledger.Changes{NearChanged: true},
	}
}

func TestIsSyntheticDistinguishesStakingRewardEntries(t *testing.T) {
	real := entryWithNear(100, "0", "1000")
	if isSynthetic(real) {
		t.Fatal("expected real entry to not be synthetic")
	}

	reward := ledger.TransactionEntry{TransactionHashes: []string{}}
	reward.SetTransfers([]ledger.TransferDetail{{Type: "staking_reward", Counterparty: "pool.poolv1.near"}})
	if !isSynthetic(reward) {
		t.Fatal("expected synthetic staking reward entry to be recognised")
	}
}

func TestInsertSortedMaintainsOrder(t *testing.T) {
	entries := []ledger.TransactionEntry{{Block: 100}, {Block: 300}}
	entries = insertSorted(entries, ledger.TransactionEntry{Block: 200})
	if len(entries) != 3 || entries[0].Block != 100 || entries[1].Block != 200 || entries[2].Block != 300 {
		t.Fatalf("got %+v", entries)
	}
}

func TestInsertSortedReplacesExistingBlock(t *testing.T) {
	entries := []ledger.TransactionEntry{{Block: 100, TransactionHashes: []string{"a"}}}
	entries = insertSorted(entries, ledger.TransactionEntry{Block: 100, TransactionHashes: []string{"b"}})
	if len(entries) != 1 || entries[0].TransactionHashes[0] != "b" {
		t.Fatalf("got %+v", entries)
	}
}

func TestRefreshVerificationsFlagsMismatch(t *testing.T) {
	h := &ledger.History{Transactions: []ledger.TransactionEntry{
		entryWithNear(100, "0", "1000"),
		entryWithNear(200, "2000", "3000"), // 2000 != 1000: gap
	}}
	refreshVerifications(h)
	if h.Transactions[0].VerificationWithNext == nil || h.Transactions[0].VerificationWithNext.Valid {
		t.Fatal("expected invalid verification between mismatched entries")
	}
	if len(h.Transactions[0].VerificationWithNext.MismatchedAssets) != 1 {
		t.Fatalf("got %+v", h.Transactions[0].VerificationWithNext)
	}
}

func TestRefreshVerificationsValidWhenConnected(t *testing.T) {
	h := &ledger.History{Transactions: []ledger.TransactionEntry{
		entryWithNear(100, "0", "1000"),
		entryWithNear(200, "1000", "3000"),
	}}
	refreshVerifications(h)
	if !h.Transactions[0].VerificationWithNext.Valid {
		t.Fatal("expected valid verification")
	}
	if !h.Transactions[1].VerificationWithPrevious.Valid {
		t.Fatal("expected valid verification on the other side too")
	}
}
