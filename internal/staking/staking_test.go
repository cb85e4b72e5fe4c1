package staking

import (
	"math/big"
	"testing"

	"github.com/petersalomonsen/near-ledger-reconciler/internal/bignum"
	"github.com/petersalomonsen/near-ledger-reconciler/internal/ledger"
)

type fakeRPC struct {
	balances map[string]map[uint64]*big.Int // pool -> block -> balance
}

func (f *fakeRPC) ViewStakedBalance(account, pool string, block uint64) (*big.Int, error) {
	byBlock, ok := f.balances[pool]
	if !ok {
		return bignum.Zero(), nil
	}
	if b, ok := byBlock[block]; ok {
		return b, nil
	}
	// hold the most recent known value forward, like a real balance would.
	var latest *big.Int = bignum.Zero()
	var latestBlock uint64
	for bl, bal := range byBlock {
		if bl <= block && bl >= latestBlock {
			latestBlock = bl
			latest = bal
		}
	}
	return latest, nil
}

func withTransfer(block uint64, counterparty, memo string) ledger.TransactionEntry {
	e := ledger.TransactionEntry{Block: block}
	e.SetTransfers([]ledger.TransferDetail{{
		Type: "staking_reward", Direction: "out", Counterparty: counterparty, Memo: memo,
		Amount: ledger.NewBigInt(bignum.MustParse("1000")),
	}})
	return e
}

func TestDiscoverPoolsBySuffix(t *testing.T) {
	entries := []ledger.TransactionEntry{
		withTransfer(100, "legends.poolv1.near", "deposit_and_stake"),
		withTransfer(200, "legends.poolv1.near", "unstake"),
		withTransfer(300, "other.near", ""),
	}
	pools := DiscoverPools(entries)
	if len(pools) != 1 || pools[0] != "legends.poolv1.near" {
		t.Fatalf("got %v", pools)
	}
}

func TestActiveRangeTracksFirstAndLast(t *testing.T) {
	rpc := &fakeRPC{balances: map[string]map[uint64]*big.Int{
		"legends.poolv1.near": {},
	}}
	o := New(rpc, nil, nil, 0)
	entries := []ledger.TransactionEntry{
		withTransfer(100, "legends.poolv1.near", "deposit_and_stake"),
		withTransfer(500, "legends.poolv1.near", "deposit_and_stake"),
	}
	first, last, found, err := o.ActiveRange("acct.near", "legends.poolv1.near", entries)
	if err != nil {
		t.Fatal(err)
	}
	if !found || first != 100 || last != 500 {
		t.Fatalf("got first=%d last=%d found=%v", first, last, found)
	}
}

func TestActiveRangeNotFoundForUnrelatedPool(t *testing.T) {
	rpc := &fakeRPC{balances: map[string]map[uint64]*big.Int{}}
	o := New(rpc, nil, nil, 0)
	entries := []ledger.TransactionEntry{withTransfer(100, "other.poolv1.near", "deposit_and_stake")}
	_, _, found, err := o.ActiveRange("acct.near", "legends.poolv1.near", entries)
	if err != nil {
		t.Fatal(err)
	}
	if found {
		t.Fatal("expected not found")
	}
}

func TestEnumerateRewardsDetectsEpochGrowth(t *testing.T) {
	rpc := &fakeRPC{balances: map[string]map[uint64]*big.Int{
		"legends.poolv1.near": {
			100:                  bignum.MustParse("1000"),
			100 + EpochLength:    bignum.MustParse("1005"), // reward accrued
			100 + 2*EpochLength:  bignum.MustParse("1005"), // no change second epoch
		},
	}}
	o := New(rpc, nil, nil, 0)
	rewards, err := o.EnumerateRewards("acct.near", "legends.poolv1.near", 100, 100+2*EpochLength, nil)
	if err != nil {
		t.Fatal(err)
	}
	if len(rewards) != 1 {
		t.Fatalf("expected exactly one reward, got %+v", rewards)
	}
	if rewards[0].Block != 100+EpochLength {
		t.Fatalf("got block %d", rewards[0].Block)
	}
	if rewards[0].Diff.String() != "5" {
		t.Fatalf("got diff %s", rewards[0].Diff.String())
	}
}

func TestEnumerateRewardsSkipsKnownDiff(t *testing.T) {
	boundary := uint64(100 + EpochLength)
	rpc := &fakeRPC{balances: map[string]map[uint64]*big.Int{
		"legends.poolv1.near": {
			100:      bignum.MustParse("1000"),
			boundary: bignum.MustParse("2000"), // large jump, but it's an explicit deposit already in history
		},
	}}
	o := New(rpc, nil, nil, 0)
	known := map[uint64]*big.Int{boundary: bignum.MustParse("1000")}
	rewards, err := o.EnumerateRewards("acct.near", "legends.poolv1.near", 100, boundary, known)
	if err != nil {
		t.Fatal(err)
	}
	if len(rewards) != 0 {
		t.Fatalf("expected no synthetic rewards for an already-explained diff, got %+v", rewards)
	}
}

func TestEnrichSetsBeforeAndAfterAtOffsetBlock(t *testing.T) {
	rpc := &fakeRPC{balances: map[string]map[uint64]*big.Int{
		"legends.poolv1.near": {
			100: bignum.MustParse("0"),
			101: bignum.MustParse("1000"),
		},
	}}
	o := New(rpc, nil, nil, 0)
	e := withTransfer(100, "legends.poolv1.near", "deposit_and_stake")
	if err := o.Enrich("acct.near", &e); err != nil {
		t.Fatal(err)
	}
	before := e.BalanceBefore.StakingPools["legends.poolv1.near"]
	after := e.BalanceAfter.StakingPools["legends.poolv1.near"]
	if before.String() != "0" || after.String() != "1000" {
		t.Fatalf("got before=%s after=%s", before.String(), after.String())
	}
}
