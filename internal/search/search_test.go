package search

import (
	"math/big"
	"testing"

	"github.com/pkg/errors"

	"github.com/petersalomonsen/near-ledger-reconciler/internal/bignum"
	"github.com/petersalomonsen/near-ledger-reconciler/internal/chain"
	"github.com/petersalomonsen/near-ledger-reconciler/internal/snapshot"
)

// fakeReader simulates a step function: balance is 0 before changeBlock,
// newValue at and after. missingBlocks are reported as MissingBlockError.
type fakeReader struct {
	changeBlock   uint64
	newValue      *big.Int
	missingBlocks map[uint64]int // block -> remaining times to report missing
	absentBefore  uint64
	reads         []uint64
}

func (f *fakeReader) Read(account string, block uint64, filter snapshot.Filter) (*snapshot.Snapshot, error) {
	f.reads = append(f.reads, block)
	if f.absentBefore > 0 && block < f.absentBefore {
		return nil, &chain.AccountAbsentError{Account: account, Block: block}
	}
	if n, ok := f.missingBlocks[block]; ok && n > 0 {
		f.missingBlocks[block] = n - 1
		return nil, &chain.MissingBlockError{Block: block}
	}
	snap := snapshot.New(account, block)
	if block >= f.changeBlock {
		snap.Native = new(big.Int).Set(f.newValue)
	} else {
		snap.Native = new(big.Int)
	}
	return snap, nil
}

func TestFindLatestChangeBasic(t *testing.T) {
	r := &fakeReader{changeBlock: 148439687, newValue: bignum.MustParse("5000000000000000")}
	e := New(r, nil, nil, 3)

	loc, err := e.FindLatestChange("acct.near", 148407793, 148586609, snapshot.Filter{Native: true})
	if err != nil {
		t.Fatal(err)
	}
	if !loc.HasChanges || loc.Block != 148439687 {
		t.Fatalf("got %+v", loc)
	}
	if bignum.String(loc.Change.Native.Start) != "0" || bignum.String(loc.Change.Native.End) != "5000000000000000" {
		t.Fatalf("unexpected change: %+v", loc.Change.Native)
	}
}

func TestFindLatestChangeNoChanges(t *testing.T) {
	r := &fakeReader{changeBlock: 1 << 40, newValue: bignum.MustParse("1")}
	e := New(r, nil, nil, 3)

	loc, err := e.FindLatestChange("acct.near", 100, 200, snapshot.Filter{Native: true})
	if err != nil {
		t.Fatal(err)
	}
	if loc.HasChanges {
		t.Fatalf("expected no changes, got %+v", loc)
	}
}

func TestFindLatestChangeLeafInterval(t *testing.T) {
	r := &fakeReader{changeBlock: 11, newValue: bignum.MustParse("1")}
	e := New(r, nil, nil, 3)

	loc, err := e.FindLatestChange("acct.near", 10, 11, snapshot.Filter{Native: true})
	if err != nil {
		t.Fatal(err)
	}
	if !loc.HasChanges || loc.Block != 11 {
		t.Fatalf("got %+v", loc)
	}
}

func TestFindLatestChangeMissingBlockRetriesForward(t *testing.T) {
	r := &fakeReader{
		changeBlock:   150,
		newValue:      bignum.MustParse("9"),
		missingBlocks: map[uint64]int{150: 1}, // first read of 150 (the midpoint) is missing, succeeds on retry
	}
	e := New(r, nil, nil, 3)

	loc, err := e.FindLatestChange("acct.near", 100, 200, snapshot.Filter{Native: true})
	if err != nil {
		t.Fatal(err)
	}
	if !loc.HasChanges {
		t.Fatalf("expected a change to be found despite transient missing block, got %+v", loc)
	}
}

func TestFindLatestChangeAbandonsPersistentlyMissingInterval(t *testing.T) {
	r := &fakeReader{
		changeBlock:   150,
		newValue:      bignum.MustParse("9"),
		missingBlocks: map[uint64]int{150: 10, 151: 10, 152: 10, 153: 10},
	}
	e := New(r, nil, nil, 3)

	loc, err := e.FindLatestChange("acct.near", 100, 200, snapshot.Filter{Native: true})
	if err != nil {
		t.Fatal(err)
	}
	if loc.HasChanges {
		t.Fatal("expected the interval to be abandoned with no changes reported")
	}
	if !loc.Skipped {
		t.Fatal("expected Skipped to be set")
	}
}

func TestFindLatestChangePropagatesAccountAbsent(t *testing.T) {
	r := &fakeReader{absentBefore: 50, changeBlock: 1000, newValue: bignum.MustParse("1")}
	e := New(r, nil, nil, 3)

	_, err := e.FindLatestChange("acct.near", 10, 100, snapshot.Filter{Native: true})
	var absent *chain.AccountAbsentError
	if !errors.As(err, &absent) {
		t.Fatalf("expected AccountAbsentError, got %v", err)
	}
}
