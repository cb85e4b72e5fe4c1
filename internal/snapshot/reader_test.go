package snapshot

import (
	"math/big"
	"testing"

	"github.com/petersalomonsen/near-ledger-reconciler/internal/bignum"
	"github.com/petersalomonsen/near-ledger-reconciler/internal/chain"
)

type fakeRPC struct {
	nativeCalls int
	native      map[uint64]*big.Int
	ftCalls     int
	missing     map[uint64]bool
	absent      map[uint64]bool
}

func (f *fakeRPC) ViewNativeBalance(account string, block uint64) (*big.Int, error) {
	f.nativeCalls++
	if f.missing[block] {
		return nil, &chain.MissingBlockError{Block: block}
	}
	if f.absent[block] {
		return nil, &chain.AccountAbsentError{Account: account, Block: block}
	}
	if n, ok := f.native[block]; ok {
		return n, nil
	}
	return new(big.Int), nil
}

func (f *fakeRPC) ViewFTBalance(account, contract string, block uint64) (*big.Int, error) {
	f.ftCalls++
	return bignum.MustParse("42"), nil
}
func (f *fakeRPC) ViewIntentsBalances(account string, assetIDs []string, block uint64) (map[string]*big.Int, error) {
	out := map[string]*big.Int{}
	for _, id := range assetIDs {
		out[id] = bignum.MustParse("7")
	}
	return out, nil
}
func (f *fakeRPC) DiscoverIntentsPositions(account string, block uint64) (map[string]*big.Int, error) {
	return map[string]*big.Int{"nep141:eth.omft.near": bignum.MustParse("5")}, nil
}
func (f *fakeRPC) ViewStakedBalance(account, pool string, block uint64) (*big.Int, error) {
	return bignum.MustParse("1000"), nil
}
func (f *fakeRPC) AccountExists(account string, block uint64) (bool, error) { return true, nil }

func TestReaderCachesRepeatedReads(t *testing.T) {
	rpc := &fakeRPC{native: map[uint64]*big.Int{100: bignum.MustParse("5")}}
	r := NewReader(rpc, nil, nil, 100)

	for i := 0; i < 3; i++ {
		snap, err := r.Read("acct.near", 100, Filter{Native: true})
		if err != nil {
			t.Fatal(err)
		}
		if bignum.String(snap.Native) != "5" {
			t.Fatalf("got %s", bignum.String(snap.Native))
		}
	}
	if rpc.nativeCalls != 1 {
		t.Fatalf("expected exactly one RPC call due to memoisation, got %d", rpc.nativeCalls)
	}
}

func TestReaderPropagatesMissingBlockUncached(t *testing.T) {
	rpc := &fakeRPC{missing: map[uint64]bool{50: true}}
	r := NewReader(rpc, nil, nil, 100)

	_, err := r.Read("acct.near", 50, Filter{Native: true})
	var missing *chain.MissingBlockError
	if err == nil {
		t.Fatal("expected MissingBlockError")
	}
	if !asMissing(err, &missing) {
		t.Fatalf("expected MissingBlockError, got %v", err)
	}

	if _, err := r.Read("acct.near", 50, Filter{Native: true}); err == nil {
		t.Fatal("expected MissingBlockError on the second read too")
	}
	if rpc.nativeCalls != 2 {
		t.Fatalf("expected the missing block to be re-queried rather than served from cache, got %d RPC calls", rpc.nativeCalls)
	}
}

func asMissing(err error, target **chain.MissingBlockError) bool {
	for err != nil {
		if m, ok := err.(*chain.MissingBlockError); ok {
			*target = m
			return true
		}
		u, ok := err.(interface{ Unwrap() error })
		if !ok {
			return false
		}
		err = u.Unwrap()
	}
	return false
}

func TestReaderDiscoverIntents(t *testing.T) {
	rpc := &fakeRPC{}
	r := NewReader(rpc, nil, nil, 100)
	snap, err := r.Read("acct.near", 10, Filter{DiscoverIntents: true})
	if err != nil {
		t.Fatal(err)
	}
	if _, ok := snap.IntentsTokens["nep141:eth.omft.near"]; !ok {
		t.Fatalf("expected discovered position, got %+v", snap.IntentsTokens)
	}
}
