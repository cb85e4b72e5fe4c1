package snapshot

import (
	"math/big"
	"testing"

	"github.com/petersalomonsen/near-ledger-reconciler/internal/bignum"
)

func TestDiffTreatsMissingKeysAsZero(t *testing.T) {
	before := New("acct", 10)
	before.FungibleTokens["a.near"] = bignum.MustParse("100")

	after := New("acct", 11)
	after.FungibleTokens["b.near"] = bignum.MustParse("50")

	c := Diff(before, after)
	if !c.HasChanges {
		t.Fatal("expected HasChanges true")
	}
	if d, ok := c.TokensChanged["a.near"]; !ok || bignum.String(d.Diff) != "-100" {
		t.Fatalf("a.near delta = %+v", d)
	}
	if d, ok := c.TokensChanged["b.near"]; !ok || bignum.String(d.Diff) != "50" {
		t.Fatalf("b.near delta = %+v", d)
	}
}

func TestDiffNoChanges(t *testing.T) {
	before := New("acct", 10)
	before.Native = bignum.MustParse("1000")
	after := New("acct", 11)
	after.Native = bignum.MustParse("1000")

	c := Diff(before, after)
	if c.HasChanges {
		t.Fatalf("expected no changes, got %+v", c)
	}
}

func TestNormalizeFillsMissingKeysWithZero(t *testing.T) {
	before := New("acct", 10)
	before.StakingPools["pool-a.poolv1.near"] = bignum.MustParse("500")

	after := New("acct", 11)
	for _, p := range []string{"pool-a.poolv1.near", "pool-b.poolv1.near", "pool-c.poolv1.near"} {
		after.StakingPools[p] = new(big.Int)
	}
	after.StakingPools["pool-a.poolv1.near"] = bignum.MustParse("500")

	Normalize(before, after)

	if len(before.StakingPools) != len(after.StakingPools) {
		t.Fatalf("key sets not normalized: before=%d after=%d", len(before.StakingPools), len(after.StakingPools))
	}
	if bignum.String(before.StakingPools["pool-a.poolv1.near"]) != "500" {
		t.Fatal("original key's value must be preserved by Normalize")
	}
	if bignum.String(before.StakingPools["pool-b.poolv1.near"]) != "0" {
		t.Fatal("added keys must be zero")
	}
}

func TestEqualUnderFilter(t *testing.T) {
	a := New("acct", 1)
	a.Native = bignum.MustParse("10")
	b := New("acct", 2)
	b.Native = bignum.MustParse("10")

	if !Equal(a, b, Filter{Native: true}) {
		t.Fatal("expected equal under native filter")
	}

	b.Native = bignum.MustParse("11")
	if Equal(a, b, Filter{Native: true}) {
		t.Fatal("expected unequal after mutation")
	}
}

func TestAssetIDStringRoundTrip(t *testing.T) {
	cases := []AssetID{
		NewNative(),
		NewFT("wrap.near"),
		NewMT("nep141", "eth.omft.near", ""),
		NewMT("nep245", "intents.near", "sub-1"),
	}
	for _, c := range cases {
		s := c.String()
		got := ParseAssetID(s)
		if got.String() != s {
			t.Fatalf("round trip mismatch for %q: got %q", s, got.String())
		}
	}
}
