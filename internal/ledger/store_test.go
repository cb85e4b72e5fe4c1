package ledger

import (
	"encoding/json"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
)

func TestSaveLoadRoundTrip(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "history.json")

	h := New("webassemblymusic-treasury.sputnik-dao.near", time.Unix(0, 0).UTC())
	n, _ := ParseBigInt("5000000000000000")
	h.Transactions = append(h.Transactions, TransactionEntry{
		Block:             148439687,
		TransactionHashes: []string{"abc"},
		BalanceBefore:     Snapshot{IntentsTokens: map[string]BigInt{"nep141:eth.omft.near": {}}},
		BalanceAfter:      Snapshot{IntentsTokens: map[string]BigInt{"nep141:eth.omft.near": n}},
		Changes:           Changes{IntentsChanged: map[string]AssetDelta{"nep141:eth.omft.near": {Diff: n}}},
	})
	h.Metadata.TotalTransactions = 1

	if err := Save(path, h); err != nil {
		t.Fatal(err)
	}
	got, err := Load(path)
	if err != nil {
		t.Fatal(err)
	}
	if diff := cmp.Diff(h.AccountID, got.AccountID); diff != "" {
		t.Fatal(diff)
	}
	if len(got.Transactions) != 1 || got.Transactions[0].Block != 148439687 {
		t.Fatalf("got %+v", got.Transactions)
	}
}

func TestBigIntMarshalsAsDecimalString(t *testing.T) {
	n, _ := ParseBigInt("999999999999999999999999999")
	data, err := json.Marshal(n)
	if err != nil {
		t.Fatal(err)
	}
	if string(data) != `"999999999999999999999999999"` {
		t.Fatalf("got %s", data)
	}
}

func TestTransfersSentinelDistinguishesNotAttemptedFromEmpty(t *testing.T) {
	e := TransactionEntry{}
	if e.EnrichmentAttempted() {
		t.Fatal("zero value entry should report enrichment not attempted")
	}
	e.SetTransfers(nil)
	if !e.EnrichmentAttempted() {
		t.Fatal("after SetTransfers(nil), enrichment should be marked attempted")
	}
	if len(*e.Transfers) != 0 {
		t.Fatalf("expected empty slice sentinel, got %v", *e.Transfers)
	}

	data, err := json.Marshal(e)
	if err != nil {
		t.Fatal(err)
	}
	var roundTrip map[string]json.RawMessage
	if err := json.Unmarshal(data, &roundTrip); err != nil {
		t.Fatal(err)
	}
	if string(roundTrip["transfers"]) != "[]" {
		t.Fatalf("expected transfers to serialize as [], got %s", roundTrip["transfers"])
	}
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "does-not-exist.json"))
	if err == nil {
		t.Fatal("expected error for missing file")
	}
}
