package transfer

import (
	"testing"

	"github.com/petersalomonsen/near-ledger-reconciler/internal/bignum"
	"github.com/petersalomonsen/near-ledger-reconciler/internal/chain"
)

func TestExtractNativeTransferIn(t *testing.T) {
	block := &chain.Block{
		Height: 100,
		Shards: []chain.Shard{{Outcomes: []chain.ExecutionOutcome{{
			ReceiptID:   "r1",
			TxHash:      "tx1",
			Predecessor: "alice.near",
			Receiver:    "bob.near",
			Actions:     []chain.Action{{Kind: chain.ActionTransfer, Deposit: bignum.MustParse("1000")}},
		}}}},
	}
	ex := NewExtractor(nil, nil)
	details := ex.ExtractTransfers(block, "bob.near")
	if len(details) != 1 {
		t.Fatalf("got %d details", len(details))
	}
	d := details[0]
	if d.Type != TypeNative || d.Direction != DirIn || bignum.String(d.Amount) != "1000" || d.Counterparty != "alice.near" {
		t.Fatalf("got %+v", d)
	}
}

func TestExtractGasRewardCredit(t *testing.T) {
	block := &chain.Block{Shards: []chain.Shard{{Outcomes: []chain.ExecutionOutcome{{
		Signer: "maledress6270.near",
		StateChanges: []chain.StateChange{{
			Account: "romakqatesting.sputnik-dao.near", Cause: chain.CauseActionReceiptGasReward,
			Delta: bignum.MustParse("500"), RewardedReceiptID: "Az63YBQFDTSbsHaFQ8vKGDFxqreG4Jby4qsU4PQ9P7v5",
		}},
	}}}}}
	ex := NewExtractor(nil, nil)
	details := ex.ExtractTransfers(block, "romakqatesting.sputnik-dao.near")
	if len(details) != 1 {
		t.Fatalf("got %d details", len(details))
	}
	d := details[0]
	if d.Type != TypeGasReward || d.Direction != DirIn || d.Counterparty != "maledress6270.near" ||
		d.ReceiptID != "Az63YBQFDTSbsHaFQ8vKGDFxqreG4Jby4qsU4PQ9P7v5" {
		t.Fatalf("got %+v", d)
	}
}

func TestExtractPlainTextFTLog(t *testing.T) {
	block := &chain.Block{Shards: []chain.Shard{{Outcomes: []chain.ExecutionOutcome{{
		Receiver:  "wrap.near",
		ReceiptID: "3pcD1HKN721MebbBE1CpjVkFenVjUR7ChDUWGKxf2tRa",
		Logs:      []string{"Transfer 200000000000000000000000 from intents.near to romakqatesting.sputnik-dao.near"},
	}}}}}
	ex := NewExtractor(nil, nil)
	details := ex.ExtractTransfers(block, "romakqatesting.sputnik-dao.near")
	if len(details) != 1 {
		t.Fatalf("got %d details: %+v", len(details), details)
	}
	d := details[0]
	if d.Type != TypeFT || d.Direction != DirIn || d.TokenID != "wrap.near" || d.Counterparty != "intents.near" ||
		bignum.String(d.Amount) != "200000000000000000000000" {
		t.Fatalf("got %+v", d)
	}
}

func TestExtractFTTransferEventJSON(t *testing.T) {
	log := `EVENT_JSON:{"standard":"nep141","version":"1.0.0","event":"ft_transfer","data":[{"old_owner_id":"alice.near","new_owner_id":"bob.near","amount":"100","memo":null}]}`
	block := &chain.Block{Shards: []chain.Shard{{Outcomes: []chain.ExecutionOutcome{{
		Receiver: "token.near",
		Logs:     []string{log},
	}}}}}
	ex := NewExtractor(nil, nil)
	details := ex.ExtractTransfers(block, "bob.near")
	if len(details) != 1 || details[0].Direction != DirIn || bignum.String(details[0].Amount) != "100" {
		t.Fatalf("got %+v", details)
	}
}

func TestExtractStakingDepositMemo(t *testing.T) {
	block := &chain.Block{Shards: []chain.Shard{{Outcomes: []chain.ExecutionOutcome{{
		Predecessor: "webassemblymusic-treasury.sputnik-dao.near",
		Receiver:    "astro-stakers.poolv1.near",
		Actions: []chain.Action{{
			Kind: chain.ActionFunctionCall, MethodName: MethodDepositAndStake,
			Deposit: bignum.MustParse("1000000000000000000000000000"),
		}},
	}}}}}
	ex := NewExtractor(nil, nil)
	details := ex.ExtractTransfers(block, "webassemblymusic-treasury.sputnik-dao.near")
	if len(details) != 1 {
		t.Fatalf("got %d details", len(details))
	}
	d := details[0]
	if d.Direction != DirOut || d.Memo != MethodDepositAndStake || d.Counterparty != "astro-stakers.poolv1.near" {
		t.Fatalf("got %+v", d)
	}
}

func TestParsePlainTextTransferRejectsMalformed(t *testing.T) {
	if _, _, _, ok := parsePlainTextTransfer("not a transfer log"); ok {
		t.Fatal("expected no match")
	}
}

func TestLooksLikePool(t *testing.T) {
	cases := map[string]bool{
		"astro-stakers.poolv1.near": true,
		"some.pool.near":            true,
		"regular-account.near":      false,
	}
	for acct, want := range cases {
		if got := LooksLikePool(acct); got != want {
			t.Fatalf("LooksLikePool(%q) = %v, want %v", acct, got, want)
		}
	}
}
