package reconcile

import (
	"sort"
	"time"

	"github.com/petersalomonsen/near-ledger-reconciler/internal/bignum"
	"github.com/petersalomonsen/near-ledger-reconciler/internal/ledger"
)

// FlattenRecords implements spec.md §4.8's "Per-token change records":
// one record per changed asset per block. Native uses token_id "near";
// FT keys are kept as-is; intents keys keep their full prefix; staking
// records use the pool id as both token_id and counterparty. Entries
// with no changes yield no records. This secondary form carries
// receipt_id (best-effort, from the first matching transfer detail) but
// not §6's signer_id/receiver_id/predecessor_id columns — those live
// only on the primary TransactionEntry/TransferDetail records this is
// flattened from.
func FlattenRecords(h *ledger.History) []ledger.TokenChangeRecord {
	var out []ledger.TokenChangeRecord
	for _, e := range h.Transactions {
		if !e.Changes.HasChanges() {
			continue
		}
		var ts *string
		if e.Timestamp != nil {
			s := time.Unix(0, *e.Timestamp).UTC().Format(time.RFC3339Nano)
			ts = &s
		}
		var txHash string
		if len(e.TransactionHashes) > 0 {
			txHash = e.TransactionHashes[0]
		}

		if e.Changes.NearChanged && e.Changes.NearDiff != nil {
			receiptID := receiptIDFor(e, func(t ledger.TransferDetail) bool { return t.Type == "native" && t.TokenID == "" })
			out = append(out, tokenRecord(e, ts, txHash, receiptID, "near", "", *e.Changes.NearDiff,
				asBigIntOr(e.BalanceBefore.Native), asBigIntOr(e.BalanceAfter.Native)))
		}
		for id, d := range e.Changes.TokensChanged {
			receiptID := receiptIDFor(e, func(t ledger.TransferDetail) bool { return t.TokenID == id })
			out = append(out, tokenRecord(e, ts, txHash, receiptID, id, "", d.Diff, e.BalanceBefore.FungibleTokens[id], e.BalanceAfter.FungibleTokens[id]))
		}
		for id, d := range e.Changes.IntentsChanged {
			receiptID := receiptIDFor(e, func(t ledger.TransferDetail) bool { return t.TokenID == id })
			out = append(out, tokenRecord(e, ts, txHash, receiptID, id, "", d.Diff, e.BalanceBefore.IntentsTokens[id], e.BalanceAfter.IntentsTokens[id]))
		}
		for pool, d := range e.Changes.StakingChanged {
			receiptID := receiptIDFor(e, func(t ledger.TransferDetail) bool { return t.Counterparty == pool })
			out = append(out, tokenRecord(e, ts, txHash, receiptID, pool, pool, d.Diff, e.BalanceBefore.StakingPools[pool], e.BalanceAfter.StakingPools[pool]))
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].BlockHeight != out[j].BlockHeight {
			return out[i].BlockHeight < out[j].BlockHeight
		}
		return out[i].TokenID < out[j].TokenID
	})
	return out
}

func tokenRecord(e ledger.TransactionEntry, ts *string, txHash, receiptID, tokenID, counterparty string, amount ledger.BigInt, before, after ledger.BigInt) ledger.TokenChangeRecord {
	return ledger.TokenChangeRecord{
		BlockHeight:    e.Block,
		BlockTimestamp: ts,
		TxHash:         txHash,
		TxBlock:        e.TransactionBlock,
		TokenID:        tokenID,
		ReceiptID:      receiptID,
		Counterparty:   counterparty,
		Amount:         amount,
		BalanceBefore:  before,
		BalanceAfter:   after,
	}
}

// receiptIDFor returns the receipt id of the first transfer in e matching
// match, or "" when none matches or enrichment was never attempted — the
// secondary flattened form is best-effort here, unlike the primary
// transactionHashes field it's derived from.
func receiptIDFor(e ledger.TransactionEntry, match func(ledger.TransferDetail) bool) string {
	if e.Transfers == nil {
		return ""
	}
	for _, t := range *e.Transfers {
		if match(t) {
			return t.ReceiptID
		}
	}
	return ""
}

func asBigIntOr(n *ledger.BigInt) ledger.BigInt {
	if n == nil {
		return ledger.NewBigInt(bignum.Zero())
	}
	return *n
}

// Verify implements spec.md §4.8's "Token-gap detection": given a
// chronologically-sorted record list, group by token and report every
// adjacent pair whose balances don't connect.
func Verify(records []ledger.TokenChangeRecord) []ledger.GapReport {
	byToken := map[string][]ledger.TokenChangeRecord{}
	for _, r := range records {
		byToken[r.TokenID] = append(byToken[r.TokenID], r)
	}

	var reports []ledger.GapReport
	for _, token := range sortedTokenIDs(byToken) {
		recs := byToken[token]
		sort.Slice(recs, func(i, j int) bool { return recs[i].BlockHeight < recs[j].BlockHeight })
		for i := 0; i+1 < len(recs); i++ {
			if !bignum.Equal(recs[i].BalanceAfter.Int, recs[i+1].BalanceBefore.Int) {
				reports = append(reports, ledger.GapReport{
					TokenID:         token,
					FromBlock:       recs[i].BlockHeight,
					ToBlock:         recs[i+1].BlockHeight,
					ExpectedBalance: recs[i].BalanceAfter,
					ActualBalance:   recs[i+1].BalanceBefore,
					Diff:            ledger.NewBigInt(bignum.Sub(recs[i+1].BalanceBefore.Int, recs[i].BalanceAfter.Int)),
				})
			}
		}
	}
	return reports
}

func sortedTokenIDs(m map[string][]ledger.TokenChangeRecord) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}
