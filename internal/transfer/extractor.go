package transfer

import (
	"math/big"

	"go.uber.org/zap"

	"github.com/petersalomonsen/near-ledger-reconciler/internal/bignum"
	"github.com/petersalomonsen/near-ledger-reconciler/internal/chain"
)

// MaxLookaheadBlocks bounds the cross-block receipt-chain attribution
// window, spec.md §4.5 / §9 Open Questions ("set at three blocks
// empirically").
const MaxLookaheadBlocks = 3

// BlockFetcher is the subset of chain.RPC the extractor needs to probe
// forward blocks for cross-block receipt-chain correlation.
type BlockFetcher interface {
	FetchBlock(height uint64) (*chain.Block, error)
}

// Extractor is the Receipt Parser & Transfer Extractor, C5.
type Extractor struct {
	fetcher BlockFetcher
	logger  *zap.Logger
}

// NewExtractor constructs an Extractor. fetcher may be nil if the caller
// never needs cross-block lookahead (e.g. tests over a single block).
func NewExtractor(fetcher BlockFetcher, logger *zap.Logger) *Extractor {
	return &Extractor{fetcher: fetcher, logger: logger}
}

// ExtractTransfers enumerates every Detail attributable to account in
// block h, per spec.md §4.5. Ordering is (a) native actions by receipt
// order, (b) token-event logs by log order, (c) gas rewards last.
func (ex *Extractor) ExtractTransfers(block *chain.Block, account string) []Detail {
	var native, tokens, rewards []Detail

	for _, shard := range block.Shards {
		for _, outcome := range shard.Outcomes {
			native = append(native, ex.extractNative(block, outcome, account)...)
			tokens = append(tokens, ex.extractTokenLogs(outcome, account)...)
			rewards = append(rewards, ex.extractGasRewards(outcome, account)...)
		}
	}

	out := make([]Detail, 0, len(native)+len(tokens)+len(rewards))
	out = append(out, native...)
	out = append(out, tokens...)
	out = append(out, rewards...)
	return out
}

func (ex *Extractor) extractNative(block *chain.Block, outcome chain.ExecutionOutcome, account string) []Detail {
	var out []Detail
	for _, action := range outcome.Actions {
		switch action.Kind {
		case chain.ActionTransfer:
			if outcome.Receiver == account {
				out = append(out, Detail{
					Type: TypeNative, Direction: DirIn, Amount: orZero(action.Deposit),
					Counterparty: outcome.Predecessor, TxHash: outcome.TxHash, ReceiptID: outcome.ReceiptID,
				})
			} else if outcome.Predecessor == account {
				out = append(out, ex.resolveOutgoingTransfer(block, outcome, action)...)
			}
		case chain.ActionFunctionCall:
			if IsStakingMethod(action.MethodName) && (outcome.Receiver == account || outcome.Predecessor == account) && LooksLikePool(counterpartyFor(outcome, account)) {
				dir := DirOut
				if outcome.Receiver == account {
					dir = DirIn
				}
				out = append(out, Detail{
					Type: TypeNative, Direction: dir, Amount: orZero(action.Deposit),
					Counterparty: counterpartyFor(outcome, account), Memo: action.MethodName,
					TxHash: outcome.TxHash, ReceiptID: outcome.ReceiptID,
				})
			}
		}
	}
	return out
}

// resolveOutgoingTransfer implements spec.md §4.5's cross-block receipt
// chain handling: a debit created in block h whose corresponding receiver
// receipt executes in block h+1..h+MaxLookaheadBlocks. The counterparty
// is attributed back to the h entry's Detail.
func (ex *Extractor) resolveOutgoingTransfer(block *chain.Block, outcome chain.ExecutionOutcome, action chain.Action) []Detail {
	detail := Detail{
		Type: TypeNative, Direction: DirOut, Amount: orZero(action.Deposit),
		Counterparty: outcome.Receiver, TxHash: outcome.TxHash, ReceiptID: outcome.ReceiptID,
	}
	if len(outcome.SpawnedIDs) == 0 || ex.fetcher == nil {
		return []Detail{detail}
	}
	for _, spawned := range outcome.SpawnedIDs {
		for offset := uint64(1); offset <= MaxLookaheadBlocks; offset++ {
			next, err := ex.fetcher.FetchBlock(block.Height + offset)
			if err != nil {
				continue
			}
			if o, ok := findOutcomeByReceiptID(next, spawned); ok {
				detail.Counterparty = o.Receiver
				return []Detail{detail}
			}
		}
	}
	return []Detail{detail}
}

func findOutcomeByReceiptID(block *chain.Block, receiptID string) (chain.ExecutionOutcome, bool) {
	for _, shard := range block.Shards {
		for _, o := range shard.Outcomes {
			if o.ReceiptID == receiptID {
				return o, true
			}
		}
	}
	return chain.ExecutionOutcome{}, false
}

func (ex *Extractor) extractTokenLogs(outcome chain.ExecutionOutcome, account string) []Detail {
	var out []Detail
	for _, log := range outcome.Logs {
		if ev, ok := parseEventJSON(log); ok {
			out = append(out, ex.detailsFromEvent(ev, outcome, account)...)
			continue
		}
		if amount, from, to, ok := parsePlainTextTransfer(log); ok {
			if from != account && to != account {
				continue
			}
			dir := DirOut
			counterparty := to
			if to == account {
				dir = DirIn
				counterparty = from
			}
			out = append(out, Detail{
				Type: TypeFT, Direction: dir, Amount: amount, Counterparty: counterparty,
				TokenID: outcome.Receiver, TxHash: outcome.TxHash, ReceiptID: outcome.ReceiptID,
			})
		}
		// Parse failures are absorbed here: neither branch matched, the
		// log is simply skipped, spec.md §7.
	}
	return out
}

func (ex *Extractor) detailsFromEvent(ev parsedEvent, outcome chain.ExecutionOutcome, account string) []Detail {
	var out []Detail
	for _, d := range ev.ft {
		if d.OldOwnerID != account && d.NewOwnerID != account {
			continue
		}
		amount, err := bignum.Parse(d.Amount)
		if err != nil {
			continue
		}
		dir := DirOut
		counterparty := d.NewOwnerID
		if d.NewOwnerID == account {
			dir = DirIn
			counterparty = d.OldOwnerID
		}
		out = append(out, Detail{
			Type: TypeFT, Direction: dir, Amount: amount, Counterparty: counterparty,
			TokenID: outcome.Receiver, Memo: d.Memo, TxHash: outcome.TxHash, ReceiptID: outcome.ReceiptID,
		})
	}
	for _, d := range ev.mt {
		if d.OldOwnerID != account && d.NewOwnerID != account {
			continue
		}
		dir := DirOut
		counterparty := d.NewOwnerID
		if d.NewOwnerID == account {
			dir = DirIn
			counterparty = d.OldOwnerID
		}
		memo := mtMemoForEvent(ev.event, d.Memo)
		for i, tokenID := range d.TokenIDs {
			amountStr := "0"
			if i < len(d.Amounts) {
				amountStr = d.Amounts[i]
			}
			amount, err := bignum.Parse(amountStr)
			if err != nil {
				continue
			}
			out = append(out, Detail{
				Type: TypeMT, Direction: dir, Amount: amount, Counterparty: counterparty,
				TokenID: tokenID, Memo: memo, TxHash: outcome.TxHash, ReceiptID: outcome.ReceiptID,
			})
		}
	}
	return out
}

func (ex *Extractor) extractGasRewards(outcome chain.ExecutionOutcome, account string) []Detail {
	var out []Detail
	for _, sc := range outcome.StateChanges {
		if sc.Cause != chain.CauseActionReceiptGasReward || sc.Account != account {
			continue
		}
		out = append(out, Detail{
			Type: TypeGasReward, Direction: DirIn, Amount: bignum.Abs(sc.Delta),
			Counterparty: outcome.Signer, ReceiptID: sc.RewardedReceiptID,
		})
	}
	return out
}

func counterpartyFor(outcome chain.ExecutionOutcome, account string) string {
	if outcome.Receiver == account {
		return outcome.Predecessor
	}
	return outcome.Receiver
}

func orZero(n *big.Int) *big.Int {
	if n == nil {
		return bignum.Zero()
	}
	return n
}
