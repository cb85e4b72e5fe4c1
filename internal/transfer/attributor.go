package transfer

import (
	"sort"

	"go.uber.org/zap"

	"github.com/petersalomonsen/near-ledger-reconciler/internal/chain"
)

// MaxTransactionBlockRetries bounds how many times the Attributor tries
// the out-of-band tx lookup for each transaction hash, spec.md §4.6
// ("bounded retries").
const MaxTransactionBlockRetries = 3

// TxLookup is the subset of chain.RPC the Attributor needs to resolve a
// transaction hash's submission block when receipt predecessor hints
// don't already carry it.
type TxLookup interface {
	LookupTransactionBlock(txHash string) (uint64, error)
}

// Attributor is the Transaction Attributor, C6.
type Attributor struct {
	lookup TxLookup
	logger *zap.Logger
}

// NewAttributor constructs an Attributor. lookup may be nil; the
// Attributor then always leaves TransactionBlock unresolved for later
// enrichment, per spec.md §4.6.
func NewAttributor(lookup TxLookup, logger *zap.Logger) *Attributor {
	return &Attributor{lookup: lookup, logger: logger}
}

// Result is C6's resolution for a single effect block.
type Result struct {
	TransactionHashes []string
	TransactionBlock  *uint64 // nil if unresolved; enrichment-pending per spec.md §3
}

// Attribute walks the receipt-chain of block, collecting the set of
// tx-hashes whose causal chain touched account, and resolves the
// earliest submission block among them.
func (a *Attributor) Attribute(block *chain.Block, account string) Result {
	hashSet := map[string]struct{}{}
	for _, shard := range block.Shards {
		for _, outcome := range shard.Outcomes {
			if outcome.TxHash == "" {
				continue
			}
			if outcome.Receiver == account || outcome.Predecessor == account || stateChangeTouches(outcome, account) {
				hashSet[outcome.TxHash] = struct{}{}
			}
		}
	}

	hashes := make([]string, 0, len(hashSet))
	for h := range hashSet {
		hashes = append(hashes, h)
	}
	sort.Strings(hashes)

	res := Result{TransactionHashes: hashes}
	if len(hashes) == 0 || a.lookup == nil {
		return res
	}

	var earliest *uint64
	for _, h := range hashes {
		for attempt := 1; attempt <= MaxTransactionBlockRetries; attempt++ {
			b, err := a.lookup.LookupTransactionBlock(h)
			if err != nil {
				if a.logger != nil {
					a.logger.Debug("attributor: transaction_block lookup failed",
						zap.String("tx_hash", h), zap.Int("attempt", attempt), zap.Error(err))
				}
				continue
			}
			if earliest == nil || b < *earliest {
				earliest = &b
			}
			break
		}
	}
	res.TransactionBlock = earliest
	return res
}

func stateChangeTouches(outcome chain.ExecutionOutcome, account string) bool {
	for _, sc := range outcome.StateChanges {
		if sc.Account == account {
			return true
		}
	}
	return false
}
